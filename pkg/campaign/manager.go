package campaign

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/log"
)

var ErrAlreadyRunning = errors.New("campaign is already running")

type run struct {
	stop *atomic.Bool
	done chan struct{}
}

// Manager owns one dispatch goroutine per running campaign and the stop
// flags that pause them.
type Manager struct {
	dispatcher *Dispatcher

	mu   sync.Mutex
	runs map[string]*run
}

func NewManager(dispatcher *Dispatcher) *Manager {
	return &Manager{
		dispatcher: dispatcher,
		runs:       make(map[string]*run),
	}
}

// Start launches a dispatch run in the background. Configuration problems
// are reported synchronously; once the goroutine is off, failures are
// logged and reflected in campaign status.
func (m *Manager) Start(ctx context.Context, campaignID string, opts Options) error {
	if err := m.dispatcher.Validate(ctx, campaignID, opts); err != nil {
		return err
	}

	m.mu.Lock()
	if m.runs[campaignID] != nil {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	r := &run{stop: &atomic.Bool{}, done: make(chan struct{})}
	m.runs[campaignID] = r
	m.mu.Unlock()

	opts.Stop = r.stop

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.runs, campaignID)
			m.mu.Unlock()
			close(r.done)
		}()
		if err := m.dispatcher.Run(ctx, campaignID, opts); err != nil {
			log.CampaignOp(campaignID, "run").WithError(err).Error("dispatch run ended with error")
		}
	}()
	return nil
}

// Pause flips the stop flag and waits for the run goroutine to park the
// campaign. Pausing a campaign that is not running is a no-op.
func (m *Manager) Pause(campaignID string) {
	m.mu.Lock()
	r := m.runs[campaignID]
	m.mu.Unlock()
	if r == nil {
		return
	}
	r.stop.Store(true)
	<-r.done
}

func (m *Manager) Running(campaignID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[campaignID] != nil
}

func (m *Manager) RunningIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.runs))
	for id := range m.runs {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown pauses every running campaign and waits for the goroutines.
func (m *Manager) Shutdown() {
	for _, id := range m.RunningIDs() {
		m.Pause(id)
	}
}
