package campaign

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/store"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/transport"
)

// memStore implements the store slices the engine depends on, backed by
// plain maps, so engine behavior can be tested without postgres.
type memStore struct {
	mu        sync.Mutex
	campaigns map[string]*store.Campaign
	contacts  map[string]*store.Contact
	groups    map[string][]store.Contact
	blacklist map[string]bool
	jobs      []*store.SendJob
	history   []store.HistoryEntry
	nextJobID int
}

func newMemStore() *memStore {
	return &memStore{
		campaigns: make(map[string]*store.Campaign),
		contacts:  make(map[string]*store.Contact),
		groups:    make(map[string][]store.Contact),
		blacklist: make(map[string]bool),
	}
}

func (m *memStore) GetCampaign(_ context.Context, id string) (*store.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.campaigns[id]
	if c == nil {
		return nil, store.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (m *memStore) GetContact(_ context.Context, id string) (*store.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.contacts[id]
	if c == nil {
		return nil, store.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (m *memStore) GroupContacts(_ context.Context, groupID string) ([]store.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Contact(nil), m.groups[groupID]...), nil
}

func (m *memStore) BlacklistedPhones(_ context.Context, phones []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool)
	for _, p := range phones {
		if m.blacklist[p] {
			out[p] = true
		}
	}
	return out, nil
}

func (m *memStore) CreateSendJobs(_ context.Context, jobs []store.SendJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range jobs {
		job := jobs[i]
		m.nextJobID++
		if job.ID == "" {
			job.ID = fmt.Sprintf("job-%d", m.nextJobID)
		}
		if job.Status == "" {
			job.Status = store.JobPending
		}
		if job.MaxAttempts == 0 {
			job.MaxAttempts = 3
		}
		job.CreatedAt = time.Now()
		m.jobs = append(m.jobs, &job)
	}
	return nil
}

func (m *memStore) SetCampaignScheduled(_ context.Context, id string, totalRecipients int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.campaigns[id]
	if c == nil {
		return store.ErrNotFound
	}
	c.Status = store.CampaignScheduled
	c.TotalRecipients = totalRecipients
	return nil
}

func (m *memStore) UpdateCampaignStatus(_ context.Context, id string, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.campaigns[id]
	if c == nil {
		return store.ErrNotFound
	}
	c.Status = status
	now := time.Now()
	if status == store.CampaignRunning && c.StartedAt == nil {
		c.StartedAt = &now
	}
	if status == store.CampaignCompleted {
		c.CompletedAt = &now
	}
	return nil
}

func (m *memStore) RefreshCampaignCounters(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.campaigns[id]
	if c == nil {
		return store.ErrNotFound
	}
	c.SentCount, c.FailedCount = 0, 0
	for _, job := range m.jobs {
		if job.CampaignID != id {
			continue
		}
		switch job.Status {
		case store.JobSent:
			c.SentCount++
		case store.JobFailed:
			c.FailedCount++
		}
	}
	return nil
}

func (m *memStore) ListJobs(_ context.Context, campaignID string, status string) ([]store.SendJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.SendJob
	for _, job := range m.jobs {
		if job.CampaignID != campaignID {
			continue
		}
		if status != "" && job.Status != status {
			continue
		}
		out = append(out, *job)
	}
	return out, nil
}

func (m *memStore) UpdateJobStatus(_ context.Context, id string, status string, attempts int, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.ID != id {
			continue
		}
		job.Status = status
		job.Attempts = attempts
		job.LastError = lastError
		if status == store.JobSent && job.SentAt == nil {
			now := time.Now()
			job.SentAt = &now
		}
		return nil
	}
	return store.ErrNotFound
}

func (m *memStore) CountJobsByStatus(_ context.Context, campaignID string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, job := range m.jobs {
		if job.CampaignID == campaignID {
			counts[job.Status]++
		}
	}
	return counts, nil
}

func (m *memStore) GroupJobErrors(_ context.Context, campaignID string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	grouped := make(map[string]int)
	for _, job := range m.jobs {
		if job.CampaignID == campaignID && job.Status == store.JobFailed && job.LastError != "" {
			grouped[job.LastError]++
		}
	}
	return grouped, nil
}

func (m *memStore) AppendHistory(_ context.Context, entry *store.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.SentAt = time.Now()
	m.history = append(m.history, *entry)
	return nil
}

func (m *memStore) jobByID(id string) *store.SendJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.ID == id {
			copied := *job
			return &copied
		}
	}
	return nil
}

func (m *memStore) campaignJobs(campaignID string) []store.SendJob {
	out, _ := m.ListJobs(context.Background(), campaignID, "")
	return out
}

type sentCall struct {
	session string
	msg     transport.Message
}

// scriptedAdapter records every send and plays back scripted errors.
type scriptedAdapter struct {
	mu     sync.Mutex
	name   string
	errs   []error
	calls  []sentCall
	onSend func(call int)
}

func (a *scriptedAdapter) Name() string {
	if a.name == "" {
		return store.ChannelHostedAPI
	}
	return a.name
}

func (a *scriptedAdapter) Send(_ context.Context, session string, msg transport.Message) (transport.Receipt, error) {
	a.mu.Lock()
	call := len(a.calls)
	a.calls = append(a.calls, sentCall{session: session, msg: msg})
	var err error
	if len(a.errs) > 0 {
		err = a.errs[0]
		a.errs = a.errs[1:]
	}
	hook := a.onSend
	a.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if err != nil {
		return transport.Receipt{}, err
	}
	return transport.Receipt{MessageID: fmt.Sprintf("MSG-%d", call), Channel: a.Name(), SentAt: time.Now()}, nil
}

func (a *scriptedAdapter) sent() []sentCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]sentCall(nil), a.calls...)
}
