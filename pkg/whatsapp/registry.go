package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/log"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/store"
)

const (
	// DefaultSession always exists and cannot be deleted.
	DefaultSession = "default"

	MaxSessions = 5

	connectAttempts = 3
	attemptTimeout  = 60 * time.Second
)

var (
	backoffStep   = 2 * time.Second
	teardownGrace = 500 * time.Millisecond
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExists      = errors.New("session already exists")
	ErrSessionLimit       = fmt.Errorf("session limit of %d reached", MaxSessions)
	ErrProtectedSession   = errors.New("the default session cannot be deleted")
	ErrNotConnected       = errors.New("session is not connected")
	ErrEngineUnavailable  = errors.New("whatsapp engine is not configured")
	ErrInvalidSessionName = errors.New("session name must be 1-32 lowercase letters, digits, hyphens or underscores")
)

var sessionNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// statusStore is the slice of the persistence layer the registry needs.
// *store.Store satisfies it; tests use an in-memory fake.
type statusStore interface {
	UpsertSessionStatus(ctx context.Context, name string, status string, qrCode string, phoneNumber string) error
	SetSessionDevice(ctx context.Context, name string, deviceJID string) error
	GetSession(ctx context.Context, name string) (*store.Session, error)
	ListSessions(ctx context.Context) ([]store.Session, error)
	CountSessions(ctx context.Context) (int, error)
	DeleteSession(ctx context.Context, name string) error
}

// SessionState is the merged live-plus-persisted view handed to callers.
type SessionState struct {
	Name            string     `json:"name"`
	Status          string     `json:"status"`
	QRCode          string     `json:"qr_code,omitempty"`
	QRTimeout       int        `json:"qr_timeout_seconds,omitempty"`
	PhoneNumber     string     `json:"phone_number,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	LastConnectedAt *time.Time `json:"last_connected_at,omitempty"`
}

type liveSession struct {
	name       string
	client     Client
	status     string
	qrCode     string
	qrTimeout  int
	phone      string
	lastError  string
	connecting bool
}

// Registry owns the live WhatsApp connections, one per named session, and
// mirrors every state transition into the store so status survives restarts.
type Registry struct {
	store     statusStore
	newClient ClientFactory

	mu       sync.RWMutex
	sessions map[string]*liveSession
}

func NewRegistry(st statusStore, factory ClientFactory) *Registry {
	return &Registry{
		store:     st,
		newClient: factory,
		sessions:  make(map[string]*liveSession),
	}
}

// EnsureDefault creates the protected default session row if it is missing.
func (r *Registry) EnsureDefault(ctx context.Context) error {
	_, err := r.store.GetSession(ctx, DefaultSession)
	if errors.Is(err, store.ErrNotFound) {
		return r.store.UpsertSessionStatus(ctx, DefaultSession, store.SessionDisconnected, "", "")
	}
	return err
}

func (r *Registry) Create(ctx context.Context, name string) (*SessionState, error) {
	if !sessionNamePattern.MatchString(name) {
		return nil, ErrInvalidSessionName
	}

	if _, err := r.store.GetSession(ctx, name); err == nil {
		return nil, ErrSessionExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	count, err := r.store.CountSessions(ctx)
	if err != nil {
		return nil, err
	}
	if count >= MaxSessions {
		return nil, ErrSessionLimit
	}

	if err := r.store.UpsertSessionStatus(ctx, name, store.SessionDisconnected, "", ""); err != nil {
		return nil, err
	}

	log.SessionOp(name, "create").Info("session registered")
	return &SessionState{Name: name, Status: store.SessionDisconnected}, nil
}

// Connect brings a session online. Calling it on a session that is already
// connected, or mid-connect, is a no-op returning the current state.
func (r *Registry) Connect(ctx context.Context, name string) (*SessionState, error) {
	persisted, err := r.store.GetSession(ctx, name)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	live := r.sessions[name]
	if live != nil {
		if live.connecting {
			state := live.state()
			r.mu.Unlock()
			return &state, nil
		}
		if live.client != nil && live.client.IsConnected() && live.client.IsLoggedIn() {
			state := live.state()
			r.mu.Unlock()
			return &state, nil
		}
	} else {
		live = &liveSession{name: name}
		r.sessions[name] = live
	}
	live.connecting = true
	live.lastError = ""
	stale := live.client
	live.client = nil
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		live.connecting = false
		r.mu.Unlock()
	}()

	if r.newClient == nil {
		r.failConnect(ctx, live, ErrEngineUnavailable)
		return nil, ErrEngineUnavailable
	}

	// tear down any half-open connection before dialing again
	if stale != nil {
		stale.Disconnect()
		time.Sleep(teardownGrace)
	}

	r.setStatus(ctx, live, store.SessionConnecting, "", "")

	var lastErr error
	for attempt := 0; attempt < connectAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * backoffStep
			log.SessionOp(name, "connect").WithField("attempt", attempt+1).
				Warnf("retrying in %s: %v", backoff, lastErr)
			select {
			case <-ctx.Done():
				r.failConnect(ctx, live, ctx.Err())
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = r.connectOnce(ctx, live, persisted.DeviceJID)
		if lastErr == nil {
			state := r.snapshot(live)
			return &state, nil
		}
		if errors.Is(lastErr, ErrEngineUnavailable) {
			break
		}
	}

	r.failConnect(ctx, live, lastErr)
	return nil, fmt.Errorf("connecting session %s: %w", name, lastErr)
}

func (r *Registry) connectOnce(ctx context.Context, live *liveSession, deviceJID string) error {
	attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	client, err := r.newClient(attemptCtx, live.name, deviceJID, r.statusHandler(live.name))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}

	onQR := func(png string, timeoutSeconds int) {
		r.mu.Lock()
		live.status = store.SessionQRPending
		live.qrCode = png
		live.qrTimeout = timeoutSeconds
		r.mu.Unlock()
		if err := r.store.UpsertSessionStatus(ctx, live.name, store.SessionQRPending, png, ""); err != nil {
			log.SessionOp(live.name, "connect").WithError(err).Error("failed to persist qr code")
		}
	}

	if err := client.Connect(attemptCtx, onQR); err != nil {
		client.Disconnect()
		return err
	}

	phone := client.PairedPhone()
	r.setStatus(ctx, live, store.SessionAuthenticated, "", phone)

	r.mu.Lock()
	live.client = client
	r.mu.Unlock()

	if jid := client.DeviceJID(); jid != "" {
		if err := r.store.SetSessionDevice(ctx, live.name, jid); err != nil {
			log.SessionOp(live.name, "connect").WithError(err).Error("failed to persist device binding")
		}
	}

	r.setStatus(ctx, live, store.SessionConnected, "", phone)
	log.SessionOp(live.name, "connect").WithField("phone", phone).Info("session connected")
	return nil
}

// statusHandler keeps persisted state in step with connection events that
// occur after the initial Connect returns.
func (r *Registry) statusHandler(name string) StatusHandler {
	return func(evt StatusEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		r.mu.Lock()
		live := r.sessions[name]
		if live == nil || live.connecting {
			r.mu.Unlock()
			return
		}
		live.status = evt.Status
		if evt.Phone != "" {
			live.phone = evt.Phone
		}
		if evt.LoggedOut {
			live.client = nil
			live.phone = ""
		}
		phone := live.phone
		r.mu.Unlock()

		if err := r.store.UpsertSessionStatus(ctx, name, evt.Status, "", phone); err != nil {
			log.SessionOp(name, "event").WithError(err).Error("failed to persist status change")
		}
		if evt.LoggedOut {
			if err := r.store.SetSessionDevice(ctx, name, ""); err != nil && !errors.Is(err, store.ErrNotFound) {
				log.SessionOp(name, "event").WithError(err).Error("failed to clear device binding")
			}
			log.SessionOp(name, "event").Warn("session logged out remotely")
		}
	}
}

func (r *Registry) Status(ctx context.Context, name string) (*SessionState, error) {
	r.mu.RLock()
	live := r.sessions[name]
	var state SessionState
	if live != nil {
		state = live.state()
	}
	r.mu.RUnlock()

	persisted, err := r.store.GetSession(ctx, name)
	if err != nil {
		return nil, err
	}

	if live == nil {
		state := persistedState(persisted)
		return &state, nil
	}
	state.LastConnectedAt = persisted.LastConnectedAt
	return &state, nil
}

// persistedState turns a stored row into a status view. Without a live
// client the row is only a hint: any status implying an active connection
// is reported as disconnected, and a stale QR code is never handed out.
func persistedState(p *store.Session) SessionState {
	return SessionState{
		Name:            p.Name,
		Status:          store.SessionDisconnected,
		PhoneNumber:     p.PhoneNumber,
		LastConnectedAt: p.LastConnectedAt,
	}
}

func (r *Registry) List(ctx context.Context) ([]SessionState, error) {
	persisted, err := r.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make([]SessionState, 0, len(persisted))
	for _, p := range persisted {
		if live := r.sessions[p.Name]; live != nil {
			state := live.state()
			state.LastConnectedAt = p.LastConnectedAt
			states = append(states, state)
			continue
		}
		states = append(states, persistedState(&p))
	}
	return states, nil
}

// Disconnect takes a session offline but keeps its pairing.
func (r *Registry) Disconnect(ctx context.Context, name string) error {
	if _, err := r.store.GetSession(ctx, name); err != nil {
		return err
	}

	r.mu.Lock()
	live := r.sessions[name]
	var client Client
	if live != nil {
		client = live.client
		live.client = nil
		live.status = store.SessionDisconnected
		live.qrCode = ""
	}
	r.mu.Unlock()

	if client != nil {
		client.Disconnect()
	}

	log.SessionOp(name, "disconnect").Info("session disconnected")
	return r.store.UpsertSessionStatus(ctx, name, store.SessionDisconnected, "", "")
}

// Logout unpairs the device and takes the session offline.
func (r *Registry) Logout(ctx context.Context, name string) error {
	if _, err := r.store.GetSession(ctx, name); err != nil {
		return err
	}

	r.mu.Lock()
	live := r.sessions[name]
	var client Client
	if live != nil {
		client = live.client
		live.client = nil
		live.status = store.SessionDisconnected
		live.qrCode = ""
		live.phone = ""
	}
	r.mu.Unlock()

	if client != nil {
		if err := client.Logout(ctx); err != nil {
			log.SessionOp(name, "logout").WithError(err).Warn("logout request failed, dropping local pairing")
		}
	}

	if err := r.store.SetSessionDevice(ctx, name, ""); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	log.SessionOp(name, "logout").Info("session logged out")
	return r.store.UpsertSessionStatus(ctx, name, store.SessionDisconnected, "", "")
}

func (r *Registry) Delete(ctx context.Context, name string) error {
	if name == DefaultSession {
		return ErrProtectedSession
	}

	if err := r.Logout(ctx, name); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	r.mu.Lock()
	delete(r.sessions, name)
	r.mu.Unlock()

	log.SessionOp(name, "delete").Info("session deleted")
	return r.store.DeleteSession(ctx, name)
}

// QR returns the current pairing code for a session waiting to be scanned.
func (r *Registry) QR(ctx context.Context, name string) (*SessionState, error) {
	state, err := r.Status(ctx, name)
	if err != nil {
		return nil, err
	}
	if state.Status != store.SessionQRPending || state.QRCode == "" {
		return nil, fmt.Errorf("session %s has no pending qr code", name)
	}
	return state, nil
}

// Client hands the live client to the transport layer.
func (r *Registry) Client(name string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	live := r.sessions[name]
	if live == nil || live.client == nil {
		return nil, ErrNotConnected
	}
	if !live.client.IsConnected() || !live.client.IsLoggedIn() {
		return nil, ErrNotConnected
	}
	return live.client, nil
}

// Connected reports the names of all sessions currently usable for sending.
func (r *Registry) Connected() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, live := range r.sessions {
		if live.client != nil && live.client.IsConnected() && live.client.IsLoggedIn() {
			names = append(names, name)
		}
	}
	return names
}

// Shutdown disconnects every live session without unpairing.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	clients := make(map[string]Client, len(r.sessions))
	for name, live := range r.sessions {
		if live.client != nil {
			clients[name] = live.client
			live.client = nil
			live.status = store.SessionDisconnected
		}
	}
	r.mu.Unlock()

	for name, client := range clients {
		client.Disconnect()
		if err := r.store.UpsertSessionStatus(ctx, name, store.SessionDisconnected, "", ""); err != nil {
			log.SessionOp(name, "shutdown").WithError(err).Error("failed to persist disconnect")
		}
	}
	log.Print(nil).Info("whatsapp registry shut down")
}

func (r *Registry) setStatus(ctx context.Context, live *liveSession, status string, qr string, phone string) {
	r.mu.Lock()
	live.status = status
	live.qrCode = qr
	if phone != "" {
		live.phone = phone
	}
	r.mu.Unlock()
	if err := r.store.UpsertSessionStatus(ctx, live.name, status, qr, phone); err != nil {
		log.SessionOp(live.name, "status").WithError(err).Error("failed to persist session status")
	}
}

func (r *Registry) failConnect(ctx context.Context, live *liveSession, cause error) {
	r.mu.Lock()
	live.status = store.SessionDisconnected
	live.qrCode = ""
	if cause != nil {
		live.lastError = cause.Error()
	}
	r.mu.Unlock()
	if err := r.store.UpsertSessionStatus(ctx, live.name, store.SessionDisconnected, "", ""); err != nil {
		log.SessionOp(live.name, "connect").WithError(err).Error("failed to persist failed connect")
	}
}

func (r *Registry) snapshot(live *liveSession) SessionState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return live.state()
}

// state must be called with the registry lock held.
func (l *liveSession) state() SessionState {
	status := l.status
	if status == "" {
		status = store.SessionDisconnected
	}
	return SessionState{
		Name:        l.name,
		Status:      status,
		QRCode:      l.qrCode,
		QRTimeout:   l.qrTimeout,
		PhoneNumber: l.phone,
		LastError:   l.lastError,
	}
}
