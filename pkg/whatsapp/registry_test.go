package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/store"
)

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*store.Session
	statuses map[string][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[string]*store.Session),
		statuses: make(map[string][]string),
	}
}

func (f *fakeStore) UpsertSessionStatus(_ context.Context, name, status, qrCode, phoneNumber string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess := f.sessions[name]
	if sess == nil {
		sess = &store.Session{Name: name, CreatedAt: time.Now()}
		f.sessions[name] = sess
	}
	sess.Status = status
	sess.QRCode = qrCode
	sess.PhoneNumber = phoneNumber
	f.statuses[name] = append(f.statuses[name], status)
	return nil
}

func (f *fakeStore) SetSessionDevice(_ context.Context, name, deviceJID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess := f.sessions[name]
	if sess == nil {
		return store.ErrNotFound
	}
	sess.DeviceJID = deviceJID
	return nil
}

func (f *fakeStore) GetSession(_ context.Context, name string) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess := f.sessions[name]
	if sess == nil {
		return nil, store.ErrNotFound
	}
	copied := *sess
	return &copied, nil
}

func (f *fakeStore) ListSessions(_ context.Context) ([]store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Session
	for _, sess := range f.sessions {
		out = append(out, *sess)
	}
	return out, nil
}

func (f *fakeStore) CountSessions(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions), nil
}

func (f *fakeStore) DeleteSession(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessions[name] == nil {
		return store.ErrNotFound
	}
	delete(f.sessions, name)
	return nil
}

func (f *fakeStore) statusHistory(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.statuses[name]...)
}

type fakeClient struct {
	mu           sync.Mutex
	failuresLeft int
	emitQR       bool
	phone        string
	jid          string
	connected    bool
	connectCalls int
	logoutCalls  int
}

func (f *fakeClient) Connect(_ context.Context, onQR QRHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if f.emitQR && onQR != nil {
		onQR("data:image/png;base64,dGVzdA==", 20)
	}
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return errors.New("websocket dial failed")
	}
	f.connected = true
	return nil
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) IsLoggedIn() bool { return f.IsConnected() }

func (f *fakeClient) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls++
	f.connected = false
	return nil
}

func (f *fakeClient) PairedPhone() string { return f.phone }
func (f *fakeClient) DeviceJID() string   { return f.jid }

func (f *fakeClient) SendText(context.Context, string, string) (string, error) {
	return "MSG1", nil
}

func (f *fakeClient) SendImage(context.Context, string, []byte, string, string) (string, error) {
	return "MSG2", nil
}

func (f *fakeClient) SendDocument(context.Context, string, []byte, string, string) (string, error) {
	return "MSG3", nil
}

func fixedFactory(client *fakeClient) (ClientFactory, *int) {
	builds := 0
	factory := func(context.Context, string, string, StatusHandler) (Client, error) {
		builds++
		return client, nil
	}
	return factory, &builds
}

func fastBackoff(t *testing.T) {
	t.Helper()
	prevBackoff, prevGrace := backoffStep, teardownGrace
	backoffStep = time.Millisecond
	teardownGrace = 0
	t.Cleanup(func() {
		backoffStep = prevBackoff
		teardownGrace = prevGrace
	})
}

func TestConnectRetriesTransientFailures(t *testing.T) {
	fastBackoff(t)
	fs := newFakeStore()
	client := &fakeClient{failuresLeft: 2, phone: "905321112233", jid: "905321112233.0:1@s.whatsapp.net"}
	factory, _ := fixedFactory(client)
	reg := NewRegistry(fs, factory)

	_, err := reg.Create(context.Background(), "ops")
	require.NoError(t, err)

	state, err := reg.Connect(context.Background(), "ops")
	require.NoError(t, err)
	assert.Equal(t, store.SessionConnected, state.Status)
	assert.Equal(t, "905321112233", state.PhoneNumber)
	assert.Equal(t, 3, client.connectCalls)

	persisted, err := fs.GetSession(context.Background(), "ops")
	require.NoError(t, err)
	assert.Equal(t, store.SessionConnected, persisted.Status)
	assert.Equal(t, "905321112233.0:1@s.whatsapp.net", persisted.DeviceJID)
}

func TestConnectGivesUpAfterThreeAttempts(t *testing.T) {
	fastBackoff(t)
	fs := newFakeStore()
	client := &fakeClient{failuresLeft: 10}
	factory, _ := fixedFactory(client)
	reg := NewRegistry(fs, factory)

	_, err := reg.Create(context.Background(), "ops")
	require.NoError(t, err)

	_, err = reg.Connect(context.Background(), "ops")
	require.Error(t, err)
	assert.Equal(t, 3, client.connectCalls)

	persisted, _ := fs.GetSession(context.Background(), "ops")
	assert.Equal(t, store.SessionDisconnected, persisted.Status)
}

func TestConnectIsIdempotentWhenConnected(t *testing.T) {
	fastBackoff(t)
	fs := newFakeStore()
	client := &fakeClient{}
	factory, builds := fixedFactory(client)
	reg := NewRegistry(fs, factory)

	_, err := reg.Create(context.Background(), "ops")
	require.NoError(t, err)

	_, err = reg.Connect(context.Background(), "ops")
	require.NoError(t, err)
	state, err := reg.Connect(context.Background(), "ops")
	require.NoError(t, err)

	assert.Equal(t, store.SessionConnected, state.Status)
	assert.Equal(t, 1, *builds, "a connected session must not be rebuilt")
	assert.Equal(t, 1, client.connectCalls)
}

func TestConnectWithoutEngine(t *testing.T) {
	fs := newFakeStore()
	reg := NewRegistry(fs, nil)

	_, err := reg.Create(context.Background(), "ops")
	require.NoError(t, err)

	_, err = reg.Connect(context.Background(), "ops")
	assert.ErrorIs(t, err, ErrEngineUnavailable)

	persisted, _ := fs.GetSession(context.Background(), "ops")
	assert.Equal(t, store.SessionDisconnected, persisted.Status)
}

func TestConnectSurfacesQRState(t *testing.T) {
	fastBackoff(t)
	fs := newFakeStore()
	client := &fakeClient{emitQR: true, phone: "905321112233"}
	factory, _ := fixedFactory(client)
	reg := NewRegistry(fs, factory)

	_, err := reg.Create(context.Background(), "ops")
	require.NoError(t, err)

	_, err = reg.Connect(context.Background(), "ops")
	require.NoError(t, err)

	history := fs.statusHistory("ops")
	assert.Contains(t, history, store.SessionQRPending)
	assert.Contains(t, history, store.SessionAuthenticated)
	assert.Equal(t, store.SessionConnected, history[len(history)-1])
}

func TestSessionLimit(t *testing.T) {
	fs := newFakeStore()
	reg := NewRegistry(fs, nil)

	for i := 0; i < MaxSessions; i++ {
		_, err := reg.Create(context.Background(), fmt.Sprintf("sess-%d", i))
		require.NoError(t, err)
	}

	_, err := reg.Create(context.Background(), "one-too-many")
	assert.ErrorIs(t, err, ErrSessionLimit)
}

func TestCreateValidation(t *testing.T) {
	fs := newFakeStore()
	reg := NewRegistry(fs, nil)

	_, err := reg.Create(context.Background(), "Not Valid!")
	assert.ErrorIs(t, err, ErrInvalidSessionName)

	_, err = reg.Create(context.Background(), "ops")
	require.NoError(t, err)
	_, err = reg.Create(context.Background(), "ops")
	assert.ErrorIs(t, err, ErrSessionExists)
}

func TestDeleteProtectsDefault(t *testing.T) {
	fs := newFakeStore()
	reg := NewRegistry(fs, nil)
	require.NoError(t, reg.EnsureDefault(context.Background()))

	err := reg.Delete(context.Background(), DefaultSession)
	assert.ErrorIs(t, err, ErrProtectedSession)

	_, err = fs.GetSession(context.Background(), DefaultSession)
	assert.NoError(t, err)
}

func TestDisconnectKeepsPairingLogoutDropsIt(t *testing.T) {
	fastBackoff(t)
	fs := newFakeStore()
	client := &fakeClient{jid: "905321112233.0:1@s.whatsapp.net"}
	factory, _ := fixedFactory(client)
	reg := NewRegistry(fs, factory)

	_, err := reg.Create(context.Background(), "ops")
	require.NoError(t, err)
	_, err = reg.Connect(context.Background(), "ops")
	require.NoError(t, err)

	require.NoError(t, reg.Disconnect(context.Background(), "ops"))
	persisted, _ := fs.GetSession(context.Background(), "ops")
	assert.Equal(t, store.SessionDisconnected, persisted.Status)
	assert.NotEmpty(t, persisted.DeviceJID, "disconnect must keep the pairing")

	_, err = reg.Connect(context.Background(), "ops")
	require.NoError(t, err)
	require.NoError(t, reg.Logout(context.Background(), "ops"))
	persisted, _ = fs.GetSession(context.Background(), "ops")
	assert.Empty(t, persisted.DeviceJID, "logout must drop the pairing")
	assert.Equal(t, 1, client.logoutCalls)
}

func TestStatusWithoutLiveClientNeverReportsConnected(t *testing.T) {
	// a row left behind by a crash still says connected, but nothing is
	// actually live after a restart
	fs := newFakeStore()
	require.NoError(t, fs.UpsertSessionStatus(context.Background(), "ops", store.SessionConnected, "", "905321112233"))
	reg := NewRegistry(fs, nil)

	state, err := reg.Status(context.Background(), "ops")
	require.NoError(t, err)
	assert.Equal(t, store.SessionDisconnected, state.Status)
	assert.Equal(t, "905321112233", state.PhoneNumber, "phone stays as a hint")

	states, err := reg.List(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, store.SessionDisconnected, states[0].Status)

	_, err = reg.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestClientRequiresLiveConnection(t *testing.T) {
	fastBackoff(t)
	fs := newFakeStore()
	client := &fakeClient{}
	factory, _ := fixedFactory(client)
	reg := NewRegistry(fs, factory)

	_, err := reg.Create(context.Background(), "ops")
	require.NoError(t, err)

	_, err = reg.Client("ops")
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = reg.Connect(context.Background(), "ops")
	require.NoError(t, err)

	live, err := reg.Client("ops")
	require.NoError(t, err)
	assert.True(t, live.IsConnected())
	assert.Equal(t, []string{"ops"}, reg.Connected())
}
