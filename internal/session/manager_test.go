package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/channel-server/internal/credstore"
	apperrors "github.com/relaydesk/channel-server/internal/errors"
	"github.com/relaydesk/channel-server/internal/model"
	"github.com/relaydesk/channel-server/internal/protocol"
	"github.com/relaydesk/channel-server/internal/protocol/prototest"
	"github.com/relaydesk/channel-server/internal/sse"
)

type fakeChannelRepo struct {
	mu          sync.Mutex
	channels    map[string]*model.Channel
	deactivated map[string]int
	identities  map[string]string
}

func newFakeChannelRepo(channels ...*model.Channel) *fakeChannelRepo {
	f := &fakeChannelRepo{
		channels:    make(map[string]*model.Channel),
		deactivated: make(map[string]int),
		identities:  make(map[string]string),
	}
	for _, c := range channels {
		f.channels[c.ID] = c
	}
	return f
}

func (f *fakeChannelRepo) FindByID(ctx context.Context, id string) (*model.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.channels[id]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (f *fakeChannelRepo) FindRecoverable(ctx context.Context) ([]model.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Channel
	for _, c := range f.channels {
		if c.Active {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeChannelRepo) MarkConnected(ctx context.Context, id, externalIdentifier string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identities[id] = externalIdentifier
	return nil
}

func (f *fakeChannelRepo) Deactivate(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated[id]++
	if c, ok := f.channels[id]; ok {
		c.Active = false
	}
	return nil
}

func (f *fakeChannelRepo) deactivations(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deactivated[id]
}

func (f *fakeChannelRepo) identity(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.identities[id]
}

type fakeCredentialRepo struct {
	mu   sync.Mutex
	rows map[string]string
}

func newFakeCredentialRepo() *fakeCredentialRepo {
	return &fakeCredentialRepo{rows: make(map[string]string)}
}

func (f *fakeCredentialRepo) Find(ctx context.Context, channelID string) (*model.ChannelCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.rows[channelID]
	if !ok {
		return nil, nil
	}
	return &model.ChannelCredential{ChannelID: channelID, Data: data, Version: credstore.CodecVersion}, nil
}

func (f *fakeCredentialRepo) Upsert(ctx context.Context, channelID, data string, version int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[channelID] = data
	return nil
}

func (f *fakeCredentialRepo) Delete(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, channelID)
	return nil
}

func (f *fakeCredentialRepo) DeleteStale(ctx context.Context, olderThan time.Time, keep []string) (int64, error) {
	return 0, nil
}

func (f *fakeCredentialRepo) has(channelID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[channelID]
	return ok
}

type fakePublisher struct {
	mu     sync.Mutex
	events []sse.Event

	holdType string
	held     chan struct{}
	release  chan struct{}
}

// hold makes Publish of eventType block until the returned release channel
// is closed. held is closed once the publish is blocked.
func (f *fakePublisher) hold(eventType string) (held, release chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holdType = eventType
	f.held = make(chan struct{})
	f.release = make(chan struct{})
	return f.held, f.release
}

func (f *fakePublisher) Publish(ctx context.Context, tenantID string, event sse.Event) error {
	f.mu.Lock()
	if f.holdType != "" && event.Type == f.holdType {
		held, release := f.held, f.release
		f.holdType = ""
		f.mu.Unlock()
		close(held)
		<-release
		f.mu.Lock()
	}
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

func (f *fakePublisher) find(eventType string) (sse.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e.Type == eventType {
			return e, true
		}
	}
	return sse.Event{}, false
}

type fakeSink struct {
	mu       sync.Mutex
	messages []protocol.InboundMessage
}

func (f *fakeSink) Submit(ctx context.Context, channelID, tenantID string, msg protocol.InboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type harness struct {
	manager   *Manager
	channels  *fakeChannelRepo
	creds     *fakeCredentialRepo
	dialer    *prototest.Dialer
	publisher *fakePublisher
	sink      *fakeSink
}

const (
	testChannelID = "chan-1"
	testTenantID  = "tenant-1"
	waitFor       = time.Second
	tick          = 5 * time.Millisecond
)

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		channels: newFakeChannelRepo(&model.Channel{
			ID:           testChannelID,
			TenantID:     testTenantID,
			ProtocolType: model.ProtocolWhatsApp,
			Active:       true,
		}),
		creds:     newFakeCredentialRepo(),
		dialer:    prototest.NewDialer(),
		publisher: &fakePublisher{},
		sink:      &fakeSink{},
	}

	drivers := protocol.NewRegistry()
	drivers.Register(model.ProtocolWhatsApp, h.dialer)

	h.manager = NewManager(
		h.channels,
		credstore.NewStore(h.creds, nil),
		drivers,
		h.publisher,
		h.sink,
		Options{ReconnectDelay: 20 * time.Millisecond},
	)
	t.Cleanup(h.manager.Close)
	return h
}

func (h *harness) start(t *testing.T) *prototest.Socket {
	t.Helper()
	result, err := h.manager.StartSession(context.Background(), testChannelID)
	require.NoError(t, err)
	require.Equal(t, StatusConnecting, result.Status)

	socket, ok := h.dialer.WaitDial(waitFor)
	require.True(t, ok, "expected a dial")
	h.waitAttached(t, testChannelID)
	return socket
}

func (h *harness) waitAttached(t *testing.T, channelID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		h.manager.registry.mu.Lock()
		defer h.manager.registry.mu.Unlock()
		e, ok := h.manager.registry.entries[channelID]
		return ok && e.socket != nil
	}, waitFor, tick)
}

func TestManager_StartSession(t *testing.T) {
	t.Run("returns connecting and emits event", func(t *testing.T) {
		h := newHarness(t)
		h.start(t)

		assert.Equal(t, StatusConnecting, h.manager.GetSessionStatus(testChannelID).Status)
		assert.Contains(t, h.publisher.types(), sse.EventConnecting)
	})

	t.Run("concurrent starts dial once", func(t *testing.T) {
		h := newHarness(t)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.manager.StartSession(context.Background(), testChannelID)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		_, ok := h.dialer.WaitDial(waitFor)
		require.True(t, ok)
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, 1, h.dialer.Dials())
	})

	t.Run("second start is a no-op while connecting", func(t *testing.T) {
		h := newHarness(t)
		h.start(t)

		result, err := h.manager.StartSession(context.Background(), testChannelID)
		require.NoError(t, err)
		assert.Equal(t, StatusConnecting, result.Status)
		assert.Equal(t, "already active", result.Message)
		assert.Equal(t, 1, h.dialer.Dials())
	})

	t.Run("unknown channel", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.manager.StartSession(context.Background(), "missing")
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})

	t.Run("protocol without driver", func(t *testing.T) {
		h := newHarness(t)
		h.channels.channels["chan-x"] = &model.Channel{ID: "chan-x", TenantID: testTenantID, ProtocolType: "telegram"}

		_, err := h.manager.StartSession(context.Background(), "chan-x")
		assert.Equal(t, apperrors.ErrCodeUnsupportedProtocol, apperrors.GetCode(err))
		assert.Equal(t, StatusIdle, h.manager.GetSessionStatus("chan-x").Status)
	})
}

func TestManager_ConnectionEvents(t *testing.T) {
	t.Run("qr then open", func(t *testing.T) {
		h := newHarness(t)
		socket := h.start(t)

		socket.Emit(protocol.QRCode{Code: "2@pairing"})
		snap := h.manager.GetSessionStatus(testChannelID)
		assert.Equal(t, StatusQRReady, snap.Status)
		assert.Equal(t, "2@pairing", snap.QR)
		assert.True(t, strings.HasPrefix(snap.QRImage, "data:image/png;base64,"))

		require.Eventually(t, func() bool {
			_, ok := h.publisher.find(sse.EventQRReady)
			return ok
		}, waitFor, tick)

		_, live := h.manager.LiveSocket(testChannelID)
		assert.False(t, live)

		socket.Emit(protocol.Opened{ID: "5511@s.whatsapp.net"})
		snap = h.manager.GetSessionStatus(testChannelID)
		assert.Equal(t, StatusConnected, snap.Status)
		assert.Empty(t, snap.QR)
		assert.Empty(t, snap.QRImage)

		got, live := h.manager.LiveSocket(testChannelID)
		require.True(t, live)
		assert.Same(t, socket, got)

		require.Eventually(t, func() bool {
			return h.channels.identity(testChannelID) == "5511@s.whatsapp.net"
		}, waitFor, tick)
	})

	t.Run("logout close disconnects and clears credentials", func(t *testing.T) {
		h := newHarness(t)
		h.creds.rows[testChannelID] = `{"v":1,"creds":{},"keys":{}}`
		socket := h.start(t)
		socket.Emit(protocol.Opened{ID: "5511@s.whatsapp.net"})

		socket.Emit(protocol.Closed{Reason: protocol.CloseLoggedOut})

		assert.Equal(t, StatusDisconnected, h.manager.GetSessionStatus(testChannelID).Status)
		_, live := h.manager.LiveSocket(testChannelID)
		assert.False(t, live)
		assert.True(t, socket.Closed())

		require.Eventually(t, func() bool {
			return h.channels.deactivations(testChannelID) == 1 && !h.creds.has(testChannelID)
		}, waitFor, tick)

		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, 1, h.dialer.Dials())
		assert.NotContains(t, h.publisher.types(), sse.EventReconnecting)
	})

	t.Run("start after remote logout dials fresh", func(t *testing.T) {
		h := newHarness(t)
		socket := h.start(t)
		socket.Emit(protocol.Closed{Reason: protocol.CloseLoggedOut})

		h.start(t)
		assert.Equal(t, 2, h.dialer.Dials())
	})

	t.Run("transient close reconnects reusing credentials", func(t *testing.T) {
		h := newHarness(t)
		h.creds.rows[testChannelID] = `{"v":1,"creds":{"me":"5511"},"keys":{}}`
		socket := h.start(t)
		socket.Emit(protocol.Opened{ID: "5511@s.whatsapp.net"})

		socket.Emit(protocol.Closed{Reason: protocol.CloseConnectionLost})
		assert.Equal(t, StatusIdle, h.manager.GetSessionStatus(testChannelID).Status)

		second, ok := h.dialer.WaitDial(waitFor)
		require.True(t, ok, "expected reconnect dial")
		assert.Equal(t, "5511", second.Auth.Creds()["me"])
		assert.True(t, h.creds.has(testChannelID))
		assert.Contains(t, h.publisher.types(), sse.EventReconnecting)
		assert.Equal(t, 0, h.channels.deactivations(testChannelID))
	})

	t.Run("events from superseded socket are ignored", func(t *testing.T) {
		h := newHarness(t)
		first := h.start(t)

		_, err := h.manager.Logout(context.Background(), testChannelID)
		require.NoError(t, err)
		second := h.start(t)
		require.NotSame(t, first, second)

		first.Emit(protocol.Opened{ID: "old"})
		assert.Equal(t, StatusConnecting, h.manager.GetSessionStatus(testChannelID).Status)

		first.Emit(protocol.Closed{Reason: protocol.CloseConnectionLost})
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, 2, h.dialer.Dials())
	})

	t.Run("dial failure schedules reconnect", func(t *testing.T) {
		h := newHarness(t)
		h.dialer.SetDialError(assert.AnError)

		_, err := h.manager.StartSession(context.Background(), testChannelID)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			for _, typ := range h.publisher.types() {
				if typ == sse.EventReconnecting {
					return true
				}
			}
			return false
		}, waitFor, tick)

		h.dialer.SetDialError(nil)
		_, ok := h.dialer.WaitDial(waitFor)
		assert.True(t, ok)
	})
}

func TestManager_Logout(t *testing.T) {
	t.Run("without live session still clears state", func(t *testing.T) {
		h := newHarness(t)
		h.creds.rows[testChannelID] = `{"v":1,"creds":{},"keys":{}}`

		result, err := h.manager.Logout(context.Background(), testChannelID)
		require.NoError(t, err)
		assert.Equal(t, StatusLoggedOut, result.Status)
		assert.False(t, h.creds.has(testChannelID))
		assert.Equal(t, 1, h.channels.deactivations(testChannelID))

		event, ok := h.publisher.find(sse.EventDisconnected)
		require.True(t, ok)
		assert.Contains(t, string(event.Data), `"reason":"logout"`)
	})

	t.Run("with live session revokes remote session", func(t *testing.T) {
		h := newHarness(t)
		socket := h.start(t)
		socket.Emit(protocol.Opened{ID: "5511@s.whatsapp.net"})

		_, err := h.manager.Logout(context.Background(), testChannelID)
		require.NoError(t, err)

		assert.True(t, socket.LoggedOut())
		assert.True(t, socket.Closed())
		assert.Equal(t, StatusIdle, h.manager.GetSessionStatus(testChannelID).Status)

		socket.Emit(protocol.Closed{Reason: protocol.CloseLoggedOut})
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, 1, h.dialer.Dials())
		assert.Equal(t, 1, h.channels.deactivations(testChannelID))
	})

	t.Run("cancels pending reconnect", func(t *testing.T) {
		h := newHarness(t)
		h.manager.reconnectDelay = 80 * time.Millisecond
		socket := h.start(t)
		socket.Emit(protocol.Closed{Reason: protocol.CloseConnectionLost})

		require.Eventually(t, func() bool {
			h.manager.mu.Lock()
			defer h.manager.mu.Unlock()
			return len(h.manager.timers) == 1
		}, waitFor, tick)

		_, err := h.manager.Logout(context.Background(), testChannelID)
		require.NoError(t, err)

		time.Sleep(200 * time.Millisecond)
		assert.Equal(t, 1, h.dialer.Dials())
	})

	t.Run("cancels reconnect not yet armed", func(t *testing.T) {
		h := newHarness(t)
		socket := h.start(t)

		held, release := h.publisher.hold(sse.EventReconnecting)
		socket.Emit(protocol.Closed{Reason: protocol.CloseConnectionLost})
		<-held

		_, err := h.manager.Logout(context.Background(), testChannelID)
		require.NoError(t, err)
		close(release)

		time.Sleep(150 * time.Millisecond)
		assert.Equal(t, 1, h.dialer.Dials())
		assert.Equal(t, StatusIdle, h.manager.GetSessionStatus(testChannelID).Status)
		h.manager.mu.Lock()
		assert.Empty(t, h.manager.timers)
		h.manager.mu.Unlock()
	})

	t.Run("unknown channel", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.manager.Logout(context.Background(), "missing")
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})
}

func TestManager_RecoverSessions(t *testing.T) {
	h := newHarness(t)
	h.channels.channels["chan-2"] = &model.Channel{ID: "chan-2", TenantID: testTenantID, ProtocolType: model.ProtocolWhatsApp, Active: true}
	h.channels.channels["chan-3"] = &model.Channel{ID: "chan-3", TenantID: testTenantID, ProtocolType: "telegram", Active: true}
	h.channels.channels["chan-4"] = &model.Channel{ID: "chan-4", TenantID: testTenantID, ProtocolType: model.ProtocolWhatsApp, Active: false}

	started, err := h.manager.RecoverSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, started)
	assert.ElementsMatch(t, []string{testChannelID, "chan-2"}, h.manager.TrackedChannels())
}

func TestManager_ForwardsInboundMessages(t *testing.T) {
	h := newHarness(t)
	socket := h.start(t)

	socket.Deliver(protocol.InboundMessage{
		Key:     protocol.MessageKey{RemoteJID: "5511@s.whatsapp.net", ID: "ABC"},
		Content: protocol.Content{Kind: protocol.ContentText, Text: "Oi"},
	})

	require.Eventually(t, func() bool { return h.sink.count() == 1 }, waitFor, tick)
}

func TestManager_Close(t *testing.T) {
	h := newHarness(t)
	socket := h.start(t)

	h.manager.Close()

	assert.True(t, socket.Closed())
	assert.Empty(t, h.manager.TrackedChannels())
}
