package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaydesk/channel-server/internal/audit"
	"github.com/relaydesk/channel-server/internal/config"
	"github.com/relaydesk/channel-server/internal/credstore"
	apperrors "github.com/relaydesk/channel-server/internal/errors"
	"github.com/relaydesk/channel-server/internal/metrics"
	"github.com/relaydesk/channel-server/internal/model"
	"github.com/relaydesk/channel-server/internal/protocol"
	"github.com/relaydesk/channel-server/internal/repository"
	"github.com/relaydesk/channel-server/internal/sse"
)

type EventPublisher interface {
	Publish(ctx context.Context, tenantID string, event sse.Event) error
}

// MessageSink accepts inbound messages read from live sockets.
type MessageSink interface {
	Submit(ctx context.Context, channelID, tenantID string, msg protocol.InboundMessage) error
}

type Options struct {
	ReconnectDelay time.Duration
}

// Manager owns every protocol connection of this process.
type Manager struct {
	channels repository.ChannelRepository
	creds    *credstore.Store
	drivers  *protocol.Registry
	events   EventPublisher
	sink     MessageSink
	registry *registry

	reconnectDelay time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	// epochs advance on Logout. A reconnect is only armed when the epoch
	// read before its close event was applied is still current.
	epochs map[string]uint64
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(
	channels repository.ChannelRepository,
	creds *credstore.Store,
	drivers *protocol.Registry,
	events EventPublisher,
	sink MessageSink,
	opts Options,
) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		channels:       channels,
		creds:          creds,
		drivers:        drivers,
		events:         events,
		sink:           sink,
		registry:       newRegistry(),
		reconnectDelay: opts.ReconnectDelay,
		timers:         make(map[string]*time.Timer),
		epochs:         make(map[string]uint64),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// StartSession begins connecting a channel. Calling it for a channel that is
// already connecting or connected returns the current status.
func (m *Manager) StartSession(ctx context.Context, channelID string) (*StartResult, error) {
	channel, err := m.channels.FindByID(ctx, channelID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if channel == nil {
		return nil, apperrors.NotFound("Channel")
	}

	dialer, ok := m.drivers.Lookup(channel.ProtocolType)
	if !ok {
		return nil, apperrors.UnsupportedProtocol(string(channel.ProtocolType))
	}

	gen, status, claimed := m.registry.claim(channel.ID, channel.TenantID)
	if !claimed {
		log.Debug().
			Str("channelId", channel.ID).
			Str("status", string(status)).
			Msg("session already active")
		return &StartResult{Status: status, Message: "already active"}, nil
	}

	m.stopReconnect(channel.ID)
	metrics.SessionTransitions.WithLabelValues(string(StatusConnecting)).Inc()
	metrics.SessionsTracked.Set(float64(m.registry.len()))

	log.Info().
		Str("channelId", channel.ID).
		Str("tenantId", channel.TenantID).
		Str("protocol", string(channel.ProtocolType)).
		Msg("starting session")

	m.publish(channel.TenantID, sse.ChannelEvent(sse.EventConnecting, channel.ID, nil))
	audit.Log(ctx, audit.Event{
		Type:      audit.EventSessionStart,
		TenantID:  channel.TenantID,
		ChannelID: channel.ID,
	})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.connect(channel, dialer, gen)
	}()

	return &StartResult{Status: StatusConnecting, Message: "initializing"}, nil
}

func (m *Manager) connect(channel *model.Channel, dialer protocol.Dialer, gen uint64) {
	ctx, cancel := context.WithTimeout(m.ctx, config.SessionEffectTimeout)
	auth, err := m.creds.Load(ctx, channel.ID)
	cancel()
	if err != nil {
		log.Error().Err(err).Str("channelId", channel.ID).Msg("failed to load credentials")
		m.handleConnection(channel, gen, protocol.Closed{Reason: protocol.CloseUnknown, Err: err})
		return
	}

	log.Info().
		Str("channelId", channel.ID).
		Bool("resuming", auth.Registered()).
		Msg("dialing protocol")

	socket, err := dialer.Dial(m.ctx, protocol.DialParams{
		ChannelID: channel.ID,
		Auth:      auth,
		Handlers: protocol.Handlers{
			OnConnection: func(ev protocol.ConnectionEvent) {
				m.handleConnection(channel, gen, ev)
			},
			OnMessage: func(msg protocol.InboundMessage) {
				m.handleMessage(channel, msg)
			},
		},
	})
	if err != nil {
		log.Error().Err(err).Str("channelId", channel.ID).Msg("dial failed")
		m.handleConnection(channel, gen, protocol.Closed{Reason: protocol.CloseUnknown, Err: err})
		return
	}

	if !m.registry.attach(channel.ID, gen, socket) {
		log.Debug().Str("channelId", channel.ID).Msg("session superseded during dial, closing socket")
		if err := socket.Close(); err != nil {
			log.Warn().Err(err).Str("channelId", channel.ID).Msg("failed to close superseded socket")
		}
	}
}

func (m *Manager) handleConnection(channel *model.Channel, gen uint64, ev protocol.ConnectionEvent) {
	var qrImage string
	if qr, ok := ev.(protocol.QRCode); ok {
		img, err := renderQR(qr.Code)
		if err != nil {
			log.Warn().Err(err).Str("channelId", channel.ID).Msg("failed to render qr image")
		}
		qrImage = img
	}

	var (
		next    Status
		effects []Effect
		dropped protocol.Socket
	)
	epoch := m.reconnectEpoch(channel.ID)
	found := m.registry.update(channel.ID, gen, func(e *entry) bool {
		next, effects = Transition(e.status, ev)
		e.status = next

		keep := true
		for _, eff := range effects {
			switch eff := eff.(type) {
			case CacheQR:
				e.qr = eff.Code
				e.qrImage = qrImage
			case ClearQR:
				e.qr, e.qrImage = "", ""
			case DropSocket:
				dropped, e.socket = e.socket, nil
			case RemoveEntry:
				dropped = e.socket
				keep = false
			}
		}
		return keep
	})
	if !found {
		log.Debug().
			Str("channelId", channel.ID).
			Uint64("generation", gen).
			Msg("ignoring event from superseded socket")
		return
	}

	metrics.SessionTransitions.WithLabelValues(string(next)).Inc()
	metrics.SessionsTracked.Set(float64(m.registry.len()))

	logEvent := log.Info().
		Str("channelId", channel.ID).
		Str("status", string(next))
	if closed, ok := ev.(protocol.Closed); ok {
		logEvent = logEvent.Str("reason", string(closed.Reason)).Err(closeError(channel.ID, closed))
	}
	logEvent.Msg("session transition")

	if dropped != nil {
		if err := dropped.Close(); err != nil {
			log.Warn().Err(err).Str("channelId", channel.ID).Msg("failed to close socket")
		}
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runEffects(channel, effects, qrImage, epoch)
	}()
}

func (m *Manager) runEffects(channel *model.Channel, effects []Effect, qrImage string, epoch uint64) {
	ctx, cancel := context.WithTimeout(m.ctx, config.SessionEffectTimeout)
	defer cancel()

	for _, eff := range effects {
		switch eff := eff.(type) {
		case PersistIdentity:
			if err := m.channels.MarkConnected(ctx, channel.ID, eff.ID); err != nil {
				log.Error().Err(err).Str("channelId", channel.ID).Msg("failed to persist channel identity")
			}

		case DeactivateChannel:
			if err := m.channels.Deactivate(ctx, channel.ID); err != nil {
				log.Error().Err(err).Str("channelId", channel.ID).Msg("failed to deactivate channel")
			}

		case DeleteCredentials:
			if err := m.creds.Delete(ctx, channel.ID); err != nil {
				log.Error().Err(err).Str("channelId", channel.ID).Msg("failed to delete credentials")
			}
			audit.Log(ctx, audit.Event{
				Type:      audit.EventRemoteLogout,
				TenantID:  channel.TenantID,
				ChannelID: channel.ID,
			})

		case Emit:
			fields := eff.Fields
			if eff.Type == sse.EventQRReady && qrImage != "" {
				fields = map[string]any{"qr": fields["qr"], "qrImage": qrImage}
			}
			m.publish(channel.TenantID, sse.ChannelEvent(eff.Type, channel.ID, fields))

		case ScheduleReconnect:
			m.scheduleReconnect(channel.ID, epoch)
		}
	}
}

func (m *Manager) handleMessage(channel *model.Channel, msg protocol.InboundMessage) {
	if m.sink == nil {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ctx, cancel := context.WithTimeout(m.ctx, config.SessionEffectTimeout)
		defer cancel()

		if err := m.sink.Submit(ctx, channel.ID, channel.TenantID, msg); err != nil {
			log.Error().
				Err(err).
				Str("channelId", channel.ID).
				Str("messageId", msg.Key.ID).
				Msg("failed to submit inbound message")
		}
	}()
}

func (m *Manager) reconnectEpoch(channelID string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epochs[channelID]
}

func (m *Manager) scheduleReconnect(channelID string, epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if m.epochs[channelID] != epoch {
		log.Debug().Str("channelId", channelID).Msg("channel logged out, reconnect dropped")
		return
	}
	if t, ok := m.timers[channelID]; ok {
		t.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(m.reconnectDelay, func() {
		m.mu.Lock()
		current := m.timers[channelID] == timer && !m.closed
		if current {
			delete(m.timers, channelID)
		}
		m.mu.Unlock()
		if !current {
			return
		}

		if _, err := m.StartSession(m.ctx, channelID); err != nil {
			log.Error().Err(err).Str("channelId", channelID).Msg("reconnect failed")
		}
	})
	m.timers[channelID] = timer

	metrics.ReconnectsScheduled.Inc()
	log.Info().
		Str("channelId", channelID).
		Dur("delay", m.reconnectDelay).
		Msg("reconnect scheduled")
}

func (m *Manager) stopReconnect(channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.timers[channelID]; ok {
		t.Stop()
		delete(m.timers, channelID)
	}
}

// cancelReconnect stops a pending timer and invalidates any reconnect whose
// close event was applied before this call.
func (m *Manager) cancelReconnect(channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.epochs[channelID]++
	if t, ok := m.timers[channelID]; ok {
		t.Stop()
		delete(m.timers, channelID)
	}
}

func (m *Manager) GetSessionStatus(channelID string) Snapshot {
	return m.registry.snapshot(channelID)
}

// Logout ends the channel's session for good: the remote session is revoked
// when a socket is live, and stored credentials are deleted either way.
func (m *Manager) Logout(ctx context.Context, channelID string) (*LogoutResult, error) {
	channel, err := m.channels.FindByID(ctx, channelID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if channel == nil {
		return nil, apperrors.NotFound("Channel")
	}

	// The entry goes first: a close event applied after this point finds no
	// entry, one applied before it is covered by the epoch bump.
	socket := m.registry.remove(channelID)
	m.cancelReconnect(channelID)

	if socket != nil {
		if err := socket.Logout(ctx); err != nil {
			log.Warn().Err(err).Str("channelId", channelID).Msg("protocol logout failed")
		}
		if err := socket.Close(); err != nil {
			log.Warn().Err(err).Str("channelId", channelID).Msg("failed to close socket")
		}
	}
	metrics.SessionsTracked.Set(float64(m.registry.len()))

	if err := m.creds.Delete(ctx, channelID); err != nil {
		return nil, apperrors.Database(err)
	}
	if err := m.channels.Deactivate(ctx, channelID); err != nil {
		return nil, apperrors.Database(err)
	}

	metrics.SessionTransitions.WithLabelValues(string(StatusLoggedOut)).Inc()
	m.publish(channel.TenantID, sse.ChannelEvent(sse.EventDisconnected, channelID, map[string]any{"reason": "logout"}))
	audit.Log(ctx, audit.Event{
		Type:      audit.EventSessionLogout,
		TenantID:  channel.TenantID,
		ChannelID: channelID,
	})

	log.Info().Str("channelId", channelID).Msg("session logged out")

	return &LogoutResult{Status: StatusLoggedOut}, nil
}

// RecoverSessions restarts every active channel that still has credentials.
// It returns the number of sessions started.
func (m *Manager) RecoverSessions(ctx context.Context) (int, error) {
	channels, err := m.channels.FindRecoverable(ctx)
	if err != nil {
		return 0, fmt.Errorf("find recoverable channels: %w", err)
	}

	started := 0
	for _, channel := range channels {
		if _, err := m.StartSession(ctx, channel.ID); err != nil {
			log.Error().Err(err).Str("channelId", channel.ID).Msg("failed to recover session")
			continue
		}
		started++
	}

	log.Info().
		Int("candidates", len(channels)).
		Int("started", started).
		Msg("session recovery complete")

	return started, nil
}

// LiveSocket returns the socket of a CONNECTED channel.
func (m *Manager) LiveSocket(channelID string) (protocol.Socket, bool) {
	return m.registry.liveSocket(channelID)
}

// TrackedChannels lists the channels this process holds an entry for.
func (m *Manager) TrackedChannels() []string {
	return m.registry.tracked()
}

// Close stops pending reconnects and closes every socket.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	m.mu.Unlock()

	m.cancel()

	for _, socket := range m.registry.drain() {
		if err := socket.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close socket on shutdown")
		}
	}
	metrics.SessionsTracked.Set(0)

	m.wg.Wait()
	log.Info().Msg("session manager stopped")
}

func (m *Manager) publish(tenantID string, event sse.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), config.SessionEffectTimeout)
	defer cancel()

	if err := m.events.Publish(ctx, tenantID, event); err != nil {
		log.Warn().
			Err(err).
			Str("tenantId", tenantID).
			Str("eventType", event.Type).
			Msg("failed to publish event")
	}
}

// closeError classifies a close: logout is terminal, anything else is retried.
func closeError(channelID string, closed protocol.Closed) error {
	if closed.IsLogout() {
		return apperrors.SessionLoggedOut(channelID).WithCause(closed.Err)
	}
	return apperrors.TransientProtocol(closed.Err)
}
