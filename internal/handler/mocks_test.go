package handler

import (
	"context"
	"errors"

	"github.com/stretchr/testify/mock"

	"github.com/relaydesk/channel-server/internal/middleware"
	"github.com/relaydesk/channel-server/internal/model"
	"github.com/relaydesk/channel-server/internal/service"
	"github.com/relaydesk/channel-server/internal/session"
	"github.com/relaydesk/channel-server/internal/sse"
)

func withTenant(ctx context.Context, tenantID string) context.Context {
	return middleware.WithTenant(ctx, &model.Tenant{ID: tenantID, Name: "Acme"})
}

type mockChannelFinder struct {
	mock.Mock
}

func (m *mockChannelFinder) FindForTenant(ctx context.Context, tenantID, channelID string) (*model.Channel, error) {
	args := m.Called(ctx, tenantID, channelID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Channel), args.Error(1)
}

type mockSessionController struct {
	mock.Mock
}

func (m *mockSessionController) StartSession(ctx context.Context, channelID string) (*session.StartResult, error) {
	args := m.Called(ctx, channelID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.StartResult), args.Error(1)
}

func (m *mockSessionController) GetSessionStatus(channelID string) session.Snapshot {
	args := m.Called(channelID)
	return args.Get(0).(session.Snapshot)
}

func (m *mockSessionController) Logout(ctx context.Context, channelID string) (*session.LogoutResult, error) {
	args := m.Called(ctx, channelID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.LogoutResult), args.Error(1)
}

type mockMessageSender struct {
	mock.Mock
}

func (m *mockMessageSender) Send(ctx context.Context, tenantID, conversationID string, params service.SendParams) (*service.SendResponse, error) {
	args := m.Called(ctx, tenantID, conversationID, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.SendResponse), args.Error(1)
}

// fakeSubscriber hands out one client with an unbuffered event channel so a
// test send returns only once the handler has taken the event.
type fakeSubscriber struct {
	client       *sse.Client
	subscribed   chan string
	unsubscribed chan struct{}
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{
		client: &sse.Client{
			Events: make(chan sse.Event),
			Done:   make(chan struct{}),
		},
		subscribed:   make(chan string, 1),
		unsubscribed: make(chan struct{}),
	}
}

func (f *fakeSubscriber) Subscribe(tenantID string) *sse.Client {
	f.client.TenantID = tenantID
	f.subscribed <- tenantID
	return f.client
}

func (f *fakeSubscriber) Unsubscribe(client *sse.Client) {
	close(f.unsubscribed)
}

type pinger struct{ err error }

func (p pinger) Ping(ctx context.Context) error { return p.err }

type sessionCount []string

func (s sessionCount) TrackedChannels() []string { return s }

type clientCount int

func (c clientCount) TotalClients() int { return int(c) }

var errDown = errors.New("connection refused")
