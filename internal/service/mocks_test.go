package service

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/relaydesk/channel-server/internal/dispatch"
	"github.com/relaydesk/channel-server/internal/model"
	"github.com/relaydesk/channel-server/internal/sse"
)

type mockConversationRepo struct {
	mock.Mock
}

func (m *mockConversationRepo) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

func (m *mockConversationRepo) FindActive(ctx context.Context, tenantID, channelID, contactID string) (*model.Conversation, error) {
	args := m.Called(ctx, tenantID, channelID, contactID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

func (m *mockConversationRepo) CreateIfAbsent(ctx context.Context, params model.CreateConversationParams) (*model.Conversation, bool, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.Conversation), args.Bool(1), args.Error(2)
}

func (m *mockConversationRepo) UpdateStatus(ctx context.Context, id string, status model.ConversationStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

type mockContactRepo struct {
	mock.Mock
}

func (m *mockContactRepo) FindByID(ctx context.Context, id string) (*model.Contact, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

func (m *mockContactRepo) FindByExternalKey(ctx context.Context, tenantID, externalKey string) (*model.Contact, error) {
	args := m.Called(ctx, tenantID, externalKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

func (m *mockContactRepo) CreateIfAbsent(ctx context.Context, params model.CreateContactParams) (*model.Contact, bool, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.Contact), args.Bool(1), args.Error(2)
}

func (m *mockContactRepo) SetProfilePicture(ctx context.Context, id, ref string) error {
	args := m.Called(ctx, id, ref)
	return args.Error(0)
}

type mockMessageRepo struct {
	mock.Mock
}

func (m *mockMessageRepo) FindByID(ctx context.Context, id string) (*model.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *mockMessageRepo) FindByProviderMessageID(ctx context.Context, conversationID, providerMessageID string) (*model.Message, error) {
	args := m.Called(ctx, conversationID, providerMessageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *mockMessageRepo) Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, bool, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.Message), args.Bool(1), args.Error(2)
}

func (m *mockMessageRepo) SetProviderMessageID(ctx context.Context, id, providerMessageID string) (*model.Message, error) {
	args := m.Called(ctx, id, providerMessageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

type mockChannelRepo struct {
	mock.Mock
}

func (m *mockChannelRepo) FindByID(ctx context.Context, id string) (*model.Channel, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Channel), args.Error(1)
}

func (m *mockChannelRepo) FindRecoverable(ctx context.Context) ([]model.Channel, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Channel), args.Error(1)
}

func (m *mockChannelRepo) MarkConnected(ctx context.Context, id, externalIdentifier string) error {
	return m.Called(ctx, id, externalIdentifier).Error(0)
}

func (m *mockChannelRepo) Deactivate(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, channelID string, req dispatch.Request) (*dispatch.SendResult, error) {
	args := m.Called(ctx, channelID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dispatch.SendResult), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, tenantID string, event sse.Event) error {
	return m.Called(ctx, tenantID, event).Error(0)
}

