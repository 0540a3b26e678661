package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relaydesk/channel-server/internal/model"
	"github.com/relaydesk/channel-server/internal/protocol"
	"github.com/relaydesk/channel-server/internal/sse"
	"github.com/relaydesk/channel-server/internal/storage"
)

// memStore backs the three repositories with maps and enforces the same
// uniqueness rules as the database.
type memStore struct {
	mu            sync.Mutex
	seq           int
	contacts      map[string]*model.Contact
	conversations map[string]*model.Conversation
	messages      map[string]*model.Message
	createDelay   time.Duration
}

func newMemStore() *memStore {
	return &memStore{
		contacts:      make(map[string]*model.Contact),
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string]*model.Message),
	}
}

func (s *memStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

type memContacts struct{ *memStore }

func (r memContacts) FindByID(ctx context.Context, id string) (*model.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (r memContacts) FindByExternalKey(ctx context.Context, tenantID, externalKey string) (*model.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findContact(tenantID, externalKey), nil
}

func (r memContacts) findContact(tenantID, externalKey string) *model.Contact {
	for _, c := range r.contacts {
		if c.TenantID == tenantID && c.ExternalKey == externalKey {
			copied := *c
			return &copied
		}
	}
	return nil
}

func (r memContacts) CreateIfAbsent(ctx context.Context, params model.CreateContactParams) (*model.Contact, bool, error) {
	if r.createDelay > 0 {
		time.Sleep(r.createDelay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.findContact(params.TenantID, params.ExternalKey); existing != nil {
		return existing, false, nil
	}
	c := &model.Contact{
		ID:          r.nextID("contact"),
		TenantID:    params.TenantID,
		ExternalKey: params.ExternalKey,
		Name:        params.Name,
		IsGroup:     params.IsGroup,
	}
	r.contacts[c.ID] = c
	copied := *c
	return &copied, true, nil
}

func (r memContacts) SetProfilePicture(ctx context.Context, id, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.contacts[id]; ok {
		c.ProfilePictureRef = &ref
	}
	return nil
}

type memConversations struct{ *memStore }

func (r memConversations) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (r memConversations) FindActive(ctx context.Context, tenantID, channelID, contactID string) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findActive(tenantID, channelID, contactID), nil
}

func (r memConversations) findActive(tenantID, channelID, contactID string) *model.Conversation {
	for _, c := range r.conversations {
		if c.TenantID == tenantID && c.ChannelID == channelID && c.ContactID == contactID &&
			c.Status != model.ConversationStatusClosed {
			copied := *c
			return &copied
		}
	}
	return nil
}

func (r memConversations) CreateIfAbsent(ctx context.Context, params model.CreateConversationParams) (*model.Conversation, bool, error) {
	if r.createDelay > 0 {
		time.Sleep(r.createDelay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.findActive(params.TenantID, params.ChannelID, params.ContactID); existing != nil {
		return existing, false, nil
	}
	c := &model.Conversation{
		ID:        r.nextID("conv"),
		TenantID:  params.TenantID,
		ChannelID: params.ChannelID,
		ContactID: params.ContactID,
		Status:    params.Status,
	}
	r.conversations[c.ID] = c
	copied := *c
	return &copied, true, nil
}

func (r memConversations) UpdateStatus(ctx context.Context, id string, status model.ConversationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conversations[id]; ok {
		c.Status = status
	}
	return nil
}

type memMessages struct {
	*memStore
	failCreate error
}

func (r *memMessages) FindByID(ctx context.Context, id string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, nil
	}
	copied := *m
	return &copied, nil
}

func (r *memMessages) FindByProviderMessageID(ctx context.Context, conversationID, providerMessageID string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findProvider(conversationID, providerMessageID), nil
}

func (r *memMessages) findProvider(conversationID, providerMessageID string) *model.Message {
	for _, m := range r.messages {
		if m.ConversationID == conversationID && m.ProviderMessageID != nil && *m.ProviderMessageID == providerMessageID {
			copied := *m
			return &copied
		}
	}
	return nil
}

func (r *memMessages) Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate != nil {
		return nil, false, r.failCreate
	}
	if params.ProviderMessageID != nil {
		if existing := r.findProvider(params.ConversationID, *params.ProviderMessageID); existing != nil {
			return existing, false, nil
		}
	}
	m := &model.Message{
		ID:                r.nextID("msg"),
		ConversationID:    params.ConversationID,
		Type:              params.Type,
		Content:           params.Content,
		MediaRef:          params.MediaRef,
		SenderType:        params.SenderType,
		ProviderMessageID: params.ProviderMessageID,
		QuotedMessageID:   params.QuotedMessageID,
		Read:              params.Read,
	}
	r.messages[m.ID] = m
	copied := *m
	return &copied, true, nil
}

func (r *memMessages) SetProviderMessageID(ctx context.Context, id, providerMessageID string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, nil
	}
	m.ProviderMessageID = &providerMessageID
	copied := *m
	return &copied, nil
}

func (s *memStore) allMessages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, *m)
	}
	return out
}

func (s *memStore) allContacts() []model.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, *c)
	}
	return out
}

func (s *memStore) allConversations() []model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, *c)
	}
	return out
}

type socketSource map[string]protocol.Socket

func (s socketSource) LiveSocket(channelID string) (protocol.Socket, bool) {
	socket, ok := s[channelID]
	return socket, ok
}

type fakeFiles struct {
	mu       sync.Mutex
	fetchErr error
	uploads  []storage.File
}

func (f *fakeFiles) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	if f.fetchErr != nil {
		return nil, "", f.fetchErr
	}
	return []byte("jpeg:" + url), "image/jpeg", nil
}

func (f *fakeFiles) UploadFile(ctx context.Context, file storage.File, tenantID string, uploaderID *string) (*storage.StoredFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, file)
	return &storage.StoredFile{ID: fmt.Sprintf("file-%d", len(f.uploads)), MimeType: file.ContentType}, nil
}

func (f *fakeFiles) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []sse.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, tenantID string, event sse.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}
