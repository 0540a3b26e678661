package credstore

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/relaydesk/channel-server/internal/repository"
	"github.com/relaydesk/channel-server/internal/util"
)

const encryptedPrefix = "enc:v1:"

// Store persists one credential blob per channel.
type Store struct {
	repo   repository.CredentialRepository
	cipher *util.Cipher
}

// NewStore returns a Store. A nil cipher stores blobs in plaintext.
func NewStore(repo repository.CredentialRepository, cipher *util.Cipher) *Store {
	return &Store{repo: repo, cipher: cipher}
}

// Load returns the channel's persisted material, or an empty state when
// nothing is stored yet. An unreadable blob is logged and replaced by an
// empty state so the channel goes through a fresh QR pairing.
func (s *Store) Load(ctx context.Context, channelID string) (*AuthState, error) {
	row, err := s.repo.Find(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	state := NewState()
	if row != nil {
		decoded, err := s.decode(row.Data)
		if err != nil {
			log.Error().
				Err(err).
				Str("channelId", channelID).
				Msg("stored credentials unreadable, starting from empty state")
		} else {
			state = decoded
		}
	}

	return &AuthState{store: s, channelID: channelID, state: state}, nil
}

func (s *Store) Exists(ctx context.Context, channelID string) (bool, error) {
	row, err := s.repo.Find(ctx, channelID)
	if err != nil {
		return false, fmt.Errorf("find credentials: %w", err)
	}
	return row != nil, nil
}

func (s *Store) Delete(ctx context.Context, channelID string) error {
	if err := s.repo.Delete(ctx, channelID); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}

func (s *Store) save(ctx context.Context, channelID string, state *State) error {
	data, err := Encode(state)
	if err != nil {
		return err
	}

	stored := string(data)
	if s.cipher != nil {
		sealed, err := s.cipher.Seal(data)
		if err != nil {
			return fmt.Errorf("encrypt credentials: %w", err)
		}
		stored = encryptedPrefix + sealed
	}

	if err := s.repo.Upsert(ctx, channelID, stored, CodecVersion); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

func (s *Store) decode(stored string) (*State, error) {
	if sealed, ok := strings.CutPrefix(stored, encryptedPrefix); ok {
		if s.cipher == nil {
			return nil, fmt.Errorf("credentials are encrypted but no encryption key is configured")
		}
		data, err := s.cipher.Open(sealed)
		if err != nil {
			return nil, err
		}
		return Decode(data)
	}
	return Decode([]byte(stored))
}

// AuthState is the live credential material handed to a protocol driver.
// Every mutation is persisted before the call returns.
type AuthState struct {
	store     *Store
	channelID string

	mu    sync.Mutex
	state *State
}

func (a *AuthState) ChannelID() string {
	return a.channelID
}

// Creds returns a shallow copy of the identity record.
func (a *AuthState) Creds() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.state.Creds)
}

// Registered reports whether the identity record holds anything, meaning the
// driver can resume without a QR pairing.
func (a *AuthState) Registered() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.state.Creds) > 0
}

// MergeCreds applies update on top of the identity record and persists the
// whole blob. On a failed save the in-memory record is left untouched.
func (a *AuthState) MergeCreds(ctx context.Context, update map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := &State{Creds: maps.Clone(a.state.Creds), Keys: a.state.Keys}
	maps.Copy(next.Creds, update)
	return a.commit(ctx, next)
}

// commit persists next and makes it the current state. Callers hold a.mu.
func (a *AuthState) commit(ctx context.Context, next *State) error {
	if err := a.store.save(ctx, a.channelID, next); err != nil {
		return err
	}
	a.state = next
	return nil
}

// SaveCreds persists the current blob.
func (a *AuthState) SaveCreds(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.save(ctx, a.channelID, a.state)
}

func (a *AuthState) Keys() *KeyStore {
	return &KeyStore{auth: a}
}

// KeyStore is the category/id keyed view over the signal keys.
type KeyStore struct {
	auth *AuthState
}

// Get returns the entries of category whose ids are present. Missing ids are
// absent from the result.
func (k *KeyStore) Get(ctx context.Context, category string, ids []string) map[string]any {
	k.auth.mu.Lock()
	defer k.auth.mu.Unlock()

	out := make(map[string]any, len(ids))
	entries := k.auth.state.Keys[category]
	for _, id := range ids {
		if v, ok := entries[id]; ok {
			out[id] = v
		}
	}
	return out
}

// Set merges updates into the key material. A nil value deletes the entry.
// The full blob is persisted before Set returns; when that fails the key
// material is left as it was.
func (k *KeyStore) Set(ctx context.Context, updates map[string]map[string]any) error {
	k.auth.mu.Lock()
	defer k.auth.mu.Unlock()

	keys := maps.Clone(k.auth.state.Keys)
	for category, entries := range updates {
		existing := maps.Clone(keys[category])
		if existing == nil {
			existing = make(map[string]any, len(entries))
		}
		keys[category] = existing
		for id, v := range entries {
			if v == nil {
				delete(existing, id)
				continue
			}
			existing[id] = v
		}
		if len(existing) == 0 {
			delete(keys, category)
		}
	}

	return k.auth.commit(ctx, &State{Creds: k.auth.state.Creds, Keys: keys})
}
