package credstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/channel-server/internal/model"
	"github.com/relaydesk/channel-server/internal/util"
)

type fakeCredentialRepo struct {
	mu      sync.Mutex
	rows    map[string]string
	upserts int
	failing error
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
	return &model.ChannelCredential{ChannelID: channelID, Data: data, Version: CodecVersion}, nil
}

func (f *fakeCredentialRepo) Upsert(ctx context.Context, channelID, data string, version int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing != nil {
		return f.failing
	}
	f.rows[channelID] = data
	f.upserts++
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

func TestStore_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("returns empty initializer when nothing stored", func(t *testing.T) {
		store := NewStore(newFakeCredentialRepo(), nil)

		auth, err := store.Load(ctx, "ch-1")
		require.NoError(t, err)
		assert.False(t, auth.Registered())
		assert.Empty(t, auth.Keys().Get(ctx, "pre-key", []string{"1"}))
	})

	t.Run("reloads what was saved", func(t *testing.T) {
		repo := newFakeCredentialRepo()
		store := NewStore(repo, nil)

		auth, err := store.Load(ctx, "ch-1")
		require.NoError(t, err)
		require.NoError(t, auth.MergeCreds(ctx, map[string]any{"signedIdentityKey": []byte{0x01, 0x02}}))

		reloaded, err := store.Load(ctx, "ch-1")
		require.NoError(t, err)
		assert.True(t, reloaded.Registered())
		assert.Equal(t, []byte{0x01, 0x02}, reloaded.Creds()["signedIdentityKey"])
	})

	t.Run("unreadable blob yields a fresh state", func(t *testing.T) {
		repo := newFakeCredentialRepo()
		repo.rows["ch-1"] = "garbage"
		store := NewStore(repo, nil)

		auth, err := store.Load(ctx, "ch-1")
		require.NoError(t, err)
		assert.False(t, auth.Registered())
	})
}

func TestKeyStore(t *testing.T) {
	ctx := context.Background()

	t.Run("get returns only present ids", func(t *testing.T) {
		store := NewStore(newFakeCredentialRepo(), nil)
		auth, _ := store.Load(ctx, "ch-1")

		require.NoError(t, auth.Keys().Set(ctx, map[string]map[string]any{
			"pre-key": {"1": []byte{0x01}, "2": []byte{0x02}},
		}))

		got := auth.Keys().Get(ctx, "pre-key", []string{"1", "3"})
		assert.Len(t, got, 1)
		assert.Equal(t, []byte{0x01}, got["1"])
	})

	t.Run("set persists immediately", func(t *testing.T) {
		repo := newFakeCredentialRepo()
		store := NewStore(repo, nil)
		auth, _ := store.Load(ctx, "ch-1")

		require.NoError(t, auth.Keys().Set(ctx, map[string]map[string]any{
			"session": {"a": []byte{0xaa}},
		}))
		assert.Equal(t, 1, repo.upserts)

		reloaded, _ := store.Load(ctx, "ch-1")
		assert.Equal(t, []byte{0xaa}, reloaded.Keys().Get(ctx, "session", []string{"a"})["a"])
	})

	t.Run("nil value deletes the entry", func(t *testing.T) {
		repo := newFakeCredentialRepo()
		store := NewStore(repo, nil)
		auth, _ := store.Load(ctx, "ch-1")

		require.NoError(t, auth.Keys().Set(ctx, map[string]map[string]any{
			"session": {"a": []byte{0xaa}, "b": []byte{0xbb}},
		}))
		require.NoError(t, auth.Keys().Set(ctx, map[string]map[string]any{
			"session": {"a": nil},
		}))

		reloaded, _ := store.Load(ctx, "ch-1")
		got := reloaded.Keys().Get(ctx, "session", []string{"a", "b"})
		assert.NotContains(t, got, "a")
		assert.Equal(t, []byte{0xbb}, got["b"])
	})

	t.Run("failed save leaves memory unchanged", func(t *testing.T) {
		repo := newFakeCredentialRepo()
		store := NewStore(repo, nil)
		auth, _ := store.Load(ctx, "ch-1")

		require.NoError(t, auth.Keys().Set(ctx, map[string]map[string]any{
			"session": {"a": []byte{0xaa}},
		}))

		repo.failing = errors.New("db down")
		err := auth.Keys().Set(ctx, map[string]map[string]any{
			"session": {"a": nil, "b": []byte{0xbb}},
			"pre-key": {"1": []byte{0x01}},
		})
		require.Error(t, err)

		got := auth.Keys().Get(ctx, "session", []string{"a", "b"})
		assert.Equal(t, []byte{0xaa}, got["a"])
		assert.NotContains(t, got, "b")
		assert.Empty(t, auth.Keys().Get(ctx, "pre-key", []string{"1"}))

		err = auth.MergeCreds(ctx, map[string]any{"me": "x"})
		require.Error(t, err)
		assert.False(t, auth.Registered())
	})
}

func TestStore_Encryption(t *testing.T) {
	ctx := context.Background()
	cipher, err := util.NewCipher("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	require.NoError(t, err)

	t.Run("stores sealed blobs and reads them back", func(t *testing.T) {
		repo := newFakeCredentialRepo()
		store := NewStore(repo, cipher)

		auth, _ := store.Load(ctx, "ch-1")
		require.NoError(t, auth.MergeCreds(ctx, map[string]any{"me": "5511999999999@s.whatsapp.net"}))

		assert.True(t, strings.HasPrefix(repo.rows["ch-1"], encryptedPrefix))
		assert.NotContains(t, repo.rows["ch-1"], "5511999999999")

		reloaded, err := store.Load(ctx, "ch-1")
		require.NoError(t, err)
		assert.Equal(t, "5511999999999@s.whatsapp.net", reloaded.Creds()["me"])
	})

	t.Run("plaintext rows stay readable after enabling the key", func(t *testing.T) {
		repo := newFakeCredentialRepo()
		plain := NewStore(repo, nil)
		auth, _ := plain.Load(ctx, "ch-1")
		require.NoError(t, auth.MergeCreds(ctx, map[string]any{"me": "x"}))

		sealed := NewStore(repo, cipher)
		reloaded, err := sealed.Load(ctx, "ch-1")
		require.NoError(t, err)
		assert.Equal(t, "x", reloaded.Creds()["me"])
	})
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	repo := newFakeCredentialRepo()
	store := NewStore(repo, nil)

	auth, _ := store.Load(ctx, "ch-1")
	require.NoError(t, auth.SaveCreds(ctx))

	exists, err := store.Exists(ctx, "ch-1")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete(ctx, "ch-1"))

	exists, err = store.Exists(ctx, "ch-1")
	require.NoError(t, err)
	assert.False(t, exists)
}
