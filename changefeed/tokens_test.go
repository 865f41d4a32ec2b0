package changefeed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cserrors "github.com/c360/configstore/errors"
	"github.com/c360/configstore/natsclient"
)

func TestTokenBucket(t *testing.T) {
	assert.Equal(t, "game_changefeed_tokens", TokenBucket("game"))
}

func TestKVTokenStore(t *testing.T) {
	ctx := context.Background()
	b := natsclient.NewMemoryKV().Bucket(TokenBucket("game"))
	store := NewKVTokenStore(natsclient.NewKVStore(b, nil), "")

	_, ok, err := store.Load(ctx, "quests")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(ctx, "quests", 42))
	require.NoError(t, store.Save(ctx, "quests", 43))
	token, ok, err := store.Load(ctx, "quests")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(43), token)

	_, err = b.Put(ctx, "broken", []byte("not-a-number"))
	require.NoError(t, err)
	_, _, err = store.Load(ctx, "broken")
	assert.True(t, cserrors.IsKind(err, cserrors.KindDecode))
}

func TestKVTokenStore_ConsumersAreIsolated(t *testing.T) {
	ctx := context.Background()
	b := natsclient.NewMemoryKV().Bucket(TokenBucket("game"))
	kv := natsclient.NewKVStore(b, nil)
	east := NewKVTokenStore(kv, "east")
	west := NewKVTokenStore(kv, "west node")

	require.NoError(t, east.Save(ctx, "quests", 10))
	require.NoError(t, west.Save(ctx, "quests", 20))

	token, _, err := east.Load(ctx, "quests")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), token)
	token, _, err = west.Load(ctx, "quests")
	require.NoError(t, err)
	assert.Equal(t, uint64(20), token)

	_, err = b.Get(ctx, "west_node.quests")
	assert.NoError(t, err)
}

func TestMemoryTokenStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTokenStore()

	_, ok, err := store.Load(ctx, "quests")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(ctx, "quests", 7))
	token, ok, _ := store.Load(ctx, "quests")
	assert.True(t, ok)
	assert.Equal(t, uint64(7), token)
}
