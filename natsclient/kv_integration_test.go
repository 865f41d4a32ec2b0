//go:build integration

package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJetStreamBucket_CASAndWatchResume(t *testing.T) {
	tc := NewTestClient(t, WithKV())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bucket, err := tc.Client.OpenBucket(ctx, "configs_app")
	require.NoError(t, err)
	kv := NewKVStore(bucket, nil)

	rev1, err := kv.Create(ctx, "config", []byte(`{"_version":1}`))
	require.NoError(t, err)

	_, err = kv.Create(ctx, "config", []byte(`{}`))
	assert.ErrorIs(t, err, ErrKVKeyExists)

	_, err = kv.Update(ctx, "config", []byte(`{}`), rev1+100)
	assert.ErrorIs(t, err, ErrKVRevisionMismatch)

	rev2, err := kv.UpdateJSON(ctx, "config", func(doc map[string]any) error {
		doc["_version"] = 2
		return nil
	})
	require.NoError(t, err)
	assert.Greater(t, rev2, rev1)

	w, err := kv.WatchFrom(ctx, ">", rev2)
	require.NoError(t, err)
	defer w.Stop()

	select {
	case e := <-w.Updates():
		require.NotNil(t, e)
		assert.Equal(t, rev2, e.Revision)
		assert.Equal(t, KVPut, e.Operation)
	case <-ctx.Done():
		t.Fatal("no replayed entry")
	}

	require.NoError(t, kv.Delete(ctx, "config"))
	select {
	case e := <-w.Updates():
		require.NotNil(t, e)
		assert.Equal(t, KVDelete, e.Operation)
	case <-ctx.Done():
		t.Fatal("no delete entry")
	}

	_, err = kv.Get(ctx, "config")
	assert.True(t, IsKVNotFoundError(err))
}

func TestJetStreamBucket_UpdatesOnlyWatch(t *testing.T) {
	tc := NewTestClient(t, WithKV())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bucket, err := tc.Client.OpenBucket(ctx, "configs_live")
	require.NoError(t, err)
	kv := NewKVStore(bucket, nil)

	_, err = kv.Put(ctx, "messages.en", []byte(`{"a":"b"}`))
	require.NoError(t, err)

	w, err := kv.Watch(ctx, "messages.*")
	require.NoError(t, err)
	defer w.Stop()

	_, err = kv.Put(ctx, "messages.fr", []byte(`{"a":"c"}`))
	require.NoError(t, err)

	select {
	case e := <-w.Updates():
		assert.Equal(t, "messages.fr", e.Key)
	case <-ctx.Done():
		t.Fatal("no live entry")
	}
}
