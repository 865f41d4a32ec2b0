package objectstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/c360/configstore/codec"
	cserrors "github.com/c360/configstore/errors"
	"github.com/c360/configstore/natsclient"
	"github.com/c360/configstore/pkg/worker"
)

type questDefaults struct {
	Title   string
	Level   int
	Enabled bool
	Tags    []string
}

var questSchema = codec.MustSchema("quest-defaults", "game.QuestDefaults",
	codec.String("title", func(q *questDefaults) string { return q.Title }, func(q *questDefaults, v string) { q.Title = v }),
	codec.Int("level", func(q *questDefaults) int { return q.Level }, func(q *questDefaults, v int) { q.Level = v }),
	codec.Bool("enabled", func(q *questDefaults) bool { return q.Enabled }, func(q *questDefaults, v bool) { q.Enabled = v }),
	codec.Strings("tags", func(q *questDefaults) []string { return q.Tags }, func(q *questDefaults, v []string) { q.Tags = v }),
).InCollection("quests")

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t testing.TB, mem *natsclient.MemoryKV) *Store {
	t.Helper()
	pool := worker.NewTaskPool(4, 64)
	require.NoError(t, pool.Start(context.Background()))
	t.Cleanup(func() { _ = pool.Stop(5 * time.Second) })

	router := NewRouter(mem, "game", "settings", nil, func(o *natsclient.KVOptions) {
		o.RetryDelay = time.Millisecond
		o.MaxRetryDelay = 5 * time.Millisecond
		o.MaxRetries = 100
	})
	return New(router, pool, WithClock(func() time.Time { return fixedNow }))
}

func TestSetObject_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, natsclient.NewMemoryKV())

	in := &questDefaults{Title: "Dragon Hunt", Level: 12, Enabled: true, Tags: []string{"pve"}}
	v, err := SetObject(ctx, s, questSchema, in).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	out, err := GetObject(ctx, s, questSchema).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	rec, err := GetRecord(ctx, s, questSchema, "quest-defaults").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, "quests", rec.Collection)
	assert.True(t, fixedNow.Equal(rec.UpdatedAt))
}

func TestSetObject_ReplacesNeverMerges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, natsclient.NewMemoryKV())

	_, err := SetObject(ctx, s, questSchema, &questDefaults{Title: "A", Tags: []string{"x"}}).Get(ctx)
	require.NoError(t, err)
	v, err := SetObject(ctx, s, questSchema, &questDefaults{Title: "B"}).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	out, err := GetObject(ctx, s, questSchema).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "B", out.Title)
	assert.Nil(t, out.Tags)
}

func TestGetObject_Absent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, natsclient.NewMemoryKV())

	out, ok, err := GetObject(ctx, s, questSchema).Await(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, out)
}

func TestGetObject_InvalidID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, natsclient.NewMemoryKV())

	_, err := GetObjectByID(ctx, s, questSchema, "bad id.x").Get(ctx)
	require.Error(t, err)
	assert.True(t, cserrors.IsInvalid(err))
}

func TestGetObject_CorruptRecord(t *testing.T) {
	ctx := context.Background()
	mem := natsclient.NewMemoryKV()
	s := newTestStore(t, mem)

	_, err := mem.Bucket("game_quests").Put(ctx, "objects.quest-defaults", []byte("{not json"))
	require.NoError(t, err)

	_, err = GetObject(ctx, s, questSchema).Get(ctx)
	require.Error(t, err)
	assert.True(t, cserrors.IsKind(err, cserrors.KindDecode))
}

func TestSetObject_FallsBackToDefaultCollection(t *testing.T) {
	ctx := context.Background()
	mem := natsclient.NewMemoryKV()
	mem.FailOpen("game_quests", errors.New("bucket limit reached"))
	s := newTestStore(t, mem)

	_, err := SetObject(ctx, s, questSchema, &questDefaults{Title: "Fallback"}).Get(ctx)
	require.NoError(t, err)

	entry, err := mem.Bucket("game_settings").Get(ctx, "objects.quest-defaults")
	require.NoError(t, err)
	assert.Contains(t, string(entry.Value), "Fallback")
}

func TestSetObject_PersistenceFailure(t *testing.T) {
	ctx := context.Background()
	mem := natsclient.NewMemoryKV()
	s := newTestStore(t, mem)
	mem.Bucket("game_quests").FailNext("create", 200, errors.New("disk full"))

	_, err := SetObject(ctx, s, questSchema, &questDefaults{Title: "X"}).Get(ctx)
	require.Error(t, err)
	assert.True(t, cserrors.IsKind(err, cserrors.KindPersistence))
}

func TestSetObjectIfVersion(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, natsclient.NewMemoryKV())

	v, err := SetObjectIfVersion(ctx, s, questSchema, &questDefaults{Title: "A"}, 0).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	_, err = SetObjectIfVersion(ctx, s, questSchema, &questDefaults{Title: "B"}, 0).Get(ctx)
	require.Error(t, err)
	assert.True(t, cserrors.IsKind(err, cserrors.KindVersionConflict))

	v, err = SetObjectIfVersion(ctx, s, questSchema, &questDefaults{Title: "B"}, 1).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestGetOrGenerate_GeneratesOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, natsclient.NewMemoryKV())

	var calls atomic.Int32
	gen := func() (*questDefaults, error) {
		calls.Add(1)
		time.Sleep(5 * time.Millisecond)
		return &questDefaults{Title: "Generated", Level: 1, Tags: []string{"pve"}}, nil
	}

	const callers = 16
	results := make([]*questDefaults, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := GetOrGenerate(ctx, s, questSchema, gen).Get(ctx)
			assert.NoError(t, err)
			results[i] = out
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i, r := range results {
		require.NotNil(t, r, "caller %d", i)
		assert.Equal(t, "Generated", r.Title)
	}
	assert.NotSame(t, results[0], results[1])

	results[0].Tags[0] = "pvp"
	assert.Equal(t, []string{"pve"}, results[1].Tags, "callers must not share slices")
}

func TestGetOrGenerate_CancelledCallerDoesNotFailOthers(t *testing.T) {
	s := newTestStore(t, natsclient.NewMemoryKV())

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	gen := func() (*questDefaults, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return &questDefaults{Title: "Generated", Level: 3}, nil
	}

	ctx1, cancel := context.WithCancel(context.Background())
	first := GetOrGenerate(ctx1, s, questSchema, gen)
	<-started

	ctx := context.Background()
	second := GetOrGenerate(ctx, s, questSchema, gen)

	cancel()
	_, err := first.Get(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	close(release)

	out, err := second.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Generated", out.Title)
	assert.Equal(t, int32(1), calls.Load())

	stored, err := GetObject(ctx, s, questSchema).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, out, stored)
}

func TestGetOrGenerate_ReturnsStored(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, natsclient.NewMemoryKV())

	_, err := SetObject(ctx, s, questSchema, &questDefaults{Title: "Existing"}).Get(ctx)
	require.NoError(t, err)

	out, err := GetOrGenerate(ctx, s, questSchema, func() (*questDefaults, error) {
		return nil, errors.New("generator must not run when the record exists")
	}).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Existing", out.Title)
}

func TestGetOrGenerate_LosesCreateRace(t *testing.T) {
	ctx := context.Background()
	mem := natsclient.NewMemoryKV()
	local := newTestStore(t, mem)
	remote := newTestStore(t, mem)

	out, err := GetOrGenerate(ctx, local, questSchema, func() (*questDefaults, error) {
		// Another process persists its default between our load and create.
		if _, err := SetObject(ctx, remote, questSchema, &questDefaults{Title: "Remote"}).Get(ctx); err != nil {
			return nil, err
		}
		return &questDefaults{Title: "Local"}, nil
	}).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Remote", out.Title)

	stored, err := GetObject(ctx, local, questSchema).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, out, stored)
}

func TestGetOrGenerate_GeneratorError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, natsclient.NewMemoryKV())
	boom := errors.New("no defaults")

	_, err := GetOrGenerate(ctx, s, questSchema, func() (*questDefaults, error) {
		return nil, boom
	}).Get(ctx)
	assert.ErrorIs(t, err, boom)

	_, ok, err := GetObject(ctx, s, questSchema).Await(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFieldAccess(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, natsclient.NewMemoryKV())

	_, err := SetObject(ctx, s, questSchema, &questDefaults{Title: "A", Level: 3}).Get(ctx)
	require.NoError(t, err)

	v, err := SetField(ctx, s, questSchema, "quest-defaults", "level", 7).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	level, err := GetField(ctx, s, questSchema, "quest-defaults", "level").Get(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 7, level)

	out, err := GetObject(ctx, s, questSchema).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", out.Title)
	assert.Equal(t, 7, out.Level)

	_, ok, err := GetField(ctx, s, questSchema, "quest-defaults", "tags").Await(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetField_Errors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, natsclient.NewMemoryKV())

	_, err := SetField(ctx, s, questSchema, "quest-defaults", "level", 1).Get(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, cserrors.ErrKeyNotFound)
	assert.True(t, cserrors.IsInvalid(err))

	_, err = SetField(ctx, s, questSchema, "quest-defaults", "_version", 9).Get(ctx)
	assert.True(t, cserrors.IsInvalid(err))

	_, err = SetField(ctx, s, questSchema, "quest-defaults", "level", "high").Get(ctx)
	assert.True(t, cserrors.IsKind(err, cserrors.KindCodec))

	_, err = SetField(ctx, s, questSchema, "quest-defaults", "unknown", 1).Get(ctx)
	assert.True(t, cserrors.IsKind(err, cserrors.KindCodec))
}

func TestSetObject_VersionsIncreaseProperty(t *testing.T) {
	s := newTestStore(t, natsclient.NewMemoryKV())

	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		id := rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "id")
		schema := codec.MustSchema(id, "game.QuestDefaults",
			codec.String("title", func(q *questDefaults) string { return q.Title }, func(q *questDefaults, v string) { q.Title = v }),
			codec.Int("level", func(q *questDefaults) int { return q.Level }, func(q *questDefaults, v int) { q.Level = v }),
		).InCollection("quests")

		prev := int64(0)
		rec, ok, err := GetRecord(ctx, s, schema, id).Join(ctx)
		require.NoError(t, err)
		if ok {
			prev = rec.Version
		}

		in := &questDefaults{
			Title: rapid.StringMatching(`[A-Za-z ]{0,16}`).Draw(t, "title"),
			Level: rapid.IntRange(-1000, 1000).Draw(t, "level"),
		}
		v, err := SetObject(ctx, s, schema, in).Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, prev+1, v)

		out, err := GetObject(ctx, s, schema).Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, in.Title, out.Title)
		assert.Equal(t, in.Level, out.Level)
	})
}
