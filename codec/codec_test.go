package codec

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/c360/configstore/errors"
)

type reward struct {
	Item   string
	Amount int
}

type questDefaults struct {
	Title    string
	Level    int
	Weight   float64
	Enabled  bool
	Seed     int64
	Tags     []string
	Labels   map[string]string
	StartsAt time.Time
	Reward   *reward
}

var rewardSchema = MustSchema("reward", "game.Reward",
	String("item", func(r *reward) string { return r.Item }, func(r *reward, v string) { r.Item = v }).Required(),
	Int("amount", func(r *reward) int { return r.Amount }, func(r *reward, v int) { r.Amount = v }),
)

var questSchema = MustSchema("quest-defaults", "game.QuestDefaults",
	String("title", func(q *questDefaults) string { return q.Title }, func(q *questDefaults, v string) { q.Title = v }).Required(),
	Int("level", func(q *questDefaults) int { return q.Level }, func(q *questDefaults, v int) { q.Level = v }),
	Float("weight", func(q *questDefaults) float64 { return q.Weight }, func(q *questDefaults, v float64) { q.Weight = v }),
	Bool("enabled", func(q *questDefaults) bool { return q.Enabled }, func(q *questDefaults, v bool) { q.Enabled = v }),
	Int64("seed", func(q *questDefaults) int64 { return q.Seed }, func(q *questDefaults, v int64) { q.Seed = v }),
	Strings("tags", func(q *questDefaults) []string { return q.Tags }, func(q *questDefaults, v []string) { q.Tags = v }),
	StringMap("labels", func(q *questDefaults) map[string]string { return q.Labels }, func(q *questDefaults, v map[string]string) { q.Labels = v }),
	Time("startsAt", func(q *questDefaults) time.Time { return q.StartsAt }, func(q *questDefaults, v time.Time) { q.StartsAt = v }),
	Nested("reward", rewardSchema, func(q *questDefaults) *reward { return q.Reward }, func(q *questDefaults, v *reward) { q.Reward = v }),
)

func sampleQuest() *questDefaults {
	return &questDefaults{
		Title:    "Dragon Hunt",
		Level:    12,
		Weight:   0.75,
		Enabled:  true,
		Seed:     1 << 40,
		Tags:     []string{"pve", "boss"},
		Labels:   map[string]string{"zone": "north"},
		StartsAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Reward:   &reward{Item: "gold", Amount: 500},
	}
}

func assertQuestEqual(t require.TestingT, want, got *questDefaults) {
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("decoded quest differs (-want +got):\n%s", diff)
	}
}

func TestEncode_AddsReservedKeys(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	doc, err := questSchema.Encode(sampleQuest(), "quest-defaults", 3, at)
	require.NoError(t, err)

	assert.Equal(t, "quest-defaults", doc.ID())
	assert.Equal(t, "game.QuestDefaults", doc.Class())
	assert.Equal(t, int64(3), doc.Version())
	assert.True(t, at.Equal(doc.UpdatedAt()))
	assert.Equal(t, "Dragon Hunt", doc["title"])
	assert.NotContains(t, doc.Fields(), KeyVersion)
}

func TestRoundTrip_InMemory(t *testing.T) {
	q := sampleQuest()
	doc, err := questSchema.Encode(q, questSchema.Name(), 1, time.Now())
	require.NoError(t, err)

	got, err := questSchema.Decode(doc)
	require.NoError(t, err)
	assertQuestEqual(t, q, got)
}

func TestRoundTrip_ThroughJSON(t *testing.T) {
	q := sampleQuest()
	doc, err := questSchema.Encode(q, questSchema.Name(), 7, time.Now())
	require.NoError(t, err)

	data, err := doc.Marshal()
	require.NoError(t, err)
	parsed, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, int64(7), parsed.Version())
	got, err := questSchema.Decode(parsed)
	require.NoError(t, err)
	assertQuestEqual(t, q, got)
}

func TestEncode_RejectsUnsupportedValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(q *questDefaults)
	}{
		{"nan", func(q *questDefaults) { q.Weight = math.NaN() }},
		{"inf", func(q *questDefaults) { q.Weight = math.Inf(1) }},
		{"invalid utf8", func(q *questDefaults) { q.Title = string([]byte{0xff, 0xfe}) }},
		{"invalid utf8 tag", func(q *questDefaults) { q.Tags = []string{"ok", string([]byte{0xc3})} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := sampleQuest()
			tt.mutate(q)
			_, err := questSchema.Encode(q, "id", 1, time.Now())
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrCodec)
			assert.ErrorIs(t, err, errors.ErrUnsupportedValue)
		})
	}

	_, err := questSchema.Encode(nil, "id", 1, time.Now())
	assert.ErrorIs(t, err, errors.ErrCodec)
}

func TestDecode_MissingRequiredField(t *testing.T) {
	doc := Document{KeyID: "quest-defaults", "level": int64(3)}
	_, err := questSchema.Decode(doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDecode)
	assert.ErrorIs(t, err, errors.ErrMissingField)
}

func TestDecode_IncompatibleShape(t *testing.T) {
	tests := []struct {
		name string
		doc  Document
	}{
		{"string for int", Document{"title": "x", "level": "high"}},
		{"fractional int", Document{"title": "x", "level": 1.5}},
		{"number for string", Document{"title": 42.0}},
		{"scalar for list", Document{"title": "x", "tags": "pve"}},
		{"bad nested", Document{"title": "x", "reward": "gold"}},
		{"nested missing required", Document{"title": "x", "reward": map[string]any{"amount": 1.0}}},
		{"bad time", Document{"title": "x", "startsAt": "yesterday"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := questSchema.Decode(tt.doc)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrDecode)
		})
	}
}

func TestDecode_WidensIntegralFloats(t *testing.T) {
	got, err := questSchema.Decode(Document{"title": "x", "level": 4.0, "seed": 9.0})
	require.NoError(t, err)
	assert.Equal(t, 4, got.Level)
	assert.Equal(t, int64(9), got.Seed)
}

func TestDecode_IgnoresReservedAndUnknownKeys(t *testing.T) {
	got, err := questSchema.Decode(Document{
		KeyID: "other", KeyClass: "x.Y", KeyVersion: int64(99), KeyUpdatedAt: "garbage",
		"title": "x", "unknown": true,
	})
	require.NoError(t, err)
	assert.Equal(t, "x", got.Title)
}

func TestNewSchema_Validation(t *testing.T) {
	get := func(r *reward) string { return r.Item }
	set := func(r *reward, v string) { r.Item = v }

	_, err := NewSchema[reward]("", "x")
	assert.True(t, errors.IsInvalid(err))

	_, err = NewSchema("r", "x", String(KeyVersion, get, set))
	assert.Error(t, err)

	_, err = NewSchema("r", "x", String("a", get, set), String("a", get, set))
	assert.Error(t, err)

	assert.Panics(t, func() { MustSchema("r", "x", String("", get, set)) })
}

func TestSchema_InCollection(t *testing.T) {
	routed := questSchema.InCollection("quests")
	assert.Equal(t, "quests", routed.Collection())
	assert.Equal(t, "", questSchema.Collection())
	assert.Equal(t, questSchema.Name(), routed.Name())
}

func TestSchema_EncodeValue(t *testing.T) {
	v, err := questSchema.EncodeValue("level", 3.0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	_, err = questSchema.EncodeValue("level", "three")
	assert.ErrorIs(t, err, errors.ErrCodec)

	_, err = questSchema.EncodeValue("missing", 1)
	assert.ErrorIs(t, err, errors.ErrCodec)
}

func TestDocument_Touch(t *testing.T) {
	doc := Document{}
	assert.Equal(t, int64(1), doc.Touch(time.Now()))
	assert.Equal(t, int64(2), doc.Touch(time.Now()))
	assert.Equal(t, int64(2), doc.Version())
	assert.False(t, doc.UpdatedAt().IsZero())
}

func TestUnmarshal_KeepsLargeIntegersExact(t *testing.T) {
	doc, err := Unmarshal([]byte(`{"seed": 9007199254740993, "ratio": 0.5, "nested": {"n": 1}, "list": [1, 2.5]}`))
	require.NoError(t, err)
	assert.Equal(t, int64(9007199254740993), doc["seed"])
	assert.Equal(t, 0.5, doc["ratio"])
	assert.Equal(t, map[string]any{"n": int64(1)}, doc["nested"])
	assert.Equal(t, []any{int64(1), 2.5}, doc["list"])

	_, err = Unmarshal([]byte(`not json`))
	assert.Error(t, err)
}

func TestCanonical(t *testing.T) {
	v, err := Canonical(5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	v, err = Canonical(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": int64(1)}, v)

	v, err = Canonical([]string{"x"})
	require.NoError(t, err)
	assert.Equal(t, []any{"x"}, v)

	_, err = Canonical(math.NaN())
	assert.Error(t, err)
}

func questGen() *rapid.Generator[*questDefaults] {
	return rapid.Custom(func(t *rapid.T) *questDefaults {
		q := &questDefaults{
			Title:   rapid.String().Draw(t, "title"),
			Level:   rapid.Int().Draw(t, "level"),
			Weight:  rapid.Float64Range(-1e9, 1e9).Draw(t, "weight"),
			Enabled: rapid.Bool().Draw(t, "enabled"),
			Seed:    rapid.Int64().Draw(t, "seed"),
			StartsAt: time.Unix(rapid.Int64Range(0, 4102444800).Draw(t, "startsAt"),
				rapid.Int64Range(0, 999999999).Draw(t, "nanos")).UTC(),
		}
		if rapid.Bool().Draw(t, "hasTags") {
			q.Tags = rapid.SliceOf(rapid.String()).Draw(t, "tags")
		}
		if rapid.Bool().Draw(t, "hasLabels") {
			q.Labels = rapid.MapOf(rapid.String(), rapid.String()).Draw(t, "labels")
		}
		if rapid.Bool().Draw(t, "hasReward") {
			q.Reward = &reward{
				Item:   rapid.String().Draw(t, "item"),
				Amount: rapid.Int().Draw(t, "amount"),
			}
		}
		return q
	})
}

func TestProperty_EncodeDecodeRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		q := questGen().Draw(rt, "quest")
		version := rapid.Int64Range(1, 1<<40).Draw(rt, "version")

		doc, err := questSchema.Encode(q, questSchema.Name(), version, time.Now())
		if err != nil {
			rt.Fatalf("encode: %v", err)
		}
		data, err := doc.Marshal()
		if err != nil {
			rt.Fatalf("marshal: %v", err)
		}
		parsed, err := Unmarshal(data)
		if err != nil {
			rt.Fatalf("unmarshal: %v", err)
		}
		if parsed.Version() != version {
			rt.Fatalf("version %d != %d", parsed.Version(), version)
		}
		got, err := questSchema.Decode(parsed)
		if err != nil {
			rt.Fatalf("decode: %v", err)
		}
		assertQuestEqual(rt, q, got)
	})
}
