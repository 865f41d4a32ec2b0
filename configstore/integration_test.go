//go:build integration

package configstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/configstore/natsclient"
)

func TestManager_OverJetStream(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithKV())
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	newJS := func(origin, consumer string) *Manager {
		cfg := testConfig()
		cfg.ChangeFeed.Consumer = consumer
		m, err := New(Dependencies{Provider: tc.Client, Origin: origin}, cfg)
		require.NoError(t, err)
		require.NoError(t, m.RegisterCollection(ctx, Collection{Name: "ui", Languages: []string{"en", "pl"}}))
		require.NoError(t, m.Initialize(ctx))
		t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
		return m
	}
	a := newJS("node-a", "a")
	b := newJS("node-b", "b")

	_, err := b.SetConfig(ctx, "ui", "theme", "dark").Get(ctx)
	require.NoError(t, err)
	_, err = b.SetMessage(ctx, "ui", "pl", "greet", "Cześć").Get(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, res := a.Cache().GetConfig("ui", "theme")
		return res.Hit() && v == "dark"
	}, 10*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		v, res := a.Cache().GetMessage("ui", "pl", "greet")
		return res.Hit() && v == "Cześć"
	}, 10*time.Second, 20*time.Millisecond)

	// A restarted node resumes from its persisted token and catches up on
	// writes made while it was down.
	require.NoError(t, a.Shutdown(ctx))
	_, err = b.SetConfig(ctx, "ui", "theme", "light").Get(ctx)
	require.NoError(t, err)

	c := newJS("node-a", "a")
	v, err := c.GetConfigAsync(ctx, "ui", "theme", "none").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "light", v)

	report, err := c.ReloadCollectionsBatchAsync(ctx, []string{"ui", "lobby"}, 2).Get(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.True(t, c.Health().IsHealthy())
}
