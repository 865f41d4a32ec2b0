package configstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/configstore/changefeed"
	"github.com/c360/configstore/errors"
	"github.com/c360/configstore/pkg/cache"
	"github.com/c360/configstore/pkg/stream"
)

// BatchReport is the outcome of a batch reload. A failed collection does not
// abort its siblings.
type BatchReport struct {
	Requested []string         `json:"requested"`
	Reloaded  []string         `json:"reloaded"`
	Failed    map[string]error `json:"-"`
}

// OK reports whether every requested collection was reloaded.
func (r *BatchReport) OK() bool { return len(r.Failed) == 0 }

// Err joins the per-collection failures, or returns nil.
func (r *BatchReport) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.Failed))
	for name := range r.Failed {
		names = append(names, name)
	}
	sort.Strings(names)
	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, fmt.Errorf("%s: %w", name, r.Failed[name]))
	}
	return stderrors.Join(errs...)
}

// FailureMessages returns the failure of each collection as text.
func (r *BatchReport) FailureMessages() map[string]string {
	out := make(map[string]string, len(r.Failed))
	for name, err := range r.Failed {
		out[name] = err.Error()
	}
	return out
}

// InvalidateAllAsync drops every cached scope. Statistics are kept.
func (m *Manager) InvalidateAllAsync(ctx context.Context) *stream.Future[struct{}] {
	return submit(ctx, m, "invalidate_all", func(context.Context) (struct{}, bool, error) {
		m.cache.InvalidateAll()
		m.logger.Info("Cache invalidated")
		return struct{}{}, true, nil
	})
}

// ReloadCollectionAsync drops the cached scopes of a collection and loads
// its config and every known language again.
func (m *Manager) ReloadCollectionAsync(ctx context.Context, collection string) *stream.Future[struct{}] {
	return submit(ctx, m, "reload_collection", func(ctx context.Context) (struct{}, bool, error) {
		a, err := m.collectionFor(ctx, collection)
		if err != nil {
			return struct{}{}, false, err
		}
		if err := m.reloadCollection(ctx, a); err != nil {
			return struct{}{}, false, err
		}
		return struct{}{}, true, nil
	})
}

// ReloadCollectionsBatchAsync reloads names with at most concurrency reloads
// in flight. An empty batch completes immediately.
func (m *Manager) ReloadCollectionsBatchAsync(ctx context.Context, names []string, concurrency int) *stream.Future[*BatchReport] {
	if concurrency < 1 {
		return stream.Reject[*BatchReport](errors.WrapInvalid(
			fmt.Errorf("%w: concurrency %d", errors.ErrInvalidConfig, concurrency),
			"configstore", "ReloadCollectionsBatchAsync", "validate concurrency"))
	}
	if _, _, err := m.running(); err != nil {
		return stream.Reject[*BatchReport](err)
	}
	report := &BatchReport{
		Requested: dedupe(names),
		Reloaded:  []string{},
		Failed:    make(map[string]error),
	}
	if len(report.Requested) == 0 {
		return stream.Resolve(report)
	}

	return submit(ctx, m, "reload_batch", func(ctx context.Context) (*BatchReport, bool, error) {
		start := m.now()
		results := make([]error, len(report.Requested))

		// Sibling failures are collected, never returned, so the group
		// context is not cancelled by one bad collection.
		var g errgroup.Group
		g.SetLimit(concurrency)
		for i, name := range report.Requested {
			g.Go(func() error {
				a, err := m.collectionFor(ctx, name)
				if err == nil {
					err = m.reloadCollection(ctx, a)
				}
				results[i] = err
				return nil
			})
		}
		_ = g.Wait()

		for i, name := range report.Requested {
			if results[i] != nil {
				report.Failed[name] = results[i]
				m.logger.Warn("Collection reload failed", "collection", name, "error", results[i])
				continue
			}
			report.Reloaded = append(report.Reloaded, name)
		}
		m.logger.Info("Batch reload finished",
			"requested", len(report.Requested),
			"reloaded", len(report.Reloaded),
			"failed", len(report.Failed),
			"concurrency", concurrency,
			"duration", m.now().Sub(start))
		return report, true, nil
	})
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// reloadCollection drops every cached scope of the collection and loads the
// config and the messages of every language known to the registry or stored
// in the bucket.
func (m *Manager) reloadCollection(ctx context.Context, a *attached) error {
	name := a.coll.Name
	m.cache.Invalidate(name)

	stored, err := a.docs.Languages(ctx)
	if err != nil {
		return err
	}
	m.languages.Add(name, stored...)

	if _, err := m.loadConfigScope(ctx, a); err != nil {
		return err
	}
	for _, lang := range m.languages.Languages(name) {
		if _, err := m.loadMessageScope(ctx, a, lang); err != nil {
			return err
		}
	}
	return nil
}

// loadConfigScope loads the config document into the cache. A missing
// document caches an empty scope so reads resolve to their defaults without
// another round trip. The commit is dropped when the scope was invalidated
// while loading; the loaded data is returned either way.
func (m *Manager) loadConfigScope(ctx context.Context, a *attached) (map[string]any, error) {
	ticket := m.cache.Begin(cache.ConfigScope(a.coll.Name))
	start := time.Now()
	doc, ok, err := a.docs.LoadConfig(ctx)
	m.cache.RecordLoad(time.Since(start), err)
	if err != nil {
		return nil, err
	}
	data := map[string]any{}
	if ok {
		data = doc.Data
	}
	if !m.cache.CommitConfig(ticket, data) {
		m.logger.Debug("Discarded stale config load", "collection", a.coll.Name)
	}
	return data, nil
}

func (m *Manager) loadMessageScope(ctx context.Context, a *attached, lang string) (map[string]string, error) {
	ticket := m.cache.Begin(cache.MessageScope(a.coll.Name, lang))
	start := time.Now()
	doc, ok, err := a.docs.LoadMessages(ctx, lang)
	m.cache.RecordLoad(time.Since(start), err)
	if err != nil {
		return nil, err
	}
	data := map[string]string{}
	if ok {
		data = doc.Messages
	}
	if !m.cache.CommitMessages(ticket, data) {
		m.logger.Debug("Discarded stale message load", "collection", a.coll.Name, "lang", lang)
	}
	return data, nil
}

// feedHandler applies change-feed events of one collection to the cache.
type feedHandler struct {
	m *Manager
	a *attached
}

func (h *feedHandler) Invalidate(ev changefeed.Event) {
	h.m.cache.InvalidateScope(ev.Scope)
	if ev.Scope.IsMessages() {
		h.m.languages.Add(ev.Collection, ev.Scope.Lang)
	}
}

func (h *feedHandler) Reload(ctx context.Context, ev changefeed.Event) error {
	var err error
	if ev.Scope.IsMessages() {
		_, err = h.m.loadMessageScope(ctx, h.a, ev.Scope.Lang)
	} else {
		_, err = h.m.loadConfigScope(ctx, h.a)
	}
	return err
}

func (h *feedHandler) Resync(ctx context.Context, _ string) error {
	return h.m.reloadCollection(ctx, h.a)
}
