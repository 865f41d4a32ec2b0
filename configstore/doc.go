// Package configstore is the entry point of the config and localization
// store.
//
// A Manager ties together the cache, the worker pool, the typed object store
// and one change-feed watcher per collection. Reads are served from the cache
// when possible and loaded on a miss; writes go to the database first and then
// update the local snapshot. Writes made by other processes arrive through the
// change feed, which invalidates the affected scope and warms it again.
//
// Basic usage:
//
//	mgr, err := configstore.New(configstore.Dependencies{
//		Provider: natsClient,
//		Logger:   logger,
//		Registry: metricsRegistry,
//	}, configstore.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	_ = mgr.RegisterCollection(ctx, configstore.Collection{Name: "ui", Languages: []string{"en", "pl"}})
//	if err := mgr.Initialize(ctx); err != nil {
//		return err
//	}
//	defer mgr.Shutdown(context.Background())
//
//	title, err := mgr.GetMessageAsync(ctx, "ui", "pl", "menu.title").Get(ctx)
//
// Every operation that may touch the database returns a *stream.Future.
// Typed objects use the package functions Save, Load and GetOrGenerate with a
// codec.Schema describing the type.
//
// When a change feed exhausts its reconnection budget the store keeps serving
// cached data. Health reports the collection as degraded until the store is
// restarted.
package configstore
