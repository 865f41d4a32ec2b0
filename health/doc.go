// Package health tracks the health of the store's components.
//
// Each component (the NATS connection, every change-feed watcher, the cache)
// reports a Status of healthy, degraded or unhealthy to a Monitor. The
// aggregate carries the worst state. A watcher that exhausted its retry
// budget reports degraded: cached data is still served but may go stale.
//
//	monitor := health.NewMonitor()
//	monitor.Update("changefeed.quests", health.FromError("changefeed.quests", err))
//	status := monitor.AggregateHealth("configstore")
package health
