// Package adminapi serves the cache administration HTTP surface of a
// configstore.Manager.
//
// Routes:
//
//	GET  /health                                   aggregate store health, 503 when unhealthy
//	GET  /stats                                    cache statistics
//	POST /stats/reset                              zero the cumulative counters
//	POST /invalidate                               drop every cached scope
//	POST /reload                                   batch reload, body {"collections": [...], "concurrency": n}
//	GET  /collections                              attached collections and watcher states
//	GET  /collections/{name}                       one collection with its languages
//	POST /collections/{name}/invalidate            drop the collection's scopes
//	POST /collections/{name}/reload                reload one collection
//	GET  /collections/{name}/config                config snapshot
//	GET  /collections/{name}/messages/{lang}/{key} message lookup with fallback
//	GET  /config                                   redacted daemon configuration (WithConfig)
//	GET  /metrics                                  Prometheus exposition (WithMetrics)
//
// A batch reload that loses some collections answers 207 with the failures
// listed per collection. With WithRateLimit, the POST routes share one token
// bucket and answer 429 once it is empty.
package adminapi
