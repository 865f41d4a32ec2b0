// Package objectstore persists typed objects as flat documents in per-collection
// KV buckets.
//
// A codec.Schema names the record, its type tag and its preferred collection.
// The Router maps the collection onto the bucket <database>_<collection> and
// falls back to the default collection when the preferred bucket cannot be
// opened. Records live under the key objects.<id>.
//
// Every operation is submitted to a worker pool and returns a stream.Future:
//
//	f := objectstore.GetOrGenerate(ctx, store, questSchema, func() (*Quest, error) {
//		return &Quest{Title: "Dragon Hunt"}, nil
//	})
//	quest, err := f.Get(ctx)
//
// SetObject replaces the whole record and never merges. SetField rewrites a
// single field and advances the record version. SetObjectIfVersion adds
// optimistic concurrency for callers that need it.
package objectstore
