// Package natsclient manages the NATS connection and the JetStream key/value
// buckets that serve as the document database for the config store.
//
// # Buckets
//
// Bucket is the primitive surface every store component programs against.
// Client.OpenBucket returns JetStream-backed buckets, creating them on first
// use; MemoryKV provides the same semantics in-process for standalone mode
// and tests:
//
//   - revisions are bucket-global and strictly increasing
//   - Create fails with ErrKVKeyExists if the key is live
//   - Update is compare-and-swap on the key's last revision
//   - Watch with a zero FromRevision follows only new changes; a non-zero
//     revision replays retained history from that point first
//
// # KVStore
//
// KVStore layers timeouts, value-size limits and CAS retry on a Bucket:
//
//	kv := natsclient.NewKVStore(bucket, logger)
//	rev, err := kv.UpdateJSON(ctx, "config", func(doc map[string]any) error {
//	    doc["_version"] = nextVersion(doc)
//	    return nil
//	})
//
// GetPublisher and KeysPublisher expose reads as demand-driven publishers
// for the stream package.
//
// # Connection lifecycle
//
// A Client moves through Disconnected → Connecting → Connected, and to
// Reconnecting while the NATS library reconnects on its own. Close drains the
// connection, bounded by the drain timeout or the context deadline, and
// clears credentials.
//
// # Testing
//
// Unit tests use MemoryKV, whose MemoryBucket can fail the next N calls of an
// operation, fail watch opens, or sever all live watchers. Integration tests
// build with the integration tag and start a NATS container through
// NewTestClient.
package natsclient
