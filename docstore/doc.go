// Package docstore persists the config and message documents of a
// collection.
//
// Each collection maps to one KV bucket. The key "config" holds the config
// document and "messages.<lang>" holds the messages for one language. Both
// are stored as an envelope:
//
//	{"_id": "config", "_version": 3, "_updatedAt": "...", "_origin": "<uuid>", "data": {...}}
//
// Writes are compare-and-swap read-modify-write cycles, so concurrent writers
// never lose each other's keys and the version strictly increases. Loads go
// through the stream bridge and are cancelled when the caller's context ends.
package docstore
