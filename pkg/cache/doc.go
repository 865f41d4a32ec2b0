// Package cache holds the in-memory config and message snapshots served to
// readers.
//
// A Manager keeps one immutable snapshot per Scope: the config data of a
// collection, or its messages for one language. Reads never take a lock.
// Writes replace a whole snapshot and are serialised through a bounded LRU
// (github.com/hashicorp/golang-lru/v2/expirable) that enforces MaxEntries.
// TTL is checked on every read and expired snapshots are swept on the next
// write, so a Manager owns no background goroutine. Capacity and expiry
// removals count as evictions; explicit invalidation does not.
//
// Every read counts one request and exactly one hit or miss. Statistics are
// cumulative: InvalidateAll leaves them alone and only ResetStats zeroes them.
//
// Loads that race with invalidation use tickets:
//
//	t := mgr.Begin(cache.ConfigScope("quests"))
//	data, err := load(ctx)
//	mgr.RecordLoad(time.Since(start), err)
//	if err == nil {
//	    mgr.CommitConfig(t, data) // false if "quests" was invalidated meanwhile
//	}
package cache
