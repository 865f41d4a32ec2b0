// Package changefeed keeps cached configuration coherent with writes made by
// other processes.
//
// A Watcher follows the KV watch of one collection bucket. Each change to the
// config document or to a messages.<lang> document is narrowed to its cache
// scope, the scope is invalidated, and a reload is started in the background
// so the next read is warm. Other keys, such as typed records, only advance
// the resume token.
//
// States move STOPPED → STARTING → WATCHING, and on transport failure through
// RECOVERING back to WATCHING. Reopening follows a retry.Backoff; once the
// attempt budget is spent the watcher stops and reports a ChangeFeedFatal
// error to its FatalFunc. After such a stop, call Stop before starting again.
//
// The resume token is the bucket revision of the last dispatched event. It is
// saved after dispatch through a TokenStore, so a restarted watcher replays
// the changes it missed.
package changefeed
