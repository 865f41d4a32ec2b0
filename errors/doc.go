// Package errors provides standardized error handling for the config store.
//
// # Overview
//
// Errors carry two orthogonal labels. The Kind says what failed:
//
//   - Connection: the document database cannot be reached
//   - Persistence: a read or write against the database failed
//   - Codec: a value cannot be represented as a document
//   - Decode: a stored document does not fit the requested type
//   - IllegalState: an operation was used in the wrong lifecycle phase
//   - ChangeFeedFatal: a change-feed watcher gave up reconnecting
//   - VersionConflict: a version-checked write lost a race
//
// The ErrorClass says how to react: Transient (retry), Invalid (do not retry),
// Fatal (stop and escalate). Each kind has a default class, see Kind.Class.
//
// # Wrapping
//
// All wrapping follows the format
//
//	"component.method: action failed: %w"
//
// Kind constructors apply it and attach the kind:
//
//	if err := kv.Put(ctx, key, data); err != nil {
//	    return errors.Persistence(err, "DocStore", "SetMessage", "kv put")
//	}
//
// Callers test kinds with the standard library:
//
//	if stderrors.Is(err, errors.ErrDecode) {
//	    // stored document is incompatible
//	}
//
// WrapTransient, WrapInvalid and WrapFatal re-classify an error while keeping
// any kind already present in the chain.
package errors
