// Package errors provides the classified error kinds used across the config store.
// Every error surfaced by a store operation carries a Kind (what failed) and an
// ErrorClass (how callers should react to it).
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or misuse
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Kind identifies which part of the store produced an error.
type Kind int

const (
	// KindUnknown marks errors that were never classified by the store.
	KindUnknown Kind = iota
	// KindConnection means the document database could not be reached.
	KindConnection
	// KindPersistence means a read or write against the database failed.
	KindPersistence
	// KindCodec means a value could not be encoded into a document.
	KindCodec
	// KindDecode means a stored document does not fit the requested type.
	KindDecode
	// KindIllegalState means an operation was called in the wrong lifecycle phase.
	KindIllegalState
	// KindChangeFeedFatal means a change-feed watcher exhausted its recovery budget.
	KindChangeFeedFatal
	// KindVersionConflict means a version-checked write lost against a concurrent writer.
	KindVersionConflict
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindPersistence:
		return "persistence"
	case KindCodec:
		return "codec"
	case KindDecode:
		return "decode"
	case KindIllegalState:
		return "illegal_state"
	case KindChangeFeedFatal:
		return "change_feed_fatal"
	case KindVersionConflict:
		return "version_conflict"
	default:
		return "unknown"
	}
}

// Class returns the default handling class for the kind.
func (k Kind) Class() ErrorClass {
	switch k {
	case KindConnection, KindPersistence:
		return ErrorTransient
	case KindChangeFeedFatal:
		return ErrorFatal
	default:
		return ErrorInvalid
	}
}

// Kind sentinels. A classified error matches the sentinel of its kind with errors.Is.
var (
	ErrConnection      = errors.New("connection error")
	ErrPersistence     = errors.New("persistence error")
	ErrCodec           = errors.New("codec error")
	ErrDecode          = errors.New("decode error")
	ErrIllegalState    = errors.New("illegal state")
	ErrChangeFeedFatal = errors.New("change feed fatal")
	ErrVersionConflict = errors.New("version conflict")
)

var kindSentinels = map[Kind]error{
	KindConnection:      ErrConnection,
	KindPersistence:     ErrPersistence,
	KindCodec:           ErrCodec,
	KindDecode:          ErrDecode,
	KindIllegalState:    ErrIllegalState,
	KindChangeFeedFatal: ErrChangeFeedFatal,
	KindVersionConflict: ErrVersionConflict,
}

// Standard error variables for common conditions
var (
	// Lifecycle errors
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrNotInitialized     = errors.New("not initialized")
	ErrShuttingDown       = errors.New("shutting down")

	// Connection errors
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")

	// Storage errors
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrKeyNotFound        = errors.New("key not found")

	// Data errors
	ErrInvalidData      = errors.New("invalid data format")
	ErrUnsupportedValue = errors.New("unsupported value")
	ErrMissingField     = errors.New("missing required field")
	ErrTypeMismatch     = errors.New("field type mismatch")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Retry errors
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

// ClassifiedError wraps an error with its kind and classification
type ClassifiedError struct {
	Kind      Kind
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	if ce.Err == nil {
		return ce.Kind.String()
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (ce *ClassifiedError) Is(target error) bool {
	if s, ok := kindSentinels[ce.Kind]; ok && s == target {
		return true
	}
	return false
}

// KindOf returns the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	s, ok := kindSentinels[kind]
	if !ok {
		return false
	}
	return errors.Is(err, s)
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "network", "temporary", "unavailable"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrMissingConfig)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrUnsupportedValue) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrTypeMismatch)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	if IsTransient(err) {
		return ErrorTransient
	}
	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}

	// Unknown errors are retryable
	return ErrorTransient
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func newClassified(kind Kind, class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Kind:      kind,
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	return newClassified(KindOf(err), ErrorTransient, err, component, method, action)
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	return newClassified(KindOf(err), ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	return newClassified(KindOf(err), ErrorInvalid, err, component, method, action)
}

// WrapKind wraps an error with the given kind and that kind's default class.
func WrapKind(kind Kind, err error, component, method, action string) error {
	return newClassified(kind, kind.Class(), err, component, method, action)
}

// Connection wraps err as a connection failure.
func Connection(err error, component, method, action string) error {
	return WrapKind(KindConnection, err, component, method, action)
}

// Persistence wraps err as a persistence failure.
func Persistence(err error, component, method, action string) error {
	return WrapKind(KindPersistence, err, component, method, action)
}

// Codec wraps err as an encoding failure.
func Codec(err error, component, method, action string) error {
	return WrapKind(KindCodec, err, component, method, action)
}

// Decode wraps err as a decoding failure.
func Decode(err error, component, method, action string) error {
	return WrapKind(KindDecode, err, component, method, action)
}

// IllegalState wraps err as a lifecycle misuse.
func IllegalState(err error, component, method, action string) error {
	return WrapKind(KindIllegalState, err, component, method, action)
}

// ChangeFeedFatal wraps err as an unrecoverable change-feed failure.
func ChangeFeedFatal(err error, component, method, action string) error {
	return WrapKind(KindChangeFeedFatal, err, component, method, action)
}

// VersionConflict wraps err as a lost optimistic-concurrency race.
func VersionConflict(err error, component, method, action string) error {
	return WrapKind(KindVersionConflict, err, component, method, action)
}
