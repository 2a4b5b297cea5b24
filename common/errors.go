// Package common holds types shared across every ayb component: the closed
// set of domain error kinds and small helpers that don't belong to any one
// layer.
package common

import "fmt"

// Kind is the closed set of domain error kinds the server ever returns to a
// caller. Adapters (metadata store, object store, daemon registry) translate
// foreign errors into a Kind at the boundary; nothing above the adapter layer
// should ever type-switch on anything but Kind.
type Kind string

const (
	KindEntityExists            Kind = "entity_exists"
	KindDatabaseExists          Kind = "database_exists"
	KindRecordNotFound          Kind = "record_not_found"
	KindInvalidToken            Kind = "invalid_token"
	KindReadOnlyViolation       Kind = "read_only_violation"
	KindNoAccess                Kind = "no_access"
	KindReservedSlug            Kind = "reserved_slug"
	KindSnapshotDoesNotExist    Kind = "snapshot_does_not_exist"
	KindSnapshotError           Kind = "snapshot_error"
	KindStorageError            Kind = "storage_error"
	KindConfigurationError      Kind = "configuration_error"
	KindCantSetOwnerPermissions Kind = "cant_set_owner_permissions"
	KindQueryError              Kind = "query_error"
	KindDaemonCrashed           Kind = "daemon_crashed"
	KindIO                      Kind = "io"
	KindOther                   Kind = "other"
)

// Error is the single error type used across domain and adapter code. Kind
// drives HTTP/pgwire status mapping; RecordKind is populated only for
// KindRecordNotFound (the spec's RecordNotFound{kind} variant); Err, when
// present, is the wrapped cause and is never shown to callers.
type Error struct {
	Kind       Kind
	RecordKind string
	Message    string
	Err        error
}

// New creates an Error of the given kind with a caller-facing message.
func New(kind Kind, message string) Error {
	return Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind wrapping a lower-level cause. The
// cause's text is never surfaced in Message unless the caller puts it there.
func Wrap(kind Kind, message string, err error) Error {
	return Error{Kind: kind, Message: message, Err: err}
}

// NotFound creates a KindRecordNotFound error naming the kind of record that
// was missing (e.g. "entity", "database", "api_token").
func NotFound(recordKind string) Error {
	return Error{
		Kind:       KindRecordNotFound,
		RecordKind: recordKind,
		Message:    fmt.Sprintf("%s not found", recordKind),
	}
}

func (e Error) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Err != nil {
		return e.Err.Error()
	}

	return string(e.Kind)
}

func (e Error) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, common.New(KindNoAccess, "")) style comparisons
// by Kind alone, ignoring Message/Err.
func (e Error) Is(target error) bool {
	t, ok := target.(Error)
	if !ok {
		return false
	}

	return e.Kind == t.Kind
}

// KindOf extracts the Kind of err if it is (or wraps) a common.Error,
// otherwise KindOther.
func KindOf(err error) Kind {
	var e Error
	if asError(err, &e) {
		return e.Kind
	}

	return KindOther
}

func asError(err error, target *Error) bool {
	for err != nil {
		e, ok := err.(Error)
		if ok {
			*target = e
			return true
		}

		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}

		err = u.Unwrap()
	}

	return false
}
