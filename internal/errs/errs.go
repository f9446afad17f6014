package errs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota

	// Acquisition.
	KindBinaryNotFound
	KindSpawnFailed
	KindTimeout

	// Credential.
	KindUnauthorized
	KindConfigMissing
	KindNetwork
	KindServer
	KindSessionMissing
	KindCookieDBNotFound
	KindCookieDBNotReadable
	KindUnsupported

	// Parse.
	KindSchemaMismatch
	KindDataCorrupted

	// Strategy.
	KindNoStrategyAvailable

	kindCount
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindBinaryNotFound:      "binary not found",
	KindSpawnFailed:         "spawn failed",
	KindTimeout:             "timeout",
	KindUnauthorized:        "unauthorized",
	KindConfigMissing:       "config missing",
	KindNetwork:             "network error",
	KindServer:              "server error",
	KindSessionMissing:      "session missing",
	KindCookieDBNotFound:    "cookie db not found",
	KindCookieDBNotReadable: "cookie db not readable",
	KindUnsupported:         "unsupported",
	KindSchemaMismatch:      "schema mismatch",
	KindDataCorrupted:       "data corrupted",
	KindNoStrategyAvailable: "no strategy available",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Class decides what the strategy resolver does with an error.
type Class int

const (
	// ClassUnavailable: this path cannot serve right now, try the next one.
	ClassUnavailable Class = iota
	// ClassDataShape: the vendor answered but the data did not decode.
	// Another path to the same vendor is unlikely to differ.
	ClassDataShape
)

func (c Class) String() string {
	if c == ClassDataShape {
		return "data-shape"
	}
	return "unavailable"
}

// classes must name every Kind. TestEveryKindClassified enforces it.
var classes = map[Kind]Class{
	KindUnknown:             ClassUnavailable,
	KindBinaryNotFound:      ClassUnavailable,
	KindSpawnFailed:         ClassUnavailable,
	KindTimeout:             ClassUnavailable,
	KindUnauthorized:        ClassUnavailable,
	KindConfigMissing:       ClassUnavailable,
	KindNetwork:             ClassUnavailable,
	KindServer:              ClassUnavailable,
	KindSessionMissing:      ClassUnavailable,
	KindCookieDBNotFound:    ClassUnavailable,
	KindCookieDBNotReadable: ClassUnavailable,
	KindUnsupported:         ClassUnavailable,
	KindSchemaMismatch:      ClassDataShape,
	KindDataCorrupted:       ClassDataShape,
	KindNoStrategyAvailable: ClassDataShape,
}

// Error is the typed error carried through the acquisition layer.
type Error struct {
	Kind Kind
	Op   string
	// Status is the HTTP status for KindServer / KindUnauthorized, if any.
	Status int
	// Body is the response body text attached to server errors.
	Body string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	if e.Body != "" {
		msg += " – " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, errs.Unauthorized)
// works regardless of op or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	BinaryNotFound      = &Error{Kind: KindBinaryNotFound}
	SpawnFailed         = &Error{Kind: KindSpawnFailed}
	Timeout             = &Error{Kind: KindTimeout}
	Unauthorized        = &Error{Kind: KindUnauthorized}
	ConfigMissing       = &Error{Kind: KindConfigMissing}
	Network             = &Error{Kind: KindNetwork}
	Server              = &Error{Kind: KindServer}
	SessionMissing      = &Error{Kind: KindSessionMissing}
	CookieDBNotFound    = &Error{Kind: KindCookieDBNotFound}
	CookieDBNotReadable = &Error{Kind: KindCookieDBNotReadable}
	Unsupported         = &Error{Kind: KindUnsupported}
	SchemaMismatch      = &Error{Kind: KindSchemaMismatch}
	DataCorrupted       = &Error{Kind: KindDataCorrupted}
	NoStrategyAvailable = &Error{Kind: KindNoStrategyAvailable}
)

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// HTTP builds an Unauthorized or Server error from a response status.
func HTTP(op string, status int, body string) *Error {
	if status == 401 || status == 403 {
		return &Error{Kind: KindUnauthorized, Op: op, Status: status}
	}
	return &Error{Kind: KindServer, Op: op, Status: status, Body: body}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ClassOf classifies err via the explicit table.
func ClassOf(err error) Class {
	return classes[KindOf(err)]
}

// IsUnauthorized reports whether err is an Unauthorized error.
func IsUnauthorized(err error) bool {
	return KindOf(err) == KindUnauthorized
}
