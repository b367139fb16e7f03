package engine

import "github.com/pkg/errors"

// Class categorizes an error by how the caller is expected to react to it,
// per spec 7.
type Class int

const (
	// ClassExhausted: the pool or a segment pool could not satisfy a
	// request. Caller should back off, not tear down the connection.
	ClassExhausted Class = iota
	// ClassTransient: a transport call would block (an EAGAIN-equivalent).
	// Caller retries on the next readiness notification.
	ClassTransient
	// ClassFatal: the transport is no longer usable. Caller tears down the
	// connection.
	ClassFatal
	// ClassParse: the bytes received do not conform to the installed
	// Protocol's grammar. Client-plane and replication-plane connections
	// react differently (spec 7): a client gets an error response, a peer
	// connection is torn down.
	ClassParse
	// ClassFragment: the fragmentation engine could not complete a split
	// (eg. PostSplitcopy rejected it, or the split left no sibling bytes).
	ClassFragment
	// ClassTimeout: a message's deadline elapsed before completion. Raised
	// externally by whatever drives the TimeoutIndex, not by the engine
	// itself.
	ClassTimeout
)

func (c Class) String() string {
	switch c {
	case ClassExhausted:
		return "exhausted"
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	case ClassParse:
		return "parse"
	case ClassFragment:
		return "fragment"
	case ClassTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with the Class that determines how a
// caller should react to it.
type Error struct {
	class Class
	cause error
}

func NewError(class Class, cause error) *Error {
	return &Error{class: class, cause: cause}
}

func (e *Error) Class() Class { return e.class }

func (e *Error) Error() string {
	return e.class.String() + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

// FormatError synthesises the client-facing error response frame for a
// failed request (spec 7): one line, prefixed per family's own error
// convention ("-ERR" for Proto-B's RESP-derived framing, "SERVER_ERROR" for
// Proto-A's text-line framing), naming dynErr's Class as a source tag and
// sysErr's message, terminated by CRLF. sysErr may be nil, in which case
// the message of dynErr's underlying cause is used (or dynErr's own message
// when it carries no Class).
func FormatError(family Family, dynErr error, sysErr error) string {
	var prefix = "-ERR"
	if family == FamilyA {
		prefix = "SERVER_ERROR"
	}

	var tag = "error"
	var e *Error
	if errors.As(dynErr, &e) {
		tag = e.Class().String()
	}

	var msg = sysErr
	if msg == nil {
		msg = dynErr
		if e != nil && e.cause != nil {
			msg = e.cause
		}
	}
	var text = "unknown error"
	if msg != nil {
		text = msg.Error()
	}

	return prefix + " " + tag + ": " + text + "\r\n"
}

// IsTransient reports whether err represents a transport call that should
// simply be retried once the connection becomes ready again.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.class == ClassTransient
}

// IsFatal reports whether err means the connection must be torn down.
func IsFatal(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.class == ClassFatal
}

var (
	// ErrPoolExhausted is returned by Acquire-family calls when a ceiling
	// has been reached.
	ErrPoolExhausted = NewError(ClassExhausted, errors.New("message pool exhausted"))
	// ErrSegmentExhausted mirrors ErrPoolExhausted for the segment pool.
	ErrSegmentExhausted = NewError(ClassExhausted, errors.New("segment pool exhausted"))
)
