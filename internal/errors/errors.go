// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package errors provides the structured error kinds used across the
// daemon. Every error that can reach the control wire or a log line
// carries a Kind so callers can branch on category without string
// matching.
package errors

import (
	goerrors "errors"
	"fmt"
)

// Kind categorizes an error per the daemon's error taxonomy.
type Kind int

const (
	KindUnknown Kind = iota
	KindParse
	KindDuplicateLabel
	KindNotFound
	KindMapWriteFailed
	KindMapReadFailed
	KindAttach
	KindDetach
	KindWasmLoad
	KindWasmMissingExport
	KindWasmInvoke
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse_error"
	case KindDuplicateLabel:
		return "duplicate_label"
	case KindNotFound:
		return "not_found"
	case KindMapWriteFailed:
		return "map_write_failed"
	case KindMapReadFailed:
		return "map_read_failed"
	case KindAttach:
		return "attach_error"
	case KindDetach:
		return "detach_error"
	case KindWasmLoad:
		return "wasm_load_error"
	case KindWasmMissingExport:
		return "wasm_missing_export"
	case KindWasmInvoke:
		return "wasm_invoke_error"
	case KindProtocol:
		return "protocol_error"
	default:
		return "unknown"
	}
}

// Error is the structured error type threaded through the daemon. It
// carries enough context to render a safe, user-facing message (§7:
// "no internal detail that reveals kernel pointers or filesystem
// paths beyond those the user supplied") while still wrapping the
// original cause for logs.
type Error struct {
	Kind       Kind
	Message    string
	Underlying error
	Attributes map[string]any
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Underlying)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// New creates a new Error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

// Errorf creates a new Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an existing error.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Underlying: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, kind Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Underlying: err}
}

// GetKind returns the Kind of err, or KindUnknown if err is not one of ours.
func GetKind(err error) Kind {
	var e *Error
	if goerrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err (or anything in its chain) has the given Kind.
func Is(err error, kind Kind) bool {
	return GetKind(err) == kind
}
