// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package opserr defines the error taxonomy shared by the pipeline: every
// failure that crosses a component boundary carries one of these kinds so
// callers can branch on category instead of string matching.
package opserr

import (
	"context"
	"errors"
	"fmt"
)

// Kind defines stable categories for failures.
type Kind string

const (
	KindNotFound     Kind = "NOT_FOUND"     // asset/rule/job/key absent
	KindValidation   Kind = "VALIDATION"    // malformed input or unknown enum
	KindConflict     Kind = "CONFLICT"      // duplicate create
	KindGuarded      Kind = "GUARDED"       // refused by a guardrail, retryable
	KindExternalTool Kind = "EXTERNAL_TOOL" // ffmpeg/ffprobe nonzero exit
	KindIO           Kind = "IO"            // filesystem or permission failure
	KindTimeout      Kind = "TIMEOUT"
	KindCancelled    Kind = "CANCELLED"
	KindInternal     Kind = "INTERNAL"
)

// Error is the exclusive cross-boundary failure representation.
type Error struct {
	Kind   Kind
	Op     string // operation that failed, e.g. "asset.index"
	Detail string // stable human-readable detail
	Err    error  // wrapped cause
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Detail, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": " + string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors by kind so sentinel comparisons like
// errors.Is(err, &Error{Kind: KindNotFound}) work across wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an Error without a wrapped cause.
func New(kind Kind, op, detail string) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail}
}

// Newf builds an Error with a formatted detail.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind, op and detail to a cause. Returns nil for a nil cause.
func Wrap(err error, kind Kind, op, detail string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Detail: detail, Err: err}
}

// KindOf extracts the kind from err, walking the wrap chain. Context
// cancellation and deadline errors map to their kinds even when no *Error is
// present; everything else is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// IsRetryable reports whether a failed operation is worth retrying: guardrail
// refusals clear on their own, timeouts and tool failures are transient in
// this domain (a busy encoder, a locked file).
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindGuarded, KindTimeout, KindExternalTool:
		return true
	default:
		return false
	}
}
