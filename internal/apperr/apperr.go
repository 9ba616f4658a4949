// Package apperr classifies pipeline failures so callers can map them to a
// single structured error shape.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind groups failures by who has to act on them.
type Kind string

const (
	KindInput     Kind = "input"
	KindUpstream  Kind = "upstream"
	KindTimeout   Kind = "timeout"
	KindIntegrity Kind = "integrity"
	KindModel     Kind = "model"
	KindInternal  Kind = "internal"
)

// Stage names the pipeline step that failed.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageImport    Stage = "import"
	StageMerge     Stage = "merge"
	StageLoad      Stage = "load"
	StageVectorize Stage = "vectorize"
	StageScore     Stage = "score"
	StageFilter    Stage = "filter"
	StageRank      Stage = "rank"
	StageEmit      Stage = "emit"
	StageRequest   Stage = "request"
)

// Error is a classified failure.
type Error struct {
	Kind  Kind
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	if e.Stage == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind and stage. A context deadline anywhere in the
// chain is reclassified as a timeout.
func New(kind Kind, stage Stage, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// Errorf is New with a formatted cause.
func Errorf(kind Kind, stage Stage, format string, args ...any) *Error {
	return New(kind, stage, fmt.Errorf(format, args...))
}

// KindOf reports the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// StageOf reports the stage of the first *Error in the chain.
func StageOf(err error) Stage {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

// HTTPStatus maps a kind to a response code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInput:
		return http.StatusBadRequest
	case KindUpstream:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindModel:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Message returns a caller-safe description. Internal errors are not
// described beyond their kind.
func Message(err error) string {
	if KindOf(err) == KindInternal {
		return "internal error"
	}
	return err.Error()
}
