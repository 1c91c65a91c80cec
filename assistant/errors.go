package assistant

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how the pipeline should react to it.
type Kind string

const (
	KindConfiguration  Kind = "configuration"
	KindEmbedding      Kind = "embedding"
	KindClassification Kind = "classification"
	KindRetrievalEmpty Kind = "retrieval_empty"
	KindGeneration     Kind = "generation"
	KindPlayback       Kind = "playback"
	KindPersistence    Kind = "persistence"
	KindCorpus         Kind = "corpus"
)

var (
	ErrEmptyCorpus        = errors.New("corpus is empty")
	ErrNoDevices          = errors.New("no active device")
	ErrCacheMiss          = errors.New("cache miss")
	ErrPreferencesMissing = errors.New("learned preferences missing")
	ErrNotConfigured      = errors.New("not configured")
)

// Error is a failure tagged with its Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with kind and op. A nil err stays nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsKind reports whether any error in err's chain is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// KindOf returns the kind of the outermost *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Result is the outcome of one collaborator call.
type Result[T any] struct {
	Value T
	Err   *Error
}

// Attempt runs fn and tags any failure with kind and op.
func Attempt[T any](kind Kind, op string, fn func() (T, error)) Result[T] {
	v, err := fn()
	if err != nil {
		var e *Error
		if !errors.As(err, &e) || e.Kind != kind {
			e = &Error{Kind: kind, Op: op, Err: err}
		}
		return Result[T]{Err: e}
	}
	return Result[T]{Value: v}
}

func (r Result[T]) OK() bool { return r.Err == nil }

// OrElse returns the value on success, or fallback(err) together with the error on failure.
func (r Result[T]) OrElse(fallback func(*Error) T) (T, *Error) {
	if r.Err == nil {
		return r.Value, nil
	}
	return fallback(r.Err), r.Err
}
