package domain

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrorKind groups errors by how a stage reacts to them.
type ErrorKind string

const (
	KindConfig       ErrorKind = "config"
	KindPrecondition ErrorKind = "precondition"
	KindNetwork      ErrorKind = "network"
	KindFormat       ErrorKind = "format"
	KindConversion   ErrorKind = "conversion"
	KindAPI          ErrorKind = "api"
	KindIO           ErrorKind = "io"
	KindValidation   ErrorKind = "validation"
)

// Error is a pipeline error with a kind and the operation that failed.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Op)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func ConfigError(op string, err error) *Error       { return NewError(KindConfig, op, err) }
func PreconditionError(op string, err error) *Error { return NewError(KindPrecondition, op, err) }
func NetworkError(op string, err error) *Error      { return NewError(KindNetwork, op, err) }
func FormatError(op string, err error) *Error       { return NewError(KindFormat, op, err) }
func ConversionError(op string, err error) *Error   { return NewError(KindConversion, op, err) }
func APIError(op string, err error) *Error          { return NewError(KindAPI, op, err) }
func IOError(op string, err error) *Error           { return NewError(KindIO, op, err) }
func ValidationError(op string, err error) *Error   { return NewError(KindValidation, op, err) }

// KindOf returns the kind of the first Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsPrecondition reports whether err is a fatal stage precondition failure.
func IsPrecondition(err error) bool { return KindOf(err) == KindPrecondition }

// Failure is a per-item error recorded during a batch.
type Failure struct {
	Item string
	Err  error
}

// Failures collects per-item errors so a batch can report them at the end.
type Failures struct {
	mu    sync.Mutex
	items []Failure
}

// Add records a failure for item.
func (f *Failures) Add(item string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, Failure{Item: item, Err: err})
}

// Len returns the number of recorded failures.
func (f *Failures) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// Items returns a copy of the recorded failures.
func (f *Failures) Items() []Failure {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Failure(nil), f.items...)
}

// Summary renders one line per failure.
func (f *Failures) Summary() string {
	var b strings.Builder
	for _, it := range f.Items() {
		fmt.Fprintf(&b, "%s: %v\n", it.Item, it.Err)
	}
	return b.String()
}
