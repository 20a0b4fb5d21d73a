package response

import (
	"errors"
	"fmt"
)

// Error is an error that knows the HTTP status it should be answered with.
type Error struct {
	Code int
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	var t *Error
	ok := errors.As(target, &t)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Err.Error() == t.Err.Error()
}

func NewError(code int, err string) error {
	return &Error{code, errors.New(err)}
}

// WithDetail returns a copy of base whose message carries detail. The copy
// still matches base with errors.Is.
func WithDetail(base error, detail string) error {
	var e *Error
	if !errors.As(base, &e) {
		return fmt.Errorf("%w: %s", base, detail)
	}
	return &detailed{base: e, detail: detail}
}

type detailed struct {
	base   *Error
	detail string
}

func (d *detailed) Error() string {
	return d.detail
}

func (d *detailed) Unwrap() error {
	return d.base
}
