// README: Error taxonomy shared by modules and mapped to transport status codes.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthorization
	KindNotFound
	KindConflict
	KindDurable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindDurable:
		return "durable_write"
	default:
		return "internal"
	}
}

// Error carries a kind plus a user-facing message in English and French.
type Error struct {
	Kind Kind
	EN   string
	FR   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.EN + ": " + e.Err.Error()
	}
	return e.EN
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind and English message so wrapped copies still compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.EN == e.EN
}

func New(kind Kind, en, fr string) *Error {
	return &Error{Kind: kind, EN: en, FR: fr}
}

func Validation(en, fr string) *Error    { return New(KindValidation, en, fr) }
func Authorization(en, fr string) *Error { return New(KindAuthorization, en, fr) }
func NotFound(en, fr string) *Error      { return New(KindNotFound, en, fr) }
func Conflict(en, fr string) *Error      { return New(KindConflict, en, fr) }

// Durable wraps a failed store call. A nil err returns nil.
func Durable(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{
		Kind: KindDurable,
		EN:   "storage unavailable",
		FR:   "stockage indisponible",
		Err:  fmt.Errorf("%s: %w", op, err),
	}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Messages returns the bilingual message pair for err.
func Messages(err error) (en, fr string) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.EN, ae.FR
	}
	return "internal error", "erreur interne"
}
