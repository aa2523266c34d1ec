// Package errcode provides the stable error code vocabulary surfaced to operators
package errcode

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a stable, user-visible error code
type Code string

// Codes shared with the remote service error vocabulary
const (
	UniqueConstraint        Code = "UniqueConstraint"
	NoItemRevision          Code = "NoItemRevision"
	InvalidOperandValue     Code = "InvalidOperandValue"
	AuthorizedClientsOnly   Code = "AuthorizedClientsOnly"
	InvalidToken            Code = "InvalidToken"
	Forbidden               Code = "Forbidden"
	ItemDoesNotExist        Code = "ItemDoesNotExist"
	ConflictingValue        Code = "ConflictingValue"
	UnhandledException      Code = "UnhandledException"
	MultipleRowsFound       Code = "MultipleRowsFound"
	ServiceNotAvailable     Code = "ServiceNotAvailable"
	KeymapMigrationRequired Code = "KeymapMigrationRequired"
	UnauthorizedKeymapSync  Code = "UnauthorizedKeymapSync"
)

// Codes raised locally by schema, source, transport, keymap and migration failures
const (
	UnknownProperty                  Code = "UnknownProperty"
	UnknownDatasetInConfig           Code = "UnknownDatasetInConfig"
	UnsupportedDataTypeConfiguration Code = "UnsupportedDataTypeConfiguration"
	UnreachableSource                Code = "UnreachableSource"
	InvalidQuery                     Code = "InvalidQuery"
	SchemaMismatch                   Code = "SchemaMismatch"
	ConflictingRevision              Code = "ConflictingRevision"
	RateLimited                      Code = "RateLimited"
	RedirectCycle                    Code = "RedirectCycle"
	NoSuchConstraint                 Code = "NoSuchConstraint"
	IncompatibleTypeChange           Code = "IncompatibleTypeChange"
	InvalidResourceSource            Code = "InvalidResourceSource"
	ReferenceCycle                   Code = "ReferenceCycle"
)

// Error attaches a Code to an underlying error
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}

	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error carrying the same code, so errors.Is(err, errcode.New(c, nil)) works
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Code == e.Code && other.Err == nil
	}

	return false
}

// New wraps err with code
func New(code Code, err error) error {
	return &Error{Code: code, Err: err}
}

// Errorf formats a message and tags it with code
func Errorf(code Code, format string, args ...any) error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// Sentinel returns a comparable marker for code, usable as an errors.Is target
func Sentinel(code Code) error {
	return &Error{Code: code}
}

// Of returns the outermost code attached to err, or UnhandledException
func Of(err error) Code {
	if err == nil {
		return ""
	}

	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}

	return UnhandledException
}

// Has reports whether any error in the chain carries code
func Has(err error, code Code) bool {
	for err != nil {
		var coded *Error
		if !errors.As(err, &coded) {
			return false
		}

		if coded.Code == code {
			return true
		}

		err = coded.Err
	}

	return false
}

// Format renders err the way the CLI prints it
func Format(err error) string {
	return fmt.Sprintf("%s: %s", Of(err), err.Error())
}

// SQLState maps a SQLSTATE code reported by a relational driver to a code
func SQLState(state string) (Code, bool) {
	switch {
	case state == "23505":
		return UniqueConstraint, true
	case state == "42704":
		return NoSuchConstraint, true
	case state == "42804", state == "42846":
		return IncompatibleTypeChange, true
	case state == "42703":
		return SchemaMismatch, true
	case state == "42601", state == "42P01":
		return InvalidQuery, true
	case strings.HasPrefix(state, "08"):
		return UnreachableSource, true
	default:
		return "", false
	}
}
