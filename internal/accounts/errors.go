package accounts

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Service wraps exactly one of them.
var (
	ErrNotFound            = errors.New("accounts: account not found")
	ErrConflict            = errors.New("accounts: username or email already in use")
	ErrExternalUnavailable = errors.New("accounts: identity store unavailable")
	ErrInvariantViolation  = errors.New("accounts: linked identity record is missing")
	ErrNotLinked           = errors.New("accounts: account has no linked identity")
	ErrInvalidInput        = errors.New("accounts: invalid input")
)

var (
	errMissingStore     = errors.New("accounts: local store is required")
	errMissingDirectory = errors.New("accounts: identity directory is required")
	errMissingUsername  = errors.New("username is required")
	errMissingPassword  = errors.New("password is required")
)

const (
	opServiceNew      = "accounts.service.new"
	opSearch          = "accounts.search"
	opListLocal       = "accounts.list_local"
	opGet             = "accounts.get"
	opCreate          = "accounts.create"
	opUpdate          = "accounts.update"
	opPatch           = "accounts.patch"
	opDelete          = "accounts.delete"
	opSync            = "accounts.sync"
	opResetCredential = "accounts.reset_credential"
	opSetEnabled      = "accounts.set_enabled"

	opParseDateOfBirth = "accounts.date_of_birth"
)

// ServiceError carries a dotted "<operation>.<reason>" code together with the
// error kind and the underlying cause.
type ServiceError struct {
	code string
	kind error
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s: %v", e.code, e.kind)
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *ServiceError) Unwrap() []error {
	unwrapped := make([]error, 0, 2)
	if e.kind != nil {
		unwrapped = append(unwrapped, e.kind)
	}
	if e.err != nil {
		unwrapped = append(unwrapped, e.err)
	}
	return unwrapped
}

func (e *ServiceError) Code() string {
	return e.code
}

// Kind returns the sentinel classifying the failure, or nil for internal errors.
func (e *ServiceError) Kind() error {
	return e.kind
}

func newServiceError(operation, reason string, kind, cause error) error {
	return &ServiceError{
		code: fmt.Sprintf("%s.%s", operation, reason),
		kind: kind,
		err:  cause,
	}
}

// KindOf classifies err into one of the exported kinds, or nil for internal failures.
func KindOf(err error) error {
	for _, kind := range []error{ErrNotFound, ErrConflict, ErrNotLinked, ErrInvalidInput, ErrExternalUnavailable, ErrInvariantViolation} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
