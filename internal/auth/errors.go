package auth

import (
	"errors"
	"fmt"
)

// Error kinds returned by every operation in this package. Services wrap
// these with fmt.Errorf("%w: ...") and callers match with errors.Is; the
// transport layer maps each kind to a protocol status.
var (
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrNotFound           = errors.New("auth: not found")
	ErrConflict           = errors.New("auth: conflict")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUnauthorized       = errors.New("auth: unauthorized")
	ErrForbidden          = errors.New("auth: forbidden")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrLastAuthMethod     = errors.New("auth: cannot remove last authentication method")
)

// Derived kinds. errors.Is still matches the base kind, so the HTTP mapping
// stays a single switch, while linking callers can tell the cases apart.
var (
	ErrDuplicateLink        = fmt.Errorf("%w: provider already linked to this account", ErrConflict)
	ErrLinkedToOtherAccount = fmt.Errorf("%w: external identity already linked to another account", ErrConflict)
	ErrProviderNotLinked    = fmt.Errorf("%w: provider is not linked", ErrInvalidInput)
)
