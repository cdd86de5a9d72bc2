package rbac

import "errors"

var (
	ErrNotFound        = errors.New("rbac: not found")
	ErrAlreadyExists   = errors.New("rbac: already exists")
	ErrInvalidInput    = errors.New("rbac: invalid input")
	ErrUnauthenticated = errors.New("rbac: unauthenticated")
	ErrForbidden       = errors.New("rbac: forbidden")
	ErrAccountLocked   = errors.New("rbac: account locked")
	ErrRateLimited     = errors.New("rbac: rate limited")
)

// ErrInvalidToken indicates the bearer token failed validation.
var ErrInvalidToken = errors.New("rbac: invalid token")
