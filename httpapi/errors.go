package httpapi

import "errors"

// ErrUnauthorized is returned when the bearer token does not match.
var ErrUnauthorized = errors.New("unauthorized")
