package api

import "errors"

// ErrBadRequest wraps malformed request bodies.
var ErrBadRequest = errors.New("bad request")
