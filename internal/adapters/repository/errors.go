package repository

import (
	"errors"
	"fmt"
)

// Sentinel kinds for gateway errors. Every engine failure wraps ErrStorage.
var (
	ErrStorage       = errors.New("storage failure")
	ErrConflict      = fmt.Errorf("%w: transaction conflict", ErrStorage)
	ErrTxTooLarge    = fmt.Errorf("%w: too many entities in one transaction", ErrStorage)
	ErrClosed        = fmt.Errorf("%w: gateway closed", ErrStorage)
	ErrInvalidCursor = errors.New("invalid cursor")
	ErrIncompleteKey = errors.New("incomplete key")
	ErrInvalidKey    = errors.New("invalid key")
)
