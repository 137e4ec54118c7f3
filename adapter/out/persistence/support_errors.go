package persistence

import (
	"errors"

	"support_server/core/port/out"
)

// Common persistence errors
var (
	ErrNotFound     = out.ErrNotFound
	ErrDuplicate    = errors.New("duplicate entry")
	ErrInvalidInput = errors.New("invalid input")
)
