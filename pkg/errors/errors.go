package store_errors

import (
	"errors"
)

// Common errors
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("conflict")
	ErrInvalidInput      = errors.New("invalid input")
	ErrEmptyBatch        = errors.New("empty batch")
	ErrCorruptedSchema   = errors.New("schema corrupted")
	ErrTransientIO       = errors.New("transient storage error")
	ErrQueueExhausted    = errors.New("retry budget exhausted")
)
