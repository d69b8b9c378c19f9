package domain

import "errors"

// Sentinel errors shared across layers. Wrap them with context; match with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")
)
