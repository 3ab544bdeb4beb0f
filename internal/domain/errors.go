package domain

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput is returned for structurally invalid requests.
	ErrInvalidInput = errors.New("invalid input")
)
