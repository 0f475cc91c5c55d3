package domain

import "errors"

var (
	// ErrInvalidInput marks malformed requests. Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrPersistence marks storage failures. An attempt that hits one is aborted.
	ErrPersistence = errors.New("persistence failure")

	// ErrAlreadyResolved is returned when a review targets a decision that is no longer pending.
	ErrAlreadyResolved = errors.New("decision already resolved")
)
