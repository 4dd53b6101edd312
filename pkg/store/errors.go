package store

import "errors"

// Sentinel errors surfaced to the service layer. The API maps them to HTTP
// status codes in pkg/api.
var (
	// ErrNotFound means the referenced row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotClaimed means a terminal transition was attempted on a row
	// that is not in the claimed state. No mutation happened.
	ErrNotClaimed = errors.New("not in claimed state")

	// ErrDuplicatePending means a second pending completion was enqueued
	// for a job that already has one.
	ErrDuplicatePending = errors.New("pending completion already exists for job")
)
