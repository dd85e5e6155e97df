package repositories

import "errors"

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyAcknowledged is returned when acknowledging a handled alert
	ErrAlreadyAcknowledged = errors.New("alert already acknowledged")
)
