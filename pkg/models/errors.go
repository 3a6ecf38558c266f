package models

import "errors"

// Error taxonomy shared by every package. Wrap with fmt.Errorf("...: %w", err)
// and test with errors.Is.
var (
	// ErrValidation marks input or training data that cannot be used as-is
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a missing artifact or record
	ErrNotFound = errors.New("not found")

	// ErrTransientIO marks a remote or store failure that may succeed on retry
	ErrTransientIO = errors.New("transient I/O error")
)
