package chain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no Record matches a lookup.
	ErrNotFound = errors.New("record not found")

	// ErrSerialization is matched by every *SerializationError.
	ErrSerialization = errors.New("payload cannot be canonically serialized")

	// ErrStorage wraps failures of the durable slot behind a Saver or Adapter.
	ErrStorage = errors.New("ledger storage failure")

	// ErrEmpty is returned by Adapter.Load when the slot is missing or corrupt.
	ErrEmpty = errors.New("no stored ledger")

	// ErrIntegrity is wrapped by every Verify failure.
	ErrIntegrity = errors.New("ledger integrity check failed")
)

// SerializationError reports a payload that could not be turned into its
// canonical byte form. Nothing is appended when it is returned.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize payload: %v", e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrSerialization) match any SerializationError.
func (e *SerializationError) Is(target error) bool { return target == ErrSerialization }

func integrityErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIntegrity, fmt.Sprintf(format, args...))
}
