package stegfs

import (
	"fmt"
)

// Input validation helpers shared by Region and Aggregate entry points

// ValidateBuffer checks that a destination or source buffer is non-nil
func ValidateBuffer(buf []byte, name string) error {
	if buf == nil {
		return &ArgumentError{
			Field:   name,
			Message: "buffer cannot be nil",
			Err:     ErrNilBuffer,
		}
	}
	return nil
}

// ValidateOffset checks that an offset addresses a byte within a capacity.
// The capacity itself is not addressable: writes and reads start strictly
// inside the region.
func ValidateOffset(offset, capacity int64, name string) error {
	if offset < 0 {
		return &ArgumentError{
			Field:   name,
			Value:   offset,
			Message: "offset cannot be negative",
			Err:     ErrNegativeOffset,
		}
	}
	if offset >= capacity {
		return &ArgumentError{
			Field:   name,
			Value:   offset,
			Message: fmt.Sprintf("offset %d must be less than capacity %d", offset, capacity),
			Err:     ErrOffsetOutOfRange,
		}
	}
	return nil
}

// ValidateSeed checks that permutation seed material is usable. Any byte
// string is a valid seed, including the empty one; this exists so callers
// reading seed files get a structured error for a nil slice.
func ValidateSeed(seed []byte) error {
	if seed == nil {
		return &ArgumentError{
			Field:   "seed",
			Message: "seed cannot be nil",
		}
	}
	return nil
}
