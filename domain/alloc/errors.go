package alloc

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInitFailed is returned when the allocator state cannot be laid
	// out over the region.
	ErrInitFailed = errors.New("alloc: init failed")

	// ErrExhausted reports an allocation the pool could not satisfy.
	// Allocate itself returns Nil; this error is for callers that need
	// an error value (replay, batch helpers).
	ErrExhausted = errors.New("alloc: pool exhausted")
)

// CorruptionError describes a broken invariant found by a consistency
// walk. A corrupted shared pool is not recoverable.
type CorruptionError struct {
	Arena  int
	Offset uint64
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("alloc: corruption in arena %d at offset %#x: %s", e.Arena, e.Offset, e.Reason)
}

func corrupt(arena int, off uint64, format string, args ...any) error {
	return &CorruptionError{Arena: arena, Offset: off, Reason: fmt.Sprintf(format, args...)}
}
