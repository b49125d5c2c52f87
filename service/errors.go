package service

import (
	"shmpool/domain/alloc"
	"shmpool/infra/region"
)

// Errors returned by the pool. Test with errors.Is.
var (
	ErrResource           = region.ErrResource
	ErrAlreadyInitialized = region.ErrAlreadyInitialized
	ErrInitFailed         = alloc.ErrInitFailed
	ErrExhausted          = alloc.ErrExhausted
)

// CorruptionError is what Check hands to the abort hook.
type CorruptionError = alloc.CorruptionError
