package region

import "github.com/pkg/errors"

var (
	// ErrResource reports that the OS refused to provide or attach the
	// region.
	ErrResource = errors.New("region: shared memory unavailable")

	// ErrAlreadyInitialized reports a second Acquire on a provisioner
	// that already holds a region.
	ErrAlreadyInitialized = errors.New("region: already initialized")
)
