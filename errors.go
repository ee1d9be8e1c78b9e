package hellotriangle

import "github.com/pkg/errors"

var (
	// ErrNoHardwareAdapter is returned when no non-software adapter passes
	// the feature level 11_0 support probe.
	ErrNoHardwareAdapter = errors.New("hellotriangle: no hardware adapter supports feature level 11_0")
	// ErrNotInitialized is returned by frame operations before OnInit succeeded.
	ErrNotInitialized = errors.New("hellotriangle: controller is not initialized")
)
