package hal

import "github.com/pkg/errors"

var (
	// ErrNotFound is returned by adapter enumeration past the last adapter.
	ErrNotFound = errors.New("hal: not found")
	// ErrUnsupported is returned when an adapter or device cannot serve a request.
	ErrUnsupported = errors.New("hal: unsupported")
	// ErrAllocatorInUse is returned when an allocator is reset while the GPU
	// still executes lists recorded from it.
	ErrAllocatorInUse = errors.New("hal: command allocator still in use by the GPU")
	// ErrInvalidState is returned for calls made in the wrong recording or
	// resource state.
	ErrInvalidState = errors.New("hal: invalid state")
	// ErrDeviceRemoved is returned by every call after the device faulted.
	ErrDeviceRemoved = errors.New("hal: device removed")
)
