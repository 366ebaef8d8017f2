package compute

import "errors"

var (
	// ErrDeviceLost is returned by every operation on a device after a
	// submission failed. The device must be rebuilt.
	ErrDeviceLost = errors.New("compute: device lost")

	// ErrOutOfMemory is returned when an allocation exceeds the device limits.
	ErrOutOfMemory = errors.New("compute: out of memory")

	// ErrMissingCapability is returned at setup when a required feature is absent.
	ErrMissingCapability = errors.New("compute: missing required capability")

	// ErrInvalidBinding is returned when a bind group fails validation.
	ErrInvalidBinding = errors.New("compute: invalid binding")

	// ErrInvalidCommand is returned by Submit when an encoded command failed validation.
	ErrInvalidCommand = errors.New("compute: invalid command")
)
