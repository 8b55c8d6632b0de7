package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrUnknownTarget) {
//	    // status for an ID not in config; log and drop
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrGroupNotFound is returned when a group ID does not exist.
	ErrGroupNotFound = errors.New("device: group not found")

	// ErrUnknownTarget is returned when a status report names an ID that is
	// neither a device nor a group. Usually means the config was edited
	// without re-exporting the home.
	ErrUnknownTarget = errors.New("device: unknown target id")

	// ErrDuplicateID is returned when two homes in config share a device or
	// group ID. The wire protocol carries bare 16-bit IDs, so the bridge
	// needs the full deployment to live in one ID space.
	ErrDuplicateID = errors.New("device: duplicate id across homes")

	// ErrInvalidBrightness is returned when a brightness value is outside
	// the accepted range.
	ErrInvalidBrightness = errors.New("device: invalid brightness")

	// ErrInvalidTemperature is returned when a white temperature value is
	// outside the accepted range.
	ErrInvalidTemperature = errors.New("device: invalid temperature")

	// ErrInvalidRGB is returned when a color component is outside 0-255.
	ErrInvalidRGB = errors.New("device: invalid rgb component")
)
