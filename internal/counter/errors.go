package counter

import "fmt"

// ValidationError reports a malformed operator request: out-of-range or
// degenerate geometry, or a missing required field. State is left unchanged
// and the error is surfaced to the originating requester only.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// UnknownEntityError reports a reset, delete, or query referencing a camera,
// zone, or line that has not been defined.
type UnknownEntityError struct {
	Kind     string // "camera", "zone", or "line"
	Name     string
	CameraID string
}

func (e *UnknownEntityError) Error() string {
	if e.Kind == "camera" {
		return fmt.Sprintf("camera %q not found", e.Name)
	}
	return fmt.Sprintf("%s %q not found in camera %q", e.Kind, e.Name, e.CameraID)
}

// UnknownCameraIngestError reports a track frame for a camera the counter
// does not know. The frame is dropped and logged by the caller; it is never
// fatal.
type UnknownCameraIngestError struct {
	CameraID string
}

func (e *UnknownCameraIngestError) Error() string {
	return fmt.Sprintf("dropping track frame for unknown camera %q", e.CameraID)
}
