package domain

import (
	"errors"
	"fmt"
)

var (
	ErrCameraBusy      = errors.New("camera already has an active session")
	ErrSessionNotFound = errors.New("session not found")
	ErrNoVideoTrack    = errors.New("no video track available")
	ErrManagerClosed   = errors.New("session manager is shut down")
)

// NegotiationError is returned when the transport layer rejects an offer.
// No session exists for the camera afterwards.
type NegotiationError struct {
	CameraID CameraID
	Err      error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation for camera %d failed: %v", e.CameraID, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// FrameSourceError reports a failure to obtain the next frame of a camera
type FrameSourceError struct {
	CameraID CameraID
	Err      error
}

func (e *FrameSourceError) Error() string {
	return fmt.Sprintf("frame source for camera %d: %v", e.CameraID, e.Err)
}

func (e *FrameSourceError) Unwrap() error { return e.Err }

// RecordingOpenError reports that the recording output could not be opened
type RecordingOpenError struct {
	Path string
	Err  error
}

func (e *RecordingOpenError) Error() string {
	return fmt.Sprintf("failed to open video writer for %s: %v", e.Path, e.Err)
}

func (e *RecordingOpenError) Unwrap() error { return e.Err }
