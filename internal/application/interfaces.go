package application

import (
	"context"

	"github.com/2vyy/qt-camera-dashboard/internal/domain"
)

// FrameSource produces raw frames for one camera.
// Next blocks until a frame is available; it returns io.EOF at end of stream.
type FrameSource interface {
	Next(ctx context.Context) (domain.Frame, error)
	Close() error
}

// CameraManager opens local capture devices
type CameraManager interface {
	// ListDevices returns the available capture devices
	ListDevices() ([]domain.VideoDevice, error)

	// OpenCamera opens a local camera as a frame source
	OpenCamera(config domain.VideoConfig) (FrameSource, error)
}

// Publisher pushes a local camera to a remote server.
// Publish blocks until the connection ends or ctx is cancelled.
type Publisher interface {
	Publish(ctx context.Context, config domain.VideoConfig) error
}

// MotionDetector turns a raw frame into an annotated frame and drives the
// debounced motion events of its camera. Not safe for concurrent use.
type MotionDetector interface {
	Process(frame domain.Frame, settings domain.Settings, recording bool) (domain.Frame, error)
	Close() error
}

// VideoSink is an open video file
type VideoSink interface {
	Write(frame domain.Frame) error
	Close() error
}

// VideoSinkOpener opens a video file of fixed size and frame rate
type VideoSinkOpener interface {
	Open(path string, fps float64, width, height int) (VideoSink, error)
}

// OutputSink receives frames for display. All methods must return quickly
// and be safe for concurrent use by many sessions.
type OutputSink interface {
	RegisterCamera(id domain.CameraID)
	PushFrame(id domain.CameraID, frame domain.Frame)
	UnregisterCamera(id domain.CameraID)
}

// EventPublisher accepts pipeline events without blocking the caller
type EventPublisher interface {
	Publish(event domain.Event)
}

// SettingsProvider returns the current settings snapshot
type SettingsProvider interface {
	Settings() domain.Settings
}

// Peer is an established transport connection
type Peer interface {
	Close() error
}

// PeerEvents are the callbacks a Negotiator invokes for one connection
type PeerEvents struct {
	// OnTrack is called when a video track arrives and is ready to be read
	OnTrack func(source FrameSource)
	// OnState is called on connection state changes
	OnState func(state domain.ConnectionState)
}

// Negotiator performs the transport-level offer/answer exchange
type Negotiator interface {
	Negotiate(ctx context.Context, cameraID domain.CameraID, offer domain.SessionDescription, events PeerEvents) (domain.SessionDescription, Peer, error)
}

// Logger is the logging interface used across the application
type Logger interface {
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
}
