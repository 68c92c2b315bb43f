package domain

import "time"

// CameraID identifies a camera; unique among active sessions.
type CameraID int

// VideoDevice represents a capture device
type VideoDevice struct {
	ID    string // Unique device identifier
	Label string // Human readable device name
	Kind  string // Device kind
}

// VideoConfig holds capture and publishing parameters for a camera
type VideoConfig struct {
	CameraID  CameraID // Camera identifier announced to the server
	Width     int      // Preferred width in pixels
	Height    int      // Preferred height in pixels
	FrameRate int      // Preferred frame rate
	BitRate   int      // Encoder bitrate in bps
	DeviceID  string   // Capture device ID, empty for the default device
	CodecName string   // Codec name ("vp8" or "h264")
	OfferURL  string   // Signaling endpoint of the server
}

// Settings is the live configuration snapshot consumed by sessions.
// Values are copied out of the settings store once per tick and never mutated by the pipeline.
type Settings struct {
	BinaryThreshold int  `json:"binary_threshold" yaml:"binary_threshold"`
	MinContourArea  int  `json:"min_contour_area" yaml:"min_contour_area"`
	ThrottleStride  int  `json:"throttle_stride" yaml:"throttle_stride"`
	RawView         bool `json:"raw_view" yaml:"raw_view"`
	Recording       bool `json:"recording" yaml:"recording"`
	TargetWidth     int  `json:"target_width" yaml:"target_width"`
	TargetHeight    int  `json:"target_height" yaml:"target_height"`
}

const (
	DefaultBinaryThreshold = 100
	DefaultMinContourArea  = 500
	DefaultThrottleStride  = 1
	FallbackWidth          = 640
	FallbackHeight         = 480
)

// DefaultSettings returns the settings used when nothing is configured
func DefaultSettings() Settings {
	return Settings{
		BinaryThreshold: DefaultBinaryThreshold,
		MinContourArea:  DefaultMinContourArea,
		ThrottleStride:  DefaultThrottleStride,
		RawView:         true,
	}
}

// Stride returns the throttle stride, never less than one
func (s Settings) Stride() uint64 {
	if s.ThrottleStride < 1 {
		return DefaultThrottleStride
	}
	return uint64(s.ThrottleStride)
}

// Threshold returns the binary threshold clamped to 0..255
func (s Settings) Threshold() int {
	switch {
	case s.BinaryThreshold < 0:
		return 0
	case s.BinaryThreshold > 255:
		return 255
	}
	return s.BinaryThreshold
}

// RecordingSize resolves the recording resolution, falling back to 640x480
// when either dimension is unset.
func (s Settings) RecordingSize() (width, height int) {
	if s.TargetWidth <= 0 || s.TargetHeight <= 0 {
		return FallbackWidth, FallbackHeight
	}
	return s.TargetWidth, s.TargetHeight
}

// SessionDescription is an SDP offer or answer
type SessionDescription struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// ConnectionState is the lifecycle state of a camera connection
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateNegotiating
	StateConnected
	StateFailed
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the camera lifecycle
func (s ConnectionState) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// CameraStatus describes one entry of the active set
type CameraStatus struct {
	CameraID  CameraID  `json:"camera_id"`
	State     string    `json:"state"`
	SessionID string    `json:"session_id"`
	Since     time.Time `json:"since"`
}

// EventKind classifies pipeline events
type EventKind string

const (
	EventMotion           EventKind = "motion"
	EventRecordingStarted EventKind = "recording_started"
	EventRecordingStopped EventKind = "recording_stopped"
	EventSessionStarted   EventKind = "session_started"
	EventSessionEnded     EventKind = "session_ended"
)

// Event is a notification emitted by the pipeline
type Event struct {
	ID        string        `json:"id"`
	Kind      EventKind     `json:"kind"`
	CameraID  CameraID      `json:"camera_id"`
	Timestamp time.Time     `json:"timestamp"`
	Elapsed   time.Duration `json:"elapsed_ns,omitempty"` // Time since the session started
	Path      string        `json:"path,omitempty"`       // Recording file, if any
	Detail    string        `json:"detail,omitempty"`
}
