package application

import (
	"fmt"
	"image"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/image/draw"

	"github.com/2vyy/qt-camera-dashboard/internal/domain"
)

// RecordingFPS is the frame rate of every recording file
const RecordingFPS = 15.0

// Recorder writes one camera's frames into timestamped video files.
// It is owned by a single session goroutine and is not safe for concurrent use.
type Recorder struct {
	cameraID domain.CameraID
	dir      string
	opener   VideoSinkOpener
	events   EventPublisher
	logger   Logger
	now      func() time.Time

	sink      VideoSink
	path      string
	width     int
	height    int
	startTime time.Time
}

// NewRecorder creates an inactive recorder writing under dir
func NewRecorder(cameraID domain.CameraID, dir string, opener VideoSinkOpener, events EventPublisher, logger Logger) *Recorder {
	return &Recorder{
		cameraID: cameraID,
		dir:      dir,
		opener:   opener,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// Active reports whether a file is currently open
func (r *Recorder) Active() bool { return r.sink != nil }

// Path returns the file being written, empty when inactive
func (r *Recorder) Path() string { return r.path }

// Start opens a new file. It is a no-op when already active; open failures
// are logged and leave the recorder inactive.
func (r *Recorder) Start(settings domain.Settings) {
	if r.sink != nil {
		return
	}

	now := r.now()
	width, height := settings.RecordingSize()
	path := filepath.Join(r.dir, RecordingFileName(r.cameraID, now))

	sink, err := r.opener.Open(path, RecordingFPS, width, height)
	if err != nil {
		r.logger.Error("Recording not started", "camera_id", r.cameraID,
			"error", &domain.RecordingOpenError{Path: path, Err: err})
		return
	}

	r.sink = sink
	r.path = path
	r.width, r.height = width, height
	r.startTime = now
	r.logger.Info("Recording started", "camera_id", r.cameraID, "path", path,
		"width", width, "height", height)
	r.publish(domain.EventRecordingStarted, now, "")
}

// AddFrame appends a frame, resizing it to the recording resolution when needed
func (r *Recorder) AddFrame(frame domain.Frame) {
	if r.sink == nil {
		return
	}
	if !frame.SameSize(r.width, r.height) {
		frame = ResizeFrame(frame, r.width, r.height)
	}
	if err := r.sink.Write(frame); err != nil {
		r.logger.Warn("Failed to write recording frame", "camera_id", r.cameraID, "error", err)
	}
}

// End closes the current file. Calling it while inactive does nothing.
func (r *Recorder) End() {
	if r.sink == nil {
		return
	}
	if err := r.sink.Close(); err != nil {
		r.logger.Error("Failed to close recording", "camera_id", r.cameraID, "path", r.path, "error", err)
	}
	now := r.now()
	r.logger.Info("Recording stopped", "camera_id", r.cameraID, "path", r.path,
		"duration", now.Sub(r.startTime).Round(time.Millisecond))
	r.publish(domain.EventRecordingStopped, now, fmt.Sprintf("duration %s", now.Sub(r.startTime).Round(time.Second)))

	r.sink = nil
	r.path = ""
	r.width, r.height = 0, 0
}

func (r *Recorder) publish(kind domain.EventKind, at time.Time, detail string) {
	if r.events == nil {
		return
	}
	r.events.Publish(domain.Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		CameraID:  r.cameraID,
		Timestamp: at,
		Path:      r.path,
		Detail:    detail,
	})
}

// RecordingFileName builds motion_cam<id>_<YYYYMMDD_HHMMSS>.mp4
func RecordingFileName(cameraID domain.CameraID, t time.Time) string {
	return fmt.Sprintf("motion_cam%d_%s.mp4", cameraID, t.Format("20060102_150405"))
}

// ResizeFrame scales a frame to width x height with bilinear interpolation
func ResizeFrame(frame domain.Frame, width, height int) domain.Frame {
	if frame.Empty() {
		return domain.NewFrame(width, height)
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), frame.ToRGBA(), image.Rect(0, 0, frame.Width, frame.Height), draw.Src, nil)
	return domain.FrameFromImage(dst)
}
