package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/2vyy/qt-camera-dashboard/internal/domain"
)

// Session runs the frame loop of a single camera
type Session struct {
	id       string
	cameraID domain.CameraID
	source   FrameSource
	detector MotionDetector
	recorder *Recorder
	sink     OutputSink
	settings SettingsProvider
	logger   Logger

	frameCounter uint64
	lastEmitted  domain.Frame
	hasEmitted   bool

	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	stopOnce  sync.Once
	err       error
}

// SessionConfig groups the collaborators of a session
type SessionConfig struct {
	ID       string
	CameraID domain.CameraID
	Source   FrameSource
	Detector MotionDetector
	Recorder *Recorder
	Sink     OutputSink
	Settings SettingsProvider
	Logger   Logger
}

// NewSession creates a session; call Start to run it
func NewSession(cfg SessionConfig) *Session {
	return &Session{
		id:       cfg.ID,
		cameraID: cfg.CameraID,
		source:   cfg.Source,
		detector: cfg.Detector,
		recorder: cfg.Recorder,
		sink:     cfg.Sink,
		settings: cfg.Settings,
		logger:   cfg.Logger,
		done:     make(chan struct{}),
	}
}

// ID returns the session instance identifier
func (s *Session) ID() string { return s.id }

// CameraID returns the camera served by the session
func (s *Session) CameraID() domain.CameraID { return s.cameraID }

// Done is closed once the loop has exited and resources are released
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the loop. Valid after Done is closed.
func (s *Session) Err() error { return s.err }

// Start launches the loop goroutine. onExit, if set, runs after cleanup.
func (s *Session) Start(ctx context.Context, onExit func(*Session)) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.startedAt = time.Now()

	go func() {
		s.err = s.run(ctx)
		s.cleanup()
		close(s.done)
		if onExit != nil {
			onExit(s)
		}
	}()
}

// Stop cancels the loop and waits for it to exit. Safe to call repeatedly.
func (s *Session) Stop() {
	if s.cancel == nil {
		return
	}
	s.stopOnce.Do(s.cancel)
	<-s.done
}

func (s *Session) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session for camera %d panicked: %v", s.cameraID, r)
		}
	}()

	for ctx.Err() == nil {
		if err := s.tick(ctx); err != nil {
			return err
		}
	}
	return nil
}

// tick processes one frame
func (s *Session) tick(ctx context.Context) error {
	s.frameCounter++

	frame, err := s.source.Next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return &domain.FrameSourceError{CameraID: s.cameraID, Err: err}
	}

	settings := s.settings.Settings()

	if settings.Recording {
		if !s.recorder.Active() {
			s.recorder.Start(settings)
		}
		s.recorder.AddFrame(frame)
	} else if s.recorder.Active() {
		s.recorder.End()
	}

	if settings.RawView {
		s.sink.PushFrame(s.cameraID, frame)
		return nil
	}

	if s.frameCounter%settings.Stride() == 0 {
		processed, err := s.detector.Process(frame.Clone(), settings, s.recorder.Active())
		if err != nil {
			return fmt.Errorf("motion detection on camera %d: %w", s.cameraID, err)
		}
		s.lastEmitted = processed
		s.hasEmitted = true
	}

	if !s.hasEmitted {
		return nil
	}
	s.sink.PushFrame(s.cameraID, s.lastEmitted)
	return nil
}

func (s *Session) cleanup() {
	s.recorder.End()
	if err := s.source.Close(); err != nil {
		s.logger.Warn("Failed to close frame source", "camera_id", s.cameraID, "error", err)
	}
	if err := s.detector.Close(); err != nil {
		s.logger.Warn("Failed to release motion detector", "camera_id", s.cameraID, "error", err)
	}

	uptime := time.Since(s.startedAt).Round(time.Second)
	switch {
	case s.err == nil:
		s.logger.Info("Session stopped", "camera_id", s.cameraID, "frames", s.frameCounter, "uptime", uptime)
	case errors.Is(s.err, io.EOF):
		s.logger.Info("Stream ended", "camera_id", s.cameraID, "frames", s.frameCounter, "uptime", uptime)
	default:
		s.logger.Error("Session terminated", "camera_id", s.cameraID, "error", s.err, "uptime", uptime)
	}
}
