package application

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/2vyy/qt-camera-dashboard/internal/domain"
)

type sessionRig struct {
	source   *fakeSource
	detector *fakeDetector
	sink     *fakeSink
	opener   *fakeOpener
	events   *fakeEvents
	settings *mutableSettings
	session  *Session
}

func newSessionRig(frames int, mutate func(*domain.Settings)) *sessionRig {
	r := &sessionRig{
		source:   &fakeSource{},
		detector: &fakeDetector{},
		sink:     &fakeSink{},
		opener:   &fakeOpener{},
		events:   &fakeEvents{},
		settings: newSettings(func(s *domain.Settings) {
			s.TargetWidth, s.TargetHeight = 8, 6
			if mutate != nil {
				mutate(s)
			}
		}),
	}
	for i := 1; i <= frames; i++ {
		r.source.frames = append(r.source.frames, testFrame(byte(i), 8, 6))
	}
	r.session = NewSession(SessionConfig{
		ID:       "test-session",
		CameraID: 3,
		Source:   r.source,
		Detector: r.detector,
		Recorder: NewRecorder(3, "rec", r.opener, r.events, nopLogger{}),
		Sink:     r.sink,
		Settings: r.settings,
		Logger:   nopLogger{},
	})
	return r
}

func (r *sessionRig) run(t *testing.T) {
	t.Helper()
	r.session.Start(context.Background(), nil)
	waitDone(t, r.session)
}

func TestSessionRawViewPassesFramesThrough(t *testing.T) {
	r := newSessionRig(3, nil)
	r.run(t)

	if !errors.Is(r.session.Err(), io.EOF) {
		t.Fatalf("expected io.EOF, got %v", r.session.Err())
	}
	if n := r.detector.callCount(); n != 0 {
		t.Errorf("detector called %d times in raw view", n)
	}
	frames := r.sink.framesFor(3)
	if len(frames) != 3 {
		t.Fatalf("expected 3 pushed frames, got %d", len(frames))
	}
	for i, f := range frames {
		if f.Data[0] != byte(i+1) || f.Data[1] != 0 {
			t.Errorf("frame %d was modified: tag=%d mark=%d", i, f.Data[0], f.Data[1])
		}
	}
}

func TestSessionThrottleReusesLastProcessedFrame(t *testing.T) {
	r := newSessionRig(7, func(s *domain.Settings) {
		s.RawView = false
		s.ThrottleStride = 3
	})
	r.run(t)

	if n := r.detector.callCount(); n != 2 {
		t.Fatalf("expected 2 detector calls, got %d", n)
	}

	// Ticks 1 and 2 have nothing to show yet
	frames := r.sink.framesFor(3)
	if len(frames) != 5 {
		t.Fatalf("expected 5 pushed frames, got %d", len(frames))
	}
	want := []struct{ tag, call byte }{
		{3, 1}, {3, 1}, {3, 1},
		{6, 2}, {6, 2},
	}
	for i, w := range want {
		if frames[i].Data[0] != w.tag || frames[i].Data[1] != w.call {
			t.Errorf("push %d: got frame %d from call %d, want frame %d from call %d",
				i, frames[i].Data[0], frames[i].Data[1], w.tag, w.call)
		}
	}
}

func TestSessionDetectorGetsPrivateCopy(t *testing.T) {
	r := newSessionRig(1, func(s *domain.Settings) { s.RawView = false })
	original := r.source.frames[0]
	r.run(t)

	if original.Data[1] != 0 {
		t.Error("detector output leaked into the source frame")
	}
	if frames := r.sink.framesFor(3); len(frames) != 1 || frames[0].Data[1] != 1 {
		t.Errorf("expected the processed frame to be pushed, got %v", frames)
	}
}

func TestSessionRecordingFollowsSettings(t *testing.T) {
	r := newSessionRig(6, func(s *domain.Settings) {
		s.RawView = false
		s.Recording = true
	})
	r.source.onNext = func(n int) {
		switch n {
		case 3:
			r.settings.set(func(s *domain.Settings) { s.Recording = false })
		case 5:
			r.settings.set(func(s *domain.Settings) { s.Recording = true })
		}
	}
	r.run(t)

	sinks := r.opener.opened()
	if len(sinks) != 2 {
		t.Fatalf("expected 2 recording files, got %d", len(sinks))
	}
	for i, s := range sinks {
		if got := len(s.written()); got != 2 {
			t.Errorf("file %d: %d frames written, want 2", i, got)
		}
		if s.closeCount() != 1 {
			t.Errorf("file %d closed %d times", i, s.closeCount())
		}
	}
	if got := sinks[1].written()[0].Data[0]; got != 5 {
		t.Errorf("second file starts with frame %d, want 5", got)
	}

	// The overlay flag mirrors the recorder state of each tick
	want := []bool{true, true, false, false, true, true}
	r.detector.mu.Lock()
	got := append([]bool(nil), r.detector.recording...)
	r.detector.mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("recording flags %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tick %d recording=%v, want %v", i+1, got[i], want[i])
		}
	}

	if n := len(r.events.ofKind(domain.EventRecordingStarted)); n != 2 {
		t.Errorf("expected 2 recording_started events, got %d", n)
	}
	if n := len(r.events.ofKind(domain.EventRecordingStopped)); n != 2 {
		t.Errorf("expected 2 recording_stopped events, got %d", n)
	}
}

func TestSessionSourceFailureReleasesResources(t *testing.T) {
	r := newSessionRig(2, func(s *domain.Settings) { s.Recording = true })
	r.source.finalErr = errBoom
	r.run(t)

	var sourceErr *domain.FrameSourceError
	if !errors.As(r.session.Err(), &sourceErr) {
		t.Fatalf("expected FrameSourceError, got %v", r.session.Err())
	}
	if sourceErr.CameraID != 3 || !errors.Is(sourceErr, errBoom) {
		t.Errorf("unexpected error %v", sourceErr)
	}

	sinks := r.opener.opened()
	if len(sinks) != 1 {
		t.Fatalf("expected 1 recording file, got %d", len(sinks))
	}
	if n := len(sinks[0].written()); n != 2 {
		t.Errorf("expected 2 recorded frames, got %d", n)
	}
	if sinks[0].closeCount() != 1 {
		t.Errorf("recording closed %d times", sinks[0].closeCount())
	}
	if r.source.closeCount() != 1 {
		t.Errorf("source closed %d times", r.source.closeCount())
	}
	if r.detector.closes != 1 {
		t.Errorf("detector closed %d times", r.detector.closes)
	}
}

func TestSessionDetectorErrorEndsSession(t *testing.T) {
	r := newSessionRig(3, func(s *domain.Settings) { s.RawView = false })
	r.detector.err = errBoom
	r.run(t)

	if !errors.Is(r.session.Err(), errBoom) {
		t.Fatalf("expected detector error, got %v", r.session.Err())
	}
	if n := len(r.sink.framesFor(3)); n != 0 {
		t.Errorf("expected no pushed frames, got %d", n)
	}
	if r.source.closeCount() != 1 {
		t.Errorf("source closed %d times", r.source.closeCount())
	}
}

func TestSessionStopWhileBlocked(t *testing.T) {
	r := newSessionRig(0, nil)
	r.source.block = true

	exited := make(chan *Session, 1)
	r.session.Start(context.Background(), func(s *Session) { exited <- s })
	r.session.Stop()
	r.session.Stop()

	select {
	case <-r.session.Done():
	default:
		t.Fatal("Stop returned before the loop exited")
	}
	if err := r.session.Err(); err != nil {
		t.Errorf("expected clean stop, got %v", err)
	}
	if r.source.closeCount() != 1 {
		t.Errorf("source closed %d times", r.source.closeCount())
	}
	if s := <-exited; s != r.session {
		t.Error("onExit received another session")
	}
}

func TestSessionStopBeforeStart(t *testing.T) {
	r := newSessionRig(0, nil)
	r.session.Stop()
	if r.source.closeCount() != 0 {
		t.Error("Stop on an unstarted session touched the source")
	}
}
