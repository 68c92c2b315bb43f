package camera

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/io/video"

	"github.com/2vyy/qt-camera-dashboard/internal/domain"
)

type readResult struct {
	frame domain.Frame
	err   error
}

// TrackSource reads raw frames from a local camera track
type TrackSource struct {
	cameraID domain.CameraID
	track    mediadevices.Track
	reader   video.Reader

	frames    chan readResult
	closed    chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

func newTrackSource(cameraID domain.CameraID, track *mediadevices.VideoTrack) *TrackSource {
	return &TrackSource{
		cameraID: cameraID,
		track:    track,
		reader:   track.NewReader(false),
		frames:   make(chan readResult),
		closed:   make(chan struct{}),
	}
}

// Next returns the next captured frame
func (s *TrackSource) Next(ctx context.Context) (domain.Frame, error) {
	s.startOnce.Do(func() { go s.readLoop() })

	select {
	case <-ctx.Done():
		return domain.Frame{}, ctx.Err()
	case <-s.closed:
		return domain.Frame{}, io.EOF
	case r, ok := <-s.frames:
		if !ok {
			return domain.Frame{}, io.EOF
		}
		return r.frame, r.err
	}
}

// readLoop converts driver images into frames. The driver buffer is
// released as soon as the frame has been copied out.
func (s *TrackSource) readLoop() {
	defer close(s.frames)

	for {
		img, release, err := s.reader.Read()
		var r readResult
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			r.err = err
		} else {
			r.frame = domain.FrameFromImage(img)
			release()
		}

		select {
		case s.frames <- r:
		case <-s.closed:
			return
		}
		if r.err != nil {
			return
		}
	}
}

// Close stops the track. Safe to call more than once.
func (s *TrackSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.track.Close()
	})
	return err
}
