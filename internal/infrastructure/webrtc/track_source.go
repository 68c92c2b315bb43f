package webrtc

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/2vyy/qt-camera-dashboard/internal/application"
	"github.com/2vyy/qt-camera-dashboard/internal/domain"
)

const (
	// pliInterval is how often a keyframe is requested from the sender
	pliInterval = 3 * time.Second
	// frameQueue is the number of decoded frames buffered ahead of the session
	frameQueue = 2
)

// TrackSource is a frame source fed by a received WebRTC video track
type TrackSource struct {
	cameraID  domain.CameraID
	track     *webrtc.TrackRemote
	writeRTCP func([]rtcp.Packet) error
	decoder   *Decoder
	logger    application.Logger

	ctx    context.Context
	cancel context.CancelFunc
	frames chan domain.Frame

	mu      sync.Mutex
	err     error
	dropped uint64

	closeOnce sync.Once
}

// NewTrackSource starts decoding track in the background
func NewTrackSource(cameraID domain.CameraID, track *webrtc.TrackRemote, writeRTCP func([]rtcp.Packet) error, logger application.Logger) (*TrackSource, error) {
	ctx, cancel := context.WithCancel(context.Background())

	decoder, err := NewDecoder(ctx, track.Codec().MimeType)
	if err != nil {
		cancel()
		return nil, err
	}

	s := &TrackSource{
		cameraID:  cameraID,
		track:     track,
		writeRTCP: writeRTCP,
		decoder:   decoder,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		frames:    make(chan domain.Frame, frameQueue),
	}

	go s.readRTP()
	go s.decode()
	go s.requestKeyframes()

	logger.Info("Receiving video track", "camera_id", cameraID, "codec", track.Codec().MimeType, "ssrc", uint32(track.SSRC()))
	return s, nil
}

func (s *TrackSource) readRTP() {
	for {
		packet, _, err := s.track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) && s.ctx.Err() == nil {
				s.fail(err)
			}
			s.decoder.stdin.Close()
			return
		}
		if err := s.decoder.WriteRTP(packet); err != nil {
			if s.ctx.Err() == nil {
				s.fail(err)
			}
			return
		}
	}
}

func (s *TrackSource) decode() {
	defer close(s.frames)

	err := s.decoder.ReadFrames(func(frame domain.Frame) {
		// Frames are dropped when the session falls behind
		select {
		case s.frames <- frame:
		case <-s.ctx.Done():
		default:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
		}
	})
	if err != nil && s.ctx.Err() == nil {
		s.fail(err)
	}
}

func (s *TrackSource) requestKeyframes() {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			err := s.writeRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(s.track.SSRC())}})
			if err != nil {
				return
			}
		}
	}
}

func (s *TrackSource) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// Next returns the next decoded frame, io.EOF once the track has ended
func (s *TrackSource) Next(ctx context.Context) (domain.Frame, error) {
	select {
	case <-ctx.Done():
		return domain.Frame{}, ctx.Err()
	case frame, ok := <-s.frames:
		if ok {
			return frame, nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.Frame{}, s.err
	}
	return domain.Frame{}, io.EOF
}

// Dropped returns the number of frames discarded because the session was busy
func (s *TrackSource) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close stops decoding. Safe to call more than once.
func (s *TrackSource) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.decoder.Close()
		if msg := s.decoder.Stderr(); msg != "" {
			s.logger.Debug("ffmpeg output", "camera_id", s.cameraID, "stderr", msg)
		}
		s.logger.Debug("Track source closed", "camera_id", s.cameraID, "dropped", s.Dropped())
	})
	return nil
}
