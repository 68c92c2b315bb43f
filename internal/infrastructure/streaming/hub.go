// Package streaming implements the output sink: a latest-frame hub per
// camera with WebSocket viewers.
package streaming

import (
	"bytes"
	"image/jpeg"
	"sort"
	"sync"

	"github.com/2vyy/qt-camera-dashboard/internal/application"
	"github.com/2vyy/qt-camera-dashboard/internal/domain"
)

// JPEGQuality is used when frames are encoded for viewers
const JPEGQuality = 80

type slot struct {
	mu       sync.Mutex
	frame    domain.Frame
	seq      uint64
	jpeg     []byte
	jpegSeq  uint64
	received uint64
}

// Notice announces cameras joining or leaving
type Notice struct {
	Type     string
	CameraID domain.CameraID
}

const (
	NoticeCameraAdded   = "camera_added"
	NoticeCameraRemoved = "camera_removed"
)

// Viewer is a consumer of one camera's latest frames
type Viewer struct {
	cameraID domain.CameraID
	frames   chan struct{}
	notices  chan Notice
}

// Frames signals that a newer frame is available
func (v *Viewer) Frames() <-chan struct{} { return v.frames }

// Notices delivers camera added/removed announcements
func (v *Viewer) Notices() <-chan Notice { return v.notices }

// CameraID returns the watched camera
func (v *Viewer) CameraID() domain.CameraID { return v.cameraID }

// Hub keeps the newest frame of every registered camera. Producers never
// wait: a newer frame simply replaces the one not yet consumed.
type Hub struct {
	logger application.Logger

	mu      sync.RWMutex
	cameras map[domain.CameraID]*slot
	viewers map[*Viewer]struct{}
	dropped uint64
}

// NewHub creates an empty hub
func NewHub(logger application.Logger) *Hub {
	return &Hub{
		logger:  logger,
		cameras: make(map[domain.CameraID]*slot),
		viewers: make(map[*Viewer]struct{}),
	}
}

// RegisterCamera implements application.OutputSink
func (h *Hub) RegisterCamera(id domain.CameraID) {
	h.mu.Lock()
	if _, ok := h.cameras[id]; !ok {
		h.cameras[id] = &slot{}
	}
	h.broadcast(Notice{Type: NoticeCameraAdded, CameraID: id})
	h.mu.Unlock()

	h.logger.Info("Camera registered with output", "camera_id", id)
}

// UnregisterCamera implements application.OutputSink
func (h *Hub) UnregisterCamera(id domain.CameraID) {
	h.mu.Lock()
	_, ok := h.cameras[id]
	delete(h.cameras, id)
	if ok {
		h.broadcast(Notice{Type: NoticeCameraRemoved, CameraID: id})
	}
	h.mu.Unlock()

	if ok {
		h.logger.Info("Camera removed from output", "camera_id", id)
	}
}

// PushFrame implements application.OutputSink. Frames of unknown cameras are dropped.
func (h *Hub) PushFrame(id domain.CameraID, frame domain.Frame) {
	h.mu.RLock()
	s, ok := h.cameras[id]
	if !ok {
		h.mu.RUnlock()
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.frame = frame
	s.seq++
	s.received++
	s.mu.Unlock()

	for v := range h.viewers {
		if v.cameraID != id {
			continue
		}
		select {
		case v.frames <- struct{}{}:
		default:
		}
	}
	h.mu.RUnlock()
}

// broadcast must be called with h.mu held
func (h *Hub) broadcast(n Notice) {
	for v := range h.viewers {
		select {
		case v.notices <- n:
		default:
		}
	}
}

// Subscribe registers a viewer of cameraID
func (h *Hub) Subscribe(cameraID domain.CameraID) *Viewer {
	v := &Viewer{
		cameraID: cameraID,
		frames:   make(chan struct{}, 1),
		notices:  make(chan Notice, 16),
	}

	h.mu.Lock()
	h.viewers[v] = struct{}{}
	_, registered := h.cameras[cameraID]
	h.mu.Unlock()

	if registered {
		v.frames <- struct{}{}
	}
	return v
}

// Unsubscribe removes a viewer
func (h *Hub) Unsubscribe(v *Viewer) {
	h.mu.Lock()
	delete(h.viewers, v)
	h.mu.Unlock()
}

// Latest returns the newest frame of a camera and its sequence number
func (h *Hub) Latest(id domain.CameraID) (domain.Frame, uint64, bool) {
	h.mu.RLock()
	s, ok := h.cameras[id]
	h.mu.RUnlock()
	if !ok {
		return domain.Frame{}, 0, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq == 0 {
		return domain.Frame{}, 0, false
	}
	return s.frame, s.seq, true
}

// LatestJPEG returns the newest frame encoded as JPEG. The encoding is cached
// per frame, so many viewers of one camera share a single encode.
func (h *Hub) LatestJPEG(id domain.CameraID) ([]byte, domain.Frame, uint64, bool) {
	h.mu.RLock()
	s, ok := h.cameras[id]
	h.mu.RUnlock()
	if !ok {
		return nil, domain.Frame{}, 0, false
	}

	s.mu.Lock()
	frame, seq := s.frame, s.seq
	if seq == 0 {
		s.mu.Unlock()
		return nil, domain.Frame{}, 0, false
	}
	if s.jpegSeq == seq {
		data := s.jpeg
		s.mu.Unlock()
		return data, frame, seq, true
	}
	s.mu.Unlock()

	// PushFrame must not wait on an encode
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.ToRGBA(), &jpeg.Options{Quality: JPEGQuality}); err != nil {
		h.logger.Warn("Failed to encode frame", "camera_id", id, "error", err)
		return nil, domain.Frame{}, 0, false
	}
	data := buf.Bytes()

	s.mu.Lock()
	if seq > s.jpegSeq {
		s.jpeg = data
		s.jpegSeq = seq
	}
	s.mu.Unlock()
	return data, frame, seq, true
}

// Cameras returns the registered camera ids in ascending order
func (h *Hub) Cameras() []domain.CameraID {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]domain.CameraID, 0, len(h.cameras))
	for id := range h.cameras {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// HubStats contains output counters
type HubStats struct {
	Cameras  int                        `json:"cameras"`
	Viewers  int                        `json:"viewers"`
	Received map[domain.CameraID]uint64 `json:"received"`
	Dropped  uint64                     `json:"dropped_unregistered"`
}

// Stats returns a snapshot of the hub counters
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	received := make(map[domain.CameraID]uint64, len(h.cameras))
	for id, s := range h.cameras {
		s.mu.Lock()
		received[id] = s.received
		s.mu.Unlock()
	}
	return HubStats{
		Cameras:  len(h.cameras),
		Viewers:  len(h.viewers),
		Received: received,
		Dropped:  h.dropped,
	}
}
