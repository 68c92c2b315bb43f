package streaming

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/2vyy/qt-camera-dashboard/internal/application"
	"github.com/2vyy/qt-camera-dashboard/internal/domain"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Envelope is the binary message sent to viewers
type Envelope struct {
	Type     string `msgpack:"type"`
	CameraID int    `msgpack:"camera_id"`
	Seq      uint64 `msgpack:"seq,omitempty"`
	Width    int    `msgpack:"width,omitempty"`
	Height   int    `msgpack:"height,omitempty"`
	JPEG     []byte `msgpack:"jpeg,omitempty"`
}

// MessageFrame is the envelope type carrying an encoded frame
const MessageFrame = "frame"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ViewerHandler streams one camera's frames over WebSocket: GET /ws?camera=<id>
type ViewerHandler struct {
	hub       *Hub
	logger    application.Logger
	debugMode bool
}

// NewViewerHandler creates the viewer endpoint
func NewViewerHandler(hub *Hub, logger application.Logger, debugMode bool) *ViewerHandler {
	return &ViewerHandler{
		hub:       hub,
		logger:    logger,
		debugMode: debugMode,
	}
}

func (h *ViewerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cameraID := 0
	if raw := r.URL.Query().Get("camera"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid camera id", http.StatusBadRequest)
			return
		}
		cameraID = id
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	viewer := h.hub.Subscribe(domain.CameraID(cameraID))
	s := &viewerStream{
		conn:      conn,
		viewer:    viewer,
		hub:       h.hub,
		logger:    h.logger,
		debugMode: h.debugMode,
		startTime: time.Now(),
		closed:    make(chan struct{}),
	}
	h.logger.Info("Viewer connected", "camera_id", cameraID, "remote", conn.RemoteAddr().String())

	go s.readLoop()
	s.writeLoop()

	h.hub.Unsubscribe(viewer)
	conn.Close()
	h.logger.Info("Viewer disconnected", "camera_id", cameraID, "remote", conn.RemoteAddr().String(), "frames", s.frameCounter)
}

type viewerStream struct {
	conn      *websocket.Conn
	viewer    *Viewer
	hub       *Hub
	logger    application.Logger
	debugMode bool

	frameCounter int
	lastSeq      uint64
	startTime    time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

// readLoop drains control frames so pongs and close messages are processed
func (s *viewerStream) readLoop() {
	defer s.close()

	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *viewerStream) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

func (s *viewerStream) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case n := <-s.viewer.Notices():
			if err := s.send(Envelope{Type: n.Type, CameraID: int(n.CameraID)}); err != nil {
				return
			}
		case <-s.viewer.Frames():
			if err := s.sendFrame(); err != nil {
				s.logger.Debug("Viewer write failed", "camera_id", s.viewer.CameraID(), "error", err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *viewerStream) sendFrame() error {
	data, frame, seq, ok := s.hub.LatestJPEG(s.viewer.CameraID())
	if !ok || seq == s.lastSeq {
		return nil
	}
	s.lastSeq = seq

	err := s.send(Envelope{
		Type:     MessageFrame,
		CameraID: int(s.viewer.CameraID()),
		Seq:      seq,
		Width:    frame.Width,
		Height:   frame.Height,
		JPEG:     data,
	})
	if err != nil {
		return err
	}

	s.frameCounter++
	if s.debugMode && s.frameCounter%30 == 0 {
		elapsed := time.Since(s.startTime).Seconds()
		s.logger.Debug("Viewer stats", "camera_id", s.viewer.CameraID(), "frames", s.frameCounter,
			"fps", float64(s.frameCounter)/elapsed, "last_frame_bytes", len(data))
	}
	return nil
}

func (s *viewerStream) send(env Envelope) error {
	payload, err := msgpack.Marshal(&env)
	if err != nil {
		return err
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.BinaryMessage, payload)
}
