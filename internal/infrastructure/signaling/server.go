// Package signaling exposes the HTTP surface: offer exchange, settings
// control, status and the viewer WebSocket.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/2vyy/qt-camera-dashboard/internal/application"
	"github.com/2vyy/qt-camera-dashboard/internal/config"
	"github.com/2vyy/qt-camera-dashboard/internal/domain"
)

const maxBodySize = 1 << 20

// OfferRequest is the body of POST /offer
type OfferRequest struct {
	SDP      string `json:"sdp"`
	Type     string `json:"type"`
	CameraID int    `json:"camera_id"`
}

// ErrorResponse is returned with every non-200 status
type ErrorResponse struct {
	Error string `json:"error"`
}

// Sessions is the session manager surface used by the server
type Sessions interface {
	AcceptOffer(ctx context.Context, cameraID domain.CameraID, offer domain.SessionDescription) (domain.SessionDescription, error)
	Active() []domain.CameraStatus
}

// SettingsStore reads and updates the live settings
type SettingsStore interface {
	Settings() domain.Settings
	Apply(update config.ControlUpdate) (domain.Settings, error)
}

// EventQuery returns stored events, newest first
type EventQuery interface {
	RecentEvents(ctx context.Context, cameraID domain.CameraID, limit int) ([]domain.Event, error)
}

// Options wires the optional parts of the server
type Options struct {
	Viewer http.Handler                  // GET /ws, omitted when nil
	Events EventQuery                    // GET /events, omitted when nil
	Health func() map[string]interface{} // extra fields of GET /healthz
}

// Server is the HTTP front of the camera server
type Server struct {
	sessions  Sessions
	settings  SettingsStore
	opts      Options
	logger    application.Logger
	startTime time.Time
	mux       *http.ServeMux
}

// NewServer registers all routes
func NewServer(sessions Sessions, settings SettingsStore, opts Options, logger application.Logger) *Server {
	s := &Server{
		sessions:  sessions,
		settings:  settings,
		opts:      opts,
		logger:    logger,
		startTime: time.Now(),
		mux:       http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /offer", s.handleOffer)
	s.mux.HandleFunc("POST /control", s.handleControl)
	s.mux.HandleFunc("GET /settings", s.handleSettings)
	s.mux.HandleFunc("GET /cameras", s.handleCameras)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if opts.Events != nil {
		s.mux.HandleFunc("GET /events", s.handleEvents)
	}
	if opts.Viewer != nil {
		s.mux.Handle("GET /ws", opts.Viewer)
	}
	s.mux.HandleFunc("GET /{$}", s.handleStatusPage)
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	var req OfferRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed offer: "+err.Error())
		return
	}
	if req.SDP == "" || req.Type != "offer" {
		writeError(w, http.StatusBadRequest, `offer must carry sdp and type "offer"`)
		return
	}
	if req.CameraID < 0 {
		writeError(w, http.StatusBadRequest, "camera_id must not be negative")
		return
	}

	cameraID := domain.CameraID(req.CameraID)
	answer, err := s.sessions.AcceptOffer(r.Context(), cameraID, domain.SessionDescription{SDP: req.SDP, Type: req.Type})
	if err != nil {
		var negErr *domain.NegotiationError
		switch {
		case errors.Is(err, domain.ErrCameraBusy):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, domain.ErrManagerClosed):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.As(err, &negErr):
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.logger.Info("Offer accepted", "camera_id", cameraID, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var update config.ControlUpdate
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "malformed control update: "+err.Error())
		return
	}

	settings, err := s.settings.Apply(update)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info("Settings updated", "recording", settings.Recording, "raw_view", settings.RawView,
		"threshold", settings.BinaryThreshold, "min_area", settings.MinContourArea, "stride", settings.ThrottleStride)
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.Settings())
}

func (s *Server) handleCameras(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Active())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	cameraID, limit := -1, 50
	if raw := r.URL.Query().Get("camera"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id < 0 {
			writeError(w, http.StatusBadRequest, "invalid camera id")
			return
		}
		cameraID = id
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be within 1..1000")
			return
		}
		limit = n
	}

	events, err := s.opts.Events.RecentEvents(r.Context(), domain.CameraID(cameraID), limit)
	if err != nil {
		s.logger.Error("Failed to query events", "error", err)
		writeError(w, http.StatusInternalServerError, "event store unavailable")
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":   "ok",
		"uptime_s": int(time.Since(s.startTime).Seconds()),
		"sessions": len(s.sessions.Active()),
	}
	if s.opts.Health != nil {
		for k, v := range s.opts.Health() {
			body[k] = v
		}
	}
	writeJSON(w, http.StatusOK, body)
}

var statusPage = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head>
	<title>Camera vision server</title>
	<style>
		body { font-family: Arial, sans-serif; margin: 40px; }
		.status { padding: 20px; background-color: #e0f7fa; border-radius: 5px; }
	</style>
</head>
<body>
	<h1>Camera vision server</h1>
	<div class="status">
		<p>Server is running and accepting offers</p>
		<p>Active cameras: {{len .Cameras}}</p>
		<ul>{{range .Cameras}}<li>camera {{.CameraID}}: {{.State}}</li>{{end}}</ul>
		<p>Recording: {{.Settings.Recording}}, raw view: {{.Settings.RawView}}</p>
	</div>
</body>
</html>
`))

func (s *Server) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	data := struct {
		Cameras  []domain.CameraStatus
		Settings domain.Settings
	}{s.sessions.Active(), s.settings.Settings()}
	if err := statusPage.Execute(w, data); err != nil {
		s.logger.Warn("Failed to render status page", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
