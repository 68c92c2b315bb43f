package application

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2vyy/qt-camera-dashboard/internal/domain"
)

// DetectorFactory creates the motion detector of a new session
type DetectorFactory func(cameraID domain.CameraID) (MotionDetector, error)

// ManagerConfig holds the shared services handed to every session
type ManagerConfig struct {
	Negotiator   Negotiator
	Sink         OutputSink
	Settings     SettingsProvider
	Events       EventPublisher
	NewDetector  DetectorFactory
	Recordings   VideoSinkOpener
	RecordingDir string
	Logger       Logger
}

type cameraEntry struct {
	id      string
	state   domain.ConnectionState
	peer    Peer
	session *Session
	since   time.Time
	closing bool
}

// SessionManager maps connection events of every camera onto session lifecycles.
// Failures of one camera never touch another camera's entry.
type SessionManager struct {
	cfg    ManagerConfig
	logger Logger

	ctx    context.Context
	cancel context.CancelFunc

	mutex   sync.Mutex
	entries map[domain.CameraID]*cameraEntry
	closed  bool
}

// NewSessionManager creates a manager with an empty active set
func NewSessionManager(cfg ManagerConfig) *SessionManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionManager{
		cfg:     cfg,
		logger:  cfg.Logger,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[domain.CameraID]*cameraEntry),
	}
}

// AcceptOffer negotiates a connection for cameraID and arranges a session
// to start once the first video track arrives.
func (m *SessionManager) AcceptOffer(ctx context.Context, cameraID domain.CameraID, offer domain.SessionDescription) (domain.SessionDescription, error) {
	entry, err := m.reserve(cameraID, domain.StateNegotiating)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	m.logger.Info("Negotiating camera", "camera_id", cameraID, "session_id", entry.id)

	events := PeerEvents{
		OnTrack: func(source FrameSource) { m.attach(cameraID, entry.id, source) },
		OnState: func(state domain.ConnectionState) { m.onState(cameraID, entry.id, state) },
	}

	answer, peer, err := m.cfg.Negotiator.Negotiate(ctx, cameraID, offer, events)
	if err != nil {
		m.release(cameraID, entry)
		m.logger.Error("Negotiation failed", "camera_id", cameraID, "error", err)
		return domain.SessionDescription{}, &domain.NegotiationError{CameraID: cameraID, Err: err}
	}

	m.mutex.Lock()
	current := m.entries[cameraID]
	if current != entry || entry.closing {
		m.mutex.Unlock()
		_ = peer.Close()
		return domain.SessionDescription{}, &domain.NegotiationError{CameraID: cameraID, Err: domain.ErrSessionNotFound}
	}
	entry.peer = peer
	m.mutex.Unlock()

	return answer, nil
}

// StartLocal attaches a session to a locally captured source, skipping negotiation
func (m *SessionManager) StartLocal(cameraID domain.CameraID, source FrameSource) error {
	entry, err := m.reserve(cameraID, domain.StateConnected)
	if err != nil {
		return err
	}
	if !m.attach(cameraID, entry.id, source) {
		return domain.ErrSessionNotFound
	}
	return nil
}

// OnSessionFailed tears the camera down after a transport failure. Idempotent.
func (m *SessionManager) OnSessionFailed(cameraID domain.CameraID) {
	m.end(cameraID, "", domain.StateFailed)
}

// OnSessionClosed tears the camera down after a normal close. Idempotent.
func (m *SessionManager) OnSessionClosed(cameraID domain.CameraID) {
	m.end(cameraID, "", domain.StateClosed)
}

// Active returns the active set ordered by camera id
func (m *SessionManager) Active() []domain.CameraStatus {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	out := make([]domain.CameraStatus, 0, len(m.entries))
	for id, e := range m.entries {
		if e.closing {
			continue
		}
		out = append(out, domain.CameraStatus{
			CameraID:  id,
			State:     e.state.String(),
			SessionID: e.id,
			Since:     e.since,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out
}

// Shutdown stops every session and closes every connection. New offers are
// rejected afterwards.
func (m *SessionManager) Shutdown() {
	m.mutex.Lock()
	if m.closed {
		m.mutex.Unlock()
		return
	}
	m.closed = true
	ids := make([]domain.CameraID, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mutex.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		m.end(id, "", domain.StateClosed)
	}
	m.cancel()
	m.logger.Info("Session manager stopped", "cameras", len(ids))
}

func (m *SessionManager) reserve(cameraID domain.CameraID, state domain.ConnectionState) (*cameraEntry, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return nil, domain.ErrManagerClosed
	}
	if _, ok := m.entries[cameraID]; ok {
		return nil, domain.ErrCameraBusy
	}
	entry := &cameraEntry{
		id:    uuid.NewString(),
		state: state,
		since: time.Now(),
	}
	m.entries[cameraID] = entry
	return entry, nil
}

func (m *SessionManager) release(cameraID domain.CameraID, entry *cameraEntry) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.entries[cameraID] == entry {
		delete(m.entries, cameraID)
	}
}

// attach starts the session of a reserved entry. Extra tracks of a camera
// that already has a session are closed and ignored.
func (m *SessionManager) attach(cameraID domain.CameraID, id string, source FrameSource) bool {
	m.mutex.Lock()
	entry := m.entries[cameraID]
	if m.closed || entry == nil || entry.id != id || entry.closing || entry.session != nil {
		m.mutex.Unlock()
		m.logger.Warn("Ignoring video track", "camera_id", cameraID, "session_id", id)
		_ = source.Close()
		return false
	}

	detector, err := m.cfg.NewDetector(cameraID)
	if err != nil {
		m.mutex.Unlock()
		m.logger.Error("Failed to create motion detector", "camera_id", cameraID, "error", err)
		_ = source.Close()
		m.end(cameraID, id, domain.StateFailed)
		return false
	}

	session := NewSession(SessionConfig{
		ID:       id,
		CameraID: cameraID,
		Source:   source,
		Detector: detector,
		Recorder: NewRecorder(cameraID, m.cfg.RecordingDir, m.cfg.Recordings, m.cfg.Events, m.logger),
		Sink:     m.cfg.Sink,
		Settings: m.cfg.Settings,
		Logger:   m.logger,
	})
	entry.session = session
	entry.state = domain.StateConnected
	entry.since = time.Now()

	m.cfg.Sink.RegisterCamera(cameraID)
	session.Start(m.ctx, func(s *Session) {
		state := domain.StateClosed
		if err := s.Err(); err != nil && !errors.Is(err, io.EOF) {
			state = domain.StateFailed
		}
		m.end(cameraID, id, state)
	})
	m.mutex.Unlock()

	m.logger.Info("Session started", "camera_id", cameraID, "session_id", id)
	m.publish(domain.EventSessionStarted, cameraID, id)
	return true
}

func (m *SessionManager) onState(cameraID domain.CameraID, id string, state domain.ConnectionState) {
	m.logger.Debug("Connection state changed", "camera_id", cameraID, "state", state.String())

	if state.Terminal() {
		m.end(cameraID, id, state)
		return
	}
	if state == domain.StateConnected {
		m.mutex.Lock()
		if e := m.entries[cameraID]; e != nil && e.id == id && !e.closing && e.state != domain.StateConnected {
			e.state = state
			e.since = time.Now()
		}
		m.mutex.Unlock()
	}
}

// end tears down the entry of cameraID. An empty id matches any entry.
// The entry stays in the active set, marked closing, until teardown is complete.
func (m *SessionManager) end(cameraID domain.CameraID, id string, state domain.ConnectionState) {
	m.mutex.Lock()
	entry := m.entries[cameraID]
	if entry == nil || entry.closing || (id != "" && entry.id != id) {
		m.mutex.Unlock()
		return
	}
	entry.closing = true
	entry.state = state
	m.mutex.Unlock()

	if entry.session != nil {
		entry.session.Stop()
	}
	if entry.peer != nil {
		if err := entry.peer.Close(); err != nil {
			m.logger.Warn("Failed to close peer connection", "camera_id", cameraID, "error", err)
		}
	}
	if entry.session != nil {
		m.cfg.Sink.UnregisterCamera(cameraID)
	}

	m.mutex.Lock()
	if m.entries[cameraID] == entry {
		delete(m.entries, cameraID)
	}
	m.mutex.Unlock()

	m.logger.Info("Camera removed", "camera_id", cameraID, "session_id", entry.id, "state", state.String())
	if entry.session != nil {
		m.publish(domain.EventSessionEnded, cameraID, entry.id)
	}
}

func (m *SessionManager) publish(kind domain.EventKind, cameraID domain.CameraID, sessionID string) {
	if m.cfg.Events == nil {
		return
	}
	m.cfg.Events.Publish(domain.Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		CameraID:  cameraID,
		Timestamp: time.Now(),
		Detail:    "session " + sessionID,
	})
}
