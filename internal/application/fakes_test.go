package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/2vyy/qt-camera-dashboard/internal/domain"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Debug(string, ...interface{}) {}

// testFrame returns a frame whose first byte identifies it
func testFrame(tag byte, width, height int) domain.Frame {
	f := domain.NewFrame(width, height)
	f.Data[0] = tag
	return f
}

// fakeSource yields the configured frames, then finalErr (io.EOF by
// default). With block set it waits for cancellation instead.
type fakeSource struct {
	mu       sync.Mutex
	frames   []domain.Frame
	finalErr error
	block    bool
	onNext   func(n int)
	served   int
	closes   int
}

func (s *fakeSource) Next(ctx context.Context) (domain.Frame, error) {
	s.mu.Lock()
	if s.served < len(s.frames) {
		f := s.frames[s.served]
		s.served++
		hook, n := s.onNext, s.served
		s.mu.Unlock()
		if hook != nil {
			hook(n)
		}
		return f, nil
	}
	block, finalErr := s.block, s.finalErr
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return domain.Frame{}, ctx.Err()
	}
	if finalErr != nil {
		return domain.Frame{}, finalErr
	}
	return domain.Frame{}, io.EOF
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSource) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// fakeDetector returns a copy of the input tagged with the call number
type fakeDetector struct {
	mu        sync.Mutex
	calls     int
	recording []bool
	err       error
	closes    int
}

func (d *fakeDetector) Process(frame domain.Frame, settings domain.Settings, recording bool) (domain.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return domain.Frame{}, d.err
	}
	d.calls++
	d.recording = append(d.recording, recording)
	out := frame.Clone()
	out.Data[1] = byte(d.calls)
	return out, nil
}

func (d *fakeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

func (d *fakeDetector) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type pushed struct {
	id    domain.CameraID
	frame domain.Frame
}

// fakeSink records every call in order
type fakeSink struct {
	mu     sync.Mutex
	log    []string
	frames []pushed
}

func (s *fakeSink) RegisterCamera(id domain.CameraID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, fmt.Sprintf("register:%d", id))
}

func (s *fakeSink) PushFrame(id domain.CameraID, frame domain.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, fmt.Sprintf("push:%d", id))
	s.frames = append(s.frames, pushed{id: id, frame: frame})
}

func (s *fakeSink) UnregisterCamera(id domain.CameraID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, fmt.Sprintf("unregister:%d", id))
}

func (s *fakeSink) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

func (s *fakeSink) framesFor(id domain.CameraID) []domain.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Frame
	for _, p := range s.frames {
		if p.id == id {
			out = append(out, p.frame)
		}
	}
	return out
}

func (s *fakeSink) count(call string) int {
	n := 0
	for _, c := range s.calls() {
		if c == call {
			n++
		}
	}
	return n
}

type fakeVideoSink struct {
	mu     sync.Mutex
	path   string
	width  int
	height int
	frames []domain.Frame
	closes int
}

func (v *fakeVideoSink) Write(frame domain.Frame) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.frames = append(v.frames, frame)
	return nil
}

func (v *fakeVideoSink) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closes++
	return nil
}

func (v *fakeVideoSink) written() []domain.Frame {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]domain.Frame(nil), v.frames...)
}

func (v *fakeVideoSink) closeCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closes
}

type fakeOpener struct {
	mu    sync.Mutex
	err   error
	sinks []*fakeVideoSink
	fps   []float64
}

func (o *fakeOpener) Open(path string, fps float64, width, height int) (VideoSink, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	s := &fakeVideoSink{path: path, width: width, height: height}
	o.sinks = append(o.sinks, s)
	o.fps = append(o.fps, fps)
	return s, nil
}

func (o *fakeOpener) opened() []*fakeVideoSink {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*fakeVideoSink(nil), o.sinks...)
}

type fakeEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (e *fakeEvents) Publish(event domain.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *fakeEvents) ofKind(kind domain.EventKind) []domain.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.Event
	for _, ev := range e.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// mutableSettings is a thread-safe SettingsProvider for tests
type mutableSettings struct {
	mu sync.Mutex
	s  domain.Settings
}

func newSettings(mutate func(*domain.Settings)) *mutableSettings {
	s := domain.DefaultSettings()
	if mutate != nil {
		mutate(&s)
	}
	return &mutableSettings{s: s}
}

func (m *mutableSettings) Settings() domain.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s
}

func (m *mutableSettings) set(mutate func(*domain.Settings)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mutate(&m.s)
}

type fakePeer struct {
	mu     sync.Mutex
	closes int
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

func (p *fakePeer) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

// fakeNegotiator answers every offer and keeps the peer callbacks per camera
type fakeNegotiator struct {
	mu     sync.Mutex
	err    error
	events map[domain.CameraID]PeerEvents
	peers  map[domain.CameraID]*fakePeer
}

func newFakeNegotiator() *fakeNegotiator {
	return &fakeNegotiator{
		events: make(map[domain.CameraID]PeerEvents),
		peers:  make(map[domain.CameraID]*fakePeer),
	}
}

func (n *fakeNegotiator) Negotiate(ctx context.Context, cameraID domain.CameraID, offer domain.SessionDescription, events PeerEvents) (domain.SessionDescription, Peer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return domain.SessionDescription{}, nil, n.err
	}
	p := &fakePeer{}
	n.events[cameraID] = events
	n.peers[cameraID] = p
	return domain.SessionDescription{SDP: "answer-" + offer.SDP, Type: "answer"}, p, nil
}

func (n *fakeNegotiator) peerEvents(id domain.CameraID) PeerEvents {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.events[id]
}

func (n *fakeNegotiator) peer(id domain.CameraID) *fakePeer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.peers[id]
}

var errBoom = errors.New("boom")

// waitFor polls cond until it holds or the timeout expires
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// waitDone waits for a session to finish
func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
}
