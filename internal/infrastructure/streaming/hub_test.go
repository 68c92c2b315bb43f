package streaming

import (
	"bytes"
	"image/jpeg"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/2vyy/qt-camera-dashboard/internal/domain"
	"github.com/2vyy/qt-camera-dashboard/internal/infrastructure/logger"
)

var testLogger = logger.New(io.Discard, false, false)

func frame(tag byte) domain.Frame {
	f := domain.NewFrame(16, 8)
	f.Data[0] = tag
	return f
}

func TestPushToUnregisteredCameraIsDropped(t *testing.T) {
	hub := NewHub(testLogger)

	hub.PushFrame(1, frame(1))
	if _, _, ok := hub.Latest(1); ok {
		t.Fatal("unregistered camera has a frame")
	}

	hub.RegisterCamera(1)
	hub.PushFrame(1, frame(2))
	hub.UnregisterCamera(1)
	hub.PushFrame(1, frame(3))

	stats := hub.Stats()
	if stats.Dropped != 2 {
		t.Errorf("dropped %d, want 2", stats.Dropped)
	}
	if stats.Cameras != 0 {
		t.Errorf("expected no cameras, got %d", stats.Cameras)
	}
}

func TestLatestFrameWins(t *testing.T) {
	hub := NewHub(testLogger)
	hub.RegisterCamera(2)

	if _, _, ok := hub.Latest(2); ok {
		t.Fatal("registered camera without frames reported a frame")
	}

	for i := byte(1); i <= 5; i++ {
		hub.PushFrame(2, frame(i))
	}
	f, seq, ok := hub.Latest(2)
	if !ok || seq != 5 || f.Data[0] != 5 {
		t.Errorf("Latest = tag %d seq %d ok %v, want tag 5 seq 5", f.Data[0], seq, ok)
	}
	if got := hub.Stats().Received[2]; got != 5 {
		t.Errorf("received %d, want 5", got)
	}
}

func TestCamerasAreIsolated(t *testing.T) {
	hub := NewHub(testLogger)
	hub.RegisterCamera(3)
	hub.RegisterCamera(1)

	hub.PushFrame(1, frame(10))
	hub.PushFrame(3, frame(30))
	hub.UnregisterCamera(3)

	if ids := hub.Cameras(); len(ids) != 1 || ids[0] != 1 {
		t.Errorf("Cameras() = %v", ids)
	}
	if f, _, ok := hub.Latest(1); !ok || f.Data[0] != 10 {
		t.Error("camera 1 lost its frame")
	}
}

func TestViewerNotifications(t *testing.T) {
	hub := NewHub(testLogger)
	v := hub.Subscribe(4)
	defer hub.Unsubscribe(v)

	hub.RegisterCamera(4)
	select {
	case n := <-v.Notices():
		if n.Type != NoticeCameraAdded || n.CameraID != 4 {
			t.Errorf("unexpected notice %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("no camera_added notice")
	}

	// Several pushes collapse into one pending signal
	hub.PushFrame(4, frame(1))
	hub.PushFrame(4, frame(2))
	<-v.Frames()
	select {
	case <-v.Frames():
		t.Fatal("expected a single pending signal")
	default:
	}

	// Frames of other cameras do not wake the viewer
	hub.RegisterCamera(5)
	<-v.Notices()
	hub.PushFrame(5, frame(9))
	select {
	case <-v.Frames():
		t.Fatal("viewer woken by another camera")
	default:
	}

	hub.UnregisterCamera(4)
	if n := <-v.Notices(); n.Type != NoticeCameraRemoved || n.CameraID != 4 {
		t.Errorf("unexpected notice %+v", n)
	}
}

func TestLatestJPEGIsCachedPerFrame(t *testing.T) {
	hub := NewHub(testLogger)
	hub.RegisterCamera(1)

	if _, _, _, ok := hub.LatestJPEG(1); ok {
		t.Fatal("JPEG available before any frame")
	}

	hub.PushFrame(1, frame(1))
	first, f, seq, ok := hub.LatestJPEG(1)
	if !ok || seq != 1 || f.Width != 16 {
		t.Fatalf("LatestJPEG = seq %d ok %v", seq, ok)
	}
	img, err := jpeg.Decode(bytes.NewReader(first))
	if err != nil {
		t.Fatalf("invalid JPEG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 16 || b.Dy() != 8 {
		t.Errorf("decoded %dx%d, want 16x8", b.Dx(), b.Dy())
	}

	again, _, _, _ := hub.LatestJPEG(1)
	if &again[0] != &first[0] {
		t.Error("JPEG re-encoded for an unchanged frame")
	}

	hub.PushFrame(1, frame(2))
	next, _, seq, _ := hub.LatestJPEG(1)
	if seq != 2 || &next[0] == &first[0] {
		t.Error("JPEG not refreshed for a new frame")
	}
}

func TestPushFrameDoesNotWaitForEncoding(t *testing.T) {
	hub := NewHub(testLogger)
	hub.RegisterCamera(1)

	big := domain.NewFrame(3840, 2160)
	for i := range big.Data {
		big.Data[i] = byte(i * 31)
	}
	hub.PushFrame(1, big)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			hub.PushFrame(1, big)
			hub.LatestJPEG(1)
		}
	}()
	// let the encoder loop get going
	time.Sleep(20 * time.Millisecond)

	var worst time.Duration
	for i := 0; i < 50; i++ {
		start := time.Now()
		hub.PushFrame(1, big)
		if d := time.Since(start); d > worst {
			worst = d
		}
		time.Sleep(time.Millisecond)
	}
	close(stop)
	wg.Wait()

	if worst > 50*time.Millisecond {
		t.Errorf("PushFrame took %v while a viewer was encoding", worst)
	}
}

func TestLatestJPEGKeepsNewestEncoding(t *testing.T) {
	hub := NewHub(testLogger)
	hub.RegisterCamera(1)

	hub.PushFrame(1, frame(1))
	hub.PushFrame(1, frame(2))
	data, f, seq, ok := hub.LatestJPEG(1)
	if !ok || seq != 2 || f.Data[0] != 2 {
		t.Fatalf("LatestJPEG = tag %d seq %d ok %v, want tag 2 seq 2", f.Data[0], seq, ok)
	}
	if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
		t.Fatalf("invalid JPEG: %v", err)
	}
}

func TestSubscribeSignalsRegisteredCamera(t *testing.T) {
	hub := NewHub(testLogger)
	hub.RegisterCamera(6)

	v := hub.Subscribe(6)
	defer hub.Unsubscribe(v)
	select {
	case <-v.Frames():
	default:
		t.Fatal("viewer of a registered camera was not signalled")
	}

	other := hub.Subscribe(7)
	defer hub.Unsubscribe(other)
	select {
	case <-other.Frames():
		t.Fatal("viewer of an unknown camera was signalled")
	default:
	}
}
