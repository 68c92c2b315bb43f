package vision

import (
	"testing"

	"github.com/2vyy/qt-camera-dashboard/internal/application"
	"github.com/2vyy/qt-camera-dashboard/internal/domain"
)

type nopEvents struct{ n int }

func (e *nopEvents) Publish(domain.Event) { e.n++ }

func hasRed(f domain.Frame, x0, y0, x1, y1 int) bool {
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			i := (y*f.Width + x) * domain.Channels
			if f.Data[i] < 50 && f.Data[i+1] < 50 && f.Data[i+2] > 200 {
				return true
			}
		}
	}
	return false
}

func TestProcessKeepsFrameShape(t *testing.T) {
	d := NewDetector(1, &nopEvents{})
	defer d.Close()

	in := domain.NewFrame(160, 120)
	out, err := d.Process(in, domain.DefaultSettings(), false)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if err := out.Validate(); err != nil || !out.SameSize(160, 120) {
		t.Errorf("unexpected output %dx%d: %v", out.Width, out.Height, err)
	}
	if &out.Data[0] == &in.Data[0] {
		t.Error("output shares the input buffer")
	}
}

func TestProcessDrawsRecordingMarker(t *testing.T) {
	settings := domain.DefaultSettings()

	plain := NewDetector(1, &nopEvents{})
	defer plain.Close()
	withMarker := NewDetector(1, &nopEvents{})
	defer withMarker.Close()

	a, err := plain.Process(domain.NewFrame(160, 120), settings, false)
	if err != nil {
		t.Fatal(err)
	}
	b, err := withMarker.Process(domain.NewFrame(160, 120), settings, true)
	if err != nil {
		t.Fatal(err)
	}

	// The marker sits at (10,30), inside any motion box border
	if hasRed(a, 12, 12, 60, 29) {
		t.Error("marker drawn while not recording")
	}
	if !hasRed(b, 12, 12, 60, 29) {
		t.Error("marker missing while recording")
	}
}

func TestProcessRejectsInvalidFrames(t *testing.T) {
	d := NewDetector(1, &nopEvents{})
	defer d.Close()

	bad := []domain.Frame{
		{},
		{Width: 4, Height: 4, Data: make([]byte, 10)},
	}
	for _, f := range bad {
		if _, err := d.Process(f, domain.DefaultSettings(), false); err == nil {
			t.Errorf("frame %dx%d with %d bytes accepted", f.Width, f.Height, len(f.Data))
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	d := NewDetector(1, &nopEvents{})
	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if _, err := d.Process(domain.NewFrame(8, 8), domain.DefaultSettings(), false); err == nil {
		t.Error("closed detector processed a frame")
	}
}

func TestFactoryCreatesIndependentDetectors(t *testing.T) {
	factory := NewFactory(&nopEvents{})

	a, err := factory(1)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := factory(2)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if a == b {
		t.Error("factory returned a shared detector")
	}
}

const (
	sceneWidth  = 320
	sceneHeight = 240
)

// scene returns a black frame with a white square of side size at (x, y)
func scene(x, y, size int) domain.Frame {
	f := domain.NewFrame(sceneWidth, sceneHeight)
	for row := y; row < y+size; row++ {
		for col := x; col < x+size; col++ {
			i := (row*sceneWidth + col) * domain.Channels
			f.Data[i], f.Data[i+1], f.Data[i+2] = 255, 255, 255
		}
	}
	return f
}

// warmUp feeds empty frames until the background model has settled, then
// starts a fresh debouncer publishing to events. The empty model reports the
// first frames as foreground.
func warmUp(t *testing.T, d *Detector, settings domain.Settings, events application.EventPublisher) domain.Frame {
	t.Helper()
	var out domain.Frame
	for i := 0; i < 30; i++ {
		var err error
		out, err = d.Process(domain.NewFrame(sceneWidth, sceneHeight), settings, false)
		if err != nil {
			t.Fatalf("warm-up frame %d: %v", i, err)
		}
	}
	d.debouncer = application.NewMotionDebouncer(1, events, nil)
	return out
}

func TestProcessBoxesLargeMotion(t *testing.T) {
	settings := domain.DefaultSettings()
	events := &nopEvents{}
	d := NewDetector(1, &nopEvents{})
	defer d.Close()

	if still := warmUp(t, d, settings, events); hasRed(still, 0, 0, sceneWidth, sceneHeight) {
		t.Fatal("box drawn on a static scene")
	}

	// A 40x40 square moving to fresh pixels every frame
	const size = 40
	positions := []int{20, 70, 120, 170, 220, 260}
	var out domain.Frame
	x, y := 0, 100
	for _, x = range positions {
		var err error
		out, err = d.Process(scene(x, y, size), settings, false)
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
	}

	// Box border hugs the last square
	if !hasRed(out, x-3, y-3, x+size+3, y+size+3) {
		t.Error("no box around the moving square")
	}
	if hasRed(out, 0, 0, sceneWidth, 60) {
		t.Error("box drawn far from the moving square")
	}
	if events.n != 1 {
		t.Errorf("published %d motion events, want 1", events.n)
	}
	if d.Ratio() < 0.7 {
		t.Errorf("confidence %.2f after sustained motion", d.Ratio())
	}
}

func TestProcessIgnoresSmallMotion(t *testing.T) {
	settings := domain.DefaultSettings()
	events := &nopEvents{}
	d := NewDetector(1, &nopEvents{})
	defer d.Close()

	warmUp(t, d, settings, events)

	// 12x12 squares stay below the minimum contour area
	for _, x := range []int{20, 70, 120, 170, 220, 260} {
		out, err := d.Process(scene(x, 100, 12), settings, false)
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if hasRed(out, 0, 0, sceneWidth, sceneHeight) {
			t.Fatalf("box drawn for a square at x=%d", x)
		}
	}
	if events.n != 0 {
		t.Errorf("published %d motion events, want 0", events.n)
	}
	if d.Ratio() != 0 {
		t.Errorf("confidence %.2f, want 0", d.Ratio())
	}
}
