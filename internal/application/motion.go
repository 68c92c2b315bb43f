package application

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/2vyy/qt-camera-dashboard/internal/domain"
)

const (
	// ConfidenceWindowSize is the number of recent frames used to smooth detections
	ConfidenceWindowSize = 5
	// MotionConfidenceThreshold is the fraction of recent frames that must show motion
	MotionConfidenceThreshold = 0.7
	// MotionCooldown separates two motion events of the same camera
	MotionCooldown = 2 * time.Second
)

// ConfidenceWindow is a fixed-capacity FIFO of per-frame motion flags
type ConfidenceWindow struct {
	buf   [ConfidenceWindowSize]bool
	start int
	size  int
}

// Push appends a flag, evicting the oldest one when full
func (w *ConfidenceWindow) Push(v bool) {
	if w.size < len(w.buf) {
		w.buf[(w.start+w.size)%len(w.buf)] = v
		w.size++
		return
	}
	w.buf[w.start] = v
	w.start = (w.start + 1) % len(w.buf)
}

// Len returns the number of flags currently held
func (w *ConfidenceWindow) Len() int { return w.size }

// Ratio is the share of true flags over the current length (0 when empty)
func (w *ConfidenceWindow) Ratio() float64 {
	if w.size == 0 {
		return 0
	}
	n := 0
	for i := 0; i < w.size; i++ {
		if w.buf[(w.start+i)%len(w.buf)] {
			n++
		}
	}
	return float64(n) / float64(w.size)
}

// MotionDebouncer turns per-frame contour results into debounced motion events.
// It belongs to exactly one session.
type MotionDebouncer struct {
	cameraID  domain.CameraID
	events    EventPublisher
	now       func() time.Time
	window    ConfidenceWindow
	logged    bool
	lastEvent time.Time
	startedAt time.Time
}

// NewMotionDebouncer creates a debouncer; now may be nil to use the wall clock
func NewMotionDebouncer(cameraID domain.CameraID, events EventPublisher, now func() time.Time) *MotionDebouncer {
	if now == nil {
		now = time.Now
	}
	return &MotionDebouncer{
		cameraID:  cameraID,
		events:    events,
		now:       now,
		startedAt: now(),
	}
}

// Observe records whether the last frame had a qualifying contour and
// reports whether a motion event was emitted.
//
// The re-arm branch runs whenever the event branch does not fire and the cooldown
// has elapsed, including while confidence stays high.
func (d *MotionDebouncer) Observe(anyContour bool) bool {
	d.window.Push(anyContour)
	ratio := d.window.Ratio()
	now := d.now()
	elapsed := now.Sub(d.lastEvent)

	if ratio >= MotionConfidenceThreshold && !d.logged && elapsed > MotionCooldown {
		d.emit(now)
		d.logged = true
		d.lastEvent = now
		return true
	} else if elapsed > MotionCooldown {
		d.logged = false
	}
	return false
}

// Ratio exposes the current confidence ratio
func (d *MotionDebouncer) Ratio() float64 { return d.window.Ratio() }

// Armed reports whether a new event may be emitted
func (d *MotionDebouncer) Armed() bool { return !d.logged }

func (d *MotionDebouncer) emit(now time.Time) {
	if d.events == nil {
		return
	}
	elapsed := now.Sub(d.startedAt)
	d.events.Publish(domain.Event{
		ID:        uuid.NewString(),
		Kind:      domain.EventMotion,
		CameraID:  d.cameraID,
		Timestamp: now,
		Elapsed:   elapsed,
		Detail:    fmt.Sprintf("Movement detected on camera %d at %s", d.cameraID, FormatElapsed(elapsed)),
	})
}

// FormatElapsed renders a duration as H:M:S without padding
func FormatElapsed(d time.Duration) string {
	total := int(d.Seconds())
	return fmt.Sprintf("%d:%d:%d", total/3600, (total%3600)/60, total%60)
}
