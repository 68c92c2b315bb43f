package config

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/2vyy/qt-camera-dashboard/internal/domain"
)

// ControlUpdate is a partial settings change. Nil fields are left untouched.
type ControlUpdate struct {
	BinaryThreshold *int  `json:"binary_threshold,omitempty"`
	MinContourArea  *int  `json:"min_contour_area,omitempty"`
	ThrottleStride  *int  `json:"throttle_stride,omitempty"`
	RawView         *bool `json:"raw_view,omitempty"`
	Recording       *bool `json:"recording,omitempty"`
	TargetWidth     *int  `json:"target_width,omitempty"`
	TargetHeight    *int  `json:"target_height,omitempty"`
}

// Validate rejects values outside the accepted ranges
func (u ControlUpdate) Validate() error {
	if u.BinaryThreshold != nil && (*u.BinaryThreshold < 0 || *u.BinaryThreshold > 255) {
		return fmt.Errorf("binary_threshold must be within 0..255")
	}
	if u.MinContourArea != nil && *u.MinContourArea < 0 {
		return fmt.Errorf("min_contour_area must not be negative")
	}
	if u.ThrottleStride != nil && *u.ThrottleStride < 1 {
		return fmt.Errorf("throttle_stride must be at least 1")
	}
	if u.TargetWidth != nil && *u.TargetWidth < 0 {
		return fmt.Errorf("target_width must not be negative")
	}
	if u.TargetHeight != nil && *u.TargetHeight < 0 {
		return fmt.Errorf("target_height must not be negative")
	}
	return nil
}

// Empty reports whether the update changes nothing
func (u ControlUpdate) Empty() bool {
	return u == ControlUpdate{}
}

func (u ControlUpdate) applyTo(s domain.Settings) domain.Settings {
	if u.BinaryThreshold != nil {
		s.BinaryThreshold = *u.BinaryThreshold
	}
	if u.MinContourArea != nil {
		s.MinContourArea = *u.MinContourArea
	}
	if u.ThrottleStride != nil {
		s.ThrottleStride = *u.ThrottleStride
	}
	if u.RawView != nil {
		s.RawView = *u.RawView
	}
	if u.Recording != nil {
		s.Recording = *u.Recording
	}
	if u.TargetWidth != nil {
		s.TargetWidth = *u.TargetWidth
	}
	if u.TargetHeight != nil {
		s.TargetHeight = *u.TargetHeight
	}
	return s
}

// Store holds the live settings snapshot. Readers never block; writers are
// serialized and replace the snapshot as a whole.
type Store struct {
	current atomic.Pointer[domain.Settings]
	mutex   sync.Mutex
}

// NewStore creates a store seeded with initial
func NewStore(initial domain.Settings) *Store {
	s := &Store{}
	s.current.Store(&initial)
	return s
}

// Settings returns the current snapshot
func (s *Store) Settings() domain.Settings {
	return *s.current.Load()
}

// Apply validates and applies an update, returning the new snapshot
func (s *Store) Apply(update ControlUpdate) (domain.Settings, error) {
	if err := update.Validate(); err != nil {
		return s.Settings(), err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	next := update.applyTo(*s.current.Load())
	s.current.Store(&next)
	return next, nil
}
