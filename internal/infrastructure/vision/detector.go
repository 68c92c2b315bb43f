// Package vision implements motion detection with OpenCV.
package vision

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/2vyy/qt-camera-dashboard/internal/application"
	"github.com/2vyy/qt-camera-dashboard/internal/domain"
)

var (
	boxColor    = color.RGBA{R: 255, A: 255}
	markerColor = color.RGBA{R: 255, A: 255}
	markerPos   = image.Pt(10, 30)
)

const (
	boxThickness    = 2
	markerThickness = 2
	markerScale     = 1.0
	kernelSize      = 7
)

// Detector runs background subtraction and contour analysis for one camera.
// Each session owns its own Detector; the background model is never shared.
type Detector struct {
	subtractor gocv.BackgroundSubtractorKNN
	kernel     gocv.Mat
	debouncer  *application.MotionDebouncer
	closed     bool
}

// NewDetector creates a detector that publishes debounced motion events for cameraID
func NewDetector(cameraID domain.CameraID, events application.EventPublisher) *Detector {
	return &Detector{
		subtractor: gocv.NewBackgroundSubtractorKNN(),
		kernel:     gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(kernelSize, kernelSize)),
		debouncer:  application.NewMotionDebouncer(cameraID, events, nil),
	}
}

// NewFactory returns a detector factory for the session manager
func NewFactory(events application.EventPublisher) application.DetectorFactory {
	return func(cameraID domain.CameraID) (application.MotionDetector, error) {
		return NewDetector(cameraID, events), nil
	}
}

// Process annotates frame with motion boxes and, when recording, the REC marker
func (d *Detector) Process(frame domain.Frame, settings domain.Settings, recording bool) (domain.Frame, error) {
	if d.closed {
		return domain.Frame{}, fmt.Errorf("detector is closed")
	}
	if err := frame.Validate(); err != nil {
		return domain.Frame{}, err
	}

	img, err := toMat(frame)
	if err != nil {
		return domain.Frame{}, err
	}
	defer img.Close()

	mask := gocv.NewMat()
	defer mask.Close()
	d.subtractor.Apply(img, &mask)

	gocv.Threshold(mask, &mask, float32(settings.Threshold()), 255, gocv.ThresholdBinary)
	gocv.MorphologyEx(mask, &mask, gocv.MorphOpen, d.kernel)

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	anyContour := false
	minArea := float64(settings.MinContourArea)
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		if gocv.ContourArea(contour) <= minArea {
			continue
		}
		anyContour = true
		gocv.Rectangle(&img, gocv.BoundingRect(contour), boxColor, boxThickness)
	}

	d.debouncer.Observe(anyContour)

	if recording {
		gocv.PutText(&img, "REC", markerPos, gocv.FontHersheySimplex, markerScale, markerColor, markerThickness)
	}

	return domain.Frame{Width: frame.Width, Height: frame.Height, Data: img.ToBytes()}, nil
}

// Ratio returns the current motion confidence
func (d *Detector) Ratio() float64 { return d.debouncer.Ratio() }

// Close releases the OpenCV resources
func (d *Detector) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.kernel.Close()
	return d.subtractor.Close()
}

// toMat copies a frame into an owned BGR Mat
func toMat(frame domain.Frame) (gocv.Mat, error) {
	view, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("wrap frame: %w", err)
	}
	defer view.Close()
	return view.Clone(), nil
}
