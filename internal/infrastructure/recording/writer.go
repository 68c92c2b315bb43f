// Package recording writes frames into video files.
package recording

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gocv.io/x/gocv"

	"github.com/2vyy/qt-camera-dashboard/internal/application"
	"github.com/2vyy/qt-camera-dashboard/internal/domain"
)

// FourCC is the codec of recorded files
const FourCC = "mp4v"

// Opener opens OpenCV video writers, creating the target directory on demand
type Opener struct {
	logger application.Logger
}

// NewOpener creates a video file opener
func NewOpener(logger application.Logger) *Opener {
	return &Opener{logger: logger}
}

// Open creates the file at path
func (o *Opener) Open(path string, fps float64, width, height int) (application.VideoSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}

	vw, err := gocv.VideoWriterFile(path, FourCC, fps, width, height, true)
	if err != nil {
		return nil, err
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, fmt.Errorf("video writer for %s did not open", path)
	}

	o.logger.Debug("Video writer opened", "path", path, "fps", fps, "width", width, "height", height)
	return &VideoWriter{writer: vw, filePath: path, width: width, height: height}, nil
}

// VideoWriter is an open recording file
type VideoWriter struct {
	mutex    sync.Mutex
	writer   *gocv.VideoWriter
	filePath string
	width    int
	height   int
	frames   int
}

// Write appends one frame; its size must match the file
func (vw *VideoWriter) Write(frame domain.Frame) error {
	vw.mutex.Lock()
	defer vw.mutex.Unlock()

	if vw.writer == nil {
		return fmt.Errorf("%s is closed", vw.filePath)
	}
	if !frame.SameSize(vw.width, vw.height) {
		return fmt.Errorf("frame %dx%d does not match recording %dx%d", frame.Width, frame.Height, vw.width, vw.height)
	}

	img, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return err
	}
	defer img.Close()

	if err := vw.writer.Write(img); err != nil {
		return err
	}
	vw.frames++
	return nil
}

// Frames returns the number of frames written
func (vw *VideoWriter) Frames() int {
	vw.mutex.Lock()
	defer vw.mutex.Unlock()
	return vw.frames
}

// Close finalizes the file. Repeated calls are no-ops.
func (vw *VideoWriter) Close() error {
	vw.mutex.Lock()
	defer vw.mutex.Unlock()

	if vw.writer != nil {
		err := vw.writer.Close()
		vw.writer = nil
		return err
	}
	return nil
}
