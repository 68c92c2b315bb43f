package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/2vyy/qt-camera-dashboard/internal/domain"
)

// DefaultRetryInterval is the pause between two publishing attempts of a camera node
const DefaultRetryInterval = 5 * time.Second

var errNodeRunning = errors.New("camera node is already running")

// NodeService publishes a local camera to a remote server and reconnects
// whenever the connection fails
type NodeService struct {
	cameraManager CameraManager
	publisher     Publisher
	logger        Logger
	retryInterval time.Duration

	cancelFunc context.CancelFunc
	done       chan struct{}
	mutex      sync.Mutex
}

// NewNodeService creates a camera node service
func NewNodeService(cameraManager CameraManager, publisher Publisher, logger Logger) *NodeService {
	return &NodeService{
		cameraManager: cameraManager,
		publisher:     publisher,
		logger:        logger,
		retryInterval: DefaultRetryInterval,
	}
}

// ListDevices returns the available capture devices
func (s *NodeService) ListDevices() ([]domain.VideoDevice, error) {
	devices, err := s.cameraManager.ListDevices()
	if err != nil {
		s.logger.Error("Failed to list devices", "error", err)
		return nil, err
	}
	return devices, nil
}

// Run publishes until ctx is cancelled or Stop is called
func (s *NodeService) Run(ctx context.Context, config domain.VideoConfig) error {
	s.mutex.Lock()
	if s.cancelFunc != nil {
		s.mutex.Unlock()
		return errNodeRunning
	}
	ctx, s.cancelFunc = context.WithCancel(ctx)
	s.done = make(chan struct{})
	done := s.done
	s.mutex.Unlock()

	defer func() {
		s.mutex.Lock()
		s.cancelFunc = nil
		s.mutex.Unlock()
		close(done)
	}()

	s.logger.Info("Starting camera node", "camera_id", config.CameraID, "server", config.OfferURL,
		"width", config.Width, "height", config.Height, "fps", config.FrameRate, "bitrate", config.BitRate)

	for attempt := 1; ; attempt++ {
		err := s.publisher.Publish(ctx, config)
		if ctx.Err() != nil {
			s.logger.Info("Camera node stopped", "camera_id", config.CameraID)
			return nil
		}
		if err != nil {
			s.logger.Error("Publishing failed", "camera_id", config.CameraID, "attempt", attempt, "error", err)
		} else {
			s.logger.Warn("Connection closed by server", "camera_id", config.CameraID, "attempt", attempt)
		}

		s.logger.Info("Reconnecting", "camera_id", config.CameraID, "in", s.retryInterval)
		select {
		case <-ctx.Done():
			s.logger.Info("Camera node stopped", "camera_id", config.CameraID)
			return nil
		case <-time.After(s.retryInterval):
		}
	}
}

// Stop cancels a running node and waits for it to return
func (s *NodeService) Stop() {
	s.mutex.Lock()
	cancel, done := s.cancelFunc, s.done
	s.mutex.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
