package camera

import (
	"fmt"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera" // registers the camera driver
	"github.com/pion/mediadevices/pkg/prop"

	"github.com/2vyy/qt-camera-dashboard/internal/application"
	"github.com/2vyy/qt-camera-dashboard/internal/domain"
)

// MediaDevicesManager implements application.CameraManager on top of mediadevices
type MediaDevicesManager struct {
	logger application.Logger
}

// NewMediaDevicesManager creates a camera manager
func NewMediaDevicesManager(logger application.Logger) *MediaDevicesManager {
	return &MediaDevicesManager{
		logger: logger,
	}
}

// ListDevices returns the video capture devices
func (m *MediaDevicesManager) ListDevices() ([]domain.VideoDevice, error) {
	devices := mediadevices.EnumerateDevices()
	result := make([]domain.VideoDevice, 0, len(devices))

	for _, device := range devices {
		if device.Kind != mediadevices.VideoInput {
			continue
		}
		result = append(result, domain.VideoDevice{
			ID:    device.DeviceID,
			Label: device.Label,
			Kind:  "videoinput",
		})
	}

	return result, nil
}

// OpenCamera opens a local camera as a raw frame source
func (m *MediaDevicesManager) OpenCamera(config domain.VideoConfig) (application.FrameSource, error) {
	track, err := m.OpenTrack(config, nil)
	if err != nil {
		return nil, err
	}
	videoTrack, ok := track.(*mediadevices.VideoTrack)
	if !ok {
		track.Close()
		return nil, fmt.Errorf("camera %d: %w", config.CameraID, domain.ErrNoVideoTrack)
	}
	m.logger.Info("Camera opened", "camera_id", config.CameraID, "track", track.ID())
	return newTrackSource(config.CameraID, videoTrack), nil
}

// OpenTrack opens the video track of a camera. The preferred size and frame
// rate are tried first, then any format the driver offers. codecs may be nil
// when the track is only read raw.
func (m *MediaDevicesManager) OpenTrack(config domain.VideoConfig, codecs *mediadevices.CodecSelector) (mediadevices.Track, error) {
	constraints := mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			if config.Width > 0 {
				c.Width = prop.Int(config.Width)
			}
			if config.Height > 0 {
				c.Height = prop.Int(config.Height)
			}
			if config.FrameRate > 0 {
				c.FrameRate = prop.Float(float32(config.FrameRate))
			}
			if config.DeviceID != "" {
				c.DeviceID = prop.String(config.DeviceID)
			}
		},
		Codec: codecs,
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		m.logger.Warn("Preferred constraints rejected, retrying with minimal constraints",
			"camera_id", config.CameraID, "error", err)

		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			if config.DeviceID != "" {
				c.DeviceID = prop.String(config.DeviceID)
			}
		}
		stream, err = mediadevices.GetUserMedia(constraints)
		if err != nil {
			return nil, fmt.Errorf("access media device for camera %d: %w", config.CameraID, err)
		}
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("camera %d: %w", config.CameraID, domain.ErrNoVideoTrack)
	}
	for _, extra := range tracks[1:] {
		extra.Close()
	}
	return tracks[0], nil
}
