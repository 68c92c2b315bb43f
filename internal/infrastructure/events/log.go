package events

import (
	"github.com/2vyy/qt-camera-dashboard/internal/application"
	"github.com/2vyy/qt-camera-dashboard/internal/domain"
)

// LogHandler writes every event to the log. Motion events carry the
// human-readable detection line as their message.
func LogHandler(logger application.Logger) Handler {
	return func(event domain.Event) {
		switch event.Kind {
		case domain.EventMotion:
			logger.Info(event.Detail, "camera_id", event.CameraID, "event_id", event.ID)
		case domain.EventRecordingStarted, domain.EventRecordingStopped:
			logger.Info("Recording event", "kind", event.Kind, "camera_id", event.CameraID, "path", event.Path)
		default:
			logger.Debug("Pipeline event", "kind", event.Kind, "camera_id", event.CameraID, "detail", event.Detail)
		}
	}
}
