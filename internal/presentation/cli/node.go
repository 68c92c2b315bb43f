package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/2vyy/qt-camera-dashboard/internal/application"
	"github.com/2vyy/qt-camera-dashboard/internal/config"
	"github.com/2vyy/qt-camera-dashboard/internal/domain"
	"github.com/2vyy/qt-camera-dashboard/internal/infrastructure/camera"
	"github.com/2vyy/qt-camera-dashboard/internal/infrastructure/signaling"
	"github.com/2vyy/qt-camera-dashboard/internal/infrastructure/webrtc"
)

// signalingTimeout bounds one offer/answer round trip
const signalingTimeout = 15 * time.Second

func (c *CLI) nodeCommand() *cobra.Command {
	var (
		server   string
		cameraID int
		width    int
		height   int
		fps      int
		bitrate  int
		deviceID string
		codec    string
	)

	cmd := &cobra.Command{
		Use:   "node",
		Short: "Capture a local camera and stream it to a server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n := &c.config.Node
			flags := cmd.Flags()
			if flags.Changed("server") {
				n.Server = server
			}
			if flags.Changed("camera-id") {
				n.CameraID = cameraID
			}
			if flags.Changed("width") {
				n.Width = width
			}
			if flags.Changed("height") {
				n.Height = height
			}
			if flags.Changed("fps") {
				n.FPS = fps
			}
			if flags.Changed("bitrate") {
				n.BitRate = bitrate
			}
			if flags.Changed("device") {
				n.DeviceID = deviceID
			}
			if flags.Changed("codec") {
				n.Codec = codec
			}
			if n.Server == "" {
				return fmt.Errorf("server URL is required (--server or node.server)")
			}
			if err := config.Validate(c.config); err != nil {
				return err
			}
			if n.CameraID < 0 {
				return fmt.Errorf("camera id must not be negative")
			}

			cameras := camera.NewMediaDevicesManager(c.logger)
			publisher := webrtc.NewPublisher(cameras, signaling.NewClient(signalingTimeout), c.iceServers, c.logger)
			service := application.NewNodeService(cameras, publisher, c.logger)

			return service.Run(cmd.Context(), domain.VideoConfig{
				CameraID:  domain.CameraID(n.CameraID),
				Width:     n.Width,
				Height:    n.Height,
				FrameRate: n.FPS,
				BitRate:   n.BitRate,
				DeviceID:  n.DeviceID,
				CodecName: n.Codec,
				OfferURL:  n.OfferURL(),
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&server, "server", "", "server base URL, e.g. http://localhost:8080")
	flags.IntVar(&cameraID, "camera-id", 0, "camera id announced to the server")
	flags.IntVar(&width, "width", 640, "video width")
	flags.IntVar(&height, "height", 480, "video height")
	flags.IntVar(&fps, "fps", 30, "frame rate")
	flags.IntVar(&bitrate, "bitrate", 1_000_000, "video bitrate (bps)")
	flags.StringVar(&deviceID, "device", "", "capture device ID")
	flags.StringVar(&codec, "codec", "vp8", "video codec: vp8 or h264")
	return cmd
}
