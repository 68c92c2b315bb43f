package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/2vyy/qt-camera-dashboard/internal/config"
	"github.com/2vyy/qt-camera-dashboard/internal/domain"
	"github.com/2vyy/qt-camera-dashboard/internal/infrastructure/camera"
)

func (c *CLI) localCommand() *cobra.Command {
	var (
		flags   serverFlags
		cameras []string
	)

	cmd := &cobra.Command{
		Use:   "local",
		Short: "Run motion detection on locally attached cameras",
		Long: "Opens every configured local camera as its own session. The HTTP surface\n" +
			"(viewer WebSocket, control, status and offers from remote nodes) is served as well.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.apply(c.config)
			if len(cameras) > 0 {
				parsed, err := parseCameraFlags(cameras)
				if err != nil {
					return err
				}
				c.config.Cameras = parsed
			}
			if len(c.config.Cameras) == 0 {
				c.config.Cameras = []config.CameraConfig{{ID: 0, FPS: 30}}
			}

			p, err := c.buildPipeline(cmd.Context())
			if err != nil {
				return err
			}
			defer p.close()

			manager := camera.NewMediaDevicesManager(c.logger)
			started := 0
			for _, cam := range c.config.Cameras {
				source, err := manager.OpenCamera(domain.VideoConfig{
					CameraID:  domain.CameraID(cam.ID),
					Width:     cam.Width,
					Height:    cam.Height,
					FrameRate: cam.FPS,
					DeviceID:  cam.DeviceID,
				})
				if err != nil {
					c.logger.Error("Failed to open camera", "camera_id", cam.ID, "device", cam.DeviceID, "error", err)
					continue
				}
				if err := p.manager.StartLocal(domain.CameraID(cam.ID), source); err != nil {
					source.Close()
					c.logger.Error("Failed to start session", "camera_id", cam.ID, "error", err)
					continue
				}
				started++
			}
			if started == 0 {
				return fmt.Errorf("no local camera could be opened")
			}

			return p.serve(cmd.Context())
		},
	}

	flags.register(cmd)
	cmd.Flags().StringSliceVar(&cameras, "camera", nil, "local camera as <id>[=<device-id>], repeatable")
	return cmd
}

// parseCameraFlags parses values like "0", "1=/dev/video2"
func parseCameraFlags(values []string) ([]config.CameraConfig, error) {
	out := make([]config.CameraConfig, 0, len(values))
	seen := make(map[int]bool)
	for _, v := range values {
		idPart, device, _ := strings.Cut(v, "=")
		id, err := strconv.Atoi(strings.TrimSpace(idPart))
		if err != nil || id < 0 {
			return nil, fmt.Errorf("invalid camera %q: id must be a non-negative integer", v)
		}
		if seen[id] {
			return nil, fmt.Errorf("camera id %d given twice", id)
		}
		seen[id] = true
		out = append(out, config.CameraConfig{ID: id, DeviceID: strings.TrimSpace(device), FPS: 30})
	}
	return out, nil
}
