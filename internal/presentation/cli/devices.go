package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/2vyy/qt-camera-dashboard/internal/application"
	"github.com/2vyy/qt-camera-dashboard/internal/infrastructure/camera"
)

func (c *CLI) devicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available capture devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			service := application.NewNodeService(camera.NewMediaDevicesManager(c.logger), nil, c.logger)
			devices, err := service.ListDevices()
			if err != nil {
				return err
			}

			if len(devices) == 0 {
				fmt.Println("No capture devices found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "#\tID\tLABEL")
			for i, device := range devices {
				fmt.Fprintf(w, "%d\t%s\t%s\n", i, device.ID, device.Label)
			}
			return w.Flush()
		},
	}
}
