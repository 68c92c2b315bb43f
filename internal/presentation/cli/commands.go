package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2vyy/qt-camera-dashboard/internal/config"
	"github.com/2vyy/qt-camera-dashboard/internal/infrastructure/logger"
)

// Version is the application version
const Version = "0.1.0"

// CLI holds state shared by all subcommands
type CLI struct {
	configPath string
	debug      bool
	jsonLogs   bool
	iceServers []string

	config *config.Config
	logger *logger.SlogLogger
}

// NewCLI creates the command line interface
func NewCLI() *CLI {
	return &CLI{}
}

// RootCommand builds the command tree
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "camera-vision",
		Short:         "Motion detection and recording for live camera feeds",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			if c.debug {
				cfg.Log.Debug = true
			}
			if c.jsonLogs {
				cfg.Log.JSON = true
			}
			c.config = cfg
			c.logger = logger.New(os.Stderr, cfg.Log.Debug, cfg.Log.JSON)
			return nil
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "path to YAML configuration file")
	flags.BoolVar(&c.debug, "debug", false, "enable debug logging")
	flags.BoolVar(&c.jsonLogs, "log-json", false, "write logs as JSON")
	flags.StringSliceVar(&c.iceServers, "ice-server", []string{"stun:stun.l.google.com:19302"}, "STUN/TURN server URLs")

	root.AddCommand(
		c.serveCommand(),
		c.localCommand(),
		c.nodeCommand(),
		c.devicesCommand(),
	)
	return root
}

// Execute runs the CLI until completion or SIGINT/SIGTERM
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewCLI().RootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
