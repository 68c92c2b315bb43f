package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/2vyy/qt-camera-dashboard/internal/application"
	"github.com/2vyy/qt-camera-dashboard/internal/config"
	"github.com/2vyy/qt-camera-dashboard/internal/infrastructure/events"
	"github.com/2vyy/qt-camera-dashboard/internal/infrastructure/recording"
	"github.com/2vyy/qt-camera-dashboard/internal/infrastructure/signaling"
	"github.com/2vyy/qt-camera-dashboard/internal/infrastructure/store"
	"github.com/2vyy/qt-camera-dashboard/internal/infrastructure/streaming"
	"github.com/2vyy/qt-camera-dashboard/internal/infrastructure/vision"
	"github.com/2vyy/qt-camera-dashboard/internal/infrastructure/webrtc"
)

// serverFlags are the overrides shared by serve and local
type serverFlags struct {
	listen     string
	recordings string
	dbURL      string
	broker     string
}

func (f *serverFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.listen, "listen", "", "HTTP listen address (default :8080)")
	flags.StringVar(&f.recordings, "recordings", "", "directory for recordings (default recordings)")
	flags.StringVar(&f.dbURL, "db", "", "PostgreSQL connection string for the event store")
	flags.StringVar(&f.broker, "mqtt-broker", "", "MQTT broker address, e.g. localhost:1883")
}

func (f *serverFlags) apply(cfg *config.Config) {
	if f.listen != "" {
		cfg.Server.Listen = f.listen
	}
	if f.recordings != "" {
		cfg.Recording.Dir = f.recordings
	}
	if f.dbURL != "" {
		cfg.Database.URL = f.dbURL
	}
	if f.broker != "" {
		cfg.MQTT.Broker = f.broker
	}
}

func (c *CLI) serveCommand() *cobra.Command {
	var flags serverFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept camera streams over WebRTC and run motion detection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.apply(c.config)
			p, err := c.buildPipeline(cmd.Context())
			if err != nil {
				return err
			}
			defer p.close()
			return p.serve(cmd.Context())
		},
	}
	flags.register(cmd)
	return cmd
}

// pipeline is the fully wired server process
type pipeline struct {
	cfg      *config.Config
	logger   application.Logger
	settings *config.Store
	bus      *events.Bus
	mqtt     *events.MQTTEmitter
	db       *store.Store
	hub      *streaming.Hub
	manager  *application.SessionManager
	server   *signaling.Server
}

func (c *CLI) buildPipeline(ctx context.Context) (*pipeline, error) {
	cfg := c.config
	log := c.logger

	p := &pipeline{
		cfg:      cfg,
		logger:   log,
		settings: config.NewStore(cfg.Settings),
		bus:      events.NewBus(cfg.Server.EventBuffer, log),
		hub:      streaming.NewHub(log),
	}
	p.bus.Subscribe("log", events.LogHandler(log))

	if cfg.MQTT.Broker != "" {
		p.mqtt = events.NewMQTTEmitter(cfg.MQTT, cfg.InstanceID, log)
		if err := p.mqtt.Connect(); err != nil {
			log.Warn("MQTT unavailable, continuing without it", "error", err)
			p.mqtt = nil
		} else {
			p.bus.Subscribe("mqtt", p.mqtt.Handler())
			if err := p.mqtt.SubscribeControl(p.settings); err != nil {
				log.Warn("MQTT control disabled", "error", err)
			}
		}
	}

	var opts signaling.Options
	if cfg.Database.URL != "" {
		db, err := store.New(ctx, cfg.Database.URL)
		if err != nil {
			p.close()
			return nil, err
		}
		p.db = db
		p.bus.Subscribe("postgres", db.Handler(log))
		opts.Events = db
	}

	negotiator, err := webrtc.NewNegotiator(c.iceServers, log)
	if err != nil {
		p.close()
		return nil, err
	}

	p.manager = application.NewSessionManager(application.ManagerConfig{
		Negotiator:   negotiator,
		Sink:         p.hub,
		Settings:     p.settings,
		Events:       p.bus,
		NewDetector:  vision.NewFactory(p.bus),
		Recordings:   recording.NewOpener(log),
		RecordingDir: cfg.Recording.Dir,
		Logger:       log,
	})

	opts.Viewer = streaming.NewViewerHandler(p.hub, log, cfg.Log.Debug)
	opts.Health = p.health
	p.server = signaling.NewServer(p.manager, p.settings, opts, log)
	return p, nil
}

func (p *pipeline) health() map[string]interface{} {
	h := map[string]interface{}{
		"output": p.hub.Stats(),
		"events": p.bus.Stats(),
	}
	if p.mqtt != nil {
		h["mqtt"] = p.mqtt.Stats()
	}
	return h
}

// serve blocks until ctx is cancelled
func (p *pipeline) serve(ctx context.Context) error {
	p.logger.Info("Starting camera server", "instance_id", p.cfg.InstanceID,
		"listen", p.cfg.Server.Listen, "recordings", p.cfg.Recording.Dir)
	return p.server.ListenAndServe(ctx, p.cfg.Server.Listen, time.Duration(p.cfg.Server.ShutdownTimeout)*time.Second)
}

// close stops sessions first so their final events still reach the subscribers
func (p *pipeline) close() {
	if p.manager != nil {
		p.manager.Shutdown()
	}
	p.bus.Close()
	if p.mqtt != nil {
		p.mqtt.Disconnect()
	}
	if p.db != nil {
		p.db.Close(context.Background())
	}
}
