package main

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/robofit/arcor2-sub003/internal/api"
	"github.com/robofit/arcor2-sub003/internal/config"
	"github.com/robofit/arcor2-sub003/internal/control"
	"github.com/robofit/arcor2-sub003/internal/events"
	"github.com/robofit/arcor2-sub003/internal/mqtt"
	"github.com/robofit/arcor2-sub003/internal/objects"
	"github.com/robofit/arcor2-sub003/internal/runtime"
	"github.com/robofit/arcor2-sub003/internal/scene"
	"github.com/robofit/arcor2-sub003/internal/scenesvc"
	"github.com/robofit/arcor2-sub003/internal/script"
	"github.com/robofit/arcor2-sub003/internal/storage"
	"github.com/robofit/arcor2-sub003/internal/storage/postgres"
	"github.com/robofit/arcor2-sub003/internal/storage/sqlite"
)

// errTerminated is the cancellation cause of SIGTERM. Unlike an interrupt
// it is reported as a failure.
var errTerminated = errors.New("terminated by signal")

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	DataDir     string
	ConfigPath  string
	StartPaused bool
	Breakpoints []string
	Loop        bool
}

func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the execution package in a data directory",
		Long: `Run the execution package stored in a data directory.

The directory holds scene.json, an optional project.json and a models/
directory with one collision model per object type. Telemetry events are
written to stdout; commands p (pause), r (resume) and s (step) are read
from stdin.

Example:
  execute run --data-dir ./data
  execute run --config runtime.yaml --start-paused --breakpoints ap1,ap2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPackage(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.DataDir, "data-dir", "", "package data directory, overrides the config file")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to runtime.yaml")
	cmd.Flags().BoolVar(&opts.StartPaused, "start-paused", false, "pause before the first action")
	cmd.Flags().StringSliceVar(&opts.Breakpoints, "breakpoints", nil, "action point ids to pause at")
	cmd.Flags().BoolVar(&opts.Loop, "loop", false, "repeat the project actions until interrupted")
	return cmd
}

// loadConfig reads the config file and applies command line overrides.
func loadConfig(cmd *cobra.Command, opts *RunOptions) (*config.RuntimeConfig, error) {
	cfg, err := config.LoadRuntimeConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.DataDir != "" {
		cfg.Package.DataDir = opts.DataDir
	}
	if cmd.Flags().Changed("start-paused") {
		cfg.Runtime.StartPaused = opts.StartPaused
	}
	if len(opts.Breakpoints) > 0 {
		cfg.Runtime.Breakpoints = opts.Breakpoints
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.Logging.Format = opts.LogFormat
	}
	return cfg, nil
}

// pkg is the loaded content of a data directory.
type pkg struct {
	scene   *scene.Scene
	project *scene.Project
	models  map[string]scene.Model
}

func loadPackage(dir string) (*pkg, error) {
	s, err := scene.LoadScene(filepath.Join(dir, "scene.json"))
	if err != nil {
		return nil, err
	}
	var p *scene.Project
	projectPath := filepath.Join(dir, "project.json")
	if _, err := os.Stat(projectPath); err == nil {
		if p, err = scene.LoadProject(projectPath); err != nil {
			return nil, err
		}
	}
	models, err := scene.LoadModels(filepath.Join(dir, "models"), s)
	if err != nil {
		return nil, err
	}
	return &pkg{scene: s, project: p, models: models}, nil
}

func openJournal(cfg *config.RuntimeConfig) (storage.Journal, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		password, err := config.ResolveSecret("PGPASSWORD")
		if err != nil {
			return nil, err
		}
		return postgres.New(postgres.Options{PackageID: cfg.Package.ID, Password: password})
	case "sqlite":
		return sqlite.Open(cfg.Storage.Path, cfg.Package.ID)
	}
	return nil, nil
}

func runPackage(cmd *cobra.Command, opts *RunOptions) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return wrapExitError(ExitFailure, "invalid configuration", err)
	}
	logger := newLogger(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	p, err := loadPackage(cfg.Package.DataDir)
	if err != nil {
		return wrapExitError(ExitFailure, "failed to load package", err)
	}
	packageID := cfg.Package.ID
	if packageID == "" && p.project != nil {
		packageID = p.project.ID
	}
	runID, err := uuid.NewV7()
	if err != nil {
		return wrapExitError(ExitFailure, "failed to generate run id", err)
	}
	logger = logger.With("package", packageID)

	out := bufio.NewWriter(cmd.OutOrStdout())
	emitter := events.NewEmitter(out)
	emitter.SetLogger(logger)
	emitter.SetRunID(runID.String())

	journal, err := openJournal(cfg)
	if err != nil {
		return wrapExitError(ExitFailure, "failed to open event journal", err)
	}
	if journal != nil {
		defer func() {
			if err := journal.Close(); err != nil {
				logger.Error("error closing event journal", "error", err)
			}
		}()
		emitter.SetStore(journal)
		logger.Info("event journal ready", "driver", cfg.Storage.Driver)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			if sig == os.Interrupt {
				cancel(runtime.ErrInterrupted)
				return
			}
			cancel(errTerminated)
		case <-ctx.Done():
		}
	}()

	mux := control.NewMux(16)
	if cfg.Control.Stdin {
		go func() {
			if err := mux.ReadLines(ctx, cmd.InOrStdin()); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("control input closed", "error", err)
			}
		}()
	}

	deps := objects.Deps{Logger: logger}
	var broker *mqtt.Client
	if cfg.Control.MQTT || cfg.Telemetry.MQTT {
		broker = connectMQTT(ctx, cfg, packageID, mux, emitter, logger)
		if broker != nil {
			defer broker.Disconnect()
			deps.Publisher = broker
		}
	}

	catalog := runtime.NewCatalog()
	objects.Register(catalog, deps)

	svc := scenesvc.New(scenesvc.Options{
		URL:     cfg.SceneService.URL,
		Timeout: cfg.SceneService.Timeout,
		Logger:  logger,
	})
	defer svc.Close()

	state := runtime.NewStateMachine(emitter, packageID)

	apiDone := make(chan struct{})
	apiCtx, stopAPI := context.WithCancel(context.WithoutCancel(ctx))
	if cfg.API.Enabled {
		auth, err := api.LoadAuth()
		if err != nil {
			stopAPI()
			return wrapExitError(ExitFailure, "failed to load API credentials", err)
		}
		server := api.NewServer(api.Options{
			Port:      cfg.APIPort(),
			PackageID: packageID,
			Emitter:   emitter,
			State:     state,
			Control:   mux,
			Journal:   journal,
			Auth:      auth,
			Logger:    logger,
		})
		server.SetMQTTConnected(broker != nil && broker.IsConnected())
		go func() {
			defer close(apiDone)
			if err := server.ListenAndServe(apiCtx); err != nil {
				logger.Error("API server failed", "error", err)
			}
		}()
	} else {
		close(apiDone)
	}
	defer func() {
		stopAPI()
		<-apiDone
	}()

	var name string
	if p.project != nil {
		name = p.project.Name
	}
	err = runtime.Run(ctx, runtime.Config{
		PackageID:       packageID,
		PackageName:     name,
		RunID:           runID.String(),
		Scene:           p.scene,
		Project:         p.project,
		Models:          p.models,
		Catalog:         catalog,
		CollisionScene:  svc,
		Emitter:         emitter,
		Control:         mux,
		State:           state,
		Workers:         cfg.Runtime.Workers,
		StreamingPeriod: cfg.Runtime.StreamingPeriod,
		StartPaused:     cfg.Runtime.StartPaused,
		Breakpoints:     cfg.Runtime.Breakpoints,
		Logger:          logger,
	}, script.Sequence(script.Options{Loop: opts.Loop, Logger: logger}))

	switch {
	case err == nil:
		logger.Info("package finished")
		return nil
	case runtime.IsInterrupt(err):
		logger.Info("package interrupted")
		return nil
	}
	return wrapExitError(ExitFailure, "package failed", err)
}

// connectMQTT connects the broker used for control and telemetry. A
// broker that cannot be reached is logged and the run continues without
// it.
func connectMQTT(ctx context.Context, cfg *config.RuntimeConfig, packageID string, mux *control.Mux, emitter *events.Emitter, logger *slog.Logger) *mqtt.Client {
	clientID := cfg.MQTT.ClientID
	if clientID == "" {
		clientID = "arcor2-execute-" + packageID
	}
	c := mqtt.NewClient(mqtt.Options{Broker: cfg.MQTT.Broker, ClientID: clientID, Logger: logger})
	if err := c.Connect(ctx); err != nil {
		logger.Warn("mqtt unavailable, continuing without it", "error", err)
		return nil
	}
	if cfg.Control.MQTT {
		if err := mqtt.SubscribeControl(c, packageID, mux, logger); err != nil {
			logger.Warn("failed to subscribe control topic", "topic", mqtt.ControlTopic(packageID), "error", err)
		}
	}
	if cfg.Telemetry.MQTT {
		pub := mqtt.NewEventPublisher(c, packageID)
		emitter.AddPublisher(pub)
		logger.Info("mirroring telemetry", "topic", pub.Topic())
	}
	return c
}
