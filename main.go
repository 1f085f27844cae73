package main

import (
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/pelletier/go-toml/v2"

	"camlink/cmd"
	"camlink/internal/client"
	"camlink/internal/config"
	"camlink/internal/events"
	"camlink/internal/logging"
	"camlink/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Worker settings
	Host          string `help:"Address the worker binds to" default:"127.0.0.1" toml:"worker.host" env:"WORKER_HOST"`
	Port          int    `help:"Port the worker binds to (0 picks a free port)" default:"0" toml:"worker.port" env:"WORKER_PORT"`
	Driver        string `help:"Camera driver adapter" default:"sim" toml:"worker.driver" env:"WORKER_DRIVER"`
	DriverBinPath string `help:"Directory the driver loads vendor libraries from" default:"." toml:"worker.driver_bin_path" env:"WORKER_DRIVER_BIN_PATH"`
	RecvTimeoutMS int    `help:"Socket receive timeout in milliseconds" default:"1000" toml:"worker.recv_timeout_ms" env:"WORKER_RECV_TIMEOUT_MS"`
	MetricsAddr   string `help:"Worker Prometheus endpoint address (disabled when empty)" default:"" toml:"worker.metrics_addr" env:"WORKER_METRICS_ADDR"`

	// Camera settings
	Serial       string `help:"Open the camera with this serial after connecting" default:"" toml:"camera.serial" env:"CAMERA_SERIAL"`
	Play         bool   `help:"Start acquisition after opening" default:"false" toml:"camera.play" env:"CAMERA_PLAY"`
	SettingsFile string `help:"Camera settings TOML applied on change (hot-reload)" default:"" toml:"camera.settings_file" env:"CAMERA_SETTINGS_FILE"`

	// Logging settings
	LoggingLevel  string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingCamera string `help:"Camera logging level" default:"info" toml:"logging.camera" env:"LOGGING_CAMERA"`
	LoggingWorker string `help:"Worker output logging level" default:"info" toml:"logging.worker" env:"LOGGING_WORKER"`
	LoggingClient string `help:"Client logging level" default:"info" toml:"logging.client" env:"LOGGING_CLIENT"`
}

func main() {
	// Create Huma CLI
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, nil); loadErr != nil {
			logging.GetLogger("main").Warn("Failed to load config", "error", loadErr)
		}

		// Initialize logging system
		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"camera": opts.LoggingCamera,
				"worker": opts.LoggingWorker,
				"client": opts.LoggingClient,
			},
		})
		logger := logging.GetLogger("main")

		// Create event bus for in-process event handling
		eventBus := events.New()

		cam := client.NewCamera(client.Config{
			Host:          opts.Host,
			Port:          opts.Port,
			Driver:        opts.Driver,
			DriverBinPath: opts.DriverBinPath,
			LogLevel:      opts.LoggingLevel,
			RecvTimeout:   time.Duration(opts.RecvTimeoutMS) * time.Millisecond,
			MetricsAddr:   opts.MetricsAddr,
		}, eventBus, logging.GetLogger("client"))

		// Monitor-mode subscriptions: mirror everything of interest into
		// the log, and drive open/play from events so ordering is right.
		unsubs := []func(){
			eventBus.Subscribe(func(e events.SerialsUpdatedEvent) {
				logger.Info("Cameras attached", "serials", e.Serials)
				if opts.Serial != "" {
					if err := cam.OpenCamera(opts.Serial); err != nil {
						logger.Error("Failed to request open", "error", err)
					}
				}
			}),
			eventBus.Subscribe(func(e events.CameraOpenedEvent) {
				logger.Info("Camera opened", "serial", e.Serial)
				if opts.Play {
					if err := cam.Play(); err != nil {
						logger.Error("Failed to request play", "error", err)
					}
				}
			}),
			eventBus.Subscribe(func(e events.CameraClosedEvent) {
				logger.Info("Camera closed", "serial", e.Serial)
			}),
			eventBus.Subscribe(func(e events.PlayingChangedEvent) {
				logger.Info("Playing state changed", "serial", e.Serial, "playing", e.Playing)
			}),
			eventBus.Subscribe(func(e events.SettingChangedEvent) {
				logger.Info("Settings changed", "serial", e.Serial, "changes", e.Changes)
			}),
			eventBus.Subscribe(func(e events.FrameReceivedEvent) {
				logger.Debug("Frame received",
					"serial", e.Serial, "index", e.Index,
					"size", []int{e.Width, e.Height}, "queued", e.QueuedCount)
			}),
			eventBus.Subscribe(func(e events.CameraExceptionEvent) {
				logger.Warn("Camera exception", "message", e.Message)
			}),
			eventBus.Subscribe(func(e events.WorkerExitedEvent) {
				if e.ExitCode != 0 {
					logger.Error("Worker crashed", "exit_code", e.ExitCode, "stderr", e.StderrTail)
				}
			}),
		}

		// Hot-reload of camera settings: every key in the watched TOML is
		// written to the open camera when the file changes.
		var watcher *config.Watcher[map[string]any]
		if opts.SettingsFile != "" {
			settingsLoader := func(path string) (map[string]any, error) {
				data, err := os.ReadFile(path)
				if err != nil {
					return nil, err
				}
				var settings map[string]any
				if err := toml.Unmarshal(data, &settings); err != nil {
					return nil, err
				}
				return settings, nil
			}

			watcher = config.NewConfigWatcher(
				opts.SettingsFile,
				settingsLoader,
				logger,
				config.WithDebounce[map[string]any](500*time.Millisecond),
			)
			watcher.OnReload(func(settings map[string]any) {
				if !cam.IsOpen() {
					logger.Warn("Settings file changed but no camera is open")
					return
				}
				for name, value := range settings {
					if err := cam.SetSetting(name, value); err != nil {
						logger.Warn("Failed to apply setting", "setting", name, "error", err)
					}
				}
			})
		}

		hooks.OnStart(func() {
			logger.Info("Starting camera supervisor", "driver", opts.Driver, "version", version.String())
			if err := cam.Start(); err != nil {
				logger.Error("Failed to start worker", "error", err)
				os.Exit(1)
			}

			if watcher != nil {
				if err := watcher.Start(); err != nil {
					logger.Warn("Failed to start settings watcher, hot-reload disabled", "error", err)
				}
			}

			// Kick off discovery; the serials event drives the rest.
			if err := cam.RefreshCameras(); err != nil {
				logger.Error("Failed to refresh cameras", "error", err)
			}

			// Block until the worker goes away.
			<-cam.Done()
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			if watcher != nil {
				_ = watcher.Stop()
			}
			cam.Shutdown(5 * time.Second)
			for _, unsub := range unsubs {
				unsub()
			}
		})
	})

	// Add worker command
	workerCmd := cmd.CreateWorkerCmd()
	cli.Root().AddCommand(workerCmd)

	// Run the CLI
	cli.Run()
}
