// Percy Supervisor
//
// Runs one Percy CLI session for a CI job: fetches a project token from
// BrowserStack, starts the local Percy server, waits for it to become
// healthy, and shuts it down with "percy exec:stop" on SIGINT/SIGTERM,
// on a remote "stop" command, or when the CLI exits on its own.
//
// Lifecycle events are optionally published to MQTT and recorded in InfluxDB.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/percy-supervisor/internal/infrastructure/config"
	"github.com/nerrad567/percy-supervisor/internal/infrastructure/influxdb"
	"github.com/nerrad567/percy-supervisor/internal/infrastructure/logging"
	"github.com/nerrad567/percy-supervisor/internal/infrastructure/mqtt"
	"github.com/nerrad567/percy-supervisor/internal/percy"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// errStartFailed is returned when the CLI never became healthy.
var errStartFailed = errors.New("percy did not start")

// errUnexpectedExit is returned when the CLI exits before shutdown was requested.
var errUnexpectedExit = errors.New("percy exited unexpectedly")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd wires the cobra tree. The root command runs a session.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "percy-supervisor",
		Short:         "Run and supervise a Percy CLI session",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to config file (default $PERCY_SUPERVISOR_CONFIG or "+defaultConfigPath+")")

	root.AddCommand(newHealthcheckCmd(&configPath), newVersionCmd())
	return root
}

// newVersionCmd prints build information.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "percy-supervisor %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// newHealthcheckCmd checks an already running Percy server once, plus the
// MQTT broker and InfluxDB when they are enabled. No credentials are needed.
func newHealthcheckCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check whether the local Percy server and enabled backends are healthy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Read(resolveConfigPath(*configPath))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return checkHealth(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
}

// checkHealth reports one line per component and returns every failure.
func checkHealth(ctx context.Context, cfg *config.Config, out io.Writer) error {
	var errs []error

	buildID, err := percy.CheckServer(ctx, percyConfig(cfg))
	if err != nil {
		fmt.Fprintf(out, "percy: unhealthy (%v)\n", err)
		errs = append(errs, err)
	} else {
		fmt.Fprintf(out, "percy: healthy (build %d)\n", buildID)
	}

	if cfg.MQTT.Enabled {
		errs = append(errs, reportBackend(out, "mqtt", func() error {
			client, err := mqtt.Connect(cfg.MQTT)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			return client.HealthCheck(ctx)
		}))
	}

	if cfg.InfluxDB.Enabled {
		errs = append(errs, reportBackend(out, "influxdb", func() error {
			client, err := influxdb.Connect(cfg.InfluxDB)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			return client.HealthCheck(ctx)
		}))
	}

	return errors.Join(errs...)
}

func reportBackend(out io.Writer, name string, check func() error) error {
	if err := check(); err != nil {
		fmt.Fprintf(out, "%s: unhealthy (%v)\n", name, err)
		return fmt.Errorf("%s: %w", name, err)
	}
	fmt.Fprintf(out, "%s: healthy\n", name)
	return nil
}

// run is the application logic, separated from main for testability.
// An empty configPath falls back to getConfigPath.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting percy supervisor",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath = resolveConfigPath(configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Shutdown is requested by a signal (parent ctx) or a remote command.
	ctx, requestStop := context.WithCancel(ctx)
	defer requestStop()

	session, err := percy.New(percyConfig(cfg))
	if err != nil {
		return fmt.Errorf("creating percy session: %w", err)
	}
	session.SetLogger(log.With("session_id", session.SessionID()))

	forwarder := newEventForwarder(session.Session, sessionType(cfg))
	forwarder.log = log
	session.SetNotifier(forwarder)

	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := connectMQTT(cfg, log, requestStop)
		if mqttErr != nil {
			return mqttErr
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		forwarder.publisher = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		forwarder.metrics = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	if !session.Start(ctx) {
		// The CLI may still be up if polling was cancelled.
		if session.IsRunning() {
			stopSession(ctx, session, cfg, log)
		}
		return errStartFailed
	}

	buildID, _ := session.BuildID()
	log.Info("percy session ready, waiting for shutdown",
		"build_id", buildID,
		"capture_mode", session.CaptureMode(),
		"auto_enabled", session.AutoEnabled(),
	)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown requested, stopping percy")
	case <-forwarder.exited():
		log.Error("percy exited before shutdown was requested")
		runErr = errUnexpectedExit
	}

	stopSession(ctx, session, cfg, log)

	log.Info("percy supervisor stopped")
	return runErr
}

// stopSession runs exec:stop on a context that outlives the cancelled run context.
func stopSession(ctx context.Context, session *percy.Percy, cfg *config.Config, log *logging.Logger) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*cfg.Percy.StopTimeout)
	defer cancel()

	exitCode, err := session.Stop(stopCtx)
	if err != nil {
		log.Error("percy stop failed", "error", err)
		return
	}
	if exitCode != 0 {
		log.Warn("percy exec:stop exited non-zero", "exit_code", exitCode)
	}
}

// getConfigPath returns the configuration file path.
// Uses PERCY_SUPERVISOR_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv("PERCY_SUPERVISOR_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// resolveConfigPath prefers an explicit --config value over getConfigPath.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getConfigPath()
}

// percyConfig converts the loaded configuration into a session config.
func percyConfig(cfg *config.Config) percy.Config {
	return percy.Config{
		Binary:        cfg.Percy.Binary,
		App:           cfg.Percy.App,
		ProjectName:   cfg.Percy.ProjectName,
		CaptureMode:   cfg.Percy.CaptureMode,
		Enabled:       cfg.Percy.Enabled,
		Username:      cfg.BrowserStack.Username,
		AccessKey:     cfg.BrowserStack.AccessKey,
		ServerAddress: cfg.Percy.ServerAddress,
		TokenURL:      cfg.Percy.TokenURL,
		LogFile:       cfg.Percy.LogFile,
		TempDir:       cfg.Percy.TempDir,
		PollInterval:  cfg.Percy.PollInterval,
		StopTimeout:   cfg.Percy.StopTimeout,
		TokenTimeout:  cfg.Percy.TokenTimeout,
		HealthTimeout: cfg.Percy.HealthTimeout,
		Options:       cfg.Percy.Options,
	}
}

func sessionType(cfg *config.Config) string {
	if cfg.Percy.TargetsApp() {
		return "app"
	}
	return "automate"
}

// connectMQTT connects to the broker and subscribes to the supervisor's command topic.
func connectMQTT(cfg *config.Config, log *logging.Logger, requestStop func()) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	topic := mqtt.Topics{}.SupervisorCommand(cfg.MQTT.Broker.ClientID)
	handler := commandHandler(log, requestStop)
	if err := client.Subscribe(topic, byte(cfg.MQTT.QoS), handler); err != nil { //nolint:gosec // QoS validated
		_ = client.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"command_topic", topic,
	)
	return client, nil
}
