// Machine Advisor telemetry agent.
//
// maagent samples host and process values, buffers them in memory with a
// file overflow, and sends them to the Machine Advisor IoT hub over MQTT
// (or to InfluxDB). It keeps running through network outages and delivers
// the backlog once the link has been stable for the recovery delay.
//
// Usage:
//
//	maagent [--config path]
//	maagent history --var temp [--device name] [--from ts] [--to ts]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	_ "github.com/xaviarmengol/ESP32-Machine-Advisor/migrations"

	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/agent"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/diagnostics"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/history"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/infrastructure/config"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/infrastructure/database"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/infrastructure/influxdb"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/infrastructure/logging"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/infrastructure/mqtt"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/journal"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/scheduler"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/sources"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/transmit"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// influxMonitorInterval is how often an idle InfluxDB link is pinged.
	influxMonitorInterval = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run parses args and dispatches to the agent or a subcommand.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) > 0 && args[0] == "history" {
		return runHistory(ctx, args[1:], stdout)
	}

	flags := pflag.NewFlagSet("maagent", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", getConfigPath(), "path to the YAML configuration file")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Fprintf(stdout, "maagent %s (%s)\n", version, commit)
		return nil
	}
	if flags.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flags.Arg(0))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	return serve(ctx, cfg)
}

// serve wires the pipeline from cfg and runs it until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config) error {
	log := logging.New(cfg.Logging, version)
	log.Info("starting maagent",
		"version", version,
		"commit", commit,
		"asset", cfg.Agent.AssetName,
		"transport", cfg.Transport.Kind,
	)

	checks := make(map[string]diagnostics.HealthCheck)
	g, ctx := errgroup.WithContext(ctx)

	// Transport
	var (
		pub    transmit.Publisher
		status transmit.ConnectionFunc
	)
	switch cfg.Transport.Kind {
	case config.TransportInfluxDB:
		client, err := influxdb.Connect(ctx, cfg.InfluxDB)
		if client == nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		if err != nil {
			log.Warn("InfluxDB unreachable at startup, buffering until it answers", "error", err)
		}
		defer client.Close()
		g.Go(func() error {
			client.Monitor(ctx, influxMonitorInterval)
			return nil
		})
		pub, status = client, client.IsConnected
		checks["influxdb"] = client.HealthCheck

	default:
		client, err := mqtt.Connect(ctx, cfg.MQTT)
		if client == nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		if err != nil {
			log.Warn("MQTT broker unreachable at startup, buffering until it answers", "error", err)
		}
		client.SetLogger(log.Component("mqtt"))
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		pub, status = client, client.IsConnected
		checks["mqtt"] = client.HealthCheck
		log.Info("MQTT client ready", "device_id", client.Identity().DeviceID, "topic", client.Topic())
	}

	metrics := diagnostics.NewMetrics()
	opts := []agent.Option{
		agent.WithLogger(log.Component("pipeline")),
		agent.WithSink(log.Sink()),
		agent.WithSink(metrics),
	}

	// Journal
	var jr *journal.Journal
	if cfg.Database.Enabled {
		db, err := database.Open(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		checks["database"] = db.HealthCheck

		jr, err = journal.New(ctx, db.DB, journal.Session{
			AssetName: cfg.Agent.AssetName,
			DeviceID:  deviceID(cfg),
			Version:   version,
		}, journal.WithRetention(cfg.Database.Retention))
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		jr.SetLogger(log.Component("journal"))
		opts = append(opts, agent.WithSink(jr), agent.WithObserver(jr))
		g.Go(func() error { return jr.Run(ctx) })
		log.Info("journal open", "path", db.Path(), "session_id", jr.Session().ID)
	}

	a := agent.New(cfg, pub, opts...)
	defer a.Close()

	// Variables
	poller := sources.New(cfg.Sources)
	poller.SetLogger(log.Component("sources"))
	poller.SetSink(log.Sink())
	if err := registerVariables(a, poller, cfg.Variables); err != nil {
		return err
	}
	g.Go(func() error { return poller.Run(ctx) })

	// Diagnostics
	if cfg.Diagnostics.Enabled {
		deps := diagnostics.Deps{
			Addr:     cfg.DiagnosticsAddr(),
			Pipeline: a,
			Metrics:  metrics,
			Checks:   checks,
			Logger:   log.Component("diagnostics"),
			Version:  version,
		}
		if jr != nil {
			deps.Journal = jr
		}
		srv, err := diagnostics.New(deps)
		if err != nil {
			return fmt.Errorf("creating diagnostics server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer srv.Close()
	}

	g.Go(func() error { return a.Run(ctx, status) })

	err := g.Wait()
	log.Info("maagent stopped", "buffer", a.BufferInfo(), "sent", a.Stats().Transmit.Sent)
	return err
}

// registerVariables binds each configured variable to its source.
func registerVariables(a *agent.Agent, poller *sources.Poller, vars []config.VariableConfig) error {
	for _, v := range vars {
		read, err := poller.Func(v.Source, v.Scale)
		if err != nil {
			return fmt.Errorf("variable %s: %w", v.Name, err)
		}
		maxPeriod := v.MaxPeriod
		if maxPeriod == 0 {
			maxPeriod = scheduler.NoMaxPeriod
		}
		if _, err := a.RegisterVar(v.Name, read, v.MinPeriod, v.Threshold, maxPeriod); err != nil {
			return fmt.Errorf("registering %s: %w", v.Name, err)
		}
	}
	return nil
}

// runHistory downloads and prints one variable's history.
func runHistory(ctx context.Context, args []string, stdout io.Writer) error {
	flags := pflag.NewFlagSet("maagent history", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", getConfigPath(), "path to the YAML configuration file")
	device := flags.String("device", "", "device name (default: agent.device)")
	variable := flags.String("var", "", "variable name")
	to := flags.Int64("to", 0, "end of the window, epoch seconds (default: now)")
	from := flags.Int64("from", 0, "start of the window, epoch seconds (default: one hour before --to)")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *variable == "" {
		return errors.New("history: --var is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *device == "" {
		*device = cfg.Agent.Device
	}
	if *to == 0 {
		*to = time.Now().Unix()
	}
	if *from == 0 {
		*from = *to - int64(time.Hour/time.Second)
	}

	id, err := mqtt.IdentityFromConfig(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}

	records, err := history.New(cfg.History, id.MachineCode()).Download(ctx, *device, *variable, *from, *to)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	_, err = io.WriteString(stdout, history.Format(records))
	return err
}

// deviceID names the device in journal sessions.
func deviceID(cfg *config.Config) string {
	if id, err := mqtt.IdentityFromConfig(cfg.MQTT); err == nil {
		return id.DeviceID
	}
	return cfg.Agent.Device
}

// getConfigPath returns MAAGENT_CONFIG or the default path.
func getConfigPath() string {
	if path := os.Getenv("MAAGENT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
