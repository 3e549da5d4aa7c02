package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-access/internal/api"
	"github.com/nerrad567/gray-logic-access/internal/audit"
	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/internal/dispatch"
	"github.com/nerrad567/gray-logic-access/internal/driver"
	"github.com/nerrad567/gray-logic-access/internal/eventlog"
	"github.com/nerrad567/gray-logic-access/internal/events"
	"github.com/nerrad567/gray-logic-access/internal/gateway"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-access/internal/retry"
	"github.com/nerrad567/gray-logic-access/internal/tenant"
	"github.com/nerrad567/gray-logic-access/migrations"
)

func serveCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatch daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), load)
		},
	}
}

// run is the daemon, separated from the command for testability.
//
// Parameters:
//   - ctx: Cancelled on SIGINT/SIGTERM
//   - load: Resolves the configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing the startup failure
func run(ctx context.Context, load configLoader) error {
	log := logging.Default()
	log.Info("starting accessd", "version", version, "commit", commit, "build_date", date)

	cfg, err := load()
	if err != nil {
		return err
	}

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	tenants := tenant.NewManager(tenant.Config{
		DefaultLimit: cfg.Tenants.DefaultLimit,
		Limits:       cfg.Tenants.Limits,
	})
	tenants.SetLogger(log.Component("tenant"))
	tenants.SetRepository(tenant.NewSQLiteRepository(db.DB))
	if loadErr := tenants.LoadMappings(ctx); loadErr != nil {
		return fmt.Errorf("loading tenant mappings: %w", loadErr)
	}

	registry := device.NewRegistry()
	registry.SetLogger(log.Component("registry"))

	eventLog, closeLog, err := openEventLog(cfg, db)
	if err != nil {
		return err
	}
	defer closeLog()

	bridge := events.NewBridge(eventLog, events.Options{
		Stream:       cfg.Events.Stream,
		DefaultGroup: cfg.Events.DefaultGroup,
		BatchSize:    cfg.Events.BatchSize,
		PollInterval: cfg.Events.PollInterval,
		ErrorBackoff: cfg.Events.ErrorBackoff,
	})
	bridge.SetLogger(log.Component("events"))
	log.Info("event log ready", "backend", cfg.Events.Backend, "stream", cfg.Events.Stream)

	telemetry := connectInfluxDB(cfg, log)
	if telemetry != nil {
		defer func() {
			if closeErr := telemetry.Close(); closeErr != nil {
				log.Error("error closing influxdb", "error", closeErr)
			}
		}()
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to mqtt: %w", err)
	}
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() { log.Info("mqtt connected") })
	mqttClient.SetOnDisconnect(func(err error) { log.Warn("mqtt disconnected", "error", err) })
	defer func() {
		log.Info("closing mqtt connection")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing mqtt", "error", closeErr)
		}
	}()
	log.Info("mqtt connected", "broker", cfg.MQTT.Broker.Host, "prefix", cfg.MQTT.TopicPrefix)

	topics := mqttClient.Topics()
	qos := byte(cfg.MQTT.QoS) //nolint:gosec // Validated to 0..2

	var publisher events.Publisher = bridge
	if cfg.MQTT.MirrorEvents {
		mirror := gateway.NewMirror(mqttClient, topics, qos)
		mirror.SetLogger(log.Component("mirror"))
		publisher = events.Fanout{bridge, mirror}
	}

	drv := driver.NewMQTTDriver(mqttClient, topics, qos)
	drv.SetLogger(log.Component("driver"))
	if startErr := drv.Start(); startErr != nil {
		return fmt.Errorf("starting gateway driver: %w", startErr)
	}
	defer func() {
		if stopErr := drv.Stop(); stopErr != nil {
			log.Warn("error stopping gateway driver", "error", stopErr)
		}
	}()

	listener := gateway.NewListener(mqttClient, topics, qos, registry, publisher, tenants)
	listener.SetLogger(log.Component("gateway"))
	if startErr := listener.Start(); startErr != nil {
		return fmt.Errorf("starting gateway listener: %w", startErr)
	}
	defer func() {
		if stopErr := listener.Stop(); stopErr != nil {
			log.Warn("error stopping gateway listener", "error", stopErr)
		}
	}()

	dispatcher := dispatch.New(cfg.Dispatch, registry, tenants, drv)
	dispatcher.SetLogger(log.Component("dispatch"))
	dispatcher.SetPublisher(publisher)

	coordinator := retry.NewCoordinator(retry.NewSQLiteStore(db), dispatcher, retry.Options{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		Interval:     cfg.Retry.Interval,
		PollInterval: cfg.Retry.PollInterval,
		QueueKey:     cfg.Retry.QueueKey,
		AbandonedKey: cfg.Retry.AbandonedKey,
	})
	coordinator.SetLogger(log.Component("retry"))
	coordinator.SetPublisher(publisher)

	if telemetry != nil {
		dispatcher.SetRecorder(telemetry)
		coordinator.SetRecorder(telemetry)
	}
	if cfg.Retry.Enabled {
		dispatcher.SetDeadLetterSink(coordinator)
	}

	dispatcher.Start()
	defer func() {
		log.Info("draining command queue")
		dispatcher.Close()
	}()

	health := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
	}
	if telemetry != nil {
		health["influxdb"] = telemetry
	}

	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log.Component("api"),
		Dispatcher:  dispatcher,
		Registry:    registry,
		Tenants:     tenants,
		Events:      bridge,
		DeadLetters: coordinator,
		Health:      health,
		Audit:       audit.NewSQLiteRepository(db.DB),
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating api server: %w", err)
	}
	if startErr := server.Start(); startErr != nil {
		return fmt.Errorf("starting api server: %w", startErr)
	}
	defer func() {
		log.Info("stopping api server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping api server", "error", closeErr)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		registry.RunSweeper(gctx, cfg.Registry.SweepInterval, cfg.Registry.HeartbeatTimeout, listener.OnExpired)
		return nil
	})
	if cfg.Retry.Enabled {
		g.Go(func() error { return coordinator.Run(gctx) })
	}
	if telemetry != nil {
		g.Go(func() error {
			dispatcher.RunMetrics(gctx, cfg.Dispatch.MetricsInterval)
			return nil
		})
		g.Go(func() error {
			tenants.RunMetrics(gctx, cfg.Dispatch.MetricsInterval, telemetry)
			return nil
		})
	}

	log.Info("accessd started",
		"api", server.Addr(),
		"workers", dispatcher.Stats().Workers,
		"retry", cfg.Retry.Enabled,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("background task failed: %w", err)
	}

	log.Info("shutting down accessd")
	return nil
}

// openEventLog returns the configured durable log and a function that
// releases it.
func openEventLog(cfg *config.Config, db *database.DB) (eventlog.Log, func(), error) {
	switch cfg.Events.Backend {
	case "jetstream":
		nc, js, err := eventlog.DialJetStream(cfg.NATS.URL, "accessd-"+cfg.Site.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("opening event log: %w", err)
		}
		log := eventlog.NewJetStreamLog(js, eventlog.JetStreamOptions{AckWait: cfg.NATS.AckWait})
		return log, func() { drainNATS(nc) }, nil
	default:
		return eventlog.NewSQLiteLog(db,
			eventlog.WithMaxLen(cfg.Events.MaxLen),
			eventlog.WithConsumerIdle(cfg.Events.ConsumerIdle),
		), func() {}, nil
	}
}

func drainNATS(nc *nats.Conn) {
	if err := nc.Drain(); err != nil {
		nc.Close()
	}
}

// connectInfluxDB returns nil when telemetry is disabled or unreachable.
// The daemon runs without it.
func connectInfluxDB(cfg *config.Config, log *logging.Logger) *influxdb.Client {
	client, err := influxdb.Connect(cfg.InfluxDB)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("influxdb disabled")
		return nil
	}
	if err != nil {
		log.Warn("influxdb unavailable, continuing without telemetry", "error", err)
		return nil
	}
	client.SetSite(cfg.Site.ID)
	client.SetOnError(func(err error) {
		log.Warn("influxdb write failed", "error", err)
	})
	log.Info("influxdb connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	return client
}
