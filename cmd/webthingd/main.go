// webthingd hosts web-connected devices.
//
// It serves a dimmable light and an air sensor over a REST and WebSocket
// API, and mirrors every property change, event and action status to the
// optional sinks configured in config.yaml: the SQLite action journal,
// MQTT, InfluxDB and a Redis state cache.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/webthing-core/internal/api"
	"github.com/nerrad567/webthing-core/internal/drivers"
	"github.com/nerrad567/webthing-core/internal/infrastructure/config"
	"github.com/nerrad567/webthing-core/internal/infrastructure/database"
	"github.com/nerrad567/webthing-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/webthing-core/internal/infrastructure/logging"
	"github.com/nerrad567/webthing-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/webthing-core/internal/infrastructure/statecache"
	"github.com/nerrad567/webthing-core/internal/journal"
	"github.com/nerrad567/webthing-core/internal/metrics"
	"github.com/nerrad567/webthing-core/internal/notify"
	"github.com/nerrad567/webthing-core/internal/thing"
	"github.com/nerrad567/webthing-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// shutdownTimeout bounds the flush of queued notifications on exit.
const shutdownTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting webthingd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := config.PathFromEnv()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "server_id", cfg.Server.ID)

	dispatcher := notify.New(cfg.Things.NotificationBuffer, log.Component("notify"))
	checks := make(map[string]api.HealthChecker)

	// Action journal (optional)
	var journalRepo journal.Repository
	if cfg.Database.Enabled {
		db, openErr := openJournal(ctx, cfg.Database)
		if openErr != nil {
			return openErr
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		journalRepo = journal.NewSQLiteRepository(db.DB)
		dispatcher.AddSink(journal.NewSink(journalRepo))
		checks["database"] = db
		log.Info("action journal enabled", "path", db.Path())
	}

	// InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(ctx, cfg.InfluxDB, log.Component("influxdb"))
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		dispatcher.AddSink(influxdb.NewSink(influxClient))
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	// Redis state cache (optional)
	var cache *statecache.Cache
	if cfg.Redis.Enabled {
		rdb, connErr := statecache.Connect(ctx, cfg.Redis)
		if connErr != nil {
			return fmt.Errorf("connecting to Redis: %w", connErr)
		}
		defer func() {
			if closeErr := rdb.Close(); closeErr != nil {
				log.Error("error closing Redis", "error", closeErr)
			}
		}()
		cache = statecache.New(rdb, cfg.Redis.KeyPrefix, cfg.Redis.TTL)
		dispatcher.AddSink(cache)
		checks["redis"] = api.HealthCheckFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		log.Info("Redis state cache connected", "addr", cfg.Redis.Addr)
	}

	// Things
	executor := thing.NewExecutor(cfg.Things.ActionWorkers, cfg.Things.ActionQueueSize)
	registry := thing.NewRegistry()
	if err := buildThings(cfg.Things, registry, log,
		thing.WithExecutor(executor),
		thing.WithEventCap(cfg.Things.EventLogCap),
		thing.WithPublisher(dispatcher.Publish),
	); err != nil {
		registry.Close()
		executor.Stop()
		return err
	}
	stopThings := func() {
		registry.Close()
		executor.Stop()
	}
	defer stopThings()
	log.Info("things ready", "count", registry.Len(), "action_workers", executor.Workers())

	if cache != nil {
		ids := make([]string, 0, registry.Len())
		for _, t := range registry.List() {
			ids = append(ids, t.ID())
		}
		if removed, pruneErr := cache.RemoveAllExcept(ctx, ids); pruneErr != nil {
			log.Warn("pruning state cache failed", "error", pruneErr)
		} else if len(removed) > 0 {
			log.Info("pruned stale things from state cache", "things", removed)
		}
	}

	// MQTT (optional)
	if cfg.MQTT.Enabled {
		mqttClient, connErr := mqtt.Connect(cfg.MQTT, log.Component("mqtt"))
		if connErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", connErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()

		bridge := mqtt.NewThingBridge(mqttClient, mqttClient.Topics(), registry, mqttClient.QoS(), log.Component("mqtt_bridge"))
		if startErr := bridge.Start(); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer func() {
			if stopErr := bridge.Stop(); stopErr != nil {
				log.Warn("error stopping MQTT bridge", "error", stopErr)
			}
		}()
		dispatcher.AddSink(bridge)
		checks["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"prefix", mqttClient.Topics().Prefix(),
		)
	}

	// Metrics (optional)
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New(cfg.Metrics.Namespace)
		for _, t := range registry.List() {
			t.AddSubscriber(collector)
		}
		collector.WatchDispatcher(cfg.Metrics.Namespace, dispatcher)
		collector.WatchExecutor(cfg.Metrics.Namespace, executor)
	}

	// Sinks outlive the signal context so queued notifications can flush.
	if err := dispatcher.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("starting notification dispatcher: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if stopErr := dispatcher.Stop(stopCtx); stopErr != nil {
			log.Warn("notification flush incomplete", "error", stopErr)
		}
		stats := dispatcher.Stats()
		log.Info("notification dispatcher stopped",
			"published", stats.Published,
			"dropped", stats.Dropped,
			"failed", stats.Failed,
		)
	}()
	// Pollers and workers stop before the flush so their last changes are delivered.
	defer func() {
		log.Info("stopping things")
		stopThings()
	}()

	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Logger:      log.Component("api"),
		Things:      registry,
		Metrics:     collector,
		MetricsPath: cfg.Metrics.Path,
		Journal:     journalRepo,
		Checks:      checks,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal", "address", server.Addr())
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API server, things and executor,
	// dispatcher flush, MQTT, Redis, InfluxDB, database.
	return nil
}

// openJournal opens the SQLite database and applies the embedded migrations.
func openJournal(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// buildThings creates the configured devices and registers them.
//
// Parameters:
//   - cfg: Things section of the configuration
//   - registry: Registry receiving the things, in light then sensor order
//   - log: Logger passed to the drivers
//   - opts: Options shared by every thing (executor, event cap, publisher)
//
// Returns:
//   - error: If a driver fails to build or an ID is duplicated
func buildThings(cfg config.ThingsConfig, registry *thing.Registry, log *logging.Logger, opts ...thing.Option) error {
	if cfg.Light.Enabled {
		light, err := drivers.NewDimmableLight(drivers.LightConfig{
			ID:     cfg.Light.ID,
			Title:  cfg.Light.Title,
			Logger: log.Driver("dimmable_light"),
		}, opts...)
		if err != nil {
			return err
		}
		if err := registry.Add(light.Thing); err != nil {
			light.Close()
			return fmt.Errorf("registering light: %w", err)
		}
	}

	if cfg.Sensor.Enabled {
		sensor, err := drivers.NewAirSensor(drivers.AirSensorConfig{
			ID:           cfg.Sensor.ID,
			Title:        cfg.Sensor.Title,
			PollInterval: cfg.Sensor.PollInterval,
			Logger:       log.Driver("air_sensor"),
		}, opts...)
		if err != nil {
			return err
		}
		if err := registry.Add(sensor.Thing); err != nil {
			sensor.Close()
			return fmt.Errorf("registering air sensor: %w", err)
		}
	}
	return nil
}
