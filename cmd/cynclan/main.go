// cync-lan - LAN controller for Cync smart lighting
//
// cync-lan impersonates the vendor cloud for Cync Wi-Fi devices: DNS for
// the cloud endpoint points at this process, devices connect here over
// TLS, and the bridge translates between the device wire protocol and
// Home Assistant MQTT entities. No traffic leaves the LAN.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/cynclan/cync-lan/migrations"

	"github.com/cynclan/cync-lan/internal/api"
	"github.com/cynclan/cync-lan/internal/bridges/cync"
	"github.com/cynclan/cync-lan/internal/device"
	"github.com/cynclan/cync-lan/internal/infrastructure/config"
	"github.com/cynclan/cync-lan/internal/infrastructure/database"
	"github.com/cynclan/cync-lan/internal/infrastructure/influxdb"
	"github.com/cynclan/cync-lan/internal/infrastructure/logging"
	"github.com/cynclan/cync-lan/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It wires the device registry, the optional history journal and telemetry
// sink, the MQTT bridge, the TLS device listener, and the diagnostics API,
// then blocks until shutdown or a restart request.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting cync-lan",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Device registry from the exported home configuration. Identity is
	// config-only; all runtime state starts offline until devices report.
	registry, err := device.NewRegistry(cfg.Homes)
	if err != nil {
		return fmt.Errorf("loading device registry: %w", err)
	}
	registry.SetLogger(log)
	log.Info("device registry initialised",
		"homes", len(cfg.Homes),
		"devices", registry.DeviceCount(),
		"groups", registry.GroupCount(),
	)

	// State history journal (optional)
	var (
		db      *database.DB
		history device.HistoryRepository
	)
	if cfg.History.Enabled {
		db, err = database.Open(ctx, database.Config{
			Path:        cfg.History.Path,
			WALMode:     cfg.History.WALMode,
			BusyTimeout: cfg.History.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening history journal: %w", err)
		}
		defer func() {
			log.Info("closing history journal")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing history journal", "error", closeErr)
			}
		}()

		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		history = device.NewSQLiteHistoryRepository(db.DB)
		log.Info("state history journal ready", "path", cfg.History.Path)
	} else {
		log.Info("state history disabled")
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(ctx, cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", mqttClient.ClientID(),
	)

	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// The bridge owns the command pipeline, state reconciliation and the
	// Home Assistant entity surface.
	bridge, err := cync.NewBridge(cync.BridgeOptions{
		Registry:        registry,
		MQTT:            mqttClient,
		Topics:          mqtt.NewTopics(cfg.MQTT.Topics),
		Version:         version,
		KelvinMin:       cfg.Bridge.KelvinMin,
		KelvinMax:       cfg.Bridge.KelvinMax,
		History:         history,
		Influx:          influxClient,
		QoS:             byte(cfg.MQTT.QoS),
		Broadcasts:      cfg.Bridge.CommandBroadcasts,
		AckTimeout:      cfg.Bridge.AckTimeout,
		SettleDelay:     cfg.Bridge.SettleDelay,
		RefreshInterval: cfg.Bridge.RefreshInterval,
		Logger:          log,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if startErr := bridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()
	log.Info("bridge started")

	// TLS listener for device sessions
	server, err := cync.NewServer(cync.ServerOptions{
		Addr:            fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		CertFile:        cfg.Server.CertFile,
		KeyFile:         cfg.Server.KeyFile,
		MaxConnections:  cfg.Server.MaxConnections,
		BlackholeDelay:  cfg.Server.BlackholeDelay,
		Whitelist:       cfg.Server.Whitelist,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		PendingTTL:      cfg.Bridge.PendingTTL,
		ResendAfter:     cfg.Bridge.ResendInterval,
		CleanupInterval: cfg.Bridge.CleanupInterval,
		MaxRetries:      cfg.Bridge.MaxRetries,
		Handler:         bridge,
		Registry:        bridge.Sessions(),
		Logger:          log,
	})
	if err != nil {
		return fmt.Errorf("creating device listener: %w", err)
	}
	if startErr := server.Start(); startErr != nil {
		return fmt.Errorf("starting device listener: %w", startErr)
	}
	defer func() {
		log.Info("stopping device listener")
		server.Stop()
	}()
	log.Info("device listener started", "addr", server.Addr())

	// Diagnostic session monitor: bridge sensors over MQTT, session
	// gauges to InfluxDB when configured.
	monitor := cync.NewMonitor(cync.MonitorOptions{
		Sessions: bridge.Sessions(),
		Registry: registry,
		MQTT:     mqttClient,
		Topics:   mqtt.NewTopics(cfg.MQTT.Topics),
		Influx:   influxClient,
		QoS:      byte(cfg.MQTT.QoS),
		Interval: cfg.Bridge.MonitorInterval,
		Logger:   log,
	})
	monitor.Start()
	defer func() {
		log.Info("stopping session monitor")
		monitor.Stop()
	}()

	// Diagnostic HTTP API (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			Logger:   log,
			Registry: registry,
			Bridge:   bridge,
			MQTT:     mqttClient,
			History:  history,
			DB:       db,
			Influx:   influxClient,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)
	} else {
		log.Info("API server disabled")
	}

	// Config hot reload: home edits apply without a restart. Transport
	// settings (listener, broker) still need one.
	go watchConfig(ctx, configPath, registry, bridge, log)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Block until shutdown or a restart request. Restart exits cleanly so
	// the supervisor (systemd, docker) relaunches with fresh state.
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case <-bridge.RestartSignal():
		log.Info("restart requested, exiting for supervisor relaunch")
	}

	log.Info("cync-lan stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses CYNC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// watchConfig applies config file edits at runtime. Only the homes section
// is reloadable; a rejected reload keeps the previous registry contents.
// Discovery and states are republished so Home Assistant picks up renames
// and added entities immediately.
func watchConfig(ctx context.Context, path string, registry *device.Registry, bridge *cync.Bridge, log *logging.Logger) {
	err := config.Watch(ctx, path,
		func(next *config.Config) {
			if reloadErr := registry.Reload(next.Homes); reloadErr != nil {
				log.Error("config reload rejected", "error", reloadErr)
				return
			}
			bridge.PublishDiscovery()
			bridge.PublishAllStates()
			log.Info("configuration reloaded",
				"devices", registry.DeviceCount(),
				"groups", registry.GroupCount(),
			)
		},
		func(watchErr error) {
			log.Warn("config reload failed", "error", watchErr)
		},
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("config watcher stopped", "error", err)
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: History journal to check (may be nil if disabled)
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("history journal: %w", err)
		}
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// The device listener verifies its certificate pair during Start() and
	// the bridge subscribes its command topics before returning, so both
	// are implicitly healthy by this point.

	return nil
}
