// Gray Logic Cast - Cast Receiver Bridge
//
// This is the main entry point for the Gray Logic Cast bridge. It exposes
// Cast receivers (Chromecasts, Cast-enabled TVs and speakers) to Gray Logic
// Core over MQTT:
//   - mDNS discovery of receivers on the local network
//   - A single control-channel session per bridge instance
//   - Commands in (connect, disconnect, set_volume, get_status, discover)
//   - State, acks, events, and health out
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-cast/internal/bridges/cast"
	"github.com/nerrad567/gray-logic-cast/internal/device"
	"github.com/nerrad567/gray-logic-cast/internal/discovery"
	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/mqtt"
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
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Cast",
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

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx, device.Migrations()); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Initialise receiver registry
	receiverRepo := device.NewSQLiteRepository(db.DB)
	receiverRegistry := device.NewRegistry(receiverRepo)
	receiverRegistry.SetLogger(log)

	if refreshErr := receiverRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading receiver registry: %w", refreshErr)
	}
	log.Info("receiver registry initialised", "receivers", receiverRegistry.Count())

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
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

	// Create the receiver session controller
	controller := cast.NewController(cast.ControllerConfig{
		SenderID:          cfg.Cast.SenderID,
		ReceiverID:        cfg.Cast.ReceiverID,
		Port:              cfg.Cast.Port,
		ConnectTimeout:    cfg.CastConnectTimeout(),
		ReadTimeout:       cfg.CastReadTimeout(),
		WriteTimeout:      cfg.CastWriteTimeout(),
		HeartbeatInterval: cfg.CastHeartbeatInterval(),
		ErrorBudget:       cfg.Cast.ErrorBudget,
		MaxFrameSize:      cfg.Cast.MaxFrameSize,
		MaxPayloadSize:    cfg.Cast.MaxPayloadSize,
		MemoryBudget:      cfg.Cast.MemoryBudget,
	})
	controller.SetLogger(log)
	defer func() {
		if controller.IsConnected() {
			log.Info("disconnecting receiver session")
			if discErr := controller.Disconnect(); discErr != nil {
				log.Error("error disconnecting session", "error", discErr)
			}
		}
	}()

	// Create the mDNS discovery engine
	engine := discovery.NewEngine(discovery.Config{
		Timeout:    cfg.DiscoveryTimeout(),
		MaxDevices: cfg.Discovery.MaxDevices,
		EnableIPv6: cfg.Discovery.EnableIPv6,
	})
	engine.SetLogger(log)

	// Create and start the bridge
	bridge, err := startBridge(ctx, cfg, mqttClient, controller, engine, receiverRegistry, influxClient, log)
	if err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()

	// Background discovery and registry pruning
	if cfg.Discovery.Periodic {
		go discoveryLoop(ctx, cfg, bridge, log)
	}
	if cfg.Discovery.RetentionDays > 0 {
		go pruneLoop(ctx, cfg, receiverRegistry, log)
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. Bridge
	// 2. Receiver session
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Database

	log.Info("Gray Logic Cast stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYCAST_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYCAST_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// startBridge wires the bridge from its collaborators and starts it.
func startBridge(
	ctx context.Context,
	cfg *config.Config,
	mqttClient *mqtt.Client,
	controller *cast.Controller,
	engine *discovery.Engine,
	registry *device.Registry,
	influxClient *influxdb.Client,
	log *logging.Logger,
) (*cast.Bridge, error) {
	opts := cast.BridgeOptions{
		BridgeID:   cfg.Service.ID,
		Version:    version,
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Controller: controller,
		Discoverer: engine,
		Registry:   registry,
		Logger:     log,
	}

	// A typed nil in the interface would defeat the bridge's nil checks
	if influxClient != nil {
		opts.Metrics = influxClient
	}

	bridge, err := cast.NewBridge(opts)
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}

	if err := bridge.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("bridge started", "bridge_id", cfg.Service.ID)

	return bridge, nil
}

// discoveryLoop runs an initial sweep and then one per configured interval.
func discoveryLoop(ctx context.Context, cfg *config.Config, bridge *cast.Bridge, log *logging.Logger) {
	bridge.TriggerDiscovery()

	ticker := time.NewTicker(cfg.DiscoveryInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bridge.TriggerDiscovery()
		}
	}
}

// pruneLoop removes receivers not seen within the retention window.
func pruneLoop(ctx context.Context, cfg *config.Config, registry *device.Registry, log *logging.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-cfg.RetentionWindow())
			removed, err := registry.Prune(ctx, cutoff)
			if err != nil {
				log.Error("registry prune failed", "error", err)
				continue
			}
			if removed > 0 {
				log.Info("pruned stale receivers", "removed", removed)
			}
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	// Check database
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Check MQTT
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	// Check InfluxDB (if enabled)
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// Bridge health is verified during Start() - it sets up its MQTT
	// subscriptions and publishes an initial health status before returning.

	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The primary difference is the Subscribe handler
// signature:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - Bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements cast.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements cast.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	// Wrap the void handler to return nil error (bridge handlers don't return errors)
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements cast.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
