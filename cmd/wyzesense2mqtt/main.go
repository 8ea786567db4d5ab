// wyzesense2mqtt bridges a WyzeSense USB gateway to an MQTT broker.
//
// Sensor events from the dongle are published as JSON telemetry, optionally
// with Home Assistant discovery descriptors. Pairing is driven over MQTT
// through the scan command topic.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/wyzesense-bridge/internal/api"
	"github.com/nerrad567/wyzesense-bridge/internal/bridge"
	"github.com/nerrad567/wyzesense-bridge/internal/gateway"
	"github.com/nerrad567/wyzesense-bridge/internal/gateway/dongle"
	"github.com/nerrad567/wyzesense-bridge/internal/infrastructure/config"
	"github.com/nerrad567/wyzesense-bridge/internal/infrastructure/database"
	"github.com/nerrad567/wyzesense-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/wyzesense-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/wyzesense-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/wyzesense-bridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "config/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled.
//
// Components are released in reverse order of creation: the bridge stops
// taking commands first, then the gateway, the broker connection, the
// metrics sink and the inventory. The logger is closed last.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting wyzesense2mqtt",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	defer func() {
		if closeErr := log.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "closing log file: %v\n", closeErr)
		}
	}()
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"file", cfg.Logging.File.Path,
	)

	checks := make(map[string]api.HealthChecker)

	// Sensor inventory (optional)
	var recorder *bridge.SensorRecorder
	if cfg.Database.Enabled {
		db, openErr := database.Open(ctx, cfg.Database)
		if openErr != nil {
			return fmt.Errorf("opening database: %w", openErr)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database connected", "path", cfg.Database.Path)

		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")

		recorder = bridge.NewSensorRecorder(db)
		recorder.SetLogger(log)
		if startErr := recorder.Start(ctx); startErr != nil {
			return fmt.Errorf("starting sensor recorder: %w", startErr)
		}
		defer recorder.Stop()

		if count, countErr := recorder.SensorCount(ctx); countErr == nil {
			log.Info("sensor inventory loaded", "sensors", count)
		}
		checks["database"] = db
	} else {
		log.Info("sensor inventory disabled")
	}

	// InfluxDB (optional)
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
		checks["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT broker
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
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	checks["mqtt"] = mqttClient

	// Gateway
	connector, err := gateway.NewConnector(gateway.ConnectorOptions{
		Driver: dongle.NewDriver(cfg.Gateway, log),
		Config: cfg.Gateway,
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("creating gateway connector: %w", err)
	}
	defer func() {
		log.Info("closing gateway")
		if closeErr := connector.Close(); closeErr != nil {
			log.Error("error closing gateway", "error", closeErr)
		}
	}()
	checks["gateway"] = connector

	// Bridge
	opts := bridge.BridgeOptions{
		Config:     cfg,
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Gateway:    connector,
		Logger:     log,
	}
	if recorder != nil {
		opts.Recorder = recorder
	}
	if influxClient != nil {
		opts.Metrics = influxClient
	}
	b, err := bridge.NewBridge(opts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	connector.SetOnEvent(b.HandleEvent)

	// The gateway must be open before commands are accepted.
	log.Info("opening gateway", "device", cfg.Gateway.Device)
	if connectErr := connector.Connect(ctx); connectErr != nil {
		if ctx.Err() != nil {
			log.Info("shutdown requested before gateway opened")
			return nil
		}
		return fmt.Errorf("opening gateway: %w", connectErr)
	}
	info := connector.Info()
	log.Info("gateway opened", "mac", info.MAC, "version", info.Version)

	if startErr := b.Start(ctx); startErr != nil {
		return fmt.Errorf("starting bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping bridge")
		b.Stop()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return connector.Supervise(gctx)
	})

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Bridge:  b,
			Broker:  mqttClient,
			Checks:  checks,
			Version: version,
		}
		if recorder != nil {
			deps.Sensors = recorder
		}
		srv, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		g.Go(func() error {
			return srv.Run(gctx)
		})
		log.Info("API server started", "address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	if waitErr := g.Wait(); waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return waitErr
	}

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses WYZESENSE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("WYZESENSE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. Broker errors are mapped onto the bridge's
// sentinels so the pipeline can classify them, and the Subscribe handler
// signature is narrowed:
//   - Infrastructure mqtt: func(topic, payload []byte) error
//   - bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return mapPublishError(a.client.Publish(topic, payload, qos, retained))
}

func mapPublishError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mqtt.ErrNotConnected):
		return fmt.Errorf("%w: %w", bridge.ErrBrokerUnavailable, err)
	case errors.Is(err, mqtt.ErrTimeout):
		return fmt.Errorf("%w: %w", bridge.ErrPublishTimeout, err)
	default:
		return err
	}
}

// Subscribe implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
