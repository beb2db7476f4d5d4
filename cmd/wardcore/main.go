// Ward Core - Resilient Device Control
//
// This is the main entry point for the Ward Core application.
// Ward Core keeps a fleet of mains-powered devices controllable and
// safe when the remote device API misbehaves:
//   - Bounded retries with jittered exponential backoff
//   - Offline command queueing with ordered replay
//   - Power anomaly detection with protective shutdown
//   - Operator overrides, up to emergency shutdown
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/ward-core/migrations"

	"github.com/nerrad567/ward-core/internal/anomaly"
	"github.com/nerrad567/ward-core/internal/api"
	"github.com/nerrad567/ward-core/internal/auth"
	"github.com/nerrad567/ward-core/internal/failure"
	"github.com/nerrad567/ward-core/internal/gateway"
	"github.com/nerrad567/ward-core/internal/infrastructure/config"
	"github.com/nerrad567/ward-core/internal/infrastructure/database"
	"github.com/nerrad567/ward-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/ward-core/internal/infrastructure/logging"
	"github.com/nerrad567/ward-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/ward-core/internal/override"
	"github.com/nerrad567/ward-core/internal/remote"
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
	// The issue-token subcommand mints an access token for provisioning
	// operator and admin clients, then exits.
	if len(os.Args) > 1 && os.Args[1] == "issue-token" {
		if err := issueToken(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Run the application
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Ward Core",
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
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

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
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

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

	// Failure reporter: bounded error records, throttled notifications.
	failures := failure.New(failure.Options{
		RecordCap:       cfg.Failure.RecordCap,
		NotifyThreshold: failure.ParseSeverity(cfg.Failure.NotifyThreshold),
		NotifyCooldown:  time.Duration(cfg.Failure.NotifyCooldown) * time.Second,
		FeatureRecovery: time.Duration(cfg.Failure.FeatureRecovery) * time.Second,
	})
	failures.SetLogger(log)
	failures.SetNotifier(&mqttNotifier{client: mqttClient, qos: byte(cfg.MQTT.QoS), log: log})

	// Remote device API over MQTT request/response.
	remoteAPI, err := remote.New(mqttClient, byte(cfg.MQTT.QoS),
		time.Duration(cfg.Gateway.CommandTimeout)*time.Second)
	if err != nil {
		return fmt.Errorf("creating remote API client: %w", err)
	}

	// Command gateway: device registry, state cache, offline queue.
	gw := gateway.New(remoteAPI, failures, cfg.Gateway)
	gw.SetLogger(log)

	// Replay queued commands whenever the broker connection comes back.
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connected, replaying any queued commands")
		go func() {
			delivered := gw.OnReachabilityRestored(ctx)
			if delivered > 0 {
				log.Info("offline queue replayed", "delivered", delivered)
			}
		}()
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Anomaly monitor: power overshoot detection with protective shutdown.
	monitor := anomaly.New(gw, cfg.Anomaly)
	monitor.SetLogger(log)
	monitor.SetRepository(anomaly.NewSQLiteRepository(db.DB))
	if influxClient != nil {
		monitor.SetMetricsWriter(influxClient)
	}

	// Override registry: operator control takes precedence over automation.
	overrides := override.New(override.NewSQLiteRepository(db.DB))
	overrides.SetLogger(log)
	if loadErr := overrides.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading overrides: %w", loadErr)
	}

	// WebSocket hub is shared so gateway, monitor, and override events
	// all reach connected clients.
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)
	gw.SetEventSink(hub)
	overrides.SetEventSink(hub)
	monitor.SetNotificationCallback(func(_ string, rec anomaly.Record) {
		hub.Broadcast("anomaly.detected", rec)
	})

	// Start API server
	apiServer, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log,
		Gateway:     gw,
		Monitor:     monitor,
		Overrides:   overrides,
		Failures:    failures,
		DB:          db,
		MQTT:        mqttClient,
		ExternalHub: hub,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
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
	log.Info("API server started", "address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

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
	// 1. API server
	// 2. InfluxDB (if enabled)
	// 3. MQTT
	// 4. Database

	log.Info("Ward Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses WARDCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("WARDCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// issueToken mints a signed access token for the given user and role
// using the configured JWT secret. Usage:
//
//	wardcore issue-token <user-id> <role>
func issueToken(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: wardcore issue-token <user-id> <role>")
	}
	userID, role := args[0], auth.Role(args[1])
	if !auth.IsValidRole(role) {
		return fmt.Errorf("invalid role %q (valid: operator, admin)", args[1])
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Security.JWT.Secret == "" {
		return fmt.Errorf("security.jwt.secret is not configured")
	}

	token, err := auth.GenerateAccessToken(userID, role, cfg.Security.JWT.Secret, cfg.Security.JWT.AccessTokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
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

	return nil
}

// mqttNotifier forwards failure notifications to the operator-facing
// notification topic. Publish failures are logged, never propagated;
// notifications are advisory.
type mqttNotifier struct {
	client *mqtt.Client
	qos    byte
	log    *logging.Logger
}

// Notify implements failure.Notifier.
func (n *mqttNotifier) Notify(severity failure.Severity, message string, deviceID string) {
	payload := fmt.Sprintf(`{"severity":%q,"message":%q,"device_id":%q,"timestamp":%q}`,
		severity, message, deviceID, time.Now().UTC().Format(time.RFC3339))
	topic := mqtt.Topics{}.Notification()
	if err := n.client.Publish(topic, []byte(payload), n.qos, false); err != nil {
		n.log.Warn("failed to publish failure notification", "topic", topic, "error", err)
	}
}
