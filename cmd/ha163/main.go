// HA-163 Plug Bridge
//
// Syncs smart-socket state between a Home Assistant instance and the 163
// IoT platform: entity discovery, a persistent gateway MQTT session with
// time-windowed credentials, periodic property reports, and write-back of
// cloud commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/Dmxmj/ha-163-plug/migrations"

	"github.com/Dmxmj/ha-163-plug/internal/api"
	"github.com/Dmxmj/ha-163-plug/internal/bridge"
	"github.com/Dmxmj/ha-163-plug/internal/devicestore"
	"github.com/Dmxmj/ha-163-plug/internal/discovery"
	"github.com/Dmxmj/ha-163-plug/internal/hastate"
	"github.com/Dmxmj/ha-163-plug/internal/infrastructure/config"
	"github.com/Dmxmj/ha-163-plug/internal/infrastructure/database"
	"github.com/Dmxmj/ha-163-plug/internal/infrastructure/logging"
	"github.com/Dmxmj/ha-163-plug/internal/session"
	"github.com/Dmxmj/ha-163-plug/internal/state"
	"github.com/Dmxmj/ha-163-plug/internal/timesync"
	"github.com/Dmxmj/ha-163-plug/internal/translate"
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
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting HA-163 bridge",
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

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Open database and run migrations
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

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Device store: persist the configured list, or fall back to the last
	// persisted one when the config carries no devices.
	store := devicestore.NewRepository(db)
	if len(cfg.Devices) == 0 {
		persisted, loadErr := store.LoadDevices(ctx)
		switch {
		case errors.Is(loadErr, devicestore.ErrEmpty):
			log.Warn("no devices configured and none persisted, bridge will idle")
		case loadErr != nil:
			return fmt.Errorf("loading persisted devices: %w", loadErr)
		default:
			log.Warn("config carries no devices, using persisted list", "devices", len(persisted))
			cfg.Devices = persisted
		}
	} else if err := store.SaveDevices(ctx, cfg.Devices, cfg.DevicesHash()); err != nil {
		log.Warn("device list persistence failed", "error", err)
	}

	// Local state store client
	states := hastate.New(cfg.HomeAssistant)

	// Clock reference for credential windows
	now := time.Now
	if cfg.NTP.Enabled {
		syncer := timesync.New(cfg.NTP, log)
		syncer.Start(ctx)
		defer syncer.Stop()
		now = syncer.Now
	} else {
		log.Info("ntp sync disabled, using local clock")
	}

	cache := state.NewCache()
	translator := translate.Default()

	engine := discovery.NewEngine(discovery.EngineOptions{
		Source: states,
		Logger: log,
	})

	// Fatal escalation: an unrecoverable session error unwinds run so the
	// process exits non-zero and the supervisor restarts it.
	fatalCh := make(chan error, 1)

	manager := session.NewManager(session.Options{
		Gateway:    cfg.Gateway,
		Broker:     cfg.Broker,
		Session:    cfg.Session,
		Devices:    cfg.Devices,
		Cache:      cache,
		Translator: translator,
		Now:        now,
		Logger:     log,
		OnFatal: func(err error) {
			select {
			case fatalCh <- err:
			default:
			}
		},
	})

	br := bridge.New(bridge.Options{
		Config:     cfg,
		Engine:     engine,
		Session:    manager,
		States:     states,
		Store:      store,
		Cache:      cache,
		Translator: translator,
		Logger:     log,
		LoadConfig: func() (*config.Config, error) {
			return config.Load(configPath)
		},
	})
	manager.SetWriter(br)

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	defer func() {
		log.Info("stopping session")
		manager.Stop()
	}()

	if err := br.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		br.Stop()
	}()

	// Status API (optional)
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Source:  br,
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating status server: %w", apiErr)
		}
		if apiErr := server.Start(ctx); apiErr != nil {
			return fmt.Errorf("starting status server: %w", apiErr)
		}
		defer func() {
			log.Info("stopping status server")
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing status server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
		return nil
	case err := <-fatalCh:
		return fmt.Errorf("session fatal: %w", err)
	}
}

// getConfigPath returns the configuration file path.
// Uses HA163_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HA163_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
