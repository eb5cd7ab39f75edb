package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nerrad567/usbroles/internal/api"
	"github.com/nerrad567/usbroles/internal/infrastructure/config"
	"github.com/nerrad567/usbroles/internal/infrastructure/database"
	"github.com/nerrad567/usbroles/internal/infrastructure/influxdb"
	"github.com/nerrad567/usbroles/internal/infrastructure/logging"
	"github.com/nerrad567/usbroles/internal/infrastructure/mqtt"
	"github.com/nerrad567/usbroles/internal/monitor"
	"github.com/nerrad567/usbroles/internal/usb"
	"github.com/nerrad567/usbroles/internal/web"
	"github.com/nerrad567/usbroles/migrations"
)

const (
	// sightingRetention is how long absent devices stay in the history.
	sightingRetention = 30 * 24 * time.Hour

	// pruneInterval is the pause between two history prunes.
	pruneInterval = 6 * time.Hour

	// dataDirPermissions is used for the rule and database directories.
	dataDirPermissions = 0o750
)

// run is the daemon, separated from main for testability.
// It returns nil on clean shutdown after ctx is cancelled.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting usbroles",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	defer log.Close()
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Rule store. A missing file is an empty set; a malformed one is fatal.
	if mkErr := os.MkdirAll(filepath.Dir(cfg.Rules.Path), dataDirPermissions); mkErr != nil {
		return fmt.Errorf("creating rules directory: %w", mkErr)
	}
	rules, err := usb.OpenRuleStore(cfg.Rules.Path)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	log.Info("rules loaded", "path", cfg.Rules.Path, "rules", rules.Len())

	registry := usb.NewRegistry()
	state := usb.NewState(registry, rules)
	resolver := monitor.RuleResolver{Rules: rules}

	// Sighting history (optional)
	var (
		db      *database.DB
		history usb.SightingRepository
	)
	if cfg.Database.Enabled {
		db, err = openDatabase(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		repo := usb.NewSQLiteSightingRepository(db.DB)
		if n, markErr := repo.MarkAllAbsent(ctx); markErr != nil {
			return fmt.Errorf("resetting sightings: %w", markErr)
		} else if n > 0 {
			log.Debug("sightings reset", "count", n)
		}
		history = repo
		log.Info("database connected", "path", cfg.Database.Path)
	} else {
		log.Info("sighting history disabled")
	}

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
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
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
			"prefix", mqttClient.Topics().Prefix(),
		)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB, cfg.Service.InstanceID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Device monitor
	sysfs := monitor.NewSysfs(cfg.Monitor.SysfsRoot)
	sysfs.SetLogger(log)

	events, err := newEventSource(cfg, sysfs, mqttClient, resolver, log)
	if err != nil {
		return err
	}
	var (
		hotplugMetrics hotplugRecorder
		relay          eventRelay
		relayTopics    mqtt.Topics
	)
	if influxClient != nil {
		hotplugMetrics = influxClient
	}
	// Local kernel events are relayed so that remote instances running
	// with events "mqtt" can follow this host.
	if mqttClient != nil && cfg.Monitor.Events == config.EventsUevent {
		relay = mqttClient
		relayTopics = mqttClient.Topics()
	}
	if events != nil && (hotplugMetrics != nil || relay != nil) {
		events = monitor.Tap(events, hotplugTap(hotplugMetrics, relay, relayTopics, resolver, log))
	}
	mon := monitor.NewComposite(sysfs, events)

	scanner := usb.NewScanner(mon, registry, usb.ScannerOptions{
		Interval:       cfg.Monitor.ScanInterval,
		StallThreshold: cfg.Monitor.StallThreshold,
	})
	scanner.SetLogger(log)
	if history != nil {
		scanner.AddObserver(history)
	}
	if influxClient != nil {
		scanner.SetRecorder(influxClient)
	}

	listener := usb.NewListener(mon, state)
	listener.SetLogger(log)

	// Retained MQTT snapshots of the device views and the rule set
	var devicesPub, rulesPub *mqtt.SnapshotPublisher
	if mqttClient != nil {
		topics := mqttClient.Topics()
		devicesPub = mqtt.NewSnapshotPublisher(mqttClient, topics.Devices(), func() any { return state.Views() })
		devicesPub.SetLogger(log)
		rulesPub = mqtt.NewSnapshotPublisher(mqttClient, topics.Rules(), func() any { return rules.Snapshot() })
		rulesPub.SetLogger(log)
		mqttClient.SetOnConnect(republishOnConnect(log, devicesPub, rulesPub))
	}

	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		State:    state,
		Scanner:  scanner,
		Listener: listener,
		History:  history,
		Index:    web.Handler(""),
		Version:  version,
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
		deps.OnRulesChanged = func() {
			rulesPub.Notify()
			devicesPub.Notify()
		}
	}
	if db != nil {
		deps.DB = db
	}

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	registry.SetOnChange(func() {
		server.BroadcastDevices()
		if devicesPub != nil {
			devicesPub.Notify()
		}
	})

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	var wg sync.WaitGroup
	spawn := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	spawn(scanner.Run)
	if events != nil {
		spawn(listener.Run)
	} else {
		log.Info("hotplug events disabled, running in poll-only mode")
	}
	if devicesPub != nil {
		spawn(devicesPub.Run)
		spawn(rulesPub.Run)
	}
	if history != nil {
		spawn(func(ctx context.Context) { pruneLoop(ctx, history, log) })
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	wg.Wait()

	log.Info("usbroles stopped")
	return nil
}

// openDatabase opens the sighting database and applies pending migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := connectDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		//nolint:errcheck // the migration error is the one worth reporting
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// connectDatabase opens the sighting database without touching its schema,
// creating the parent directory when needed.
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), dataDirPermissions); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// newEventSource builds the configured hotplug source, or nil for "none".
func newEventSource(cfg *config.Config, sysfs *monitor.Sysfs, mqttClient *mqtt.Client, resolver monitor.RoleResolver, log *logging.Logger) (monitor.EventSource, error) {
	switch cfg.Monitor.Events {
	case config.EventsUevent:
		src := monitor.NewUeventSource(sysfs, resolver)
		src.SetLogger(log)
		return src, nil
	case config.EventsMQTT:
		if mqttClient == nil {
			return nil, errors.New("monitor.events \"mqtt\" requires an MQTT connection")
		}
		src := monitor.NewMQTTSource(mqttClient, mqttClient.Topics(), byte(cfg.MQTT.QoS), resolver)
		src.SetLogger(log)
		return src, nil
	default:
		return nil, nil
	}
}

// hotplugRecorder receives one metric point per hotplug event.
type hotplugRecorder interface {
	RecordHotplug(kind, role string)
}

// eventRelay republishes local hotplug events.
type eventRelay interface {
	PublishEvent(topic string, v any) error
}

// hotplugTap records hotplug metrics and relays events to MQTT. Either
// metrics or relay may be nil. Relayed events are not retained: a late
// subscriber must not replay an old detach.
func hotplugTap(metrics hotplugRecorder, relay eventRelay, topics mqtt.Topics, resolver monitor.RoleResolver, log *logging.Logger) func(usb.Event) {
	return func(ev usb.Event) {
		switch e := ev.(type) {
		case usb.Attached:
			if metrics != nil {
				role, _ := resolver.ResolveRole(e.Device)
				metrics.RecordHotplug("attached", role)
			}
			if relay != nil {
				if err := relay.PublishEvent(topics.Attached(), e.Device); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
					log.Warn("relaying attach failed", "error", err)
				}
			}
		case usb.Detached:
			if metrics != nil {
				metrics.RecordHotplug("detached", e.Role)
			}
			if relay != nil {
				if err := relay.PublishEvent(topics.Detached(), map[string]string{"role": e.Role}); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
					log.Warn("relaying detach failed", "error", err)
				}
			}
		}
	}
}

// republishOnConnect returns the MQTT on-connect hook. Snapshots dropped
// while the broker was unreachable are published again once it is back.
func republishOnConnect(log *logging.Logger, pubs ...*mqtt.SnapshotPublisher) func() {
	return func() {
		log.Info("MQTT reconnected")
		for _, p := range pubs {
			p.Notify()
		}
	}
}

// pruneLoop periodically deletes long-absent sightings.
func pruneLoop(ctx context.Context, history usb.SightingRepository, log *logging.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := history.Prune(ctx, sightingRetention)
			if err != nil {
				log.Warn("pruning sightings failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("pruned sightings", "count", n)
			}
		}
	}
}

// healthCheck verifies all enabled backends are reachable.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
