// Package hub assembles the hub's core resources and optional backends.
//
// A Hub owns one event bus shared by the state store, service registry,
// config entry manager, registries and credential store. MQTT streaming,
// InfluxDB recording, auditing and tracing are attached when enabled in
// configuration.
package hub

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	_ "github.com/nerrad567/gray-logic-hub/migrations" // embedded schema

	"github.com/nerrad567/gray-logic-hub/internal/audit"
	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/configentry"
	"github.com/nerrad567/gray-logic-hub/internal/credentials"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/tracing"
	"github.com/nerrad567/gray-logic-hub/internal/recorder"
	"github.com/nerrad567/gray-logic-hub/internal/registry"
	"github.com/nerrad567/gray-logic-hub/internal/service"
	"github.com/nerrad567/gray-logic-hub/internal/state"
	"github.com/nerrad567/gray-logic-hub/internal/statestream"
)

// Options adjust how New builds the hub.
type Options struct {
	Version string
	Logger  *logging.Logger
	// Ephemeral keeps all persisted data in memory.
	Ephemeral bool
}

// Hub is the running system.
type Hub struct {
	Config  *config.Config
	Version string

	Bus           *bus.Bus
	States        *state.Store
	Services      *service.Registry
	ConfigEntries *configentry.Manager
	Registries    *registry.Registries
	Credentials   *credentials.Store
	Audit         audit.Repository
	Tracing       *tracing.Provider

	logger    *logging.Logger
	db        *database.DB
	auditRec  *audit.Recorder
	mqtt      *mqtt.Client
	publisher *statestream.Publisher
	bridge    *statestream.ServiceBridge
	influx    *influxdb.Client
	recorder  *recorder.Recorder
}

// New opens the database, applies migrations and loads persisted config
// entries, registries and credentials. Nothing is started until Start.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Hub, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	var db *database.DB
	var err error
	if opts.Ephemeral {
		db, err = database.OpenMemory()
	} else {
		db, err = database.Open(cfg.Database)
	}
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	applied, err := db.Migrate(ctx)
	if err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("database ready", "path", db.Path(), "migrations_applied", applied)

	tp, err := tracing.NewProvider(cfg.Tracing, opts.Version)
	if err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("configuring tracing: %w", err)
	}

	b := bus.New()
	h := &Hub{
		Config:      cfg,
		Version:     opts.Version,
		Bus:         b,
		States:      state.NewStore(b),
		Services:    service.NewRegistry(b),
		Registries:  registry.New(b, registry.NewSQLiteRepository(db.DB)),
		Credentials: credentials.NewStore(b, credentials.NewSQLiteRepository(db.DB)),
		Audit:       audit.NewSQLiteRepository(db.DB),
		Tracing:     tp,
		logger:      logger,
		db:          db,
	}
	h.ConfigEntries = configentry.NewManager(b, h.Services, configentry.NewSQLiteRepository(db.DB))

	b.SetLogger(logger.Component("bus"))
	h.Services.SetLogger(logger.Component("service"))
	h.ConfigEntries.SetLogger(logger.Component("config_entries"))
	h.Registries.SetLogger(logger.Component("registry"))
	h.Credentials.SetLogger(logger.Component("application_credentials"))
	for domain, ep := range cfg.Credentials.Domains {
		h.Credentials.RegisterDomain(domain, oauth2.Endpoint{AuthURL: ep.AuthorizeURL, TokenURL: ep.TokenURL})
	}
	h.Registries.Entities.SetReserved(func(entityID string) bool {
		st, err := h.States.Get(entityID)
		return err == nil && st != nil
	})

	if err := h.load(ctx); err != nil {
		h.db.Close() //nolint:errcheck // already failing
		return nil, err
	}
	return h, nil
}

func (h *Hub) load(ctx context.Context) error {
	if err := h.ConfigEntries.Load(ctx); err != nil {
		return err
	}
	if err := h.Registries.Load(ctx); err != nil {
		return err
	}
	if err := h.Credentials.Load(ctx); err != nil {
		return err
	}
	h.logger.Info("hub data loaded",
		"config_entries", len(h.ConfigEntries.Entries("")),
		"devices", h.Registries.Devices.Len(),
		"entities", h.Registries.Entities.Len(),
		"areas", h.Registries.Areas.Len(),
		"application_credentials", len(h.Credentials.List()),
	)
	return nil
}

// Start attaches the optional backends and sets up every config entry.
// An unreachable MQTT broker or InfluxDB server is logged and skipped.
func (h *Hub) Start(ctx context.Context) {
	if h.Config.Audit.Enabled {
		h.auditRec = audit.NewRecorder(h.Bus, h.Audit)
		h.auditRec.SetLogger(h.logger.Component("audit"))
		h.auditRec.Start()
	}
	if h.Config.MQTT.Enabled {
		h.startMQTT()
	}
	if h.Config.InfluxDB.Enabled {
		h.startInflux()
	}
	h.ConfigEntries.SetupAll(ctx)
}

func (h *Hub) startMQTT() {
	log := h.logger.Component("mqtt")
	client, err := mqtt.Connect(h.Config.MQTT)
	if err != nil {
		log.Warn("MQTT unavailable, state streaming disabled", "error", err)
		return
	}
	client.SetLogger(log)
	h.mqtt = client

	h.publisher = statestream.NewPublisher(h.Bus, client)
	h.publisher.SetLogger(h.logger.Component("statestream"))
	h.publisher.Start()
	h.publisher.PublishAll(h.States.All(""))
	client.SetOnConnect(func() { h.publisher.PublishAll(h.States.All("")) })

	if h.Config.MQTT.BridgeServices {
		h.bridge = statestream.NewServiceBridge(h.Services, client)
		h.bridge.SetLogger(h.logger.Component("service_bridge"))
		if err := h.bridge.Start(); err != nil {
			log.Warn("service bridge disabled", "error", err)
			h.bridge = nil
		}
	}
	log.Info("MQTT connected", "prefix", client.Topics().Prefix())
}

func (h *Hub) startInflux() {
	log := h.logger.Component("influxdb")
	client, err := influxdb.Connect(h.Config.InfluxDB)
	if err != nil {
		log.Warn("InfluxDB unavailable, state recording disabled", "error", err)
		return
	}
	client.SetOnError(func(err error) { log.Error("InfluxDB write failed", "error", err) })
	h.influx = client
	h.recorder = recorder.New(h.Bus, client)
	h.recorder.Start()
	log.Info("InfluxDB connected", "url", h.Config.InfluxDB.URL, "bucket", h.Config.InfluxDB.Bucket)
}

// HealthCheck reports the status of each attached backend.
func (h *Hub) HealthCheck(ctx context.Context) map[string]error {
	out := map[string]error{"database": h.db.HealthCheck(ctx)}
	if h.mqtt != nil {
		out["mqtt"] = h.mqtt.HealthCheck(ctx)
	}
	if h.influx != nil {
		out["influxdb"] = h.influx.HealthCheck(ctx)
	}
	return out
}

// Close unloads config entries, detaches backends and closes the database.
func (h *Hub) Close(ctx context.Context) error {
	h.ConfigEntries.UnloadAll(ctx)

	if h.bridge != nil {
		h.bridge.Stop()
	}
	if h.publisher != nil {
		h.publisher.Stop()
	}
	var errs []error
	if h.mqtt != nil {
		errs = append(errs, h.mqtt.Close())
	}
	if h.recorder != nil {
		h.recorder.Stop()
	}
	if h.influx != nil {
		errs = append(errs, h.influx.Close())
	}
	if h.auditRec != nil {
		h.auditRec.Stop()
	}
	errs = append(errs, h.Tracing.Shutdown(ctx), h.db.Close())
	return errors.Join(errs...)
}
