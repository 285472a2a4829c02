package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/jvs-project/volsnap/internal/async"
	"github.com/jvs-project/volsnap/internal/audit"
	"github.com/jvs-project/volsnap/internal/catalog"
	"github.com/jvs-project/volsnap/internal/datastore"
	"github.com/jvs-project/volsnap/internal/datastore/fsdriver"
	"github.com/jvs-project/volsnap/internal/gc"
	"github.com/jvs-project/volsnap/internal/lock"
	"github.com/jvs-project/volsnap/internal/snapshot"
	"github.com/jvs-project/volsnap/internal/strategy"
	"github.com/jvs-project/volsnap/pkg/config"
	"github.com/jvs-project/volsnap/pkg/logging"
	"github.com/jvs-project/volsnap/pkg/model"
	"github.com/jvs-project/volsnap/pkg/webhook"
)

// AuditFileName is the audit log kept next to the catalog database.
const AuditFileName = "audit.jsonl"

// app is the wired stack one command invocation works against.
type app struct {
	cfg        *config.Config
	catalog    *catalog.Catalog
	exec       *async.Executor
	stores     *datastore.Manager
	drivers    map[uint64]*fsdriver.Driver
	audit      *audit.FileAppender
	service    *snapshot.Service
	strategies *strategy.Manager
	collector  *gc.Collector
	hooks      *webhook.Client
}

// loadConfig reads --config and applies the logging settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	l := logging.NewLogger(logging.ParseLevel(level))
	l.SetFormat(logging.Format(cfg.Logging.Format))
	logging.SetGlobal(l)
	return cfg, nil
}

// openApp wires the catalog, the configured stores and the snapshot stack.
// Callers must Close it.
func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	locks := lock.NewManager(model.LockPolicy{DefaultLeaseTTL: cfg.Lock.LeaseTTL}, nil)
	cat, err := catalog.Open(cfg.Database.Path, locks)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	a := &app{
		cfg:     cfg,
		catalog: cat,
		exec:    async.NewExecutor(cfg.Async.Workers),
		stores:  datastore.NewManager(cfg.Cache.CapabilityTTL),
		drivers: make(map[uint64]*fsdriver.Driver, len(cfg.Stores)),
		audit:   audit.NewFileAppender(filepath.Join(filepath.Dir(cfg.Database.Path), AuditFileName)),
	}

	for _, sc := range cfg.Stores {
		root := sc.Root
		if !filepath.IsAbs(root) {
			root = filepath.Join(filepath.Dir(configPath), root)
		}
		drv, err := fsdriver.Open(root, sc.Role, sc.Engine, a.exec)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("store %d: %w", sc.ID, err)
		}
		info := datastore.Info{ID: sc.ID, UUID: sc.UUID, Name: sc.Name, Role: sc.Role, DataCenterID: sc.DataCenterID}
		if err := a.stores.Register(datastore.NewStore(info, drv, cat)); err != nil {
			a.Close()
			return nil, err
		}
		a.drivers[sc.ID] = drv
	}

	listeners := audit.Listeners(a.audit)
	if len(cfg.Webhooks.Hooks) > 0 {
		a.hooks = webhook.NewClient(cfg.Webhooks)
		listeners = listeners.Merge(webhook.Listeners(a.hooks))
	}
	machines, err := snapshot.NewMachines(listeners)
	if err != nil {
		a.Close()
		return nil, err
	}
	factory := snapshot.NewFactory(cat, a.stores, machines)
	a.service = snapshot.NewService(factory, datastore.NewDataMotion(), cfg.Async.WaitTimeout)

	deps := strategy.Deps{
		Service:  a.service,
		LockWait: cfg.Lock.WaitTimeout,
		DeltaMax: cfg.IntValue(config.KeyDeltaMax, snapshot.DeltaMax),
	}
	selector := strategy.NewSelector(strategy.NewOffload(deps), strategy.NewDelta(deps), strategy.NewGeneric(deps))
	a.strategies = strategy.NewManager(selector, factory)
	a.collector = gc.NewCollector(a.service, cfg.GC.Concurrency).WithAudit(a.audit)
	return a, nil
}

// Close stops the executor, flushes queued webhooks and closes the catalog.
func (a *app) Close() error {
	errs := []error{a.exec.Stop()}
	if a.hooks != nil {
		errs = append(errs, a.hooks.Close())
	}
	errs = append(errs, a.catalog.Close())
	return errors.Join(errs...)
}
