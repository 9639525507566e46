// Package securecore is the security SDK embedded in the PocketPaws
// client: encrypted dual-slot save storage with validated accessors,
// runtime integrity monitoring, an authenticated backend channel and a
// local audit trail, all connected through an in-process event bus.
//
// The host game constructs a Core once at startup, calls Start, and
// talks to the subsystems through the accessors. Everything shuts down
// together through Close.
package securecore

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/pocketpaws/securecore/config"
	"github.com/pocketpaws/securecore/internal/application/integrity"
	"github.com/pocketpaws/securecore/internal/application/statestore"
	"github.com/pocketpaws/securecore/internal/domain/shared"
	"github.com/pocketpaws/securecore/internal/infrastructure/external/backend"
	"github.com/pocketpaws/securecore/internal/infrastructure/messaging"
	"github.com/pocketpaws/securecore/internal/infrastructure/persistence/audit"
	"github.com/pocketpaws/securecore/internal/infrastructure/persistence/slots"
	"github.com/pocketpaws/securecore/internal/infrastructure/scheduler"
	"github.com/pocketpaws/securecore/pkg/crypto"
	"github.com/pocketpaws/securecore/pkg/deviceid"
)

// Core bundles the wired subsystems.
type Core struct {
	cfg    *config.Config
	logger *slog.Logger

	bus        *messaging.InMemoryEventBus
	dispatcher *messaging.TamperDispatcher
	scheduler  *scheduler.Scheduler
	store      *statestore.Store
	monitor    *integrity.Monitor
	channel    *backend.Client
	audit      *audit.Log

	started bool
}

// New derives key material and wires every subsystem. Nothing runs yet;
// call Start.
func New(cfg *config.Config, logger *slog.Logger) (*Core, error) {
	if logger == nil {
		logger = newLogger(cfg)
	}

	// Key material: device fingerprint + build id + per-install secret.
	fingerprint, err := deviceid.Fingerprint(cfg.Crypto.DeviceIDOverride, cfg.Storage.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve device fingerprint: %w", err)
	}
	installSecret, err := crypto.LoadOrCreateInstallSecret(cfg.Crypto.InstallSecretFile)
	if err != nil {
		return nil, fmt.Errorf("load install secret: %w", err)
	}
	stateKey, err := crypto.DeriveStateKey(fingerprint, cfg.App.BuildID, installSecret)
	if err != nil {
		return nil, fmt.Errorf("derive state key: %w", err)
	}
	signingSecret, err := crypto.DeriveSigningSecret(fingerprint, cfg.App.BuildID, installSecret)
	if err != nil {
		return nil, fmt.Errorf("derive signing secret: %w", err)
	}

	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{Logger: logger})
	dispatcher, err := messaging.NewTamperDispatcher(bus, logger)
	if err != nil {
		return nil, fmt.Errorf("wire tamper dispatcher: %w", err)
	}

	slotStore, err := slots.NewStore(cfg.Storage.Dir, cfg.Storage.PrimaryFile, cfg.Storage.BackupFile, logger)
	if err != nil {
		return nil, fmt.Errorf("open save slots: %w", err)
	}
	store := statestore.NewStore(statestore.Config{
		Codec:                  statestore.NewCodec(stateKey, cfg.Storage.Compress),
		Slots:                  slotStore,
		Bus:                    bus,
		Logger:                 logger,
		SaveDebounce:           cfg.Storage.SaveDebounce,
		CoinsOutlierDelta:      cfg.Storage.CoinsOutlierDelta,
		ExperienceOutlierDelta: cfg.Storage.ExperienceOutlierDelta,
	})

	sched := scheduler.New(scheduler.Config{Logger: logger})

	monitor := integrity.New(integrity.Config{
		Bus:                bus,
		Logger:             logger,
		StructuralInterval: cfg.Integrity.StructuralInterval,
		ObjectInterval:     cfg.Integrity.ObjectInterval,
		ClockTick:          cfg.Integrity.ClockTick,
		DriftRatioMin:      cfg.Integrity.DriftRatioMin,
		DriftRatioMax:      cfg.Integrity.DriftRatioMax,
	})
	if cfg.Integrity.Enabled {
		if err := monitor.RegisterJobs(sched); err != nil {
			return nil, fmt.Errorf("register integrity jobs: %w", err)
		}
	}

	channel := backend.NewClient(backend.ClientConfig{
		BaseURL:           cfg.Network.BaseURL,
		APIKey:            cfg.Network.APIKey,
		DeviceID:          fingerprint,
		SigningSecret:     signingSecret,
		Timeout:           cfg.Network.RequestTimeout,
		SigningEnabled:    cfg.Network.SigningEnabled,
		ThrottleBurst:     cfg.Network.ThrottleBurst,
		ThrottleWindow:    cfg.Network.ThrottleWindow,
		ThrottleIdleReset: cfg.Network.ThrottleIdleReset,
		PinningEnabled:    cfg.Network.PinningEnabled && !cfg.IsDevelopment(),
		PinnedCertHashes:  cfg.Network.PinnedCertHashes,
		Bus:               bus,
		Logger:            logger,
	})

	core := &Core{
		cfg:        cfg,
		logger:     logger,
		bus:        bus,
		dispatcher: dispatcher,
		scheduler:  sched,
		store:      store,
		monitor:    monitor,
		channel:    channel,
	}

	if cfg.Audit.Enabled {
		auditLog, err := audit.Open(cfg.Audit.Path, cfg.Audit.Retention, logger)
		if err != nil {
			return nil, fmt.Errorf("open audit trail: %w", err)
		}
		if err := auditLog.Attach(bus); err != nil {
			auditLog.Close()
			return nil, fmt.Errorf("attach audit trail: %w", err)
		}
		if err := sched.Register(auditLog.PruneJob(), scheduler.NewIntervalSchedule(cfg.Audit.PruneInterval)); err != nil {
			auditLog.Close()
			return nil, fmt.Errorf("register audit prune job: %w", err)
		}
		core.audit = auditLog
	}

	// Recoverable tampering: reload state from the slots, which routes
	// through the backup-promotion path if the primary was touched.
	dispatcher.OnRecoverable(func(shared.TamperingDetectedEvent) {
		if err := store.Load(); err != nil {
			logger.Error("recovery reload failed", "error", err)
		}
	})

	return core, nil
}

// Start loads player state and starts the background checks.
func (c *Core) Start(ctx context.Context) error {
	if c.started {
		return nil
	}
	if err := c.store.Load(); err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if err := c.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	c.started = true
	c.logger.Info("securecore started",
		"environment", string(c.cfg.App.Environment),
		"build_id", c.cfg.App.BuildID,
	)
	return nil
}

// Close flushes pending saves and tears everything down in reverse
// dependency order.
func (c *Core) Close() error {
	var firstErr error
	if c.started {
		if err := c.scheduler.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if c.audit != nil {
		if err := c.audit.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.bus.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	c.started = false
	return firstErr
}

// Store returns the validated state store.
func (c *Core) Store() *statestore.Store { return c.store }

// Monitor returns the integrity monitor.
func (c *Core) Monitor() *integrity.Monitor { return c.monitor }

// Channel returns the backend client.
func (c *Core) Channel() *backend.Client { return c.channel }

// Bus returns the event bus for host-game subscriptions.
func (c *Core) Bus() *messaging.InMemoryEventBus { return c.bus }

// Tampering returns the severity dispatcher for host-game handlers.
func (c *Core) Tampering() *messaging.TamperDispatcher { return c.dispatcher }

// Audit returns the audit trail, or nil when disabled.
func (c *Core) Audit() *audit.Log { return c.audit }

// newLogger builds the default structured logger: debug-level text in
// development, info-level JSON otherwise.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.App.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsDevelopment() {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
