// Package integrity implements the runtime self-check subsystem: guarded
// scalar sweeps, structural digests of registered types, object liveness
// probes and clock-drift detection. Findings are published as tamper
// events; subscribers decide the response per severity.
package integrity

import (
	"context"
	"log/slog"
	"time"

	"github.com/pocketpaws/securecore/internal/domain/shared"
	"github.com/pocketpaws/securecore/internal/infrastructure/scheduler"
	"github.com/pocketpaws/securecore/pkg/protect"
)

// Scheduler job names.
const (
	JobStructural = "integrity.structural"
	JobObjects    = "integrity.objects"
	JobClock      = "integrity.clock"
)

// Config contains the monitor's dependencies and tunables.
type Config struct {
	// Bus receives TamperingDetected events.
	Bus shared.EventBus

	// Logger for structured logging.
	Logger *slog.Logger

	// Check intervals.
	StructuralInterval time.Duration
	ObjectInterval     time.Duration
	ClockTick          time.Duration

	// Accepted wall/monotonic drift ratio band. Readings outside it are
	// reported as time manipulation.
	DriftRatioMin float64
	DriftRatioMax float64

	// Clock sources, injectable for tests. WallNow must return a reading
	// with the monotonic part stripped; MonoNow must be immune to system
	// clock changes.
	WallNow func() time.Time
	MonoNow func() time.Duration
}

// Monitor owns the guarded value registry and the periodic checks.
type Monitor struct {
	registry *protect.Registry
	bus      shared.EventBus
	logger   *slog.Logger

	structures *structureSet
	objects    *objectSet
	clock      *clockWatch

	structuralInterval time.Duration
	objectInterval     time.Duration
	clockTick          time.Duration
}

// New creates a Monitor. Register its jobs on a scheduler with
// RegisterJobs before starting that scheduler.
func New(cfg Config) *Monitor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StructuralInterval <= 0 {
		cfg.StructuralInterval = 45 * time.Second
	}
	if cfg.ObjectInterval <= 0 {
		cfg.ObjectInterval = 30 * time.Second
	}
	if cfg.ClockTick <= 0 {
		cfg.ClockTick = 10 * time.Second
	}
	if cfg.DriftRatioMin <= 0 {
		cfg.DriftRatioMin = 0.5
	}
	if cfg.DriftRatioMax <= cfg.DriftRatioMin {
		cfg.DriftRatioMax = 1.5
	}

	m := &Monitor{
		registry:           protect.NewRegistry(),
		bus:                cfg.Bus,
		logger:             cfg.Logger,
		structures:         newStructureSet(),
		objects:            newObjectSet(),
		clock:              newClockWatch(cfg.WallNow, cfg.MonoNow, cfg.DriftRatioMin, cfg.DriftRatioMax),
		structuralInterval: cfg.StructuralInterval,
		objectInterval:     cfg.ObjectInterval,
		clockTick:          cfg.ClockTick,
	}

	// Inconsistent reads of guarded values surface immediately, not on
	// the next sweep.
	m.registry.OnViolation(func(key string) {
		m.report(shared.TamperMemoryModified, key, "guarded value inconsistent on read, shadow restored")
	})

	return m
}

// Registry exposes the guarded value registry for gameplay code.
func (m *Monitor) Registry() *protect.Registry {
	return m.registry
}

// RegisterJobs registers the periodic checks on the given scheduler.
func (m *Monitor) RegisterJobs(s *scheduler.Scheduler) error {
	jobs := []struct {
		name     string
		interval time.Duration
		fn       func(ctx context.Context) error
	}{
		{JobStructural, m.structuralInterval, m.checkStructures},
		{JobObjects, m.objectInterval, m.checkObjects},
		{JobClock, m.clockTick, m.checkClock},
	}
	for _, j := range jobs {
		job := scheduler.JobFunc{JobName: j.name, Fn: j.fn}
		if err := s.Register(job, scheduler.NewIntervalSchedule(j.interval)); err != nil {
			return err
		}
	}
	return nil
}

// report publishes a tamper event and logs it.
func (m *Monitor) report(kind shared.TamperKind, subject, message string) {
	m.logger.Warn("tampering detected",
		"kind", string(kind),
		"severity", string(kind.Severity()),
		"subject", subject,
	)
	if m.bus == nil {
		return
	}
	event := shared.NewTamperingDetectedEvent(kind, subject, message)
	if err := m.bus.Publish(event); err != nil {
		m.logger.Error("tamper event publish failed", "error", err)
	}
}

// checkObjects runs the guarded value sweep and the object probes.
func (m *Monitor) checkObjects(context.Context) error {
	for _, key := range m.registry.Sweep() {
		m.report(shared.TamperMemoryModified, key, "guarded value inconsistent on sweep, shadow restored")
	}
	m.objects.check(m.report)
	return nil
}

// checkStructures recomputes the structural digests.
func (m *Monitor) checkStructures(context.Context) error {
	m.structures.check(m.report)
	return nil
}

// checkClock samples the clock pair and reports drift.
func (m *Monitor) checkClock(context.Context) error {
	m.clock.check(m.report)
	return nil
}
