package integrity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketpaws/securecore/internal/domain/shared"
	"github.com/pocketpaws/securecore/internal/infrastructure/messaging"
	"github.com/pocketpaws/securecore/internal/infrastructure/scheduler"
)

type tamperRecorder struct {
	mu     sync.Mutex
	events []shared.TamperingDetectedEvent
}

func (r *tamperRecorder) record(e shared.Event) error {
	if te, ok := e.(shared.TamperingDetectedEvent); ok {
		r.mu.Lock()
		r.events = append(r.events, te)
		r.mu.Unlock()
	}
	return nil
}

func (r *tamperRecorder) kinds() []shared.TamperKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []shared.TamperKind
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func newTestMonitor(t *testing.T, cfg Config) (*Monitor, *tamperRecorder) {
	t.Helper()
	bus := messaging.NewInMemoryEventBus(messaging.DefaultInMemoryEventBusConfig())
	rec := &tamperRecorder{}
	require.NoError(t, bus.SubscribeAll(rec.record))
	cfg.Bus = bus
	return New(cfg), rec
}

func TestMonitor_ConsistentGuardedValuesAreQuiet(t *testing.T) {
	m, rec := newTestMonitor(t, Config{})

	m.Registry().ProtectInt("coins", 100)
	v, err := m.Registry().Int("coins")
	require.NoError(t, err)
	assert.EqualValues(t, 100, v)

	require.NoError(t, m.checkObjects(context.Background()))
	assert.Empty(t, rec.kinds(), "consistent reads and sweeps must not report")
}

func TestMonitor_StructuralDivergenceReportedOnce(t *testing.T) {
	m, rec := newTestMonitor(t, Config{})

	members := []string{"Coins", "Experience", "DayCounter"}
	id := m.RegisterType(func() TypeManifest {
		return TypeManifest{TypeID: "PlayerState", Members: members}
	})
	assert.Equal(t, "PlayerState", id)

	require.NoError(t, m.checkStructures(context.Background()))
	assert.Empty(t, rec.kinds(), "unchanged shape must not report")

	// A member disappears, as if the type was patched at runtime.
	members = []string{"Coins", "Experience"}
	require.NoError(t, m.checkStructures(context.Background()))
	require.NoError(t, m.checkStructures(context.Background()))
	assert.Equal(t, []shared.TamperKind{shared.TamperCodeModified}, rec.kinds(),
		"a persistent divergence fires once, not per check")

	// Back to baseline re-arms the check.
	members = []string{"Coins", "Experience", "DayCounter"}
	require.NoError(t, m.checkStructures(context.Background()))
	members = []string{"Coins"}
	require.NoError(t, m.checkStructures(context.Background()))
	assert.Len(t, rec.kinds(), 2)
}

func TestMonitor_StructuralDigestIgnoresMemberOrder(t *testing.T) {
	a := TypeManifest{TypeID: "T", Members: []string{"A", "B"}}
	b := TypeManifest{TypeID: "T", Members: []string{"B", "A"}}
	assert.Equal(t, a.digest(), b.digest())

	c := TypeManifest{TypeID: "U", Members: []string{"A", "B"}}
	assert.NotEqual(t, a.digest(), c.digest())
}

func TestMonitor_ObjectProbes(t *testing.T) {
	m, rec := newTestMonitor(t, Config{})

	digest, alive := "v1", true
	m.RegisterObject("save-controller", func() (string, bool) {
		return digest, alive
	})

	require.NoError(t, m.checkObjects(context.Background()))
	assert.Empty(t, rec.kinds())

	digest = "v2"
	require.NoError(t, m.checkObjects(context.Background()))
	assert.Equal(t, []shared.TamperKind{shared.TamperComponentModified}, rec.kinds())

	alive = false
	require.NoError(t, m.checkObjects(context.Background()))
	assert.Equal(t, []shared.TamperKind{
		shared.TamperComponentModified,
		shared.TamperObjectDestroyed,
	}, rec.kinds())
}

func TestClockWatch_NormalProgressIsQuiet(t *testing.T) {
	wall := time.Unix(1000, 0)
	mono := time.Duration(0)
	m, rec := newTestMonitor(t, Config{
		WallNow: func() time.Time { return wall },
		MonoNow: func() time.Duration { return mono },
	})

	require.NoError(t, m.checkClock(context.Background())) // primes refs

	wall = wall.Add(10 * time.Second)
	mono += 10 * time.Second
	require.NoError(t, m.checkClock(context.Background()))
	assert.Empty(t, rec.kinds())
}

func TestClockWatch_ForwardJumpReported(t *testing.T) {
	wall := time.Unix(1000, 0)
	mono := time.Duration(0)
	m, rec := newTestMonitor(t, Config{
		WallNow: func() time.Time { return wall },
		MonoNow: func() time.Duration { return mono },
	})

	require.NoError(t, m.checkClock(context.Background()))

	// The user fast-forwards the device clock by an hour between ticks.
	wall = wall.Add(time.Hour)
	mono += 10 * time.Second
	require.NoError(t, m.checkClock(context.Background()))
	assert.Equal(t, []shared.TamperKind{shared.TamperTimeManipulation}, rec.kinds())

	// References were reset, so honest progress afterwards is quiet.
	wall = wall.Add(10 * time.Second)
	mono += 10 * time.Second
	require.NoError(t, m.checkClock(context.Background()))
	assert.Len(t, rec.kinds(), 1)
}

func TestClockWatch_BackwardJumpReported(t *testing.T) {
	wall := time.Unix(5000, 0)
	mono := time.Duration(0)
	m, rec := newTestMonitor(t, Config{
		WallNow: func() time.Time { return wall },
		MonoNow: func() time.Duration { return mono },
	})

	require.NoError(t, m.checkClock(context.Background()))

	wall = wall.Add(-time.Hour)
	mono += 10 * time.Second
	require.NoError(t, m.checkClock(context.Background()))
	assert.Equal(t, []shared.TamperKind{shared.TamperTimeManipulation}, rec.kinds())
}

func TestClockWatch_SlowWallReported(t *testing.T) {
	wall := time.Unix(1000, 0)
	mono := time.Duration(0)
	m, rec := newTestMonitor(t, Config{
		WallNow: func() time.Time { return wall },
		MonoNow: func() time.Duration { return mono },
	})

	require.NoError(t, m.checkClock(context.Background()))

	// Wall time crawls while the process keeps running, as when the
	// device clock is wound back a little on every tick.
	wall = wall.Add(2 * time.Second)
	mono += 10 * time.Second
	require.NoError(t, m.checkClock(context.Background()))
	assert.Equal(t, []shared.TamperKind{shared.TamperTimeManipulation}, rec.kinds())
}

func TestClockWatch_BackwardMonotonicReported(t *testing.T) {
	wall := time.Unix(1000, 0)
	mono := 10 * time.Second
	m, rec := newTestMonitor(t, Config{
		WallNow: func() time.Time { return wall },
		MonoNow: func() time.Duration { return mono },
	})

	require.NoError(t, m.checkClock(context.Background()))

	wall = wall.Add(10 * time.Second)
	mono -= 5 * time.Second
	require.NoError(t, m.checkClock(context.Background()))
	assert.Equal(t, []shared.TamperKind{shared.TamperTimeManipulation}, rec.kinds())

	// References were reset; forward progress afterwards is quiet.
	wall = wall.Add(10 * time.Second)
	mono += 10 * time.Second
	require.NoError(t, m.checkClock(context.Background()))
	assert.Len(t, rec.kinds(), 1)
}

func TestMonitor_RegisterJobs(t *testing.T) {
	m, _ := newTestMonitor(t, Config{})
	s := scheduler.New(scheduler.Config{})

	require.NoError(t, m.RegisterJobs(s))
	assert.ErrorIs(t, m.RegisterJobs(s), scheduler.ErrJobAlreadyExists)

	for _, name := range []string{JobStructural, JobObjects, JobClock} {
		_, _, err := s.RunCounts(name)
		assert.NoError(t, err, name)
	}
}
