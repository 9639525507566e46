package messaging

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketpaws/securecore/internal/domain/shared"
)

func TestEventBus_PublishRoutesByType(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	defer bus.Close()

	var warnings, saves int
	require.NoError(t, bus.Subscribe(shared.EventSecurityWarning, func(e shared.Event) error {
		warnings++
		return nil
	}))
	require.NoError(t, bus.Subscribe(shared.EventDataSaved, func(e shared.Event) error {
		saves++
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewSecurityWarningEvent("p1", "coins", "decrease rejected", true)))
	require.NoError(t, bus.Publish(shared.NewSecurityWarningEvent("p1", "xp", "outlier delta", false)))
	require.NoError(t, bus.Publish(shared.NewDataSavedEvent("p1", 512, 0)))

	assert.Equal(t, 2, warnings)
	assert.Equal(t, 1, saves)
}

func TestEventBus_SubscribeAllSeesEverything(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	defer bus.Close()

	var seen []shared.EventType
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		seen = append(seen, e.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewDataLoadedEvent("p1", "primary")))
	require.NoError(t, bus.Publish(shared.NewCommunicationErrorEvent("/api/v1/profile", "timeout", false)))

	assert.Equal(t, []shared.EventType{shared.EventDataLoaded, shared.EventCommunicationError}, seen)
}

func TestEventBus_HandlerErrorDoesNotPropagate(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	defer bus.Close()

	require.NoError(t, bus.Subscribe(shared.EventSecurityWarning, func(e shared.Event) error {
		return errors.New("subscriber bug")
	}))

	assert.NoError(t, bus.Publish(shared.NewSecurityWarningEvent("p1", "coins", "x", true)))
}

func TestEventBus_ClosedRejectsPublish(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	require.NoError(t, bus.Close())

	err := bus.Publish(shared.NewDataSavedEvent("p1", 1, 0))
	assert.ErrorIs(t, err, ErrEventBusClosed)

	err = bus.Subscribe(shared.EventDataSaved, func(shared.Event) error { return nil })
	assert.ErrorIs(t, err, ErrEventBusClosed)
}

func TestEventBus_AsyncModeDeliversAll(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var mu sync.Mutex
	count := 0
	require.NoError(t, bus.Subscribe(shared.EventDataSaved, func(e shared.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}))

	for i := 0; i < 20; i++ {
		require.NoError(t, bus.Publish(shared.NewDataSavedEvent("p1", i, 0)))
	}

	// Close waits for pending async handlers.
	require.NoError(t, bus.Close())
	assert.Equal(t, 20, count)
}

func TestTamperDispatcher_RoutesBySeverity(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	defer bus.Close()

	d, err := NewTamperDispatcher(bus, nil)
	require.NoError(t, err)

	var critical, recoverable, soft []shared.TamperKind
	d.OnCritical(func(e shared.TamperingDetectedEvent) { critical = append(critical, e.Kind) })
	d.OnRecoverable(func(e shared.TamperingDetectedEvent) { recoverable = append(recoverable, e.Kind) })
	d.OnSoft(func(e shared.TamperingDetectedEvent) { soft = append(soft, e.Kind) })

	for _, kind := range []shared.TamperKind{
		shared.TamperCodeModified,
		shared.TamperObjectDestroyed,
		shared.TamperMemoryModified,
		shared.TamperComponentModified,
		shared.TamperTimeManipulation,
	} {
		require.NoError(t, bus.Publish(shared.NewTamperingDetectedEvent(kind, "subject", "msg")))
	}

	assert.Equal(t, []shared.TamperKind{shared.TamperCodeModified, shared.TamperObjectDestroyed}, critical)
	assert.Equal(t, []shared.TamperKind{shared.TamperMemoryModified, shared.TamperComponentModified}, recoverable)
	assert.Equal(t, []shared.TamperKind{shared.TamperTimeManipulation}, soft)
}
