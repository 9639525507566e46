package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketpaws/securecore/internal/domain/shared"
	"github.com/pocketpaws/securecore/internal/infrastructure/messaging"
)

func newTestLog(t *testing.T, retention time.Duration) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "audit.db"), retention, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLog_RecordAndRecent(t *testing.T) {
	l := newTestLog(t, time.Hour)

	require.NoError(t, l.Record(shared.NewSecurityWarningEvent("p1", "coins", "decrease rejected", true)))
	require.NoError(t, l.Record(shared.NewTamperingDetectedEvent(shared.TamperMemoryModified, "coins", "shadow mismatch")))

	entries, err := l.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, shared.EventTamperingDetected, entries[0].EventType, "newest first")
	assert.Equal(t, shared.EventSecurityWarning, entries[1].EventType)
	assert.Equal(t, "p1", entries[1].AggregateID)
	assert.Contains(t, entries[1].Payload, "decrease rejected")
	assert.NotEmpty(t, entries[0].EventID)
}

func TestLog_AttachCapturesSecurityTraffic(t *testing.T) {
	l := newTestLog(t, time.Hour)
	bus := messaging.NewInMemoryEventBus(messaging.DefaultInMemoryEventBusConfig())
	require.NoError(t, l.Attach(bus))

	require.NoError(t, bus.Publish(shared.NewSecurityWarningEvent("p1", "experience", "outlier", false)))
	require.NoError(t, bus.Publish(shared.NewTamperingDetectedEvent(shared.TamperTimeManipulation, "clock", "drift")))
	// Routine persistence traffic is not audit-worthy.
	require.NoError(t, bus.Publish(shared.NewDataSavedEvent("p1", 128, time.Millisecond)))

	counts, err := l.CountByType()
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[shared.EventSecurityWarning])
	assert.EqualValues(t, 1, counts[shared.EventTamperingDetected])
	assert.NotContains(t, counts, shared.EventDataSaved)
}

func TestLog_PruneRespectsRetention(t *testing.T) {
	l := newTestLog(t, time.Hour)

	require.NoError(t, l.Record(shared.NewSecurityWarningEvent("p1", "coins", "old", true)))
	require.NoError(t, l.Record(shared.NewSecurityWarningEvent("p1", "coins", "new", true)))

	// Nothing is old enough yet.
	removed, err := l.Prune(time.Now())
	require.NoError(t, err)
	assert.Zero(t, removed)

	// Two hours later both entries fall outside the one-hour window.
	removed, err = l.Prune(time.Now().Add(2 * time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	entries, err := l.Recent(10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLog_PruneJobName(t *testing.T) {
	l := newTestLog(t, time.Hour)
	job := l.PruneJob()
	assert.Equal(t, JobPrune, job.Name())
	assert.NoError(t, job.Run(context.Background()))
}
