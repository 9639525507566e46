package statestore

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketpaws/securecore/internal/domain/shared"
	"github.com/pocketpaws/securecore/internal/domain/state"
	"github.com/pocketpaws/securecore/internal/infrastructure/messaging"
	"github.com/pocketpaws/securecore/internal/infrastructure/persistence/slots"
	"github.com/pocketpaws/securecore/pkg/crypto"
)

// eventRecorder captures bus traffic for assertions. The bus runs
// synchronously in tests, so no extra synchronization beyond the mutex
// is needed for ordering.
type eventRecorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *eventRecorder) record(e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) ofType(et shared.EventType) []shared.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []shared.Event
	for _, e := range r.events {
		if e.EventType() == et {
			out = append(out, e)
		}
	}
	return out
}

type storeFixture struct {
	store    *Store
	slots    *slots.Store
	codec    *Codec
	recorder *eventRecorder
	dir      string
}

func newFixture(t *testing.T, debounce time.Duration) *storeFixture {
	t.Helper()

	dir := t.TempDir()
	sl, err := slots.NewStore(dir, "state.dat", "state.bak", nil)
	require.NoError(t, err)

	bus := messaging.NewInMemoryEventBus(messaging.DefaultInMemoryEventBusConfig())
	rec := &eventRecorder{}
	require.NoError(t, bus.SubscribeAll(rec.record))

	codec := NewCodec(crypto.MustRandom(crypto.KeySize), false)
	st := NewStore(Config{
		Codec:                  codec,
		Slots:                  sl,
		Bus:                    bus,
		SaveDebounce:           debounce,
		CoinsOutlierDelta:      10000,
		ExperienceOutlierDelta: 2500,
		NewPlayerID:            func() string { return "fresh-player" },
	})
	t.Cleanup(func() { _ = st.Close() })

	return &storeFixture{store: st, slots: sl, codec: codec, recorder: rec, dir: dir}
}

func TestStore_FirstRunInitializesFreshWithoutWarning(t *testing.T) {
	f := newFixture(t, time.Minute)

	require.NoError(t, f.store.Load())

	assert.Equal(t, "fresh-player", f.store.PlayerID())
	assert.EqualValues(t, 1, f.store.DayCounter())

	loaded := f.recorder.ofType(shared.EventDataLoaded)
	require.Len(t, loaded, 1)
	assert.Equal(t, SourceFresh, loaded[0].(shared.DataLoadedEvent).Source)
	assert.Empty(t, f.recorder.ofType(shared.EventSecurityWarning),
		"a missing save is a first run, not an attack")
}

func TestStore_LoadsPrimary(t *testing.T) {
	f := newFixture(t, time.Minute)

	seed := state.New("seeded")
	seed.SetCoins(42, 0)
	blob, err := f.codec.Encode(seed)
	require.NoError(t, err)
	require.NoError(t, f.slots.WriteBoth(blob))

	require.NoError(t, f.store.Load())
	assert.Equal(t, "seeded", f.store.PlayerID())
	assert.EqualValues(t, 42, f.store.Coins())

	loaded := f.recorder.ofType(shared.EventDataLoaded)
	require.Len(t, loaded, 1)
	assert.Equal(t, SourcePrimary, loaded[0].(shared.DataLoadedEvent).Source)
}

func TestStore_CorruptPrimaryPromotesBackup(t *testing.T) {
	f := newFixture(t, time.Minute)

	seed := state.New("seeded")
	seed.SetCoins(42, 0)
	blob, err := f.codec.Encode(seed)
	require.NoError(t, err)
	require.NoError(t, f.slots.WriteBoth(blob))

	// Flip a byte inside the primary blob on disk.
	primary := filepath.Join(f.dir, "state.dat")
	raw, err := os.ReadFile(primary)
	require.NoError(t, err)
	raw[len(raw)/2] ^= 0xFF
	require.NoError(t, os.WriteFile(primary, raw, 0o600))

	require.NoError(t, f.store.Load())
	assert.EqualValues(t, 42, f.store.Coins(), "backup state must win")

	loaded := f.recorder.ofType(shared.EventDataLoaded)
	require.Len(t, loaded, 1)
	assert.Equal(t, SourceBackup, loaded[0].(shared.DataLoadedEvent).Source)

	// The primary was rewritten from the backup.
	repaired, err := os.ReadFile(primary)
	require.NoError(t, err)
	assert.Equal(t, blob, repaired)
}

func TestStore_BothSlotsCorruptReinitializesWithWarning(t *testing.T) {
	f := newFixture(t, time.Minute)

	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "state.dat"), []byte("junk"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "state.bak"), []byte("junk"), 0o600))

	require.NoError(t, f.store.Load())
	assert.Equal(t, "fresh-player", f.store.PlayerID())

	loaded := f.recorder.ofType(shared.EventDataLoaded)
	require.Len(t, loaded, 1)
	assert.Equal(t, SourceFresh, loaded[0].(shared.DataLoadedEvent).Source)

	warnings := f.recorder.ofType(shared.EventSecurityWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, "save", warnings[0].(shared.SecurityWarningEvent).Field)
}

func TestStore_RejectedMutationRaisesWarning(t *testing.T) {
	f := newFixture(t, time.Minute)
	require.NoError(t, f.store.Load())
	require.NoError(t, f.store.SetCoins(100))

	err := f.store.SetCoins(50)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.EqualValues(t, 100, f.store.Coins())

	warnings := f.recorder.ofType(shared.EventSecurityWarning)
	require.Len(t, warnings, 1)
	w := warnings[0].(shared.SecurityWarningEvent)
	assert.True(t, w.Rejected)
	assert.Equal(t, "coins", w.Field)
}

func TestStore_OutlierFlagAppliedButWarned(t *testing.T) {
	f := newFixture(t, time.Minute)
	require.NoError(t, f.store.Load())

	require.NoError(t, f.store.AddCoins(50000))
	assert.EqualValues(t, 50000, f.store.Coins())

	warnings := f.recorder.ofType(shared.EventSecurityWarning)
	require.Len(t, warnings, 1)
	assert.False(t, warnings[0].(shared.SecurityWarningEvent).Rejected)
}

func TestStore_DebounceCoalescesMutations(t *testing.T) {
	f := newFixture(t, 80*time.Millisecond)
	require.NoError(t, f.store.Load())

	require.NoError(t, f.store.AddCoins(10))
	require.NoError(t, f.store.AddCoins(20))
	require.NoError(t, f.store.AddExperience(5))

	assert.Empty(t, f.recorder.ofType(shared.EventDataSaved), "save must not be immediate")

	require.Eventually(t, func() bool {
		return len(f.recorder.ofType(shared.EventDataSaved)) == 1
	}, 2*time.Second, 10*time.Millisecond, "burst of mutations coalesces into one save")

	// The single write carries the final values.
	blob, err := f.slots.ReadPrimary()
	require.NoError(t, err)
	got, err := f.codec.Decode(blob)
	require.NoError(t, err)
	assert.EqualValues(t, 30, got.Coins)
	assert.EqualValues(t, 5, got.Experience)
}

func TestStore_FlushBypassesDebounce(t *testing.T) {
	f := newFixture(t, time.Hour)
	require.NoError(t, f.store.Load())

	require.NoError(t, f.store.AddCoins(7))
	require.NoError(t, f.store.Flush())

	assert.Len(t, f.recorder.ofType(shared.EventDataSaved), 1)

	blob, err := f.slots.ReadPrimary()
	require.NoError(t, err)
	got, err := f.codec.Decode(blob)
	require.NoError(t, err)
	assert.EqualValues(t, 7, got.Coins)
}

func TestStore_CloseFlushesAndRejectsMutations(t *testing.T) {
	f := newFixture(t, time.Hour)
	require.NoError(t, f.store.Load())
	require.NoError(t, f.store.AddCoins(3))

	require.NoError(t, f.store.Close())
	assert.Len(t, f.recorder.ofType(shared.EventDataSaved), 1)

	err := f.store.AddCoins(1)
	assert.ErrorIs(t, err, shared.ErrClosed)

	// Idempotent.
	require.NoError(t, f.store.Close())
}

func TestStore_SaveRoundTripsThroughLoad(t *testing.T) {
	f := newFixture(t, time.Hour)
	require.NoError(t, f.store.Load())

	require.NoError(t, f.store.SetDisplayName("Miso"))
	require.NoError(t, f.store.AddPet(state.Pet{ID: "pet-1", Species: "cat", Name: "Clover"}))
	require.NoError(t, f.store.AddItem("ball"))
	require.NoError(t, f.store.Flush())

	// A second store over the same directory and key sees the state.
	reopened := NewStore(Config{
		Codec:        f.codec,
		Slots:        f.slots,
		SaveDebounce: time.Hour,
	})
	require.NoError(t, reopened.Load())
	defer reopened.Close()

	assert.Equal(t, "Miso", reopened.DisplayName())
	assert.Equal(t, []string{"ball"}, reopened.Items())
	require.Len(t, reopened.Pets(), 1)
	assert.Equal(t, "Clover", reopened.Pets()[0].Name)
}

func TestStore_ResetForNewGameSavesImmediately(t *testing.T) {
	f := newFixture(t, time.Hour)
	require.NoError(t, f.store.Load())
	require.NoError(t, f.store.AddCoins(500))
	require.NoError(t, f.store.Flush())

	require.NoError(t, f.store.ResetForNewGame())
	assert.Zero(t, f.store.Coins())

	blob, err := f.slots.ReadPrimary()
	require.NoError(t, err)
	got, err := f.codec.Decode(blob)
	require.NoError(t, err)
	assert.Zero(t, got.Coins, "reset reaches disk without waiting for debounce")
}

func TestStore_MutationBeforeLoadFails(t *testing.T) {
	f := newFixture(t, time.Minute)
	err := f.store.AddCoins(1)
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}
