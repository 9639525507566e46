package statestore

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pocketpaws/securecore/internal/domain/shared"
	"github.com/pocketpaws/securecore/internal/domain/state"
	"github.com/pocketpaws/securecore/internal/infrastructure/persistence/slots"
)

// Load sources reported through DataLoaded events.
const (
	SourcePrimary = "primary"
	SourceBackup  = "backup"
	SourceFresh   = "fresh"
)

// Config contains the store's dependencies and tunables.
type Config struct {
	// Codec seals and opens slot blobs.
	Codec *Codec

	// Slots is the dual-slot file store.
	Slots *slots.Store

	// Bus receives DataLoaded/DataSaved/SecurityWarning events.
	Bus shared.EventBus

	// Logger for structured logging.
	Logger *slog.Logger

	// SaveDebounce coalesces mutation bursts into one write.
	SaveDebounce time.Duration

	// Outlier thresholds; zero disables flagging for that field.
	CoinsOutlierDelta      int64
	ExperienceOutlierDelta int64

	// NewPlayerID generates the identity for a fresh state. Defaults to
	// uuid.NewString.
	NewPlayerID func() string
}

// Store is the validated state store. All methods are safe for
// concurrent use; saves are strictly serialized end-to-end.
type Store struct {
	mu     sync.Mutex
	st     *state.PersistedState
	timer  *time.Timer
	closed bool

	// saveMu serializes the encode+write pipeline. A save requested
	// while one is in flight waits for completion rather than
	// interleaving slot writes.
	saveMu sync.Mutex

	codec        *Codec
	slots        *slots.Store
	bus          shared.EventBus
	logger       *slog.Logger
	debounce     time.Duration
	coinsOutlier int64
	xpOutlier    int64
	newPlayerID  func() string
}

// NewStore creates a Store. Call Load before using the accessors.
func NewStore(cfg Config) *Store {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SaveDebounce <= 0 {
		cfg.SaveDebounce = 5 * time.Second
	}
	if cfg.NewPlayerID == nil {
		cfg.NewPlayerID = uuid.NewString
	}

	return &Store{
		codec:        cfg.Codec,
		slots:        cfg.Slots,
		bus:          cfg.Bus,
		logger:       cfg.Logger,
		debounce:     cfg.SaveDebounce,
		coinsOutlier: cfg.CoinsOutlierDelta,
		xpOutlier:    cfg.ExperienceOutlierDelta,
		newPlayerID:  cfg.NewPlayerID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Load / save pipeline
// ═══════════════════════════════════════════════════════════════════════════

// Load reads the primary slot, falls back to the backup (promoting it on
// success), and reinitializes fresh state when both fail integrity. The
// outcome is published as a DataLoaded event; double failure is preceded
// by a SecurityWarning.
func (s *Store) Load() error {
	primary, primaryErr := s.readSlot(s.slots.ReadPrimary)
	if primaryErr == nil {
		s.install(primary, SourcePrimary)
		return nil
	}
	firstRun := errors.Is(primaryErr, slots.ErrSlotMissing)
	if !firstRun {
		s.logger.Warn("primary slot rejected", "error", primaryErr)
	}

	backup, backupErr := s.readSlot(s.slots.ReadBackup)
	if backupErr == nil {
		if err := s.slots.PromoteBackup(); err != nil {
			s.logger.Error("backup promotion failed", "error", err)
		}
		s.install(backup, SourceBackup)
		return nil
	}
	firstRun = firstRun && errors.Is(backupErr, slots.ErrSlotMissing)

	if !firstRun {
		s.logger.Error("both slots rejected, reinitializing",
			"primary_error", primaryErr,
			"backup_error", backupErr,
		)
		s.publish(shared.NewSecurityWarningEvent("", "save", "integrity check failed on both slots", false))
	}

	fresh := state.New(s.newPlayerID())
	s.install(fresh, SourceFresh)
	return nil
}

func (s *Store) readSlot(read func() ([]byte, error)) (*state.PersistedState, error) {
	blob, err := read()
	if err != nil {
		return nil, err
	}
	return s.codec.Decode(blob)
}

func (s *Store) install(st *state.PersistedState, source string) {
	s.mu.Lock()
	s.st = st
	s.mu.Unlock()

	s.logger.Info("state loaded", "source", source, "player_id", st.PlayerID)
	s.publish(shared.NewDataLoadedEvent(st.PlayerID, source))
}

// Save writes the current state to both slots immediately, bypassing the
// debounce window. Pause/terminate paths call this through Flush.
func (s *Store) Save() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if s.st == nil {
		s.mu.Unlock()
		return shared.NewDomainError("state", "Save", shared.ErrInvalidState, "store not loaded")
	}
	s.stopTimerLocked()
	snap := s.st.Clone()
	s.mu.Unlock()

	start := time.Now()
	blob, err := s.codec.Encode(snap)
	if err != nil {
		return shared.WrapError("state", "Save", shared.ErrInvalidState, "encode failed", err)
	}
	if err := s.slots.WriteBoth(blob); err != nil {
		return shared.WrapError("state", "Save", shared.ErrExternalService, "slot write failed", err)
	}

	s.logger.Debug("state saved", "bytes", len(blob), "duration", time.Since(start))
	s.publish(shared.NewDataSavedEvent(snap.PlayerID, len(blob), time.Since(start)))
	return nil
}

// Flush forces any pending debounced save to disk now.
func (s *Store) Flush() error {
	return s.Save()
}

// Close flushes pending changes and stops the debounce timer. The store
// rejects mutations afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	hasState := s.st != nil
	s.stopTimerLocked()
	s.mu.Unlock()

	if hasState {
		return s.Save()
	}
	return nil
}

// scheduleSave arms the debounce timer. Bursts of mutations inside the
// window coalesce into the single already-armed timer; the write lands
// debounce after the first mutation, not the last.
func (s *Store) scheduleSave() {
	if s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		if err := s.Save(); err != nil {
			s.logger.Error("debounced save failed", "error", err)
		}
	})
}

func (s *Store) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Store) publish(event shared.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(event); err != nil {
		s.logger.Error("event publish failed", "event_type", event.EventType(), "error", err)
	}
}

// mutate runs fn under the lock and converts its Outcome into events,
// scheduling a save when the mutation applied.
func (s *Store) mutate(op string, fn func(st *state.PersistedState) state.Outcome) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return shared.NewDomainError("state", op, shared.ErrClosed, "store closed")
	}
	if s.st == nil {
		s.mu.Unlock()
		return shared.NewDomainError("state", op, shared.ErrInvalidState, "store not loaded")
	}

	out := fn(s.st)
	playerID := s.st.PlayerID
	if out.Applied() {
		s.scheduleSave()
	}
	s.mu.Unlock()

	if out.Rejected {
		s.logger.Warn("mutation rejected", "op", op, "field", out.Field, "reason", out.Reason)
		s.publish(shared.NewSecurityWarningEvent(playerID, out.Field, out.Reason, true))
		return shared.NewDomainError("state", op, shared.ErrValidation, out.Reason)
	}
	if out.Flagged {
		s.logger.Warn("mutation flagged", "op", op, "field", out.Field, "reason", out.Reason)
		s.publish(shared.NewSecurityWarningEvent(playerID, out.Field, out.Reason, false))
	}
	return nil
}

// read runs fn under the lock.
func (s *Store) read(fn func(st *state.PersistedState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st != nil {
		fn(s.st)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Validated accessors
// ═══════════════════════════════════════════════════════════════════════════

// Coins returns the current coin balance.
func (s *Store) Coins() int64 {
	var v int64
	s.read(func(st *state.PersistedState) { v = st.Coins })
	return v
}

// SetCoins sets the absolute balance; decreases are rejected.
func (s *Store) SetCoins(value int64) error {
	return s.mutate("SetCoins", func(st *state.PersistedState) state.Outcome {
		return st.SetCoins(value, s.coinsOutlier)
	})
}

// AddCoins credits coins.
func (s *Store) AddCoins(amount int64) error {
	return s.mutate("AddCoins", func(st *state.PersistedState) state.Outcome {
		return st.AddCoins(amount, s.coinsOutlier)
	})
}

// SpendCoins debits coins through the explicit validated decrease path.
func (s *Store) SpendCoins(amount int64) error {
	return s.mutate("SpendCoins", func(st *state.PersistedState) state.Outcome {
		return st.SpendCoins(amount)
	})
}

// Level returns the derived level.
func (s *Store) Level() int64 {
	var v int64
	s.read(func(st *state.PersistedState) { v = st.Level() })
	return v
}

// Experience returns total experience.
func (s *Store) Experience() int64 {
	var v int64
	s.read(func(st *state.PersistedState) { v = st.Experience })
	return v
}

// AddExperience credits experience.
func (s *Store) AddExperience(amount int64) error {
	return s.mutate("AddExperience", func(st *state.PersistedState) state.Outcome {
		return st.AddExperience(amount, s.xpOutlier)
	})
}

// DayCounter returns the day counter.
func (s *Store) DayCounter() int64 {
	var v int64
	s.read(func(st *state.PersistedState) { v = st.DayCounter })
	return v
}

// AdvanceDay moves the day counter forward.
func (s *Store) AdvanceDay() error {
	return s.mutate("AdvanceDay", func(st *state.PersistedState) state.Outcome {
		return st.AdvanceDay()
	})
}

// DisplayName returns the display name.
func (s *Store) DisplayName() string {
	var v string
	s.read(func(st *state.PersistedState) { v = st.DisplayName })
	return v
}

// SetDisplayName validates and sets the display name.
func (s *Store) SetDisplayName(name string) error {
	return s.mutate("SetDisplayName", func(st *state.PersistedState) state.Outcome {
		return st.SetDisplayName(name)
	})
}

// Settings returns a copy of the settings flags.
func (s *Store) Settings() state.Settings {
	var v state.Settings
	s.read(func(st *state.PersistedState) { v = st.Settings })
	return v
}

// UpdateSettings replaces the settings flags.
func (s *Store) UpdateSettings(settings state.Settings) error {
	return s.mutate("UpdateSettings", func(st *state.PersistedState) state.Outcome {
		return st.UpdateSettings(settings)
	})
}

// Pets returns a copy of the owned pets.
func (s *Store) Pets() []state.Pet {
	var v []state.Pet
	s.read(func(st *state.PersistedState) { v = append([]state.Pet(nil), st.Pets...) })
	return v
}

// AddPet adds a pet.
func (s *Store) AddPet(p state.Pet) error {
	return s.mutate("AddPet", func(st *state.PersistedState) state.Outcome {
		return st.AddPet(p)
	})
}

// RemovePet removes a pet.
func (s *Store) RemovePet(id string) error {
	return s.mutate("RemovePet", func(st *state.PersistedState) state.Outcome {
		return st.RemovePet(id)
	})
}

// UpdatePet replaces an owned pet.
func (s *Store) UpdatePet(p state.Pet) error {
	return s.mutate("UpdatePet", func(st *state.PersistedState) state.Outcome {
		return st.UpdatePet(p)
	})
}

// Items returns a copy of the owned item ids.
func (s *Store) Items() []string {
	var v []string
	s.read(func(st *state.PersistedState) { v = append([]string(nil), st.Items...) })
	return v
}

// AddItem adds an item id to the owned set.
func (s *Store) AddItem(id string) error {
	return s.mutate("AddItem", func(st *state.PersistedState) state.Outcome {
		return st.AddItem(id)
	})
}

// RemoveItem removes an item id.
func (s *Store) RemoveItem(id string) error {
	return s.mutate("RemoveItem", func(st *state.PersistedState) state.Outcome {
		return st.RemoveItem(id)
	})
}

// Achievements returns a copy of the achievement ids.
func (s *Store) Achievements() []string {
	var v []string
	s.read(func(st *state.PersistedState) { v = append([]string(nil), st.Achievements...) })
	return v
}

// AddAchievement records an achievement.
func (s *Store) AddAchievement(id string) error {
	return s.mutate("AddAchievement", func(st *state.PersistedState) state.Outcome {
		return st.AddAchievement(id)
	})
}

// PlayerID returns the player identity.
func (s *Store) PlayerID() string {
	var v string
	s.read(func(st *state.PersistedState) { v = st.PlayerID })
	return v
}

// ResetForNewGame runs the explicit validated reset path and saves
// immediately.
func (s *Store) ResetForNewGame() error {
	if err := s.mutate("ResetForNewGame", func(st *state.PersistedState) state.Outcome {
		st.ResetForNewGame()
		return state.Outcome{Field: "state"}
	}); err != nil {
		return err
	}
	return s.Save()
}
