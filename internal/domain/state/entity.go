package state

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// Experience needed per level. Level is derived from total experience,
// so the two cannot drift apart through partial writes.
const experiencePerLevel = 1000

// Display name bounds.
const (
	displayNameMinLen = 1
	displayNameMaxLen = 24
)

// Pet is one owned pet.
type Pet struct {
	ID        string    `json:"id"`
	Species   string    `json:"species"`
	Name      string    `json:"name"`
	Level     int64     `json:"level"`
	Bond      float64   `json:"bond"`
	AdoptedAt time.Time `json:"adopted_at"`
}

// Settings holds the persisted player preference flags.
type Settings struct {
	Sound         bool `json:"sound"`
	Notifications bool `json:"notifications"`
	Haptics       bool `json:"haptics"`
}

// PersistedState is the full durable player state. Collections are kept
// sorted so serialization is canonical.
type PersistedState struct {
	PlayerID     string
	DisplayName  string
	Coins        int64
	Experience   int64
	DayCounter   int64
	Settings     Settings
	Pets         []Pet
	Items        []string
	Achievements []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// New creates a fresh state for a first run.
func New(playerID string) *PersistedState {
	now := time.Now().UTC()
	return &PersistedState{
		PlayerID:    playerID,
		DisplayName: "Player",
		Coins:       0,
		Experience:  0,
		DayCounter:  1,
		Settings: Settings{
			Sound:         true,
			Notifications: true,
			Haptics:       true,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Level is derived from total experience, starting at 1.
func (s *PersistedState) Level() int64 {
	return 1 + s.Experience/experiencePerLevel
}

// Outcome describes the result of a guarded mutation.
//
// Rejected means the mutation was dropped and the prior value retained.
// Flagged means the mutation was applied but looked like an outlier and
// should be surfaced to monitoring. Both carry Reason.
type Outcome struct {
	Field    string
	Rejected bool
	Flagged  bool
	Reason   string
}

// Applied reports whether the mutation took effect.
func (o Outcome) Applied() bool { return !o.Rejected }

func applied(field string) Outcome {
	return Outcome{Field: field}
}

func rejected(field, format string, args ...interface{}) Outcome {
	return Outcome{Field: field, Rejected: true, Reason: fmt.Sprintf(format, args...)}
}

func flagged(field, format string, args ...interface{}) Outcome {
	return Outcome{Field: field, Flagged: true, Reason: fmt.Sprintf(format, args...)}
}

func (s *PersistedState) touch() {
	s.UpdatedAt = time.Now().UTC()
}

// ═══════════════════════════════════════════════════════════════════════════
// Currency
// ═══════════════════════════════════════════════════════════════════════════

// SetCoins sets the absolute coin balance. Decreases are rejected; only
// SpendCoins and ResetForNewGame may lower the balance.
func (s *PersistedState) SetCoins(value, outlierDelta int64) Outcome {
	if value < 0 {
		return rejected("coins", "negative balance %d", value)
	}
	if value < s.Coins {
		return rejected("coins", "decrease from %d to %d", s.Coins, value)
	}
	delta := value - s.Coins
	s.Coins = value
	s.touch()
	if outlierDelta > 0 && delta > outlierDelta {
		return flagged("coins", "single update delta %d exceeds threshold %d", delta, outlierDelta)
	}
	return applied("coins")
}

// AddCoins credits amount to the balance.
func (s *PersistedState) AddCoins(amount, outlierDelta int64) Outcome {
	if amount < 0 {
		return rejected("coins", "negative credit %d", amount)
	}
	// A wrapped balance would go negative and fail its own invariant.
	if amount > math.MaxInt64-s.Coins {
		return rejected("coins", "credit %d overflows balance %d", amount, s.Coins)
	}
	s.Coins += amount
	s.touch()
	if outlierDelta > 0 && amount > outlierDelta {
		return flagged("coins", "single credit %d exceeds threshold %d", amount, outlierDelta)
	}
	return applied("coins")
}

// SpendCoins is the explicit validated decrease path for currency.
func (s *PersistedState) SpendCoins(amount int64) Outcome {
	if amount <= 0 {
		return rejected("coins", "non-positive spend %d", amount)
	}
	if amount > s.Coins {
		return rejected("coins", "spend %d exceeds balance %d", amount, s.Coins)
	}
	s.Coins -= amount
	s.touch()
	return applied("coins")
}

// ═══════════════════════════════════════════════════════════════════════════
// Progression
// ═══════════════════════════════════════════════════════════════════════════

// AddExperience credits experience. Level is derived, so it can only
// grow with it.
func (s *PersistedState) AddExperience(amount, outlierDelta int64) Outcome {
	if amount < 0 {
		return rejected("experience", "negative credit %d", amount)
	}
	if amount > math.MaxInt64-s.Experience {
		return rejected("experience", "credit %d overflows total %d", amount, s.Experience)
	}
	s.Experience += amount
	s.touch()
	if outlierDelta > 0 && amount > outlierDelta {
		return flagged("experience", "single credit %d exceeds threshold %d", amount, outlierDelta)
	}
	return applied("experience")
}

// SetExperience sets total experience; decreases are rejected.
func (s *PersistedState) SetExperience(value, outlierDelta int64) Outcome {
	if value < 0 {
		return rejected("experience", "negative value %d", value)
	}
	if value < s.Experience {
		return rejected("experience", "decrease from %d to %d", s.Experience, value)
	}
	delta := value - s.Experience
	s.Experience = value
	s.touch()
	if outlierDelta > 0 && delta > outlierDelta {
		return flagged("experience", "single update delta %d exceeds threshold %d", delta, outlierDelta)
	}
	return applied("experience")
}

// AdvanceDay moves the day counter forward by one.
func (s *PersistedState) AdvanceDay() Outcome {
	s.DayCounter++
	s.touch()
	return applied("day_counter")
}

// SetDayCounter sets the day counter; decreases are rejected.
func (s *PersistedState) SetDayCounter(value int64) Outcome {
	if value < s.DayCounter {
		return rejected("day_counter", "decrease from %d to %d", s.DayCounter, value)
	}
	s.DayCounter = value
	s.touch()
	return applied("day_counter")
}

// ═══════════════════════════════════════════════════════════════════════════
// Identity & settings
// ═══════════════════════════════════════════════════════════════════════════

// SetDisplayName validates and sets the display name.
func (s *PersistedState) SetDisplayName(name string) Outcome {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < displayNameMinLen || n > displayNameMaxLen {
		return rejected("display_name", "length %d outside [%d,%d]", n, displayNameMinLen, displayNameMaxLen)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return rejected("display_name", "control character in name")
		}
	}
	s.DisplayName = name
	s.touch()
	return applied("display_name")
}

// UpdateSettings replaces the settings flags. Always valid.
func (s *PersistedState) UpdateSettings(settings Settings) Outcome {
	s.Settings = settings
	s.touch()
	return applied("settings")
}

// ═══════════════════════════════════════════════════════════════════════════
// Pets
// ═══════════════════════════════════════════════════════════════════════════

func (s *PersistedState) petIndex(id string) int {
	for i := range s.Pets {
		if s.Pets[i].ID == id {
			return i
		}
	}
	return -1
}

func validatePet(p Pet) string {
	switch {
	case p.ID == "":
		return "empty pet id"
	case p.Species == "":
		return "empty species"
	case p.Level < 0:
		return "negative level"
	case p.Bond < 0 || p.Bond > 1:
		return "bond outside [0,1]"
	default:
		return ""
	}
}

// AddPet adds a pet to the owned collection.
func (s *PersistedState) AddPet(p Pet) Outcome {
	if reason := validatePet(p); reason != "" {
		return rejected("pets", "%s", reason)
	}
	if s.petIndex(p.ID) >= 0 {
		return rejected("pets", "pet %s already owned", p.ID)
	}
	s.Pets = append(s.Pets, p)
	sort.Slice(s.Pets, func(i, j int) bool { return s.Pets[i].ID < s.Pets[j].ID })
	s.touch()
	return applied("pets")
}

// RemovePet removes a pet from the owned collection.
func (s *PersistedState) RemovePet(id string) Outcome {
	i := s.petIndex(id)
	if i < 0 {
		return rejected("pets", "pet %s not owned", id)
	}
	s.Pets = append(s.Pets[:i], s.Pets[i+1:]...)
	s.touch()
	return applied("pets")
}

// UpdatePet replaces an owned pet. Pet level is monotonic like the
// player counters.
func (s *PersistedState) UpdatePet(p Pet) Outcome {
	if reason := validatePet(p); reason != "" {
		return rejected("pets", "%s", reason)
	}
	i := s.petIndex(p.ID)
	if i < 0 {
		return rejected("pets", "pet %s not owned", p.ID)
	}
	if p.Level < s.Pets[i].Level {
		return rejected("pets", "pet %s level decrease from %d to %d", p.ID, s.Pets[i].Level, p.Level)
	}
	s.Pets[i] = p
	s.touch()
	return applied("pets")
}

// ═══════════════════════════════════════════════════════════════════════════
// Items & achievements
// ═══════════════════════════════════════════════════════════════════════════

func insertSorted(set []string, id string) ([]string, bool) {
	i := sort.SearchStrings(set, id)
	if i < len(set) && set[i] == id {
		return set, false
	}
	set = append(set, "")
	copy(set[i+1:], set[i:])
	set[i] = id
	return set, true
}

func removeSorted(set []string, id string) ([]string, bool) {
	i := sort.SearchStrings(set, id)
	if i >= len(set) || set[i] != id {
		return set, false
	}
	return append(set[:i], set[i+1:]...), true
}

// AddItem adds an item id to the owned set. Adding an owned item is a
// no-op, not an error.
func (s *PersistedState) AddItem(id string) Outcome {
	if id == "" {
		return rejected("items", "empty item id")
	}
	s.Items, _ = insertSorted(s.Items, id)
	s.touch()
	return applied("items")
}

// RemoveItem removes an item id from the owned set.
func (s *PersistedState) RemoveItem(id string) Outcome {
	var ok bool
	s.Items, ok = removeSorted(s.Items, id)
	if !ok {
		return rejected("items", "item %s not owned", id)
	}
	s.touch()
	return applied("items")
}

// HasItem reports whether the item is owned.
func (s *PersistedState) HasItem(id string) bool {
	i := sort.SearchStrings(s.Items, id)
	return i < len(s.Items) && s.Items[i] == id
}

// AddAchievement records an achievement. Achievements are never removed.
func (s *PersistedState) AddAchievement(id string) Outcome {
	if id == "" {
		return rejected("achievements", "empty achievement id")
	}
	s.Achievements, _ = insertSorted(s.Achievements, id)
	s.touch()
	return applied("achievements")
}

// ═══════════════════════════════════════════════════════════════════════════
// Reset
// ═══════════════════════════════════════════════════════════════════════════

// ResetForNewGame is the explicit validated reset path: it is the only
// way monotonic counters go back to their initial values. Identity is
// kept so the backend can correlate the reset.
func (s *PersistedState) ResetForNewGame() {
	created := s.CreatedAt
	id := s.PlayerID
	name := s.DisplayName
	*s = *New(id)
	s.CreatedAt = created
	s.DisplayName = name
}

// Clone returns a deep copy, used to snapshot state for serialization
// outside the store lock.
func (s *PersistedState) Clone() *PersistedState {
	c := *s
	c.Pets = append([]Pet(nil), s.Pets...)
	c.Items = append([]string(nil), s.Items...)
	c.Achievements = append([]string(nil), s.Achievements...)
	return &c
}
