package integrity

import (
	"fmt"
	"sync"
	"time"

	"github.com/pocketpaws/securecore/internal/domain/shared"
)

// clockWatch compares wall-clock progress against the monotonic clock.
// A user moving the device clock shifts the wall reading but not the
// monotonic one, so the ratio of their deltas leaves the accepted band.
type clockWatch struct {
	mu       sync.Mutex
	wallNow  func() time.Time
	monoNow  func() time.Duration
	ratioMin float64
	ratioMax float64

	wallRef time.Time
	monoRef time.Duration
	primed  bool
}

func newClockWatch(wallNow func() time.Time, monoNow func() time.Duration, ratioMin, ratioMax float64) *clockWatch {
	if wallNow == nil {
		// Round(0) strips the monotonic reading, so Sub measures the
		// wall clock the user can manipulate.
		wallNow = func() time.Time { return time.Now().Round(0) }
	}
	if monoNow == nil {
		start := time.Now()
		monoNow = func() time.Duration { return time.Since(start) }
	}
	return &clockWatch{
		wallNow:  wallNow,
		monoNow:  monoNow,
		ratioMin: ratioMin,
		ratioMax: ratioMax,
	}
}

// check samples both clocks and reports drift. References reset on every
// sample, so a single manipulation fires once and the watch re-arms.
func (c *clockWatch) check(report func(shared.TamperKind, string, string)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := c.wallNow()
	mono := c.monoNow()

	if !c.primed {
		c.primed = true
		c.wallRef, c.monoRef = wall, mono
		return
	}

	wallDelta := wall.Sub(c.wallRef)
	monoDelta := mono - c.monoRef
	c.wallRef, c.monoRef = wall, mono

	// The monotonic clock cannot legitimately run backwards.
	if monoDelta < 0 {
		report(shared.TamperTimeManipulation, "clock",
			fmt.Sprintf("monotonic clock moved backwards by %s", -monoDelta))
		return
	}
	if monoDelta == 0 {
		return
	}

	if wallDelta < 0 {
		report(shared.TamperTimeManipulation, "clock",
			fmt.Sprintf("wall clock moved backwards by %s", -wallDelta))
		return
	}

	ratio := float64(wallDelta) / float64(monoDelta)
	if ratio < c.ratioMin || ratio > c.ratioMax {
		report(shared.TamperTimeManipulation, "clock",
			fmt.Sprintf("wall/monotonic drift ratio %.2f outside [%.2f, %.2f]", ratio, c.ratioMin, c.ratioMax))
	}
}
