// Package protect implements guarded in-memory scalars. Each value keeps
// a redundant shadow copy plus a checksum over value and type tag;
// memory editors that patch one copy leave the triple inconsistent,
// which reads detect and repair.
package protect

import (
	"fmt"
	"sync"

	"lukechampine.com/blake3"
)

// Scalar is the set of types a protected value can guard.
type Scalar interface {
	~int64 | ~float64 | ~bool
}

// Value is a guarded scalar. The zero value is not usable; construct
// with New.
type Value[T Scalar] struct {
	mu     sync.Mutex
	value  T
	shadow T
	sum    [32]byte
}

// checksum binds the value to its type, so reinterpreting the same bytes
// as another scalar type still fails validation.
func checksum[T Scalar](v T) [32]byte {
	return blake3.Sum256([]byte(fmt.Sprintf("%v|%T", v, v)))
}

// New creates a protected value holding initial.
func New[T Scalar](initial T) *Value[T] {
	return &Value[T]{
		value:  initial,
		shadow: initial,
		sum:    checksum(initial),
	}
}

// Get validates the triple and returns the current value. When
// validation fails it restores consistency from the shadow copy first
// and reports ok=false; the corrupted primary copy is never returned.
func (p *Value[T]) Get() (value T, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.validateLocked() {
		return p.value, true
	}
	p.restoreLocked()
	return p.value, false
}

// Set atomically rewrites value, shadow and checksum together.
func (p *Value[T]) Set(v T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.value = v
	p.shadow = v
	p.sum = checksum(v)
}

// Validate reports whether value, shadow and checksum are consistent.
func (p *Value[T]) Validate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.validateLocked()
}

// Restore repairs the triple from the shadow copy. Best-effort: if the
// shadow itself was patched, the patched value wins, but the triple is
// consistent again and later mutations proceed normally.
func (p *Value[T]) Restore() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restoreLocked()
}

func (p *Value[T]) validateLocked() bool {
	return p.value == p.shadow && p.sum == checksum(p.value)
}

func (p *Value[T]) restoreLocked() {
	p.value = p.shadow
	p.sum = checksum(p.shadow)
}
