package protect

import (
	"errors"
	"sort"
	"sync"
)

// ErrNotRegistered is returned when a key has no protected value.
var ErrNotRegistered = errors.New("protected value not registered")

// ViolationFunc is invoked when a read finds an inconsistent triple. The
// value has already been restored by the time the callback runs.
type ViolationFunc func(key string)

// Registry holds named protected values for the three supported scalar
// kinds. All methods are safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	ints        map[string]*Value[int64]
	floats      map[string]*Value[float64]
	bools       map[string]*Value[bool]
	onViolation ViolationFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		ints:   make(map[string]*Value[int64]),
		floats: make(map[string]*Value[float64]),
		bools:  make(map[string]*Value[bool]),
	}
}

// OnViolation sets the tamper callback. Must be called before the
// registry is shared between goroutines.
func (r *Registry) OnViolation(fn ViolationFunc) {
	r.onViolation = fn
}

func (r *Registry) violated(key string) {
	if r.onViolation != nil {
		r.onViolation(key)
	}
}

// ProtectInt registers a guarded int64 under key, replacing any previous
// registration.
func (r *Registry) ProtectInt(key string, initial int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ints[key] = New(initial)
}

// Int returns the guarded int64 for key. A detected inconsistency is
// reported through the violation callback and the restored value is
// returned.
func (r *Registry) Int(key string) (int64, error) {
	r.mu.RLock()
	v, ok := r.ints[key]
	r.mu.RUnlock()
	if !ok {
		return 0, ErrNotRegistered
	}
	val, valid := v.Get()
	if !valid {
		r.violated(key)
	}
	return val, nil
}

// UpdateInt atomically rewrites the guarded int64 for key.
func (r *Registry) UpdateInt(key string, value int64) error {
	r.mu.RLock()
	v, ok := r.ints[key]
	r.mu.RUnlock()
	if !ok {
		return ErrNotRegistered
	}
	v.Set(value)
	return nil
}

// ProtectFloat registers a guarded float64 under key.
func (r *Registry) ProtectFloat(key string, initial float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.floats[key] = New(initial)
}

// Float returns the guarded float64 for key.
func (r *Registry) Float(key string) (float64, error) {
	r.mu.RLock()
	v, ok := r.floats[key]
	r.mu.RUnlock()
	if !ok {
		return 0, ErrNotRegistered
	}
	val, valid := v.Get()
	if !valid {
		r.violated(key)
	}
	return val, nil
}

// UpdateFloat atomically rewrites the guarded float64 for key.
func (r *Registry) UpdateFloat(key string, value float64) error {
	r.mu.RLock()
	v, ok := r.floats[key]
	r.mu.RUnlock()
	if !ok {
		return ErrNotRegistered
	}
	v.Set(value)
	return nil
}

// ProtectBool registers a guarded bool under key.
func (r *Registry) ProtectBool(key string, initial bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bools[key] = New(initial)
}

// Bool returns the guarded bool for key.
func (r *Registry) Bool(key string) (bool, error) {
	r.mu.RLock()
	v, ok := r.bools[key]
	r.mu.RUnlock()
	if !ok {
		return false, ErrNotRegistered
	}
	val, valid := v.Get()
	if !valid {
		r.violated(key)
	}
	return val, nil
}

// UpdateBool atomically rewrites the guarded bool for key.
func (r *Registry) UpdateBool(key string, value bool) error {
	r.mu.RLock()
	v, ok := r.bools[key]
	r.mu.RUnlock()
	if !ok {
		return ErrNotRegistered
	}
	v.Set(value)
	return nil
}

// Sweep validates every registered value and returns the keys that
// failed, after restoring them. Used by the periodic integrity check;
// sweep failures do not fire the violation callback, the caller decides
// how to report them.
func (r *Registry) Sweep() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var failed []string
	for k, v := range r.ints {
		if !v.Validate() {
			v.Restore()
			failed = append(failed, k)
		}
	}
	for k, v := range r.floats {
		if !v.Validate() {
			v.Restore()
			failed = append(failed, k)
		}
	}
	for k, v := range r.bools {
		if !v.Validate() {
			v.Restore()
			failed = append(failed, k)
		}
	}
	sort.Strings(failed)
	return failed
}

// Len returns the number of registered values.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ints) + len(r.floats) + len(r.bools)
}
