package protect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_RoundTrip(t *testing.T) {
	v := New[int64](5)

	got, ok := v.Get()
	assert.True(t, ok)
	assert.EqualValues(t, 5, got)

	v.Set(42)
	got, ok = v.Get()
	assert.True(t, ok)
	assert.EqualValues(t, 42, got)
	assert.True(t, v.Validate())
}

func TestValue_ShadowTamperDetectedAndRestored(t *testing.T) {
	v := New[int64](5)

	// Simulate a memory editor patching the shadow copy.
	v.shadow = 7

	assert.False(t, v.Validate())

	// The read during the tampered window must not return the
	// inconsistent primary/shadow pair unrepaired: it restores from the
	// shadow and reports the violation.
	got, ok := v.Get()
	assert.False(t, ok)
	assert.EqualValues(t, 7, got)

	// Consistency is repaired; subsequent validation passes.
	assert.True(t, v.Validate())
	got, ok = v.Get()
	assert.True(t, ok)
	assert.EqualValues(t, 7, got)
}

func TestValue_PrimaryTamperRestoresShadow(t *testing.T) {
	v := New[int64](100)

	// Patch the primary copy only; the shadow still holds the original.
	v.value = 9999

	assert.False(t, v.Validate())

	got, ok := v.Get()
	assert.False(t, ok)
	assert.EqualValues(t, 100, got, "restore must come from the shadow copy")
	assert.True(t, v.Validate())
}

func TestValue_ChecksumBindsType(t *testing.T) {
	vi := New[int64](1)
	vb := New(true)

	assert.NotEqual(t, vi.sum, vb.sum)
}

func TestValue_FloatAndBool(t *testing.T) {
	f := New(3.5)
	got, ok := f.Get()
	assert.True(t, ok)
	assert.Equal(t, 3.5, got)

	b := New(false)
	b.Set(true)
	bv, ok := b.Get()
	assert.True(t, ok)
	assert.True(t, bv)
}

func TestRegistry_ProtectAndUpdate(t *testing.T) {
	r := NewRegistry()
	r.ProtectInt("coins", 100)
	r.ProtectFloat("bond", 0.5)
	r.ProtectBool("premium", false)

	assert.Equal(t, 3, r.Len())

	coins, err := r.Int("coins")
	require.NoError(t, err)
	assert.EqualValues(t, 100, coins)

	require.NoError(t, r.UpdateInt("coins", 150))
	coins, err = r.Int("coins")
	require.NoError(t, err)
	assert.EqualValues(t, 150, coins)

	_, err = r.Int("missing")
	assert.ErrorIs(t, err, ErrNotRegistered)
	assert.ErrorIs(t, r.UpdateBool("missing", true), ErrNotRegistered)
}

func TestRegistry_ViolationCallbackFires(t *testing.T) {
	r := NewRegistry()
	r.ProtectInt("coins", 100)

	var violations []string
	r.OnViolation(func(key string) { violations = append(violations, key) })

	// Corrupt the underlying triple directly.
	r.ints["coins"].value = 9999

	got, err := r.Int("coins")
	require.NoError(t, err)
	assert.EqualValues(t, 100, got)
	assert.Equal(t, []string{"coins"}, violations)

	// Repaired: a second read is clean and fires nothing.
	_, err = r.Int("coins")
	require.NoError(t, err)
	assert.Len(t, violations, 1)
}

func TestRegistry_SweepFindsAndRepairs(t *testing.T) {
	r := NewRegistry()
	r.ProtectInt("coins", 10)
	r.ProtectInt("level", 3)
	r.ProtectBool("premium", true)

	r.ints["coins"].value = 777
	r.bools["premium"].shadow = false

	failed := r.Sweep()
	assert.Equal(t, []string{"coins", "premium"}, failed)

	// Everything is consistent again.
	assert.Empty(t, r.Sweep())
}
