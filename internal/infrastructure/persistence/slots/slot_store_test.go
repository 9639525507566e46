package slots

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), "state.dat", "state.bak", nil)
	require.NoError(t, err)
	return s
}

func TestStore_WriteBothAndReadBack(t *testing.T) {
	s := newTestStore(t)

	blob := []byte("encrypted-blob")
	require.NoError(t, s.WriteBoth(blob))

	p, err := s.ReadPrimary()
	require.NoError(t, err)
	assert.Equal(t, blob, p)

	b, err := s.ReadBackup()
	require.NoError(t, err)
	assert.Equal(t, blob, b)
}

func TestStore_MissingSlots(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ReadPrimary()
	assert.ErrorIs(t, err, ErrSlotMissing)

	_, err = s.ReadBackup()
	assert.ErrorIs(t, err, ErrSlotMissing)

	assert.ErrorIs(t, s.PromoteBackup(), ErrSlotMissing)
}

func TestStore_PromoteBackupReplacesPrimary(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WriteBoth([]byte("good")))

	// Corrupt the primary on disk, the way a torn write or an editor
	// would.
	require.NoError(t, os.WriteFile(s.primaryPath, []byte("garbage"), 0o600))

	require.NoError(t, s.PromoteBackup())

	p, err := s.ReadPrimary()
	require.NoError(t, err)
	assert.Equal(t, []byte("good"), p)
}

func TestStore_AtomicWriteLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.WriteBoth([]byte(strings.Repeat("x", 1024*(i+1)))))
	}

	entries, err := os.ReadDir(s.dir)
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
		assert.NotContains(t, e.Name(), ".tmp-", "temp files must not survive a write")
	}
	assert.ElementsMatch(t, []string{"state.dat", "state.bak"}, names)
}

func TestStore_OverwriteKeepsLatest(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WriteBoth([]byte("v1")))
	require.NoError(t, s.WriteBoth([]byte("v2")))

	p, err := s.ReadPrimary()
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), p)
}

func TestNewStore_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "save")
	_, err := NewStore(dir, "a", "b", nil)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
