// Package slots implements the durable storage for player state: a
// (primary, backup) pair of files, each holding one encrypted blob.
//
// Write ordering is primary-before-backup, so a crash mid-save leaves at
// worst a stale-but-intact backup. Individual writes are atomic
// (write-to-temp, fsync, rename); a reader never observes a partially
// written slot.
package slots

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrSlotMissing is returned when a slot file does not exist yet.
var ErrSlotMissing = errors.New("slot file missing")

// Store owns the two slot files. Only the validated state store writes
// through it.
type Store struct {
	dir         string
	primaryPath string
	backupPath  string
	logger      *slog.Logger
}

// NewStore creates the slot directory if needed and returns a Store.
func NewStore(dir, primaryFile, backupFile string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create slot dir: %w", err)
	}
	return &Store{
		dir:         dir,
		primaryPath: filepath.Join(dir, primaryFile),
		backupPath:  filepath.Join(dir, backupFile),
		logger:      logger,
	}, nil
}

// ReadPrimary returns the primary slot's blob.
func (s *Store) ReadPrimary() ([]byte, error) {
	return s.read(s.primaryPath)
}

// ReadBackup returns the backup slot's blob.
func (s *Store) ReadBackup() ([]byte, error) {
	return s.read(s.backupPath)
}

func (s *Store) read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSlotMissing, filepath.Base(path))
		}
		return nil, fmt.Errorf("read slot: %w", err)
	}
	return data, nil
}

// WriteBoth writes the blob to the primary slot, then to the backup
// slot. If the backup write fails the primary still holds the new save.
func (s *Store) WriteBoth(blob []byte) error {
	if err := s.writeAtomic(s.primaryPath, blob); err != nil {
		return fmt.Errorf("write primary: %w", err)
	}
	if err := s.writeAtomic(s.backupPath, blob); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	return nil
}

// PromoteBackup atomically replaces the primary slot with the backup's
// current bytes. Used after the primary failed its integrity check.
func (s *Store) PromoteBackup() error {
	blob, err := s.ReadBackup()
	if err != nil {
		return err
	}
	if err := s.writeAtomic(s.primaryPath, blob); err != nil {
		return fmt.Errorf("promote backup: %w", err)
	}
	s.logger.Warn("backup slot promoted to primary")
	return nil
}

// writeAtomic writes blob to path via a temp file in the same directory
// so the final rename is atomic on POSIX filesystems.
func (s *Store) writeAtomic(path string, blob []byte) error {
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp: %w", err)
	}
	return nil
}
