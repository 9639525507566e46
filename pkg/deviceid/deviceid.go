// Package deviceid resolves a best-effort hardware fingerprint for the
// current device. The fingerprint seeds key derivation, so it must be
// stable across launches on the same device.
//
// On mobile platforms Go cannot read the platform identifier directly;
// the host app passes ANDROID_ID / identifierForVendor through the
// override parameter instead.
package deviceid

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

// ErrUnavailable is returned when no platform identifier could be read
// and no override was supplied.
var ErrUnavailable = errors.New("no device identifier available")

// Fingerprint returns a stable device identifier. Resolution order:
// explicit override from the host app, then a platform probe, then a
// random identifier persisted under fallbackDir.
func Fingerprint(override, fallbackDir string) (string, error) {
	if override != "" {
		return override, nil
	}

	if id, err := platformID(); err == nil && id != "" {
		return id, nil
	}

	if fallbackDir == "" {
		return "", ErrUnavailable
	}
	return persistedFallback(fallbackDir)
}

func platformID() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		return darwinUUID()
	case "linux", "android":
		return linuxUUID()
	case "windows":
		return windowsUUID()
	default:
		return "", ErrUnavailable
	}
}

func darwinUUID() (string, error) {
	out, err := exec.Command("ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, "IOPlatformUUID") {
			continue
		}
		parts := strings.Split(line, "\"")
		if len(parts) >= 4 {
			return parts[3], nil
		}
	}
	return "", ErrUnavailable
}

func linuxUUID() (string, error) {
	for _, path := range []string{
		"/sys/class/dmi/id/product_uuid",
		"/etc/machine-id",
		"/var/lib/dbus/machine-id",
	} {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}
	return "", ErrUnavailable
}

func windowsUUID() (string, error) {
	out, err := exec.Command("wmic", "csproduct", "get", "UUID").Output()
	if err != nil {
		return "", err
	}
	for _, line := range bytes.Split(out, []byte("\n")) {
		str := strings.TrimSpace(string(line))
		if str != "" && !strings.EqualFold(str, "UUID") {
			return str, nil
		}
	}
	return "", ErrUnavailable
}

// persistedFallback generates a random identifier once and reuses it on
// later launches. Weaker than a hardware id (a wipe re-keys the
// install), but keeps the derivation chain intact on platforms with no
// readable identifier.
func persistedFallback(dir string) (string, error) {
	path := filepath.Join(dir, "device.id")

	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id := uuid.NewString()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return "", err
	}
	return id, nil
}
