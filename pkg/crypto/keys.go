package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/hkdf"
)

// HKDF context strings. Distinct info values keep the state key and the
// signing secret independent even though they share inputs.
const (
	infoStateKey      = "securecore/state-key/v1"
	infoSigningSecret = "securecore/signing-secret/v1"
)

const installSecretSize = 32

// DeriveStateKey derives the AES-256 save-file key from the device
// fingerprint, the build identifier and the per-install secret. No
// literal key material is compiled into the binary; a save copied to
// another device or another build will not decrypt.
func DeriveStateKey(fingerprint, buildID string, installSecret []byte) ([]byte, error) {
	return derive(fingerprint, buildID, installSecret, infoStateKey, KeySize)
}

// DeriveSigningSecret derives the HMAC secret used to sign outbound
// requests from the same inputs as the state key.
func DeriveSigningSecret(fingerprint, buildID string, installSecret []byte) ([]byte, error) {
	return derive(fingerprint, buildID, installSecret, infoSigningSecret, KeySize)
}

func derive(fingerprint, buildID string, installSecret []byte, info string, n int) ([]byte, error) {
	if fingerprint == "" {
		return nil, fmt.Errorf("derive %s: empty device fingerprint", info)
	}
	if len(installSecret) == 0 {
		return nil, fmt.Errorf("derive %s: empty install secret", info)
	}

	ikm := make([]byte, 0, len(fingerprint)+len(buildID)+len(installSecret))
	ikm = append(ikm, fingerprint...)
	ikm = append(ikm, buildID...)
	ikm = append(ikm, installSecret...)

	h := hkdf.New(sha256.New, ikm, nil, []byte(info))
	out := make([]byte, n)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, fmt.Errorf("derive %s: %w", info, err)
	}
	return out, nil
}

// LoadOrCreateInstallSecret reads the per-install random secret from
// path, creating it on first run. The file lives outside the save slots
// so wiping the saves does not re-key the install.
func LoadOrCreateInstallSecret(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != installSecretSize {
			return nil, fmt.Errorf("install secret %s: unexpected size %d", path, len(data))
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read install secret: %w", err)
	}

	secret := MustRandom(installSecretSize)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create secret dir: %w", err)
	}
	if err := os.WriteFile(path, secret, 0o600); err != nil {
		return nil, fmt.Errorf("write install secret: %w", err)
	}
	return secret, nil
}
