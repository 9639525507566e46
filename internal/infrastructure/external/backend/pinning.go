package backend

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/pocketpaws/securecore/internal/domain/shared"
	"github.com/pocketpaws/securecore/pkg/crypto"
)

// PinCertificate returns the pin digest of a DER-encoded certificate,
// the value that belongs in the pinned hash allow-list.
func PinCertificate(der []byte) string {
	return crypto.HashHex(der)
}

// newPinnedTLSConfig builds a TLS config that accepts only leaf
// certificates whose digest is in the allow-list. Chain verification
// against the system roots is replaced entirely: a corporate MITM proxy
// with a locally trusted root still fails the pin.
func newPinnedTLSConfig(pinnedHashes []string) *tls.Config {
	allowed := make(map[string]struct{}, len(pinnedHashes))
	for _, h := range pinnedHashes {
		allowed[h] = struct{}{}
	}

	return &tls.Config{
		// Chain verification is intentionally skipped; the pin check in
		// VerifyPeerCertificate is the trust decision.
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return fmt.Errorf("%w: no certificate presented", shared.ErrCertificateRejected)
			}
			pin := PinCertificate(rawCerts[0])
			if _, ok := allowed[pin]; !ok {
				return fmt.Errorf("%w: leaf pin %s not in allow-list", shared.ErrCertificateRejected, pin)
			}
			return nil
		},
	}
}
