package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"lukechampine.com/blake3"
)

// DigestSize is the hash output length in bytes (256-bit).
const DigestSize = 32

// Hash returns the blake3-256 digest of data.
func Hash(data []byte) [DigestSize]byte {
	return blake3.Sum256(data)
}

// HashHex returns the blake3-256 digest of data as lowercase hex.
func HashHex(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Sign computes an HMAC-SHA256 over data with the given secret. Used to
// authenticate outbound requests.
func Sign(secret, data []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	return mac.Sum(nil)
}

// VerifySignature reports whether sig is a valid HMAC for data under
// secret, in constant time.
func VerifySignature(secret, data, sig []byte) bool {
	return hmac.Equal(Sign(secret, data), sig)
}
