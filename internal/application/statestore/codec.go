// Package statestore implements the validated state store: the single
// owner of persisted player state. All gameplay mutations go through its
// validated accessors; persistence is debounced, redundant (primary +
// backup slot) and integrity-checked on every load.
package statestore

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/pocketpaws/securecore/internal/domain/shared"
	"github.com/pocketpaws/securecore/internal/domain/state"
	"github.com/pocketpaws/securecore/pkg/crypto"
)

// Canonical plaintext layout:
//
//	PPS1|ID:..|NAME:..|COINS:..|XP:..|DAY:..|FLAGS:..|ITEMS:..|ACH:..|CREATED:..|UPDATED:..|PETS:..|HASH:<hex>
//
// The digest covers everything before "|HASH:". Free-form values (name,
// collections) are base64-encoded so the field separator cannot be
// injected through player-controlled strings.
const (
	formatVersion = "PPS1"
	hashMarker    = "|HASH:"
)

// lz4 frame magic, little-endian. Compression sits between the
// digest-carrying plaintext and encryption, so the decoder can detect it
// after decrypting.
var lz4Magic = []byte{0x04, 0x22, 0x4d, 0x18}

var b64 = base64.RawStdEncoding

// Codec turns player state into encrypted slot blobs and back.
type Codec struct {
	key      []byte
	compress bool
}

// NewCodec creates a codec sealing with the given AES-256 key.
func NewCodec(key []byte, compress bool) *Codec {
	return &Codec{key: key, compress: compress}
}

// Encode serializes state to the canonical layout, appends the integrity
// digest, optionally compresses, and encrypts.
func (c *Codec) Encode(s *state.PersistedState) ([]byte, error) {
	plain, err := MarshalCanonical(s)
	if err != nil {
		return nil, err
	}

	payload := plain
	if c.compress {
		payload, err = compressLZ4(plain)
		if err != nil {
			return nil, fmt.Errorf("compress: %w", err)
		}
	}

	return crypto.Encrypt(payload, c.key)
}

// Decode decrypts a slot blob, decompresses if needed, verifies the
// integrity digest and parses the state. Digest mismatch returns
// shared.ErrIntegrityCheck; undecryptable input returns
// crypto.ErrDecryptionFailed.
func (c *Codec) Decode(blob []byte) (*state.PersistedState, error) {
	payload, err := crypto.Decrypt(blob, c.key)
	if err != nil {
		return nil, err
	}

	if bytes.HasPrefix(payload, lz4Magic) {
		payload, err = decompressLZ4(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4 frame: %v", shared.ErrIntegrityCheck, err)
		}
	}

	return UnmarshalCanonical(payload)
}

// MarshalCanonical produces the digest-carrying canonical plaintext.
func MarshalCanonical(s *state.PersistedState) ([]byte, error) {
	pets, err := json.Marshal(s.Pets)
	if err != nil {
		return nil, fmt.Errorf("marshal pets: %w", err)
	}
	items, err := json.Marshal(s.Items)
	if err != nil {
		return nil, fmt.Errorf("marshal items: %w", err)
	}
	ach, err := json.Marshal(s.Achievements)
	if err != nil {
		return nil, fmt.Errorf("marshal achievements: %w", err)
	}

	var b strings.Builder
	b.WriteString(formatVersion)
	fmt.Fprintf(&b, "|ID:%s", b64.EncodeToString([]byte(s.PlayerID)))
	fmt.Fprintf(&b, "|NAME:%s", b64.EncodeToString([]byte(s.DisplayName)))
	fmt.Fprintf(&b, "|COINS:%d", s.Coins)
	fmt.Fprintf(&b, "|XP:%d", s.Experience)
	fmt.Fprintf(&b, "|DAY:%d", s.DayCounter)
	fmt.Fprintf(&b, "|FLAGS:%s", flagsString(s.Settings))
	fmt.Fprintf(&b, "|ITEMS:%s", b64.EncodeToString(items))
	fmt.Fprintf(&b, "|ACH:%s", b64.EncodeToString(ach))
	fmt.Fprintf(&b, "|CREATED:%d", s.CreatedAt.Unix())
	fmt.Fprintf(&b, "|UPDATED:%d", s.UpdatedAt.Unix())
	fmt.Fprintf(&b, "|PETS:%s", b64.EncodeToString(pets))

	digest := crypto.HashHex([]byte(b.String()))
	fmt.Fprintf(&b, "%s%s", hashMarker, digest)

	return []byte(b.String()), nil
}

// UnmarshalCanonical verifies the digest of a canonical plaintext and
// parses it. The digest is recomputed and compared before any field is
// trusted.
func UnmarshalCanonical(plain []byte) (*state.PersistedState, error) {
	text := string(plain)

	idx := strings.LastIndex(text, hashMarker)
	if idx < 0 {
		return nil, fmt.Errorf("%w: digest marker missing", shared.ErrIntegrityCheck)
	}
	payload, digest := text[:idx], text[idx+len(hashMarker):]

	if crypto.HashHex([]byte(payload)) != digest {
		return nil, fmt.Errorf("%w: digest mismatch", shared.ErrIntegrityCheck)
	}

	fields := strings.Split(payload, "|")
	if len(fields) == 0 || fields[0] != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format", shared.ErrIntegrityCheck)
	}

	s := &state.PersistedState{}
	for _, field := range fields[1:] {
		key, value, ok := strings.Cut(field, ":")
		if !ok {
			return nil, fmt.Errorf("%w: malformed field %q", shared.ErrIntegrityCheck, field)
		}
		if err := applyField(s, key, value); err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", shared.ErrIntegrityCheck, key, err)
		}
	}
	if s.PlayerID == "" {
		return nil, fmt.Errorf("%w: missing player id", shared.ErrIntegrityCheck)
	}
	return s, nil
}

func applyField(s *state.PersistedState, key, value string) error {
	switch key {
	case "ID":
		raw, err := b64.DecodeString(value)
		if err != nil {
			return err
		}
		s.PlayerID = string(raw)
	case "NAME":
		raw, err := b64.DecodeString(value)
		if err != nil {
			return err
		}
		s.DisplayName = string(raw)
	case "COINS":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("bad coins %q", value)
		}
		s.Coins = n
	case "XP":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("bad experience %q", value)
		}
		s.Experience = n
	case "DAY":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("bad day counter %q", value)
		}
		s.DayCounter = n
	case "FLAGS":
		settings, err := parseFlags(value)
		if err != nil {
			return err
		}
		s.Settings = settings
	case "ITEMS":
		return decodeJSONField(value, &s.Items)
	case "ACH":
		return decodeJSONField(value, &s.Achievements)
	case "CREATED":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		s.CreatedAt = time.Unix(n, 0).UTC()
	case "UPDATED":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		s.UpdatedAt = time.Unix(n, 0).UTC()
	case "PETS":
		return decodeJSONField(value, &s.Pets)
	default:
		// Unknown fields are covered by the digest, so they came from a
		// newer writer; reject rather than silently drop them.
		return fmt.Errorf("unknown field %q", key)
	}
	return nil
}

func decodeJSONField(value string, dst interface{}) error {
	raw, err := b64.DecodeString(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func flagsString(s state.Settings) string {
	bit := func(b bool) byte {
		if b {
			return '1'
		}
		return '0'
	}
	return string([]byte{bit(s.Sound), bit(s.Notifications), bit(s.Haptics)})
}

func parseFlags(v string) (state.Settings, error) {
	if len(v) != 3 {
		return state.Settings{}, fmt.Errorf("bad flags %q", v)
	}
	for _, c := range v {
		if c != '0' && c != '1' {
			return state.Settings{}, fmt.Errorf("bad flags %q", v)
		}
	}
	return state.Settings{
		Sound:         v[0] == '1',
		Notifications: v[1] == '1',
		Haptics:       v[2] == '1',
	}, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressLZ4(data []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(data))
	return io.ReadAll(zr)
}
