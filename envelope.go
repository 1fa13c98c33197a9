package gtdlog

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// KeySize is the size in bytes of the derived AEAD key (SHA-256 output size).
const KeySize = 32

// passwordSalt is fixed and public; it exists only to separate this
// application's key space from other uses of the same password, not to add
// secrecy.
var passwordSalt = [16]byte{
	0xf8, 0x99, 0x8a, 0x8c, 0x2a, 0x3a, 0x94, 0x08,
	0x61, 0x83, 0x0a, 0x4d, 0xab, 0x62, 0xfe, 0x46,
}

// DeriveKey derives the 256-bit AEAD key from a password: SHA-256 over a
// fixed 16-byte salt concatenated with the UTF-8 password.
func DeriveKey(password string) [KeySize]byte {
	h := sha256.New()
	h.Write(passwordSalt[:])
	h.Write([]byte(password))
	var key [KeySize]byte
	copy(key[:], h.Sum(nil))
	return key
}

// Envelope encrypts and decrypts individual log records under a single
// derived key. It holds no other state and is safe for concurrent use.
type Envelope struct {
	key [KeySize]byte
}

// NewEnvelope builds an Envelope bound to an already-derived key.
func NewEnvelope(key [KeySize]byte) *Envelope {
	return &Envelope{key: key}
}

// formatAuthData builds the AEAD associated data bound into every record:
// "<replica_id> <offset>". Any record copied into a different replica file
// or a different offset fails authentication.
func formatAuthData(replicaID string, offset int64) []byte {
	return []byte(fmt.Sprintf("%s %d", replicaID, offset))
}

// generateIV builds the 8-byte nonce: a 60-bit value
// packed into the high 60 bits of a 64-bit big-endian integer, partitioned
// as [32 bits UTC seconds][10 bits milliseconds][18 bits random].
func generateIV(now time.Time) ([8]byte, error) {
	sec := uint64(uint32(now.Unix()))
	msec := uint64(now.Nanosecond()/1e6) & 0x3ff

	var rb [4]byte
	if _, err := rand.Read(rb[:]); err != nil {
		return [8]byte{}, fmt.Errorf("gtdlog: generate iv: %w", err)
	}
	r := uint64(binary.LittleEndian.Uint32(rb[:])) & 0x3ffff

	raw := (sec << 28) | (msec << 18) | r
	raw <<= 4 // align the 60-bit value into the high bits of the 64-bit word

	var out [8]byte
	binary.BigEndian.PutUint64(out[:], raw)
	return out, nil
}

// encodeIV renders the 8-byte nonce as the 10-character token used in
// records. Because the low 4 bits are always zero, the final base64 sextet
// is always 'A'; it and the trailing '=' padding are dropped.
func encodeIV(iv [8]byte) string {
	full := base64.StdEncoding.EncodeToString(iv[:]) // 12 chars, 1 '=' pad
	return full[:10]
}

// decodeIV restores the padding and the elided trailing sextet.
func decodeIV(encoded string) ([8]byte, error) {
	var out [8]byte
	if len(encoded) != 10 {
		return out, fmt.Errorf("gtdlog: %w: bad iv length %d", ErrParse, len(encoded))
	}
	b, err := base64.StdEncoding.DecodeString(encoded + "A=")
	if err != nil {
		return out, fmt.Errorf("gtdlog: %w: decode iv: %v", ErrParse, err)
	}
	if len(b) != 8 {
		return out, fmt.Errorf("gtdlog: %w: decoded iv has %d bytes", ErrParse, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// Encrypt encodes plaintext into one log record line, ready to append.
func (e *Envelope) Encrypt(plaintext []byte, replicaID string, offset int64) (string, error) {
	iv, err := generateIV(time.Now())
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(e.key[:])
	if err != nil {
		return "", fmt.Errorf("gtdlog: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return "", fmt.Errorf("gtdlog: new gcm: %w", err)
	}

	ad := formatAuthData(replicaID, offset)
	sealed := gcm.Seal(nil, iv[:], plaintext, ad)
	tagStart := len(sealed) - gcm.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	return fmt.Sprintf("%s %s %s\n",
		encodeIV(iv),
		base64.RawStdEncoding.EncodeToString(tag),
		base64.RawStdEncoding.EncodeToString(ciphertext),
	), nil
}

// Decrypt authenticates and decodes a record line produced by Encrypt.
// Returns ErrAuth if the record fails authentication under this key and
// (replicaID, offset) pair — a fatal, non-recoverable condition for that
// record under this key.
func (e *Envelope) Decrypt(line string, replicaID string, offset int64) ([]byte, error) {
	fields := strings.SplitN(strings.TrimSuffix(line, "\n"), " ", 3)
	if len(fields) != 3 {
		return nil, fmt.Errorf("gtdlog: %w: malformed record", ErrParse)
	}

	iv, err := decodeIV(fields[0])
	if err != nil {
		return nil, err
	}
	tag, err := base64.RawStdEncoding.DecodeString(fields[1])
	if err != nil {
		return nil, fmt.Errorf("gtdlog: %w: decode tag: %v", ErrParse, err)
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(fields[2])
	if err != nil {
		return nil, fmt.Errorf("gtdlog: %w: decode ciphertext: %v", ErrParse, err)
	}

	block, err := aes.NewCipher(e.key[:])
	if err != nil {
		return nil, fmt.Errorf("gtdlog: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return nil, fmt.Errorf("gtdlog: new gcm: %w", err)
	}

	ad := formatAuthData(replicaID, offset)
	sealed := append(append([]byte(nil), ciphertext...), tag...)
	plaintext, err := gcm.Open(nil, iv[:], sealed, ad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	return plaintext, nil
}

// ExtractTime is a pure function of the embedded IV; it needs no key and is
// used only as a secondary sort key during replay.
func ExtractTime(line string) (float64, error) {
	idx := strings.IndexByte(line, ' ')
	if idx != 10 {
		return 0, fmt.Errorf("gtdlog: %w: malformed record", ErrParse)
	}
	iv, err := decodeIV(line[:10])
	if err != nil {
		return 0, err
	}

	raw := binary.BigEndian.Uint64(iv[:]) >> 4
	raw >>= 18 // strip the random bits
	msec := raw & 0x3ff
	sec := raw >> 10

	return float64(sec) + float64(msec)/1000, nil
}
