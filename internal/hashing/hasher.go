package hashing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"

	"sms-bridge/internal/config"
)

var ErrInvalidHash = errors.New("invalid hash format")

// base32Alphabet is the token character set: A-Z and 2-7, SMS-safe and
// case-stable across handsets.
const base32Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher derives challenge tokens and hashes credentials for durable backup.
type Hasher struct {
	secret []byte
	params Argon2Params
}

func NewHasher(cfg *config.Config) *Hasher {
	return &Hasher{
		secret: []byte(cfg.Bridge.HMACSecret),
		params: Argon2Params{
			Memory:      64 * 1024,
			Iterations:  3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
	}
}

// ChallengeToken derives a token from the mobile number and issuance
// timestamp: Base32(HMAC-SHA256(mobile || ts, secret)) truncated to length.
// Unpredictable without the server key, deterministic given the inputs.
func (h *Hasher) ChallengeToken(mobile string, issuedAt time.Time, length int) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(mobile))
	mac.Write([]byte(issuedAt.UTC().Format(time.RFC3339Nano)))
	digest := mac.Sum(nil)

	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(digest)
	if length > len(encoded) {
		length = len(encoded)
	}
	return strings.ToUpper(encoded[:length])
}

// Sign returns the hex HMAC-SHA256 of payload under the server key. Used to
// authenticate recovery batches posted to the external backend.
func (h *Hasher) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidTokenFormat reports whether a token has the expected length and stays
// within the Base32 alphabet.
func ValidTokenFormat(token string, length int) bool {
	if len(token) != length {
		return false
	}
	for _, r := range token {
		if !strings.ContainsRune(base32Alphabet, r) {
			return false
		}
	}
	return true
}

// TokensEqual compares tokens in constant time.
func TokensEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// HashPIN hashes a submitted PIN with argon2id for the durable backup table.
// The plaintext PIN only ever transits the sync queue.
func (h *Hasher) HashPIN(pin string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(pin), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Iterations,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
	return encoded, nil
}

// VerifyPIN checks a PIN against an encoded argon2id hash.
func (h *Hasher) VerifyPIN(pin, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, ErrInvalidHash
	}
	if version != argon2.Version {
		return false, fmt.Errorf("%w: argon2 version %d", ErrInvalidHash, version)
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, ErrInvalidHash
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, ErrInvalidHash
	}

	key := argon2.IDKey([]byte(pin), salt, iterations, memory, parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}
