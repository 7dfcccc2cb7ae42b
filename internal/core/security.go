// AngelaMos | 2026
// security.go

package core

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

var ErrMalformedHash = errors.New("malformed password hash")

type argonParams struct {
	Memory  uint32
	Time    uint32
	Threads uint8
	KeyLen  uint32
	SaltLen int
}

var passwordParams = argonParams{
	Memory:  64 * 1024,
	Time:    1,
	Threads: 4,
	KeyLen:  32,
	SaltLen: 16,
}

const phcFormat = "$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s"

// HashPassword encodes password as an argon2id PHC string.
func HashPassword(password string) (string, error) {
	p := passwordParams
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, p.KeyLen)

	return fmt.Sprintf(phcFormat,
		argon2.Version, p.Memory, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// CheckPassword reports whether password matches the encoded hash, using
// the parameters stored in the hash.
func CheckPassword(password, encoded string) (bool, error) {
	head, saltB64, keyB64, ok := splitPHC(encoded)
	if !ok {
		return false, ErrMalformedHash
	}

	var (
		version int
		p       argonParams
	)
	if _, err := fmt.Sscanf(head, "$argon2id$v=%d$m=%d,t=%d,p=%d",
		&version, &p.Memory, &p.Time, &p.Threads); err != nil {
		return false, fmt.Errorf("%w: %w", ErrMalformedHash, err)
	}
	if version != argon2.Version {
		return false, fmt.Errorf("%w: argon2 version %d", ErrMalformedHash, version)
	}

	saltRaw, err := base64.RawStdEncoding.DecodeString(saltB64)
	if err != nil {
		return false, fmt.Errorf("%w: salt: %w", ErrMalformedHash, err)
	}
	want, err := base64.RawStdEncoding.DecodeString(keyB64)
	if err != nil {
		return false, fmt.Errorf("%w: key: %w", ErrMalformedHash, err)
	}

	//nolint:gosec // G115: argon2 keys are 32 bytes
	got := argon2.IDKey([]byte(password), saltRaw, p.Time, p.Memory, p.Threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}

func splitPHC(encoded string) (head, salt, key string, ok bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return "", "", "", false
	}
	return strings.Join(parts[:4], "$"), parts[4], parts[5], true
}

var decoyHash = sync.OnceValue(func() string {
	h, err := HashPassword("quotachat-decoy")
	if err != nil {
		panic(fmt.Sprintf("security: decoy hash: %v", err))
	}
	return h
})

// CheckPasswordConstantTime always pays for one argon2 derivation, so a
// login for an unknown email costs the same as a wrong password. An empty
// encoded hash never matches.
func CheckPasswordConstantTime(password, encoded string) bool {
	if encoded == "" {
		_, _ = CheckPassword(password, decoyHash()) //nolint:errcheck // timing only
		return false
	}
	ok, err := CheckPassword(password, encoded)
	return err == nil && ok
}

// NewOpaqueToken returns 32 random bytes, base64url encoded.
func NewOpaqueToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read token bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken is the at-rest form of an opaque token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// SignPayload returns the lowercase hex HMAC-SHA256 of payload under secret.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPayloadSignature compares signature against the expected HMAC in
// constant time. Signatures are compared as received; no case folding.
func VerifyPayloadSignature(secret string, payload []byte, signature string) bool {
	expected := SignPayload(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
