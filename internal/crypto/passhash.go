// Package crypto implements server-side password hashing and verification.
package crypto

import (
	"crypto/rand"
	"errors"
	"strings"

	"github.com/alexedwards/argon2id"
	"golang.org/x/crypto/bcrypt"
)

// DefaultParams are the Argon2id parameters used for new hashes.
var DefaultParams = &argon2id.Params{
	Memory:      64 * 1024, // 64 MB
	Iterations:  3,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// ErrUnknownHashFormat is returned for encoded hashes that are neither Argon2id nor bcrypt.
var ErrUnknownHashFormat = errors.New("unknown password hash format")

// Hasher creates Argon2id hashes and verifies both Argon2id and legacy bcrypt hashes.
type Hasher struct {
	params *argon2id.Params
}

// NewHasher returns a Hasher using p, or DefaultParams when p is nil.
func NewHasher(p *argon2id.Params) *Hasher {
	if p == nil {
		p = DefaultParams
	}
	return &Hasher{params: p}
}

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// Hash returns the PHC-encoded Argon2id hash of password.
func (h *Hasher) Hash(password string) (string, error) {
	return argon2id.CreateHash(password, h.params)
}

// Verify reports whether password matches encoded.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	switch {
	case isArgon2id(encoded):
		return argon2id.ComparePasswordAndHash(password, encoded)
	case isBcrypt(encoded):
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, ErrUnknownHashFormat
	}
}

// NeedsRehash reports whether encoded should be replaced with a fresh hash
// after a successful verification.
func (h *Hasher) NeedsRehash(encoded string) bool {
	if !isArgon2id(encoded) {
		return true
	}
	p, _, _, err := argon2id.DecodeHash(encoded)
	if err != nil {
		return true
	}
	return p.Memory != h.params.Memory ||
		p.Iterations != h.params.Iterations ||
		p.Parallelism != h.params.Parallelism ||
		p.KeyLength != h.params.KeyLength
}

func isArgon2id(encoded string) bool {
	return strings.HasPrefix(encoded, "$argon2id$")
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}
