// Package biocrypt protects biometric templates at rest.
//
// Templates are sealed with XChaCha20-Poly1305 under a key derived from an
// operator passphrase with Argon2id. Every seal uses a fresh random nonce, so
// encrypting the same vector twice yields different ciphertext.
package biocrypt

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/kozaktomas/facegate/internal/failure"
)

const (
	// KeySize is the length of a template key in bytes.
	KeySize = chacha20poly1305.KeySize

	// SaltSize is the length of a key-derivation salt in bytes.
	SaltSize = 16
)

// Argon2id parameters (RFC 9106 second recommended option).
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// ErrEmptyPassphrase is returned when a passphrase is required but missing.
var ErrEmptyPassphrase = errors.New("passphrase cannot be empty")

// Encrypt seals plain under key. The output is nonce || ciphertext || tag.
func Encrypt(plain, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plain, nil), nil
}

// Decrypt opens a payload produced by Encrypt. A tampered payload or a wrong
// key fails with failure.KindAuthenticationFailure.
func Decrypt(sealed, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, failure.New(failure.KindAuthenticationFailure, "ciphertext too short")
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, failure.Wrap(err, failure.KindAuthenticationFailure, "ciphertext failed authentication")
	}
	return plain, nil
}

// Hash returns the hex-encoded SHA-256 digest of input.
func Hash(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the digest of input and compares it with digest in
// constant time.
func Verify(input []byte, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(Hash(input)), []byte(digest)) == 1
}

// DeriveKey stretches passphrase into a KeySize key. The result is stable for
// a given (passphrase, salt) pair and differs across salts.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, KeySize)
}

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// HashPassphrase creates a bcrypt hash of the passphrase for later verification.
func HashPassphrase(passphrase string) (string, error) {
	if passphrase == "" {
		return "", ErrEmptyPassphrase
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing passphrase: %w", err)
	}
	return string(hashed), nil
}

// VerifyPassphrase checks a passphrase against a bcrypt hash.
func VerifyPassphrase(passphrase, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(passphrase)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return failure.New(failure.KindAuthenticationFailure, "passphrase does not match")
		}
		return fmt.Errorf("verifying passphrase: %w", err)
	}
	return nil
}
