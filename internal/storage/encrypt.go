package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/arbitrary-number/qumap-go/pkg/crypto/adaptive"
)

// Encryption errors.
var (
	ErrKeyTooShort       = errors.New("storage: encryption key too short (minimum 16 bytes)")
	ErrPassphraseTooWeak = errors.New("storage: passphrase too weak (minimum 8 characters)")
)

const (
	// MinKeyLength is the minimum key length for encryption.
	MinKeyLength = 16

	// MinPassphraseLength is the minimum passphrase length.
	MinPassphraseLength = 8

	// SaltLength is the fixed salt length used in key derivation.
	SaltLength = 16

	// Argon2 parameters for key derivation from passphrase.
	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
)

// HKDF info strings. Separate subkeys for the WAL and the object store
// mean a leaked segment file never exposes the object payload key.
const (
	subkeyInfoWAL     = "qumap/wal/v1"
	subkeyInfoObjects = "qumap/objects/v1"
)

// EncryptionConfig configures at-rest encryption for the WAL and the
// object store.
type EncryptionConfig struct {
	// Key is the raw master key (32 bytes recommended).
	// Either Key or Passphrase must be provided.
	Key []byte

	// Passphrase is used to derive the master key with Argon2id.
	// If provided, Key is ignored.
	Passphrase []byte

	// Salt is required to derive the same key on reopen. If nil, a new
	// random salt is generated; the caller must persist it.
	Salt []byte

	// Algorithm specifies the AEAD algorithm.
	// Supported: "aes-gcm" (default), "chacha20-poly1305".
	Algorithm string
}

// Enabled reports whether any key material is configured.
func (cfg EncryptionConfig) Enabled() bool {
	return len(cfg.Key) > 0 || len(cfg.Passphrase) > 0
}

// ValidateEncryptionConfig validates the encryption configuration.
func ValidateEncryptionConfig(cfg EncryptionConfig) error {
	if len(cfg.Passphrase) > 0 {
		if len(cfg.Passphrase) < MinPassphraseLength {
			return ErrPassphraseTooWeak
		}
		return nil
	}

	if len(cfg.Key) > 0 && len(cfg.Key) < MinKeyLength {
		return ErrKeyTooShort
	}

	return nil
}

// CipherSet holds the per-purpose ciphers derived from one master key.
type CipherSet struct {
	// WAL encrypts record values inside log segments.
	WAL adaptive.Cipher

	// Objects encrypts materialized object payloads.
	Objects adaptive.Cipher

	// Salt is the key-derivation salt. For passphrase-derived keys the
	// caller must persist it next to the data directory.
	Salt []byte
}

// NewCipherSet builds the WAL and object ciphers from the configuration.
// Returns a zero-value set with nil ciphers when encryption is disabled.
func NewCipherSet(cfg EncryptionConfig) (CipherSet, error) {
	var set CipherSet

	if err := ValidateEncryptionConfig(cfg); err != nil {
		return set, err
	}

	var master []byte
	switch {
	case len(cfg.Passphrase) > 0:
		derived, err := DeriveKeyFromPassphrase(cfg.Passphrase, cfg.Salt)
		if err != nil {
			return set, err
		}
		salt, key, err := ExtractKeyFromDerived(derived)
		if err != nil {
			return set, err
		}
		set.Salt = salt
		master = key
	case len(cfg.Key) > 0:
		// Work on a copy so zeroing does not clobber the caller's key.
		master = append([]byte(nil), cfg.Key...)
	default:
		return set, nil
	}
	defer ZeroKey(master)

	walKey, err := DeriveSubkey(master, subkeyInfoWAL, argon2KeyLen)
	if err != nil {
		return set, err
	}
	objKey, err := DeriveSubkey(master, subkeyInfoObjects, argon2KeyLen)
	if err != nil {
		return set, err
	}

	algo := cfg.Algorithm
	if algo == "" {
		algo = "aes-gcm"
	}

	newCipher := func(key []byte) (adaptive.Cipher, error) {
		switch algo {
		case "aes-gcm":
			return adaptive.NewAESGCM(key)
		case "chacha20-poly1305":
			return adaptive.NewChaCha20(key)
		default:
			return nil, fmt.Errorf("storage: unsupported algorithm: %s", algo)
		}
	}

	if set.WAL, err = newCipher(walKey); err != nil {
		return set, err
	}
	if set.Objects, err = newCipher(objKey); err != nil {
		return set, err
	}

	return set, nil
}

// DeriveKeyFromPassphrase derives a 32-byte key from a passphrase using
// Argon2id. If salt is nil, a new random salt is generated and prepended
// to the result.
func DeriveKeyFromPassphrase(passphrase []byte, salt []byte) ([]byte, error) {
	if salt == nil {
		salt = make([]byte, SaltLength)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("storage: derive key: %w", err)
		}
	}

	key := argon2.IDKey(
		passphrase,
		salt,
		argon2Time,
		argon2Memory,
		argon2Threads,
		argon2KeyLen,
	)

	// Prepend salt to key for storage.
	result := make([]byte, len(salt)+len(key))
	copy(result, salt)
	copy(result[len(salt):], key)
	return result, nil
}

// ExtractKeyFromDerived extracts the key from a derived key (salt+key format).
func ExtractKeyFromDerived(derived []byte) (salt, key []byte, err error) {
	if len(derived) < SaltLength+argon2KeyLen {
		return nil, nil, fmt.Errorf("storage: invalid derived key length")
	}
	return derived[:SaltLength], derived[SaltLength:], nil
}

// DeriveSubkey derives a subkey from a master key using HKDF.
func DeriveSubkey(masterKey []byte, info string, length int) ([]byte, error) {
	if len(masterKey) < MinKeyLength {
		return nil, ErrKeyTooShort
	}

	reader := hkdf.New(sha256.New, masterKey, nil, []byte(info))
	key := make([]byte, length)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("storage: derive subkey: %w", err)
	}
	return key, nil
}

// GenerateKey generates a random encryption key of the specified length.
func GenerateKey(length int) ([]byte, error) {
	if length < MinKeyLength {
		return nil, ErrKeyTooShort
	}

	key := make([]byte, length)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("storage: generate key: %w", err)
	}
	return key, nil
}

// ZeroKey securely zeros a key in memory.
func ZeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}
