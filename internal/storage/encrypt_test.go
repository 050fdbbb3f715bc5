package storage

import (
	"bytes"
	"errors"
	"testing"
)

func TestValidateEncryptionConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     EncryptionConfig
		wantErr error
	}{
		{
			name: "disabled",
			cfg:  EncryptionConfig{},
		},
		{
			name: "valid key",
			cfg:  EncryptionConfig{Key: bytes.Repeat([]byte{1}, 32)},
		},
		{
			name:    "key too short",
			cfg:     EncryptionConfig{Key: []byte("short")},
			wantErr: ErrKeyTooShort,
		},
		{
			name: "valid passphrase",
			cfg:  EncryptionConfig{Passphrase: []byte("correct horse battery")},
		},
		{
			name:    "passphrase too weak",
			cfg:     EncryptionConfig{Passphrase: []byte("weak")},
			wantErr: ErrPassphraseTooWeak,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEncryptionConfig(tt.cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateEncryptionConfig() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEncryptionConfig_Enabled(t *testing.T) {
	if (EncryptionConfig{}).Enabled() {
		t.Error("empty config should not report enabled")
	}
	if !(EncryptionConfig{Key: []byte("0123456789abcdef")}).Enabled() {
		t.Error("config with key should report enabled")
	}
	if !(EncryptionConfig{Passphrase: []byte("passphrase")}).Enabled() {
		t.Error("config with passphrase should report enabled")
	}
}

func TestNewCipherSet_Disabled(t *testing.T) {
	set, err := NewCipherSet(EncryptionConfig{})
	if err != nil {
		t.Fatalf("NewCipherSet() error = %v", err)
	}
	if set.WAL != nil || set.Objects != nil {
		t.Error("disabled config should yield nil ciphers")
	}
}

func TestNewCipherSet_FromKey(t *testing.T) {
	key := bytes.Repeat([]byte{0x21}, 32)
	keyCopy := append([]byte(nil), key...)

	set, err := NewCipherSet(EncryptionConfig{Key: key})
	if err != nil {
		t.Fatalf("NewCipherSet() error = %v", err)
	}
	if set.WAL == nil || set.Objects == nil {
		t.Fatal("ciphers should be configured")
	}

	// The caller's key must survive cipher construction.
	if !bytes.Equal(key, keyCopy) {
		t.Error("NewCipherSet must not zero the caller's key")
	}

	// WAL and object subkeys differ: a WAL ciphertext must not decrypt
	// under the objects cipher.
	ct, err := set.WAL.Encrypt([]byte("payload"), nil)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := set.Objects.Decrypt(ct, nil); err == nil {
		t.Error("object cipher decrypted WAL ciphertext; subkeys not separated")
	}
	pt, err := set.WAL.Decrypt(ct, nil)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(pt, []byte("payload")) {
		t.Errorf("Decrypt() = %q, want %q", pt, "payload")
	}
}

func TestNewCipherSet_FromPassphrase(t *testing.T) {
	cfg := EncryptionConfig{Passphrase: []byte("a strong passphrase")}

	set, err := NewCipherSet(cfg)
	if err != nil {
		t.Fatalf("NewCipherSet() error = %v", err)
	}
	if set.WAL == nil || set.Objects == nil {
		t.Fatal("ciphers should be configured")
	}
	if len(set.Salt) != SaltLength {
		t.Fatalf("Salt length = %d, want %d", len(set.Salt), SaltLength)
	}

	// The same passphrase and salt reproduce the same ciphers.
	cfg.Salt = set.Salt
	set2, err := NewCipherSet(cfg)
	if err != nil {
		t.Fatalf("NewCipherSet() with salt error = %v", err)
	}
	ct, err := set.WAL.Encrypt([]byte("stable"), nil)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	pt, err := set2.WAL.Decrypt(ct, nil)
	if err != nil {
		t.Fatalf("Decrypt() with re-derived cipher error = %v", err)
	}
	if !bytes.Equal(pt, []byte("stable")) {
		t.Errorf("Decrypt() = %q, want %q", pt, "stable")
	}
}

func TestNewCipherSet_ChaCha20(t *testing.T) {
	set, err := NewCipherSet(EncryptionConfig{
		Key:       bytes.Repeat([]byte{0x33}, 32),
		Algorithm: "chacha20-poly1305",
	})
	if err != nil {
		t.Fatalf("NewCipherSet() error = %v", err)
	}
	ct, err := set.Objects.Encrypt([]byte("data"), nil)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	pt, err := set.Objects.Decrypt(ct, nil)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(pt, []byte("data")) {
		t.Errorf("Decrypt() = %q, want %q", pt, "data")
	}
}

func TestNewCipherSet_UnknownAlgorithm(t *testing.T) {
	_, err := NewCipherSet(EncryptionConfig{
		Key:       bytes.Repeat([]byte{0x44}, 32),
		Algorithm: "rot13",
	})
	if err == nil {
		t.Error("unknown algorithm should fail")
	}
}

func TestDeriveKeyFromPassphrase(t *testing.T) {
	passphrase := []byte("a strong passphrase")

	first, err := DeriveKeyFromPassphrase(passphrase, nil)
	if err != nil {
		t.Fatalf("DeriveKeyFromPassphrase() error = %v", err)
	}
	salt, key, err := ExtractKeyFromDerived(first)
	if err != nil {
		t.Fatalf("ExtractKeyFromDerived() error = %v", err)
	}
	if len(salt) != SaltLength || len(key) != argon2KeyLen {
		t.Fatalf("salt/key lengths = %d/%d", len(salt), len(key))
	}

	// Same salt yields the same key.
	second, err := DeriveKeyFromPassphrase(passphrase, salt)
	if err != nil {
		t.Fatalf("DeriveKeyFromPassphrase() with salt error = %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("derivation with the same salt should be deterministic")
	}

	// A fresh salt yields a different key.
	third, err := DeriveKeyFromPassphrase(passphrase, nil)
	if err != nil {
		t.Fatalf("DeriveKeyFromPassphrase() error = %v", err)
	}
	if bytes.Equal(first, third) {
		t.Error("derivation with a fresh salt should differ")
	}
}

func TestDeriveSubkey(t *testing.T) {
	master := bytes.Repeat([]byte{0x55}, 32)

	a, err := DeriveSubkey(master, "purpose-a", 32)
	if err != nil {
		t.Fatalf("DeriveSubkey() error = %v", err)
	}
	b, err := DeriveSubkey(master, "purpose-b", 32)
	if err != nil {
		t.Fatalf("DeriveSubkey() error = %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("different info strings should yield different subkeys")
	}

	again, err := DeriveSubkey(master, "purpose-a", 32)
	if err != nil {
		t.Fatalf("DeriveSubkey() error = %v", err)
	}
	if !bytes.Equal(a, again) {
		t.Error("subkey derivation should be deterministic")
	}

	if _, err := DeriveSubkey([]byte("short"), "x", 32); !errors.Is(err, ErrKeyTooShort) {
		t.Errorf("short master error = %v, want ErrKeyTooShort", err)
	}
}

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey(32)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if len(key) != 32 {
		t.Errorf("key length = %d, want 32", len(key))
	}

	other, err := GenerateKey(32)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if bytes.Equal(key, other) {
		t.Error("two generated keys should differ")
	}

	if _, err := GenerateKey(8); !errors.Is(err, ErrKeyTooShort) {
		t.Errorf("GenerateKey(8) error = %v, want ErrKeyTooShort", err)
	}
}

func TestZeroKey(t *testing.T) {
	key := []byte{1, 2, 3, 4}
	ZeroKey(key)
	for i, b := range key {
		if b != 0 {
			t.Errorf("key[%d] = %d, want 0", i, b)
		}
	}
}
