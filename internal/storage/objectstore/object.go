package objectstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/arbitrary-number/qumap-go/internal/core/domain"
	"github.com/arbitrary-number/qumap-go/pkg/crypto/adaptive"
)

// Envelope flags.
const (
	FlagCompressed uint8 = 1 << 0
	FlagEncrypted  uint8 = 1 << 1
)

// Compression defaults.
const (
	// DefaultCompressThreshold is the payload size above which
	// compression kicks in (1KB).
	DefaultCompressThreshold = 1024

	// DefaultCompressLevel matches zlib's default balance.
	DefaultCompressLevel = 6
)

// Object is the durable form of a map entry.
type Object struct {
	EntryID      string           `json:"id"`
	ValueType    domain.ValueType `json:"type"`
	Flags        uint8            `json:"flags"`
	RawSize      int              `json:"raw_size"`
	Payload      []byte           `json:"payload"`
	Address      []byte           `json:"address"`
	Verification uint64           `json:"verification"`
	CreatedAt    int64            `json:"created_at"`
	ModifiedAt   int64            `json:"modified_at"`
}

// Codec encodes entries to durable envelopes and back.
type Codec struct {
	threshold int
	level     int
	cipher    adaptive.Cipher
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithCompressThreshold sets the minimum payload size for compression.
func WithCompressThreshold(n int) CodecOption {
	return func(c *Codec) {
		if n > 0 {
			c.threshold = n
		}
	}
}

// WithCompressLevel sets the zlib compression level (1-9, 0 disables).
func WithCompressLevel(level int) CodecOption {
	return func(c *Codec) {
		c.level = level
	}
}

// WithCipher sets the payload cipher.
func WithCipher(cipher adaptive.Cipher) CodecOption {
	return func(c *Codec) {
		c.cipher = cipher
	}
}

// NewCodec creates a Codec.
func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{
		threshold: DefaultCompressThreshold,
		level:     DefaultCompressLevel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode converts an entry into its serialized envelope. The payload
// is compressed when it crosses the threshold and then encrypted when
// a cipher is configured, in that order.
func (c *Codec) Encode(e *domain.Entry) ([]byte, error) {
	payload := e.Value.Data
	var flags uint8
	rawSize := len(payload)

	if c.level != 0 && rawSize >= c.threshold {
		compressed, err := c.compress(payload)
		if err != nil {
			return nil, fmt.Errorf("objectstore: compress: %w", err)
		}
		// Keep the raw payload when compression does not pay off.
		if len(compressed) < rawSize {
			payload = compressed
			flags |= FlagCompressed
		}
	}

	if c.cipher != nil {
		encrypted, err := c.cipher.Encrypt(payload, e.Key)
		if err != nil {
			return nil, fmt.Errorf("objectstore: encrypt: %w", err)
		}
		payload = encrypted
		flags |= FlagEncrypted
	}

	obj := Object{
		EntryID:      e.ID,
		ValueType:    e.Value.Type,
		Flags:        flags,
		RawSize:      rawSize,
		Payload:      payload,
		Address:      e.Address.Address[:],
		Verification: e.Address.Verification,
		CreatedAt:    e.CreatedAt,
		ModifiedAt:   e.ModifiedAt,
	}

	data, err := json.Marshal(&obj)
	if err != nil {
		return nil, fmt.Errorf("objectstore: marshal: %w", err)
	}
	return data, nil
}

// Decode reconstructs an entry from its serialized envelope. The key
// is supplied by the caller since it doubles as the storage key.
func (c *Codec) Decode(key, data []byte) (*domain.Entry, error) {
	var obj Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("objectstore: unmarshal: %w", err)
	}

	payload := obj.Payload

	if obj.Flags&FlagEncrypted != 0 {
		if c.cipher == nil {
			return nil, fmt.Errorf("objectstore: encrypted object requires cipher")
		}
		plain, err := c.cipher.Decrypt(payload, key)
		if err != nil {
			return nil, fmt.Errorf("objectstore: decrypt: %w", err)
		}
		payload = plain
	}

	if obj.Flags&FlagCompressed != 0 {
		raw, err := c.decompress(payload, obj.RawSize)
		if err != nil {
			return nil, fmt.Errorf("objectstore: decompress: %w", err)
		}
		payload = raw
	}

	if len(payload) != obj.RawSize {
		return nil, fmt.Errorf("objectstore: payload size %d, want %d", len(payload), obj.RawSize)
	}

	var addr domain.BucketAddress
	if len(obj.Address) == domain.AddressSize {
		copy(addr.Address[:], obj.Address)
	}
	addr.Verification = obj.Verification

	k := make([]byte, len(key))
	copy(k, key)

	return &domain.Entry{
		ID:         obj.EntryID,
		Key:        k,
		Value:      domain.Value{Data: payload, Type: obj.ValueType},
		Address:    addr,
		CreatedAt:  obj.CreatedAt,
		ModifiedAt: obj.ModifiedAt,
	}, nil
}

func (c *Codec) compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Codec) decompress(data []byte, rawSize int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	out := bytes.NewBuffer(make([]byte, 0, rawSize))
	if _, err := io.Copy(out, zr); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
