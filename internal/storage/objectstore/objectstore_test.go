package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/arbitrary-number/qumap-go/internal/core/domain"
	"github.com/arbitrary-number/qumap-go/pkg/crypto/adaptive"
)

func testEntry(t *testing.T, key string, data []byte) *domain.Entry {
	t.Helper()
	v, err := domain.NewValue(data, domain.ValueTypeBinary)
	if err != nil {
		t.Fatalf("NewValue() error = %v", err)
	}
	var addr domain.BucketAddress
	copy(addr.Address[:], bytes.Repeat([]byte(key[:1]), domain.AddressSize))
	addr.Verification = uint64(len(key))
	e, err := domain.NewEntry([]byte(key), v, addr)
	if err != nil {
		t.Fatalf("NewEntry() error = %v", err)
	}
	return e
}

func TestCodec_RoundTrip(t *testing.T) {
	c := NewCodec()
	e := testEntry(t, "alpha", []byte("small payload"))

	data, err := c.Encode(e)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	got, err := c.Decode(e.Key, data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.ID != e.ID {
		t.Errorf("ID = %q, want %q", got.ID, e.ID)
	}
	if !bytes.Equal(got.Value.Data, e.Value.Data) {
		t.Errorf("Value = %q, want %q", got.Value.Data, e.Value.Data)
	}
	if got.Value.Type != e.Value.Type {
		t.Errorf("Type = %v, want %v", got.Value.Type, e.Value.Type)
	}
	if !got.Address.Equal(e.Address) {
		t.Error("Address should round-trip")
	}
	if got.CreatedAt != e.CreatedAt || got.ModifiedAt != e.ModifiedAt {
		t.Error("timestamps should round-trip")
	}
}

func TestCodec_Compression(t *testing.T) {
	c := NewCodec(WithCompressThreshold(64))

	// Repetitive payload above threshold compresses well.
	payload := bytes.Repeat([]byte("abcdefgh"), 64)
	e := testEntry(t, "big", payload)

	data, err := c.Encode(e)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(data) >= len(payload) {
		t.Errorf("envelope size %d not smaller than raw payload %d", len(data), len(payload))
	}

	got, err := c.Decode(e.Key, data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !bytes.Equal(got.Value.Data, payload) {
		t.Error("compressed payload should round-trip")
	}

	// Below threshold stays raw.
	small := testEntry(t, "small", []byte("tiny"))
	data, err = c.Encode(small)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	got, err = c.Decode(small.Key, data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !bytes.Equal(got.Value.Data, []byte("tiny")) {
		t.Error("small payload should round-trip")
	}
}

func TestCodec_Encrypted(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	cipher, err := adaptive.NewAESGCM(key)
	if err != nil {
		t.Fatalf("NewAESGCM() error = %v", err)
	}
	c := NewCodec(WithCipher(cipher))

	plaintext := []byte("confidential value bytes")
	e := testEntry(t, "secret", plaintext)

	data, err := c.Encode(e)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if bytes.Contains(data, plaintext) {
		t.Error("plaintext found in encrypted envelope")
	}

	got, err := c.Decode(e.Key, data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !bytes.Equal(got.Value.Data, plaintext) {
		t.Error("encrypted payload should round-trip")
	}

	// Decoding without a cipher fails.
	if _, err := NewCodec().Decode(e.Key, data); err == nil {
		t.Error("Decode without cipher should fail for encrypted object")
	}
}

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	cfg := DefaultBadgerConfig(t.TempDir())
	s, err := NewBadgerStore(cfg, NewCodec(), slog.Default())
	if err != nil {
		t.Fatalf("NewBadgerStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBadgerStore_PutGetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := testEntry(t, "alpha", []byte("value"))
	if err := s.Put(ctx, e); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := s.Get(ctx, e.Key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(got.Value.Data, e.Value.Data) {
		t.Errorf("Value = %q, want %q", got.Value.Data, e.Value.Data)
	}

	if err := s.Delete(ctx, e.Key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, e.Key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}

	// Deleting an absent key is not an error.
	if err := s.Delete(ctx, []byte("never-stored")); err != nil {
		t.Errorf("Delete(absent) error = %v", err)
	}
}

func TestBadgerStore_GetMissing(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Get(context.Background(), []byte("ghost")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestBadgerStore_Scan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := map[string]string{}
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("key-%d", i)
		want[key] = fmt.Sprintf("value-%d", i)
		if err := s.Put(ctx, testEntry(t, key, []byte(want[key]))); err != nil {
			t.Fatalf("Put(%q) error = %v", key, err)
		}
	}

	got := map[string]string{}
	err := s.Scan(ctx, func(e *domain.Entry) bool {
		got[string(e.Key)] = string(e.Value.Data)
		return true
	})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("scanned %d objects, want %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("got[%q] = %q, want %q", k, got[k], v)
		}
	}
}

func TestBadgerStore_Clear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.Put(ctx, testEntry(t, fmt.Sprintf("key-%d", i), []byte("v"))); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}
	cp := Checkpoint{WALOffset: 42, TxnID: 7, Timestamp: 1000, Entries: 5}
	if err := s.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("SaveCheckpoint() error = %v", err)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	count := 0
	if err := s.Scan(ctx, func(*domain.Entry) bool { count++; return true }); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if count != 0 {
		t.Errorf("scanned %d objects after Clear, want 0", count)
	}

	// Clear keeps the checkpoint marker.
	got, err := s.LoadCheckpoint(ctx)
	if err != nil {
		t.Fatalf("LoadCheckpoint() after Clear error = %v", err)
	}
	if got.WALOffset != cp.WALOffset {
		t.Errorf("WALOffset = %d, want %d", got.WALOffset, cp.WALOffset)
	}
}

func TestBadgerStore_Checkpoint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.LoadCheckpoint(ctx); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("LoadCheckpoint() on fresh store error = %v, want ErrNoCheckpoint", err)
	}

	cp := Checkpoint{WALOffset: 1<<32 | 512, TxnID: 9, Timestamp: 12345, Entries: 3}
	if err := s.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("SaveCheckpoint() error = %v", err)
	}

	got, err := s.LoadCheckpoint(ctx)
	if err != nil {
		t.Fatalf("LoadCheckpoint() error = %v", err)
	}
	if got != cp {
		t.Errorf("LoadCheckpoint() = %+v, want %+v", got, cp)
	}
}

func TestBadgerStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cfg := DefaultBadgerConfig(dir)
	s, err := NewBadgerStore(cfg, NewCodec(), slog.Default())
	if err != nil {
		t.Fatalf("NewBadgerStore() error = %v", err)
	}

	e := testEntry(t, "durable", []byte("survives restart"))
	if err := s.Put(ctx, e); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.SaveCheckpoint(ctx, Checkpoint{WALOffset: 99}); err != nil {
		t.Fatalf("SaveCheckpoint() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s2, err := NewBadgerStore(cfg, NewCodec(), slog.Default())
	if err != nil {
		t.Fatalf("NewBadgerStore() reopen error = %v", err)
	}
	defer s2.Close()

	got, err := s2.Get(ctx, e.Key)
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if !bytes.Equal(got.Value.Data, e.Value.Data) {
		t.Errorf("Value = %q, want %q", got.Value.Data, e.Value.Data)
	}
	cp, err := s2.LoadCheckpoint(ctx)
	if err != nil {
		t.Fatalf("LoadCheckpoint() after reopen error = %v", err)
	}
	if cp.WALOffset != 99 {
		t.Errorf("WALOffset = %d, want 99", cp.WALOffset)
	}
}

func TestBadgerStore_Stats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		if err := s.Put(ctx, testEntry(t, fmt.Sprintf("key-%d", i), []byte("v"))); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Objects != 7 {
		t.Errorf("Objects = %d, want 7", stats.Objects)
	}
}
