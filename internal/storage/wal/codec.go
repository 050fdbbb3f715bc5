package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/arbitrary-number/qumap-go/internal/core/domain"
	"github.com/arbitrary-number/qumap-go/pkg/crypto/adaptive"
)

// Record wire format:
//
//	[Length:4][CRC32:4][Magic:4][TxnID:8][Timestamp:8][Op:1][ValueType:1]
//	[KeyLen:4][ValueLen:4][Key:KeyLen][Value:ValueLen]
//
// Length counts everything after the length prefix. CRC32 (IEEE)
// covers everything after the CRC field, so a flipped bit anywhere in
// the header or payload is detected.
//
// When a cipher is configured the value bytes are stored encrypted;
// ValueLen is the ciphertext length.

func encodeEntryFrame(e *Entry, cipher adaptive.Cipher) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("wal: entry is nil")
	}
	switch e.OpType {
	case OpTypePut, OpTypeRemove, OpTypeClear, OpTypeCheckpoint, OpTypeRollback:
	default:
		return nil, ErrInvalidEntryType
	}
	if e.OpType == OpTypePut && e.Value == nil {
		return nil, fmt.Errorf("wal: missing value for put")
	}
	if len(e.Key) > domain.MaxKeyLength {
		return nil, fmt.Errorf("wal: key too long: %d", len(e.Key))
	}

	value := e.Value
	if cipher != nil && len(value) > 0 {
		encrypted, err := cipher.Encrypt(value, e.Key)
		if err != nil {
			return nil, fmt.Errorf("wal: encrypt value: %w", err)
		}
		value = encrypted
	}

	body := make([]byte, recordHeaderSize-4+len(e.Key)+len(value))
	binary.BigEndian.PutUint32(body[0:4], RecordMagic)
	binary.BigEndian.PutUint64(body[4:12], e.TxnID)
	binary.BigEndian.PutUint64(body[12:20], uint64(e.Timestamp))
	body[20] = byte(e.OpType)
	body[21] = byte(e.ValueType)
	binary.BigEndian.PutUint32(body[22:26], uint32(len(e.Key)))
	binary.BigEndian.PutUint32(body[26:30], uint32(len(value)))
	copy(body[30:], e.Key)
	copy(body[30+len(e.Key):], value)

	crc := crc32.ChecksumIEEE(body)

	length := uint32(4 + len(body))
	out := make([]byte, 0, lenFieldSize+int(length))

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], length)
	out = append(out, u32[:]...)
	binary.BigEndian.PutUint32(u32[:], crc)
	out = append(out, u32[:]...)
	out = append(out, body...)
	return out, nil
}

func decodeEntryFrame(frame []byte, cipher adaptive.Cipher) (*Entry, error) {
	// Frame layout: [crc32:4][body...]
	if len(frame) < recordHeaderSize {
		return nil, ErrCorruptedEntry
	}

	wantCRC := binary.BigEndian.Uint32(frame[:4])
	body := frame[4:]

	if crc32.ChecksumIEEE(body) != wantCRC {
		return nil, ErrChecksumMismatch
	}

	if binary.BigEndian.Uint32(body[0:4]) != RecordMagic {
		return nil, ErrCorruptedEntry
	}

	op := OpType(body[20])
	switch op {
	case OpTypePut, OpTypeRemove, OpTypeClear, OpTypeCheckpoint, OpTypeRollback:
	default:
		return nil, ErrInvalidEntryType
	}

	keyLen := binary.BigEndian.Uint32(body[22:26])
	valueLen := binary.BigEndian.Uint32(body[26:30])
	if int(keyLen)+int(valueLen) != len(body)-30 {
		return nil, ErrCorruptedEntry
	}

	key := make([]byte, keyLen)
	copy(key, body[30:30+keyLen])
	value := make([]byte, valueLen)
	copy(value, body[30+keyLen:])

	if cipher != nil && len(value) > 0 {
		plain, err := cipher.Decrypt(value, key)
		if err != nil {
			return nil, fmt.Errorf("wal: decrypt value: %w", err)
		}
		value = plain
	}

	out := &Entry{
		OpType:    op,
		TxnID:     binary.BigEndian.Uint64(body[4:12]),
		Timestamp: int64(binary.BigEndian.Uint64(body[12:20])),
		ValueType: domain.ValueType(body[21]),
		Key:       key,
	}
	if op == OpTypePut {
		out.Value = value
	}
	return out, nil
}
