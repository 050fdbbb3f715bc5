// Package wal provides Write-Ahead Logging for durability.
//
// WAL ensures data durability by writing operations to disk
// before applying them to memory, enabling recovery after crashes.
//
// Features:
//
//   - Batched Writes: Configurable batch size and sync interval
//   - File Rotation: Automatic rotation at a configurable segment cap
//   - Encryption: Optional value encryption using adaptive ciphers
//   - Compaction: Segments behind the checkpoint floor are retired
//   - Recovery: Sequential replay that stops at a torn tail
//
// Entry Types:
//
//   - PUT: Key-value insertion or replacement
//   - REMOVE: Key deletion
//   - CLEAR: Whole-map clear
//   - CHECKPOINT: Durability floor marker
//   - ROLLBACK: Transaction abort marker
//
// Format:
//
//	wal-<segment-id>.log
//	[magic:8 "QUMAPWL\\x01"]
//	[Record]*
//	[checksum:32 SHA-256 of all bytes above] (absent on the active segment)
//
// Record wire format:
//
//	[Length:4][CRC32:4][Magic:4 "QUMP"][TxnID:8][Timestamp:8][Op:1]
//	[ValueType:1][KeyLen:4][ValueLen:4][Key][Value]
//
// Where:
//   - Length counts everything after the length prefix (big-endian uint32)
//   - CRC32 (IEEE) covers everything after the CRC field
//   - Value bytes are ciphertext when a cipher is configured
package wal
