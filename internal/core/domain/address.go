package domain

import (
	"bytes"
	"encoding/hex"
)

// AddressSize is the size of a bucket address in bytes (a 256-bit
// curve point coordinate).
const AddressSize = 32

// CurvePoint is an affine point on secp256k1 in 32-byte big-endian
// coordinate form.
type CurvePoint struct {
	X [AddressSize]byte `json:"x"`
	Y [AddressSize]byte `json:"y"`
}

// BucketAddress is the curve-derived placement of a key.
//
// Address is the X coordinate of the derived point and selects the bucket.
// Verification is a 64-bit fold of the Y coordinate used to reject
// mismatched candidates before key comparison.
type BucketAddress struct {
	Address      [AddressSize]byte `json:"address"`
	Verification uint64            `json:"verification"`

	// Generation counts address recomputations for this slot.
	Generation uint32 `json:"generation"`

	// Collisions counts distinct keys that mapped to the same address.
	Collisions uint32 `json:"collisions"`
}

// Equal reports whether two addresses select the same bucket with the
// same verification hash.
func (a BucketAddress) Equal(b BucketAddress) bool {
	return a.Verification == b.Verification && bytes.Equal(a.Address[:], b.Address[:])
}

// String returns the hex form of the address coordinate.
func (a BucketAddress) String() string {
	return hex.EncodeToString(a.Address[:])
}
