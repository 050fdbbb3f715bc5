package curve

import (
	"crypto/sha256"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/spaolacci/murmur3"

	"github.com/arbitrary-number/qumap-go/internal/core/domain"
)

// Addresser computes bucket addresses for keys.
//
// The zero value is not usable; construct with New.
type Addresser struct {
	// domainSep is mixed into the diffusion hash so distinct map
	// instances can derive distinct address spaces if needed.
	domainSep []byte
}

// Option configures an Addresser.
type Option func(*Addresser)

// WithDomainSeparator sets a domain separation tag mixed into the
// key diffusion hash.
func WithDomainSeparator(tag []byte) Option {
	return func(a *Addresser) {
		a.domainSep = append([]byte(nil), tag...)
	}
}

// New creates an Addresser.
func New(opts ...Option) *Addresser {
	a := &Addresser{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// DeriveScalar diffuses key bytes into a non-zero scalar modulo the
// curve order.
//
// SHA-256 output is interpreted as a big-endian integer and reduced.
// In the negligible case where the reduction yields zero, the digest is
// re-hashed until a usable scalar appears, keeping the mapping total
// and deterministic.
func (a *Addresser) DeriveScalar(key []byte) (secp256k1.ModNScalar, error) {
	var k secp256k1.ModNScalar

	if err := domain.ValidateKey(key); err != nil {
		return k, err
	}

	h := sha256.New()
	if len(a.domainSep) > 0 {
		h.Write(a.domainSep)
	}
	h.Write(key)
	digest := h.Sum(nil)

	for {
		k.SetByteSlice(digest)
		if !k.IsZero() {
			return k, nil
		}
		next := sha256.Sum256(digest)
		digest = next[:]
	}
}

// Address computes the bucket address for a key.
//
// The same key always maps to the same address: the derivation has no
// randomness and no per-instance state beyond the optional domain
// separator fixed at construction.
func (a *Addresser) Address(key []byte) (domain.BucketAddress, error) {
	k, err := a.DeriveScalar(key)
	if err != nil {
		return domain.BucketAddress{}, err
	}

	var p secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&k, &p)
	if (p.X.IsZero() && p.Y.IsZero()) || p.Z.IsZero() {
		// Cannot happen for a non-zero scalar, but a point at infinity
		// here would silently collapse the address space.
		return domain.BucketAddress{}, domain.ErrCurveComputationFailed
	}
	p.ToAffine()

	var addr domain.BucketAddress
	p.X.PutBytes(&addr.Address)

	var y [domain.AddressSize]byte
	p.Y.PutBytes(&y)
	addr.Verification = murmur3.Sum64(y[:])

	return addr, nil
}

// Point computes the full affine curve point for a key. Used by
// diagnostics and tests; the map itself only needs Address.
func (a *Addresser) Point(key []byte) (domain.CurvePoint, error) {
	k, err := a.DeriveScalar(key)
	if err != nil {
		return domain.CurvePoint{}, err
	}

	var p secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&k, &p)
	if p.Z.IsZero() {
		return domain.CurvePoint{}, domain.ErrCurveComputationFailed
	}
	p.ToAffine()

	var out domain.CurvePoint
	p.X.PutBytes(&out.X)
	p.Y.PutBytes(&out.Y)
	return out, nil
}
