// Package curve derives bucket addresses from keys via elliptic-curve
// scalar multiplication on secp256k1.
//
// A key is diffused with SHA-256 into a scalar k, the point P = k*G is
// computed, and the affine X coordinate becomes the bucket address. A
// 64-bit fold of the Y coordinate serves as a cheap verification hash
// for collision screening.
package curve
