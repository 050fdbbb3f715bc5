// Package domain defines the core domain models for qumap.
//
// Domain models are pure value objects and entities without any
// IO dependencies or framework coupling. This package contains:
//
//   - Value: typed payload container with size limits
//   - Entry: stored key-value pair with addressing metadata
//   - BucketAddress / CurvePoint: curve-derived addressing types
//   - Errors: domain-specific error definitions
//
// Bucket addresses are produced by the curve package; this package
// only carries them.
package domain
