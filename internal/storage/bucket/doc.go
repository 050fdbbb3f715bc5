// Package bucket provides the in-memory bucket cache for qumap.
//
// Buckets are indexed by curve-derived addresses. Keys whose points
// share an X coordinate land in the same bucket and are kept on a
// short collision chain, screened by the Y-fold verification hash and
// disambiguated by exact key comparison.
package bucket
