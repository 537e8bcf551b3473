// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Upload constants
const (
	// MaxUploadSize is the maximum multipart form size for probe and
	// portrait uploads, in bytes.
	MaxUploadSize = 32 << 20
)

// Lookup constants
const (
	// LookupCandidates is the number of nearest students returned by a
	// lookup-by-face search.
	LookupCandidates = 5
)
