package models

import "errors"

var (
	ErrInvalidConfiguration       = errors.New("invalid configuration")
	ErrEmbeddingProvider          = errors.New("embedding provider error")
	ErrGenerationProvider         = errors.New("generation provider error")
	ErrIndexNotFound              = errors.New("index not found")
	ErrIndexCorrupt               = errors.New("index corrupt")
	ErrEmbeddingDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrPersistence                = errors.New("persistence error")
	ErrMissingCredential          = errors.New("missing API credential")
	ErrEmptyQuery                 = errors.New("empty query")
)

// IsProviderError reports whether err is a transient provider failure that a
// user may retry.
func IsProviderError(err error) bool {
	return errors.Is(err, ErrEmbeddingProvider) || errors.Is(err, ErrGenerationProvider)
}
