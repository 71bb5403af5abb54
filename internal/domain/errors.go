package domain

import "errors"

var (
	// ErrValidation signals malformed input (bad id, bad base64, bad top_k).
	ErrValidation = errors.New("validation failed")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrQuestionNotFound signals a missing question.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrImageDecode signals bytes that do not decode as a supported image format.
	ErrImageDecode = errors.New("image does not decode")
	// ErrModelUnavailable signals an embedding model or provider failure.
	ErrModelUnavailable = errors.New("embedding model unavailable")
	// ErrStoreUnavailable signals vector store connectivity loss or timeout.
	ErrStoreUnavailable = errors.New("vector store unavailable")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
)
