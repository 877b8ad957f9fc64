// Package apperr holds the sentinel errors shared across the pipeline.
package apperr

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidName    = errors.New("invalid slice name")
	ErrMixedPrefix    = errors.New("mixed slice prefixes")
	ErrDuplicateIndex = errors.New("duplicate slice index")
	ErrMetadata       = errors.New("invalid cluster metadata")
	ErrMissingSlice   = errors.New("missing first slice")
	ErrToolFailed     = errors.New("reconstruction tool failed")
	ErrMissingOutput  = errors.New("reconstruction output missing")
)
