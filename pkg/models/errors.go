package models

import "errors"

var (
	// ErrNotFound is returned by stores for unknown customer or product ids.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput marks malformed caller input such as an inverted price range.
	ErrInvalidInput = errors.New("invalid input")

	// ErrIndexNotBuilt is returned when the similarity index is queried before the
	// first successful build.
	ErrIndexNotBuilt = errors.New("similarity index not built")

	// ErrCorruptCatalog is returned when a catalog snapshot cannot be indexed.
	ErrCorruptCatalog = errors.New("corrupt catalog")
)
