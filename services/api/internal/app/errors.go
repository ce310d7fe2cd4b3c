package app

import "errors"

var (
	ErrTitleRequired   = errors.New("title is required")
	ErrContentRequired = errors.New("content is required")
	ErrPromptRequired  = errors.New("prompt is required")
	ErrNegativeIdx     = errors.New("idx must be non-negative")

	// ErrBookNotFound covers both a missing book and a book owned by someone
	// else; the two cases are indistinguishable to the caller.
	ErrBookNotFound = errors.New("book not found")
)
