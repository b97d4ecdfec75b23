package apperr

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")

	// Aggregator error taxonomy.
	ErrCreateFailed = errors.New("add note failed")
	ErrFetchFailed  = errors.New("fetch notes failed")
	ErrDeleteFailed = errors.New("delete note failed")
	ErrSuperseded   = errors.New("superseded by a newer request")
)
