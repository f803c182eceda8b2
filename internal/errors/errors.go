package errors

import "errors"

// Validation errors returned to callers of board operations.
var (
	ErrEmptyTitle    = errors.New("task title is empty")
	ErrInvalidColumn = errors.New("invalid column")
	ErrTaskNotFound  = errors.New("task not found")
	ErrTaskExists    = errors.New("task already exists")
)

// Server/transport errors.
var (
	ErrAPIRequest  = errors.New("API request failed")
	ErrAPIResponse = errors.New("unexpected API response")
)
