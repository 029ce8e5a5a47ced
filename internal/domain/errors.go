// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidInput indicates the caller supplied a malformed request.
var ErrInvalidInput = errors.New("invalid input")

// ErrInvalidState indicates the entity is not in a state that permits the
// requested operation (e.g. resolving a task that is not awaiting approval).
var ErrInvalidState = errors.New("invalid state")
