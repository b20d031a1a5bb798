// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a write lost against a concurrent writer or a
// terminal record that may no longer change.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates malformed input.
var ErrValidation = errors.New("validation failed")
