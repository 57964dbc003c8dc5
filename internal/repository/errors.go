package repository

import "errors"

// ErrUnavailable indicates the backing store could not be reached. Callers
// treat it as transient and retry the whole batch rather than failing the row.
var ErrUnavailable = errors.New("store unavailable")

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")
