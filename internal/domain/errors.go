package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist. Every store
// implementation returns it (possibly wrapped) for missing recipes and comments.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the write would duplicate existing state, such as
// saving a recipe twice.
var ErrConflict = errors.New("conflict")
