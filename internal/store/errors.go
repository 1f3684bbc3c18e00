package store

import "errors"

var (
	// ErrAlreadyExists is returned when a location name is already taken.
	ErrAlreadyExists = errors.New("location already exists")
	// ErrNotFound is returned when a delete or update matched no location.
	ErrNotFound = errors.New("location not found")
	// ErrStoreFault wraps I/O and SQL failures of the backing file.
	ErrStoreFault = errors.New("store fault")
)
