package storage

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoJob is returned by ClaimJob when no job is claimable.
	ErrNoJob = errors.New("no claimable job")

	// ErrDuplicate is returned when inserting a row whose key already exists.
	ErrDuplicate = errors.New("already exists")
)
