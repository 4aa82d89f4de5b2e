package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound    = errors.New("record not found")
	ErrDuplicate   = errors.New("record already exists")
	ErrAlreadySet  = errors.New("outcome already recorded")
	ErrUnavailable = errors.New("store unavailable")

	// ErrEventConflict is returned when an event_id is replayed for a
	// different patient than the one that first used it.
	ErrEventConflict = errors.New("event_id already used by another patient")
)
