// Copyright 2025 Nomen Protocol
//
// Sentinel errors for the database layer

package database

import "errors"

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
)
