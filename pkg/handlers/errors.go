package handlers

import "errors"

var (
	ErrNoBackend      = errors.New("handlers: no shell backend available on this platform")
	ErrUnknownFSOp    = errors.New("handlers: unknown filesystem operation")
	ErrMissingContent = errors.New("handlers: write operation missing content")

	// ErrFileNotFound is the literal wire-protocol error string the proxy
	// expects for a failed file read, unlike the other sentinels above it is
	// not prefixed with "handlers: " since its text is part of the contract,
	// not an internal diagnostic.
	ErrFileNotFound = errors.New("File not found")
)
