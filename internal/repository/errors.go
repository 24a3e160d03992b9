package repository

import "errors"

var (
	// ErrUserExists is returned by Create when the identity is already registered.
	ErrUserExists = errors.New("user already registered")
	// ErrPoolExhausted means no profile was available at claim time.
	ErrPoolExhausted = errors.New("no available profile")
	// ErrAlreadyAllocated means the user already holds a profile.
	ErrAlreadyAllocated = errors.New("user already holds a profile")
	// ErrNoAccess means the user is unknown or has not unlocked access.
	ErrNoAccess = errors.New("user has no access")
)
