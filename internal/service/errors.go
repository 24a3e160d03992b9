package service

import "errors"

var (
	ErrInvalidUserID      = errors.New("user id is required")
	ErrInvalidCredentials = errors.New("invalid password")
	ErrInvalidAccount     = errors.New("account email and at least one profile are required")
)
