package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrAlreadyTerminal     = errors.New("already terminal")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrProviderFailure     = errors.New("provider failure")
	ErrNoWorkAvailable     = errors.New("no work available")
)
