package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrLockHeld            = errors.New("lock already held")
	ErrSourceUnavailable   = errors.New("price source unavailable")
	ErrPriceUnavailable    = errors.New("price unavailable")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNoActivePosition    = errors.New("no active position")
	ErrPositionExists      = errors.New("position already exists")
)
