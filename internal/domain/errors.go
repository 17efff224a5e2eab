package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrPositionLimit = errors.New("position ceiling reached")
	ErrOrderTerminal = errors.New("order already in a terminal state")
	ErrCacheBackend  = errors.New("durable cache unavailable")
)
