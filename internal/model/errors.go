package model

import "errors"

// Sentinel errors for domain-level error handling.
// The HTTP layer maps these to status codes via errors.Is.
var (
	ErrNotFound           = errors.New("not_found")
	ErrNotActive          = errors.New("not_active")
	ErrAlreadyTerminal    = errors.New("already_terminal")
	ErrInsufficientSupply = errors.New("insufficient_supply")
	ErrInsufficientFunds  = errors.New("insufficient_funds")
	ErrSelfTrade          = errors.New("self_trade")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrExpired            = errors.New("expired")
	ErrConflict           = errors.New("conflict")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
