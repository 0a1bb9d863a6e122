// Package common defines shared sentinel errors used across the service,
// transport and bot layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Entity lookup errors.
	ErrUserNotFound   = errors.New("user not found")
	ErrServerNotFound = errors.New("server not found")
	ErrConfigNotFound = errors.New("config not found")

	// Billing errors.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// Remote control-plane errors. ErrProvisioningFailure is returned after
	// the gateway's retry budget is exhausted.
	ErrProvisioningFailure = errors.New("provisioning failure")

	// ErrInvalidOperation marks an operation that is not valid for the
	// entity's current state.
	ErrInvalidOperation = errors.New("invalid operation")

	// Generic service-level errors.
	ErrInternal     = errors.New("internal error")
	ErrUnauthorized = errors.New("unauthorized")

	// Auth errors.
	ErrInvalidToken = errors.New("invalid token")
)
