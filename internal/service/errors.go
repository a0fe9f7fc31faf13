package service

import (
	"errors"
	"fmt"

	"aiva/internal/repository"
)

var (
	ErrNotFound            = repository.ErrNotFound
	ErrFeatureDenied       = errors.New("feature not available for this workspace")
	ErrPolicyBlocked       = errors.New("blocked by workspace policy")
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrInvalidInput        = errors.New("invalid input")
	ErrConnectionInactive  = errors.New("connection is not active")
)

// CapabilityError wraps a failure of an external capability (channel or AI).
type CapabilityError struct {
	Capability string
	Op         string
	Err        error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Capability, e.Op, e.Err)
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}

func channelError(op string, err error) error {
	return &CapabilityError{Capability: "channel", Op: op, Err: err}
}

func aiError(op string, err error) error {
	return &CapabilityError{Capability: "ai", Op: op, Err: err}
}
