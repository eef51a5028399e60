package forks

import (
	"errors"
	"fmt"
)

// ErrUnsupported is wrapped by every CapabilityError.
var ErrUnsupported = errors.New("capability not supported by fork")

// CapabilityError is returned when a fork is asked for a capability it does
// not define, such as the blob gas price before Cancun. It indicates a bug in
// the test definition, not a failing test.
type CapabilityError struct {
	Fork       Fork
	Capability string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s: %s", e.Fork, e.Capability) + ": " + ErrUnsupported.Error()
}

func (e *CapabilityError) Unwrap() error { return ErrUnsupported }

func unsupported(f Fork, capability string) error {
	return &CapabilityError{Fork: f, Capability: capability}
}
