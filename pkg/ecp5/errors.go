package ecp5

import (
	"fmt"
	"time"
)

// StatusError reports a configuration command the FPGA rejected or failed
// to complete, carrying the status word it reported.
type StatusError struct {
	Reason string
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ecp5: %s: %s (status %s)", e.Reason, e.Status.ErrorCode(), e.Status)
}

// ProtocolError reports responses that cannot be right: an all-ones part ID,
// a flash that answers with bus idle levels, and similar wiring-level
// trouble.
type ProtocolError struct {
	Op     string
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ecp5: %s: %s", e.Op, e.Detail)
}

// TimeoutError reports a busy-poll that did not settle within its deadline.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("ecp5: %s timed out after %s", e.Op, e.Timeout)
}

// MismatchError reports gateware that negotiated shapes this driver cannot
// work with, such as meta-JTAG register widths that are zero or unaligned.
type MismatchError struct {
	Detail string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("ecp5: configuration mismatch: %s", e.Detail)
}
