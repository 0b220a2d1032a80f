package bootloader

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind distinguishes the terminal error conditions a session can
// report.
type Kind int

const (
	// KindPortOpen means the serial device failed to open.
	KindPortOpen Kind = iota
	// KindBootloaderUnresponsive means auto-baud sync exhausted its retries.
	KindBootloaderUnresponsive
	// KindProtocolMismatch means an expected ACK was missing or a length
	// header was out of range.
	KindProtocolMismatch
	// KindUnknownChip means the product id has no usable geometry.
	KindUnknownChip
	// KindImageTooLarge means the image does not fit the detected flash.
	KindImageTooLarge
	// KindVerifyMismatch means phase 6's byte compare found a difference.
	KindVerifyMismatch
	// KindTimeout means the watchdog fired.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindPortOpen:
		return "PortOpen"
	case KindBootloaderUnresponsive:
		return "BootloaderUnresponsive"
	case KindProtocolMismatch:
		return "ProtocolMismatch"
	case KindUnknownChip:
		return "UnknownChip"
	case KindImageTooLarge:
		return "ImageTooLarge"
	case KindVerifyMismatch:
		return "VerifyMismatch"
	case KindTimeout:
		return "Timeout"
	default:
		return "<unknown>"
	}
}

// Error is the terminal error a session reports to on_done. It always
// carries a Kind so callers can branch without string matching.
type Error struct {
	Kind Kind
	// SegmentIndex and Offset are populated only for KindVerifyMismatch.
	SegmentIndex int
	Offset       int
	cause        error
}

func (e *Error) Error() string {
	if e.Kind == KindVerifyMismatch {
		return fmt.Sprintf("%s: segment %d offset %d: %v", e.Kind, e.SegmentIndex, e.Offset, e.cause)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// wrap builds an *Error of the given kind around cause, using
// pkg/errors so later errors.Cause(...) calls see through it.
func wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	var wrapped error
	if cause != nil {
		wrapped = errors.Wrapf(cause, format, args...)
	} else {
		wrapped = errors.Errorf(format, args...)
	}
	return &Error{Kind: kind, cause: wrapped}
}

func verifyMismatch(segmentIndex, offset int) *Error {
	return &Error{
		Kind:         KindVerifyMismatch,
		SegmentIndex: segmentIndex,
		Offset:       offset,
		cause:        errors.Errorf("byte mismatch"),
	}
}
