package tipc

import (
	"fmt"

	"golang.org/x/xerrors"
)

// AddrParseErrorKind classifies why parsing a textual TIPC address failed.
type AddrParseErrorKind int

const (
	MissingType AddrParseErrorKind = iota + 1
	InvalidType
	MissingInstance
	InvalidInstance
	MissingRef
	InvalidRef
	MissingNode
	InvalidNode
)

func (k AddrParseErrorKind) String() string {
	switch k {
	case MissingType:
		return "missing type"
	case InvalidType:
		return "invalid type"
	case MissingInstance:
		return "missing instance"
	case InvalidInstance:
		return "invalid instance"
	case MissingRef:
		return "missing reference"
	case InvalidRef:
		return "invalid reference"
	case MissingNode:
		return "missing node"
	case InvalidNode:
		return "invalid node"
	default:
		return "unknown address parse error"
	}
}

// AddrParseError reports a failure to parse one of the textual address
// forms (SocketAddr, ServiceAddr, ServiceRange).
type AddrParseError struct {
	Kind  AddrParseErrorKind
	Input string
	Cause error
}

func (e *AddrParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("tipc: parse %q: %s: %v", e.Input, e.Kind, e.Cause)
	}
	return fmt.Sprintf("tipc: parse %q: %s", e.Input, e.Kind)
}

func (e *AddrParseError) Unwrap() error { return e.Cause }

// RejectedError wraps a datagram returned undelivered by the kernel via
// TIPC_ERRINFO. Code is the TIPC error code carried in the first ERRINFO
// word; it is never zero.
type RejectedError struct {
	Code uint32
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("tipc: message rejected, code %d", e.Code)
}

// ProtocolError reports a malformed or unexpected wire interaction with the
// topology server or the group-membership OOB channel: a short read, an
// unexpected event code, or OOB data with a nonzero payload.
type ProtocolError struct {
	Op  string
	Msg string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("tipc: %s: %s", e.Op, e.Msg)
}

func wrapf(op string, err error) error {
	if err == nil {
		return nil
	}
	return xerrors.Errorf("tipc: %s: %w", op, err)
}
