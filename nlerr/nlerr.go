// Package nlerr collects the error taxonomy shared by every netlink
// package in this module: sentinel errors for protocol-framing problems,
// and typed errors for kernel, validation, and truncation failures.
package nlerr

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var (
	// ErrBadPid is returned when a netlink reply's port id does not match
	// the socket that sent the request.
	ErrBadPid = errors.New("bad port id, can't interpret netlink response")

	// ErrBadSequence is returned when a netlink reply's sequence number
	// does not match the request that solicited it.
	ErrBadSequence = errors.New("bad sequence number, can't interpret netlink response")

	// ErrBadMsgData is returned when a netlink message is shorter than its
	// own declared header, or an attribute overruns its parent.
	ErrBadMsgData = errors.New("bad message data from netlink message")

	// ErrShortMessage is returned when a read from a netlink socket
	// returns fewer bytes than a complete nlmsghdr.
	ErrShortMessage = errors.New("netlink message shorter than header")

	// ErrUnexpectedMulti is returned when a single-response request
	// receives a message with NLM_F_MULTI set.
	ErrUnexpectedMulti = errors.New("unexpected multi-part response")

	// ErrNotFound is wrapped by KernelError when the kernel reports
	// ENOENT or ENODEV.
	ErrNotFound = errors.New("netlink object not found")

	// ErrAlreadyExists is wrapped by KernelError when the kernel reports EEXIST.
	ErrAlreadyExists = errors.New("netlink object already exists")
)

// KernelError wraps an errno returned by the kernel in an NLMSG_ERROR
// message, along with the request that produced it.
type KernelError struct {
	Errno unix.Errno
	// Op names the high-level operation that was attempted, e.g.
	// "rtnl.LinkAdd" or "rtnl.RouteDel".
	Op string
}

func (e *KernelError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Errno.Error())
}

// Unwrap lets errors.Is/errors.As see through to the underlying errno and,
// where applicable, to one of the ErrNotFound/ErrAlreadyExists sentinels.
func (e *KernelError) Unwrap() error {
	switch e.Errno {
	case unix.ENOENT, unix.ENODEV:
		return ErrNotFound
	case unix.EEXIST:
		return ErrAlreadyExists
	}
	return e.Errno
}

// IsNotFound reports whether err represents a kernel ENOENT/ENODEV, i.e.
// the target object (link, route, address, ...) does not exist. Link
// lookups by stale ifindex or name report ENODEV, not ENOENT.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists reports whether err represents a kernel EEXIST, i.e. the
// target object already exists and NLM_F_EXCL was set.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsPermissionDenied reports whether err represents a kernel EPERM/EACCES,
// i.e. the caller lacks CAP_NET_ADMIN or equivalent.
func IsPermissionDenied(err error) bool {
	var kerr *KernelError
	if errors.As(err, &kerr) {
		return kerr.Errno == unix.EPERM || kerr.Errno == unix.EACCES
	}
	return false
}

// IsBusy reports whether err represents a kernel EBUSY, i.e. the object is
// in use and cannot be modified or removed right now.
func IsBusy(err error) bool {
	var kerr *KernelError
	if errors.As(err, &kerr) {
		return kerr.Errno == unix.EBUSY
	}
	return false
}

// ValidationError reports that a value built locally (never sent to the
// kernel) fails a constraint this module enforces itself, e.g. an AN value
// outside the MACsec [0,3] range, or an IPv4-only broadcast address applied
// to an IPv6 prefix.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// NewValidationError constructs a ValidationError for the named field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// TruncationError reports that a netlink attribute or message was shorter
// than the fixed structure it was expected to decode into.
type TruncationError struct {
	// Want is the number of bytes the decoder required.
	Want int
	// Got is the number of bytes actually available.
	Got int
	// What names the structure being decoded, e.g. "ifinfomsg".
	What string
}

func (e *TruncationError) Error() string {
	return fmt.Sprintf("truncated %s: want %d bytes, got %d", e.What, e.Want, e.Got)
}

// Truncated is a convenience constructor for TruncationError.
func Truncated(what string, want, got int) *TruncationError {
	return &TruncationError{What: what, Want: want, Got: got}
}
