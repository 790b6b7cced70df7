package nlerr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/m-lab/netlinkctl/nlerr"
	"golang.org/x/sys/unix"
)

func TestKernelErrorPredicates(t *testing.T) {
	tests := []struct {
		errno     unix.Errno
		notFound  bool
		exists    bool
		permitted bool
		busy      bool
	}{
		{unix.ENOENT, true, false, false, false},
		{unix.ENODEV, true, false, false, false},
		{unix.ESRCH, false, false, false, false},
		{unix.EEXIST, false, true, false, false},
		{unix.EPERM, false, false, true, false},
		{unix.EACCES, false, false, true, false},
		{unix.EBUSY, false, false, false, true},
		{unix.EINVAL, false, false, false, false},
	}
	for _, tt := range tests {
		err := &nlerr.KernelError{Errno: tt.errno, Op: "test"}
		if got := nlerr.IsNotFound(err); got != tt.notFound {
			t.Errorf("%v: IsNotFound = %v, want %v", tt.errno, got, tt.notFound)
		}
		if got := nlerr.IsAlreadyExists(err); got != tt.exists {
			t.Errorf("%v: IsAlreadyExists = %v, want %v", tt.errno, got, tt.exists)
		}
		if got := nlerr.IsPermissionDenied(err); got != tt.permitted {
			t.Errorf("%v: IsPermissionDenied = %v, want %v", tt.errno, got, tt.permitted)
		}
		if got := nlerr.IsBusy(err); got != tt.busy {
			t.Errorf("%v: IsBusy = %v, want %v", tt.errno, got, tt.busy)
		}
	}
}

func TestKernelErrorWrapped(t *testing.T) {
	// Predicates must see through fmt.Errorf wrapping, since every rtnl
	// verb annotates errors with operation context.
	inner := &nlerr.KernelError{Errno: unix.EEXIST, Op: "link add"}
	wrapped := fmt.Errorf("rtnl: link add: %w", inner)
	if !nlerr.IsAlreadyExists(wrapped) {
		t.Error("IsAlreadyExists must match through wrapping")
	}
	if !errors.Is(wrapped, nlerr.ErrAlreadyExists) {
		t.Error("errors.Is must reach the ErrAlreadyExists sentinel")
	}
}

func TestValidationError(t *testing.T) {
	err := nlerr.NewValidationError("broadcast", "only valid for AF_INET")
	var verr *nlerr.ValidationError
	if !errors.As(err, &verr) {
		t.Fatal("errors.As failed on a ValidationError")
	}
	if verr.Field != "broadcast" {
		t.Errorf("Field = %q", verr.Field)
	}
}

func TestTruncationError(t *testing.T) {
	err := nlerr.Truncated("ifinfomsg", 16, 10)
	want := "truncated ifinfomsg: want 16 bytes, got 10"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
