// Package netns is the namespace layer: it lets the same rtnl/
// genl/sockdiag APIs address arbitrary network namespaces, either through
// the socket-scoped factory (preferred) or a thread-scoped guard (retained
// for scripts, documented as hazardous for multi-threaded callers).
package netns

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/m-lab/netlinkctl/netlink"
	"github.com/vishvananda/netns"
)

// RunDir is where `ip netns add <name>` stores named namespace handles.
const RunDir = "/var/run/netns"

// Spec identifies a network namespace: the default (current) namespace, a
// name resolved under RunDir, an explicit path, or a process id.
type Spec struct {
	kind specKind
	name string
	path string
	pid  uint32
}

type specKind int

const (
	kindDefault specKind = iota
	kindNamed
	kindPath
	kindPid
)

// Default refers to the namespace the calling process already runs in.
func Default() Spec { return Spec{kind: kindDefault} }

// Named refers to a namespace created with `ip netns add <name>`, resolved
// under /var/run/netns.
func Named(name string) Spec { return Spec{kind: kindNamed, name: name} }

// Path refers to a namespace by an explicit bind-mounted file path.
func Path(path string) Spec { return Spec{kind: kindPath, path: path} }

// Pid refers to the network namespace of an already-running process.
func Pid(pid uint32) Spec { return Spec{kind: kindPid, pid: pid} }

// IsDefault reports whether the spec refers to the caller's own namespace.
func (s Spec) IsDefault() bool { return s.kind == kindDefault }

// resolvedPath returns the filesystem path backing the spec, for kinds that
// have one (kindDefault does not: it needs no fd to switch into).
func (s Spec) resolvedPath() string {
	switch s.kind {
	case kindNamed:
		return filepath.Join(RunDir, s.name)
	case kindPath:
		return s.path
	case kindPid:
		return fmt.Sprintf("/proc/%d/ns/net", s.pid)
	default:
		return ""
	}
}

// String renders the spec for logs and error messages.
func (s Spec) String() string {
	switch s.kind {
	case kindDefault:
		return "default"
	case kindNamed:
		return fmt.Sprintf("named(%s)", s.name)
	case kindPath:
		return fmt.Sprintf("path(%s)", s.path)
	case kindPid:
		return fmt.Sprintf("pid(%d)", s.pid)
	default:
		return "unknown"
	}
}

// OpenSocket opens a netlink.Socket of the given protocol inside the
// namespace s refers to, using the socket-scoped factory: the
// calling thread enters the target namespace only for the duration of
// socket creation and is restored immediately afterward. This is the
// preferred mechanism — see Guard for the non-preferred alternative.
func OpenSocket(protocol netlink.Protocol, s Spec) (*netlink.Socket, error) {
	if s.IsDefault() {
		return netlink.Open(protocol)
	}
	f, err := os.Open(s.resolvedPath())
	if err != nil {
		return nil, fmt.Errorf("netns: opening namespace %s: %w", s, err)
	}
	defer f.Close()
	sock, err := netlink.OpenInNamespace(protocol, int(f.Fd()))
	if err != nil {
		return nil, fmt.Errorf("netns: opening socket in namespace %s: %w", s, err)
	}
	return sock, nil
}

// Exists reports whether a named namespace exists under RunDir.
func Exists(name string) bool {
	_, err := os.Stat(filepath.Join(RunDir, name))
	return err == nil
}

// List returns the names of all namespaces registered under RunDir. A
// missing RunDir is not an error: it means no named namespaces exist.
func List() ([]string, error) {
	entries, err := os.ReadDir(RunDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("netns: listing %s: %w", RunDir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// Guard switches the calling OS thread's network namespace for the
// lifetime of the guard and restores the origin namespace on Close.
//
// This mutates thread-global state: callers MUST pair it with
// runtime.LockOSThread, and it is hazardous in any goroutine the runtime
// might reschedule onto another OS thread. OpenSocket above avoids the
// hazard entirely and is the preferred mechanism; Guard is retained for
// single-threaded scripts that need the whole process, not just one
// socket, inside the target namespace.
type Guard struct {
	origin netns.NsHandle
}

// Enter switches the calling thread into the namespace s refers to and
// returns a Guard that restores the origin namespace on Close. The caller
// must have already called runtime.LockOSThread.
func Enter(s Spec) (*Guard, error) {
	origin, err := netns.Get()
	if err != nil {
		return nil, fmt.Errorf("netns: saving origin namespace: %w", err)
	}
	if s.IsDefault() {
		return &Guard{origin: origin}, nil
	}
	target, err := netns.GetFromPath(s.resolvedPath())
	if err != nil {
		origin.Close()
		return nil, fmt.Errorf("netns: opening namespace %s: %w", s, err)
	}
	defer target.Close()
	if err := netns.Set(target); err != nil {
		origin.Close()
		return nil, fmt.Errorf("netns: entering namespace %s: %w", s, err)
	}
	return &Guard{origin: origin}, nil
}

// Close restores the namespace that was active when Enter was called. A
// failure to restore is logged, not returned: the
// calling thread may be left contaminated, which is why Guard is the
// non-preferred path for anything but short-lived scripts.
func (g *Guard) Close() error {
	defer g.origin.Close()
	if err := netns.Set(g.origin); err != nil {
		logRestoreFailure(fmt.Errorf("netns: restoring origin namespace: %w", err))
		return nil
	}
	return nil
}

var logRestoreFailure = defaultLogRestoreFailure
