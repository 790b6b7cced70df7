// Package genl is the generic-netlink layer: it resolves a
// family's runtime-assigned numeric id with CTRL_CMD_GETFAMILY, caches the
// result, and exposes the family's multicast group ids for subscription.
// Per-family typed clients (genl/ethtool, genl/wireguard, genl/mptcp,
// genl/macsec) build on top of Resolver. Resolution rides
// github.com/mdlayher/genetlink's GetFamily rather than reimplementing
// CTRL_CMD_GETFAMILY over the module's own route-netlink request engine.
package genl

import (
	"fmt"
	"sync"
	"time"

	"github.com/m-lab/netlinkctl/metrics"
	"github.com/mdlayher/genetlink"
	"github.com/prometheus/client_golang/prometheus"
)

// Family describes a resolved generic-netlink family: its runtime id and
// the kernel group numbers it exposes for multicast subscription.
type Family struct {
	ID     uint16
	Name   string
	Groups map[string]uint32 // group name -> kernel group number
}

// Resolver wraps a genetlink.Conn with a name->Family cache.
type Resolver struct {
	conn *genetlink.Conn

	mu    sync.Mutex
	cache map[string]Family
}

// Dial opens a generic-netlink connection in the current namespace.
func Dial() (*Resolver, error) {
	conn, err := genetlink.Dial(nil)
	if err != nil {
		return nil, fmt.Errorf("genl: dial: %w", err)
	}
	return &Resolver{conn: conn, cache: map[string]Family{}}, nil
}

// Close releases the underlying generic-netlink connection.
func (r *Resolver) Close() error { return r.conn.Close() }

// Conn exposes the underlying genetlink connection for callers that need to
// issue family-specific commands directly (e.g. genl/ethtool).
func (r *Resolver) Conn() *genetlink.Conn { return r.conn }

// Resolve returns the cached Family descriptor for name, querying and
// caching it with CTRL_CMD_GETFAMILY on first use. A name the kernel does
// not recognize returns a generic-netlink-family-not-found error.
func (r *Resolver) Resolve(name string) (Family, error) {
	r.mu.Lock()
	if f, ok := r.cache[name]; ok {
		r.mu.Unlock()
		return f, nil
	}
	r.mu.Unlock()

	start := time.Now()
	gf, err := r.conn.GetFamily(name)
	metrics.GenlFamilyResolveHistogram.With(prometheus.Labels{"family": name}).
		Observe(time.Since(start).Seconds())
	if err != nil {
		return Family{}, &FamilyNotFoundError{Name: name, Cause: err}
	}

	f := Family{ID: gf.ID, Name: gf.Name, Groups: map[string]uint32{}}
	for _, g := range gf.Groups {
		f.Groups[g.Name] = g.ID
	}

	r.mu.Lock()
	r.cache[name] = f
	r.mu.Unlock()
	return f, nil
}

// FamilyNotFoundError reports that the kernel has no generic-netlink
// family registered under the requested name.
type FamilyNotFoundError struct {
	Name  string
	Cause error
}

func (e *FamilyNotFoundError) Error() string {
	return fmt.Sprintf("genl: family %q not found: %v", e.Name, e.Cause)
}

func (e *FamilyNotFoundError) Unwrap() error { return e.Cause }
