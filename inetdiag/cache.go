package inetdiag

import (
	"github.com/m-lab/netlinkctl/metrics"
)

// SocketCache keeps two generations of SocketInfo records keyed by the
// kernel's socket cookie (or inode, for families without cookies), so a
// polling collector can tell which sockets appeared, persisted, or
// vanished between rounds. Not threadsafe.
type SocketCache struct {
	current  map[uint64]*SocketInfo
	previous map[uint64]*SocketInfo
	cycles   int64
}

// NewSocketCache creates a cache with room for a typical host's socket
// table. The maps are resized every cycle, so the initial capacity only
// matters for the first round.
func NewSocketCache() *SocketCache {
	return &SocketCache{
		current:  make(map[uint64]*SocketInfo, 1000),
		previous: make(map[uint64]*SocketInfo),
	}
}

// key returns the stable identity of a SocketInfo across polling rounds.
func key(s *SocketInfo) uint64 {
	switch s.Kind {
	case KindInet:
		return s.Inet.Msg.ID.Cookie()
	case KindUnix:
		return uint64(s.Unix.Inode)
	case KindNetlink:
		return uint64(s.Netlink.Inode)
	case KindPacket:
		return uint64(s.Packet.Inode)
	}
	return 0
}

// Update records one socket seen in the current round and returns the
// previous round's record for the same socket, or nil if it is new.
func (c *SocketCache) Update(s *SocketInfo) *SocketInfo {
	k := key(s)
	c.current[k] = s
	evicted, ok := c.previous[k]
	if ok {
		delete(c.previous, k)
	}
	return evicted
}

// EndCycle marks the completion of one polling round. It returns every
// socket from the prior round that was not seen again, i.e. the sockets
// that closed since then.
func (c *SocketCache) EndCycle() map[uint64]*SocketInfo {
	metrics.CacheSizeHistogram.Observe(float64(len(c.current)))
	tmp := c.previous
	c.previous = c.current
	// Allocate a bit more than the previous size to accommodate new
	// connections without immediate rehashing.
	c.current = make(map[uint64]*SocketInfo, len(c.previous)+len(c.previous)/10+10)
	c.cycles++
	return tmp
}

// CycleCount returns the number of completed polling rounds.
func (c *SocketCache) CycleCount() int64 { return c.cycles }
