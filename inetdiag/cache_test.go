package inetdiag

import (
	"encoding/binary"
	"testing"
)

func inetInfo(cookie uint64) *SocketInfo {
	msg := &InetDiagMsg{}
	binary.LittleEndian.PutUint64(msg.ID.IDiagCookie[:], cookie)
	return &SocketInfo{Kind: KindInet, Inet: &InetSocket{Msg: msg}}
}

func TestSocketCacheLifecycle(t *testing.T) {
	c := NewSocketCache()

	// Round 1: two sockets appear.
	if ev := c.Update(inetInfo(1)); ev != nil {
		t.Error("first sighting should evict nothing")
	}
	c.Update(inetInfo(2))
	closed := c.EndCycle()
	if len(closed) != 0 {
		t.Errorf("round 1 closed = %d, want 0", len(closed))
	}

	// Round 2: socket 1 persists, socket 2 is gone, socket 3 is new.
	if ev := c.Update(inetInfo(1)); ev == nil {
		t.Error("persisting socket should return its previous record")
	}
	c.Update(inetInfo(3))
	closed = c.EndCycle()
	if len(closed) != 1 {
		t.Fatalf("round 2 closed = %d, want 1", len(closed))
	}
	if _, ok := closed[2]; !ok {
		t.Error("socket with cookie 2 should be reported closed")
	}

	if c.CycleCount() != 2 {
		t.Errorf("CycleCount = %d, want 2", c.CycleCount())
	}
}

func TestSocketCacheKeyByFamily(t *testing.T) {
	u := &SocketInfo{Kind: KindUnix, Unix: &UnixSocket{Inode: 42}}
	if key(u) != 42 {
		t.Errorf("unix key = %d, want inode", key(u))
	}
	n := &SocketInfo{Kind: KindNetlink, Netlink: &NetlinkSocket{Inode: 7}}
	if key(n) != 7 {
		t.Errorf("netlink key = %d", key(n))
	}
	p := &SocketInfo{Kind: KindPacket, Packet: &PacketSocket{Inode: 9}}
	if key(p) != 9 {
		t.Errorf("packet key = %d", key(p))
	}
}
