package netlink

import (
	"log"

	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"
)

func defaultLogRestoreFailure(err error) {
	log.Printf("netlink: failed to restore origin network namespace: %v", err)
}

// joinGroup/leaveGroup set NETLINK_ADD_MEMBERSHIP / NETLINK_DROP_MEMBERSHIP
// on the socket's underlying file descriptor. nl.NetlinkSocket does not
// expose group (un)subscription beyond what nl.SubscribeAt accepts at
// creation time, so group changes after open go through the raw fd.
func joinGroup(sock *nl.NetlinkSocket, group uint32) error {
	return unix.SetsockoptInt(sock.GetFd(), unix.SOL_NETLINK, unix.NETLINK_ADD_MEMBERSHIP, int(group))
}

func leaveGroup(sock *nl.NetlinkSocket, group uint32) error {
	return unix.SetsockoptInt(sock.GetFd(), unix.SOL_NETLINK, unix.NETLINK_DROP_MEMBERSHIP, int(group))
}
