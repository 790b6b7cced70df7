// Package mptcp is the MPTCP generic-netlink client: endpoint
// management (id, address, port, device, signal/subflow/backup/fullmesh
// flags) and connection limits (max subflows, max accepted ADD_ADDR),
// over the kernel's mptcp_pm generic-netlink family using
// github.com/mdlayher/genetlink and github.com/mdlayher/netlink.
// FlushEndpoints is delete-all, matching `ip mptcp endpoint flush`.
package mptcp

import (
	"fmt"
	"net/netip"

	"github.com/m-lab/netlinkctl/genl"
	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

const familyName = "mptcp_pm"

// mptcp_pm generic-netlink commands and attribute ids (uapi/linux/mptcp_pm.h).
const (
	cmdAddAddr     = 1
	cmdDelAddr     = 2
	cmdGetAddr     = 3
	cmdFlushAddrs  = 4
	cmdSetLimits   = 5
	cmdGetLimits   = 6

	attrAddr = 1

	attrAddrID    = 1
	attrAddrFlags = 2
	attrAddrIface = 3
	attrAddrFamily = 4
	attrAddr4      = 5
	attrAddr6      = 6
	attrAddrPort   = 7

	flagSignal   = 1 << 0
	flagSubflow  = 1 << 1
	flagBackup   = 1 << 2
	flagFullmesh = 1 << 8

	attrLimitsRcvAddAddr = 1
	attrLimitsSubflows   = 2
)

// Flags is the signal/subflow/backup/fullmesh flag set for an endpoint.
type Flags struct {
	Signal   bool
	Subflow  bool
	Backup   bool
	Fullmesh bool
}

func (f Flags) encode() uint32 {
	var v uint32
	if f.Signal {
		v |= flagSignal
	}
	if f.Subflow {
		v |= flagSubflow
	}
	if f.Backup {
		v |= flagBackup
	}
	if f.Fullmesh {
		v |= flagFullmesh
	}
	return v
}

func decodeFlags(v uint32) Flags {
	return Flags{
		Signal:   v&flagSignal != 0,
		Subflow:  v&flagSubflow != 0,
		Backup:   v&flagBackup != 0,
		Fullmesh: v&flagFullmesh != 0,
	}
}

// Endpoint is a configured or to-be-configured MPTCP path-manager
// endpoint.
type Endpoint struct {
	ID      uint8
	Address netip.Addr
	Port    uint16 // 0 = unset
	Ifindex int32  // 0 = unset
	Flags   Flags
}

// Limits is the connection-wide MPTCP path-manager configuration.
type Limits struct {
	MaxSubflows      uint32
	MaxAddAddrAccept uint32
}

// Client issues MPTCP path-manager generic-netlink commands.
type Client struct {
	r      *genl.Resolver
	family uint16
}

// NewClient resolves the mptcp_pm family over an existing genl.Resolver.
func NewClient(r *genl.Resolver) (*Client, error) {
	f, err := r.Resolve(familyName)
	if err != nil {
		return nil, err
	}
	return &Client{r: r, family: f.ID}, nil
}

// Endpoints lists every configured endpoint.
func (c *Client) Endpoints() ([]Endpoint, error) {
	msgs, err := c.r.Conn().Execute(
		genetlink.Message{Header: genetlink.Header{Command: cmdGetAddr, Version: 1}},
		c.family,
		netlink.Request|netlink.Dump,
	)
	if err != nil {
		return nil, fmt.Errorf("mptcp: get endpoints: %w", err)
	}
	out := make([]Endpoint, 0, len(msgs))
	for _, m := range msgs {
		ep, err := parseEndpoint(m.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, nil
}

func parseEndpoint(data []byte) (Endpoint, error) {
	var ep Endpoint
	ad, err := netlink.NewAttributeDecoder(data)
	if err != nil {
		return ep, err
	}
	for ad.Next() {
		if ad.Type() != attrAddr {
			continue
		}
		nad, err := netlink.NewAttributeDecoder(ad.Bytes())
		if err != nil {
			return ep, err
		}
		for nad.Next() {
			switch nad.Type() {
			case attrAddrID:
				ep.ID = nad.Uint8()
			case attrAddrFlags:
				ep.Flags = decodeFlags(nad.Uint32())
			case attrAddrIface:
				ep.Ifindex = int32(nad.Uint32())
			case attrAddr4:
				b := nad.Bytes()
				if len(b) == 4 {
					ep.Address = netip.AddrFrom4([4]byte(b))
				}
			case attrAddr6:
				b := nad.Bytes()
				if len(b) == 16 {
					ep.Address = netip.AddrFrom16([16]byte(b))
				}
			case attrAddrPort:
				ep.Port = nad.Uint16()
			}
		}
		if err := nad.Err(); err != nil {
			return ep, err
		}
	}
	return ep, ad.Err()
}

// AddEndpoint creates a new endpoint. If ep.ID is zero, the kernel assigns
// one.
func (c *Client) AddEndpoint(ep Endpoint) error {
	ae := netlink.NewAttributeEncoder()
	ae.Nested(attrAddr, func(nae *netlink.AttributeEncoder) error {
		encodeEndpoint(nae, ep)
		return nil
	})
	b, err := ae.Encode()
	if err != nil {
		return err
	}
	_, err = c.r.Conn().Execute(
		genetlink.Message{Header: genetlink.Header{Command: cmdAddAddr, Version: 1}, Data: b},
		c.family,
		netlink.Request|netlink.Acknowledge,
	)
	if err != nil {
		return fmt.Errorf("mptcp: add endpoint: %w", err)
	}
	return nil
}

func encodeEndpoint(ae *netlink.AttributeEncoder, ep Endpoint) {
	if ep.ID != 0 {
		ae.Uint8(attrAddrID, ep.ID)
	}
	ae.Uint32(attrAddrFlags, ep.Flags.encode())
	if ep.Ifindex != 0 {
		ae.Uint32(attrAddrIface, uint32(ep.Ifindex))
	}
	if ep.Address.Is4() {
		ae.Uint16(attrAddrFamily, unix.AF_INET)
		b := ep.Address.As4()
		ae.Bytes(attrAddr4, b[:])
	} else if ep.Address.Is6() {
		ae.Uint16(attrAddrFamily, unix.AF_INET6)
		b := ep.Address.As16()
		ae.Bytes(attrAddr6, b[:])
	}
	if ep.Port != 0 {
		ae.Uint16(attrAddrPort, ep.Port)
	}
}

// DeleteEndpoint removes the endpoint with the given id.
func (c *Client) DeleteEndpoint(id uint8) error {
	ae := netlink.NewAttributeEncoder()
	ae.Nested(attrAddr, func(nae *netlink.AttributeEncoder) error {
		nae.Uint8(attrAddrID, id)
		return nil
	})
	b, err := ae.Encode()
	if err != nil {
		return err
	}
	_, err = c.r.Conn().Execute(
		genetlink.Message{Header: genetlink.Header{Command: cmdDelAddr, Version: 1}, Data: b},
		c.family,
		netlink.Request|netlink.Acknowledge,
	)
	if err != nil {
		return fmt.Errorf("mptcp: delete endpoint %d: %w", id, err)
	}
	return nil
}

// FlushEndpoints deletes every configured endpoint.
func (c *Client) FlushEndpoints() error {
	_, err := c.r.Conn().Execute(
		genetlink.Message{Header: genetlink.Header{Command: cmdFlushAddrs, Version: 1}},
		c.family,
		netlink.Request|netlink.Acknowledge,
	)
	if err != nil {
		return fmt.Errorf("mptcp: flush endpoints: %w", err)
	}
	return nil
}

// GetLimits fetches the current path-manager limits.
func (c *Client) GetLimits() (Limits, error) {
	msgs, err := c.r.Conn().Execute(
		genetlink.Message{Header: genetlink.Header{Command: cmdGetLimits, Version: 1}},
		c.family,
		netlink.Request,
	)
	if err != nil {
		return Limits{}, fmt.Errorf("mptcp: get limits: %w", err)
	}
	if len(msgs) != 1 {
		return Limits{}, fmt.Errorf("mptcp: unexpected number of limits messages: %d", len(msgs))
	}
	return parseLimits(msgs[0].Data)
}

func parseLimits(data []byte) (Limits, error) {
	var l Limits
	ad, err := netlink.NewAttributeDecoder(data)
	if err != nil {
		return l, err
	}
	for ad.Next() {
		switch ad.Type() {
		case attrLimitsRcvAddAddr:
			l.MaxAddAddrAccept = ad.Uint32()
		case attrLimitsSubflows:
			l.MaxSubflows = ad.Uint32()
		}
	}
	return l, ad.Err()
}

// SetLimits applies new path-manager limits.
func (c *Client) SetLimits(l Limits) error {
	ae := netlink.NewAttributeEncoder()
	ae.Uint32(attrLimitsRcvAddAddr, l.MaxAddAddrAccept)
	ae.Uint32(attrLimitsSubflows, l.MaxSubflows)
	b, err := ae.Encode()
	if err != nil {
		return err
	}
	_, err = c.r.Conn().Execute(
		genetlink.Message{Header: genetlink.Header{Command: cmdSetLimits, Version: 1}, Data: b},
		c.family,
		netlink.Request|netlink.Acknowledge,
	)
	if err != nil {
		return fmt.Errorf("mptcp: set limits: %w", err)
	}
	return nil
}
