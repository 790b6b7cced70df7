// Package ethtool is the ethtool generic-netlink client: per-interface
// settings (link state, ring sizes, channels, coalesce, pause, features)
// plus a subscribable change-event stream, built on the real
// ethtool_netlink uapi via github.com/mdlayher/genetlink and
// github.com/mdlayher/netlink. Link modes are not queried or set by this
// package. Requests carry the nested ETHTOOL_A_*_HEADER attribute with the
// compact-bitset flag set; feature bitsets decode through rtmsg.Bitset,
// which accepts both wire shapes.
package ethtool

import (
	"errors"
	"os"

	"github.com/m-lab/netlinkctl/genl"
	"github.com/m-lab/netlinkctl/rtmsg"
	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// Request identifies the interface an ethtool command targets, by index
// and/or name (the kernel accepts either).
type Request struct {
	Index int
	Name  string
}

// Client issues ethtool generic-netlink commands.
type Client struct {
	r      *genl.Resolver
	family uint16
}

// NewClient resolves the ethtool family over an existing genl.Resolver.
func NewClient(r *genl.Resolver) (*Client, error) {
	f, err := r.Resolve(unix.ETHTOOL_GENL_NAME)
	if err != nil {
		return nil, err
	}
	return &Client{r: r, family: f.ID}, nil
}

// LinkState reports whether the link is administratively/operationally up.
type LinkState struct {
	Index int
	Name  string
	Up    bool
}

// LinkStates fetches link state for every ethtool-supported interface.
func (c *Client) LinkStates() ([]*LinkState, error) {
	msgs, err := c.get(unix.ETHTOOL_A_LINKSTATE_HEADER, unix.ETHTOOL_MSG_LINKSTATE_GET, netlink.Dump, Request{})
	if err != nil {
		return nil, err
	}
	out := make([]*LinkState, 0, len(msgs))
	for _, m := range msgs {
		ls, err := parseLinkState(m.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, ls)
	}
	return out, nil
}

func parseLinkState(data []byte) (*LinkState, error) {
	ad, err := netlink.NewAttributeDecoder(data)
	if err != nil {
		return nil, err
	}
	ls := &LinkState{}
	for ad.Next() {
		switch ad.Type() {
		case unix.ETHTOOL_A_LINKSTATE_HEADER:
			ad.Nested(parseHeader(&ls.Index, &ls.Name))
		case unix.ETHTOOL_A_LINKSTATE_LINK:
			ls.Up = ad.Uint8() != 0
		}
	}
	return ls, ad.Err()
}

// Features is the active feature bitset for one interface; the wanted
// bitset is not decoded.
type Features struct {
	Index  int
	Name   string
	Active *rtmsg.Bitset
}

// FeaturesGet fetches the active feature bitset for r.
func (c *Client) FeaturesGet(r Request) (*Features, error) {
	msgs, err := c.get(unix.ETHTOOL_A_FEATURES_HEADER, unix.ETHTOOL_MSG_FEATURES_GET, 0, r)
	if err != nil {
		return nil, err
	}
	if len(msgs) != 1 {
		return nil, errUnexpectedCount
	}
	return parseFeatures(msgs[0].Data)
}

func parseFeatures(data []byte) (*Features, error) {
	ad, err := netlink.NewAttributeDecoder(data)
	if err != nil {
		return nil, err
	}
	f := &Features{}
	for ad.Next() {
		switch ad.Type() {
		case unix.ETHTOOL_A_FEATURES_HEADER:
			ad.Nested(parseHeader(&f.Index, &f.Name))
		case unix.ETHTOOL_A_FEATURES_ACTIVE:
			bs, err := rtmsg.DecodeBitset(ad.Bytes())
			if err != nil {
				return nil, err
			}
			f.Active = bs
		}
	}
	return f, ad.Err()
}

// FeaturesSet requests the kernel change the wanted feature bitset for r.
func (c *Client) FeaturesSet(r Request, wanted *rtmsg.Bitset) error {
	ae := netlink.NewAttributeEncoder()
	ae.Nested(unix.ETHTOOL_A_FEATURES_HEADER, func(nae *netlink.AttributeEncoder) error {
		encodeHeader(nae, r)
		return nil
	})
	rtmsg.EncodeBitsetCompact(ae, unix.ETHTOOL_A_FEATURES_WANTED, wanted)
	_, err := c.execute(unix.ETHTOOL_MSG_FEATURES_SET, 0, ae)
	return err
}

// Rings is a device's current and max ring-buffer sizes.
type Rings struct {
	Index                           int
	Name                            string
	RXMax, RXMiniMax, RXJumboMax    uint32
	TXMax                           uint32
	RX, RXMini, RXJumbo, TX         uint32
}

// RingsGet fetches ring sizes for r.
func (c *Client) RingsGet(r Request) (*Rings, error) {
	msgs, err := c.get(unix.ETHTOOL_A_RINGS_HEADER, unix.ETHTOOL_MSG_RINGS_GET, 0, r)
	if err != nil {
		return nil, err
	}
	if len(msgs) != 1 {
		return nil, errUnexpectedCount
	}
	return parseRings(msgs[0].Data)
}

func parseRings(data []byte) (*Rings, error) {
	ad, err := netlink.NewAttributeDecoder(data)
	if err != nil {
		return nil, err
	}
	rg := &Rings{}
	for ad.Next() {
		switch ad.Type() {
		case unix.ETHTOOL_A_RINGS_HEADER:
			ad.Nested(parseHeader(&rg.Index, &rg.Name))
		case unix.ETHTOOL_A_RINGS_RX_MAX:
			rg.RXMax = ad.Uint32()
		case unix.ETHTOOL_A_RINGS_RX_MINI_MAX:
			rg.RXMiniMax = ad.Uint32()
		case unix.ETHTOOL_A_RINGS_RX_JUMBO_MAX:
			rg.RXJumboMax = ad.Uint32()
		case unix.ETHTOOL_A_RINGS_TX_MAX:
			rg.TXMax = ad.Uint32()
		case unix.ETHTOOL_A_RINGS_RX:
			rg.RX = ad.Uint32()
		case unix.ETHTOOL_A_RINGS_RX_MINI:
			rg.RXMini = ad.Uint32()
		case unix.ETHTOOL_A_RINGS_RX_JUMBO:
			rg.RXJumbo = ad.Uint32()
		case unix.ETHTOOL_A_RINGS_TX:
			rg.TX = ad.Uint32()
		}
	}
	return rg, ad.Err()
}

// RingsSet requests new ring sizes for r; zero fields are left unset.
func (c *Client) RingsSet(r Request, rx, rxMini, rxJumbo, tx uint32) error {
	ae := netlink.NewAttributeEncoder()
	ae.Nested(unix.ETHTOOL_A_RINGS_HEADER, func(nae *netlink.AttributeEncoder) error {
		encodeHeader(nae, r)
		return nil
	})
	if rx > 0 {
		ae.Uint32(unix.ETHTOOL_A_RINGS_RX, rx)
	}
	if rxMini > 0 {
		ae.Uint32(unix.ETHTOOL_A_RINGS_RX_MINI, rxMini)
	}
	if rxJumbo > 0 {
		ae.Uint32(unix.ETHTOOL_A_RINGS_RX_JUMBO, rxJumbo)
	}
	if tx > 0 {
		ae.Uint32(unix.ETHTOOL_A_RINGS_TX, tx)
	}
	_, err := c.execute(unix.ETHTOOL_MSG_RINGS_SET, 0, ae)
	return err
}

// Channels is a device's current and max queue-channel counts.
type Channels struct {
	Index                                        int
	Name                                         string
	RXMax, TXMax, OtherMax, CombinedMax          uint32
	RX, TX, Other, Combined                      uint32
}

// ChannelsGet fetches channel counts for r.
func (c *Client) ChannelsGet(r Request) (*Channels, error) {
	msgs, err := c.get(unix.ETHTOOL_A_CHANNELS_HEADER, unix.ETHTOOL_MSG_CHANNELS_GET, 0, r)
	if err != nil {
		return nil, err
	}
	if len(msgs) != 1 {
		return nil, errUnexpectedCount
	}
	return parseChannels(msgs[0].Data)
}

func parseChannels(data []byte) (*Channels, error) {
	ad, err := netlink.NewAttributeDecoder(data)
	if err != nil {
		return nil, err
	}
	ch := &Channels{}
	for ad.Next() {
		switch ad.Type() {
		case unix.ETHTOOL_A_CHANNELS_HEADER:
			ad.Nested(parseHeader(&ch.Index, &ch.Name))
		case unix.ETHTOOL_A_CHANNELS_RX_MAX:
			ch.RXMax = ad.Uint32()
		case unix.ETHTOOL_A_CHANNELS_TX_MAX:
			ch.TXMax = ad.Uint32()
		case unix.ETHTOOL_A_CHANNELS_OTHER_MAX:
			ch.OtherMax = ad.Uint32()
		case unix.ETHTOOL_A_CHANNELS_COMBINED_MAX:
			ch.CombinedMax = ad.Uint32()
		case unix.ETHTOOL_A_CHANNELS_RX_COUNT:
			ch.RX = ad.Uint32()
		case unix.ETHTOOL_A_CHANNELS_TX_COUNT:
			ch.TX = ad.Uint32()
		case unix.ETHTOOL_A_CHANNELS_OTHER_COUNT:
			ch.Other = ad.Uint32()
		case unix.ETHTOOL_A_CHANNELS_COMBINED_COUNT:
			ch.Combined = ad.Uint32()
		}
	}
	return ch, ad.Err()
}

// Pause is a device's pause-frame configuration.
type Pause struct {
	Index       int
	Name        string
	Autoneg     bool
	RX, TX      bool
}

// PauseGet fetches pause settings for r.
func (c *Client) PauseGet(r Request) (*Pause, error) {
	msgs, err := c.get(unix.ETHTOOL_A_PAUSE_HEADER, unix.ETHTOOL_MSG_PAUSE_GET, 0, r)
	if err != nil {
		return nil, err
	}
	if len(msgs) != 1 {
		return nil, errUnexpectedCount
	}
	return parsePause(msgs[0].Data)
}

func parsePause(data []byte) (*Pause, error) {
	ad, err := netlink.NewAttributeDecoder(data)
	if err != nil {
		return nil, err
	}
	p := &Pause{}
	for ad.Next() {
		switch ad.Type() {
		case unix.ETHTOOL_A_PAUSE_HEADER:
			ad.Nested(parseHeader(&p.Index, &p.Name))
		case unix.ETHTOOL_A_PAUSE_AUTONEG:
			p.Autoneg = ad.Uint8() != 0
		case unix.ETHTOOL_A_PAUSE_RX:
			p.RX = ad.Uint8() != 0
		case unix.ETHTOOL_A_PAUSE_TX:
			p.TX = ad.Uint8() != 0
		}
	}
	return p, ad.Err()
}

// PauseSet requests new pause-frame settings for r.
func (c *Client) PauseSet(r Request, autoneg, rx, tx bool) error {
	ae := netlink.NewAttributeEncoder()
	ae.Nested(unix.ETHTOOL_A_PAUSE_HEADER, func(nae *netlink.AttributeEncoder) error {
		encodeHeader(nae, r)
		return nil
	})
	ae.Uint8(unix.ETHTOOL_A_PAUSE_AUTONEG, boolToUint8(autoneg))
	ae.Uint8(unix.ETHTOOL_A_PAUSE_RX, boolToUint8(rx))
	ae.Uint8(unix.ETHTOOL_A_PAUSE_TX, boolToUint8(tx))
	_, err := c.execute(unix.ETHTOOL_MSG_PAUSE_SET, 0, ae)
	return err
}

// Coalesce is a device's interrupt-coalescing configuration (µs/frames).
type Coalesce struct {
	Index                                 int
	Name                                  string
	RXUsecs, RXMaxFrames                  uint32
	TXUsecs, TXMaxFrames                  uint32
}

// CoalesceGet fetches coalesce settings for r.
func (c *Client) CoalesceGet(r Request) (*Coalesce, error) {
	msgs, err := c.get(unix.ETHTOOL_A_COALESCE_HEADER, unix.ETHTOOL_MSG_COALESCE_GET, 0, r)
	if err != nil {
		return nil, err
	}
	if len(msgs) != 1 {
		return nil, errUnexpectedCount
	}
	return parseCoalesce(msgs[0].Data)
}

func parseCoalesce(data []byte) (*Coalesce, error) {
	ad, err := netlink.NewAttributeDecoder(data)
	if err != nil {
		return nil, err
	}
	c := &Coalesce{}
	for ad.Next() {
		switch ad.Type() {
		case unix.ETHTOOL_A_COALESCE_HEADER:
			ad.Nested(parseHeader(&c.Index, &c.Name))
		case unix.ETHTOOL_A_COALESCE_RX_USECS:
			c.RXUsecs = ad.Uint32()
		case unix.ETHTOOL_A_COALESCE_RX_MAX_FRAMES:
			c.RXMaxFrames = ad.Uint32()
		case unix.ETHTOOL_A_COALESCE_TX_USECS:
			c.TXUsecs = ad.Uint32()
		case unix.ETHTOOL_A_COALESCE_TX_MAX_FRAMES:
			c.TXMaxFrames = ad.Uint32()
		}
	}
	return c, ad.Err()
}

// CoalesceSet requests new coalesce settings for r.
func (c *Client) CoalesceSet(r Request, rxUsecs, rxMaxFrames, txUsecs, txMaxFrames uint32) error {
	ae := netlink.NewAttributeEncoder()
	ae.Nested(unix.ETHTOOL_A_COALESCE_HEADER, func(nae *netlink.AttributeEncoder) error {
		encodeHeader(nae, r)
		return nil
	})
	ae.Uint32(unix.ETHTOOL_A_COALESCE_RX_USECS, rxUsecs)
	ae.Uint32(unix.ETHTOOL_A_COALESCE_RX_MAX_FRAMES, rxMaxFrames)
	ae.Uint32(unix.ETHTOOL_A_COALESCE_TX_USECS, txUsecs)
	ae.Uint32(unix.ETHTOOL_A_COALESCE_TX_MAX_FRAMES, txMaxFrames)
	_, err := c.execute(unix.ETHTOOL_MSG_COALESCE_SET, 0, ae)
	return err
}

// MonitorLinkState subscribes to ETHTOOL_MCGRP_MONITOR link-state change
// notifications, returning decoded LinkState events as they arrive.
func (c *Client) MonitorLinkState() (<-chan *LinkState, func() error, error) {
	f, err := c.r.Resolve(unix.ETHTOOL_GENL_NAME)
	if err != nil {
		return nil, nil, err
	}
	group, ok := f.Groups["monitor"]
	if !ok {
		return nil, nil, errors.New("ethtool: kernel family has no monitor multicast group")
	}
	conn := c.r.Conn()
	if err := conn.JoinGroup(group); err != nil {
		return nil, nil, err
	}
	ch := make(chan *LinkState)
	go func() {
		defer close(ch)
		for {
			msgs, _, err := conn.Receive()
			if err != nil {
				return
			}
			for _, m := range msgs {
				ls, err := parseLinkState(m.Data)
				if err != nil {
					continue
				}
				ch <- ls
			}
		}
	}()
	leave := func() error { return conn.LeaveGroup(group) }
	return ch, leave, nil
}

var errUnexpectedCount = errors.New("ethtool: unexpected number of response messages")

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func encodeHeader(nae *netlink.AttributeEncoder, r Request) {
	if r.Index > 0 {
		nae.Uint32(unix.ETHTOOL_A_HEADER_DEV_INDEX, uint32(r.Index))
	}
	if r.Name != "" {
		nae.String(unix.ETHTOOL_A_HEADER_DEV_NAME, r.Name)
	}
	nae.Uint32(unix.ETHTOOL_A_HEADER_FLAGS, unix.ETHTOOL_FLAG_COMPACT_BITSETS)
}

func parseHeader(index *int, name *string) func(*netlink.AttributeDecoder) error {
	return func(ad *netlink.AttributeDecoder) error {
		for ad.Next() {
			switch ad.Type() {
			case unix.ETHTOOL_A_HEADER_DEV_INDEX:
				*index = int(ad.Uint32())
			case unix.ETHTOOL_A_HEADER_DEV_NAME:
				*name = ad.String()
			}
		}
		return nil
	}
}

func (c *Client) get(header uint16, cmd uint8, flags netlink.HeaderFlags, r Request) ([]genetlink.Message, error) {
	if flags&netlink.Dump == 0 && r.Index == 0 && r.Name == "" {
		return nil, errors.New("ethtool: Request must have Index and/or Name set")
	}
	ae := netlink.NewAttributeEncoder()
	ae.Nested(header, func(nae *netlink.AttributeEncoder) error {
		encodeHeader(nae, r)
		return nil
	})
	msgs, err := c.execute(cmd, flags, ae)
	if err != nil {
		if errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENODEV) {
			return nil, os.ErrNotExist
		}
		return nil, err
	}
	return msgs, nil
}

func (c *Client) execute(cmd uint8, flags netlink.HeaderFlags, ae *netlink.AttributeEncoder) ([]genetlink.Message, error) {
	b, err := ae.Encode()
	if err != nil {
		return nil, err
	}
	return c.r.Conn().Execute(
		genetlink.Message{
			Header: genetlink.Header{Command: cmd, Version: unix.ETHTOOL_GENL_VERSION},
			Data:   b,
		},
		c.family,
		netlink.Request|flags,
	)
}
