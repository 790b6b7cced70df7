// Package wireguard is the WireGuard generic-netlink client: device
// get/set (private key, listen port, fwmark, peers) and peer configuration
// (public key, optional preshared key, endpoint, persistent-keepalive,
// allowed-IPs), over the kernel's wireguard generic-netlink family using
// github.com/mdlayher/genetlink and github.com/mdlayher/netlink.
//
// The getter never returns private keys; the setter accepts replace-peers
// and per-peer remove-me/replace-allowed-ips flags, and last-handshake
// decodes from the kernel's two-int64 timespec.
package wireguard

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"github.com/m-lab/netlinkctl/genl"
	"github.com/m-lab/netlinkctl/rtmsg"
	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

var nativeEndian binary.ByteOrder = rtmsg.NativeEndian

const familyName = "wireguard"

// KeyLen is the size in bytes of a WireGuard key.
const KeyLen = 32

// Key is a WireGuard public, private, or preshared key.
type Key [KeyLen]byte

// wgctrl-style generic-netlink command and attribute ids: the wireguard
// family does not ship these in golang.org/x/sys/unix, so they are the
// well-known constants from the upstream wireguard-linux uapi header.
const (
	cmdGetDevice = 0
	cmdSetDevice = 1

	attrDeviceIfindex     = 1
	attrDeviceIfname      = 2
	attrDevicePrivateKey  = 3
	attrDevicePublicKey   = 4
	attrDeviceFlags       = 5
	attrDeviceListenPort  = 6
	attrDeviceFwmark      = 7
	attrDevicePeers       = 8

	deviceFlagReplacePeers = 1 << 0

	attrPeerPublicKey           = 1
	attrPeerPresharedKey        = 2
	attrPeerFlags               = 3
	attrPeerEndpoint            = 4
	attrPeerPersistentKeepalive = 5
	attrPeerLastHandshakeTime   = 6
	attrPeerRxBytes             = 7
	attrPeerTxBytes             = 8
	attrPeerAllowedIPs          = 9
	attrPeerProtocolVersion     = 10

	peerFlagRemoveMe           = 1 << 0
	peerFlagReplaceAllowedIPs  = 1 << 1
	peerFlagUpdateOnly         = 1 << 2

	attrAllowedIPFamily = 1
	attrAllowedIPAddr   = 2
	attrAllowedIPCIDR   = 3
)

// AllowedIP is a peer's allowed source/destination range.
type AllowedIP struct {
	Prefix netip.Prefix
}

// Peer is a configured or to-be-configured WireGuard peer.
type Peer struct {
	PublicKey           Key
	PresharedKey         *Key
	Endpoint             *net.UDPAddr
	PersistentKeepalive  uint16 // seconds, 0 = disabled
	LastHandshakeSeconds int64
	LastHandshakeNanos   int64
	RxBytes, TxBytes     uint64
	AllowedIPs           []AllowedIP
	ProtocolVersion      uint32

	remove            bool
	replaceAllowedIPs bool
}

// HasHandshake reports whether the peer has ever completed a handshake.
func (p Peer) HasHandshake() bool {
	return p.LastHandshakeSeconds != 0 || p.LastHandshakeNanos != 0
}

// RemovePeer marks a peer for removal in a device Set call.
func RemovePeer(publicKey Key) Peer {
	return Peer{PublicKey: publicKey, remove: true}
}

// ReplaceAllowedIPs marks this peer's allowed-IP list to be replaced rather
// than merged during a device Set call.
func (p Peer) ReplaceAllowedIPs() Peer {
	p.replaceAllowedIPs = true
	return p
}

// Device is a WireGuard device's configuration. Get never returns
// PrivateKey: the kernel never reports it, by design.
type Device struct {
	Index      int
	Name       string
	PublicKey  *Key
	ListenPort uint16
	FWMark     uint32
	Peers      []Peer
}

// DeviceConfig is a set of changes to apply to a device; nil/zero fields
// are left unset.
type DeviceConfig struct {
	PrivateKey   *Key
	ListenPort   *uint16
	FWMark       *uint32
	ReplacePeers bool
	Peers        []Peer
}

// Client issues WireGuard generic-netlink commands.
type Client struct {
	r      *genl.Resolver
	family uint16
}

// NewClient resolves the wireguard family over an existing genl.Resolver.
func NewClient(r *genl.Resolver) (*Client, error) {
	f, err := r.Resolve(familyName)
	if err != nil {
		return nil, err
	}
	return &Client{r: r, family: f.ID}, nil
}

// Device fetches the current configuration of the named interface.
func (c *Client) Device(name string) (*Device, error) {
	ae := netlink.NewAttributeEncoder()
	ae.String(attrDeviceIfname, name)
	b, err := ae.Encode()
	if err != nil {
		return nil, err
	}
	msgs, err := c.r.Conn().Execute(
		genetlink.Message{Header: genetlink.Header{Command: cmdGetDevice, Version: 1}, Data: b},
		c.family,
		netlink.Request|netlink.Dump,
	)
	if err != nil {
		return nil, fmt.Errorf("wireguard: get device %s: %w", name, err)
	}
	return parseDevice(msgs)
}

func parseDevice(msgs []genetlink.Message) (*Device, error) {
	dev := &Device{}
	for _, m := range msgs {
		ad, err := netlink.NewAttributeDecoder(m.Data)
		if err != nil {
			return nil, err
		}
		for ad.Next() {
			switch ad.Type() {
			case attrDeviceIfindex:
				dev.Index = int(ad.Uint32())
			case attrDeviceIfname:
				dev.Name = ad.String()
			case attrDevicePublicKey:
				var k Key
				copy(k[:], ad.Bytes())
				dev.PublicKey = &k
			case attrDeviceListenPort:
				dev.ListenPort = ad.Uint16()
			case attrDeviceFwmark:
				dev.FWMark = ad.Uint32()
			case attrDevicePeers:
				peers, err := parsePeers(ad.Bytes())
				if err != nil {
					return nil, err
				}
				dev.Peers = append(dev.Peers, peers...)
			}
		}
		if err := ad.Err(); err != nil {
			return nil, err
		}
	}
	return dev, nil
}

func parsePeers(payload []byte) ([]Peer, error) {
	ad, err := netlink.NewAttributeDecoder(payload)
	if err != nil {
		return nil, err
	}
	var peers []Peer
	for ad.Next() {
		pad, err := netlink.NewAttributeDecoder(ad.Bytes())
		if err != nil {
			continue
		}
		var p Peer
		for pad.Next() {
			switch pad.Type() {
			case attrPeerPublicKey:
				copy(p.PublicKey[:], pad.Bytes())
			case attrPeerPresharedKey:
				var k Key
				copy(k[:], pad.Bytes())
				p.PresharedKey = &k
			case attrPeerEndpoint:
				p.Endpoint = parseEndpoint(pad.Bytes())
			case attrPeerPersistentKeepalive:
				p.PersistentKeepalive = pad.Uint16()
			case attrPeerLastHandshakeTime:
				secs, nsecs := parseTimespec(pad.Bytes())
				p.LastHandshakeSeconds, p.LastHandshakeNanos = secs, nsecs
			case attrPeerRxBytes:
				p.RxBytes = pad.Uint64()
			case attrPeerTxBytes:
				p.TxBytes = pad.Uint64()
			case attrPeerProtocolVersion:
				p.ProtocolVersion = pad.Uint32()
			case attrPeerAllowedIPs:
				ips, err := parseAllowedIPs(pad.Bytes())
				if err == nil {
					p.AllowedIPs = ips
				}
			}
		}
		if err := pad.Err(); err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, ad.Err()
}

func parseAllowedIPs(payload []byte) ([]AllowedIP, error) {
	ad, err := netlink.NewAttributeDecoder(payload)
	if err != nil {
		return nil, err
	}
	var ips []AllowedIP
	for ad.Next() {
		iad, err := netlink.NewAttributeDecoder(ad.Bytes())
		if err != nil {
			continue
		}
		var family uint16
		var addr []byte
		var cidr uint8
		for iad.Next() {
			switch iad.Type() {
			case attrAllowedIPFamily:
				family = iad.Uint16()
			case attrAllowedIPAddr:
				addr = iad.Bytes()
			case attrAllowedIPCIDR:
				cidr = iad.Uint8()
			}
		}
		if err := iad.Err(); err != nil {
			return nil, err
		}
		ip, ok := netip.AddrFromSlice(addr)
		if !ok {
			continue
		}
		_ = family
		prefix := netip.PrefixFrom(ip, int(cidr))
		ips = append(ips, AllowedIP{Prefix: prefix})
	}
	return ips, ad.Err()
}

func parseEndpoint(b []byte) *net.UDPAddr {
	// sockaddr_in / sockaddr_in6, matching the kernel's raw sockaddr dump.
	if len(b) < 16 {
		return nil
	}
	family := nativeEndian.Uint16(b[0:2])
	switch family {
	case unix.AF_INET:
		port := int(b[2])<<8 | int(b[3])
		ip := net.IPv4(b[4], b[5], b[6], b[7])
		return &net.UDPAddr{IP: ip, Port: port}
	case unix.AF_INET6:
		if len(b) < 28 {
			return nil
		}
		port := int(b[2])<<8 | int(b[3])
		ip := make(net.IP, 16)
		copy(ip, b[8:24])
		return &net.UDPAddr{IP: ip, Port: port}
	default:
		return nil
	}
}

// parseTimespec decodes the kernel's two-int64 (seconds, nanoseconds)
// last-handshake representation.
func parseTimespec(b []byte) (secs, nsecs int64) {
	if len(b) < 16 {
		return 0, 0
	}
	secs = int64(nativeEndian.Uint64(b[0:8]))
	nsecs = int64(nativeEndian.Uint64(b[8:16]))
	return secs, nsecs
}

// Set applies cfg to the named interface. The kernel rejects a Set that
// tries to read back a private key: this is a write-only attribute.
func (c *Client) Set(name string, cfg DeviceConfig) error {
	ae := netlink.NewAttributeEncoder()
	ae.String(attrDeviceIfname, name)
	if cfg.PrivateKey != nil {
		ae.Bytes(attrDevicePrivateKey, cfg.PrivateKey[:])
	}
	if cfg.ListenPort != nil {
		ae.Uint16(attrDeviceListenPort, *cfg.ListenPort)
	}
	if cfg.FWMark != nil {
		ae.Uint32(attrDeviceFwmark, *cfg.FWMark)
	}
	var flags uint32
	if cfg.ReplacePeers {
		flags |= deviceFlagReplacePeers
	}
	if flags != 0 {
		ae.Uint32(attrDeviceFlags, flags)
	}
	if len(cfg.Peers) > 0 {
		encodePeers(ae, cfg.Peers)
	}
	b, err := ae.Encode()
	if err != nil {
		return err
	}
	_, err = c.r.Conn().Execute(
		genetlink.Message{Header: genetlink.Header{Command: cmdSetDevice, Version: 1}, Data: b},
		c.family,
		netlink.Request|netlink.Acknowledge,
	)
	if err != nil {
		return fmt.Errorf("wireguard: set device %s: %w", name, err)
	}
	return nil
}

func encodePeers(ae *netlink.AttributeEncoder, peers []Peer) {
	ae.Nested(attrDevicePeers, func(nae *netlink.AttributeEncoder) error {
		for i, p := range peers {
			nae.Nested(uint16(i), func(pae *netlink.AttributeEncoder) error {
				pae.Bytes(attrPeerPublicKey, p.PublicKey[:])
				if p.PresharedKey != nil {
					pae.Bytes(attrPeerPresharedKey, p.PresharedKey[:])
				}
				var flags uint32
				if p.remove {
					flags |= peerFlagRemoveMe
				}
				if p.replaceAllowedIPs {
					flags |= peerFlagReplaceAllowedIPs
				}
				if flags != 0 {
					pae.Uint32(attrPeerFlags, flags)
				}
				if ep := p.Endpoint; ep != nil {
					// sockaddr_in / sockaddr_in6, the layout parseEndpoint reads.
					var sa []byte
					if ip4 := ep.IP.To4(); ip4 != nil {
						sa = make([]byte, 16)
						nativeEndian.PutUint16(sa[0:2], unix.AF_INET)
						copy(sa[4:8], ip4)
					} else {
						sa = make([]byte, 28)
						nativeEndian.PutUint16(sa[0:2], unix.AF_INET6)
						copy(sa[8:24], ep.IP.To16())
					}
					sa[2], sa[3] = byte(ep.Port>>8), byte(ep.Port)
					pae.Bytes(attrPeerEndpoint, sa)
				}
				if p.PersistentKeepalive != 0 {
					pae.Uint16(attrPeerPersistentKeepalive, p.PersistentKeepalive)
				}
				if len(p.AllowedIPs) > 0 {
					encodeAllowedIPs(pae, p.AllowedIPs)
				}
				return nil
			})
		}
		return nil
	})
}

func encodeAllowedIPs(ae *netlink.AttributeEncoder, ips []AllowedIP) {
	ae.Nested(attrPeerAllowedIPs, func(nae *netlink.AttributeEncoder) error {
		for i, ip := range ips {
			nae.Nested(uint16(i), func(iae *netlink.AttributeEncoder) error {
				if ip.Prefix.Addr().Is4() {
					iae.Uint16(attrAllowedIPFamily, unix.AF_INET)
				} else {
					iae.Uint16(attrAllowedIPFamily, unix.AF_INET6)
				}
				iae.Bytes(attrAllowedIPAddr, ip.Prefix.Addr().AsSlice())
				iae.Uint8(attrAllowedIPCIDR, uint8(ip.Prefix.Bits()))
				return nil
			})
		}
		return nil
	})
}
