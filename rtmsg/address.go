package rtmsg

import (
	"net"

	"github.com/m-lab/netlinkctl/nlerr"
	"github.com/mdlayher/netlink"
)

// Address is the typed model of an RTM_*ADDR message.
type Address struct {
	Header IfAddrmsg

	Local     net.IP
	Address   net.IP
	Broadcast net.IP
	Anycast   net.IP
	Multicast net.IP
	Label     string
	Flags     uint32 // IFA_FLAGS (supersedes Header.Flags when present)
}

// IsPermanent reports whether the address carries IFA_F_PERMANENT.
func (a *Address) IsPermanent() bool { return a.effectiveFlags()&IFA_F_PERMANENT != 0 }

func (a *Address) effectiveFlags() uint32 {
	if a.Flags != 0 {
		return a.Flags
	}
	return uint32(a.Header.Flags)
}

// Build validates and encodes the address into a full RTM message payload.
//
// Broadcast is only meaningful for IPv4; the kernel rejects an IPv6
// broadcast attribute, so Build rejects it at the client instead of
// letting the round trip to the kernel discover the mistake.
func (a *Address) Build() ([]byte, error) {
	if a.Broadcast != nil && a.Header.Family == AF_INET6 {
		return nil, nlerr.NewValidationError("broadcast", "broadcast address is only valid for AF_INET")
	}

	b := make([]byte, SizeofIfAddrmsg)
	a.Header.encode(b)

	ae := netlink.NewAttributeEncoder()
	ae.ByteOrder = NativeEndian
	if a.Local != nil {
		ae.Bytes(IFA_LOCAL, familyBytes(a.Header.Family, a.Local))
	}
	if a.Address != nil {
		ae.Bytes(IFA_ADDRESS, familyBytes(a.Header.Family, a.Address))
	}
	if a.Broadcast != nil {
		ae.Bytes(IFA_BROADCAST, familyBytes(a.Header.Family, a.Broadcast))
	}
	if a.Anycast != nil {
		ae.Bytes(IFA_ANYCAST, familyBytes(a.Header.Family, a.Anycast))
	}
	if a.Label != "" {
		ae.String(IFA_LABEL, a.Label)
	}
	if a.Flags != 0 {
		ae.Uint32(IFA_FLAGS, a.Flags)
	}

	attrs, err := ae.Encode()
	if err != nil {
		return nil, err
	}
	return append(b, attrs...), nil
}

// familyBytes returns ip in its 4-byte form for AF_INET, 16-byte for
// AF_INET6, matching the length the kernel expects in the attribute.
func familyBytes(family uint8, ip net.IP) []byte {
	if family == AF_INET {
		if v4 := ip.To4(); v4 != nil {
			return v4
		}
	}
	if v6 := ip.To16(); v6 != nil {
		return v6
	}
	return ip
}

// ParseAddress decodes a full RTM_*ADDR payload into an Address.
func ParseAddress(b []byte) (*Address, error) {
	a := &Address{}
	if err := a.Header.decode(b); err != nil {
		return nil, err
	}
	if len(b) == SizeofIfAddrmsg {
		return a, nil
	}
	ad, err := netlink.NewAttributeDecoder(b[SizeofIfAddrmsg:])
	if err != nil {
		return nil, err
	}
	ad.ByteOrder = NativeEndian
	for ad.Next() {
		switch ad.Type() {
		case IFA_LOCAL:
			a.Local = append(net.IP(nil), ad.Bytes()...)
		case IFA_ADDRESS:
			a.Address = append(net.IP(nil), ad.Bytes()...)
		case IFA_BROADCAST:
			a.Broadcast = append(net.IP(nil), ad.Bytes()...)
		case IFA_ANYCAST:
			a.Anycast = append(net.IP(nil), ad.Bytes()...)
		case IFA_MULTICAST:
			a.Multicast = append(net.IP(nil), ad.Bytes()...)
		case IFA_LABEL:
			a.Label = ad.String()
		case IFA_FLAGS:
			a.Flags = ad.Uint32()
		}
	}
	if err := ad.Err(); err != nil {
		return nil, nlerr.ErrBadMsgData
	}
	return a, nil
}
