package rtmsg

import (
	"net"

	"github.com/m-lab/netlinkctl/nlerr"
	"github.com/mdlayher/netlink"
)

// RouteMetrics mirrors the RTA_METRICS nested attribute.
type RouteMetrics struct {
	AdvMSS   uint32
	Features uint32
	InitCwnd uint32
	MTU      uint32
}

func (m *RouteMetrics) isEmpty() bool {
	return m.AdvMSS == 0 && m.Features == 0 && m.InitCwnd == 0 && m.MTU == 0
}

func (m *RouteMetrics) decode(ad *netlink.AttributeDecoder) error {
	for ad.Next() {
		switch ad.Type() {
		case RTAX_ADVMSS:
			m.AdvMSS = ad.Uint32()
		case RTAX_FEATURES:
			m.Features = ad.Uint32()
		case RTAX_INITCWND:
			m.InitCwnd = ad.Uint32()
		case RTAX_MTU:
			m.MTU = ad.Uint32()
		}
	}
	return nil
}

func (m *RouteMetrics) encode(ae *netlink.AttributeEncoder) error {
	if m.AdvMSS != 0 {
		ae.Uint32(RTAX_ADVMSS, m.AdvMSS)
	}
	if m.Features != 0 {
		ae.Uint32(RTAX_FEATURES, m.Features)
	}
	if m.InitCwnd != 0 {
		ae.Uint32(RTAX_INITCWND, m.InitCwnd)
	}
	if m.MTU != 0 {
		ae.Uint32(RTAX_MTU, m.MTU)
	}
	return nil
}

// NextHop is one member of a multipath route (RTA_MULTIPATH).
type NextHop struct {
	Flags   uint8
	Weight  uint8
	IfIndex int32
	Gateway net.IP
}

// Route is the typed model of an RTM_*ROUTE message.
type Route struct {
	Header Rtmsg

	Dst      net.IP
	Src      net.IP
	Gateway  net.IP
	OutIface int32
	Priority uint32
	Table    uint32 // RTA_TABLE; supersedes Header.Table when > 255
	Mark     uint32
	Expires  *uint32
	Metrics  *RouteMetrics
	MultiPath []NextHop
}

// IsDefault reports whether the route is a default route (0-length prefix).
func (r *Route) IsDefault() bool { return r.Header.DstLen == 0 }

// IsIPv4 reports whether the route's family is AF_INET.
func (r *Route) IsIPv4() bool { return r.Header.Family == AF_INET }

// EffectiveTable returns the resolved routing table id, defaulting to the
// main table (254) when neither the header byte nor RTA_TABLE carries it.
func (r *Route) EffectiveTable() uint32 {
	if r.Table != 0 {
		return r.Table
	}
	if r.Header.Table != 0 {
		return uint32(r.Header.Table)
	}
	return RT_TABLE_MAIN
}

// Build encodes the route into a full RTM message payload.
func (r *Route) Build() ([]byte, error) {
	b := make([]byte, SizeofRtmsg)
	r.Header.encode(b)

	ae := netlink.NewAttributeEncoder()
	ae.ByteOrder = NativeEndian
	if r.Dst != nil {
		ae.Bytes(RTA_DST, familyBytes(r.Header.Family, r.Dst))
	}
	if r.Src != nil {
		ae.Bytes(RTA_SRC, familyBytes(r.Header.Family, r.Src))
	}
	if r.Gateway != nil {
		ae.Bytes(RTA_GATEWAY, familyBytes(r.Header.Family, r.Gateway))
	}
	if r.OutIface != 0 {
		ae.Int32(RTA_OIF, r.OutIface)
	}
	if r.Priority != 0 {
		ae.Uint32(RTA_PRIORITY, r.Priority)
	}
	if r.Table >= 256 {
		ae.Uint32(RTA_TABLE, r.Table)
	}
	if r.Mark != 0 {
		ae.Uint32(RTA_MARK, r.Mark)
	}
	if r.Expires != nil {
		ae.Uint32(RTA_EXPIRES, *r.Expires)
	}
	if r.Metrics != nil && !r.Metrics.isEmpty() {
		ae.Nested(RTA_METRICS, r.Metrics.encode)
	}
	if len(r.MultiPath) > 0 {
		ae.Do(RTA_MULTIPATH, func() ([]byte, error) { return encodeMultiPath(r.MultiPath) })
	}

	attrs, err := ae.Encode()
	if err != nil {
		return nil, err
	}
	return append(b, attrs...), nil
}

// ParseRoute decodes a full RTM_*ROUTE payload into a Route.
func ParseRoute(b []byte) (*Route, error) {
	r := &Route{}
	if err := r.Header.decode(b); err != nil {
		return nil, err
	}
	if len(b) == SizeofRtmsg {
		return r, nil
	}
	ad, err := netlink.NewAttributeDecoder(b[SizeofRtmsg:])
	if err != nil {
		return nil, err
	}
	ad.ByteOrder = NativeEndian
	for ad.Next() {
		switch ad.Type() {
		case RTA_DST:
			r.Dst = append(net.IP(nil), ad.Bytes()...)
		case RTA_SRC:
			r.Src = append(net.IP(nil), ad.Bytes()...)
		case RTA_GATEWAY:
			r.Gateway = append(net.IP(nil), ad.Bytes()...)
		case RTA_OIF:
			r.OutIface = int32(ad.Uint32())
		case RTA_PRIORITY:
			r.Priority = ad.Uint32()
		case RTA_TABLE:
			r.Table = ad.Uint32()
		case RTA_MARK:
			r.Mark = ad.Uint32()
		case RTA_EXPIRES:
			v := ad.Uint32()
			r.Expires = &v
		case RTA_METRICS:
			r.Metrics = &RouteMetrics{}
			ad.Nested(r.Metrics.decode)
		case RTA_MULTIPATH:
			hops, err := decodeMultiPath(ad.Bytes())
			if err != nil {
				return nil, err
			}
			r.MultiPath = hops
		}
	}
	if err := ad.Err(); err != nil {
		return nil, nlerr.ErrBadMsgData
	}
	return r, nil
}

// SizeofRtNexthop is the encoded size of struct rtnexthop.
const SizeofRtNexthop = 8

func decodeMultiPath(data []byte) ([]NextHop, error) {
	var hops []NextHop
	i := 0
	for i+SizeofRtNexthop <= len(data) {
		length := int(NativeEndian.Uint16(data[i : i+2]))
		if length < SizeofRtNexthop || i+length > len(data) {
			return nil, nlerr.ErrBadMsgData
		}
		hop := NextHop{
			Flags:   data[i+2],
			Weight:  data[i+3],
			IfIndex: int32(NativeEndian.Uint32(data[i+4 : i+8])),
		}
		if length > SizeofRtNexthop {
			nad, err := netlink.NewAttributeDecoder(data[i+SizeofRtNexthop : i+length])
			if err == nil {
				nad.ByteOrder = NativeEndian
				for nad.Next() {
					if nad.Type() == RTA_GATEWAY {
						hop.Gateway = append(net.IP(nil), nad.Bytes()...)
					}
				}
			}
		}
		hops = append(hops, hop)
		i += length
	}
	return hops, nil
}

func encodeMultiPath(hops []NextHop) ([]byte, error) {
	var out []byte
	for _, hop := range hops {
		var gwAttr []byte
		if hop.Gateway != nil {
			ae := netlink.NewAttributeEncoder()
			ae.ByteOrder = NativeEndian
			ae.Bytes(RTA_GATEWAY, hop.Gateway)
			a, err := ae.Encode()
			if err != nil {
				return nil, err
			}
			gwAttr = a
		}
		length := SizeofRtNexthop + len(gwAttr)
		entry := make([]byte, length)
		NativeEndian.PutUint16(entry[0:2], uint16(length))
		entry[2] = hop.Flags
		entry[3] = hop.Weight
		NativeEndian.PutUint32(entry[4:8], uint32(hop.IfIndex))
		copy(entry[SizeofRtNexthop:], gwAttr)
		out = append(out, entry...)
	}
	return out, nil
}
