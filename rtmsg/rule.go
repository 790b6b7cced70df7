package rtmsg

import (
	"net"

	"github.com/m-lab/netlinkctl/nlerr"
	"github.com/mdlayher/netlink"
)

// Rule is the typed model of an RTM_*RULE message. Priority is the stable
// identity used for deletion.
type Rule struct {
	Header Rtmsg

	Priority uint32
	Table    uint32
	Dst      net.IP
	Src      net.IP
	IifName  string
	OifName  string
	FwMark   uint32
	FwMask   uint32
	Goto     uint32
}

// Build encodes the rule into a full RTM message payload.
func (r *Rule) Build() ([]byte, error) {
	b := make([]byte, SizeofRtmsg)
	r.Header.encode(b)

	ae := netlink.NewAttributeEncoder()
	ae.ByteOrder = NativeEndian
	if r.Priority != 0 {
		ae.Uint32(FRA_PRIORITY, r.Priority)
	}
	if r.Table != 0 {
		ae.Uint32(FRA_TABLE, r.Table)
	}
	if r.Dst != nil {
		ae.Bytes(FRA_DST, familyBytes(r.Header.Family, r.Dst))
	}
	if r.Src != nil {
		ae.Bytes(FRA_SRC, familyBytes(r.Header.Family, r.Src))
	}
	if r.IifName != "" {
		ae.String(FRA_IIFNAME, r.IifName)
	}
	if r.OifName != "" {
		ae.String(FRA_OIFNAME, r.OifName)
	}
	if r.FwMark != 0 {
		ae.Uint32(FRA_FWMARK, r.FwMark)
	}
	if r.FwMask != 0 {
		ae.Uint32(FRA_FWMASK, r.FwMask)
	}
	if r.Goto != 0 {
		ae.Uint32(FRA_GOTO, r.Goto)
	}

	attrs, err := ae.Encode()
	if err != nil {
		return nil, err
	}
	return append(b, attrs...), nil
}

// ParseRule decodes a full RTM_*RULE payload into a Rule.
func ParseRule(b []byte) (*Rule, error) {
	r := &Rule{}
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
		case FRA_PRIORITY:
			r.Priority = ad.Uint32()
		case FRA_TABLE:
			r.Table = ad.Uint32()
		case FRA_DST:
			r.Dst = append(net.IP(nil), ad.Bytes()...)
		case FRA_SRC:
			r.Src = append(net.IP(nil), ad.Bytes()...)
		case FRA_IIFNAME:
			r.IifName = ad.String()
		case FRA_OIFNAME:
			r.OifName = ad.String()
		case FRA_FWMARK:
			r.FwMark = ad.Uint32()
		case FRA_FWMASK:
			r.FwMask = ad.Uint32()
		case FRA_GOTO:
			r.Goto = ad.Uint32()
		}
	}
	if err := ad.Err(); err != nil {
		return nil, nlerr.ErrBadMsgData
	}
	return r, nil
}
