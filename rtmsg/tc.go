package rtmsg

import (
	"github.com/m-lab/netlinkctl/nlerr"
	"github.com/mdlayher/netlink"
)

// Qdisc is the typed model of an RTM_*QDISC message.
type Qdisc struct {
	Header Tcmsg

	Kind    string
	Options []byte // kind-specific nested payload; see netem.go/htb.go for two of these
}

// IsRoot reports whether the qdisc is attached at the root of its device.
func (q *Qdisc) IsRoot() bool { return q.Header.Parent == TcHandleRoot }

// IsIngress reports whether the qdisc is the ingress qdisc of its device.
func (q *Qdisc) IsIngress() bool { return q.Header.Parent == TcHandleIngress }

func (q *Qdisc) Build() ([]byte, error) { return buildTc(&q.Header, q.Kind, q.Options) }

// ParseQdisc decodes a full RTM_*QDISC payload into a Qdisc.
func ParseQdisc(b []byte) (*Qdisc, error) {
	q := &Qdisc{}
	kind, opts, err := parseTc(&q.Header, b)
	if err != nil {
		return nil, err
	}
	q.Kind, q.Options = kind, opts
	return q, nil
}

// Class is the typed model of an RTM_*TCLASS message; only meaningful
// for classful qdiscs (htb, hfsc, ...).
type Class struct {
	Header Tcmsg

	Kind    string
	Options []byte
}

func (c *Class) Build() ([]byte, error) { return buildTc(&c.Header, c.Kind, c.Options) }

// ParseClass decodes a full RTM_*TCLASS payload into a Class.
func ParseClass(b []byte) (*Class, error) {
	c := &Class{}
	kind, opts, err := parseTc(&c.Header, b)
	if err != nil {
		return nil, err
	}
	c.Kind, c.Options = kind, opts
	return c, nil
}

// Action is one entry of a filter's action list, or a standalone
// RTM_*ACTION entry, indexed within its kind.
type Action struct {
	Kind    string
	Index   uint32
	Options []byte
}

func (a *Action) encode(ae *netlink.AttributeEncoder) error {
	ae.String(TCA_ACT_KIND, a.Kind)
	if a.Options != nil {
		ae.Bytes(TCA_ACT_OPTIONS, a.Options)
	}
	if a.Index != 0 {
		ae.Nested(TCA_ACT_STATS, func(sae *netlink.AttributeEncoder) error {
			sae.Uint32(1, a.Index)
			return nil
		})
	}
	return nil
}

func decodeAction(ad *netlink.AttributeDecoder) (*Action, error) {
	a := &Action{}
	for ad.Next() {
		switch ad.Type() {
		case TCA_ACT_KIND:
			a.Kind = ad.String()
		case TCA_ACT_OPTIONS:
			a.Options = append([]byte(nil), ad.Bytes()...)
		case TCA_ACT_INDEX:
			a.Index = ad.Uint32()
		}
	}
	return a, ad.Err()
}

// Filter is the typed model of an RTM_*TFILTER message; hosts one or
// more Actions via TCA_OPTIONS (kind-specific: e.g. a u32 filter nests a
// TCA_U32_ACT list).
type Filter struct {
	Header  Tcmsg
	Kind    string
	Options []byte
	Actions []*Action
}

func (f *Filter) Build() ([]byte, error) { return buildTc(&f.Header, f.Kind, f.Options) }

// ParseFilter decodes a full RTM_*TFILTER payload into a Filter. Actions
// are not decoded: ParseFilter leaves Actions nil, and the kind-specific
// TCA_OPTIONS payload, including any nested actions, stays raw in Options.
func ParseFilter(b []byte) (*Filter, error) {
	f := &Filter{}
	kind, opts, err := parseTc(&f.Header, b)
	if err != nil {
		return nil, err
	}
	f.Kind, f.Options = kind, opts
	return f, nil
}

func buildTc(h *Tcmsg, kind string, options []byte) ([]byte, error) {
	b := make([]byte, SizeofTcmsg)
	h.encode(b)

	ae := netlink.NewAttributeEncoder()
	ae.ByteOrder = NativeEndian
	if kind != "" {
		ae.String(TCA_KIND, kind)
	}
	if options != nil {
		ae.Bytes(TCA_OPTIONS, options)
	}
	attrs, err := ae.Encode()
	if err != nil {
		return nil, err
	}
	return append(b, attrs...), nil
}

func parseTc(h *Tcmsg, b []byte) (kind string, options []byte, err error) {
	if err = h.decode(b); err != nil {
		return "", nil, err
	}
	if len(b) == SizeofTcmsg {
		return "", nil, nil
	}
	ad, err := netlink.NewAttributeDecoder(b[SizeofTcmsg:])
	if err != nil {
		return "", nil, err
	}
	ad.ByteOrder = NativeEndian
	for ad.Next() {
		switch ad.Type() {
		case TCA_KIND:
			kind = ad.String()
		case TCA_OPTIONS:
			options = append([]byte(nil), ad.Bytes()...)
		}
	}
	if err := ad.Err(); err != nil {
		return "", nil, nlerr.ErrBadMsgData
	}
	return kind, options, nil
}
