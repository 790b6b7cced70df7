package rtmsg

import (
	"net"

	"github.com/m-lab/netlinkctl/nlerr"
	"github.com/mdlayher/netlink"
)

// Link is the typed model of an RTM_*LINK message: ifinfomsg plus its
// optional attribute set.
type Link struct {
	Header IfInfomsg

	Name      string
	Address   net.HardwareAddr
	Broadcast net.HardwareAddr
	MTU       uint32
	Link      int32  // IFLA_LINK: ifindex of the underlying device (vlan, veth peer, ...)
	Master    int32  // IFLA_MASTER: ifindex of the bonding/bridge master, 0 if none
	TxQLen    uint32
	OperState uint8
	Alias     string
	Group     uint32

	// Kind is the IFLA_INFO_KIND string (e.g. "veth", "bridge", "dummy");
	// Data is the kind-specific nested payload (opaque — kind packages
	// decode it further), and SlaveKind/SlaveData mirror that for the
	// slave side of a master/slave relationship (e.g. a bonded NIC).
	Kind      string
	Data      []byte
	SlaveKind string
	SlaveData []byte

	// forceMaster makes Build emit IFLA_MASTER even when Master is zero:
	// an explicit zero is how the kernel is told to release a slave from
	// its bridge/bond, distinct from "leave enslavement alone".
	forceMaster bool
}

// IsUp reports whether the link carries IFF_UP.
func (l *Link) IsUp() bool { return l.Header.Flags&IFF_UP != 0 }

// Build encodes the link into a full RTM message payload (header + attrs).
func (l *Link) Build() ([]byte, error) {
	b := make([]byte, SizeofIfInfomsg)
	l.Header.encode(b)

	ae := netlink.NewAttributeEncoder()
	ae.ByteOrder = NativeEndian
	if l.Name != "" {
		ae.String(IFLA_IFNAME, l.Name)
	}
	if l.Address != nil {
		ae.Bytes(IFLA_ADDRESS, l.Address)
	}
	if l.Broadcast != nil {
		ae.Bytes(IFLA_BROADCAST, l.Broadcast)
	}
	if l.MTU != 0 {
		ae.Uint32(IFLA_MTU, l.MTU)
	}
	if l.Link != 0 {
		ae.Int32(IFLA_LINK, l.Link)
	}
	if l.Master != 0 || l.forceMaster {
		ae.Int32(IFLA_MASTER, l.Master)
	}
	if l.TxQLen != 0 {
		ae.Uint32(IFLA_TXQLEN, l.TxQLen)
	}
	if l.Alias != "" {
		ae.String(IFLA_IFALIAS, l.Alias)
	}
	if l.Group != 0 {
		ae.Uint32(IFLA_GROUP, l.Group)
	}
	if l.Kind != "" {
		ae.Nested(IFLA_LINKINFO, func(nae *netlink.AttributeEncoder) error {
			nae.String(IFLA_INFO_KIND, l.Kind)
			if l.Data != nil {
				nae.Bytes(IFLA_INFO_DATA, l.Data)
			}
			return nil
		})
	}

	attrs, err := ae.Encode()
	if err != nil {
		return nil, err
	}
	return append(b, attrs...), nil
}

// ParseLink decodes a full RTM_*LINK payload (header + attrs) into a Link.
func ParseLink(b []byte) (*Link, error) {
	l := &Link{}
	if err := l.Header.decode(b); err != nil {
		return nil, err
	}
	if len(b) == SizeofIfInfomsg {
		return l, nil
	}
	ad, err := netlink.NewAttributeDecoder(b[SizeofIfInfomsg:])
	if err != nil {
		return nil, err
	}
	ad.ByteOrder = NativeEndian
	for ad.Next() {
		switch ad.Type() {
		case IFLA_IFNAME:
			l.Name = ad.String()
		case IFLA_ADDRESS:
			l.Address = append(net.HardwareAddr(nil), ad.Bytes()...)
		case IFLA_BROADCAST:
			l.Broadcast = append(net.HardwareAddr(nil), ad.Bytes()...)
		case IFLA_MTU:
			l.MTU = ad.Uint32()
		case IFLA_LINK:
			l.Link = int32(ad.Uint32())
		case IFLA_MASTER:
			l.Master = int32(ad.Uint32())
		case IFLA_TXQLEN:
			l.TxQLen = ad.Uint32()
		case IFLA_OPERSTATE:
			b := ad.Bytes()
			if len(b) > 0 {
				l.OperState = b[0]
			}
		case IFLA_IFALIAS:
			l.Alias = ad.String()
		case IFLA_GROUP:
			l.Group = ad.Uint32()
		case IFLA_LINKINFO:
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				for nad.Next() {
					switch nad.Type() {
					case IFLA_INFO_KIND:
						l.Kind = nad.String()
					case IFLA_INFO_DATA:
						l.Data = append([]byte(nil), nad.Bytes()...)
					case IFLA_INFO_SLAVE_KIND:
						l.SlaveKind = nad.String()
					case IFLA_INFO_SLAVE_DATA:
						l.SlaveData = append([]byte(nil), nad.Bytes()...)
					}
				}
				return nad.Err()
			})
		}
	}
	if err := ad.Err(); err != nil {
		return nil, nlerr.ErrBadMsgData
	}
	return l, nil
}

// LinkChanges is the mutable subset of link attributes RTM_SETLINK can
// modify: up/down, MTU, master, alias, group, name, address, tx queue len.
type LinkChanges struct {
	SetUp     *bool
	SetMTU    *uint32
	SetMaster *int32 // nil: leave unchanged; &0: clear master
	SetName   *string
	SetAddr   net.HardwareAddr
	SetTxQLen *uint32
	SetAlias  *string
	SetGroup  *uint32
}

// IsEmpty reports whether no field is set.
func (c *LinkChanges) IsEmpty() bool {
	return c.SetUp == nil && c.SetMTU == nil && c.SetMaster == nil &&
		c.SetName == nil && c.SetAddr == nil && c.SetTxQLen == nil &&
		c.SetAlias == nil && c.SetGroup == nil
}

// Apply builds the Link payload RTM_SETLINK needs to apply these changes
// to the interface identified by ifindex.
func (c *LinkChanges) Apply(ifindex int32) *Link {
	l := &Link{Header: IfInfomsg{Index: ifindex}}
	if c.SetUp != nil {
		l.Header.Change |= IFF_UP
		if *c.SetUp {
			l.Header.Flags |= IFF_UP
		}
	}
	if c.SetMTU != nil {
		l.MTU = *c.SetMTU
	}
	if c.SetMaster != nil {
		l.Master = *c.SetMaster
		l.forceMaster = true
	}
	if c.SetName != nil {
		l.Name = *c.SetName
	}
	if c.SetAddr != nil {
		l.Address = c.SetAddr
	}
	if c.SetTxQLen != nil {
		l.TxQLen = *c.SetTxQLen
	}
	if c.SetAlias != nil {
		l.Alias = *c.SetAlias
	}
	if c.SetGroup != nil {
		l.Group = *c.SetGroup
	}
	return l
}
