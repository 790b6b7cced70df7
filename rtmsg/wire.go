// Package rtmsg is the typed message model for route-netlink objects:
// fixed headers, attribute-id enums, and the builders/parsers that turn
// them into and out of TLV-encoded payloads. It treats attribute payloads
// as opaque until a specific message type claims them, matching the codec
// contract described for NETLINK_ROUTE in the kernel's rtnetlink(7).
//
// Message bodies are built and parsed with mdlayher/netlink's
// AttributeEncoder/AttributeDecoder, the same approach github.com/
// jsimonetti/rtnetlink uses; the request/reply socket plumbing lives in
// the sibling request package.
package rtmsg

import "encoding/binary"

// NativeEndian is the machine's byte order for netlink header and fixed
// attribute fields (netlink uses host byte order except where an attribute
// explicitly sets NLA_F_NET_BYTEORDER).
var NativeEndian binary.ByteOrder = nativeEndian()

func nativeEndian() binary.ByteOrder {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, 1)
	if buf[0] == 1 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Route message types (RTM_*), per rtnetlink(7).
const (
	RTM_NEWLINK = 16
	RTM_DELLINK = 17
	RTM_GETLINK = 18
	RTM_SETLINK = 19

	RTM_NEWADDR = 20
	RTM_DELADDR = 21
	RTM_GETADDR = 22

	RTM_NEWROUTE = 24
	RTM_DELROUTE = 25
	RTM_GETROUTE = 26

	RTM_NEWNEIGH = 28
	RTM_DELNEIGH = 29
	RTM_GETNEIGH = 30

	RTM_NEWRULE = 32
	RTM_DELRULE = 33
	RTM_GETRULE = 34

	RTM_NEWQDISC = 36
	RTM_DELQDISC = 37
	RTM_GETQDISC = 38

	RTM_NEWTCLASS = 40
	RTM_DELTCLASS = 41
	RTM_GETTCLASS = 42

	RTM_NEWTFILTER = 44
	RTM_DELTFILTER = 45
	RTM_GETTFILTER = 46

	RTM_NEWACTION = 48
	RTM_DELACTION = 49
	RTM_GETACTION = 50

	RTM_NEWNEIGHTBL = 64
	RTM_GETNEIGHTBL = 66

	RTM_NEWNEXTHOP = 104
	RTM_DELNEXTHOP = 105
	RTM_GETNEXTHOP = 106

	RTM_NEWFDB = 79 // bridge forwarding database uses RTM_*NEIGH's family-overload trick
	RTM_DELFDB = 80
	RTM_GETFDB = 81
)

// Address families, per socket(2) / rtnetlink(7).
const (
	AF_UNSPEC  = 0
	AF_UNIX    = 1
	AF_INET    = 2
	AF_BRIDGE  = 7
	AF_INET6   = 10
	AF_NETLINK = 16
	AF_PACKET  = 17
	AF_VSOCK   = 40
)

// Interface flags (net/if.h IFF_*).
const (
	IFF_UP          = 1 << 0
	IFF_BROADCAST   = 1 << 1
	IFF_DEBUG       = 1 << 2
	IFF_LOOPBACK    = 1 << 3
	IFF_POINTOPOINT = 1 << 4
	IFF_NOTRAILERS  = 1 << 5
	IFF_RUNNING     = 1 << 6
	IFF_NOARP       = 1 << 7
	IFF_PROMISC     = 1 << 8
	IFF_ALLMULTI    = 1 << 9
	IFF_MASTER      = 1 << 10
	IFF_SLAVE       = 1 << 11
	IFF_MULTICAST   = 1 << 12
	IFF_DYNAMIC     = 1 << 15
)

// Neighbor states (NUD_*).
const (
	NUD_INCOMPLETE = 1 << 0
	NUD_REACHABLE  = 1 << 1
	NUD_STALE      = 1 << 2
	NUD_DELAY      = 1 << 3
	NUD_PROBE      = 1 << 4
	NUD_FAILED     = 1 << 5
	NUD_NOARP      = 1 << 6
	NUD_PERMANENT  = 1 << 7
)

// Neighbor flags (NTF_*).
const (
	NTF_SELF       = 1 << 1
	NTF_MASTER     = 1 << 2
	NTF_PROXY      = 1 << 3
	NTF_EXT_LEARNED = 1 << 4
	NTF_ROUTER     = 1 << 7
)

// Route scopes (RT_SCOPE_*).
const (
	RT_SCOPE_UNIVERSE = 0
	RT_SCOPE_SITE     = 200
	RT_SCOPE_LINK     = 253
	RT_SCOPE_HOST     = 254
	RT_SCOPE_NOWHERE  = 255
)

// Route types (RTN_*).
const (
	RTN_UNSPEC      = 0
	RTN_UNICAST     = 1
	RTN_LOCAL       = 2
	RTN_BROADCAST   = 3
	RTN_ANYCAST     = 4
	RTN_MULTICAST   = 5
	RTN_BLACKHOLE   = 6
	RTN_UNREACHABLE = 7
	RTN_PROHIBIT    = 8
	RTN_THROW       = 9
)

// Route protocols (RTPROT_*).
const (
	RTPROT_UNSPEC   = 0
	RTPROT_REDIRECT = 1
	RTPROT_KERNEL   = 2
	RTPROT_BOOT     = 3
	RTPROT_STATIC   = 4
)

// Well-known routing table ids.
const (
	RT_TABLE_UNSPEC  = 0
	RT_TABLE_DEFAULT = 253
	RT_TABLE_MAIN    = 254
	RT_TABLE_LOCAL   = 255
)

// Nexthop flags (RTNH_F_*).
const (
	RTNH_F_DEAD      = 1 << 0
	RTNH_F_PERVASIVE = 1 << 1
	RTNH_F_ONLINK    = 1 << 2
)

// Rule actions (FR_ACT_*).
const (
	FR_ACT_UNSPEC      = 0
	FR_ACT_TO_TBL      = 1
	FR_ACT_GOTO        = 2
	FR_ACT_NOP         = 3
	FR_ACT_BLACKHOLE   = 6
	FR_ACT_UNREACHABLE = 7
	FR_ACT_PROHIBIT    = 8
)

// IFLA_* link attribute ids.
const (
	IFLA_UNSPEC = iota
	IFLA_ADDRESS
	IFLA_BROADCAST
	IFLA_IFNAME
	IFLA_MTU
	IFLA_LINK
	IFLA_QDISC
	IFLA_STATS
	IFLA_COST
	IFLA_PRIORITY
	IFLA_MASTER
	IFLA_WIRELESS
	IFLA_PROTINFO
	IFLA_TXQLEN
	IFLA_MAP
	IFLA_WEIGHT
	IFLA_OPERSTATE
	IFLA_LINKMODE
	IFLA_LINKINFO
	IFLA_NET_NS_PID
	IFLA_IFALIAS
	IFLA_NUM_VF
	IFLA_VFINFO_LIST
	IFLA_STATS64
	IFLA_VF_PORTS
	IFLA_PORT_SELF
	IFLA_AF_SPEC
	IFLA_GROUP
	IFLA_NET_NS_FD
	IFLA_EXT_MASK
	IFLA_PROMISCUITY
	IFLA_NUM_TX_QUEUES
	IFLA_NUM_RX_QUEUES
	IFLA_CARRIER
	IFLA_PHYS_PORT_ID
	IFLA_CARRIER_CHANGES
	IFLA_PHYS_SWITCH_ID
	IFLA_LINK_NETNSID
	IFLA_PHYS_PORT_NAME
	IFLA_PROTO_DOWN
	IFLA_GSO_MAX_SEGS
	IFLA_GSO_MAX_SIZE
	IFLA_PAD
	IFLA_XDP
	IFLA_EVENT
	IFLA_NEW_NETNSID
	IFLA_IF_NETNSID
	IFLA_TARGET_NETNSID = IFLA_IF_NETNSID
	IFLA_CARRIER_UP_COUNT
	IFLA_CARRIER_DOWN_COUNT
	IFLA_NEW_IFINDEX
	IFLA_MIN_MTU
	IFLA_MAX_MTU
)

// IFLA_INFO_* (nested inside IFLA_LINKINFO).
const (
	IFLA_INFO_UNSPEC = iota
	IFLA_INFO_KIND
	IFLA_INFO_DATA
	IFLA_INFO_XSTATS
	IFLA_INFO_SLAVE_KIND
	IFLA_INFO_SLAVE_DATA
)

// RTA_* route/address/neighbor attribute ids (shared attribute-id space
// across RTM_*ROUTE, RTM_*ADDR, RTM_*NEIGH per rtnetlink(7)).
const (
	RTA_UNSPEC = iota
	RTA_DST
	RTA_SRC
	RTA_IIF
	RTA_OIF
	RTA_GATEWAY
	RTA_PRIORITY
	RTA_PREFSRC
	RTA_METRICS
	RTA_MULTIPATH
	RTA_PROTOINFO
	RTA_FLOW
	RTA_CACHEINFO
	RTA_SESSION
	RTA_MP_ALGO
	RTA_TABLE
	RTA_MARK
	RTA_MFC_STATS
	RTA_VIA
	RTA_NEWDST
	RTA_PREF
	RTA_ENCAP_TYPE
	RTA_ENCAP
	RTA_EXPIRES
	RTA_PAD
	RTA_UID
	RTA_TTL_PROPAGATE
	RTA_IP_PROTO
	RTA_SPORT
	RTA_DPORT
	RTA_NH_ID
)

// RTAX_* metrics attribute ids, nested under RTA_METRICS.
const (
	RTAX_UNSPEC = iota
	RTAX_LOCK
	RTAX_MTU
	RTAX_WINDOW
	RTAX_RTT
	RTAX_RTTVAR
	RTAX_SSTHRESH
	RTAX_CWND
	RTAX_ADVMSS
	RTAX_REORDERING
	RTAX_HOPLIMIT
	RTAX_INITCWND
	RTAX_FEATURES
	RTAX_RTO_MIN
	RTAX_INITRWND
	RTAX_QUICKACK
)

// IFA_* address attribute ids.
const (
	IFA_UNSPEC = iota
	IFA_ADDRESS
	IFA_LOCAL
	IFA_LABEL
	IFA_BROADCAST
	IFA_ANYCAST
	IFA_CACHEINFO
	IFA_MULTICAST
	IFA_FLAGS
	IFA_RT_PRIORITY
	IFA_TARGET_NETNSID
)

// Address scopes (RT_SCOPE_* reused) and lifetime flags (IFA_F_*).
const (
	IFA_F_SECONDARY  = 0x01
	IFA_F_TEMPORARY  = IFA_F_SECONDARY
	IFA_F_NODAD      = 0x02
	IFA_F_OPTIMISTIC = 0x04
	IFA_F_DADFAILED  = 0x08
	IFA_F_HOMEADDRESS = 0x10
	IFA_F_DEPRECATED = 0x20
	IFA_F_TENTATIVE  = 0x40
	IFA_F_PERMANENT  = 0x80
)

// NDA_* neighbor attribute ids.
const (
	NDA_UNSPEC = iota
	NDA_DST
	NDA_LLADDR
	NDA_CACHEINFO
	NDA_PROBES
	NDA_VLAN
	NDA_PORT
	NDA_VNI
	NDA_IFINDEX
	NDA_MASTER
	NDA_LINK_NETNSID
	NDA_SRC_VNI
)

// FRA_* rule attribute ids.
const (
	FRA_UNSPEC = iota
	FRA_DST
	FRA_SRC
	FRA_IIFNAME
	FRA_GOTO
	FRA_UNUSED2
	FRA_PRIORITY
	FRA_UNUSED3
	FRA_UNUSED4
	FRA_UNUSED5
	FRA_FWMARK
	FRA_FLOW
	FRA_TUN_ID
	FRA_SUPPRESS_IFGROUP
	FRA_SUPPRESS_PREFIXLEN
	FRA_TABLE
	FRA_FWMASK
	FRA_OIFNAME
	FRA_PAD
	FRA_L3MDEV
	FRA_UID_RANGE
	FRA_PROTOCOL
	FRA_IP_PROTO
	FRA_SPORT_RANGE
	FRA_DPORT_RANGE
)

// TCA_* traffic-control attribute ids, shared by qdisc/class/filter messages.
const (
	TCA_UNSPEC = iota
	TCA_KIND
	TCA_OPTIONS
	TCA_STATS
	TCA_XSTATS
	TCA_RATE
	TCA_FCNT
	TCA_STATS2
	TCA_STAB
	TCA_PAD
	TCA_DUMP_INVISIBLE
	TCA_CHAIN
	TCA_HW_OFFLOAD
	TCA_INGRESS_BLOCK
	TCA_EGRESS_BLOCK
)

// TCA_ACT_* action-message attribute ids.
const (
	TCA_ACT_TAB = 1 // RTM_*ACTION root attribute: a nested list of actions
)

const (
	TCA_ACT_KIND = iota + 1
	TCA_ACT_OPTIONS
	TCA_ACT_INDEX
	TCA_ACT_STATS
)

// Nexthop (RTM_*NEXTHOP) attribute ids (NHA_*).
const (
	NHA_UNSPEC = iota
	NHA_ID
	NHA_GROUP
	NHA_GROUP_TYPE
	NHA_BLACKHOLE
	NHA_OIF
	NHA_GATEWAY
	NHA_ENCAP_TYPE
	NHA_ENCAP
	NHA_GROUPS
	NHA_MASTER
	NHA_FDB
)

// Nexthop group types (NEXTHOP_GRP_TYPE_*).
const (
	NexthopGroupTypeMultipath = 0
	NexthopGroupTypeResilient = 1
)
