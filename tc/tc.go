// Package tc is the qdisc/class/filter/action kind catalog: small
// typed builders over rtmsg's opaque Options bytes for the kinds this
// toolkit gives first-class treatment to, plus the kind-name constants for
// everything else a caller may still attach by raw options. netem and HTB
// have full option codecs in rtmsg; the rest pass through opaquely.
package tc

import "github.com/m-lab/netlinkctl/rtmsg"

// Qdisc kinds.
const (
	KindNoqueue   = "noqueue"
	KindPfifo     = "pfifo"
	KindBfifo     = "bfifo"
	KindPfifoFast = "pfifo_fast"
	KindPrio      = "prio"
	KindSfq       = "sfq"
	KindTbf       = "tbf"
	KindHTB       = "htb"
	KindHfsc      = "hfsc"
	KindNetem     = "netem"
	KindFq        = "fq"
	KindFqCodel   = "fq_codel"
	KindCake      = "cake"
	KindIngress   = "ingress"
	KindClsact    = "clsact"
	KindNoop      = "noop"
)

// Filter kinds.
const (
	FilterBasic    = "basic"
	FilterU32      = "u32"
	FilterFlower   = "flower"
	FilterFw       = "fw"
	FilterRoute    = "route"
	FilterMatchall = "matchall"
	FilterBPF      = "bpf"
	FilterCgroup   = "cgroup"
)

// Action kinds.
const (
	ActionGact     = "gact"
	ActionMirred   = "mirred"
	ActionPolice   = "police"
	ActionNat      = "nat"
	ActionPedit    = "pedit"
	ActionCsum     = "csum"
	ActionSkbedit  = "skbedit"
	ActionBPF      = "bpf"
	ActionConnmark = "connmark"
)

// NewNetemQdisc builds a Qdisc attaching netem at handle/parent on ifindex.
func NewNetemQdisc(ifindex int32, handle, parent uint32, opts *rtmsg.NetemOptions) (*rtmsg.Qdisc, error) {
	options, err := opts.Encode()
	if err != nil {
		return nil, err
	}
	return &rtmsg.Qdisc{
		Header:  rtmsg.Tcmsg{Index: ifindex, Handle: handle, Parent: parent},
		Kind:    KindNetem,
		Options: options,
	}, nil
}

// NewHTBQdisc builds a bare HTB root qdisc (a default class id is required
// by the kernel but left to the caller via a subsequent Class add).
func NewHTBQdisc(ifindex int32, handle uint32, defaultClass uint32) *rtmsg.Qdisc {
	opts := make([]byte, 4)
	rtmsg.NativeEndian.PutUint32(opts, defaultClass)
	return &rtmsg.Qdisc{
		Header: rtmsg.Tcmsg{Index: ifindex, Handle: handle, Parent: rtmsg.TcHandleRoot},
		Kind:   KindHTB,
		Options: wrapHTBGlob(opts),
	}
}

// wrapHTBGlob encodes the root qdisc's TCA_HTB_INIT attribute (a
// tc_htb_glob carrying the default class id as its second field); other
// fields default to the kernel's own values when left zero.
func wrapHTBGlob(defCls []byte) []byte {
	b := make([]byte, 4+20) // attribute header + tc_htb_glob
	rtmsg.NativeEndian.PutUint16(b[0:2], uint16(len(b)))
	rtmsg.NativeEndian.PutUint16(b[2:4], rtmsg.TCA_HTB_INIT)
	copy(b[8:12], defCls) // offset of tc_htb_glob.defcls
	return b
}

// NewHTBClass builds an HTB class under parent with the given rate/ceiling.
func NewHTBClass(ifindex int32, parent, classID uint32, opts *rtmsg.HTBClassOptions) (*rtmsg.Class, error) {
	options, err := opts.Encode()
	if err != nil {
		return nil, err
	}
	return &rtmsg.Class{
		Header:  rtmsg.Tcmsg{Index: ifindex, Handle: classID, Parent: parent},
		Kind:    KindHTB,
		Options: options,
	}, nil
}

// tc_gen is the common header embedded in every action's fixed struct:
// index, capab, action, refcnt, bindcnt (5 x int32).
const sizeofTcGen = 20

// Generic action verdicts (TC_ACT_*).
const (
	ActOK      = 0
	ActReclass = 1
	ActShot    = 2
	ActPipe    = 3
	ActStolen  = 4
	ActQueued  = 5
	ActRepeat  = 6
	ActRedirect = 7
)

// NewGactAction builds a generic pass/drop-style action (e.g. ActShot to
// drop, ActOK to accept) as a filter Action.
func NewGactAction(verdict int32) *rtmsg.Action {
	parms := make([]byte, sizeofTcGen)
	rtmsg.NativeEndian.PutUint32(parms[8:12], uint32(verdict)) // tc_gen.action
	return &rtmsg.Action{Kind: ActionGact, Options: parms}
}

// Mirred "eaction" values distinguishing mirror from redirect.
const (
	MirredEgressMirror  = 1
	MirredEgressRedirect = 2
	MirredIngressMirror = 3
	MirredIngressRedirect = 4
)

// NewMirredAction builds a mirror-or-redirect-to-device action.
func NewMirredAction(eaction int32, toIfindex int32) *rtmsg.Action {
	parms := make([]byte, sizeofTcGen+8)
	rtmsg.NativeEndian.PutUint32(parms[sizeofTcGen:sizeofTcGen+4], uint32(eaction))
	rtmsg.NativeEndian.PutUint32(parms[sizeofTcGen+4:sizeofTcGen+8], uint32(toIfindex))
	return &rtmsg.Action{Kind: ActionMirred, Options: parms}
}
