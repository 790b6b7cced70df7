package rtmsg

import "github.com/mdlayher/netlink"

// HTB's TCA_HTB_* nested attributes and the tc_htb_opt fixed struct.
const (
	tcHtbOptSize   = 40 // struct tc_htb_opt: tc_ratespec(8) x2 + 5 u32 + pad
	tcRatespecSize = 8

	rateTableCells = 256
	rateTableCell  = 8 // bytes per cell
)

const (
	TCA_HTB_PARMS = iota + 1
	TCA_HTB_INIT
	TCA_HTB_CTAB
	TCA_HTB_RTAB
	TCA_HTB_DIRECT_QLEN
	TCA_HTB_RATE64
	TCA_HTB_CEIL64
	TCA_HTB_OFFLOAD
)

// HTBClassOptions is the decoded/builder form of an HTB class's TCA_OPTIONS
// (htb is classful; the class carries the rate-limit parameters).
type HTBClassOptions struct {
	Rate    uint64 // bytes/sec
	Ceil    uint64 // bytes/sec
	Burst   uint32 // bytes; derived from Rate+MTU when zero
	CBurst  uint32 // bytes; derived from Ceil+MTU when zero
	Quantum uint32
	MTU     uint32 // used only to derive Burst/CBurst defaults; default 1600
	Prio    uint32
}

// saturateU32 clamps v to uint32 range; the 32-bit wire field saturates for
// rates >= 2^32.
func saturateU32(v uint64) uint32 {
	if v > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(v)
}

func defaultBurst(rateBps uint64, mtu uint32) uint32 {
	if mtu == 0 {
		mtu = 1600
	}
	// A conventional rule of thumb also used by iproute2: at least enough
	// buffer to send one MTU within one timer tick (assumed 10ms here).
	b := uint32(rateBps/100) + mtu
	if b < mtu {
		b = mtu
	}
	return b
}

// computeRateTable builds a 256-entry table mapping cell index to the
// microseconds needed to transmit `(cell index + 1) * 8` bytes at rateBps,
// saturated to uint32.
func computeRateTable(rateBps uint64) [rateTableCells]uint32 {
	var tab [rateTableCells]uint32
	if rateBps == 0 {
		return tab
	}
	for i := 0; i < rateTableCells; i++ {
		size := uint64(i+1) * rateTableCell
		usec := size * 1000000 / rateBps
		tab[i] = saturateU32(usec)
	}
	return tab
}

// Encode renders the HTB class options as a TCA_OPTIONS payload: the fixed
// tc_htb_opt header (two tc_ratespec blocks plus buffer/cbuffer/quantum),
// the rtab/ctab rate tables, and the 64-bit rate/ceil overflow attributes
// when the requested rate or ceiling does not fit in 32 bits.
func (o *HTBClassOptions) Encode() ([]byte, error) {
	burst, cburst := o.Burst, o.CBurst
	if burst == 0 {
		burst = defaultBurst(o.Rate, o.MTU)
	}
	if cburst == 0 {
		cburst = defaultBurst(o.Ceil, o.MTU)
	}

	b := make([]byte, tcHtbOptSize)
	// tc_ratespec{rate(u32), mpu(u16), overhead(u16), cell_log... } — the
	// kernel's struct only actually uses the first 4 bytes (rate) plus
	// padding for wire purposes here; buffer/cbuffer/quantum/prio follow.
	NativeEndian.PutUint32(b[0:4], saturateU32(o.Rate))
	NativeEndian.PutUint32(b[tcRatespecSize:tcRatespecSize+4], saturateU32(o.Ceil))
	NativeEndian.PutUint32(b[16:20], burst)
	NativeEndian.PutUint32(b[20:24], cburst)
	NativeEndian.PutUint32(b[24:28], o.Quantum)
	level := uint32(0)
	NativeEndian.PutUint32(b[28:32], level)
	NativeEndian.PutUint32(b[32:36], o.Prio)

	ae := netlink.NewAttributeEncoder()
	ae.ByteOrder = NativeEndian
	ae.Bytes(TCA_HTB_PARMS, b)

	rtab := computeRateTable(o.Rate)
	ctab := computeRateTable(o.Ceil)
	ae.Bytes(TCA_HTB_RTAB, u32sToBytes(rtab[:]))
	ae.Bytes(TCA_HTB_CTAB, u32sToBytes(ctab[:]))

	if o.Rate >= 1<<32 {
		ae.Uint64(TCA_HTB_RATE64, o.Rate)
	}
	if o.Ceil >= 1<<32 {
		ae.Uint64(TCA_HTB_CEIL64, o.Ceil)
	}

	attrs, err := ae.Encode()
	if err != nil {
		return nil, err
	}
	return attrs, nil
}

func u32sToBytes(tab []uint32) []byte {
	b := make([]byte, len(tab)*4)
	for i, v := range tab {
		NativeEndian.PutUint32(b[i*4:i*4+4], v)
	}
	return b
}

// DecodeHTBClassOptions parses an HTB class's TCA_OPTIONS payload.
func DecodeHTBClassOptions(b []byte) (*HTBClassOptions, error) {
	o := &HTBClassOptions{}
	ad, err := netlink.NewAttributeDecoder(b)
	if err != nil {
		return nil, err
	}
	ad.ByteOrder = NativeEndian
	for ad.Next() {
		switch ad.Type() {
		case TCA_HTB_PARMS:
			pb := ad.Bytes()
			if len(pb) >= 32 {
				o.Rate = uint64(NativeEndian.Uint32(pb[0:4]))
				o.Ceil = uint64(NativeEndian.Uint32(pb[tcRatespecSize : tcRatespecSize+4]))
				o.Burst = NativeEndian.Uint32(pb[16:20])
				o.CBurst = NativeEndian.Uint32(pb[20:24])
				o.Quantum = NativeEndian.Uint32(pb[24:28])
			}
			if len(pb) >= 36 {
				o.Prio = NativeEndian.Uint32(pb[32:36])
			}
		case TCA_HTB_RATE64:
			o.Rate = ad.Uint64()
		case TCA_HTB_CEIL64:
			o.Ceil = ad.Uint64()
		}
	}
	if err := ad.Err(); err != nil {
		return nil, err
	}
	return o, nil
}
