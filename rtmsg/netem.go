package rtmsg

import (
	"github.com/m-lab/netlinkctl/nlerr"
	"github.com/mdlayher/netlink"
)

// netem's fixed-header struct (tc_netem_qopt) plus its TCA_NETEM_* nested
// attributes: both 32-bit and 64-bit latency/jitter/rate attributes exist;
// when the 64-bit variant is present it supersedes the corresponding
// 32-bit fixed-header field.
const tcNetemQoptSize = 24 // tc_netem_qopt: 6 x u32

const (
	TCA_NETEM_CORR = iota + 1
	TCA_NETEM_DELAY_DIST
	TCA_NETEM_REORDER
	TCA_NETEM_CORRUPT
	TCA_NETEM_LOSS
	TCA_NETEM_RATE
	TCA_NETEM_ECN
	TCA_NETEM_RATE64
	TCA_NETEM_PAD
	TCA_NETEM_LATENCY64
	TCA_NETEM_JITTER64
	TCA_NETEM_SLOT
	TCA_NETEM_SLOT_DIST
)

// NetemCorrelation models tc_netem_corr.
type NetemCorrelation struct {
	DelayCorr uint32
	LossCorr  uint32
	DupCorr   uint32
}

// NetemReorder models tc_netem_reorder.
type NetemReorder struct {
	Probability uint32
	Correlation uint32
}

// NetemCorrupt models tc_netem_corrupt.
type NetemCorrupt struct {
	Probability uint32
	Correlation uint32
}

// NetemRate is the 4-tuple rate sub-structure: rate, packet overhead,
// cell size, cell overhead.
type NetemRate struct {
	Rate           uint32
	PacketOverhead int32
	CellSize       uint32
	CellOverhead   int32
}

// NetemSlot models slot-based transmission (tc_netem_slot).
type NetemSlot struct {
	MinDelay   int64
	MaxDelay   int64
	MaxPackets int32
	MaxBytes   int32
	DistDelay  int64
	DistJitter int64
}

// NetemLossKind tags which loss model (if any) is in use.
type NetemLossKind int

const (
	NetemLossNone NetemLossKind = iota
	NetemLossGilbertIntuitive
	NetemLossGilbertElliot
)

// NetemGIModel is the 4-state Gilbert-intuitive loss model.
type NetemGIModel struct {
	P13, P31, P32, P23, P14 uint32
}

// NetemGEModel is the 2-state Gilbert-Elliot loss model.
type NetemGEModel struct {
	P, R, H, K1 uint32
}

// NetemOptions is the fully decoded netem option struct.
type NetemOptions struct {
	// Latency/Jitter/Limit/Loss/Gap/Duplicate/ReorderPct are the
	// tc_netem_qopt fixed fields, in microseconds for the time fields.
	Latency    uint32
	Jitter     uint32
	Limit      uint32
	LossPct    uint32 // 0..0xFFFFFFFF scaled percentage (qopt.loss)
	Gap        uint32
	Duplicate  uint32
	ReorderPct uint32

	Correlation *NetemCorrelation
	Reorder     *NetemReorder
	Corrupt     *NetemCorrupt
	Rate        *NetemRate
	Slot        *NetemSlot

	LossKind NetemLossKind
	GI       *NetemGIModel
	GE       *NetemGEModel

	// Latency64/Jitter64, when non-nil, supersede Latency/Jitter.
	Latency64 *int64
	Jitter64  *int64
}

// EffectiveLatencyNS returns the effective latency in nanoseconds,
// preferring the 64-bit attribute over the 32-bit (microsecond) field.
func (o *NetemOptions) EffectiveLatencyNS() int64 {
	if o.Latency64 != nil {
		return *o.Latency64
	}
	return int64(o.Latency) * 1000
}

// LossPercent renders LossPct (a fraction of 0xFFFFFFFF) as a 0..100 float.
func (o *NetemOptions) LossPercent() float64 {
	return float64(o.LossPct) / float64(^uint32(0)) * 100
}

// Encode renders the option struct as the TCA_OPTIONS payload for a netem
// qdisc: the fixed tc_netem_qopt header followed by nested attributes.
func (o *NetemOptions) Encode() ([]byte, error) {
	b := make([]byte, tcNetemQoptSize)
	NativeEndian.PutUint32(b[0:4], o.Latency)
	NativeEndian.PutUint32(b[4:8], o.LossPct)
	NativeEndian.PutUint32(b[8:12], o.Limit)
	NativeEndian.PutUint32(b[12:16], o.Gap)
	NativeEndian.PutUint32(b[16:20], o.Duplicate)
	NativeEndian.PutUint32(b[20:24], o.Jitter)

	ae := netlink.NewAttributeEncoder()
	ae.ByteOrder = NativeEndian
	if o.Correlation != nil {
		ae.Do(TCA_NETEM_CORR, func() ([]byte, error) {
			cb := make([]byte, 12)
			NativeEndian.PutUint32(cb[0:4], o.Correlation.DelayCorr)
			NativeEndian.PutUint32(cb[4:8], o.Correlation.LossCorr)
			NativeEndian.PutUint32(cb[8:12], o.Correlation.DupCorr)
			return cb, nil
		})
	}
	if o.Reorder != nil {
		ae.Do(TCA_NETEM_REORDER, func() ([]byte, error) {
			rb := make([]byte, 8)
			NativeEndian.PutUint32(rb[0:4], o.Reorder.Probability)
			NativeEndian.PutUint32(rb[4:8], o.Reorder.Correlation)
			return rb, nil
		})
	}
	if o.Corrupt != nil {
		ae.Do(TCA_NETEM_CORRUPT, func() ([]byte, error) {
			cb := make([]byte, 8)
			NativeEndian.PutUint32(cb[0:4], o.Corrupt.Probability)
			NativeEndian.PutUint32(cb[4:8], o.Corrupt.Correlation)
			return cb, nil
		})
	}
	if o.Rate != nil {
		ae.Do(TCA_NETEM_RATE, func() ([]byte, error) {
			rb := make([]byte, 16)
			NativeEndian.PutUint32(rb[0:4], o.Rate.Rate)
			NativeEndian.PutUint32(rb[4:8], uint32(o.Rate.PacketOverhead))
			NativeEndian.PutUint32(rb[8:12], o.Rate.CellSize)
			NativeEndian.PutUint32(rb[12:16], uint32(o.Rate.CellOverhead))
			return rb, nil
		})
		if uint64(o.Rate.Rate) >= 1<<32 {
			ae.Uint64(TCA_NETEM_RATE64, uint64(o.Rate.Rate))
		}
	}
	if o.Latency64 != nil {
		ae.Int64(TCA_NETEM_LATENCY64, *o.Latency64)
	}
	if o.Jitter64 != nil {
		ae.Int64(TCA_NETEM_JITTER64, *o.Jitter64)
	}

	attrs, err := ae.Encode()
	if err != nil {
		return nil, err
	}
	return append(b, attrs...), nil
}

// DecodeNetemOptions parses a netem qdisc's TCA_OPTIONS payload.
func DecodeNetemOptions(b []byte) (*NetemOptions, error) {
	o := &NetemOptions{}
	if len(b) < tcNetemQoptSize {
		return nil, nlerr.Truncated("tc_netem_qopt", tcNetemQoptSize, len(b))
	}
	o.Latency = NativeEndian.Uint32(b[0:4])
	o.LossPct = NativeEndian.Uint32(b[4:8])
	o.Limit = NativeEndian.Uint32(b[8:12])
	o.Gap = NativeEndian.Uint32(b[12:16])
	o.Duplicate = NativeEndian.Uint32(b[16:20])
	o.Jitter = NativeEndian.Uint32(b[20:24])

	if len(b) == tcNetemQoptSize {
		return o, nil
	}
	ad, err := netlink.NewAttributeDecoder(b[tcNetemQoptSize:])
	if err != nil {
		return nil, err
	}
	ad.ByteOrder = NativeEndian
	for ad.Next() {
		switch ad.Type() {
		case TCA_NETEM_CORR:
			cb := ad.Bytes()
			if len(cb) >= 12 {
				o.Correlation = &NetemCorrelation{
					DelayCorr: NativeEndian.Uint32(cb[0:4]),
					LossCorr:  NativeEndian.Uint32(cb[4:8]),
					DupCorr:   NativeEndian.Uint32(cb[8:12]),
				}
			}
		case TCA_NETEM_REORDER:
			rb := ad.Bytes()
			if len(rb) >= 8 {
				o.Reorder = &NetemReorder{
					Probability: NativeEndian.Uint32(rb[0:4]),
					Correlation: NativeEndian.Uint32(rb[4:8]),
				}
			}
		case TCA_NETEM_CORRUPT:
			cb := ad.Bytes()
			if len(cb) >= 8 {
				o.Corrupt = &NetemCorrupt{
					Probability: NativeEndian.Uint32(cb[0:4]),
					Correlation: NativeEndian.Uint32(cb[4:8]),
				}
			}
		case TCA_NETEM_RATE:
			rb := ad.Bytes()
			if len(rb) >= 16 {
				o.Rate = &NetemRate{
					Rate:           NativeEndian.Uint32(rb[0:4]),
					PacketOverhead: int32(NativeEndian.Uint32(rb[4:8])),
					CellSize:       NativeEndian.Uint32(rb[8:12]),
					CellOverhead:   int32(NativeEndian.Uint32(rb[12:16])),
				}
			}
		case TCA_NETEM_RATE64:
			v := ad.Uint64()
			if o.Rate == nil {
				o.Rate = &NetemRate{}
			}
			o.Rate.Rate = uint32(v)
		case TCA_NETEM_LATENCY64:
			v := ad.Int64()
			o.Latency64 = &v
		case TCA_NETEM_JITTER64:
			v := ad.Int64()
			o.Jitter64 = &v
		}
	}
	if err := ad.Err(); err != nil {
		return nil, err
	}
	return o, nil
}
