package rtmsg

import (
	"sort"

	"github.com/mdlayher/netlink"
)

// Ethtool bitset attribute ids, nested inside an ETHTOOL_A_*_BITSET
// attribute (e.g. ETHTOOL_A_FEATURES_WANTED).
const (
	EthtoolBitsetUnspec = iota
	EthtoolBitsetNomask
	EthtoolBitsetSize
	EthtoolBitsetBits
	EthtoolBitsetValue
	EthtoolBitsetMask
)

// Bit ids nested inside EthtoolBitsetBits, one per named bit.
const (
	EthtoolBitsetBitUnspec = iota
	EthtoolBitsetBitIndex
	EthtoolBitsetBitName
	EthtoolBitsetBitValue
)

// Bitset is the uniform name→bool representation of an ethtool bitset,
// regardless of which of the two wire shapes (compact bitmap, or
// bit-by-bit nested list) it arrived in.
type Bitset struct {
	size  uint32
	value map[uint32]bool
	name  map[uint32]string
}

// NewBitset returns an empty bitset of the given bit-width.
func NewBitset(size uint32) *Bitset {
	return &Bitset{size: size, value: map[uint32]bool{}, name: map[uint32]string{}}
}

// Size returns the number of named bit positions.
func (b *Bitset) Size() uint32 { return b.size }

// Set records the value (and, optionally, name) of bit index.
func (b *Bitset) Set(index uint32, value bool, name string) {
	b.value[index] = value
	if name != "" {
		b.name[index] = name
	}
}

// Get reports the value of bit index and whether it was ever set.
func (b *Bitset) Get(index uint32) (bool, bool) {
	v, ok := b.value[index]
	return v, ok
}

// Names returns the bitset as a name→bool map (unordered); unnamed
// indices are rendered with a synthetic "bit<N>" name.
func (b *Bitset) Names() map[string]bool {
	out := make(map[string]bool, len(b.value))
	for idx, v := range b.value {
		name, ok := b.name[idx]
		if !ok {
			name = indexName(idx)
		}
		out[name] = v
	}
	return out
}

func indexName(idx uint32) string {
	const digits = "0123456789"
	if idx == 0 {
		return "bit0"
	}
	var buf []byte
	for idx > 0 {
		buf = append([]byte{digits[idx%10]}, buf...)
		idx /= 10
	}
	return "bit" + string(buf)
}

// DecodeBitset parses either wire shape of an ethtool bitset nested
// attribute payload into a Bitset.
func DecodeBitset(payload []byte) (*Bitset, error) {
	bs := NewBitset(0)
	var compactValue, compactMask []byte
	var nomask bool

	ad, err := netlink.NewAttributeDecoder(payload)
	if err != nil {
		return nil, err
	}
	for ad.Next() {
		switch ad.Type() {
		case EthtoolBitsetNomask:
			nomask = true
		case EthtoolBitsetSize:
			bs.size = ad.Uint32()
		case EthtoolBitsetValue:
			compactValue = ad.Bytes()
		case EthtoolBitsetMask:
			compactMask = ad.Bytes()
		case EthtoolBitsetBits:
			if err := decodeBitsetBits(bs, ad.Bytes()); err != nil {
				return nil, err
			}
		}
	}
	if err := ad.Err(); err != nil {
		return nil, err
	}

	if compactValue != nil {
		decodeBitsetCompact(bs, compactValue, compactMask, nomask)
	}
	return bs, nil
}

func decodeBitsetBits(bs *Bitset, payload []byte) error {
	ad, err := netlink.NewAttributeDecoder(payload)
	if err != nil {
		return err
	}
	for ad.Next() {
		// Each top-level entry here is itself a nested bit record; the
		// entry's own attribute type is just an array index and carries
		// no semantic meaning.
		entry := ad.Bytes()
		ead, err := netlink.NewAttributeDecoder(entry)
		if err != nil {
			continue
		}
		var index uint32
		var haveIndex bool
		var name string
		var value bool
		for ead.Next() {
			switch ead.Type() {
			case EthtoolBitsetBitIndex:
				index = ead.Uint32()
				haveIndex = true
			case EthtoolBitsetBitName:
				name = stripNul(ead.Bytes())
			case EthtoolBitsetBitValue:
				value = true
			}
		}
		if haveIndex {
			bs.Set(index, value, name)
		}
	}
	return ad.Err()
}

func stripNul(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func decodeBitsetCompact(bs *Bitset, value, mask []byte, nomask bool) {
	bits := bs.size
	if max := uint32(len(value)) * 8; bits == 0 || bits > max {
		bits = max
	}
	for i := uint32(0); i < bits; i++ {
		byteIdx := i / 8
		bitPos := i % 8
		if int(byteIdx) >= len(value) {
			break
		}
		v := value[byteIdx]&(1<<bitPos) != 0
		if nomask {
			bs.Set(i, v, "")
			continue
		}
		if mask == nil {
			bs.Set(i, v, "")
			continue
		}
		if int(byteIdx) >= len(mask) {
			continue
		}
		if mask[byteIdx]&(1<<bitPos) != 0 {
			bs.Set(i, v, "")
		}
	}
}

// EncodeBitsetCompact emits the compact two-bitmap wire shape: every bit
// present in the set is treated as masked-in.
func EncodeBitsetCompact(ae *netlink.AttributeEncoder, attrType uint16, bs *Bitset) {
	indices := make([]uint32, 0, len(bs.value))
	var max uint32
	for idx := range bs.value {
		indices = append(indices, idx)
		if idx+1 > max {
			max = idx + 1
		}
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	nbytes := (max + 7) / 8
	value := make([]byte, nbytes)
	mask := make([]byte, nbytes)
	for _, idx := range indices {
		byteIdx := idx / 8
		bitPos := idx % 8
		mask[byteIdx] |= 1 << bitPos
		if bs.value[idx] {
			value[byteIdx] |= 1 << bitPos
		}
	}
	ae.Nested(attrType, func(nae *netlink.AttributeEncoder) error {
		nae.Uint32(EthtoolBitsetSize, max)
		nae.Bytes(EthtoolBitsetValue, value)
		nae.Bytes(EthtoolBitsetMask, mask)
		return nil
	})
}
