package rtmsg_test

import (
	"testing"

	"github.com/m-lab/netlinkctl/rtmsg"
	"github.com/mdlayher/netlink"
)

// decodeOuter unwraps the single nested attribute EncodeBitsetCompact
// emits, returning the bitset payload DecodeBitset expects.
func decodeOuter(t *testing.T, b []byte) []byte {
	t.Helper()
	ad, err := netlink.NewAttributeDecoder(b)
	if err != nil {
		t.Fatalf("NewAttributeDecoder failed: %v", err)
	}
	for ad.Next() {
		return ad.Bytes()
	}
	t.Fatal("no attribute found")
	return nil
}

func TestBitsetCompactRoundTrip(t *testing.T) {
	bs := rtmsg.NewBitset(8)
	bs.Set(0, true, "")
	bs.Set(3, false, "")
	bs.Set(5, true, "")

	ae := netlink.NewAttributeEncoder()
	rtmsg.EncodeBitsetCompact(ae, 1, bs)
	b, err := ae.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got, err := rtmsg.DecodeBitset(decodeOuter(t, b))
	if err != nil {
		t.Fatalf("DecodeBitset failed: %v", err)
	}
	for _, tc := range []struct {
		index uint32
		want  bool
	}{{0, true}, {3, false}, {5, true}} {
		v, ok := got.Get(tc.index)
		if !ok {
			t.Errorf("bit %d missing after round trip", tc.index)
			continue
		}
		if v != tc.want {
			t.Errorf("bit %d = %v, want %v", tc.index, v, tc.want)
		}
	}
	// A bit never masked in must not appear.
	if _, ok := got.Get(7); ok {
		t.Error("unmasked bit 7 should be absent")
	}
}

func TestBitsetBitByBitShape(t *testing.T) {
	// The verbose wire shape: a nested list where each entry carries
	// index, name, and a flag attribute for value.
	ae := netlink.NewAttributeEncoder()
	ae.Nested(rtmsg.EthtoolBitsetBits, func(bits *netlink.AttributeEncoder) error {
		bits.Nested(1, func(e *netlink.AttributeEncoder) error {
			e.Uint32(rtmsg.EthtoolBitsetBitIndex, 0)
			e.String(rtmsg.EthtoolBitsetBitName, "tx-checksum-ipv4")
			e.Flag(rtmsg.EthtoolBitsetBitValue, true)
			return nil
		})
		bits.Nested(2, func(e *netlink.AttributeEncoder) error {
			e.Uint32(rtmsg.EthtoolBitsetBitIndex, 1)
			e.String(rtmsg.EthtoolBitsetBitName, "tx-scatter-gather")
			return nil
		})
		return nil
	})
	payload, err := ae.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got, err := rtmsg.DecodeBitset(payload)
	if err != nil {
		t.Fatalf("DecodeBitset failed: %v", err)
	}
	names := got.Names()
	if v, ok := names["tx-checksum-ipv4"]; !ok || !v {
		t.Errorf("tx-checksum-ipv4 = %v (present %v), want true", v, ok)
	}
	if v, ok := names["tx-scatter-gather"]; !ok || v {
		t.Errorf("tx-scatter-gather = %v (present %v), want false", v, ok)
	}
}

func TestBitsetNamesSynthetic(t *testing.T) {
	bs := rtmsg.NewBitset(4)
	bs.Set(2, true, "")
	names := bs.Names()
	if v, ok := names["bit2"]; !ok || !v {
		t.Errorf("unnamed index should render as bit2, got %v (present %v)", v, ok)
	}
}
