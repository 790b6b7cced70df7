package fiblookup

import (
	"net"
	"testing"
)

func TestRequestEncoding(t *testing.T) {
	req := Request{
		Addr:   net.IPv4(8, 8, 8, 8),
		Table:  254,
		FwMark: 0x20,
		TOS:    0x10,
	}
	b := encodeRequest(req)
	if len(b) != SizeofFibResult {
		t.Fatalf("encoded length = %d, want %d", len(b), SizeofFibResult)
	}
	if b[8] != 0x10 || b[10] != 254 {
		t.Errorf("tos/table bytes = %#x/%d", b[8], b[10])
	}
}

func TestResultRoundTrip(t *testing.T) {
	// Encode a request, then fake the kernel's in-place answer: the
	// fib_result_nl echo carries the resolution fields after offset 11.
	b := encodeRequest(Request{Addr: net.IPv4(10, 1, 2, 3)})
	b[11] = 254             // tb_id
	b[12] = 8               // prefixlen
	b[13] = 0               // nh_sel
	b[14] = RouteTypeUnicast
	b[15] = ScopeUniverse

	res, err := decodeResult(b)
	if err != nil {
		t.Fatalf("decodeResult failed: %v", err)
	}
	if !res.Addr.Equal(net.IPv4(10, 1, 2, 3)) {
		t.Errorf("Addr = %v", res.Addr)
	}
	if res.Table != 254 || res.PrefixLen != 8 {
		t.Errorf("table/prefix = %d/%d", res.Table, res.PrefixLen)
	}
	if !res.IsSuccess() || !res.IsUnicast() || res.IsBlackhole() || res.IsLocal() {
		t.Errorf("predicates wrong for %+v", res)
	}
}

func TestDecodeResultTruncated(t *testing.T) {
	if _, err := decodeResult(make([]byte, 10)); err == nil {
		t.Error("expected a truncation error")
	}
}
