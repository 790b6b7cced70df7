package inetdiag

import (
	"context"
	"testing"
	"time"
)

func TestWatchStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// With the context already done, Watch must return before touching
	// the socket at all.
	cycles, err := Watch(ctx, nil, &InetFilter{}, time.Second, nil)
	if err != nil {
		t.Fatalf("Watch returned %v, want nil on context cancellation", err)
	}
	if cycles != 0 {
		t.Errorf("cycles = %d, want 0", cycles)
	}
}
