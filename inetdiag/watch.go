package inetdiag

import (
	"context"
	"time"

	"github.com/m-lab/netlinkctl/netlink"
)

// Watch polls the socket table on a fixed interval, feeding a SocketCache
// and invoking onClosed with the sockets that vanished since the previous
// round. It runs until ctx is done (returning the number of completed
// rounds) or a dump fails (returning the error alongside the count).
//
// sock must speak NETLINK_SOCK_DIAG and is owned by the watch for its
// duration. onClosed may be nil when only the polling side effect (e.g.
// metrics) is wanted.
func Watch(ctx context.Context, sock *netlink.Socket, f *InetFilter, interval time.Duration, onClosed func([]*SocketInfo)) (int64, error) {
	cache := NewSocketCache()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for ctx.Err() == nil {
		infos, err := DumpInet(sock, f)
		if err != nil {
			return cache.CycleCount(), err
		}
		for _, s := range infos {
			cache.Update(s)
		}
		closed := cache.EndCycle()
		if len(closed) > 0 && onClosed != nil {
			out := make([]*SocketInfo, 0, len(closed))
			for _, s := range closed {
				out = append(out, s)
			}
			onClosed(out)
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
	return cache.CycleCount(), nil
}
