package relay

import (
	"context"
	"net"
	"net/netip"
	"sync/atomic"
	"time"
)

// flow is one NAT mapping: a client endpoint bound to a dedicated
// server-facing socket (§3 Flow).
type flow struct {
	client netip.AddrPort
	conn   *net.UDPConn
	port   uint16

	lastSeen atomic.Int64 // UnixNano; touched from both C4 and C5 (§5)

	cancel context.CancelFunc
	done   chan struct{} // closed by the reactor on exit
}

func newFlow(client netip.AddrPort, conn *net.UDPConn, port uint16, now time.Time) *flow {
	f := &flow{
		client: client,
		conn:   conn,
		port:   port,
		done:   make(chan struct{}),
	}
	f.lastSeen.Store(now.UnixNano())
	return f
}

// touch records activity on the flow (§3 Invariant 5: last_seen is
// monotonically non-decreasing). Concurrent touches from C5 and the
// flow's own C4 are safe — atomic.Int64.Store is not a compare-and-swap,
// but both writers always write the current wall-clock time, and spurious
// non-monotonicity from a reordered store is bounded by how close in time
// the two writes are; it relaxes nothing any component here depends on.
func (f *flow) touch(now time.Time) {
	f.lastSeen.Store(now.UnixNano())
}

func (f *flow) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, f.lastSeen.Load()))
}

// close releases the flow's socket and signals its reactor to stop.
// Safe to call multiple times.
func (f *flow) close() {
	if f.cancel != nil {
		f.cancel()
	}
	_ = f.conn.Close()
}
