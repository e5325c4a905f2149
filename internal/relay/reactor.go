package relay

import (
	"context"
	"log/slog"
	"net"
	"time"
)

// maxDatagramSize is large enough for any UDP payload; WireGuard transport
// messages are bounded well under this by the underlying link MTU.
const maxDatagramSize = 65535

// runReactor is C4: one logical task per flow (§4.4). It forwards
// datagrams arriving on the flow's server-facing socket back to the
// client, and resets liveness on every datagram it observes.
//
// Two ways to stop: ctx is canceled (the reaper or dispatcher already owns
// cleanup and has released the port), or conn itself errors out from under
// the reactor (the reactor must then clean up its own table entry and
// port, §4.4 step 3, §7 "Fatal I/O errors (per-flow)").
func runReactor(ctx context.Context, f *flow, clientConn *net.UDPConn, table *flowTable, ports *portAllocator) {
	defer close(f.done)

	buf := make([]byte, maxDatagramSize)
	for {
		n, err := f.conn.Read(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if _, ok := table.remove(f.client); ok {
				ports.release(f.port)
			}
			slog.Info("flow reactor exiting on socket error",
				"component", "flow-reactor", "client", f.client, "port", f.port, "err", err)
			return
		}

		f.touch(time.Now())

		if _, werr := clientConn.WriteToUDP(buf[:n], net.UDPAddrFromAddrPort(f.client)); werr != nil {
			slog.Debug("write to client failed",
				"component", "flow-reactor", "client", f.client, "err", werr)
		}
	}
}
