package relay

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

var tracer = otel.Tracer("wgproxy/relay")

// dispatcher is C5: it owns the client-facing socket. It never writes to
// that socket itself — only to per-flow server sockets; replies reach the
// client exclusively through each flow's own C4 reactor (§5).
type dispatcher struct {
	conn   *net.UDPConn
	server *net.UDPAddr
	keys   []wgtypes.Key

	table *flowTable
	ports *portAllocator

	flowCtx context.Context // parent for per-flow reactor contexts
}

// run is C5's loop (§4.5). It returns only on a fatal error reading the
// client-facing socket (§6 exit code 2) or ctx cancellation.
func (d *dispatcher) run(ctx context.Context) error {
	// Closing the socket on cancellation is what unblocks the pending read.
	stop := context.AfterFunc(ctx, func() { _ = d.conn.Close() })
	defer stop()

	buf := make([]byte, maxDatagramSize)
	for {
		n, src, err := d.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		d.handle(src, payload)
	}
}

func (d *dispatcher) handle(src netip.AddrPort, payload []byte) {
	now := time.Now()
	c := classify(payload, d.keys)

	// A new initiation from a client that already has a flow goes through
	// admission and supersedes that flow (§3 Invariant 3); anything else
	// from a known client is forwarded on its existing flow.
	if f, ok := d.table.get(src); ok && !c.IsInitiation {
		d.table.touch(src, now)
		if _, err := f.conn.Write(payload); err != nil {
			slog.Debug("forward to upstream failed", "component", "ingress-dispatcher", "client", src, "err", err)
		}
		return
	}

	if !c.IsInitiation {
		slog.Debug("dropped non-handshake datagram from unknown source",
			"component", "ingress-dispatcher", "client", src, "len", len(payload))
		return
	}

	d.admit(src, payload, c, now)
}

// admit is §4.5 step 3: reserve a port, bind a server-facing socket, start
// the flow's reactor, install the mapping, then forward the triggering
// datagram. The reactor is started before the table insert so that a
// near-instantaneous upstream reply is never lost (§5 ordering guarantee).
func (d *dispatcher) admit(src netip.AddrPort, payload []byte, c classification, now time.Time) {
	ctx, span := tracer.Start(d.flowCtx, "relay.admit")
	defer span.End()
	span.SetAttributes(
		attribute.String("client", src.String()),
		attribute.Bool("mac1_verified", c.MAC1Verified),
	)

	port, err := d.ports.reserve()
	if err != nil {
		slog.Warn("port allocator exhausted, dropping initiation", "component", "ingress-dispatcher", "client", src)
		span.SetStatus(codes.Error, "ports exhausted")
		return
	}

	conn, err := dialServerSocket(port, d.server)
	if err != nil {
		d.ports.release(port)
		slog.Warn("failed to open server-facing socket", "component", "ingress-dispatcher", "client", src, "port", port, "err", err)
		span.SetStatus(codes.Error, "dial failed")
		return
	}

	f := newFlow(src, conn, port, now)
	reactorCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	go runReactor(reactorCtx, f, d.conn, d.table, d.ports)

	if old, existed := d.table.supersede(src, f); existed {
		old.close()
		d.ports.release(old.port)
		slog.Info("flow superseded", "component", "ingress-dispatcher", "client", src, "old_port", old.port, "new_port", port)
	}

	if _, err := f.conn.Write(payload); err != nil {
		slog.Debug("forward admitted initiation to upstream failed", "component", "ingress-dispatcher", "client", src, "err", err)
	}

	slog.Info("flow admitted", "component", "ingress-dispatcher", "client", src, "port", port, "mac1_verified", c.MAC1Verified)
}
