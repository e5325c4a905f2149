// Package relay implements wgproxy's stateful NAT engine: the
// handshake-gated admission control, flow table, port allocator, and
// bidirectional forwarding described in §1-9 of the specification.
package relay

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgproxy/internal/config"
)

// Engine owns the client-facing socket and coordinates C2-C6 around it.
// It implements the full data flow described in §2.
type Engine struct {
	conn    *net.UDPConn
	server  *net.UDPAddr
	keys    []wgtypes.Key
	table   *flowTable
	ports   *portAllocator
	timeout time.Duration
}

// New binds the client-facing socket and constructs an Engine ready to
// Run. A bind failure here is the §6 exit-code-2 condition.
func New(cfg config.Config) (*Engine, error) {
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(cfg.Listen))
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Listen, err)
	}
	return &Engine{
		conn:    conn,
		server:  cfg.Server,
		keys:    cfg.PublicKeys,
		table:   newFlowTable(),
		ports:   newPortAllocator(cfg.PortLo, cfg.PortHi),
		timeout: cfg.IdleTimeout,
	}, nil
}

// Run drives the relay until ctx is canceled or the client-facing socket
// fails fatally (§7). A non-nil return (other than ctx cancellation) is
// the §6 exit-code-2 condition; the caller maps it accordingly.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go runReaper(ctx, e.table, e.ports, e.timeout)

	d := &dispatcher{
		conn:    e.conn,
		server:  e.server,
		keys:    e.keys,
		table:   e.table,
		ports:   e.ports,
		flowCtx: ctx,
	}
	err := d.run(ctx)

	cancel()
	for _, f := range e.table.drain() {
		f.close()
	}
	_ = e.conn.Close()

	return err
}

// FlowCount reports the number of currently-admitted flows.
func (e *Engine) FlowCount() int {
	return e.table.len()
}

// Snapshot returns a point-in-time view of every active flow, used by the
// SIGUSR1 introspection dump (§10.5). It performs no I/O and takes no
// action — purely read-only.
func (e *Engine) Snapshot(now time.Time) []FlowSnapshot {
	return e.table.snapshot(now)
}
