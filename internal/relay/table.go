package relay

import (
	"net/netip"
	"sync"
	"time"

	"wgproxy/internal/check"
)

// flowTable is the bidirectional NAT mapping keyed by client endpoint
// (§3 FlowTable, §4.3 C3). A single mutex guards it; no I/O is ever
// performed while holding it (§5).
type flowTable struct {
	mu    sync.Mutex
	flows map[netip.AddrPort]*flow
}

func newFlowTable() *flowTable {
	return &flowTable{flows: make(map[netip.AddrPort]*flow)}
}

func (t *flowTable) get(client netip.AddrPort) (*flow, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.flows[client]
	return f, ok
}

// insert adds a new entry. Per §4.3, the caller must have already removed
// any existing entry for client — the table itself never supersedes.
func (t *flowTable) insert(client netip.AddrPort, f *flow) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, exists := t.flows[client]
	check.Assertf(!exists, "insert: flow already exists for %s, caller must remove first", client)
	t.flows[client] = f
}

// supersede atomically replaces whatever flow is installed for client (if
// any) with f, under a single lock acquisition — unlike a separate
// remove-then-insert, no external observer can ever see client absent
// from the table between the two (§4.5 step 3d, §8 P6).
func (t *flowTable) supersede(client netip.AddrPort, f *flow) (old *flow, hadOld bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	old, hadOld = t.flows[client]
	t.flows[client] = f
	return old, hadOld
}

func (t *flowTable) remove(client netip.AddrPort) (*flow, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.flows[client]
	if ok {
		delete(t.flows, client)
	}
	return f, ok
}

// touch updates last_seen for client; a no-op if the flow is absent
// (§4.3 C3) — the flow may have just been reaped or superseded.
func (t *flowTable) touch(client netip.AddrPort, now time.Time) {
	t.mu.Lock()
	f, ok := t.flows[client]
	t.mu.Unlock()
	if ok {
		f.touch(now)
	}
}

// sweep returns and removes every flow idle beyond timeout (§4.3, §4.6 C6).
func (t *flowTable) sweep(now time.Time, timeout time.Duration) []*flow {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []*flow
	for client, f := range t.flows {
		if f.idleSince(now) > timeout {
			expired = append(expired, f)
			delete(t.flows, client)
		}
	}
	return expired
}

func (t *flowTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.flows)
}

// drain removes and returns every flow, used at shutdown to close
// remaining sockets.
func (t *flowTable) drain() []*flow {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*flow, 0, len(t.flows))
	for client, f := range t.flows {
		out = append(out, f)
		delete(t.flows, client)
	}
	return out
}

// FlowSnapshot is a point-in-time, read-only view of one flow for
// introspection (§10.5's SIGUSR1 dump).
type FlowSnapshot struct {
	Client  netip.AddrPort
	Port    uint16
	IdleFor time.Duration
}

func (t *flowTable) snapshot(now time.Time) []FlowSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]FlowSnapshot, 0, len(t.flows))
	for _, f := range t.flows {
		out = append(out, FlowSnapshot{Client: f.client, Port: f.port, IdleFor: f.idleSince(now)})
	}
	return out
}
