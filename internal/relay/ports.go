package relay

import "fmt"

// portAllocator hands out UDP ports from a fixed inclusive range for
// server-facing flow sockets (§4.2 C2). It holds no persistent state — on
// restart the OS alone determines what's free, and a bind failure against
// an allegedly-free port is just another recoverable per-packet error
// (§4.5 step 3b).
type portAllocator struct {
	lo, hi uint16
	leased map[uint16]bool
}

// errPortsExhausted is returned by reserve when every port in the range is
// leased (§4.2, §5 "Resource caps").
var errPortsExhausted = fmt.Errorf("port range exhausted")

func newPortAllocator(lo, hi uint16) *portAllocator {
	return &portAllocator{
		lo:     lo,
		hi:     hi,
		leased: make(map[uint16]bool),
	}
}

// reserve returns an unused port via a linear scan from lo, or
// errPortsExhausted. Scan order is unspecified by §4.2; linear-from-lo is
// the simplest implementation that satisfies "eventually returns any free
// port".
func (p *portAllocator) reserve() (uint16, error) {
	for port := p.lo; ; port++ {
		if !p.leased[port] {
			p.leased[port] = true
			return port, nil
		}
		if port == p.hi {
			break
		}
	}
	return 0, errPortsExhausted
}

// release returns a port to the free set. Idempotent for unknown ports
// (§4.2), since a flow may be torn down twice on a supersession race.
func (p *portAllocator) release(port uint16) {
	delete(p.leased, port)
}

// leasedCount reports the number of currently-leased ports, used by tests
// to check invariant P1 (|leased_ports| == |flows|).
func (p *portAllocator) leasedCount() int {
	return len(p.leased)
}
