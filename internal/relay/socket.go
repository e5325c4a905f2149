package relay

import "net"

// dialServerSocket opens the server-facing socket for a new flow: bound to
// the allocated local port, connect-associated with the upstream server so
// only datagrams from that peer are ever delivered to it (§3 Flow
// server_sock, §4.5 step 3b).
func dialServerSocket(port uint16, server *net.UDPAddr) (*net.UDPConn, error) {
	network := "udp6"
	if server.IP.To4() != nil {
		network = "udp4"
	}
	local := &net.UDPAddr{Port: int(port)}
	return net.DialUDP(network, local, server)
}
