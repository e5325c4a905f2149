package relay

import (
	"bytes"
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"wgproxy/internal/config"
)

func testConfig(t *testing.T, upstream *net.UDPConn) config.Config {
	t.Helper()
	listenAddr := netip.MustParseAddrPort("127.0.0.1:0")
	return config.Config{
		Listen:      listenAddr,
		Server:      upstream.LocalAddr().(*net.UDPAddr),
		PublicKeys:  nil,
		PortLo:      41000,
		PortHi:      41010,
		IdleTimeout: time.Minute,
	}
}

// TestEngineEndToEndHappyPath exercises §8 scenario 1 against the real
// socket stack: a client sends a framed initiation, the engine admits it,
// forwards it upstream byte-for-byte, and relays the reply back.
func TestEngineEndToEndHappyPath(t *testing.T) {
	upstream := loopbackListener(t)

	engine, err := New(testConfig(t, upstream))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- engine.Run(ctx) }()

	client, err := net.DialUDP("udp", nil, engine.conn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	payload := initiationPayload()
	if _, err := client.Write(payload); err != nil {
		t.Fatal(err)
	}

	upstream.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1024)
	n, from, err := upstream.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("upstream never received the forwarded initiation: %v", err)
	}
	if !bytes.Equal(buf[:n], payload) {
		t.Fatal("forwarded payload does not match the original byte-for-byte")
	}

	reply := []byte("handshake response bytes")
	if _, err := upstream.WriteToUDP(reply, from); err != nil {
		t.Fatal(err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err = client.Read(buf)
	if err != nil {
		t.Fatalf("client never received the relayed reply: %v", err)
	}
	if !bytes.Equal(buf[:n], reply) {
		t.Fatal("relayed reply does not match byte-for-byte")
	}

	if engine.FlowCount() != 1 {
		t.Fatalf("FlowCount = %d, want 1", engine.FlowCount())
	}

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run returned error after cancellation: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestEngineDrainsFlowsOnShutdown(t *testing.T) {
	upstream := loopbackListener(t)

	engine, err := New(testConfig(t, upstream))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- engine.Run(ctx) }()

	client, err := net.DialUDP("udp", nil, engine.conn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if _, err := client.Write(initiationPayload()); err != nil {
		t.Fatal(err)
	}

	upstream.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1024)
	if _, _, err := upstream.ReadFromUDP(buf); err != nil {
		t.Fatalf("upstream never received the initiation: %v", err)
	}

	cancel()
	select {
	case <-runErr:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	if engine.FlowCount() != 0 {
		t.Fatalf("FlowCount = %d after shutdown, want 0 (drain must empty the table)", engine.FlowCount())
	}
}
