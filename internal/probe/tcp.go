package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	"netguard/internal/report"
)

// TCPProber measures the time to establish a TCP connection to the target.
type TCPProber struct{}

// Probe dials the target and closes the connection immediately. The measured
// round trip covers name resolution and the connect handshake, bounded by
// the target timeout.
func (TCPProber) Probe(ctx context.Context, target report.Target) Attempt {
	ctx, cancel := context.WithTimeout(ctx, target.Timeout)
	defer cancel()

	dialer := net.Dialer{}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		return Attempt{Err: fmt.Errorf("tcp connect %s: %w", target.Addr(), err)}
	}
	rtt := time.Since(start)
	_ = conn.Close()
	return Attempt{RTT: rtt}
}

// UDPProber checks reachability by sending a single datagram to the target.
type UDPProber struct{}

// Probe binds a fresh local socket, connects it to the target and sends one
// byte. UDP has no handshake, so a completed send is treated as success; an
// ICMP port-unreachable surfaced by the OS on the connected socket shows up
// as a send error.
func (UDPProber) Probe(ctx context.Context, target report.Target) Attempt {
	ctx, cancel := context.WithTimeout(ctx, target.Timeout)
	defer cancel()

	dialer := net.Dialer{}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "udp", target.Addr())
	if err != nil {
		return Attempt{Err: fmt.Errorf("udp dial %s: %w", target.Addr(), err)}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return Attempt{Err: err}
		}
	}
	if _, err := conn.Write([]byte{0}); err != nil {
		return Attempt{Err: fmt.Errorf("udp send %s: %w", target.Addr(), err)}
	}
	return Attempt{RTT: time.Since(start)}
}
