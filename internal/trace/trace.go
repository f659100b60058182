// Package trace discovers the network path to a host by sending UDP probes
// with increasing TTL and collecting the ICMP time-exceeded replies.
package trace

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// tracePort is the conventional traceroute destination port, chosen to be
// closed on the target so the final hop answers port-unreachable.
const tracePort = 33434

const ipv4Proto = 1

// Hop is one router on the path. A hop that timed out has Address "*" and
// zero latency.
type Hop struct {
	Number  int
	Address string
	Latency time.Duration
}

// Route traces the path to host, probing one TTL at a time up to maxHops.
// It stops early once the destination itself answers. Raw ICMP access is
// required, so this typically needs elevated privileges.
func Route(ctx context.Context, host string, maxHops int, perHop time.Duration) ([]Hop, error) {
	if maxHops < 1 {
		maxHops = 30
	}
	if perHop <= 0 {
		perHop = time.Second
	}

	target, err := resolveIPv4(ctx, host)
	if err != nil {
		return nil, err
	}

	listener, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("listen icmp: %w", err)
	}
	defer listener.Close()

	hops := make([]Hop, 0, maxHops)
	dest := &net.UDPAddr{IP: target, Port: tracePort}
	buf := make([]byte, 2048)

	for ttl := 1; ttl <= maxHops; ttl++ {
		if err := ctx.Err(); err != nil {
			return hops, err
		}

		hop, reached := probeHop(listener, dest, ttl, perHop, buf)
		hops = append(hops, hop)
		if reached {
			break
		}
	}
	return hops, nil
}

// probeHop sends a single UDP probe with the given TTL and waits for the
// matching ICMP reply. reached is true once the destination itself answered.
func probeHop(listener *icmp.PacketConn, dest *net.UDPAddr, ttl int, perHop time.Duration, buf []byte) (Hop, bool) {
	hop := Hop{Number: ttl, Address: "*"}

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return hop, false
	}
	defer conn.Close()

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetTTL(ttl); err != nil {
		return hop, false
	}

	started := time.Now()
	if _, err := conn.WriteTo([]byte{0}, dest); err != nil {
		return hop, false
	}

	deadline := started.Add(perHop)
	if err := listener.SetReadDeadline(deadline); err != nil {
		return hop, false
	}

	for {
		n, peer, err := listener.ReadFrom(buf)
		if err != nil {
			return hop, false
		}

		msg, err := icmp.ParseMessage(ipv4Proto, buf[:n])
		if err != nil {
			continue
		}
		switch msg.Type {
		case ipv4.ICMPTypeTimeExceeded:
			hop.Address = peer.String()
			hop.Latency = time.Since(started)
			return hop, peerIs(peer, dest.IP)
		case ipv4.ICMPTypeDestinationUnreachable:
			// Port unreachable from the target means the probe arrived.
			hop.Address = peer.String()
			hop.Latency = time.Since(started)
			return hop, peerIs(peer, dest.IP)
		default:
			continue
		}
	}
}

func peerIs(peer net.Addr, ip net.IP) bool {
	ipAddr, ok := peer.(*net.IPAddr)
	return ok && ipAddr.IP.Equal(ip)
}

func resolveIPv4(ctx context.Context, host string) (net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, addr := range addrs {
		if v4 := addr.IP.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("no IPv4 address for %s", host)
}
