package scan

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"testing"
	"time"
)

func TestHostAddrsSkipsNetworkAndBroadcast(t *testing.T) {
	hosts := hostAddrs(netip.MustParsePrefix("192.168.1.0/30"))
	if len(hosts) != 2 {
		t.Fatalf("expected 2 hosts in a /30, got %d: %v", len(hosts), hosts)
	}
	if hosts[0].String() != "192.168.1.1" || hosts[1].String() != "192.168.1.2" {
		t.Fatalf("unexpected hosts: %v", hosts)
	}
}

func TestHostAddrsPointToPoint(t *testing.T) {
	hosts := hostAddrs(netip.MustParsePrefix("10.0.0.0/31"))
	if len(hosts) != 2 {
		t.Fatalf("a /31 has both addresses usable, got %d", len(hosts))
	}
}

func TestHostAddrsSingleHost(t *testing.T) {
	hosts := hostAddrs(netip.MustParsePrefix("127.0.0.1/32"))
	if len(hosts) != 1 || hosts[0].String() != "127.0.0.1" {
		t.Fatalf("unexpected hosts for /32: %v", hosts)
	}
}

func TestHostAddrsMasksInput(t *testing.T) {
	// A prefix given mid-range still expands from the network address.
	hosts := hostAddrs(netip.MustParsePrefix("192.168.1.7/30"))
	if len(hosts) != 2 || hosts[0].String() != "192.168.1.5" {
		t.Fatalf("unexpected hosts: %v", hosts)
	}
}

func TestSubnetFindsListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	devices, err := Subnet(context.Background(), "127.0.0.1/32", port, time.Second, 4)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(devices) != 1 || devices[0].Address != "127.0.0.1" {
		t.Fatalf("expected to find the local listener, got %v", devices)
	}
}

func TestSubnetNoListener(t *testing.T) {
	devices, err := Subnet(context.Background(), "127.0.0.1/32", 1, 200*time.Millisecond, 4)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(devices) != 0 {
		t.Fatalf("expected no devices on a closed port, got %v", devices)
	}
}

func TestSubnetValidation(t *testing.T) {
	if _, err := Subnet(context.Background(), "not-a-subnet", 80, time.Second, 4); err == nil {
		t.Fatalf("expected error for malformed subnet")
	}
	if _, err := Subnet(context.Background(), "192.168.1.0/24", 0, time.Second, 4); err == nil {
		t.Fatalf("expected error for invalid port")
	}
}

func TestSubnetCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Subnet(ctx, "192.0.2.0/28", 80, time.Second, 4)
	if err == nil {
		t.Fatalf("expected the context error to surface")
	}
}
