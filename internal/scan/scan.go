// Package scan sweeps a local subnet for hosts accepting TCP connections on
// a given port.
package scan

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strconv"
	"sync"
	"time"
)

// DefaultConcurrency bounds the number of simultaneous connection attempts.
const DefaultConcurrency = 64

// Device is a host that answered the sweep.
type Device struct {
	Address string
}

// Subnet attempts a TCP connection to every host address in the CIDR range
// and returns the hosts that accepted, in address order. Network and
// broadcast addresses are skipped. concurrency below 1 falls back to
// DefaultConcurrency.
func Subnet(ctx context.Context, cidr string, port int, timeout time.Duration, concurrency int) ([]Device, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, fmt.Errorf("parse subnet %q: %w", cidr, err)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid scan port %d", port)
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}

	hosts := hostAddrs(prefix)

	sem := make(chan struct{}, concurrency)
	var mu sync.Mutex
	var found []Device
	var wg sync.WaitGroup

	dialer := &net.Dialer{Timeout: timeout}
	for _, host := range hosts {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(host netip.Addr) {
			defer wg.Done()
			defer func() { <-sem }()

			addr := net.JoinHostPort(host.String(), strconv.Itoa(port))
			conn, err := dialer.DialContext(ctx, "tcp", addr)
			if err != nil {
				return
			}
			conn.Close()

			mu.Lock()
			found = append(found, Device{Address: host.String()})
			mu.Unlock()
		}(host)
	}
	wg.Wait()

	sort.Slice(found, func(a, b int) bool { return found[a].Address < found[b].Address })
	return found, ctx.Err()
}

// hostAddrs expands the prefix into host addresses, excluding the network
// and broadcast addresses of IPv4 subnets wider than /31.
func hostAddrs(prefix netip.Prefix) []netip.Addr {
	prefix = prefix.Masked()
	var hosts []netip.Addr

	skipEdges := prefix.Addr().Is4() && prefix.Bits() < 31
	first := prefix.Addr()
	if skipEdges {
		first = first.Next()
	}

	for addr := first; prefix.Contains(addr); addr = addr.Next() {
		hosts = append(hosts, addr)
	}
	if skipEdges && len(hosts) > 0 {
		hosts = hosts[:len(hosts)-1]
	}
	return hosts
}
