package probe

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"netguard/internal/report"
)

const echoPayload = "netguard"

// ICMPProber sends ICMP echo requests over raw sockets. It requires elevated
// privileges on most platforms; callers that cannot open raw sockets should
// configure TCP or UDP targets instead.
type ICMPProber struct {
	id  int
	seq uint32
}

// NewICMPProber returns a prober with a process-scoped echo identifier.
func NewICMPProber() *ICMPProber {
	return &ICMPProber{id: os.Getpid() & 0xffff}
}

// Probe sends one echo request to the target host and waits for the matching
// reply. Each attempt opens its own socket and closes it before returning.
func (p *ICMPProber) Probe(ctx context.Context, target report.Target) Attempt {
	if err := ctx.Err(); err != nil {
		return Attempt{Err: err}
	}

	dst, err := net.ResolveIPAddr("ip", target.Host)
	if err != nil {
		return Attempt{Err: fmt.Errorf("resolve %s: %w", target.Host, err)}
	}
	if dst.IP == nil {
		return Attempt{Err: fmt.Errorf("no address for host %q", target.Host)}
	}

	network, proto, reqType, replyType := icmpFamily(dst.IP)
	conn, err := icmp.ListenPacket(network, "")
	if err != nil {
		return Attempt{Err: err}
	}
	defer conn.Close()

	seq := int(atomic.AddUint32(&p.seq, 1)) & 0xffff
	msg := icmp.Message{
		Type: reqType,
		Code: 0,
		Body: &icmp.Echo{ID: p.id, Seq: seq, Data: []byte(echoPayload)},
	}
	payload, err := msg.Marshal(nil)
	if err != nil {
		return Attempt{Err: err}
	}

	deadline := time.Now().Add(target.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return Attempt{Err: err}
	}

	start := time.Now()
	if _, err := conn.WriteTo(payload, dst); err != nil {
		return Attempt{Err: err}
	}

	buf := make([]byte, 1500)
	for {
		if err := ctx.Err(); err != nil {
			return Attempt{Err: err}
		}

		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return Attempt{Err: fmt.Errorf("icmp echo timeout: %w", err)}
			}
			return Attempt{Err: err}
		}
		if peer == nil {
			continue
		}

		reply, err := icmp.ParseMessage(proto, buf[:n])
		if err != nil || reply.Type != replyType {
			continue
		}
		echo, ok := reply.Body.(*icmp.Echo)
		if !ok || echo.ID != p.id || echo.Seq != seq {
			continue
		}
		return Attempt{RTT: time.Since(start)}
	}
}

func icmpFamily(ip net.IP) (network string, proto int, reqType, replyType icmp.Type) {
	if ip.To4() != nil {
		return "ip4:icmp", ipv4.ICMPTypeEcho.Protocol(), ipv4.ICMPTypeEcho, ipv4.ICMPTypeEchoReply
	}
	return "ip6:ipv6-icmp", ipv6.ICMPTypeEchoRequest.Protocol(), ipv6.ICMPTypeEchoRequest, ipv6.ICMPTypeEchoReply
}
