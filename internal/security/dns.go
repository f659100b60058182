package security

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

const (
	dohEndpoint  = "https://cloudflare-dns.com/dns-query"
	dohTimeout   = 5 * time.Second
	dohMaxBody   = 64 << 10
	dnsTypeA     = 1
	dnsTypeQuadA = 28
)

// HostResolver resolves a host name to its addresses. *net.Resolver
// satisfies it.
type HostResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// DNSChecker compares the system resolver's answers against a trusted
// resolver to spot tampering.
type DNSChecker struct {
	System  HostResolver
	Trusted HostResolver
}

// NewDNSChecker returns a checker backed by the system resolver and
// Cloudflare's DNS-over-HTTPS endpoint.
func NewDNSChecker() *DNSChecker {
	return &DNSChecker{
		System:  net.DefaultResolver,
		Trusted: &dohResolver{endpoint: dohEndpoint, client: &http.Client{Timeout: dohTimeout}},
	}
}

// Detect resolves the domain through both resolvers and reports true when
// the system's answer set is not contained in the trusted answer set. A
// hijack cannot be asserted without two comparable answers, so any lookup
// failure or empty answer yields false.
func (c *DNSChecker) Detect(ctx context.Context, domain string) bool {
	systemIPs, err := c.System.LookupHost(ctx, domain)
	if err != nil || len(systemIPs) == 0 {
		return false
	}

	trustedIPs, err := c.Trusted.LookupHost(ctx, domain)
	if err != nil || len(trustedIPs) == 0 {
		return false
	}

	trusted := make(map[string]struct{}, len(trustedIPs))
	for _, ip := range trustedIPs {
		trusted[canonicalIP(ip)] = struct{}{}
	}
	for _, ip := range systemIPs {
		if _, ok := trusted[canonicalIP(ip)]; !ok {
			return true
		}
	}
	return false
}

// DetectDNSHijack runs a hijack check for the domain with the default
// resolvers. Usable standalone, without a full network check.
func DetectDNSHijack(ctx context.Context, domain string) bool {
	return NewDNSChecker().Detect(ctx, domain)
}

func canonicalIP(s string) string {
	if ip := net.ParseIP(s); ip != nil {
		return ip.String()
	}
	return s
}

// dohResolver asks a DNS-over-HTTPS endpoint that speaks the JSON wire
// format (application/dns-json).
type dohResolver struct {
	endpoint string
	client   *http.Client
}

type dohAnswer struct {
	Type int    `json:"type"`
	Data string `json:"data"`
}

type dohResponse struct {
	Answer []dohAnswer `json:"Answer"`
}

func (r *dohResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	var ips []string
	for _, qtype := range []string{"A", "AAAA"} {
		answers, err := r.query(ctx, host, qtype)
		if err != nil {
			if len(ips) > 0 {
				break
			}
			return nil, err
		}
		ips = append(ips, answers...)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("doh: no answers for %q", host)
	}
	return ips, nil
}

func (r *dohResolver) query(ctx context.Context, host, qtype string) ([]string, error) {
	query := url.Values{"name": {host}, "type": {qtype}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/dns-json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("doh: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, dohMaxBody))
	if err != nil {
		return nil, err
	}
	var parsed dohResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}

	var ips []string
	for _, answer := range parsed.Answer {
		if answer.Type != dnsTypeA && answer.Type != dnsTypeQuadA {
			continue
		}
		if net.ParseIP(answer.Data) != nil {
			ips = append(ips, answer.Data)
		}
	}
	return ips, nil
}
