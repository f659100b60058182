package report

import (
	"net"
	"strconv"
	"time"

	"netguard/internal/quality"
	"netguard/internal/stats"
)

// Protocol selects the transport used to probe a target.
type Protocol string

const (
	ProtocolTCP  Protocol = "tcp"
	ProtocolUDP  Protocol = "udp"
	ProtocolICMP Protocol = "icmp"
)

// ConnectionType classifies the active network interface.
type ConnectionType string

const (
	ConnectionWifi     ConnectionType = "wifi"
	ConnectionCellular ConnectionType = "cellular"
	ConnectionEthernet ConnectionType = "ethernet"
	ConnectionVPN      ConnectionType = "vpn"
	ConnectionUnknown  ConnectionType = "unknown"
)

// Target is one probe endpoint. Targets are supplied by configuration and
// never mutated by the engine.
type Target struct {
	Label     string        `json:"label"`
	Host      string        `json:"host"`
	Port      int           `json:"port,omitempty"`
	Protocol  Protocol      `json:"protocol"`
	Timeout   time.Duration `json:"timeout"`
	Priority  int           `json:"priority"`
	Essential bool          `json:"essential"`
}

// Addr returns the host:port dial address for the target.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// TargetReport is the outcome of probing a single target during one check.
// Latency is meaningful only when Success is true.
type TargetReport struct {
	Label     string        `json:"label"`
	Success   bool          `json:"success"`
	Latency   time.Duration `json:"latency_ns"`
	Error     string        `json:"error,omitempty"`
	Essential bool          `json:"essential"`
}

// SecurityFlags holds the security posture detected during one check.
type SecurityFlags struct {
	VPNDetected   bool   `json:"vpn_detected"`
	ProxyDetected bool   `json:"proxy_detected"`
	DNSSpoofed    bool   `json:"dns_spoofed"`
	InterfaceName string `json:"interface_name,omitempty"`
}

// Status is the high-level connectivity summary published on the status
// stream and embedded in every report.
type Status struct {
	Connected    bool          `json:"connected"`
	Quality      quality.Grade `json:"quality"`
	LatencyStats stats.Stats   `json:"latency_stats"`
	WinnerTarget string        `json:"winner_target,omitempty"`
}

// Report is the complete, immutable result of one network check. A report is
// always fully populated; a check that fails every probe still produces one.
type Report struct {
	Timestamp      time.Time      `json:"timestamp"`
	Status         Status         `json:"status"`
	ConnectionType ConnectionType `json:"connection_type"`
	Security       SecurityFlags  `json:"security"`
	Targets        []TargetReport `json:"targets"`
}
