// Package security inspects the posture of the active network path: VPN and
// proxy indicators, DNS answer divergence, captive portals and the externally
// visible address. Every probe fails closed: absent or ambiguous evidence
// leaves the corresponding flag unset rather than returning an error.
package security

import (
	"net"
	"os"
	"strings"

	"netguard/internal/report"
)

// Interface-name keywords, checked in order. VPN tunnels win outright over
// every other classification.
var interfaceClasses = []struct {
	keywords []string
	conn     report.ConnectionType
}{
	{[]string{"tun", "tap", "ppp", "wg", "vpn"}, report.ConnectionVPN},
	{[]string{"wlan", "wifi", "wl"}, report.ConnectionWifi},
	{[]string{"eth", "en"}, report.ConnectionEthernet},
	{[]string{"rmnet", "wwan"}, report.ConnectionCellular},
}

var proxyEnvVars = []string{
	"HTTPS_PROXY", "https_proxy",
	"HTTP_PROXY", "http_proxy",
	"ALL_PROXY", "all_proxy",
}

// Inspect examines the system's network interfaces and proxy settings and
// returns the detected security flags together with the connection type.
func Inspect() (report.SecurityFlags, report.ConnectionType) {
	flags := report.SecurityFlags{InterfaceName: "unknown"}
	connType := report.ConnectionUnknown

	ifaces, err := net.Interfaces()
	if err != nil {
		ifaces = nil
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}

		class, ok := classifyInterface(iface.Name)
		if !ok {
			continue
		}
		if class == report.ConnectionVPN {
			flags.VPNDetected = true
			flags.InterfaceName = iface.Name
			connType = report.ConnectionVPN
			break
		}
		if connType == report.ConnectionUnknown {
			connType = class
			flags.InterfaceName = iface.Name
		}
	}

	flags.ProxyDetected = proxyConfigured()
	return flags, connType
}

// classifyInterface maps an interface name to a connection type by keyword.
func classifyInterface(name string) (report.ConnectionType, bool) {
	lower := strings.ToLower(name)
	for _, class := range interfaceClasses {
		for _, kw := range class.keywords {
			if strings.Contains(lower, kw) {
				return class.conn, true
			}
		}
	}
	return report.ConnectionUnknown, false
}

// proxyConfigured reports whether a system proxy is set via the conventional
// environment variables.
func proxyConfigured() bool {
	for _, key := range proxyEnvVars {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

// InterfaceAllowed reports whether the interface name matches one of the
// allowed prefixes. An empty allow-list permits everything.
func InterfaceAllowed(name string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, prefix := range allowed {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
