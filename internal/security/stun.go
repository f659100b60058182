package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pion/stun/v3"
)

// ExternalAddress asks the given STUN servers for the publicly visible
// address of this host. Servers are tried in order; the first successful
// binding response wins. The mapped address belongs to the STUN socket and
// can differ from addresses seen on other sockets, but a mismatch with the
// local interface family is a useful tunnel/proxy divergence signal.
func ExternalAddress(ctx context.Context, servers []string, timeout time.Duration) (string, error) {
	if len(servers) == 0 {
		return "", fmt.Errorf("no STUN servers configured")
	}

	var lastErr error
	for _, server := range servers {
		addr, err := bindingRequest(ctx, server, timeout)
		if err != nil {
			lastErr = err
			continue
		}
		return addr, nil
	}
	return "", lastErr
}

func bindingRequest(ctx context.Context, server string, timeout time.Duration) (string, error) {
	uriStr := strings.TrimSpace(server)
	if uriStr == "" {
		return "", fmt.Errorf("empty STUN server")
	}
	if !strings.HasPrefix(uriStr, "stun:") {
		uriStr = "stun:" + uriStr
	}

	uri, err := stun.ParseURI(uriStr)
	if err != nil {
		return "", err
	}
	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return "", err
	}
	defer client.Close()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	mapped := make(chan string, 1)
	fail := make(chan error, 1)
	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	go func() {
		var addr stun.XORMappedAddress
		err := client.Do(msg, func(event stun.Event) {
			if event.Error != nil {
				fail <- event.Error
				return
			}
			if err := addr.GetFrom(event.Message); err != nil {
				fail <- err
				return
			}
			mapped <- addr.String()
		})
		if err != nil {
			fail <- err
		}
	}()

	select {
	case addr := <-mapped:
		return addr, nil
	case err := <-fail:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
