package security

import (
	"context"
	"io"
	"net/http"
	"time"
)

// DefaultPortalURL is a connectivity-check endpoint expected to answer
// 204 No Content with an empty body.
const DefaultPortalURL = "http://clients3.google.com/generate_204"

const portalTimeout = 5 * time.Second

// PortalStatus is the outcome of a captive portal probe.
type PortalStatus struct {
	CaptivePortal bool
	RedirectURL   string
}

// CheckCaptivePortal probes the default connectivity-check URL.
func CheckCaptivePortal(ctx context.Context) PortalStatus {
	return CheckCaptivePortalURL(ctx, DefaultPortalURL, portalTimeout)
}

// CheckCaptivePortalURL requests the given connectivity-check URL without
// following redirects. The endpoint must answer 204 with an empty body; a
// redirect marks a captive portal and captures its target, and any other
// status or a non-empty body is treated as an interception as well. A failed
// request proves nothing and reports no portal.
func CheckCaptivePortalURL(ctx context.Context, checkURL string, timeout time.Duration) PortalStatus {
	client := &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checkURL, nil)
	if err != nil {
		return PortalStatus{}
	}

	resp, err := client.Do(req)
	if err != nil {
		return PortalStatus{}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return PortalStatus{CaptivePortal: true, RedirectURL: resp.Header.Get("Location")}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode == http.StatusNoContent && len(body) == 0 {
		return PortalStatus{}
	}
	return PortalStatus{CaptivePortal: true}
}
