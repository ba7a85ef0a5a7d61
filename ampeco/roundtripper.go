package ampeco

import (
	"net/http"
)

const userAgent = "ampeco-ha"

type ampecoRoundTripper struct {
	// inner falls back to http.DefaultTransport at call time when nil
	inner http.RoundTripper
	token string
}

func (a ampecoRoundTripper) RoundTrip(request *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request
	req := request.Clone(request.Context())
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	inner := a.inner
	if inner == nil {
		inner = http.DefaultTransport
	}
	return inner.RoundTrip(req)
}

var _ http.RoundTripper = &ampecoRoundTripper{}
