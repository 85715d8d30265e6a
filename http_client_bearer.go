package main

import (
	"fmt"
	"net/http"
)

// HttpTransportWithBearer wraps a RoundTripper to authenticate every request
// with a bearer token and ask for JSON responses.
type HttpTransportWithBearer struct {
	BaseTransport http.RoundTripper
	Token         string
}

// RoundTrip implements the RoundTripper interface to modify the request.
func (t *HttpTransportWithBearer) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid side effects
	reqClone := req.Clone(req.Context())

	reqClone.Header.Set("Authorization", fmt.Sprintf("Bearer %s", t.Token))
	if reqClone.Header.Get("Accept") == "" {
		reqClone.Header.Set("Accept", "application/json")
	}

	base := t.BaseTransport
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(reqClone)
}

// NewHttpClientWithBearerTransport returns a client whose requests carry token.
func NewHttpClientWithBearerTransport(token string) *http.Client {
	return &http.Client{
		Transport: &HttpTransportWithBearer{
			BaseTransport: http.DefaultTransport,
			Token:         token,
		},
	}
}
