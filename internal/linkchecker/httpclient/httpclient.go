// Repology Link Checker re-checks link availability for Repology.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package httpclient implements the HTTP engine contract: a single
// request(HttpRequest) -> HttpResponse operation that connects to a
// pre-resolved address (never performing its own DNS), never follows
// redirects (the checker does that), and enforces a per-request
// timeout.
package httpclient

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"repology-linkchecker/internal/linkchecker/classify"
	"repology-linkchecker/internal/linkchecker/status"
)

// DefaultUserAgent identifies the checker to remote servers and points
// operators at an explanation of what it is and how to block it.
const DefaultUserAgent = "Repology Link Checker/1.0 (+https://repology.org/docs/bots)"

// Method is restricted to the two verbs the checker ever issues.
type Method string

const (
	MethodHead Method = "HEAD"
	MethodGet  Method = "GET"
)

// Request is one HTTP probe: an absolute URL, a method, a pre-resolved
// address to connect to (bypassing whatever DNS the URL's host would
// otherwise resolve to), and a deadline.
type Request struct {
	URL     *url.URL
	Method  Method
	Address net.IP
	Timeout time.Duration
}

// Response is always fully populated: Status is never the zero value,
// and carries a classified failure when the request itself could not
// complete. Location is the raw, unresolved Location header value, if
// one was present on a redirect response.
type Response struct {
	Status   status.LinkStatus
	Location string
}

// Client is the HTTP engine contract consumed by the checker.
type Client interface {
	Do(ctx context.Context, req Request) Response
}

// NativeClient implements Client directly on top of net/http, forcing
// every connection to Request.Address via a custom DialContext and
// disabling automatic redirect following via CheckRedirect.
type NativeClient struct {
	userAgent string
}

// NewNativeClient builds a NativeClient using userAgent, or
// DefaultUserAgent if empty.
func NewNativeClient(userAgent string) *NativeClient {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &NativeClient{userAgent: userAgent}
}

func (c *NativeClient) Do(ctx context.Context, req Request) Response {
	dialer := &net.Dialer{}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			_, port, err := net.SplitHostPort(addr)
			if err != nil {
				port = defaultPort(req.URL)
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(req.Address.String(), port))
		},
		TLSClientConfig: &tls.Config{ServerName: req.URL.Hostname()},
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   req.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	httpReq, err := http.NewRequestWithContext(ctx, string(req.Method), req.URL.String(), nil)
	if err != nil {
		return Response{Status: status.BadHttp}
	}
	httpReq.Header.Set("User-Agent", c.userAgent)

	resp, err := client.Do(httpReq)
	if err != nil {
		facts := classify.FillFromError(err)
		return Response{Status: classify.Classify(facts)}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	return Response{
		Status:   status.Http(resp.StatusCode),
		Location: resp.Header.Get("Location"),
	}
}

func defaultPort(u *url.URL) string {
	if u.Scheme == "https" {
		return "443"
	}
	return "80"
}
