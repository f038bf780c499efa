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

package checker

import (
	"context"
	"net"
	"net/url"

	"repology-linkchecker/internal/linkchecker/hosts"
	"repology-linkchecker/internal/linkchecker/httpclient"
	"repology-linkchecker/internal/linkchecker/resolver"
	"repology-linkchecker/internal/linkchecker/status"
)

// handleOneCheck runs the HEAD-then-GET-on-405, follow-redirects loop
// for one IP version, starting from u. Blacklist/hijacked policy is
// re-checked at every hop so it covers redirect targets, not only the
// task's original URL.
func (c *Checker) handleOneCheck(ctx context.Context, u *url.URL, version resolver.IPVersion) status.WithRedirect {
	current := u
	numRedirects := 0
	hadTemporaryRedirect := false
	permanentRedirectTarget := ""

	for {
		settings := c.hosts.GetSettings(current.Hostname())
		if settings.Blacklist {
			return status.WithRedirect{Status: status.Blacklisted}
		}
		if settings.Hijacked {
			return status.WithRedirect{Status: status.Hijacked}
		}

		addr, ok, failure := c.resolver.Resolve(ctx, current.Hostname(), version)
		if !ok {
			return status.WithRedirect{Status: failure}
		}

		aggregationKey := c.hosts.GetAggregation(current.Hostname())

		method := httpclient.MethodHead
		if settings.DisableHead {
			method = httpclient.MethodGet
		}

		resp := c.performRequest(ctx, current, method, addr, settings, aggregationKey)
		if method == httpclient.MethodHead {
			if code, isHTTP := resp.Status.HTTPCode(); isHTTP && code == 405 {
				c.logHostProblem("HEAD", 405)
				resp = c.performRequest(ctx, current, httpclient.MethodGet, addr, settings, aggregationKey)
			}
		}
		if code, isHTTP := resp.Status.HTTPCode(); isHTTP && code == 429 {
			c.logHostProblem(string(method), 429)
		}

		if !resp.Status.IsRedirect() {
			result := status.WithRedirect{Status: resp.Status}
			if resp.Status == status.Http(200) && permanentRedirectTarget != "" {
				result.Redirect = permanentRedirectTarget
			}
			return result
		}

		if resp.Location == "" {
			return status.WithRedirect{Status: status.BadHttp}
		}
		target, err := current.Parse(resp.Location)
		if err != nil {
			return status.WithRedirect{Status: status.BadHttp}
		}
		if target.Scheme != "http" && target.Scheme != "https" {
			return status.WithRedirect{Status: status.RedirectToNonHttp}
		}

		if resp.Status.IsPermanentRedirect() {
			if !hadTemporaryRedirect && permanentRedirectTarget == "" {
				permanentRedirectTarget = target.String()
			}
		} else {
			hadTemporaryRedirect = true
		}

		numRedirects++
		if numRedirects >= MaxRedirects {
			return status.WithRedirect{Status: status.TooManyRedirects}
		}
		current = target
	}
}

// performRequest reserves the per-host delayer slot before issuing the
// probe, so that concurrent checks against the same aggregation key
// are spaced out by settings.Delay regardless of which bucket owns
// each task.
func (c *Checker) performRequest(ctx context.Context, u *url.URL, method httpclient.Method, addr net.IP, settings hosts.Settings, aggregationKey string) httpclient.Response {
	if err := c.delayer.Reserve(ctx, aggregationKey, settings.Delay); err != nil {
		return httpclient.Response{Status: status.Timeout}
	}

	c.sink.RecordRequest(string(method), aggregationKey, settings.Monitor)

	return c.client.Do(ctx, httpclient.Request{
		URL:     u,
		Method:  method,
		Address: addr,
		Timeout: settings.Timeout,
	})
}
