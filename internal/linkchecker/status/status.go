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

// Package status defines the LinkStatus taxonomy: a stable, signed
// integer enumeration of every outcome a single link check can produce,
// plus the predicates the rest of the checker pipeline needs to reason
// about those outcomes without caring about their concrete value.
package status

import (
	"fmt"
	"strconv"
	"strings"
)

// LinkStatus is either a data-carrying HTTP status code (>= 100) or one
// of the named error/no-check outcomes below (<= 0, partitioned by
// family; see the range comments). The codes persist in storage and
// must never be renumbered once shipped.
type LinkStatus int16

// Not-checked family: [-99, 0]. The link was never actually probed, or
// the outcome is a policy decision rather than a network observation.
const (
	NotYetProcessed          LinkStatus = 0
	Skipped                  LinkStatus = -1
	OutOfSample              LinkStatus = -2
	SatisfiedWithIpv6Success LinkStatus = -3
	UnsupportedScheme        LinkStatus = -4
	ProtocolDisabled         LinkStatus = -5
	ProtocolDisabledForHost  LinkStatus = -6
	Hijacked                 LinkStatus = -7
)

// Generic family: [-199, -100].
const (
	UnknownError LinkStatus = -100
	Timeout      LinkStatus = -101
	InvalidUrl   LinkStatus = -102
	Blacklisted  LinkStatus = -103
)

// DNS family: [-299, -200].
const (
	DnsError                    LinkStatus = -200
	DnsDomainNotFound           LinkStatus = -201
	DnsNoAddressRecord          LinkStatus = -202
	DnsRefused                  LinkStatus = -203
	DnsTimeout                  LinkStatus = -204
	DnsIpv4MappedInAaaa         LinkStatus = -205
	InvalidCharactersInHostname LinkStatus = -206
	InvalidHostname             LinkStatus = -207
	NonGlobalIpAddress          LinkStatus = -208
)

// Connection family: [-399, -300].
const (
	ConnectionRefused     LinkStatus = -300
	HostUnreachable       LinkStatus = -301
	ConnectionResetByPeer LinkStatus = -302
	NetworkUnreachable    LinkStatus = -303
	ServerDisconnected    LinkStatus = -304
	ConnectionAborted     LinkStatus = -305
	AddressNotAvailable   LinkStatus = -306
)

// HTTP semantics family: [-499, -400].
const (
	TooManyRedirects  LinkStatus = -400
	BadHttp           LinkStatus = -401
	RedirectToNonHttp LinkStatus = -402
)

// TLS/PKI family: [-599, -500].
const (
	SslError                       LinkStatus = -500
	SslCertificateHasExpired       LinkStatus = -501
	SslCertificateHostnameMismatch LinkStatus = -502
	SslCertificateSelfSigned       LinkStatus = -503
	SslHandshakeFailure            LinkStatus = -504
	CertificateUnknownIssuer       LinkStatus = -505
	InvalidCertificate             LinkStatus = -506
)

var names = map[LinkStatus]string{
	NotYetProcessed:          "NotYetProcessed",
	Skipped:                  "Skipped",
	OutOfSample:              "OutOfSample",
	SatisfiedWithIpv6Success: "SatisfiedWithIpv6Success",
	UnsupportedScheme:        "UnsupportedScheme",
	ProtocolDisabled:         "ProtocolDisabled",
	ProtocolDisabledForHost:  "ProtocolDisabledForHost",
	Hijacked:                 "Hijacked",

	UnknownError: "UnknownError",
	Timeout:      "Timeout",
	InvalidUrl:   "InvalidUrl",
	Blacklisted:  "Blacklisted",

	DnsError:                    "DnsError",
	DnsDomainNotFound:           "DnsDomainNotFound",
	DnsNoAddressRecord:          "DnsNoAddressRecord",
	DnsRefused:                  "DnsRefused",
	DnsTimeout:                  "DnsTimeout",
	DnsIpv4MappedInAaaa:         "DnsIpv4MappedInAaaa",
	InvalidCharactersInHostname: "InvalidCharactersInHostname",
	InvalidHostname:             "InvalidHostname",
	NonGlobalIpAddress:          "NonGlobalIpAddress",

	ConnectionRefused:     "ConnectionRefused",
	HostUnreachable:       "HostUnreachable",
	ConnectionResetByPeer: "ConnectionResetByPeer",
	NetworkUnreachable:    "NetworkUnreachable",
	ServerDisconnected:    "ServerDisconnected",
	ConnectionAborted:     "ConnectionAborted",
	AddressNotAvailable:   "AddressNotAvailable",

	TooManyRedirects:  "TooManyRedirects",
	BadHttp:           "BadHttp",
	RedirectToNonHttp: "RedirectToNonHttp",

	SslError:                       "SslError",
	SslCertificateHasExpired:       "SslCertificateHasExpired",
	SslCertificateHostnameMismatch: "SslCertificateHostnameMismatch",
	SslCertificateSelfSigned:       "SslCertificateSelfSigned",
	SslHandshakeFailure:            "SslHandshakeFailure",
	CertificateUnknownIssuer:       "CertificateUnknownIssuer",
	InvalidCertificate:             "InvalidCertificate",
}

var byName map[string]LinkStatus

func init() {
	byName = make(map[string]LinkStatus, len(names))
	for code, name := range names {
		byName[name] = code
	}
}

// Http builds the data-carrying variant for an HTTP response status
// code. Callers must only pass values observed on the wire (always
// >= 100); this is an internal invariant, not something dial-time code
// needs to validate defensively.
func Http(code int) LinkStatus {
	return LinkStatus(code)
}

// Code returns the stable, persisted integer form of the status.
func (s LinkStatus) Code() int16 {
	return int16(s)
}

// IsHTTP reports whether s carries a raw HTTP response status code.
func (s LinkStatus) IsHTTP() bool {
	return s >= 100
}

// HTTPCode returns the carried HTTP status code and true, or (0,
// false) if s is not an HTTP-carrying status.
func (s LinkStatus) HTTPCode() (int, bool) {
	if !s.IsHTTP() {
		return 0, false
	}
	return int(s), true
}

// String renders s the way it round-trips through FromString: the raw
// decimal code for HTTP statuses, the PascalCase name otherwise.
func (s LinkStatus) String() string {
	if s.IsHTTP() {
		return strconv.Itoa(int(s))
	}
	if name, ok := names[s]; ok {
		return name
	}
	return "UnknownError"
}

// FromCode reconstructs a LinkStatus from its persisted integer code.
func FromCode(code int16) (LinkStatus, error) {
	s := LinkStatus(code)
	if s.IsHTTP() {
		return s, nil
	}
	if _, ok := names[s]; ok {
		return s, nil
	}
	return UnknownError, fmt.Errorf("status: unrecognised code %d", code)
}

// FromErrorName resolves a PascalCase error-family name (not an HTTP
// code) to its LinkStatus.
func FromErrorName(name string) (LinkStatus, error) {
	if s, ok := byName[name]; ok {
		return s, nil
	}
	return UnknownError, fmt.Errorf("status: unrecognised name %q", name)
}

// FromString parses either an all-digit string (an HTTP code) or a
// PascalCase error name, matching the wire format used by
// configuration files and logs. On failure it logs nothing itself
// (callers decide whether falling back to UnknownError is silent or
// diagnostic) and returns an error.
func FromString(s string) (LinkStatus, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return UnknownError, fmt.Errorf("status: empty string")
	}
	if isAllDigits(trimmed) {
		code, err := strconv.Atoi(trimmed)
		if err != nil {
			return UnknownError, fmt.Errorf("status: invalid http code %q: %w", s, err)
		}
		return Http(code), nil
	}
	return FromErrorName(trimmed)
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// IsSuccess returns a tri-state: true only for Http(200), false for
// every other observed outcome, nil for not-checked statuses (the
// question doesn't apply yet).
func (s LinkStatus) IsSuccess() *bool {
	t, f := true, false
	switch {
	case s == Http(200):
		return &t
	case s.IsNotChecked():
		return nil
	default:
		return &f
	}
}

// IsRedirect reports whether s is an HTTP 3xx response.
func (s LinkStatus) IsRedirect() bool {
	code, ok := s.HTTPCode()
	return ok && code >= 300 && code <= 399
}

// IsPermanentRedirect reports whether s is HTTP 301 or 308.
func (s LinkStatus) IsPermanentRedirect() bool {
	code, ok := s.HTTPCode()
	return ok && (code == 301 || code == 308)
}

// IsNotChecked reports whether s falls in the not-checked family,
// i.e. no network probe was (or will be) attempted to produce it.
func (s LinkStatus) IsNotChecked() bool {
	return !s.IsHTTP() && s >= -99 && s <= 0
}

// IsGeneric reports whether s falls in the generic error family.
func (s LinkStatus) IsGeneric() bool {
	return s <= -100 && s >= -199
}

// IsDNS reports whether s falls in the DNS error family.
func (s LinkStatus) IsDNS() bool {
	return s <= -200 && s >= -299
}

// IsConnection reports whether s falls in the connection error family.
func (s LinkStatus) IsConnection() bool {
	return s <= -300 && s >= -399
}

// IsHTTPSemantics reports whether s falls in the HTTP-semantics error family.
func (s LinkStatus) IsHTTPSemantics() bool {
	return s <= -400 && s >= -499
}

// IsTLS reports whether s falls in the TLS/PKI error family.
func (s LinkStatus) IsTLS() bool {
	return s <= -500 && s >= -599
}

// PickFrom46 reduces an IPv4 and an IPv6 outcome to the single status
// used for state-transition logging: Http(200) wins outright; a
// not-checked IPv4 result defers to IPv6; otherwise IPv4 wins.
func PickFrom46(ipv4, ipv6 LinkStatus) LinkStatus {
	if ipv4 == Http(200) || ipv6 == Http(200) {
		return Http(200)
	}
	if ipv4.IsNotChecked() {
		return ipv6
	}
	return ipv4
}

// WithRedirect pairs a status with the permanent-redirect target URL
// recorded only when the chain concluded with Http(200) and the first
// permanent redirect in the chain was not preceded by a temporary one.
type WithRedirect struct {
	Status   LinkStatus
	Redirect string // empty if none recorded
}
