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

package classify

import (
	"log/slog"

	"repology-linkchecker/internal/linkchecker/status"
)

// chooser tracks the best (status, precision) pair seen so far.
// push only upgrades on strictly higher precision; a tie with a
// different value is logged and the first value is kept, matching
// the original classifier's conservative tie-breaking.
type chooser struct {
	logger    *slog.Logger
	best      status.LinkStatus
	precision int
	set       bool
}

func newChooser(logger *slog.Logger) *chooser {
	return &chooser{logger: logger, best: status.UnknownError, precision: 0}
}

func (c *chooser) push(s status.LinkStatus, precision int) {
	if !c.set {
		c.best, c.precision, c.set = s, precision, true
		return
	}
	switch {
	case precision > c.precision:
		c.best, c.precision = s, precision
	case precision == c.precision && s != c.best:
		if c.logger != nil {
			c.logger.Debug("classify: precision tie, keeping first status",
				slog.String("kept", c.best.String()),
				slog.String("discarded", s.String()))
		}
	}
}

// Classify reduces facts to the single most precise LinkStatus.
// Candidates are considered in the order: timeout, I/O, DNS, HTTP
// framing, then TLS. Precision decides the outcome; between candidates
// of equal precision the one considered first is kept.
func Classify(facts Facts) status.LinkStatus {
	return ClassifyLogging(facts, nil)
}

// ClassifyLogging is Classify with an optional logger for precision-tie
// and unrecognised-chain diagnostics.
func ClassifyLogging(facts Facts, logger *slog.Logger) status.LinkStatus {
	c := newChooser(logger)

	if facts.Timeout {
		c.push(status.Timeout, 3)
	}

	switch facts.IOError {
	case IOErrorHostUnreachable:
		c.push(status.HostUnreachable, 3)
	case IOErrorConnectionRefused:
		c.push(status.ConnectionRefused, 3)
	case IOErrorConnectionReset:
		c.push(status.ConnectionResetByPeer, 3)
	case IOErrorNetworkUnreachable:
		c.push(status.NetworkUnreachable, 3)
	case IOErrorAddressNotAvailable:
		c.push(status.AddressNotAvailable, 3)
	case IOErrorConnectionAborted:
		c.push(status.ConnectionAborted, 3)
	}

	if facts.DNSTimeout {
		c.push(status.DnsTimeout, 3)
	}
	switch facts.DNSResponse {
	case DNSResponseServFail:
		c.push(status.DnsError, 1)
	case DNSResponseNXDomain:
		c.push(status.DnsDomainNotFound, 3)
	case DNSResponseRefused:
		c.push(status.DnsRefused, 3)
	case DNSResponseNoRecords:
		c.push(status.DnsNoAddressRecord, 3)
	}
	switch facts.DNSHostnameSyntax {
	case HostnameSyntaxInvalidCharacters:
		c.push(status.InvalidCharactersInHostname, 3)
	case HostnameSyntaxMalformed:
		c.push(status.InvalidHostname, 3)
	}
	if facts.DNSIPv4MappedInAAAA {
		c.push(status.DnsIpv4MappedInAaaa, 3)
	}

	if facts.HTTPIncompleteMessage || facts.HTTP2Reset {
		c.push(status.ServerDisconnected, 3)
	}
	if facts.HTTPParseError {
		c.push(status.BadHttp, 1)
	}

	switch facts.TLSCertificateError {
	case TLSCertErrorExpired:
		c.push(status.SslCertificateHasExpired, 3)
	case TLSCertErrorUnknownIssuer:
		c.push(status.CertificateUnknownIssuer, 3)
	case TLSCertErrorNotValidForName:
		c.push(status.SslCertificateHostnameMismatch, 3)
	case TLSCertErrorOther:
		c.push(status.InvalidCertificate, 2)
	}
	switch facts.TLSCertValidation {
	case TLSCertValidationCAUsedAsEndEntity:
		c.push(status.SslCertificateSelfSigned, 3)
	case TLSCertValidationUnsupportedCertVersion:
		c.push(status.InvalidCertificate, 2)
	case TLSCertValidationOther:
		c.push(status.InvalidCertificate, 2)
	}
	switch facts.TLSAlert {
	case TLSAlertHandshakeFailure:
		c.push(status.SslHandshakeFailure, 3)
	case TLSAlertOther:
		c.push(status.SslError, 1)
	}

	if !c.set {
		if logger != nil {
			logger.Warn("classify: no recognised facts in error, falling back to UnknownError")
		}
		return status.UnknownError
	}
	return c.best
}
