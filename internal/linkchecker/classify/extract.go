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
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// FillFromError walks err's chain with errors.As, asking each layer it
// recognises (net, DNS, TLS, x509, syscall) to contribute whatever
// facts it knows about. This replaces the source classifier's
// concrete-type downcast chain: extending recognition for a new error
// source means adding one more errors.As probe here, not touching
// Classify itself.
func FillFromError(err error) Facts {
	var facts Facts
	if err == nil {
		return facts
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		facts.Timeout = true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsTimeout:
			facts.DNSTimeout = true
		case dnsErr.IsNotFound:
			facts.DNSResponse = DNSResponseNXDomain
		case strings.Contains(dnsErr.Err, "no such host"):
			facts.DNSResponse = DNSResponseNXDomain
		case strings.Contains(dnsErr.Err, "refused"):
			facts.DNSResponse = DNSResponseRefused
		case strings.Contains(dnsErr.Err, "no answer") || strings.Contains(dnsErr.Err, "no suitable address"):
			facts.DNSResponse = DNSResponseNoRecords
		default:
			facts.DNSResponse = DNSResponseServFail
		}
	}

	var addrErr *net.AddrError
	if errors.As(err, &addrErr) {
		facts.DNSHostnameSyntax = HostnameSyntaxMalformed
	}

	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED:
			facts.IOError = IOErrorConnectionRefused
		case syscall.EHOSTUNREACH:
			facts.IOError = IOErrorHostUnreachable
		case syscall.ENETUNREACH:
			facts.IOError = IOErrorNetworkUnreachable
		case syscall.ECONNRESET:
			facts.IOError = IOErrorConnectionReset
		case syscall.EADDRNOTAVAIL:
			facts.IOError = IOErrorAddressNotAvailable
		case syscall.ECONNABORTED:
			facts.IOError = IOErrorConnectionAborted
		}
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		facts.HTTPIncompleteMessage = true
	}

	var certInvalid x509.CertificateInvalidError
	if errors.As(err, &certInvalid) {
		switch certInvalid.Reason {
		case x509.Expired:
			facts.TLSCertificateError = TLSCertErrorExpired
		case x509.CANotAuthorizedForThisName, x509.NameMismatch, x509.NameConstraintsWithoutSANs:
			facts.TLSCertificateError = TLSCertErrorNotValidForName
		case x509.IncompatibleUsage:
			facts.TLSCertValidation = TLSCertValidationUnsupportedCertVersion
		case x509.CANotAuthorizedForExtKeyUsage:
			facts.TLSCertValidation = TLSCertValidationCAUsedAsEndEntity
		default:
			facts.TLSCertificateError = TLSCertErrorOther
		}
	}

	var unknownAuth x509.UnknownAuthorityError
	if errors.As(err, &unknownAuth) {
		facts.TLSCertificateError = TLSCertErrorUnknownIssuer
	}

	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		facts.TLSCertificateError = TLSCertErrorNotValidForName
	}

	var recordHdrErr tls.RecordHeaderError
	if errors.As(err, &recordHdrErr) {
		facts.TLSAlert = TLSAlertHandshakeFailure
	}

	if facts == (Facts{}) && looksLikeTLSError(err) {
		facts.TLSAlert = TLSAlertOther
	}
	if facts == (Facts{}) && looksLikeHTTPParseError(err) {
		facts.HTTPParseError = true
	}

	return facts
}

func looksLikeTLSError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "tls:") || strings.Contains(msg, "x509:")
}

func looksLikeHTTPParseError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "malformed HTTP") ||
		strings.Contains(msg, "malformed Content-Length") ||
		strings.Contains(msg, "failed to parse")
}
