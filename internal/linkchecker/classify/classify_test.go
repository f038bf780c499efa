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
	"testing"

	"repology-linkchecker/internal/linkchecker/status"
)

func TestClassifyEmptyFactsIsUnknown(t *testing.T) {
	if got := Classify(Facts{}); got != status.UnknownError {
		t.Errorf("Classify(Facts{}) = %v, want UnknownError", got)
	}
}

func TestClassifyPrecisionUpgrade(t *testing.T) {
	facts := Facts{
		DNSResponse:       DNSResponseServFail, // precision 1: DnsError
		DNSHostnameSyntax: HostnameSyntaxMalformed, // precision 3: InvalidHostname
	}
	if got := Classify(facts); got != status.InvalidHostname {
		t.Errorf("Classify(mixed precision) = %v, want InvalidHostname (higher precision wins)", got)
	}
}

func TestClassifyTieKeepsFirst(t *testing.T) {
	// IOError is pushed before the DNSTimeout check in Classify, so on a
	// precision-3 tie the IOError-derived status must win.
	facts := Facts{
		DNSTimeout: true,
		IOError:    IOErrorConnectionRefused,
	}
	if got := Classify(facts); got != status.ConnectionRefused {
		t.Errorf("Classify(tie) = %v, want ConnectionRefused (first precision-3 push kept)", got)
	}
}

func TestClassifyDNSFamily(t *testing.T) {
	cases := []struct {
		facts Facts
		want  status.LinkStatus
	}{
		{Facts{DNSResponse: DNSResponseNXDomain}, status.DnsDomainNotFound},
		{Facts{DNSResponse: DNSResponseNoRecords}, status.DnsNoAddressRecord},
		{Facts{DNSResponse: DNSResponseRefused}, status.DnsRefused},
		{Facts{DNSResponse: DNSResponseServFail}, status.DnsError},
		{Facts{DNSTimeout: true}, status.DnsTimeout},
	}
	for _, c := range cases {
		if got := Classify(c.facts); got != c.want {
			t.Errorf("Classify(%+v) = %v, want %v", c.facts, got, c.want)
		}
	}
}

func TestClassifyTLSFamily(t *testing.T) {
	cases := []struct {
		facts Facts
		want  status.LinkStatus
	}{
		{Facts{TLSCertificateError: TLSCertErrorExpired}, status.SslCertificateHasExpired},
		{Facts{TLSCertificateError: TLSCertErrorUnknownIssuer}, status.CertificateUnknownIssuer},
		{Facts{TLSCertificateError: TLSCertErrorNotValidForName}, status.SslCertificateHostnameMismatch},
		{Facts{TLSCertValidation: TLSCertValidationCAUsedAsEndEntity}, status.SslCertificateSelfSigned},
		{Facts{TLSAlert: TLSAlertHandshakeFailure}, status.SslHandshakeFailure},
		{Facts{TLSAlert: TLSAlertOther}, status.SslError},
	}
	for _, c := range cases {
		if got := Classify(c.facts); got != c.want {
			t.Errorf("Classify(%+v) = %v, want %v", c.facts, got, c.want)
		}
	}
}

func TestFillFromErrorNil(t *testing.T) {
	if got := FillFromError(nil); got != (Facts{}) {
		t.Errorf("FillFromError(nil) = %+v, want zero value", got)
	}
}
