// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dbconn

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"time"

	"github.com/cloudconnect-oss/dbconn/errtype"
	"github.com/cloudconnect-oss/dbconn/instanceid"
	"github.com/cloudconnect-oss/dbconn/internal/adminapi"
)

// Bundle is the atomic, immutable product of one refresh cycle: metadata,
// the assembled TLS configuration, and the effective expiration that
// triggers the next refresh. It corresponds to spec.md §3's
// CredentialBundle.
type Bundle struct {
	Metadata    adminapi.Metadata
	TLSConfig   *tls.Config
	ExpiresAt   time.Time
	IPAddresses map[string]string
}

// validateMetadata enforces the invariants spec.md §3 places on fetched
// metadata: the region must match, the backend type must be "SECOND_GEN",
// and at least one IP address must be present.
func validateMetadata(id instanceid.ID, md adminapi.Metadata) error {
	if md.Region != id.Region {
		return errtype.NewValidationError(
			"fetched metadata reports region "+md.Region+", expected "+id.Region,
			id.String(),
		)
	}
	if md.BackendType != "SECOND_GEN" {
		return errtype.NewValidationError(
			"instance is not a second-generation instance (backendType = "+md.BackendType+")",
			id.String(),
		)
	}
	if len(md.IPAddresses) == 0 {
		return errtype.NewValidationError("instance has no assigned IP addresses", id.String())
	}
	return nil
}

// assembleTLSConfig pins a client TLS configuration to the instance: the
// client presents key+cert, the server is trusted only against the
// instance's own CA, and the negotiable versions are TLS 1.2 through 1.3,
// except that IAM-auth-enabled managers refuse to fall back to TLS 1.2 at all
// and accept only TLS 1.3 (spec.md §3, §4.4).
func assembleTLSConfig(id instanceid.ID, key *rsa.PrivateKey, md adminapi.Metadata, cert adminapi.EphemeralCert, iamAuthEnabled bool) (*tls.Config, error) {
	if key == nil || cert.Cert == nil {
		return nil, errtype.NewCryptoError("missing key material for TLS assembly", id.String(), nil)
	}
	pool := x509.NewCertPool()
	pool.AddCert(md.ServerCACert)

	minVersion := uint16(tls.VersionTLS12)
	if iamAuthEnabled {
		// IAM-auth-enabled instances must never downgrade to TLS 1.2
		// (spec.md §3); set the floor at 1.3 so a handshake failure surfaces
		// as a negotiation error rather than a silent downgrade.
		minVersion = tls.VersionTLS13
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{cert.Cert.Raw},
			PrivateKey:  key,
			Leaf:        cert.Cert,
		}},
		RootCAs:    pool,
		MinVersion: minVersion,
		MaxVersion: tls.VersionTLS13,
		ServerName: id.String(),
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return errtype.NewCryptoError("server presented no certificate", id.String(), nil)
			}
			leaf, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return errtype.NewCryptoError("failed to parse server certificate", id.String(), err)
			}
			if _, err := leaf.Verify(x509.VerifyOptions{Roots: pool}); err != nil {
				return errtype.NewCryptoError("failed to verify server certificate against instance CA", id.String(), err)
			}
			return nil
		},
	}
	return cfg, nil
}

// computeExpiry is spec.md §3's CredentialBundle.expiresAt rule: the
// ephemeral cert's expiry, clamped earlier by an IAM access token's
// expiration when IAM authentication is in use.
func computeExpiry(certNotAfter time.Time, accessTokenExpiry *time.Time) time.Time {
	if accessTokenExpiry != nil && accessTokenExpiry.Before(certNotAfter) {
		return *accessTokenExpiry
	}
	return certNotAfter
}
