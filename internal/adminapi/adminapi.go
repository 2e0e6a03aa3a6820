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

// Package adminapi defines the two admin-API operations the credential
// manager invokes, and ships a default JSON/REST implementation. The
// interface is what the core depends on; the HTTP transport, retries, and
// auth wiring beyond these two calls are out of scope for this module and
// belong to whichever *option.ClientOption the embedder supplies.
package adminapi

import (
	"context"
	"crypto/x509"
)

// Metadata is the parsed result of one connect.get call. It is not
// validated here; the caller checks region, backend type, and IP addresses.
type Metadata struct {
	// Region is the backend-reported region; the caller is responsible for
	// checking it matches the requested instance's region.
	Region string
	// BackendType is the backend-reported instance type, e.g. "SECOND_GEN".
	BackendType string
	// IPAddresses maps an IP type label ("PRIMARY", "PRIVATE", "PSC", ...) to
	// its address. Insertion order is not meaningful.
	IPAddresses map[string]string
	// ServerCACert is the per-instance CA the client must pin its trust to.
	ServerCACert *x509.Certificate
}

// EphemeralCert is the signed, short-lived client certificate returned by
// generateEphemeralCert.
type EphemeralCert struct {
	Cert *x509.Certificate
}

// AdminAPI is the subset of the control-plane admin API the credential
// manager depends on.
type AdminAPI interface {
	// ConnectSettings retrieves instance metadata for the instance
	// identified by project and regionalInstance (as produced by
	// instanceid.ID.RegionalInstance).
	ConnectSettings(ctx context.Context, project, regionalInstance string) (Metadata, error)

	// GenerateEphemeralCert exchanges a PEM-encoded RSA public key (and,
	// when IAM authentication is enabled, a freshly refreshed OAuth2 access
	// token) for a signed ephemeral client certificate.
	GenerateEphemeralCert(ctx context.Context, project, regionalInstance, publicKeyPEM, accessToken string) (EphemeralCert, error)
}
