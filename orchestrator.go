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
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"time"

	"github.com/cloudconnect-oss/dbconn/errtype"
	"github.com/cloudconnect-oss/dbconn/instanceid"
	"github.com/cloudconnect-oss/dbconn/internal/adminapi"
	"github.com/cloudconnect-oss/dbconn/internal/credential"
	"github.com/cloudconnect-oss/dbconn/internal/telemetry"
)

// KeyPairSource supplies the caller's RSA key pair. This module never
// generates key material itself (spec.md Non-goals); the source may block
// until the key pair is ready.
type KeyPairSource func(ctx context.Context) (*rsa.PrivateKey, error)

const (
	// defaultSafetyBuffer is used when IAM authentication is not enabled
	// (spec.md §4.5).
	defaultSafetyBuffer = 5 * time.Minute
	// iamSafetyBuffer is used when IAM authentication is enabled, since
	// access-token providers often refresh only ~60s before expiry.
	iamSafetyBuffer = 55 * time.Second
	// fallbackBuffer is used when expiresAt-safetyBuffer has already
	// elapsed.
	fallbackBuffer = 5 * time.Second
)

// orchestrator runs one refresh cycle: acquire a rate-limit permit, fetch
// metadata and mint a certificate in parallel, assemble a TLS config, and
// compute the bundle's expiry and the delay until the next refresh should
// run.
type orchestrator struct {
	id          instanceid.ID
	admin       adminapi.AdminAPI
	keys        KeyPairSource
	tokens      *credential.Provider // nil unless IAM auth is enabled
	iamAuth     bool
	limiter     *refreshLimiter
	timeout     time.Duration
	logger      telemetry.Logger
	metrics     *telemetry.MetricRecorder
}

func encodePublicKeyPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	block := &pem.Block{Type: "RSA PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// fetchMetadata retrieves and validates instance metadata.
func (o *orchestrator) fetchMetadata(ctx context.Context) (adminapi.Metadata, error) {
	ctx, end := telemetry.StartSpan(ctx, "dbconn.FetchMetadata")
	var err error
	defer func() { end(err) }()

	md, ferr := o.admin.ConnectSettings(ctx, o.id.Project, o.id.RegionalInstance())
	if ferr != nil {
		err = o.remapAdminError(ferr)
		return adminapi.Metadata{}, err
	}
	if verr := validateMetadata(o.id, md); verr != nil {
		err = verr
		return adminapi.Metadata{}, verr
	}
	return md, nil
}

// fetchCertificate encodes the public half of the already-obtained key pair,
// optionally refreshes an IAM access token, and mints an ephemeral
// certificate.
func (o *orchestrator) fetchCertificate(ctx context.Context, key *rsa.PrivateKey) (adminapi.EphemeralCert, *time.Time, error) {
	ctx, end := telemetry.StartSpan(ctx, "dbconn.FetchEphemeralCert")
	var err error
	defer func() { end(err) }()

	pubPEM, err := encodePublicKeyPEM(&key.PublicKey)
	if err != nil {
		err = errtype.NewCryptoError("failed to encode public key", o.id.String(), err)
		return adminapi.EphemeralCert{}, nil, err
	}

	var accessToken string
	var tokenExpiry *time.Time
	if o.iamAuth {
		if terr := o.tokens.Refresh(ctx); terr != nil {
			err = errtype.NewRefreshError("failed to refresh IAM access token", o.id.String(), terr)
			return adminapi.EphemeralCert{}, nil, err
		}
		tok, terr := o.tokens.AccessToken(ctx)
		if terr != nil {
			err = errtype.NewRefreshError("failed to obtain IAM access token", o.id.String(), terr)
			return adminapi.EphemeralCert{}, nil, err
		}
		accessToken = tok.Value
		expiry := tok.Expiry
		tokenExpiry = &expiry
	}

	cert, cerr := o.admin.GenerateEphemeralCert(ctx, o.id.Project, o.id.RegionalInstance(), pubPEM, accessToken)
	if cerr != nil {
		err = o.remapAdminError(cerr)
		return adminapi.EphemeralCert{}, nil, err
	}
	return cert, tokenExpiry, nil
}

// remapAdminError implements spec.md §4.8's error remapping table.
func (o *orchestrator) remapAdminError(err error) error {
	switch adminapi.Reason(err) {
	case "accessNotConfigured":
		return errtype.NewAPIDisabledError("the Cloud SQL Admin API is not enabled for this project", o.id.String(), o.id.Project)
	case "notAuthorized":
		return errtype.NewNotAuthorizedError(o.id.String(), o.id.Project)
	default:
		return errtype.NewRefreshError("admin API request failed", o.id.String(), err)
	}
}

// refreshOutcome is the result of one complete orchestrator cycle.
type refreshOutcome struct {
	bundle *Bundle
	delay  time.Duration
}

// performRefresh runs the full algorithm of spec.md §4.5 steps 1-3: acquire
// a limiter permit, fetch metadata and certificate in parallel, assemble the
// bundle, and compute the delay until the next scheduled refresh.
func (o *orchestrator) performRefresh(ctx context.Context, cause telemetry.RefreshCause) (refreshOutcome, error) {
	ctx, end := telemetry.StartSpan(ctx, "dbconn.PerformRefresh")
	start := time.Now()
	var err error
	defer func() {
		end(err)
		status := telemetry.RefreshSuccess
		if err != nil {
			status = telemetry.RefreshFailure
		}
		o.metrics.RecordRefresh(context.Background(), status, cause, time.Since(start))
	}()

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	if err = o.limiter.acquire(ctx, o.id.String()); err != nil {
		return refreshOutcome{}, err
	}

	key, kerr := o.keys(ctx)
	if kerr != nil {
		err = errtype.NewRefreshError("key pair was not available", o.id.String(), kerr)
		return refreshOutcome{}, err
	}

	type mdResult struct {
		md  adminapi.Metadata
		err error
	}
	type certResult struct {
		cert        adminapi.EphemeralCert
		tokenExpiry *time.Time
		err         error
	}
	mdCh := make(chan mdResult, 1)
	certCh := make(chan certResult, 1)

	go func() {
		md, mErr := o.fetchMetadata(ctx)
		mdCh <- mdResult{md: md, err: mErr}
	}()
	go func() {
		cert, exp, cErr := o.fetchCertificate(ctx, key)
		certCh <- certResult{cert: cert, tokenExpiry: exp, err: cErr}
	}()

	var md adminapi.Metadata
	select {
	case r := <-mdCh:
		if r.err != nil {
			err = r.err
			return refreshOutcome{}, err
		}
		md = r.md
	case <-ctx.Done():
		err = errtype.NewRefreshError("refresh canceled while fetching metadata", o.id.String(), ctx.Err())
		return refreshOutcome{}, err
	}

	var cr certResult
	select {
	case cr = <-certCh:
		if cr.err != nil {
			err = cr.err
			return refreshOutcome{}, err
		}
	case <-ctx.Done():
		err = errtype.NewRefreshError("refresh canceled while fetching certificate", o.id.String(), ctx.Err())
		return refreshOutcome{}, err
	}

	tlsCfg, aErr := assembleTLSConfig(o.id, key, md, cr.cert, o.iamAuth)
	if aErr != nil {
		err = aErr
		return refreshOutcome{}, err
	}

	expiresAt := computeExpiry(cr.cert.Cert.NotAfter, cr.tokenExpiry)
	bundle := &Bundle{
		Metadata:    md,
		TLSConfig:   tlsCfg,
		ExpiresAt:   expiresAt,
		IPAddresses: md.IPAddresses,
	}

	return refreshOutcome{bundle: bundle, delay: o.nextDelay(time.Now(), expiresAt)}, nil
}

// nextDelay implements spec.md §4.5's safety-buffer clamping rules.
func (o *orchestrator) nextDelay(now, expiresAt time.Time) time.Duration {
	buffer := defaultSafetyBuffer
	if o.iamAuth {
		buffer = iamSafetyBuffer
	}
	d := expiresAt.Add(-buffer).Sub(now)
	if d > 0 {
		return d
	}
	d = expiresAt.Add(-fallbackBuffer).Sub(now)
	if d > 0 {
		return d
	}
	return 0
}
