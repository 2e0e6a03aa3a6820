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

// Package credential adapts an OAuth2 token source into the shape the
// certificate minter needs for IAM database authentication: a token value
// with the trailing-dot workaround applied, plus its expiration time.
package credential

import (
	"context"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Token is an OAuth2 access token plus its expiration, after the
// trailing-dot workaround has been applied to Value.
type Token struct {
	Value  string
	Expiry time.Time
}

// Provider refreshes and exposes an OAuth2 access token suitable for IAM
// database authentication. It wraps an oauth2.TokenSource the way spec.md
// §6's credential provider does: refresh() then getAccessToken().
type Provider struct {
	source oauth2.TokenSource
}

// NewProvider wraps an oauth2.TokenSource as a Provider.
func NewProvider(source oauth2.TokenSource) *Provider {
	return &Provider{source: source}
}

// Refresh forces the underlying token source to produce a fresh token. Most
// oauth2.TokenSource implementations refresh lazily on Token(), so Refresh
// here simply calls Token() and discards the result; the point is to surface
// any refresh error eagerly rather than at the moment the token value is
// needed for a certificate request.
func (p *Provider) Refresh(ctx context.Context) error {
	_, err := p.AccessToken(ctx)
	return err
}

// trimTrailingDots strips trailing '.' characters from an access token. This
// works around a known issue in some IAM token backends that pad the token
// with one or more trailing dots; the database server rejects a token with
// the padding intact. This must be preserved until the upstream issue is
// fixed.
func trimTrailingDots(tok string) string {
	return strings.TrimRight(tok, ".")
}

// AccessToken returns the current access token, trimmed per
// trimTrailingDots, along with its expiration.
func (p *Provider) AccessToken(ctx context.Context) (Token, error) {
	tok, err := p.source.Token()
	if err != nil {
		return Token{}, err
	}
	return Token{
		Value:  trimTrailingDots(tok.AccessToken),
		Expiry: tok.Expiry,
	}, nil
}
