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

package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

type fakeTokenSource struct {
	tok *oauth2.Token
	err error
}

func (f fakeTokenSource) Token() (*oauth2.Token, error) {
	return f.tok, f.err
}

func TestAccessTokenTrimsTrailingDots(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	p := NewProvider(fakeTokenSource{tok: &oauth2.Token{
		AccessToken: "ya29.abc123...",
		Expiry:      expiry,
	}})
	got, err := p.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken() returned error: %v", err)
	}
	if got.Value != "ya29.abc123" {
		t.Errorf("AccessToken().Value = %q, want %q", got.Value, "ya29.abc123")
	}
	if !got.Expiry.Equal(expiry) {
		t.Errorf("AccessToken().Expiry = %v, want %v", got.Expiry, expiry)
	}
}

func TestAccessTokenPropagatesError(t *testing.T) {
	wantErr := errors.New("token source unavailable")
	p := NewProvider(fakeTokenSource{err: wantErr})
	_, err := p.AccessToken(context.Background())
	if !errors.Is(err, wantErr) {
		t.Errorf("AccessToken() error = %v, want %v", err, wantErr)
	}
}

func TestRefreshSurfacesErrorEagerly(t *testing.T) {
	wantErr := errors.New("refresh failed")
	p := NewProvider(fakeTokenSource{err: wantErr})
	if err := p.Refresh(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("Refresh() error = %v, want %v", err, wantErr)
	}
}
