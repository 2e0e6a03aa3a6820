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

package adminapi

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"
)

// defaultBaseURL is the production endpoint of the admin API.
const defaultBaseURL = "https://sqladmin.googleapis.com/sql/v1beta4"

// cloudPlatformScope is the OAuth2 scope required by every admin-API call.
const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// connectSettingsResponse mirrors the connect.get response shape from
// spec.md §6.
type connectSettingsResponse struct {
	ServerResponse googleapi.ServerResponse
	Region         string `json:"region"`
	BackendType    string `json:"backendType"`
	IPAddresses    []struct {
		Type      string `json:"type"`
		IPAddress string `json:"ipAddress"`
	} `json:"ipAddresses"`
	ServerCaCert struct {
		Cert string `json:"cert"`
	} `json:"serverCaCert"`
	Error *apiError `json:"error,omitempty"`
}

// generateEphemeralCertRequest mirrors the connect.generateEphemeralCert
// request shape from spec.md §6.
type generateEphemeralCertRequest struct {
	PublicKey   string `json:"publicKey"`
	AccessToken string `json:"access_token,omitempty"`
}

type generateEphemeralCertResponse struct {
	ServerResponse googleapi.ServerResponse
	EphemeralCert  struct {
		Cert string `json:"cert"`
	} `json:"ephemeralCert"`
	Error *apiError `json:"error,omitempty"`
}

// apiError captures the subset of the admin API's error payload this module
// remaps into typed errors (see errtype, the Reason helper below, and
// remapAdminError in the root package's orchestrator.go).
type apiError struct {
	Errors []struct {
		Reason string `json:"reason"`
	} `json:"errors"`
}

// Reason returns the first error reason reported by the API, if any.
func (e *apiError) Reason() string {
	if e == nil || len(e.Errors) == 0 {
		return ""
	}
	return e.Errors[0].Reason
}

// Client is the default AdminAPI implementation, speaking JSON/REST to the
// admin API over an *http.Client assembled the way
// google.golang.org/api/transport/http assembles one for any other Google
// API client: with auth, retries, and user-agent handled by the supplied
// option.ClientOptions, none of which this package reimplements.
type Client struct {
	http     *http.Client
	endpoint string
}

// NewClient initializes a Client. Scopes are fixed to the cloud-platform
// scope and cannot be overridden by the caller.
func NewClient(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	os := append([]option.ClientOption{option.WithEndpoint(defaultBaseURL)}, opts...)
	os = append(os, option.WithScopes(cloudPlatformScope))
	hc, endpoint, err := htransport.NewClient(ctx, os...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize admin API transport: %w", err)
	}
	return &Client{http: hc, endpoint: endpoint}, nil
}

func readError(res *http.Response) error {
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	return &googleapi.Error{Code: res.StatusCode, Header: res.Header, Body: string(body)}
}

// ConnectSettings implements AdminAPI.
func (c *Client) ConnectSettings(ctx context.Context, project, regionalInstance string) (Metadata, error) {
	u := fmt.Sprintf("%s/projects/%s/instances/%s/connectSettings", c.endpoint, project, regionalInstance)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Metadata{}, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return Metadata{}, err
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusMultipleChoices {
		return Metadata{}, readError(res)
	}
	var cs connectSettingsResponse
	if err := json.NewDecoder(res.Body).Decode(&cs); err != nil {
		return Metadata{}, err
	}

	ips := make(map[string]string, len(cs.IPAddresses))
	for _, ip := range cs.IPAddresses {
		ips[ip.Type] = ip.IPAddress
	}
	block, _ := pem.Decode([]byte(cs.ServerCaCert.Cert))
	if block == nil {
		return Metadata{}, errors.New("server CA certificate is not valid PEM")
	}
	caCert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to parse server CA certificate: %w", err)
	}
	return Metadata{
		Region:       cs.Region,
		BackendType:  cs.BackendType,
		IPAddresses:  ips,
		ServerCACert: caCert,
	}, nil
}

// GenerateEphemeralCert implements AdminAPI.
func (c *Client) GenerateEphemeralCert(ctx context.Context, project, regionalInstance, publicKeyPEM, accessToken string) (EphemeralCert, error) {
	u := fmt.Sprintf("%s/projects/%s/instances/%s:generateEphemeralCert", c.endpoint, project, regionalInstance)
	body, err := json.Marshal(generateEphemeralCertRequest{
		PublicKey:   publicKeyPEM,
		AccessToken: accessToken,
	})
	if err != nil {
		return EphemeralCert{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return EphemeralCert{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.http.Do(req)
	if err != nil {
		return EphemeralCert{}, err
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusMultipleChoices {
		return EphemeralCert{}, readError(res)
	}
	var gc generateEphemeralCertResponse
	if err := json.NewDecoder(res.Body).Decode(&gc); err != nil {
		return EphemeralCert{}, err
	}
	block, _ := pem.Decode([]byte(gc.EphemeralCert.Cert))
	if block == nil {
		return EphemeralCert{}, errors.New("ephemeral certificate is not valid PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return EphemeralCert{}, fmt.Errorf("failed to parse ephemeral certificate: %w", err)
	}
	return EphemeralCert{Cert: cert}, nil
}

// Reason extracts the admin API's reported error reason (e.g.
// "accessNotConfigured", "notAuthorized") from err, if err is a
// *googleapi.Error whose body carries one.
func Reason(err error) string {
	var gErr *googleapi.Error
	if !errors.As(err, &gErr) {
		return ""
	}
	var payload struct {
		Error apiError `json:"error"`
	}
	if jsonErr := json.Unmarshal([]byte(gErr.Body), &payload); jsonErr != nil {
		return ""
	}
	return payload.Error.Reason()
}
