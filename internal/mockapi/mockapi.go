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

// Package mockapi provides a fake admin API backed by an httptest.Server,
// for use in tests that exercise the refresh pipeline end to end without a
// network dependency.
package mockapi

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Option configures a FakeInstance.
type Option func(*FakeInstance)

// WithIPAddress sets the PRIMARY IP address reported for the instance.
func WithIPAddress(addr string) Option {
	return func(f *FakeInstance) { f.ipAddress = addr }
}

// WithCertExpiry sets the NotAfter time of ephemeral certificates this
// instance mints.
func WithCertExpiry(t time.Time) Option {
	return func(f *FakeInstance) { f.certExpiry = t }
}

// WithBackendType overrides the reported backend type, default "SECOND_GEN".
func WithBackendType(t string) Option {
	return func(f *FakeInstance) { f.backendType = t }
}

// FakeInstance is a fake backing instance: it owns a self-signed CA and
// signs ephemeral certificates against the public key a client presents,
// the way the real admin API does.
type FakeInstance struct {
	project  string
	region   string
	instance string

	ipAddress   string
	backendType string
	certExpiry  time.Time

	caCert *x509.Certificate
	caKey  *rsa.PrivateKey
}

// NewFakeInstance creates a FakeInstance identified by project, region, and
// instance, generating a fresh self-signed CA to sign ephemeral certs with.
func NewFakeInstance(project, region, instance string, opts ...Option) *FakeInstance {
	f := &FakeInstance{
		project:     project,
		region:      region,
		instance:    instance,
		ipAddress:   "127.0.0.1",
		backendType: "SECOND_GEN",
		certExpiry:  time.Now().Add(time.Hour),
	}
	for _, o := range opts {
		o(f)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: instance + ".server.dbconn"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(1, 0, 0),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		panic(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		panic(err)
	}
	f.caCert = cert
	f.caKey = key
	return f
}

// CACert returns the instance's self-signed CA certificate, for tests that
// need to assert the TLS config trusts it.
func (f *FakeInstance) CACert() *x509.Certificate { return f.caCert }

func pemEncode(blockType string, der []byte) string {
	buf := &bytes.Buffer{}
	pem.Encode(buf, &pem.Block{Type: blockType, Bytes: der})
	return buf.String()
}

// connectSettingsPayload serves the response shape adminapi.Client expects
// from a connectSettings GET.
func (f *FakeInstance) connectSettingsPayload() []byte {
	payload := map[string]interface{}{
		"region":      f.region,
		"backendType": f.backendType,
		"ipAddresses": []map[string]string{
			{"type": "PRIMARY", "ipAddress": f.ipAddress},
		},
		"serverCaCert": map[string]string{
			"cert": pemEncode("CERTIFICATE", f.caCert.Raw),
		},
	}
	b, _ := json.Marshal(payload)
	return b
}

// generateEphemeralCertPayload decodes the client's PEM public key from
// body, signs a short-lived certificate against it, and returns the
// response shape adminapi.Client expects.
func (f *FakeInstance) generateEphemeralCertPayload(body io.Reader) ([]byte, error) {
	var req struct {
		PublicKey   string `json:"publicKey"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	block, _ := pem.Decode([]byte(req.PublicKey))
	if block == nil {
		return nil, fmt.Errorf("publicKey is not valid PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: f.instance + ".client.dbconn"},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     f.certExpiry,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, f.caCert, pub, f.caKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign ephemeral certificate: %w", err)
	}

	payload := map[string]interface{}{
		"ephemeralCert": map[string]string{"cert": pemEncode("CERTIFICATE", der)},
	}
	return json.Marshal(payload)
}

// errorPayload returns an admin-API-shaped error body carrying reason.
func errorPayload(reason string) []byte {
	payload := map[string]interface{}{
		"error": map[string]interface{}{
			"errors": []map[string]string{{"reason": reason}},
		},
	}
	b, _ := json.Marshal(payload)
	return b
}

// Server is a fake admin API backed by httptest, serving connectSettings and
// generateEphemeralCert for a fixed set of instances.
type Server struct {
	mu         sync.Mutex
	instances  map[string]*FakeInstance
	failReason string
	failStatus int
	callCounts map[string]int
	httpServer *httptest.Server
}

// NewServer starts a fake admin API server hosting the given instances,
// keyed by "<project>:<region>:<instance>" (the string form of
// instanceid.ID).
func NewServer(instances ...*FakeInstance) *Server {
	s := &Server{
		instances:  make(map[string]*FakeInstance),
		callCounts: make(map[string]int),
	}
	for _, i := range instances {
		s.instances[fmt.Sprintf("%s:%s:%s", i.project, i.region, i.instance)] = i
	}
	s.httpServer = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the base URL to pass as an option.WithEndpoint override.
func (s *Server) URL() string { return s.httpServer.URL }

// Close shuts down the underlying httptest.Server.
func (s *Server) Close() { s.httpServer.Close() }

// FailNextWith makes every subsequent admin API call fail with the given
// HTTP status and admin-API error reason, until ClearFailure is called.
func (s *Server) FailNextWith(status int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = status
	s.failReason = reason
}

// ClearFailure stops FailNextWith's injected failure.
func (s *Server) ClearFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = 0
	s.failReason = ""
}

// CallCount returns how many times path has been requested.
func (s *Server) CallCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCounts[path]
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.callCounts[r.URL.Path]++
	failStatus, failReason := s.failStatus, s.failReason
	s.mu.Unlock()

	if failStatus != 0 {
		w.WriteHeader(failStatus)
		w.Write(errorPayload(failReason))
		return
	}

	project, region, instance, isCert := parsePath(r.URL.Path)

	s.mu.Lock()
	inst, ok := s.instances[fmt.Sprintf("%s:%s:%s", project, region, instance)]
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		w.Write(errorPayload("instanceNotFound"))
		return
	}

	if isCert {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, err := inst.generateEphemeralCertPayload(r.Body)
		defer r.Body.Close()
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(err.Error()))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(body)
		return
	}

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(inst.connectSettingsPayload())
}

// parsePath extracts project, region, instance, and whether the path is the
// generateEphemeralCert variant, from either:
//
//	/projects/{project}/instances/{region}~{instance}/connectSettings
//	/projects/{project}/instances/{region}~{instance}:generateEphemeralCert
func parsePath(path string) (project, region, instance string, isCert bool) {
	parts := strings.Split(path, "/")
	if len(parts) < 5 {
		return "", "", "", false
	}
	project = parts[2]
	regional := parts[4]
	if idx := strings.IndexByte(regional, ':'); idx >= 0 {
		isCert = true
		regional = regional[:idx]
	}
	tilde := strings.IndexByte(regional, '~')
	if tilde < 0 {
		return "", "", "", false
	}
	region = regional[:tilde]
	instance = regional[tilde+1:]
	return project, region, instance, isCert
}
