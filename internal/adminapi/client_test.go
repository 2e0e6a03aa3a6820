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

package adminapi_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/api/option"

	"github.com/cloudconnect-oss/dbconn/internal/adminapi"
	"github.com/cloudconnect-oss/dbconn/internal/mockapi"
)

func testClient(t *testing.T, srv *mockapi.Server) *adminapi.Client {
	t.Helper()
	c, err := adminapi.NewClient(context.Background(),
		option.WithEndpoint(srv.URL()),
		option.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("NewClient() returned error: %v", err)
	}
	return c
}

func TestConnectSettings(t *testing.T) {
	inst := mockapi.NewFakeInstance("my-project", "my-region", "my-instance", mockapi.WithIPAddress("10.0.0.5"))
	srv := mockapi.NewServer(inst)
	defer srv.Close()

	c := testClient(t, srv)
	md, err := c.ConnectSettings(context.Background(), "my-project", "my-region~my-instance")
	if err != nil {
		t.Fatalf("ConnectSettings() returned error: %v", err)
	}
	if md.Region != "my-region" {
		t.Errorf("Region = %q, want %q", md.Region, "my-region")
	}
	if md.BackendType != "SECOND_GEN" {
		t.Errorf("BackendType = %q, want %q", md.BackendType, "SECOND_GEN")
	}
	wantIPs := map[string]string{"PRIMARY": "10.0.0.5"}
	if diff := cmp.Diff(wantIPs, md.IPAddresses); diff != "" {
		t.Errorf("IPAddresses mismatch (-want +got):\n%s", diff)
	}
	if md.ServerCACert == nil {
		t.Fatal("ServerCACert = nil, want the instance's CA certificate")
	}
	if md.ServerCACert.Subject.CommonName != inst.CACert().Subject.CommonName {
		t.Errorf("ServerCACert CN = %q, want %q", md.ServerCACert.Subject.CommonName, inst.CACert().Subject.CommonName)
	}
}

func TestConnectSettingsNotFound(t *testing.T) {
	srv := mockapi.NewServer()
	defer srv.Close()

	c := testClient(t, srv)
	if _, err := c.ConnectSettings(context.Background(), "missing-project", "my-region~my-instance"); err == nil {
		t.Fatal("ConnectSettings() = nil error, want error for unknown instance")
	}
}

func TestConnectSettingsRemapsReason(t *testing.T) {
	srv := mockapi.NewServer()
	defer srv.Close()
	srv.FailNextWith(http.StatusForbidden, "accessNotConfigured")

	c := testClient(t, srv)
	_, err := c.ConnectSettings(context.Background(), "my-project", "my-region~my-instance")
	if err == nil {
		t.Fatal("ConnectSettings() = nil error, want error")
	}
	if got := adminapi.Reason(err); got != "accessNotConfigured" {
		t.Errorf("Reason(err) = %q, want %q", got, "accessNotConfigured")
	}
}

func TestGenerateEphemeralCert(t *testing.T) {
	inst := mockapi.NewFakeInstance("my-project", "my-region", "my-instance",
		mockapi.WithCertExpiry(time.Now().Add(2*time.Hour)))
	srv := mockapi.NewServer(inst)
	defer srv.Close()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey() returned error: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey() returned error: %v", err)
	}
	pubPEM := string(pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: der}))

	c := testClient(t, srv)
	cert, err := c.GenerateEphemeralCert(context.Background(), "my-project", "my-region~my-instance", pubPEM, "")
	if err != nil {
		t.Fatalf("GenerateEphemeralCert() returned error: %v", err)
	}
	if cert.Cert == nil {
		t.Fatal("Cert = nil, want a signed certificate")
	}
	if _, ok := cert.Cert.PublicKey.(*rsa.PublicKey); !ok {
		t.Errorf("Cert.PublicKey is %T, want *rsa.PublicKey", cert.Cert.PublicKey)
	}
	if got, want := cert.Cert.Subject, (pkix.Name{}); got.CommonName == want.CommonName {
		t.Error("Cert.Subject.CommonName is empty, want the mock's client common name")
	}
}
