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
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/option"

	"github.com/cloudconnect-oss/dbconn/errtype"
	"github.com/cloudconnect-oss/dbconn/instanceid"
	"github.com/cloudconnect-oss/dbconn/internal/adminapi"
	"github.com/cloudconnect-oss/dbconn/internal/mockapi"
)

func newTestManager(t *testing.T, srv *mockapi.Server, id instanceid.ID, opts ...Option) *Manager {
	t.Helper()
	c, err := adminapi.NewClient(context.Background(),
		option.WithEndpoint(srv.URL()),
		option.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("adminapi.NewClient() returned error: %v", err)
	}
	keys := func(context.Context) (*rsa.PrivateKey, error) {
		return rsa.GenerateKey(rand.Reader, 2048)
	}
	opts = append([]Option{withRefreshLimiter(newRefreshLimiterWithRate(10*time.Millisecond, 1))}, opts...)
	m, err := NewManager(context.Background(), id, c, keys, opts...)
	if err != nil {
		t.Fatalf("NewManager() returned error: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestNewManagerRequiresAdminAndKeys(t *testing.T) {
	id := instanceid.ID{Project: "p", Region: "r", Instance: "i"}
	if _, err := NewManager(context.Background(), id, nil, func(context.Context) (*rsa.PrivateKey, error) {
		return nil, nil
	}); err == nil {
		t.Error("NewManager(nil admin) = nil error, want error")
	}

	c, _ := adminapi.NewClient(context.Background(), option.WithoutAuthentication())
	if _, err := NewManager(context.Background(), id, c, nil); err == nil {
		t.Error("NewManager(nil keys) = nil error, want error")
	}
}

func TestNewManagerIAMAuthNRequiresTokenSource(t *testing.T) {
	id := instanceid.ID{Project: "p", Region: "r", Instance: "i"}
	c, _ := adminapi.NewClient(context.Background(), option.WithoutAuthentication())
	keys := func(context.Context) (*rsa.PrivateKey, error) { return rsa.GenerateKey(rand.Reader, 2048) }
	_, err := NewManager(context.Background(), id, c, keys, WithIAMAuthN(nil))
	var cfgErr *errtype.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("NewManager(WithIAMAuthN(nil)) error = %v (%T), want *errtype.ConfigError", err, err)
	}
}

func TestManagerTLSConfig(t *testing.T) {
	id := instanceid.ID{Project: "my-project", Region: "my-region", Instance: "my-instance"}
	inst := mockapi.NewFakeInstance(id.Project, id.Region, id.Instance, mockapi.WithIPAddress("10.1.1.1"))
	srv := mockapi.NewServer(inst)
	defer srv.Close()

	m := newTestManager(t, srv, id)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, err := m.TLSConfig(ctx)
	if err != nil {
		t.Fatalf("TLSConfig() returned error: %v", err)
	}
	if cfg == nil {
		t.Fatal("TLSConfig() = nil, want a populated *tls.Config")
	}
}

func TestManagerPreferredIP(t *testing.T) {
	id := instanceid.ID{Project: "my-project", Region: "my-region", Instance: "my-instance"}
	inst := mockapi.NewFakeInstance(id.Project, id.Region, id.Instance, mockapi.WithIPAddress("10.2.2.2"))
	srv := mockapi.NewServer(inst)
	defer srv.Close()

	m := newTestManager(t, srv, id)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ip, err := m.PreferredIP(ctx, []string{"PRIVATE", "PRIMARY"})
	if err != nil {
		t.Fatalf("PreferredIP() returned error: %v", err)
	}
	if ip != "10.2.2.2" {
		t.Errorf("PreferredIP() = %q, want %q", ip, "10.2.2.2")
	}

	if _, err := m.PreferredIP(ctx, []string{"PSC"}); err == nil {
		t.Error("PreferredIP([PSC]) = nil error, want NoMatchingIPError")
	} else {
		var noMatch *errtype.NoMatchingIPError
		if !errors.As(err, &noMatch) {
			t.Errorf("PreferredIP([PSC]) error = %v (%T), want *errtype.NoMatchingIPError", err, err)
		}
	}
}

func TestManagerSSLSocket(t *testing.T) {
	id := instanceid.ID{Project: "my-project", Region: "my-region", Instance: "my-instance"}
	srv := mockapi.NewServer(mockapi.NewFakeInstance(id.Project, id.Region, id.Instance))
	defer srv.Close()

	m := newTestManager(t, srv, id)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sock, err := m.SSLSocket(ctx)
	if err != nil {
		t.Fatalf("SSLSocket() returned error: %v", err)
	}
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	tlsConn := sock.Client(c1)
	if tlsConn == nil {
		t.Fatal("Client() returned nil")
	}
}

func TestManagerForceRefresh(t *testing.T) {
	id := instanceid.ID{Project: "my-project", Region: "my-region", Instance: "my-instance"}
	srv := mockapi.NewServer(mockapi.NewFakeInstance(id.Project, id.Region, id.Instance))
	defer srv.Close()

	m := newTestManager(t, srv, id)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := m.TLSConfig(ctx); err != nil {
		t.Fatalf("TLSConfig() returned error before ForceRefresh: %v", err)
	}

	m.ForceRefresh()

	if _, err := m.TLSConfig(ctx); err != nil {
		t.Fatalf("TLSConfig() returned error after ForceRefresh: %v", err)
	}
}

func TestManagerConcurrentReaders(t *testing.T) {
	id := instanceid.ID{Project: "my-project", Region: "my-region", Instance: "my-instance"}
	srv := mockapi.NewServer(mockapi.NewFakeInstance(id.Project, id.Region, id.Instance))
	defer srv.Close()

	m := newTestManager(t, srv, id)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := m.TLSConfig(ctx); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent TLSConfig() returned error: %v", err)
	}
}

func TestManagerCloseIsIdempotent(t *testing.T) {
	id := instanceid.ID{Project: "my-project", Region: "my-region", Instance: "my-instance"}
	srv := mockapi.NewServer(mockapi.NewFakeInstance(id.Project, id.Region, id.Instance))
	defer srv.Close()

	m := newTestManager(t, srv, id)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := m.TLSConfig(ctx); err != nil {
		t.Fatalf("TLSConfig() returned error: %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close() returned error: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close() returned error: %v", err)
	}

	// A bundle already fetched remains readable after Close.
	if _, err := m.TLSConfig(context.Background()); err != nil {
		t.Errorf("TLSConfig() after Close returned error: %v", err)
	}
}
