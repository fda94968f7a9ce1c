//go:build integration

// Package helpers provides shared setup for end-to-end tests: a disposable
// PostgreSQL container, an assembled platform in postgres mode, and an
// authenticated HTTP client over the real route table.
package helpers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/txn2/fieldwork/internal/server"
	"github.com/txn2/fieldwork/pkg/platform"
)

// JWTSecret signs the tokens used across e2e tests.
const JWTSecret = "e2e-jwt-secret"

// StartPostgres starts a PostgreSQL testcontainer and returns its DSN.
// The container is automatically terminated when the test completes.
func StartPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("fieldwork"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting postgres connection string: %v", err)
	}
	return dsn
}

// TestPlatform wraps an assembled platform and an HTTP test server over it.
type TestPlatform struct {
	Platform *platform.Platform
	Server   *httptest.Server
}

// NewTestPlatform assembles a postgres-backed platform against dsn, applies
// migrations, and serves the full API over an httptest server.
func NewTestPlatform(t *testing.T, dsn string) *TestPlatform {
	t.Helper()

	cfg := platform.DefaultConfig()
	cfg.Storage.Mode = platform.StorageModePostgres
	cfg.Storage.DSN = dsn
	cfg.Journal.Enabled = true
	cfg.Auth.JWTSecret = JWTSecret

	p, err := platform.New(cfg)
	if err != nil {
		t.Fatalf("assembling platform: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	srv := server.New(p)
	srv.Checker().SetReady()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return &TestPlatform{Platform: p, Server: ts}
}

// Token signs a bearer token for the given subject and role.
func Token(t *testing.T, subject, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(JWTSecret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

// Do issues an authenticated JSON request against the test server and decodes
// the response body into out when out is non-nil.
func (tp *TestPlatform) Do(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}

	req, err := http.NewRequest(method, tp.Server.URL+path, &buf)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := tp.Server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decoding %s %s response %q: %v", method, path, data, err)
		}
	}
	return resp.StatusCode
}
