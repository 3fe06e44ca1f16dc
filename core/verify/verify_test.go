package verify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	wardenerrors "github.com/botwarden/warden/core/errors"
	"github.com/botwarden/warden/core/sign"
	"github.com/botwarden/warden/core/store"
	"github.com/botwarden/warden/internal/testutil"
)

func newTestVerifier(t *testing.T) (*Verifier, *store.Store) {
	t.Helper()
	s, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "warden.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return New(Config{Store: s, DevMode: true, FetchTimeout: 2 * time.Second}), s
}

func serveManifest(t *testing.T, raw []byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(raw)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestVerifyAcceptsAndPersists(t *testing.T) {
	v, s := newTestVerifier(t)
	kp := testutil.NewKeyPair(t)
	identity := sign.Identity(kp.Public)
	raw := testutil.SignedManifest(t, kp, nil)
	server := serveManifest(t, raw)

	result, err := v.Verify(context.Background(), server.URL+"/manifest.json", identity)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Accepted {
		t.Fatalf("expected acceptance, errors: %v", result.Errors)
	}

	agent, err := s.GetAgent(context.Background(), identity)
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if agent == nil || agent.Status != store.AgentStatusActive {
		t.Fatalf("expected active agent, got %#v", agent)
	}
	if agent.ManifestJSON != string(raw) {
		t.Fatal("expected raw manifest persisted as last-known-good")
	}
	if agent.LastVerifiedAt.IsZero() {
		t.Fatal("expected verification stamp")
	}
}

func TestVerifyRejectionLeavesNoState(t *testing.T) {
	v, s := newTestVerifier(t)
	kp := testutil.NewKeyPair(t)
	other := testutil.NewKeyPair(t)
	raw := testutil.SignedManifest(t, kp, nil)
	server := serveManifest(t, raw)

	// Claimed identity differs from the manifest pubkey.
	claimed := sign.Identity(other.Public)
	result, err := v.Verify(context.Background(), server.URL+"/manifest.json", claimed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Accepted {
		t.Fatal("expected rejection")
	}
	if len(result.Errors) == 0 {
		t.Fatal("expected enumerated errors")
	}
	agent, err := s.GetAgent(context.Background(), claimed)
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if agent != nil {
		t.Fatal("rejection must not persist any agent state")
	}
}

func TestVerifyUnreachableOriginIsNetworkFailure(t *testing.T) {
	v, _ := newTestVerifier(t)
	v.retryBaseDelay = time.Millisecond
	_, err := v.Verify(context.Background(), "http://127.0.0.1:1/manifest.json", "abc")
	if wardenerrors.CategoryOf(err) != wardenerrors.CategoryNetworkFailure {
		t.Fatalf("expected network_failure, got %v", err)
	}
	if !wardenerrors.RetryableOf(err) {
		t.Fatal("fetch failures should be retryable")
	}
}

func TestVerifyFetchTimeoutBounded(t *testing.T) {
	s, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "warden.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	v := New(Config{Store: s, DevMode: true, FetchTimeout: 50 * time.Millisecond})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	t.Cleanup(server.Close)

	started := time.Now()
	_, err = v.Verify(context.Background(), server.URL, "abc")
	if wardenerrors.CategoryOf(err) != wardenerrors.CategoryNetworkFailure {
		t.Fatalf("expected network_failure, got %v", err)
	}
	if time.Since(started) > 250*time.Millisecond {
		t.Fatal("fetch was not bounded by the configured timeout")
	}
}

func TestFetchRetriesTransientStatus(t *testing.T) {
	v, _ := newTestVerifier(t)
	v.retryBaseDelay = time.Millisecond
	kp := testutil.NewKeyPair(t)
	raw := testutil.SignedManifest(t, kp, nil)

	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(raw)
	}))
	t.Cleanup(server.Close)

	result, err := v.Verify(context.Background(), server.URL+"/manifest.json", sign.Identity(kp.Public))
	if err != nil {
		t.Fatalf("verify after transient failures: %v", err)
	}
	if !result.Accepted {
		t.Fatalf("expected acceptance, errors: %v", result.Errors)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestFetchDoesNotRetryPermanentStatus(t *testing.T) {
	v, _ := newTestVerifier(t)
	v.retryBaseDelay = time.Millisecond

	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	_, err := v.Verify(context.Background(), server.URL+"/manifest.json", "abc")
	if wardenerrors.CategoryOf(err) != wardenerrors.CategoryNetworkFailure {
		t.Fatalf("expected network_failure, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("permanent status must not be retried, got %d attempts", attempts)
	}
}

func TestFetchTimeoutIsSingleAttempt(t *testing.T) {
	s, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "warden.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	v := New(Config{Store: s, DevMode: true, FetchTimeout: 50 * time.Millisecond})
	v.retryBaseDelay = time.Millisecond

	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		time.Sleep(300 * time.Millisecond)
	}))
	t.Cleanup(server.Close)

	_, err = v.Verify(context.Background(), server.URL+"/manifest.json", "abc")
	if wardenerrors.CodeOf(err) != "manifest_fetch_failed" {
		t.Fatalf("expected manifest_fetch_failed, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("timed-out fetch must not be retried, got %d attempts", attempts)
	}
}

func TestVerifyRequiresHTTPSOutsideDevMode(t *testing.T) {
	s, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "warden.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	v := New(Config{Store: s})

	_, err = v.Verify(context.Background(), "http://agent.example.com/manifest.json", "abc")
	if wardenerrors.CodeOf(err) != "insecure_manifest_url" {
		t.Fatalf("expected insecure_manifest_url, got %v", err)
	}
}
