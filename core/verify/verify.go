package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	wardenerrors "github.com/botwarden/warden/core/errors"
	"github.com/botwarden/warden/core/manifest"
	"github.com/botwarden/warden/core/store"
)

const (
	maxManifestBytes = 1 * 1024 * 1024

	// Transient fetch failures get a short bounded retry; timeouts do not.
	fetchAttempts  = 3
	fetchBaseDelay = 200 * time.Millisecond
)

// Verifier fetches an agent's published manifest, validates it, and
// persists the last-known-good copy. Acceptance is all-or-nothing: a
// manifest that fails any check produces a full error list and no state
// change.
type Verifier struct {
	store          *store.Store
	client         *http.Client
	fetchTimeout   time.Duration
	retryBaseDelay time.Duration
	devMode        bool
	logger         *slog.Logger
	now            func() time.Time
}

type Config struct {
	Store *store.Store

	// FetchTimeout bounds the manifest fetch. Defaults to 5s; a stalled
	// origin must not stall verification for other identities.
	FetchTimeout time.Duration

	// DevMode permits plain-http manifest origins for local exercise.
	DevMode bool

	Client *http.Client
	Logger *slog.Logger
	Now    func() time.Time
}

func New(cfg Config) *Verifier {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Verifier{
		store:          cfg.Store,
		client:         client,
		fetchTimeout:   timeout,
		retryBaseDelay: fetchBaseDelay,
		devMode:        cfg.DevMode,
		logger:         logger,
		now:            now,
	}
}

type Result struct {
	Accepted bool               `json:"accepted"`
	Manifest *manifest.Manifest `json:"manifest,omitempty"`
	Errors   []string           `json:"errors,omitempty"`
}

// Verify fetches the manifest at manifestURL and validates it against the
// claimed identity. On acceptance the manifest is persisted as the agent's
// last-known-good copy with a fresh verification stamp.
func (v *Verifier) Verify(ctx context.Context, manifestURL, pubkey string) (Result, error) {
	if err := v.checkScheme(manifestURL); err != nil {
		return Result{}, err
	}

	raw, err := v.fetch(ctx, manifestURL)
	if err != nil {
		return Result{}, err
	}

	validation := manifest.Validate(raw, pubkey, manifest.Options{
		Now:       v.now(),
		DevMode:   v.devMode,
		SourceURL: manifestURL,
	})
	if !validation.Valid {
		v.logger.Info("manifest rejected",
			"identity", pubkey,
			"url", manifestURL,
			"errors", len(validation.Errors),
		)
		return Result{Accepted: false, Manifest: validation.Manifest, Errors: validation.Errors}, nil
	}

	if err := v.persist(ctx, pubkey, raw, validation.Manifest); err != nil {
		return Result{}, err
	}
	v.logger.Info("manifest verified", "identity", pubkey, "url", manifestURL)
	return Result{Accepted: true, Manifest: validation.Manifest}, nil
}

func (v *Verifier) checkScheme(manifestURL string) error {
	parsed, err := url.Parse(strings.TrimSpace(manifestURL))
	if err != nil {
		return wardenerrors.Wrap(err, wardenerrors.CategoryMalformedInput,
			"invalid_manifest_url", "", false)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "https" {
		return nil
	}
	if scheme == "http" && v.devMode {
		return nil
	}
	return wardenerrors.New("manifest origin requires https",
		wardenerrors.CategoryMalformedInput, "insecure_manifest_url", "", false)
}

// fetch retries transient failures with bounded backoff. A timed-out
// attempt is not transient: the deadline is the terminal outcome and the
// caller scores it once.
func (v *Verifier) fetch(ctx context.Context, manifestURL string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		raw, err := v.fetchOnce(ctx, manifestURL)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !isTransientFetchError(err) || attempt == fetchAttempts {
			break
		}
		v.logger.Info("manifest fetch retry",
			"url", manifestURL,
			"attempt", attempt,
			"error", err,
		)
		timer := time.NewTimer(retryDelay(v.retryBaseDelay, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, wardenerrors.Wrap(ctx.Err(), wardenerrors.CategoryNetworkFailure,
				"manifest_fetch_failed", "", true)
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (v *Verifier) fetchOnce(ctx context.Context, manifestURL string) ([]byte, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, v.fetchTimeout)
	defer cancel()

	request, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, wardenerrors.Wrap(err, wardenerrors.CategoryMalformedInput,
			"invalid_manifest_url", "", false)
	}
	response, err := v.client.Do(request)
	if err != nil {
		return nil, wardenerrors.Wrap(err, wardenerrors.CategoryNetworkFailure,
			"manifest_fetch_failed", "the agent's manifest origin is unreachable", true)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusOK {
		return nil, wardenerrors.Wrap(fetchStatusError{statusCode: response.StatusCode},
			wardenerrors.CategoryNetworkFailure, "manifest_fetch_status", "", true)
	}
	raw, err := io.ReadAll(io.LimitReader(response.Body, maxManifestBytes))
	if err != nil {
		return nil, wardenerrors.Wrap(err, wardenerrors.CategoryNetworkFailure,
			"manifest_read_failed", "", true)
	}
	return raw, nil
}

type fetchStatusError struct {
	statusCode int
}

func (e fetchStatusError) Error() string {
	return fmt.Sprintf("manifest fetch returned status %d", e.statusCode)
}

func isTransientFetchError(err error) bool {
	var statusErr fetchStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.statusCode {
		case http.StatusTooManyRequests, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	errText := strings.ToLower(err.Error())
	return strings.Contains(errText, "connection reset") ||
		strings.Contains(errText, "connection refused") ||
		strings.Contains(errText, "unexpected eof")
}

func retryDelay(baseDelay time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return baseDelay
	}
	backoff := baseDelay << (attempt - 1)
	jitter := time.Duration(attempt) * 25 * time.Millisecond
	if jitter > 100*time.Millisecond {
		jitter = 100 * time.Millisecond
	}
	return backoff + jitter
}

// persist stores the raw fetched bytes as last-known-good, keeping the
// signature verifiable on re-read. The agent row is created on first
// verification and updated afterwards; either way no partial state is left
// on failure.
func (v *Verifier) persist(ctx context.Context, pubkey string, raw []byte, m *manifest.Manifest) error {
	agent, err := v.store.GetAgent(ctx, pubkey)
	if err != nil {
		return err
	}
	if agent == nil {
		if err := v.store.CreateAgent(ctx, store.Agent{
			Identity:  pubkey,
			Name:      m.Name,
			Endpoint:  m.Endpoint,
			Status:    store.AgentStatusActive,
			CreatedAt: v.now(),
		}); err != nil {
			return err
		}
	}
	return v.store.SaveManifest(ctx, pubkey, string(raw), v.now())
}
