package probe

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Target is one agent endpoint scheduled for probing.
type Target struct {
	Identity             string
	Endpoint             string
	DeclaredModel        string
	DeclaredMaxLatencyMS int64
}

// Result couples a target with its scored judgment. A Canceled result
// carries no judgment and must not reach the ledger.
type Result struct {
	Identity  string
	ProbeID   string
	ProbeType string
	Canceled  bool
	Judgment  Judgment
	LatencyMS int64
}

// challenge is the request body of an echo probe.
type challenge struct {
	ProbeID   string `json:"probe_id"`
	ProbeType string `json:"probe_type"`
	Nonce     string `json:"nonce"`
}

// echoReply is what a well-behaved agent returns: the nonce echoed back and
// the model it claims to be running.
type echoReply struct {
	Nonce string `json:"nonce"`
	Model string `json:"model,omitempty"`
}

// Prober issues probe requests with an owned timeout per request. Probes
// for distinct identities run in parallel; probes for the same identity are
// serialized so a slow exchange cannot race a concurrent one against the
// same ledger state.
type Prober struct {
	client      *http.Client
	timeout     time.Duration
	parallelism int
	logger      *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type ProberConfig struct {
	// Timeout bounds one probe exchange. Defaults to 30s.
	Timeout time.Duration

	// Parallelism bounds concurrent in-flight probes. Defaults to 8.
	Parallelism int

	Client *http.Client
	Logger *slog.Logger
}

func NewProber(cfg ProberConfig) *Prober {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 8
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Prober{
		client:      client,
		timeout:     timeout,
		parallelism: parallelism,
		logger:      logger,
		locks:       map[string]*sync.Mutex{},
	}
}

// ProbeAll fans out over targets and joins with every result. A stalled
// endpoint only costs its own slot; unrelated identities keep moving.
func (p *Prober) ProbeAll(ctx context.Context, targets []Target) []Result {
	results := make([]Result, len(targets))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.parallelism)
	for i, target := range targets {
		group.Go(func() error {
			results[i] = p.Probe(groupCtx, target)
			return nil
		})
	}
	// Workers never return errors; timeouts are scored, not propagated.
	_ = group.Wait()
	return results
}

// Probe runs one echo exchange against a target and scores it. The request
// is abandoned at the deadline and scored as a timeout; there is no
// automatic retry. Cancellation of ctx discards the exchange unscored.
func (p *Prober) Probe(ctx context.Context, target Target) Result {
	lock := p.identityLock(target.Identity)
	lock.Lock()
	defer lock.Unlock()

	probeID := uuid.New().String()
	obs := p.exchange(ctx, target, probeID)
	if obs.Canceled {
		p.logger.Info("probe canceled",
			"identity", target.Identity,
			"probe_id", probeID,
		)
		return Result{
			Identity:  target.Identity,
			ProbeID:   probeID,
			ProbeType: "echo",
			Canceled:  true,
			LatencyMS: obs.LatencyMS,
		}
	}
	judgment := Evaluate("echo", obs)
	p.logger.Info("probe scored",
		"identity", target.Identity,
		"probe_id", probeID,
		"outcome", judgment.Outcome,
		"delta", judgment.Delta,
		"latency_ms", obs.LatencyMS,
	)
	return Result{
		Identity:  target.Identity,
		ProbeID:   probeID,
		ProbeType: "echo",
		Judgment:  judgment,
		LatencyMS: obs.LatencyMS,
	}
}

func (p *Prober) exchange(ctx context.Context, target Target, probeID string) Observation {
	obs := Observation{DeclaredMaxLatencyMS: target.DeclaredMaxLatencyMS}

	nonce := newNonce()
	body, err := json.Marshal(challenge{ProbeID: probeID, ProbeType: "echo", Nonce: nonce})
	if err != nil {
		return obs
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, target.Endpoint, bytes.NewReader(body))
	if err != nil {
		return obs
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := p.client.Do(req)
	obs.LatencyMS = time.Since(started).Milliseconds()
	if err != nil {
		// The parent context ending is the sweep shutting down, not the
		// agent misbehaving; only the per-probe deadline is a timeout.
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			obs.Canceled = true
			return obs
		}
		if errors.Is(err, context.DeadlineExceeded) || reqCtx.Err() != nil {
			obs.TimedOut = true
		}
		return obs
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return obs
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return obs
	}
	var reply echoReply
	if err := json.Unmarshal(raw, &reply); err != nil || reply.Nonce == "" {
		obs.ClaimMismatch = true
		obs.MismatchDetail = "response does not match the declared probe schema"
		return obs
	}
	if reply.Nonce != nonce {
		return obs
	}
	if target.DeclaredModel != "" && reply.Model != "" && reply.Model != target.DeclaredModel {
		obs.ClaimMismatch = true
		obs.MismatchDetail = fmt.Sprintf("reports model %q, manifest declares %q", reply.Model, target.DeclaredModel)
		return obs
	}
	obs.ResponseOK = true
	return obs
}

func (p *Prober) identityLock(identity string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[identity]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[identity] = lock
	}
	return lock
}

func newNonce() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
