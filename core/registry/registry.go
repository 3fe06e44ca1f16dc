// Package registry composes the warden services: persistent store,
// reputation ledger, manifest verifier, onboarding machine, prober, and the
// trap-backed reviewer integrity checker. It is the only package that owns
// all of them at once; everything below it stays independently testable.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	wardenerrors "github.com/botwarden/warden/core/errors"
	"github.com/botwarden/warden/core/ledger"
	"github.com/botwarden/warden/core/onboard"
	"github.com/botwarden/warden/core/probe"
	"github.com/botwarden/warden/core/store"
	"github.com/botwarden/warden/core/trap"
	"github.com/botwarden/warden/core/verify"
)

type Registry struct {
	store     *store.Store
	ledger    *ledger.Ledger
	verifier  *verify.Verifier
	onboard   *onboard.Machine
	prober    *probe.Prober
	traps     *trap.Library
	integrity *trap.IntegrityChecker
	logger    *slog.Logger
	now       func() time.Time

	trapRate        float64
	trapRoll        func() float64
	maxRequestBytes int64

	mu          sync.Mutex
	assignments map[string]assignment
}

type Config struct {
	Store   *store.Store
	Logger  *slog.Logger
	DevMode bool

	ProbeTimeout  time.Duration
	ProbeParallel int
	FetchTimeout  time.Duration

	// TrapRate is the probability that a review assignment is silently
	// replaced with a trap. Clamped to [0, 1].
	TrapRate float64
	TrapSeed int64

	// ReviewerMinRank is the rank a reviewing agent must hold to take
	// onboarding assignments. Empty means MASTER.
	ReviewerMinRank ledger.Rank

	// MaxRequestBytes bounds HTTP request bodies. Zero means 1 MiB.
	MaxRequestBytes int64

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func New(cfg Config) (*Registry, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	traps, err := trap.Load(cfg.TrapSeed)
	if err != nil {
		return nil, err
	}
	rate := cfg.TrapRate
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	reviewerMinKarma := int64(ledger.ThresholdMaster)
	if cfg.ReviewerMinRank != "" {
		threshold, ok := ledger.ThresholdFor(cfg.ReviewerMinRank)
		if !ok {
			return nil, fmt.Errorf("registry: no threshold for reviewer rank %q", cfg.ReviewerMinRank)
		}
		reviewerMinKarma = threshold
	}
	led := ledger.New(cfg.Store)
	rng := rand.New(rand.NewSource(cfg.TrapSeed))
	return &Registry{
		store:  cfg.Store,
		ledger: led,
		verifier: verify.New(verify.Config{
			Store:        cfg.Store,
			FetchTimeout: cfg.FetchTimeout,
			DevMode:      cfg.DevMode,
			Logger:       logger,
			Now:          now,
		}),
		onboard: onboard.New(onboard.Config{
			Store:            cfg.Store,
			Logger:           logger,
			DevMode:          cfg.DevMode,
			ReviewerMinKarma: reviewerMinKarma,
			Now:              now,
		}),
		prober: probe.NewProber(probe.ProberConfig{
			Timeout:     cfg.ProbeTimeout,
			Parallelism: cfg.ProbeParallel,
			Logger:      logger,
		}),
		traps:           traps,
		integrity:       trap.NewIntegrityChecker(led, logger),
		logger:          logger,
		now:             now,
		trapRate:        rate,
		trapRoll:        rng.Float64,
		maxRequestBytes: cfg.MaxRequestBytes,
		assignments:     make(map[string]assignment),
	}, nil
}

// Register runs the onboarding NONE -> PENDING transition.
func (r *Registry) Register(ctx context.Context, req onboard.RegistrationRequest) (onboard.RegistrationOutcome, error) {
	return r.onboard.Register(ctx, req)
}

// CompleteInterview resolves a pending application to its terminal state.
func (r *Registry) CompleteInterview(ctx context.Context, applicationID string, results []onboard.InterviewResult) (string, error) {
	return r.onboard.CompleteInterview(ctx, applicationID, results)
}

// Verify fetches and validates an agent's manifest against its claimed
// identity, persisting it as last known good on acceptance.
func (r *Registry) Verify(ctx context.Context, manifestURL, pubkey string) (verify.Result, error) {
	return r.verifier.Verify(ctx, manifestURL, pubkey)
}

// Reputation is the public read surface: derived rank, karma total, and
// status. It never exposes raw ledger entries.
type Reputation struct {
	Identity       string      `json:"identity"`
	Rank           ledger.Rank `json:"rank"`
	Karma          int64       `json:"karma"`
	Status         string      `json:"status"`
	Banned         bool        `json:"banned,omitempty"`
	LastVerifiedAt time.Time   `json:"last_verified_at,omitzero"`
}

func (r *Registry) Reputation(ctx context.Context, identity string) (Reputation, error) {
	agent, err := r.store.GetAgent(ctx, identity)
	if err != nil {
		return Reputation{}, err
	}
	if agent == nil {
		return Reputation{}, wardenerrors.New("unknown identity",
			wardenerrors.CategoryMalformedInput, "unknown_identity",
			"no agent is registered under this identity", false)
	}
	active := agent.Status == store.AgentStatusActive && !agent.Banned
	rank, karma, err := r.ledger.Rank(ctx, identity, active)
	if err != nil {
		return Reputation{}, err
	}
	// A provisional agent has not yet passed a probe; it holds SHADOW, not
	// INACTIVE, until its first pass promotes it.
	if agent.Status == store.AgentStatusProvisional && !agent.Banned {
		rank = ledger.RankShadow
	}
	return Reputation{
		Identity:       identity,
		Rank:           rank,
		Karma:          karma,
		Status:         agent.Status,
		Banned:         agent.Banned,
		LastVerifiedAt: agent.LastVerifiedAt,
	}, nil
}

// Ban marks an identity banned and inactive. The agent row and its ledger
// history stay on record.
func (r *Registry) Ban(ctx context.Context, identity string) error {
	if err := r.store.BanAgent(ctx, identity); err != nil {
		return err
	}
	r.logger.Warn("agent banned", "identity", identity)
	return nil
}

// Close releases the underlying store.
func (r *Registry) Close() error {
	return r.store.Close()
}
