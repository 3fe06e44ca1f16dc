package ledger

import (
	"context"
	"time"

	"github.com/botwarden/warden/core/store"
)

// ReasonKind names why a reputation delta was appended.
type ReasonKind string

const (
	ReasonProbePass          ReasonKind = "probe_pass"
	ReasonProbeFail          ReasonKind = "probe_fail"
	ReasonProbeTimeout       ReasonKind = "probe_timeout"
	ReasonDishonesty         ReasonKind = "dishonesty"
	ReasonReviewerDishonesty ReasonKind = "reviewer_dishonesty"
	ReasonInterview          ReasonKind = "interview"
	ReasonAdjustment         ReasonKind = "adjustment"
)

// dishonestyKinds floor an identity's rank at SHADOW while active.
var dishonestyKinds = []string{string(ReasonDishonesty), string(ReasonReviewerDishonesty)}

type Entry struct {
	Identity     string
	Delta        int64
	ReasonKind   ReasonKind
	ReasonDetail string
	ProbeID      string
	IncidentID   string
	Timestamp    time.Time
}

// Store is the narrow persistence contract the ledger needs: append one
// row, sum by identity, check for reason kinds. Any durable store with
// single-row write atomicity satisfies it.
type Store interface {
	AppendEntry(ctx context.Context, entry store.ReputationEntry) error
	SumEntries(ctx context.Context, identity string) (int64, error)
	HasEntryWithReason(ctx context.Context, identity string, kinds ...string) (bool, error)
}

// Ledger is the append-only reputation record. There is no update or
// delete; corrections are compensating appends, so the full history is the
// audit trail.
type Ledger struct {
	store Store
}

func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Append writes one entry. It never rejects for business reasons; the
// ledger is the source of truth and an identity need not pre-exist.
func (l *Ledger) Append(ctx context.Context, entry Entry) error {
	at := entry.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	return l.store.AppendEntry(ctx, store.ReputationEntry{
		Identity:     entry.Identity,
		Delta:        entry.Delta,
		ReasonKind:   string(entry.ReasonKind),
		ReasonDetail: entry.ReasonDetail,
		ProbeID:      entry.ProbeID,
		IncidentID:   entry.IncidentID,
		CreatedAt:    at,
	})
}

// Sum returns the identity's karma: the arithmetic total of all appended
// deltas, 0 when none exist.
func (l *Ledger) Sum(ctx context.Context, identity string) (int64, error) {
	return l.store.SumEntries(ctx, identity)
}

// Rank derives the identity's rank from a fresh ledger read. Dishonesty
// entries floor the rank at SHADOW regardless of accumulated karma.
func (l *Ledger) Rank(ctx context.Context, identity string, active bool) (Rank, int64, error) {
	karma, err := l.store.SumEntries(ctx, identity)
	if err != nil {
		return "", 0, err
	}
	if !active {
		return RankInactive, karma, nil
	}
	dishonest, err := l.store.HasEntryWithReason(ctx, identity, dishonestyKinds...)
	if err != nil {
		return "", 0, err
	}
	if dishonest {
		return RankShadow, karma, nil
	}
	return Resolve(karma, true), karma, nil
}
