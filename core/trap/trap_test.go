package trap

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	wardenerrors "github.com/botwarden/warden/core/errors"
	"github.com/botwarden/warden/core/ledger"
	"github.com/botwarden/warden/core/store"
)

type memStore struct {
	mu      sync.Mutex
	entries []store.ReputationEntry
}

func (m *memStore) AppendEntry(_ context.Context, entry store.ReputationEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memStore) SumEntries(_ context.Context, identity string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, e := range m.entries {
		if e.Identity == identity {
			sum += e.Delta
		}
	}
	return sum, nil
}

func (m *memStore) HasEntryWithReason(_ context.Context, identity string, kinds ...string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Identity != identity {
			continue
		}
		for _, k := range kinds {
			if e.ReasonKind == k {
				return true, nil
			}
		}
	}
	return false, nil
}

func TestLoadValidatesCorpus(t *testing.T) {
	lib, err := Load(1)
	if err != nil {
		t.Fatalf("load corpus: %v", err)
	}
	if len(lib.Tasks()) < 4 {
		t.Fatalf("expected several corpus tasks, got %d", len(lib.Tasks()))
	}
	seen := map[string]struct{}{}
	for _, task := range lib.Tasks() {
		if _, dup := seen[task.ID]; dup {
			t.Fatalf("duplicate task id: %s", task.ID)
		}
		seen[task.ID] = struct{}{}
		if task.MaxAcceptableScore < 0 || task.MaxAcceptableScore > 10 {
			t.Fatalf("task %s has out-of-range max score %d", task.ID, task.MaxAcceptableScore)
		}
	}
}

func TestSelectSeededIsReproducible(t *testing.T) {
	a, err := Load(42)
	if err != nil {
		t.Fatalf("load corpus: %v", err)
	}
	b, err := Load(42)
	if err != nil {
		t.Fatalf("load corpus: %v", err)
	}
	for i := 0; i < 20; i++ {
		if a.Select().ID != b.Select().ID {
			t.Fatalf("seeded selection diverged at draw %d", i)
		}
	}
}

func TestFailedThreshold(t *testing.T) {
	lib, err := Load(1)
	if err != nil {
		t.Fatalf("load corpus: %v", err)
	}
	task, ok := lib.ByID("trap-too-short-001")
	if !ok {
		t.Fatal("expected too_short trap in corpus")
	}
	if task.MaxAcceptableScore != 4 {
		t.Fatalf("expected max acceptable 4, got %d", task.MaxAcceptableScore)
	}
	if !Failed(task, 7) {
		t.Fatal("score 7 on a too_short trap must fail")
	}
	if Failed(task, 3) {
		t.Fatal("score 3 on a too_short trap must not fail")
	}
	if !Failed(task, 4) {
		t.Fatal("score equal to the maximum acceptable score fails")
	}
}

func TestCheckScorePenalizesAndEvicts(t *testing.T) {
	ms := &memStore{}
	l := ledger.New(ms)
	checker := NewIntegrityChecker(l, slog.New(slog.DiscardHandler))
	lib, err := Load(1)
	if err != nil {
		t.Fatalf("load corpus: %v", err)
	}
	task, _ := lib.ByID("trap-too-short-001")
	ctx := context.Background()

	// Give the reviewer master-level karma first.
	if err := l.Append(ctx, ledger.Entry{Identity: "id-reviewer", Delta: 600, ReasonKind: ledger.ReasonAdjustment}); err != nil {
		t.Fatalf("append: %v", err)
	}

	failed, err := checker.CheckScore(ctx, "id-reviewer", task, 7)
	if !failed {
		t.Fatal("expected trap failure")
	}
	if wardenerrors.CategoryOf(err) != wardenerrors.CategoryIntegrityViolation {
		t.Fatalf("expected integrity_violation, got %v", err)
	}

	sum, err := l.Sum(ctx, "id-reviewer")
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if sum != 600+ReviewerPenalty {
		t.Fatalf("expected karma %d, got %d", 600+ReviewerPenalty, sum)
	}
	// Dishonesty floors the rank, which is what evicts the reviewer.
	rank, _, err := l.Rank(ctx, "id-reviewer", true)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if rank != ledger.RankShadow {
		t.Fatalf("expected SHADOW after trap failure, got %s", rank)
	}
}

func TestCheckScoreHonestReviewerUntouched(t *testing.T) {
	ms := &memStore{}
	checker := NewIntegrityChecker(ledger.New(ms), nil)
	lib, err := Load(1)
	if err != nil {
		t.Fatalf("load corpus: %v", err)
	}
	task, _ := lib.ByID("trap-too-short-001")
	failed, err := checker.CheckScore(context.Background(), "id-reviewer", task, 3)
	if failed || err != nil {
		t.Fatalf("expected clean pass, got failed=%v err=%v", failed, err)
	}
	if len(ms.entries) != 0 {
		t.Fatalf("expected no ledger entries, got %d", len(ms.entries))
	}
}
