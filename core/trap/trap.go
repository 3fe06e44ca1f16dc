package trap

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonschema"

	wardenerrors "github.com/botwarden/warden/core/errors"
	"github.com/botwarden/warden/core/ledger"
)

//go:embed corpus.json
var corpusJSON []byte

//go:embed corpus_schema.json
var corpusSchemaJSON []byte

// Task is one deliberately flawed review subject. The corpus is static
// reference data; tasks are not agent-specific.
type Task struct {
	ID                 string `json:"id"`
	Category           string `json:"category"`
	Stimulus           string `json:"stimulus"`
	FlawedResponse     string `json:"flawed_response"`
	MaxAcceptableScore int    `json:"max_acceptable_score"`
	Explanation        string `json:"explanation"`
}

// Library holds the trap corpus and hands out uniformly random tasks. The
// random source is injectable so trap scheduling is reproducible in tests.
type Library struct {
	tasks []Task

	mu  sync.Mutex
	rng *rand.Rand
}

// Load parses the embedded corpus, validating it against its schema first
// so a corrupted corpus fails loudly at startup rather than mid-review.
func Load(seed int64) (*Library, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(corpusSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("trap: compile corpus schema: %w", err)
	}
	if result := schema.ValidateJSON(corpusJSON); !result.IsValid() {
		return nil, fmt.Errorf("trap: corpus does not match schema: %v", result.Errors)
	}
	var tasks []Task
	if err := json.Unmarshal(corpusJSON, &tasks); err != nil {
		return nil, fmt.Errorf("trap: parse corpus: %w", err)
	}
	return &Library{
		tasks: tasks,
		rng:   rand.New(rand.NewSource(seed)),
	}, nil
}

// Select returns one task uniformly at random.
func (l *Library) Select() Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tasks[l.rng.Intn(len(l.tasks))]
}

// Tasks returns the full corpus in file order.
func (l *Library) Tasks() []Task {
	return l.tasks
}

// ByID returns the task with the given id, if present.
func (l *Library) ByID(id string) (Task, bool) {
	for _, task := range l.tasks {
		if task.ID == id {
			return task, true
		}
	}
	return Task{}, false
}

// Failed reports whether a reviewer's score for a trap is a rubber-stamp:
// any score at or above the task's maximum acceptable score.
func Failed(task Task, reviewerScore int) bool {
	return reviewerScore >= task.MaxAcceptableScore
}

// IntegrityChecker penalizes reviewers caught scoring traps too generously.
// Peer review is itself adversarial; a dishonest high-rank reviewer is
// caught the same way a dishonest agent is.
type IntegrityChecker struct {
	ledger *ledger.Ledger
	logger *slog.Logger
}

func NewIntegrityChecker(l *ledger.Ledger, logger *slog.Logger) *IntegrityChecker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &IntegrityChecker{ledger: l, logger: logger}
}

// ReviewerPenalty is the ledger delta appended when a reviewer fails a
// trap. Eviction from the reviewer pool follows from the rank derived off
// the ledger; the reviewer requalifies only when a fresh read does.
const ReviewerPenalty = -100

// CheckScore evaluates a reviewer's score against a trap. On failure it
// appends the penalty entry and returns a classified integrity error; the
// penalty is one-way, with compensating appends as the only correction.
func (c *IntegrityChecker) CheckScore(ctx context.Context, reviewer string, task Task, score int) (bool, error) {
	if !Failed(task, score) {
		return false, nil
	}
	incidentID := uuid.New().String()
	err := c.ledger.Append(ctx, ledger.Entry{
		Identity:   reviewer,
		Delta:      ReviewerPenalty,
		ReasonKind: ledger.ReasonReviewerDishonesty,
		ReasonDetail: fmt.Sprintf("scored trap %s (%s) at %d, max acceptable %d",
			task.ID, task.Category, score, task.MaxAcceptableScore),
		IncidentID: incidentID,
	})
	if err != nil {
		return true, err
	}
	c.logger.Warn("reviewer failed trap",
		"reviewer", reviewer,
		"trap", task.ID,
		"category", task.Category,
		"score", score,
		"max_acceptable", task.MaxAcceptableScore,
		"incident_id", incidentID,
	)
	return true, wardenerrors.New(
		fmt.Sprintf("reviewer %s failed integrity trap %s", reviewer, task.ID),
		wardenerrors.CategoryIntegrityViolation, "reviewer_trap_failed",
		"reviewer penalized and evicted from the pool until rank requalifies", false)
}
