package registry

import (
	"context"

	"github.com/google/uuid"

	wardenerrors "github.com/botwarden/warden/core/errors"
	"github.com/botwarden/warden/core/ledger"
	"github.com/botwarden/warden/core/trap"
)

// ReviewItem is a real piece of work to be scored by a reviewer.
type ReviewItem struct {
	Subject  string
	Stimulus string
	Response string
}

// ReviewAssignment is what the reviewer sees. A trap is indistinguishable
// from a real item on this surface; nothing here marks it.
type ReviewAssignment struct {
	ID       string `json:"id"`
	Stimulus string `json:"stimulus"`
	Response string `json:"response"`
}

// assignment is the registry's private record of what was handed out.
type assignment struct {
	reviewer string
	subject  string
	trapTask *trap.Task
}

// NextReviewAssignment hands the reviewer either the real item or, with
// probability trapRate, a trap drawn from the corpus. The substitution is
// recorded only on the registry side.
func (r *Registry) NextReviewAssignment(reviewer string, item ReviewItem) ReviewAssignment {
	id := uuid.New().String()
	if r.trapRoll() < r.trapRate {
		task := r.traps.Select()
		r.mu.Lock()
		r.assignments[id] = assignment{reviewer: reviewer, trapTask: &task}
		r.mu.Unlock()
		return ReviewAssignment{ID: id, Stimulus: task.Stimulus, Response: task.FlawedResponse}
	}
	r.mu.Lock()
	r.assignments[id] = assignment{reviewer: reviewer, subject: item.Subject}
	r.mu.Unlock()
	return ReviewAssignment{ID: id, Stimulus: item.Stimulus, Response: item.Response}
}

// SubmitReview records a reviewer's score for an assignment. Scores on real
// items feed the subject's ledger; scores on traps feed the integrity
// checker. The response does not disclose which path was taken.
func (r *Registry) SubmitReview(ctx context.Context, reviewer, assignmentID string, score int) error {
	if score < 0 || score > 10 {
		return wardenerrors.New("review score out of range",
			wardenerrors.CategoryMalformedInput, "score_out_of_range",
			"review scores run from 0 to 10", false)
	}

	r.mu.Lock()
	current, ok := r.assignments[assignmentID]
	if ok {
		delete(r.assignments, assignmentID)
	}
	r.mu.Unlock()
	if !ok {
		return wardenerrors.New("unknown review assignment",
			wardenerrors.CategoryMalformedInput, "unknown_assignment",
			"no open assignment with this id", false)
	}
	if current.reviewer != reviewer {
		return wardenerrors.New("assignment belongs to another reviewer",
			wardenerrors.CategoryConflictingState, "assignment_reviewer_mismatch",
			"this assignment belongs to another reviewer", false)
	}

	if current.trapTask != nil {
		_, err := r.integrity.CheckScore(ctx, reviewer, *current.trapTask, score)
		// A failed trap is signalled as an integrity violation after the
		// penalty is already on the ledger. The submission response stays
		// silent about it so traps remain indistinguishable; only a failed
		// penalty write surfaces.
		if err != nil && wardenerrors.CategoryOf(err) != wardenerrors.CategoryIntegrityViolation {
			return err
		}
		return nil
	}

	return r.ledger.Append(ctx, ledger.Entry{
		Identity:     current.subject,
		Delta:        int64(score) - 5,
		ReasonKind:   ledger.ReasonInterview,
		ReasonDetail: "peer review by " + reviewer,
	})
}

// OpenAssignments reports how many assignments are outstanding.
func (r *Registry) OpenAssignments() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.assignments)
}
