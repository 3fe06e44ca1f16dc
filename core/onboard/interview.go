package onboard

import (
	"context"
	"fmt"

	wardenerrors "github.com/botwarden/warden/core/errors"
	"github.com/botwarden/warden/core/store"
)

type InterviewTest string

const (
	TestCapability InterviewTest = "capability"
	TestHonesty    InterviewTest = "honesty_refusal"
	TestInjection  InterviewTest = "prompt_injection"
)

// RequiredTests is the three-part interview every applicant must pass.
var RequiredTests = []InterviewTest{TestCapability, TestHonesty, TestInjection}

type InterviewResult struct {
	Test     InterviewTest
	Passed   bool
	TimedOut bool
	Notes    string
}

// CompleteInterview runs the PENDING -> APPROVED | REJECTED transition.
// Every sub-test is recorded append-only. Any failed or timed-out sub-test
// rejects the application; approval requires all required tests recorded
// and passed. On approval the agent is created with provisional status and
// enters continuous probing.
func (m *Machine) CompleteInterview(ctx context.Context, applicationID string, results []InterviewResult) (string, error) {
	app, err := m.store.GetApplication(ctx, applicationID)
	if err != nil {
		return "", err
	}
	if app == nil {
		return "", wardenerrors.New("application not found",
			wardenerrors.CategoryMalformedInput, "unknown_application", "", false)
	}
	if app.Status != store.ApplicationPending {
		return "", wardenerrors.New(
			fmt.Sprintf("application is already %s", app.Status),
			wardenerrors.CategoryConflictingState, "application_terminal",
			"terminal application states are final for this identity", false)
	}

	for _, result := range results {
		if err := m.store.AddInterviewRecord(ctx, store.InterviewRecord{
			ApplicationID: applicationID,
			TestType:      string(result.Test),
			Passed:        result.Passed && !result.TimedOut,
			Notes:         result.Notes,
			CreatedAt:     m.now(),
		}); err != nil {
			return "", err
		}
	}

	if reason, failed := firstFailure(results); failed {
		if err := m.store.UpdateApplicationStatus(ctx, applicationID, store.ApplicationRejected, reason); err != nil {
			return "", err
		}
		m.logger.Info("application rejected",
			"application_id", applicationID,
			"identity", app.Identity,
			"reason", reason,
		)
		return store.ApplicationRejected, nil
	}

	if missing := missingTests(results); len(missing) > 0 {
		return "", wardenerrors.New(
			fmt.Sprintf("interview incomplete: missing %v", missing),
			wardenerrors.CategoryMalformedInput, "interview_incomplete", "", false)
	}

	if err := m.store.UpdateApplicationStatus(ctx, applicationID, store.ApplicationApproved, ""); err != nil {
		return "", err
	}
	if err := m.store.CreateAgent(ctx, store.Agent{
		Identity:  app.Identity,
		Name:      app.Identity[:12],
		Endpoint:  app.Endpoint,
		Status:    store.AgentStatusProvisional,
		CreatedAt: m.now(),
	}); err != nil {
		return "", err
	}
	m.logger.Info("application approved",
		"application_id", applicationID,
		"identity", app.Identity,
	)
	return store.ApplicationApproved, nil
}

func firstFailure(results []InterviewResult) (string, bool) {
	for _, result := range results {
		if result.TimedOut {
			return fmt.Sprintf("%s test timed out", result.Test), true
		}
		if !result.Passed {
			return fmt.Sprintf("%s test failed", result.Test), true
		}
	}
	return "", false
}

func missingTests(results []InterviewResult) []InterviewTest {
	recorded := map[InterviewTest]bool{}
	for _, result := range results {
		recorded[result.Test] = true
	}
	var missing []InterviewTest
	for _, test := range RequiredTests {
		if !recorded[test] {
			missing = append(missing, test)
		}
	}
	return missing
}
