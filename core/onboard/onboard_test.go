package onboard

import (
	"context"
	"path/filepath"
	"testing"

	wardenerrors "github.com/botwarden/warden/core/errors"
	"github.com/botwarden/warden/core/ledger"
	"github.com/botwarden/warden/core/sign"
	"github.com/botwarden/warden/core/store"
	"github.com/botwarden/warden/internal/testutil"
)

func newTestMachine(t *testing.T) (*Machine, *store.Store) {
	t.Helper()
	s, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "warden.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return New(Config{Store: s}), s
}

func addMaster(t *testing.T, s *store.Store, identity string) {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateAgent(ctx, store.Agent{
		Identity: identity, Name: identity, Endpoint: "https://master.example.com", Status: store.AgentStatusActive,
	}); err != nil {
		t.Fatalf("create reviewer: %v", err)
	}
	if err := s.AppendEntry(ctx, store.ReputationEntry{Identity: identity, Delta: 600, ReasonKind: "adjustment"}); err != nil {
		t.Fatalf("seed reviewer karma: %v", err)
	}
}

func validRequest(t *testing.T) RegistrationRequest {
	t.Helper()
	kp := testutil.NewKeyPair(t)
	return RegistrationRequest{
		Name:        "candidate",
		Pubkey:      sign.Identity(kp.Public),
		EndpointURL: "https://candidate.example.com/api",
		Confirmed:   true,
	}
}

func TestRegisterConfiguredReviewerThreshold(t *testing.T) {
	s, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "warden.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	m := New(Config{Store: s, ReviewerMinKarma: ledger.ThresholdTrusted})

	ctx := context.Background()
	if err := s.CreateAgent(ctx, store.Agent{
		Identity: "id-trusted", Name: "trusted", Endpoint: "https://trusted.example.com", Status: store.AgentStatusActive,
	}); err != nil {
		t.Fatalf("create reviewer: %v", err)
	}
	if err := s.AppendEntry(ctx, store.ReputationEntry{Identity: "id-trusted", Delta: 60, ReasonKind: "adjustment"}); err != nil {
		t.Fatalf("seed reviewer karma: %v", err)
	}

	// Karma 60 is below MASTER but meets the configured TRUSTED threshold.
	outcome, err := m.Register(ctx, validRequest(t))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if outcome.Status != StatusQueued || outcome.Reviewer != "id-trusted" {
		t.Fatalf("expected queue with trusted reviewer, got %#v", outcome)
	}
}

func TestRegisterUnconfirmedGetsNoticeAndNoRecord(t *testing.T) {
	m, s := newTestMachine(t)
	req := validRequest(t)
	req.Confirmed = false

	outcome, err := m.Register(context.Background(), req)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if outcome.Status != StatusNeedsConfirmation || outcome.Notice == "" {
		t.Fatalf("expected consent notice, got %#v", outcome)
	}
	app, err := s.GetApplicationByIdentity(context.Background(), req.Pubkey)
	if err != nil {
		t.Fatalf("get application: %v", err)
	}
	if app != nil {
		t.Fatal("unconfirmed submission must not create a record")
	}
}

func TestRegisterQueuesWithReviewer(t *testing.T) {
	m, s := newTestMachine(t)
	addMaster(t, s, "id-master")
	req := validRequest(t)

	outcome, err := m.Register(context.Background(), req)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if outcome.Status != StatusQueued || outcome.ApplicationID == "" {
		t.Fatalf("expected queued outcome, got %#v", outcome)
	}
	if outcome.Reviewer != "id-master" {
		t.Fatalf("expected bound reviewer, got %q", outcome.Reviewer)
	}
	app, err := s.GetApplicationByIdentity(context.Background(), req.Pubkey)
	if err != nil {
		t.Fatalf("get application: %v", err)
	}
	if app == nil || app.Status != store.ApplicationPending {
		t.Fatalf("expected pending application, got %#v", app)
	}
}

func TestRegisterNoReviewerIsServiceUnavailable(t *testing.T) {
	m, _ := newTestMachine(t)
	_, err := m.Register(context.Background(), validRequest(t))
	if wardenerrors.CategoryOf(err) != wardenerrors.CategoryServiceUnavailable {
		t.Fatalf("expected service_unavailable, got %v", err)
	}
	if !wardenerrors.RetryableOf(err) {
		t.Fatal("no-reviewer condition should be retryable")
	}
}

func TestRegisterFormatChecks(t *testing.T) {
	m, s := newTestMachine(t)
	addMaster(t, s, "id-master")

	cases := []struct {
		name   string
		mutate func(*RegistrationRequest)
		code   string
	}{
		{"missing name", func(r *RegistrationRequest) { r.Name = " " }, "missing_name"},
		{"bad pubkey", func(r *RegistrationRequest) { r.Pubkey = "nothex" }, "invalid_identity"},
		{"plain http endpoint", func(r *RegistrationRequest) { r.EndpointURL = "http://x.example.com/api" }, "insecure_endpoint"},
		{"manifest url as endpoint", func(r *RegistrationRequest) { r.EndpointURL = "https://x.example.com/manifest.json" }, "manifest_as_endpoint"},
		{"not a url", func(r *RegistrationRequest) { r.EndpointURL = "::::" }, "invalid_endpoint"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest(t)
			tc.mutate(&req)
			_, err := m.Register(context.Background(), req)
			if wardenerrors.CategoryOf(err) != wardenerrors.CategoryMalformedInput {
				t.Fatalf("expected malformed_input, got %v", err)
			}
			if wardenerrors.CodeOf(err) != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, wardenerrors.CodeOf(err))
			}
		})
	}
}

func TestRegisterDuplicateIdentityRejected(t *testing.T) {
	m, s := newTestMachine(t)
	addMaster(t, s, "id-master")
	req := validRequest(t)
	ctx := context.Background()

	if _, err := m.Register(ctx, req); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, err := m.Register(ctx, req)
	if wardenerrors.CategoryOf(err) != wardenerrors.CategoryConflictingState {
		t.Fatalf("expected conflicting_state, got %v", err)
	}
	if wardenerrors.CodeOf(err) != "already_applied" {
		t.Fatalf("expected already_applied, got %s", wardenerrors.CodeOf(err))
	}

	// Rejection is terminal: after the interview rejects, resubmission with
	// the same identity still conflicts.
	app, err := s.GetApplicationByIdentity(ctx, req.Pubkey)
	if err != nil {
		t.Fatalf("get application: %v", err)
	}
	status, err := m.CompleteInterview(ctx, app.ID, []InterviewResult{
		{Test: TestCapability, Passed: false, Notes: "wrong answers"},
	})
	if err != nil {
		t.Fatalf("complete interview: %v", err)
	}
	if status != store.ApplicationRejected {
		t.Fatalf("expected rejection, got %s", status)
	}
	_, err = m.Register(ctx, req)
	if wardenerrors.CategoryOf(err) != wardenerrors.CategoryConflictingState {
		t.Fatalf("expected conflicting_state after terminal rejection, got %v", err)
	}
}

func TestRegisterBannedIdentityRejected(t *testing.T) {
	m, s := newTestMachine(t)
	addMaster(t, s, "id-master")
	req := validRequest(t)
	ctx := context.Background()
	if err := s.CreateAgent(ctx, store.Agent{Identity: req.Pubkey, Name: "x", Endpoint: "https://x.example.com", Status: store.AgentStatusActive}); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	if err := s.BanAgent(ctx, req.Pubkey); err != nil {
		t.Fatalf("ban agent: %v", err)
	}
	_, err := m.Register(ctx, req)
	if wardenerrors.CodeOf(err) != "identity_banned" {
		t.Fatalf("expected identity_banned, got %v", err)
	}
}

func TestInterviewApprovalCreatesProvisionalAgent(t *testing.T) {
	m, s := newTestMachine(t)
	addMaster(t, s, "id-master")
	req := validRequest(t)
	ctx := context.Background()

	outcome, err := m.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	status, err := m.CompleteInterview(ctx, outcome.ApplicationID, []InterviewResult{
		{Test: TestCapability, Passed: true},
		{Test: TestHonesty, Passed: true},
		{Test: TestInjection, Passed: true},
	})
	if err != nil {
		t.Fatalf("complete interview: %v", err)
	}
	if status != store.ApplicationApproved {
		t.Fatalf("expected approval, got %s", status)
	}
	agent, err := s.GetAgent(ctx, req.Pubkey)
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if agent == nil || agent.Status != store.AgentStatusProvisional {
		t.Fatalf("expected provisional agent, got %#v", agent)
	}
	records, err := s.ListInterviewRecords(ctx, outcome.ApplicationID)
	if err != nil {
		t.Fatalf("list interviews: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 interview records, got %d", len(records))
	}
}

func TestInterviewTimeoutRejects(t *testing.T) {
	m, s := newTestMachine(t)
	addMaster(t, s, "id-master")
	req := validRequest(t)
	ctx := context.Background()

	outcome, err := m.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	status, err := m.CompleteInterview(ctx, outcome.ApplicationID, []InterviewResult{
		{Test: TestCapability, Passed: true},
		{Test: TestHonesty, TimedOut: true},
	})
	if err != nil {
		t.Fatalf("complete interview: %v", err)
	}
	if status != store.ApplicationRejected {
		t.Fatalf("expected rejection on timeout, got %s", status)
	}
	app, err := s.GetApplication(ctx, outcome.ApplicationID)
	if err != nil {
		t.Fatalf("get application: %v", err)
	}
	if app.RejectionReason == "" {
		t.Fatal("expected rejection reason recorded")
	}

	// Terminal states are final.
	_, err = m.CompleteInterview(ctx, outcome.ApplicationID, []InterviewResult{
		{Test: TestCapability, Passed: true},
	})
	if wardenerrors.CodeOf(err) != "application_terminal" {
		t.Fatalf("expected application_terminal, got %v", err)
	}
}

func TestInterviewIncompleteIsNotApproved(t *testing.T) {
	m, s := newTestMachine(t)
	addMaster(t, s, "id-master")
	req := validRequest(t)
	ctx := context.Background()

	outcome, err := m.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err = m.CompleteInterview(ctx, outcome.ApplicationID, []InterviewResult{
		{Test: TestCapability, Passed: true},
		{Test: TestHonesty, Passed: true},
	})
	if wardenerrors.CodeOf(err) != "interview_incomplete" {
		t.Fatalf("expected interview_incomplete, got %v", err)
	}
	agent, err := s.GetAgent(ctx, req.Pubkey)
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if agent != nil {
		t.Fatal("incomplete interview must not create an agent")
	}
}
