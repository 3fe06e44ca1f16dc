package onboard

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	wardenerrors "github.com/botwarden/warden/core/errors"
	"github.com/botwarden/warden/core/ledger"
	"github.com/botwarden/warden/core/sign"
	"github.com/botwarden/warden/core/store"
)

// ConsentNotice is returned to unconfirmed registrations. Submitting again
// with confirmed=true acknowledges it; until then no record exists.
const ConsentNotice = "Registration enrolls this agent in continuous adversarial probing. " +
	"The registry will periodically issue unannounced test requests against the declared endpoint, " +
	"score the responses, and publish the derived rank. Dishonest behavior is penalized permanently. " +
	"Resubmit with confirmed=true to proceed."

const (
	StatusNeedsConfirmation = "needs_confirmation"
	StatusQueued            = "queued"
)

type RegistrationRequest struct {
	Name         string   `json:"name"`
	Pubkey       string   `json:"pubkey"`
	EndpointURL  string   `json:"endpoint_url"`
	Capabilities []string `json:"declared_capabilities,omitempty"`
	Confirmed    bool     `json:"confirmed"`
}

type RegistrationOutcome struct {
	Status        string `json:"status"`
	Notice        string `json:"notice,omitempty"`
	ApplicationID string `json:"application_id,omitempty"`
	Reviewer      string `json:"reviewer,omitempty"`
}

// Machine owns an agent's path from application through interview to
// active probing: NONE -> PENDING -> APPROVED | REJECTED, with both
// outcomes terminal per identity.
type Machine struct {
	store            *store.Store
	logger           *slog.Logger
	devMode          bool
	reviewerMinKarma int64
	now              func() time.Time
}

type Config struct {
	Store   *store.Store
	Logger  *slog.Logger
	DevMode bool

	// ReviewerMinKarma is the karma threshold a reviewing agent must
	// meet. Zero or negative means the MASTER threshold.
	ReviewerMinKarma int64

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func New(cfg Config) *Machine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	minKarma := cfg.ReviewerMinKarma
	if minKarma <= 0 {
		minKarma = ledger.ThresholdMaster
	}
	return &Machine{
		store:            cfg.Store,
		logger:           logger,
		devMode:          cfg.DevMode,
		reviewerMinKarma: minKarma,
		now:              now,
	}
}

// Register runs the NONE -> PENDING transition. An unconfirmed submission
// gets the consent notice back and creates nothing; a confirmed one passes
// format checks, binds exactly one eligible reviewer, and creates the
// pending application. The store's uniqueness constraint closes the
// duplicate-application race.
func (m *Machine) Register(ctx context.Context, req RegistrationRequest) (RegistrationOutcome, error) {
	if !req.Confirmed {
		return RegistrationOutcome{Status: StatusNeedsConfirmation, Notice: ConsentNotice}, nil
	}

	if err := m.checkFormat(req); err != nil {
		return RegistrationOutcome{}, err
	}

	agent, err := m.store.GetAgent(ctx, req.Pubkey)
	if err != nil {
		return RegistrationOutcome{}, err
	}
	if agent != nil {
		if agent.Banned {
			return RegistrationOutcome{}, wardenerrors.New(
				"identity is banned and may not be reused",
				wardenerrors.CategoryConflictingState, "identity_banned", "", false)
		}
		return RegistrationOutcome{}, wardenerrors.New(
			"identity is already registered",
			wardenerrors.CategoryConflictingState, "already_registered", "", false)
	}

	existing, err := m.store.GetApplicationByIdentity(ctx, req.Pubkey)
	if err != nil {
		return RegistrationOutcome{}, err
	}
	if existing != nil {
		return RegistrationOutcome{}, wardenerrors.New(
			fmt.Sprintf("identity already has a %s application", existing.Status),
			wardenerrors.CategoryConflictingState, "already_applied", "", false)
	}

	reviewers, err := m.store.EligibleReviewers(ctx, m.reviewerMinKarma)
	if err != nil {
		return RegistrationOutcome{}, err
	}
	if len(reviewers) == 0 {
		return RegistrationOutcome{}, wardenerrors.New(
			"no eligible reviewing agent is available",
			wardenerrors.CategoryServiceUnavailable, "no_reviewer", "retry once a qualifying reviewer agent is active", true)
	}
	reviewer := reviewers[0]

	app := store.Application{
		ID:               uuid.New().String(),
		Identity:         req.Pubkey,
		Endpoint:         req.EndpointURL,
		Capabilities:     req.Capabilities,
		ReviewerIdentity: reviewer,
		Status:           store.ApplicationPending,
		CreatedAt:        m.now(),
	}
	if err := m.store.CreateApplication(ctx, app); err != nil {
		return RegistrationOutcome{}, err
	}

	m.logger.Info("application queued",
		"identity", req.Pubkey,
		"application_id", app.ID,
		"reviewer", reviewer,
	)
	return RegistrationOutcome{Status: StatusQueued, ApplicationID: app.ID, Reviewer: reviewer}, nil
}

func (m *Machine) checkFormat(req RegistrationRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return wardenerrors.New("name is required",
			wardenerrors.CategoryMalformedInput, "missing_name", "", false)
	}
	if _, err := sign.ParsePublicKeyHex(req.Pubkey); err != nil {
		return wardenerrors.Wrap(err,
			wardenerrors.CategoryMalformedInput, "invalid_identity", "pubkey must be 32 hex-encoded bytes", false)
	}
	endpoint, err := url.Parse(strings.TrimSpace(req.EndpointURL))
	if err != nil || endpoint.Host == "" {
		return wardenerrors.New("endpoint_url is not a valid URL",
			wardenerrors.CategoryMalformedInput, "invalid_endpoint", "", false)
	}
	if !m.devMode && endpoint.Scheme != "https" {
		return wardenerrors.New("endpoint_url must use https",
			wardenerrors.CategoryMalformedInput, "insecure_endpoint", "", false)
	}
	if looksLikeManifestURL(endpoint) {
		return wardenerrors.New("endpoint_url points at a static manifest, not a live endpoint",
			wardenerrors.CategoryMalformedInput, "manifest_as_endpoint",
			"submit the agent's live API endpoint; the manifest URL is declared inside the manifest", false)
	}
	return nil
}

// looksLikeManifestURL catches the common operator mistake of submitting
// the manifest document's URL as the live endpoint.
func looksLikeManifestURL(endpoint *url.URL) bool {
	path := strings.ToLower(endpoint.Path)
	return strings.HasSuffix(path, ".json") || strings.Contains(path, "manifest")
}
