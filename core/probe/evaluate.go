package probe

import (
	"fmt"

	"github.com/botwarden/warden/core/ledger"
)

type Outcome string

const (
	OutcomePass    Outcome = "pass"
	OutcomeFail    Outcome = "fail"
	OutcomeTimeout Outcome = "timeout"
)

// Scoring table. Timeouts cost less than failures, and active dishonesty is
// categorically worse than underperformance.
const (
	DeltaPass       = 3
	DeltaFail       = -5
	DeltaTimeout    = -2
	DeltaDishonesty = -100
)

// Observation is what a single probe exchange measured.
type Observation struct {
	// Canceled is set when the caller's context ended before the exchange
	// finished. A canceled exchange observed nothing about the agent and
	// must not be scored.
	Canceled bool

	// TimedOut is set when the request was abandoned at its deadline.
	TimedOut bool

	// ResponseOK is set when the agent answered with a well-formed,
	// correct response.
	ResponseOK bool

	LatencyMS int64

	// DeclaredMaxLatencyMS is the bound from the agent's manifest;
	// 0 means no bound was declared.
	DeclaredMaxLatencyMS int64

	// ClaimMismatch marks a declared claim contradicted by observed
	// behavior (declared safety policy violated, schema drift against the
	// declared capabilities, and so on).
	ClaimMismatch  bool
	MismatchDetail string
}

// Judgment is the scored result of one probe, carrying exactly one ledger
// delta.
type Judgment struct {
	Outcome       Outcome
	Delta         int64
	Reason        ledger.ReasonKind
	ReasonDetail  string
	HonestyStatus string
}

// Evaluate applies the scoring table to one observation. A violated latency
// declaration or claim mismatch is dishonesty, not underperformance, and
// carries the dishonesty reason kind that floors the agent's rank.
func Evaluate(probeType string, obs Observation) Judgment {
	if obs.ClaimMismatch {
		return Judgment{
			Outcome:       OutcomeFail,
			Delta:         DeltaDishonesty,
			Reason:        ledger.ReasonDishonesty,
			ReasonDetail:  fmt.Sprintf("%s probe: claim mismatch: %s", probeType, obs.MismatchDetail),
			HonestyStatus: "claim_mismatch",
		}
	}
	if obs.TimedOut {
		return Judgment{
			Outcome:      OutcomeTimeout,
			Delta:        DeltaTimeout,
			Reason:       ledger.ReasonProbeTimeout,
			ReasonDetail: fmt.Sprintf("%s probe timed out", probeType),
		}
	}
	if obs.DeclaredMaxLatencyMS > 0 && obs.LatencyMS > obs.DeclaredMaxLatencyMS {
		return Judgment{
			Outcome: OutcomeFail,
			Delta:   DeltaDishonesty,
			Reason:  ledger.ReasonDishonesty,
			ReasonDetail: fmt.Sprintf("%s probe: measured %dms above declared bound %dms",
				probeType, obs.LatencyMS, obs.DeclaredMaxLatencyMS),
			HonestyStatus: "latency_violation",
		}
	}
	if !obs.ResponseOK {
		return Judgment{
			Outcome:      OutcomeFail,
			Delta:        DeltaFail,
			Reason:       ledger.ReasonProbeFail,
			ReasonDetail: fmt.Sprintf("%s probe failed", probeType),
		}
	}
	return Judgment{
		Outcome:       OutcomePass,
		Delta:         DeltaPass,
		Reason:        ledger.ReasonProbePass,
		HonestyStatus: "honest",
	}
}
