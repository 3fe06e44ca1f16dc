package probe

import (
	"testing"

	"github.com/botwarden/warden/core/ledger"
)

func TestEvaluateScoringTable(t *testing.T) {
	cases := []struct {
		name       string
		obs        Observation
		wantOut    Outcome
		wantDelta  int64
		wantReason ledger.ReasonKind
	}{
		{
			name:       "pass",
			obs:        Observation{ResponseOK: true, LatencyMS: 100},
			wantOut:    OutcomePass,
			wantDelta:  DeltaPass,
			wantReason: ledger.ReasonProbePass,
		},
		{
			name:       "fail",
			obs:        Observation{ResponseOK: false, LatencyMS: 100},
			wantOut:    OutcomeFail,
			wantDelta:  DeltaFail,
			wantReason: ledger.ReasonProbeFail,
		},
		{
			name:       "timeout",
			obs:        Observation{TimedOut: true},
			wantOut:    OutcomeTimeout,
			wantDelta:  DeltaTimeout,
			wantReason: ledger.ReasonProbeTimeout,
		},
		{
			name:       "latency declaration violated",
			obs:        Observation{ResponseOK: true, LatencyMS: 5000, DeclaredMaxLatencyMS: 2000},
			wantOut:    OutcomeFail,
			wantDelta:  DeltaDishonesty,
			wantReason: ledger.ReasonDishonesty,
		},
		{
			name:       "claim mismatch",
			obs:        Observation{ClaimMismatch: true, MismatchDetail: "wrong model"},
			wantOut:    OutcomeFail,
			wantDelta:  DeltaDishonesty,
			wantReason: ledger.ReasonDishonesty,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate("echo", tc.obs)
			if got.Outcome != tc.wantOut {
				t.Fatalf("outcome = %s, want %s", got.Outcome, tc.wantOut)
			}
			if got.Delta != tc.wantDelta {
				t.Fatalf("delta = %d, want %d", got.Delta, tc.wantDelta)
			}
			if got.Reason != tc.wantReason {
				t.Fatalf("reason = %s, want %s", got.Reason, tc.wantReason)
			}
		})
	}
}

func TestTimeoutCostsLessThanDishonesty(t *testing.T) {
	if !(DeltaTimeout > DeltaFail && DeltaFail > DeltaDishonesty) {
		t.Fatalf("expected timeout (%d) > fail (%d) > dishonesty (%d)", DeltaTimeout, DeltaFail, DeltaDishonesty)
	}
}
