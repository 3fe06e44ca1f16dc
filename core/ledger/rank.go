package ledger

type Rank string

const (
	RankMaster   Rank = "MASTER"
	RankVerified Rank = "VERIFIED"
	RankTrusted  Rank = "TRUSTED"
	RankPending  Rank = "PENDING"
	RankShadow   Rank = "SHADOW"
	RankInactive Rank = "INACTIVE"
)

// Rank thresholds, highest first. An identity holds the highest rank whose
// threshold its karma meets.
const (
	ThresholdMaster   = 500
	ThresholdVerified = 100
	ThresholdTrusted  = 50
	ThresholdPending  = 0
)

// ThresholdFor maps a rank name to its karma threshold. SHADOW and
// INACTIVE have no threshold; they are derived states.
func ThresholdFor(rank Rank) (int64, bool) {
	switch rank {
	case RankMaster:
		return ThresholdMaster, true
	case RankVerified:
		return ThresholdVerified, true
	case RankTrusted:
		return ThresholdTrusted, true
	case RankPending:
		return ThresholdPending, true
	default:
		return 0, false
	}
}

// Resolve maps karma to a rank. Inactive identities are INACTIVE regardless
// of karma; negative karma is SHADOW. Pure function, recomputed on every
// read so it can never drift from the ledger.
func Resolve(karma int64, active bool) Rank {
	if !active {
		return RankInactive
	}
	switch {
	case karma >= ThresholdMaster:
		return RankMaster
	case karma >= ThresholdVerified:
		return RankVerified
	case karma >= ThresholdTrusted:
		return RankTrusted
	case karma >= ThresholdPending:
		return RankPending
	default:
		return RankShadow
	}
}
