package manifest

import "time"

// Manifest is the signed declaration an agent publishes at a well-known
// URL. The signature field is a hex-encoded Ed25519 signature over the
// RFC 8785 canonical encoding of every other field.
type Manifest struct {
	Version       string        `json:"version"`
	Pubkey        string        `json:"pubkey"`
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	Endpoint      string        `json:"endpoint"`
	Capabilities  []string      `json:"capabilities"`
	ComputeClaims ComputeClaims `json:"compute_claims"`
	CostPerCall   CostPerCall   `json:"cost_per_call"`
	SunsetClause  SunsetClause  `json:"sunset_clause"`
	CreatedAt     time.Time     `json:"created_at"`
	Signature     string        `json:"signature,omitempty"`
}

type ClaimType string

const (
	ClaimLocal  ClaimType = "local"
	ClaimAPI    ClaimType = "api"
	ClaimHybrid ClaimType = "hybrid"
)

func (c ClaimType) Valid() bool {
	switch c {
	case ClaimLocal, ClaimAPI, ClaimHybrid:
		return true
	}
	return false
}

// ComputeClaims is a closed set of tagged variants. Local claims name the
// hardware and model running on it; api claims name the upstream provider;
// hybrid claims carry both.
type ComputeClaims struct {
	Type ClaimType `json:"type"`

	// local / hybrid
	Hardware  string `json:"hardware,omitempty"`
	ModelName string `json:"model_name,omitempty"`

	// api / hybrid
	Provider string `json:"provider,omitempty"`
	APIModel string `json:"api_model,omitempty"`

	// Declared upper bound on response latency; probes treat a measured
	// violation as dishonesty rather than underperformance.
	MaxLatencyMS int64 `json:"max_latency_ms,omitempty"`
}

type CostPerCall struct {
	BaseUSD  float64 `json:"base_usd"`
	Currency string  `json:"currency"`
}

type SunsetClause struct {
	ExpiresAt     time.Time `json:"expires_at"`
	MigrationPath string    `json:"migration_path,omitempty"`
}
