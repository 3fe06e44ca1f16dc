package manifest

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kaptinlin/jsonschema"

	"github.com/botwarden/warden/core/sign"
)

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.AssertFormat = true
		compiledSchema, schemaErr = compiler.Compile(schemaJSON)
	})
	return compiledSchema, schemaErr
}

// requiredFields are checked by hand in addition to the schema so each
// missing field is reported as its own error line.
var requiredFields = []string{
	"version",
	"pubkey",
	"name",
	"endpoint",
	"capabilities",
	"compute_claims",
	"cost_per_call",
	"sunset_clause",
	"created_at",
	"signature",
}

type ValidationResult struct {
	Valid    bool      `json:"valid"`
	Manifest *Manifest `json:"manifest,omitempty"`
	Errors   []string  `json:"errors,omitempty"`
}

type Options struct {
	// Now is the verification instant; zero means time.Now. A manifest
	// whose sunset expires exactly at Now is already expired.
	Now time.Time

	// DevMode permits plain-http manifest origins and endpoints.
	DevMode bool

	// SourceURL is where the manifest was fetched from, when known.
	SourceURL string
}

// Validate runs schema and business-rule validation over a raw manifest
// document. Errors accumulate; only unparsable JSON, a pubkey mismatch, and
// a broken signature end validation early, since nothing past those points
// can be trusted.
func Validate(raw []byte, claimedPubkey string, opts Options) ValidationResult {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ValidationResult{Errors: []string{"invalid JSON"}}
	}

	var errs []string
	for _, name := range requiredFields {
		if _, ok := fields[name]; !ok {
			errs = append(errs, fmt.Sprintf("missing required field: %s", name))
		}
	}

	if schema, err := loadSchema(); err != nil {
		errs = append(errs, fmt.Sprintf("schema unavailable: %v", err))
	} else if result := schema.ValidateJSON(raw); !result.IsValid() {
		errs = append(errs, fmt.Sprintf("schema validation failed: %v", result.Errors))
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		errs = append(errs, fmt.Sprintf("malformed manifest body: %v", err))
		return ValidationResult{Errors: errs}
	}

	if m.Pubkey != claimedPubkey {
		errs = append(errs, "manifest pubkey does not match claimed identity")
		return ValidationResult{Manifest: &m, Errors: errs}
	}

	if ok, err := sign.VerifyRecordDetailed(raw, m.Signature, claimedPubkey); !ok {
		errs = append(errs, fmt.Sprintf("signature verification failed: %v", err))
		return ValidationResult{Manifest: &m, Errors: errs}
	}

	errs = append(errs, validateClaims(m.ComputeClaims)...)

	if m.SunsetClause.ExpiresAt.IsZero() {
		errs = append(errs, "sunset_clause.expires_at is required")
	} else if !m.SunsetClause.ExpiresAt.After(now) {
		errs = append(errs, fmt.Sprintf("manifest expired at %s", m.SunsetClause.ExpiresAt.UTC().Format(time.RFC3339)))
	}

	if !opts.DevMode {
		if opts.SourceURL != "" && !isEncrypted(opts.SourceURL) {
			errs = append(errs, "manifest origin must use https")
		}
		if m.Endpoint != "" && !isEncrypted(m.Endpoint) {
			errs = append(errs, "endpoint must use https")
		}
	}

	return ValidationResult{Valid: len(errs) == 0, Manifest: &m, Errors: errs}
}

func validateClaims(claims ComputeClaims) []string {
	if !claims.Type.Valid() {
		return []string{fmt.Sprintf("compute_claims.type must be one of local, api, hybrid; got %q", claims.Type)}
	}
	var errs []string
	needsLocal := claims.Type == ClaimLocal || claims.Type == ClaimHybrid
	needsAPI := claims.Type == ClaimAPI || claims.Type == ClaimHybrid
	if needsLocal {
		if claims.Hardware == "" {
			errs = append(errs, fmt.Sprintf("compute_claims.hardware is required for type %s", claims.Type))
		}
		if claims.ModelName == "" {
			errs = append(errs, fmt.Sprintf("compute_claims.model_name is required for type %s", claims.Type))
		}
	}
	if needsAPI {
		if claims.Provider == "" {
			errs = append(errs, fmt.Sprintf("compute_claims.provider is required for type %s", claims.Type))
		}
		if claims.APIModel == "" {
			errs = append(errs, fmt.Sprintf("compute_claims.api_model is required for type %s", claims.Type))
		}
	}
	return errs
}

func isEncrypted(rawURL string) bool {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	return parsed.Scheme == "https"
}
