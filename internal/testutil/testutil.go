package testutil

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/botwarden/warden/core/sign"
)

func NewKeyPair(t *testing.T) sign.KeyPair {
	t.Helper()
	kp, err := sign.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return kp
}

// SignedManifest builds a valid manifest document for the given keypair,
// applies the optional mutation, then signs it. Mutations therefore keep the
// signature valid; corrupt the returned bytes to break it.
func SignedManifest(t *testing.T, kp sign.KeyPair, mutate func(m map[string]any)) []byte {
	t.Helper()
	m := map[string]any{
		"version":     "1",
		"pubkey":      sign.Identity(kp.Public),
		"name":        "test-agent",
		"description": "fixture agent",
		"endpoint":    "https://agent.example.com/api",
		"capabilities": []string{
			"summarize",
			"review",
		},
		"compute_claims": map[string]any{
			"type":           "api",
			"provider":       "example",
			"api_model":      "example-large",
			"max_latency_ms": 2000,
		},
		"cost_per_call": map[string]any{
			"base_usd": 0.002,
			"currency": "USD",
		},
		"sunset_clause": map[string]any{
			"expires_at": time.Now().Add(365 * 24 * time.Hour).UTC().Format(time.RFC3339),
		},
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}
	if mutate != nil {
		mutate(m)
	}
	unsigned, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	sig, err := sign.SignRecord(kp.Private, unsigned)
	if err != nil {
		t.Fatalf("sign manifest: %v", err)
	}
	m["signature"] = sig
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal signed manifest: %v", err)
	}
	return raw
}
