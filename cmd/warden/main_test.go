package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/botwarden/warden/core/sign"
)

func TestRunVersion(t *testing.T) {
	if code := run([]string{"warden", "version"}); code != exitOK {
		t.Fatalf("run version expected %d got %d", exitOK, code)
	}
	if code := run([]string{"warden"}); code != exitOK {
		t.Fatalf("run bare expected %d got %d", exitOK, code)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	if code := run([]string{"warden", "bogus"}); code != exitInvalidInput {
		t.Fatalf("unknown command expected %d got %d", exitInvalidInput, code)
	}
}

func TestKeysGenerateWritesFiles(t *testing.T) {
	outDir := t.TempDir()
	code := run([]string{"warden", "keys", "generate", "--out-dir", outDir, "--prefix", "bot"})
	if code != exitOK {
		t.Fatalf("keys generate expected %d got %d", exitOK, code)
	}
	pubRaw, err := os.ReadFile(filepath.Join(outDir, "bot.pub"))
	if err != nil {
		t.Fatalf("read public key: %v", err)
	}
	if _, err := sign.ParsePublicKeyHex(string(pubRaw[:len(pubRaw)-1])); err != nil {
		t.Fatalf("generated public key unparsable: %v", err)
	}
	privRaw, err := os.ReadFile(filepath.Join(outDir, "bot.key"))
	if err != nil {
		t.Fatalf("read private key: %v", err)
	}
	if _, err := sign.ParsePrivateKeyHex(string(privRaw[:len(privRaw)-1])); err != nil {
		t.Fatalf("generated private key unparsable: %v", err)
	}
}

func TestManifestSignThenVerify(t *testing.T) {
	workDir := t.TempDir()
	keyDir := filepath.Join(workDir, "keys")
	if code := run([]string{"warden", "keys", "generate", "--out-dir", keyDir}); code != exitOK {
		t.Fatalf("keys generate failed with %d", code)
	}
	pubRaw, err := os.ReadFile(filepath.Join(keyDir, "warden.pub"))
	if err != nil {
		t.Fatalf("read public key: %v", err)
	}
	identity := string(pubRaw[:len(pubRaw)-1])

	unsigned := map[string]any{
		"version":      "1",
		"pubkey":       identity,
		"name":         "cli-agent",
		"endpoint":     "https://agent.example.com/api",
		"capabilities": []string{"summarize"},
		"compute_claims": map[string]any{
			"type":           "api",
			"provider":       "example",
			"api_model":      "example-large",
			"max_latency_ms": 2000,
		},
		"cost_per_call": map[string]any{
			"base_usd": 0.001,
			"currency": "USD",
		},
		"sunset_clause": map[string]any{
			"expires_at": time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
		},
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}
	raw, err := json.Marshal(unsigned)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	inPath := filepath.Join(workDir, "manifest.json")
	if err := os.WriteFile(inPath, raw, 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	signedPath := filepath.Join(workDir, "manifest.signed.json")

	code := run([]string{"warden", "manifest", "sign",
		"--in", inPath, "--key", filepath.Join(keyDir, "warden.key"), "--out", signedPath})
	if code != exitOK {
		t.Fatalf("manifest sign failed with %d", code)
	}

	code = run([]string{"warden", "manifest", "verify", "--in", signedPath, "--pubkey", identity})
	if code != exitOK {
		t.Fatalf("manifest verify failed with %d", code)
	}

	other := run([]string{"warden", "manifest", "verify", "--in", signedPath,
		"--pubkey", "0000000000000000000000000000000000000000000000000000000000000000"})
	if other != exitVerifyFailed {
		t.Fatalf("verify against wrong pubkey expected %d got %d", exitVerifyFailed, other)
	}
}

func TestManifestSignResolvesKeyFromConfig(t *testing.T) {
	workDir := t.TempDir()
	keyDir := filepath.Join(workDir, "keys")
	if code := run([]string{"warden", "keys", "generate", "--out-dir", keyDir}); code != exitOK {
		t.Fatalf("keys generate failed with %d", code)
	}
	pubRaw, err := os.ReadFile(filepath.Join(keyDir, "warden.pub"))
	if err != nil {
		t.Fatalf("read public key: %v", err)
	}
	identity := string(pubRaw[:len(pubRaw)-1])

	configPath := filepath.Join(workDir, "config.yaml")
	configYAML := "keys:\n  mode: prod\n  private_key: " + filepath.Join(keyDir, "warden.key") + "\n"
	if err := os.WriteFile(configPath, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	unsigned := map[string]any{
		"version":      "1",
		"pubkey":       identity,
		"name":         "configured-agent",
		"endpoint":     "https://agent.example.com/api",
		"capabilities": []string{"summarize"},
		"compute_claims": map[string]any{
			"type":           "api",
			"provider":       "example",
			"api_model":      "example-large",
			"max_latency_ms": 2000,
		},
		"cost_per_call": map[string]any{
			"base_usd": 0.001,
			"currency": "USD",
		},
		"sunset_clause": map[string]any{
			"expires_at": time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
		},
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}
	raw, err := json.Marshal(unsigned)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	inPath := filepath.Join(workDir, "manifest.json")
	if err := os.WriteFile(inPath, raw, 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	signedPath := filepath.Join(workDir, "manifest.signed.json")

	code := run([]string{"warden", "manifest", "sign",
		"--in", inPath, "--config", configPath, "--out", signedPath})
	if code != exitOK {
		t.Fatalf("manifest sign via config failed with %d", code)
	}
	code = run([]string{"warden", "manifest", "verify", "--in", signedPath, "--pubkey", identity})
	if code != exitOK {
		t.Fatalf("manifest verify failed with %d", code)
	}
}

func TestManifestVerifyMissingFlags(t *testing.T) {
	if code := run([]string{"warden", "manifest", "verify"}); code != exitInvalidInput {
		t.Fatalf("expected %d got %d", exitInvalidInput, code)
	}
	if code := run([]string{"warden", "manifest", "sign"}); code != exitInvalidInput {
		t.Fatalf("expected %d got %d", exitInvalidInput, code)
	}
}
