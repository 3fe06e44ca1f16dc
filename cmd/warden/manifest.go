package main

import (
	"crypto/ed25519"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/botwarden/warden/core/config"
	"github.com/botwarden/warden/core/manifest"
	"github.com/botwarden/warden/core/sign"
)

func runManifest(arguments []string) int {
	if len(arguments) == 0 || arguments[0] == "--help" || arguments[0] == "-h" {
		fmt.Fprintln(os.Stderr, "usage: warden manifest <sign|verify> [flags]")
		if len(arguments) == 0 {
			return exitInvalidInput
		}
		return exitOK
	}
	switch arguments[0] {
	case "sign":
		return runManifestSign(arguments[1:])
	case "verify":
		return runManifestVerify(arguments[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown manifest subcommand: %s\n", arguments[0])
		return exitInvalidInput
	}
}

func runManifestSign(arguments []string) int {
	flagSet := flag.NewFlagSet("manifest-sign", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var inPath string
	var outPath string
	var keyPath string
	var configPath string

	flagSet.StringVar(&inPath, "in", "", "manifest JSON file to sign")
	flagSet.StringVar(&outPath, "out", "", "output path (stdout when empty)")
	flagSet.StringVar(&keyPath, "key", "", "hex-encoded ed25519 private key file (overrides config)")
	flagSet.StringVar(&configPath, "config", config.DefaultPath, "config file supplying key sources when --key is absent")

	if err := flagSet.Parse(arguments); err != nil {
		fmt.Fprintf(os.Stderr, "manifest sign: %v\n", err)
		return exitInvalidInput
	}
	if inPath == "" {
		fmt.Fprintln(os.Stderr, "manifest sign: --in is required")
		return exitInvalidInput
	}

	// #nosec G304 -- manifest path is explicit local user input.
	raw, err := os.ReadFile(inPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "manifest sign: %v\n", err)
		return exitInternalFailure
	}
	priv, code := signingKey(keyPath, configPath)
	if code != exitOK {
		return code
	}

	signature, err := sign.SignRecord(priv, raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "manifest sign: %v\n", err)
		return exitInternalFailure
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		fmt.Fprintf(os.Stderr, "manifest sign: %v\n", err)
		return exitInvalidInput
	}
	sigJSON, _ := json.Marshal(signature)
	doc["signature"] = sigJSON
	signed, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "manifest sign: %v\n", err)
		return exitInternalFailure
	}
	signed = append(signed, '\n')

	if outPath == "" {
		_, _ = os.Stdout.Write(signed)
		return exitOK
	}
	if err := os.WriteFile(outPath, signed, 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "manifest sign: %v\n", err)
		return exitInternalFailure
	}
	return exitOK
}

// signingKey resolves the private key from --key when given, otherwise from
// the config file's keys section through the dev/prod key loader.
func signingKey(keyPath, configPath string) (ed25519.PrivateKey, int) {
	if keyPath != "" {
		priv, err := sign.LoadPrivateKeyHex(keyPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "manifest sign: %v\n", err)
			return nil, exitInternalFailure
		}
		return priv, exitOK
	}

	cfg, err := config.Load(configPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "manifest sign: %v\n", err)
		return nil, exitInvalidInput
	}
	if cfg.Keys.Mode == "" && cfg.Keys.PrivateKey == "" && cfg.Keys.PrivateKeyEnv == "" {
		fmt.Fprintln(os.Stderr, "manifest sign: --key or a keys section in the config is required")
		return nil, exitInvalidInput
	}
	kp, warnings, err := sign.LoadSigningKey(sign.KeyConfig{
		Mode:           sign.KeyMode(cfg.Keys.Mode),
		PrivateKeyPath: cfg.Keys.PrivateKey,
		PrivateKeyEnv:  cfg.Keys.PrivateKeyEnv,
		PublicKeyPath:  cfg.Keys.PublicKey,
		PublicKeyEnv:   cfg.Keys.PublicKeyEnv,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "manifest sign: %v\n", err)
		return nil, exitInternalFailure
	}
	for _, warning := range warnings {
		fmt.Fprintln(os.Stderr, "manifest sign:", warning)
	}
	return kp.Private, exitOK
}

func runManifestVerify(arguments []string) int {
	flagSet := flag.NewFlagSet("manifest-verify", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var inPath string
	var pubkey string
	var devMode bool
	var jsonOutput bool

	flagSet.StringVar(&inPath, "in", "", "signed manifest JSON file")
	flagSet.StringVar(&pubkey, "pubkey", "", "claimed hex-encoded ed25519 public key")
	flagSet.BoolVar(&devMode, "dev", false, "permit plain-http endpoints")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")

	if err := flagSet.Parse(arguments); err != nil {
		fmt.Fprintf(os.Stderr, "manifest verify: %v\n", err)
		return exitInvalidInput
	}
	if inPath == "" || pubkey == "" {
		fmt.Fprintln(os.Stderr, "manifest verify: --in and --pubkey are required")
		return exitInvalidInput
	}

	// #nosec G304 -- manifest path is explicit local user input.
	raw, err := os.ReadFile(inPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "manifest verify: %v\n", err)
		return exitInternalFailure
	}

	result := manifest.Validate(raw, pubkey, manifest.Options{DevMode: devMode})
	if jsonOutput {
		_ = json.NewEncoder(os.Stdout).Encode(result)
	} else if result.Valid {
		fmt.Println("manifest valid")
	} else {
		fmt.Println("manifest invalid:")
		for _, verr := range result.Errors {
			fmt.Println("  -", verr)
		}
	}
	if !result.Valid {
		return exitVerifyFailed
	}
	return exitOK
}
