package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/botwarden/warden/core/sign"
)

type keysGenerateOutput struct {
	OK             bool   `json:"ok"`
	Identity       string `json:"identity,omitempty"`
	PublicKeyPath  string `json:"public_key_path,omitempty"`
	PrivateKeyPath string `json:"private_key_path,omitempty"`
	Error          string `json:"error,omitempty"`
}

func runKeys(arguments []string) int {
	if len(arguments) == 0 || arguments[0] == "--help" || arguments[0] == "-h" {
		fmt.Fprintln(os.Stderr, "usage: warden keys generate [--out-dir DIR] [--prefix NAME] [--json]")
		if len(arguments) == 0 {
			return exitInvalidInput
		}
		return exitOK
	}
	switch arguments[0] {
	case "generate":
		return runKeysGenerate(arguments[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown keys subcommand: %s\n", arguments[0])
		return exitInvalidInput
	}
}

func runKeysGenerate(arguments []string) int {
	flagSet := flag.NewFlagSet("keys-generate", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var outDir string
	var prefix string
	var jsonOutput bool

	flagSet.StringVar(&outDir, "out-dir", "", "directory for generated key files (stdout when empty)")
	flagSet.StringVar(&prefix, "prefix", "warden", "key file prefix")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")

	if err := flagSet.Parse(arguments); err != nil {
		fmt.Fprintf(os.Stderr, "keys generate: %v\n", err)
		return exitInvalidInput
	}

	kp, err := sign.GenerateKeyPair()
	if err != nil {
		return keysGenerateFail(jsonOutput, err)
	}
	identity := sign.Identity(kp.Public)

	output := keysGenerateOutput{OK: true, Identity: identity}
	if outDir != "" {
		if err := os.MkdirAll(outDir, 0o700); err != nil {
			return keysGenerateFail(jsonOutput, err)
		}
		output.PublicKeyPath = filepath.Join(outDir, prefix+".pub")
		output.PrivateKeyPath = filepath.Join(outDir, prefix+".key")
		if err := os.WriteFile(output.PublicKeyPath, []byte(identity+"\n"), 0o600); err != nil {
			return keysGenerateFail(jsonOutput, err)
		}
		if err := os.WriteFile(output.PrivateKeyPath, []byte(hex.EncodeToString(kp.Private)+"\n"), 0o600); err != nil {
			return keysGenerateFail(jsonOutput, err)
		}
	}

	if jsonOutput {
		_ = json.NewEncoder(os.Stdout).Encode(output)
		return exitOK
	}
	fmt.Println("identity:", identity)
	if outDir != "" {
		fmt.Println("public key:", output.PublicKeyPath)
		fmt.Println("private key:", output.PrivateKeyPath)
	} else {
		fmt.Println("private key:", hex.EncodeToString(kp.Private))
	}
	return exitOK
}

func keysGenerateFail(jsonOutput bool, err error) int {
	if jsonOutput {
		_ = json.NewEncoder(os.Stdout).Encode(keysGenerateOutput{Error: err.Error()})
	} else {
		fmt.Fprintf(os.Stderr, "keys generate: %v\n", err)
	}
	return exitInternalFailure
}
