package main

import (
	"fmt"
	"os"
)

// version is stamped at release time via ldflags; default stays dev for local builds.
var version = "0.0.0-dev"

const (
	exitOK              = 0
	exitInternalFailure = 1
	exitInvalidInput    = 2
	exitVerifyFailed    = 3
)

func main() {
	os.Exit(run(os.Args))
}

func run(arguments []string) int {
	if len(arguments) < 2 {
		fmt.Println("warden", version)
		return exitOK
	}
	switch arguments[1] {
	case "keys":
		return runKeys(arguments[2:])
	case "manifest":
		return runManifest(arguments[2:])
	case "serve":
		return runServe(arguments[2:])
	case "simbot":
		return runSimbot(arguments[2:])
	case "version", "--version":
		fmt.Println("warden", version)
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", arguments[1])
		printUsage()
		return exitInvalidInput
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: warden <command> [flags]

commands:
  keys generate     generate an ed25519 identity keypair
  manifest sign     sign a manifest with a private key
  manifest verify   validate a signed manifest offline
  serve             run the registry service
  simbot            run a simulated probe target
  version           print the version`)
}
