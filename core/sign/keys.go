package sign

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"strings"
)

type KeyMode string

const (
	ModeDev  KeyMode = "dev"
	ModeProd KeyMode = "prod"
)

const DevKeyWarning = "dev mode: ephemeral keypair generated; signatures will not verify across machines"

// KeyConfig names the sources a signing key may be loaded from. Exactly one
// of path or env may be set per key.
type KeyConfig struct {
	Mode           KeyMode
	PrivateKeyPath string
	PublicKeyPath  string
	PrivateKeyEnv  string
	PublicKeyEnv   string
}

// LoadSigningKey resolves a keypair from the configured source. Dev mode
// generates an ephemeral pair and returns a warning; prod mode requires an
// explicit private key source.
func LoadSigningKey(cfg KeyConfig) (KeyPair, []string, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeProd
	}
	switch mode {
	case ModeDev:
		if cfg.hasPrivateSource() || cfg.hasPublicSource() {
			return KeyPair{}, nil, fmt.Errorf("dev mode does not accept explicit key sources")
		}
		kp, err := GenerateKeyPair()
		if err != nil {
			return KeyPair{}, nil, err
		}
		return kp, []string{DevKeyWarning}, nil
	case ModeProd:
		if !cfg.hasPrivateSource() {
			return KeyPair{}, nil, fmt.Errorf("prod mode requires a private key source")
		}
		priv, err := loadPrivateKey(cfg)
		if err != nil {
			return KeyPair{}, nil, err
		}
		pub := priv.Public().(ed25519.PublicKey)
		if cfg.hasPublicSource() {
			loaded, err := loadPublicKey(cfg)
			if err != nil {
				return KeyPair{}, nil, err
			}
			if !loaded.Equal(pub) {
				return KeyPair{}, nil, fmt.Errorf("public key does not match private key")
			}
			pub = loaded
		}
		return KeyPair{Public: pub, Private: priv}, nil, nil
	default:
		return KeyPair{}, nil, fmt.Errorf("unsupported key mode: %q", cfg.Mode)
	}
}

func LoadPrivateKeyHex(path string) (ed25519.PrivateKey, error) {
	// #nosec G304 -- key path is explicit local user input.
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return ParsePrivateKeyHex(strings.TrimSpace(string(b)))
}

func LoadPublicKeyHex(path string) (ed25519.PublicKey, error) {
	// #nosec G304 -- key path is explicit local user input.
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return ParsePublicKeyHex(strings.TrimSpace(string(b)))
}

func (cfg KeyConfig) hasPrivateSource() bool {
	return cfg.PrivateKeyPath != "" || cfg.PrivateKeyEnv != ""
}

func (cfg KeyConfig) hasPublicSource() bool {
	return cfg.PublicKeyPath != "" || cfg.PublicKeyEnv != ""
}

func loadPrivateKey(cfg KeyConfig) (ed25519.PrivateKey, error) {
	if cfg.PrivateKeyPath != "" && cfg.PrivateKeyEnv != "" {
		return nil, fmt.Errorf("private key source: set either path or env")
	}
	if cfg.PrivateKeyPath != "" {
		return LoadPrivateKeyHex(cfg.PrivateKeyPath)
	}
	encoded, ok := readEnvValue(cfg.PrivateKeyEnv)
	if !ok {
		return nil, fmt.Errorf("private key env not set: %s", cfg.PrivateKeyEnv)
	}
	return ParsePrivateKeyHex(encoded)
}

func loadPublicKey(cfg KeyConfig) (ed25519.PublicKey, error) {
	if cfg.PublicKeyPath != "" && cfg.PublicKeyEnv != "" {
		return nil, fmt.Errorf("public key source: set either path or env")
	}
	if cfg.PublicKeyPath != "" {
		return LoadPublicKeyHex(cfg.PublicKeyPath)
	}
	encoded, ok := readEnvValue(cfg.PublicKeyEnv)
	if !ok {
		return nil, fmt.Errorf("public key env not set: %s", cfg.PublicKeyEnv)
	}
	return ParsePublicKeyHex(encoded)
}

func readEnvValue(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	val, ok := os.LookupEnv(name)
	if !ok {
		return "", false
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return "", false
	}
	return val, true
}
