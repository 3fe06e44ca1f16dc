package sign

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/botwarden/warden/core/jcs"
)

const AlgEd25519 = "ed25519"

type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// Identity returns the hex encoding of a public key. This string is the
// durable handle an agent is known by across the registry.
func Identity(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}

func ParsePublicKeyHex(encoded string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if l := len(raw); l != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key length: %d", l)
	}
	return ed25519.PublicKey(raw), nil
}

func ParsePrivateKeyHex(encoded string) (ed25519.PrivateKey, error) {
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if l := len(raw); l != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key length: %d", l)
	}
	return ed25519.PrivateKey(raw), nil
}

// SignRecord signs the canonical form of a JSON object, excluding its
// top-level "signature" member, and returns the hex-encoded signature.
func SignRecord(priv ed25519.PrivateKey, recordJSON []byte) (string, error) {
	message, err := jcs.SignableSubset(recordJSON)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(ed25519.Sign(priv, message)), nil
}

// VerifyRecord checks a hex-encoded detached signature over the canonical
// form of recordJSON (signature member excluded) against a hex-encoded
// public key. Any malformed input resolves to false; nothing escapes this
// boundary as a panic or error.
func VerifyRecord(recordJSON []byte, sigHex, pubHex string) bool {
	ok, _ := VerifyRecordDetailed(recordJSON, sigHex, pubHex)
	return ok
}

// VerifyRecordDetailed is VerifyRecord with the rejection reason exposed
// for logging and operator-facing error lists.
func VerifyRecordDetailed(recordJSON []byte, sigHex, pubHex string) (bool, error) {
	pub, err := ParsePublicKeyHex(pubHex)
	if err != nil {
		return false, err
	}
	rawSig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}
	if l := len(rawSig); l != ed25519.SignatureSize {
		return false, fmt.Errorf("invalid signature length: %d", l)
	}
	message, err := jcs.SignableSubset(recordJSON)
	if err != nil {
		return false, err
	}
	if !ed25519.Verify(pub, message, rawSig) {
		return false, fmt.Errorf("signature does not verify")
	}
	return true, nil
}
