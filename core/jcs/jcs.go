package jcs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Canonicalize returns the RFC 8785 (JCS) canonical form of JSON input.
// Canonical output is byte-identical for any two inputs encoding the same
// logical record, regardless of key order or whitespace.
func Canonicalize(input []byte) ([]byte, error) {
	return jcs.Transform(input)
}

// CanonicalizeRecord marshals an in-memory record and returns its canonical
// form. Non-finite numbers and cyclic values are rejected by the marshal
// step before they reach the canonicalizer.
func CanonicalizeRecord(record any) ([]byte, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return jcs.Transform(raw)
}

// SignableSubset returns the canonical encoding of a JSON object with the
// top-level "signature" member removed. This is the exact byte sequence
// agent signatures are computed and verified over.
func SignableSubset(input []byte) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(input, &fields); err != nil {
		return nil, fmt.Errorf("parse record: %w", err)
	}
	delete(fields, "signature")
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return jcs.Transform(raw)
}

// Digest canonicalizes JSON (RFC 8785) and returns a sha256 hex digest.
func Digest(input []byte) (string, error) {
	canonical, err := Canonicalize(input)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
