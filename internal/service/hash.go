package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

const contentIDLength = 16

// contentID hashes the canonical JSON form of v. encoding/json emits map keys
// in sorted order, which makes the encoding canonical for map-shaped values.
func contentID(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:contentIDLength], nil
}

// fullHash is contentID without truncation, used for idempotency keys.
func fullHash(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
