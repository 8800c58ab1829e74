package protocol

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// HexString returns the lowercase hex encoding of data. A nil slice
// encodes to "".
func HexString(data []byte) string {
	return hex.EncodeToString(data)
}

// DecodeHex decodes a hex string as produced by the backend.
func DecodeHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("protocol: decode hex %q: %w", s, err)
	}
	return b, nil
}

// HexToBase64 re-encodes a hex string as standard base64.
func HexToBase64(s string) (string, error) {
	b, err := DecodeHex(s)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// Base64ToHex re-encodes a standard base64 string as hex.
func Base64ToHex(s string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("protocol: decode base64: %w", err)
	}
	return hex.EncodeToString(b), nil
}
