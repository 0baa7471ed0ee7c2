package respcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// RequestKey is the normalized form of a pending model call used for cache
// lookup: the message history snapshot plus the generation parameters that
// affect the output.
type RequestKey struct {
	Model       string       `json:"model"`
	Messages    []KeyMessage `json:"messages"`
	Temperature float64      `json:"temperature"`
	MaxTokens   int          `json:"max_tokens"`
}

// KeyMessage is one history entry inside a RequestKey.
type KeyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Fingerprint derives a deterministic cache key from a request. Struct
// fields marshal in declaration order, so equal requests always produce
// equal fingerprints.
func Fingerprint(key RequestKey) string {
	data, err := json.Marshal(key)
	if err != nil {
		// RequestKey contains only strings and numbers; Marshal cannot fail.
		panic("respcache: fingerprint marshal: " + err.Error())
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
