// Package killswitch detects agents stuck in request loops by scoring
// recent activity for repeated prompts, responses, and tool calls.
package killswitch

import (
	"hash/fnv"
	"sort"
	"strings"
	"unicode"

	"github.com/sentinelgate/agent-gateway/internal/adapters"
	"github.com/sentinelgate/agent-gateway/internal/config"
)

// fingerprint is a comparable digest of one piece of text: its unique
// lowercase token set plus an FNV hash for the cheap identical case.
type fingerprint struct {
	tokens map[string]struct{}
	hash   uint64
}

func newFingerprint(text string) fingerprint {
	h := fnv.New64a()
	h.Write([]byte(text))

	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		tokens[f] = struct{}{}
	}
	return fingerprint{tokens: tokens, hash: h.Sum64()}
}

// similar reports whether two fingerprints exceed the token-set Jaccard
// similarity threshold. Identical hashes short-circuit.
func (f fingerprint) similar(other fingerprint) bool {
	if f.hash == other.hash {
		return true
	}
	return jaccard(f.tokens, other.tokens) >= config.SimilarityThreshold
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// ToolSignature builds a canonical digest of a request's tool calls:
// name(arguments) joined in sorted order so call ordering does not matter.
// Empty when the request made no tool calls.
func ToolSignature(calls []adapters.ToolCallInfo) string {
	if len(calls) == 0 {
		return ""
	}
	parts := make([]string, 0, len(calls))
	for _, c := range calls {
		parts = append(parts, c.Name+"("+c.Arguments+")")
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}
