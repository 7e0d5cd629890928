package costcontrol

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/sentinelgate/agent-gateway/internal/config"
)

var (
	encOnce sync.Once
	encoder *tiktoken.Tiktoken
)

// EstimateTokens approximates the token count of a prompt before it is
// sent upstream. Uses the cl100k_base encoding when available and falls
// back to a bytes-per-token heuristic when the encoding cannot be loaded
// (e.g. no cached BPE files and no network).
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoder = enc
		}
	})
	if encoder != nil {
		return len(encoder.Encode(text, nil, nil))
	}
	n := len(text) / config.TokenEstimateRatio
	if n == 0 {
		n = 1
	}
	return n
}
