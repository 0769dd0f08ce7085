// Package tokenizer estimates token counts for timing fields when the
// upstream omits usage data. Counts are estimates, never billing-grade.
package tokenizer

import (
	"math"

	"github.com/tiktoken-go/tokenizer"
)

// Characters-to-tokens ratio used when the encoder is unavailable.
const tokenToCharRatio = 0.25

var enc, encErr = tokenizer.Get(tokenizer.O200kBase)

func EstimateTokens(content string) int {
	if content == "" {
		return 0
	}
	if encErr == nil {
		if tc, err := enc.Count(content); err == nil && tc > 0 {
			return tc
		}
	}
	return int(math.Ceil(float64(len(content)) * tokenToCharRatio))
}
