package translate

import (
	"time"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/utils/tokenizer"
)

// Nominal load duration reported when the upstream gives no load timing.
const defaultLoadDurationNS = 1_000_000

// Splits used when a wall-clock duration is too small to apportion by token
// counts.
const (
	timingPromptRatio = 4
	timingEvalRatio   = 2
)

// TimingInfo carries the Ollama timing block. All durations are nanoseconds.
type TimingInfo struct {
	TotalDuration      uint64
	LoadDuration       uint64
	PromptEvalCount    uint64
	PromptEvalDuration uint64
	EvalCount          uint64
	EvalDuration       uint64
}

// ApplyTo writes the timing fields into an Ollama response object.
func (t TimingInfo) ApplyTo(out map[string]any) {
	out["total_duration"] = t.TotalDuration
	out["load_duration"] = t.LoadDuration
	out["prompt_eval_count"] = t.PromptEvalCount
	out["prompt_eval_duration"] = t.PromptEvalDuration
	out["eval_count"] = t.EvalCount
	out["eval_duration"] = t.EvalDuration
}

// TimingFromResponse derives timings from an upstream response. LM Studio's
// native stats block is preferred; otherwise the wall-clock duration since
// start is split across prompt and eval proportionally to token counts.
func TimingFromResponse(lmResponse map[string]any, estimatedInput, estimatedOutput uint64, start time.Time) TimingInfo {
	usagePrompt, usageCompletion := usageTokens(lmResponse)

	if stats, ok := lmResponse["stats"].(map[string]any); ok {
		generationTime := floatField(stats, "generation_time", 0.001)
		timeToFirstToken := floatField(stats, "time_to_first_token", 0.1)

		generationNS := uint64(generationTime * float64(time.Second))
		ttftNS := uint64(timeToFirstToken * float64(time.Second))

		promptEvalNS := max64(ttftNS, 1)
		evalNS := uint64(1)
		if generationNS > ttftNS {
			evalNS = generationNS - ttftNS
		}
		totalNS := max64(generationNS, promptEvalNS+evalNS)

		promptTokens := estimatedInput
		if usagePrompt != nil {
			promptTokens = *usagePrompt
		}
		completionTokens := estimatedOutput
		if usageCompletion != nil {
			completionTokens = *usageCompletion
		}

		return TimingInfo{
			TotalDuration:      totalNS,
			LoadDuration:       defaultLoadDurationNS,
			PromptEvalCount:    max64(promptTokens, 1),
			PromptEvalDuration: promptEvalNS,
			EvalCount:          max64(completionTokens, 1),
			EvalDuration:       evalNS,
		}
	}

	return TimingFromDuration(time.Since(start), estimatedInput, estimatedOutput, usagePrompt, usageCompletion)
}

// TimingFromDuration splits a measured duration across the timing fields.
func TimingFromDuration(elapsed time.Duration, estimatedInput, estimatedOutput uint64, actualPrompt, actualCompletion *uint64) TimingInfo {
	totalNS := uint64(elapsed.Nanoseconds())

	promptTokens := estimatedInput
	if actualPrompt != nil {
		promptTokens = *actualPrompt
	}
	promptTokens = max64(promptTokens, 1)

	evalTokens := estimatedOutput
	if actualCompletion != nil {
		evalTokens = *actualCompletion
	}
	evalTokens = max64(evalTokens, 1)

	var promptEvalNS, evalNS uint64
	if totalNS > 1000 {
		promptEvalNS = uint64(float64(totalNS) * float64(promptTokens) / float64(promptTokens+evalTokens))
		evalNS = totalNS - promptEvalNS
	} else {
		promptEvalNS = totalNS / timingPromptRatio
		evalNS = totalNS / timingEvalRatio
	}

	return TimingInfo{
		TotalDuration:      totalNS,
		LoadDuration:       defaultLoadDurationNS,
		PromptEvalCount:    promptTokens,
		PromptEvalDuration: max64(promptEvalNS, 1),
		EvalCount:          evalTokens,
		EvalDuration:       max64(evalNS, 1),
	}
}

// EstimateTokens approximates the token count of a text.
func EstimateTokens(text string) uint64 {
	return uint64(tokenizer.EstimateTokens(text))
}

func usageTokens(lmResponse map[string]any) (prompt, completion *uint64) {
	usage, ok := lmResponse["usage"].(map[string]any)
	if !ok {
		return nil, nil
	}
	if v, ok := toFloat(usage["prompt_tokens"]); ok {
		n := uint64(v)
		prompt = &n
	}
	if v, ok := toFloat(usage["completion_tokens"]); ok {
		n := uint64(v)
		completion = &n
	}
	return prompt, completion
}

func floatField(m map[string]any, key string, def float64) float64 {
	if v, ok := toFloat(m[key]); ok {
		return v
	}
	return def
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
