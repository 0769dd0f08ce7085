package translate

import (
	"fmt"
	"time"
)

// DoneReason maps an upstream finish reason onto Ollama's closed set.
// Upstream spellings vary across LM Studio endpoints and versions.
func DoneReason(finishReason string) string {
	switch finishReason {
	case "length", "max_tokens", "maxPredictedTokensReached":
		return "length"
	default:
		return "stop"
	}
}

// FirstChoice returns choices[0] when present.
func FirstChoice(lmResponse map[string]any) (map[string]any, bool) {
	choices, ok := lmResponse["choices"].([]any)
	if !ok || len(choices) == 0 {
		return nil, false
	}
	choice, ok := choices[0].(map[string]any)
	return choice, ok
}

// FinishReason extracts choices[0].finish_reason when present.
func FinishReason(lmResponse map[string]any) string {
	choice, ok := FirstChoice(lmResponse)
	if !ok {
		return ""
	}
	reason, _ := choice["finish_reason"].(string)
	return reason
}

// ChatContent extracts assistant content, folding a reasoning field into a
// readable combined body when the model emitted one.
func ChatContent(lmResponse map[string]any) string {
	choice, ok := FirstChoice(lmResponse)
	if !ok {
		return ""
	}
	message, ok := choice["message"].(map[string]any)
	if !ok {
		return ""
	}
	content, _ := message["content"].(string)
	if reasoning, ok := message["reasoning"].(string); ok && reasoning != "" {
		return fmt.Sprintf("**Reasoning:**\n%s\n\n**Answer:**\n%s", reasoning, content)
	}
	return content
}

// CompletionContent extracts generated text from a completion response,
// falling back to the chat shape some backends return.
func CompletionContent(lmResponse map[string]any) string {
	choice, ok := FirstChoice(lmResponse)
	if !ok {
		return ""
	}
	if text, ok := choice["text"].(string); ok {
		return text
	}
	if message, ok := choice["message"].(map[string]any); ok {
		if content, ok := message["content"].(string); ok {
			return content
		}
	}
	return ""
}

// ToolCalls extracts choices[0].message.tool_calls when non-empty.
func ToolCalls(lmResponse map[string]any) []any {
	choice, ok := FirstChoice(lmResponse)
	if !ok {
		return nil
	}
	message, ok := choice["message"].(map[string]any)
	if !ok {
		return nil
	}
	calls, ok := message["tool_calls"].([]any)
	if !ok || len(calls) == 0 {
		return nil
	}
	return calls
}

// ChatResponse renders a non-streaming upstream chat completion as an Ollama
// /api/chat response. messageCount sizes the prompt-token estimate when the
// upstream reports no usage.
func ChatResponse(lmResponse map[string]any, ollamaName string, messageCount int, start time.Time) map[string]any {
	content := ChatContent(lmResponse)
	estimatedInput := max64(uint64(messageCount)*10, 1)
	timing := TimingFromResponse(lmResponse, estimatedInput, EstimateTokens(content), start)

	message := map[string]any{
		"role":    "assistant",
		"content": content,
	}
	if calls := ToolCalls(lmResponse); calls != nil {
		message["tool_calls"] = calls
	}

	out := map[string]any{
		"model":       ollamaName,
		"created_at":  time.Now().UTC().Format(time.RFC3339),
		"message":     message,
		"done":        true,
		"done_reason": DoneReason(FinishReason(lmResponse)),
	}
	timing.ApplyTo(out)
	return out
}

// GenerateResponse renders a non-streaming completion as an Ollama
// /api/generate response.
func GenerateResponse(lmResponse map[string]any, ollamaName, prompt string, start time.Time) map[string]any {
	content := CompletionContent(lmResponse)
	timing := TimingFromResponse(lmResponse, EstimateTokens(prompt), EstimateTokens(content), start)

	out := map[string]any{
		"model":       ollamaName,
		"created_at":  time.Now().UTC().Format(time.RFC3339),
		"response":    content,
		"done":        true,
		"done_reason": DoneReason(FinishReason(lmResponse)),
		"context":     []any{},
	}
	timing.ApplyTo(out)
	return out
}

// Embeddings extracts the vectors from an upstream embedding response in
// input order.
func Embeddings(lmResponse map[string]any) []any {
	data, ok := lmResponse["data"].([]any)
	if !ok {
		return nil
	}
	var vectors []any
	for _, item := range data {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if vec, ok := entry["embedding"]; ok {
			vectors = append(vectors, vec)
		}
	}
	return vectors
}

// EmbeddingsResponse renders collected vectors as an Ollama /api/embed
// response. Embedding responses omit the eval timing fields.
func EmbeddingsResponse(vectors []any, lmResponse map[string]any, ollamaName string, start time.Time) map[string]any {
	timing := TimingFromResponse(lmResponse, 10, max64(uint64(len(vectors)), 1), start)
	return map[string]any{
		"model":                ollamaName,
		"embeddings":           vectors,
		"total_duration":       timing.TotalDuration,
		"load_duration":        timing.LoadDuration,
		"prompt_eval_count":    timing.PromptEvalCount,
		"prompt_eval_duration": timing.PromptEvalDuration,
	}
}
