// Package stream converts LM Studio SSE completion streams into Ollama
// NDJSON streams, with bounded reassembly and optional recovery of malformed
// frames.
package stream

import (
	"time"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/translate"
)

// deltaState accumulates per-stream facts across frames: the last finish
// reason and any usage block the upstream reported.
type deltaState struct {
	finishReason     string
	promptTokens     *uint64
	completionTokens *uint64
}

func (s *deltaState) observe(frame map[string]any) {
	if usage, ok := frame["usage"].(map[string]any); ok {
		if v, ok := numField(usage, "prompt_tokens"); ok {
			s.promptTokens = &v
		}
		if v, ok := numField(usage, "completion_tokens"); ok {
			s.completionTokens = &v
		}
	}
}

// sawTerminal reports whether any frame carried a finish reason.
func (s *deltaState) sawTerminal() bool {
	return s.finishReason != ""
}

// processFrame extracts the delta payload of one upstream frame. Returns the
// content delta and any tool call deltas; both empty means nothing to emit.
func (s *deltaState) processFrame(frame map[string]any) (string, []any) {
	s.observe(frame)

	choice, ok := translate.FirstChoice(frame)
	if !ok {
		return "", nil
	}
	if reason, ok := choice["finish_reason"].(string); ok && reason != "" {
		s.finishReason = reason
	}

	var content string
	var toolCalls []any

	if delta, ok := choice["delta"].(map[string]any); ok {
		if v, ok := delta["content"]; ok {
			content += flattenContent(v)
		}
		if v, ok := delta["reasoning"]; ok {
			content += flattenContent(v)
		}
		if calls, ok := delta["tool_calls"].([]any); ok && len(calls) > 0 {
			toolCalls = calls
		}
	}

	if content == "" {
		if v, ok := choice["text"]; ok {
			content = flattenContent(v)
		} else if message, ok := choice["message"].(map[string]any); ok {
			content = flattenContent(message["content"])
		}
	}
	return content, toolCalls
}

// flattenContent folds the content shapes upstream models emit (plain string,
// multi-part arrays, nested objects) into text.
func flattenContent(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case []any:
		var out string
		for _, item := range value {
			part, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := part["text"].(string); ok {
				out += text
			}
		}
		return out
	case map[string]any:
		if text, ok := value["text"].(string); ok {
			return text
		}
		if nested, ok := value["content"]; ok {
			return flattenContent(nested)
		}
	}
	return ""
}

// chunk builds one NDJSON line in the chat or generate shape.
func chunk(model, content string, chat, done bool, toolCalls []any) map[string]any {
	out := map[string]any{
		"model":      model,
		"created_at": time.Now().UTC().Format(time.RFC3339),
		"done":       done,
	}
	if chat {
		message := map[string]any{"role": "assistant", "content": content}
		if len(toolCalls) > 0 {
			message["tool_calls"] = toolCalls
		}
		out["message"] = message
	} else {
		out["response"] = content
	}
	return out
}

// finalChunk builds the single done:true line that ends every stream.
func finalChunk(model string, chat bool, doneReason string, elapsed time.Duration, chunkCount uint64, state *deltaState) map[string]any {
	out := chunk(model, "", chat, true, nil)
	out["done_reason"] = doneReason

	timing := translate.TimingFromDuration(elapsed, 10, max64(chunkCount, 1), state.promptTokens, state.completionTokens)
	timing.ApplyTo(out)
	if !chat {
		out["context"] = []any{}
	}
	return out
}

// errorChunk builds a terminal line carrying an error for failures that occur
// after the response has started streaming.
func errorChunk(model, message string, chat bool, elapsed time.Duration, chunkCount uint64, state *deltaState) map[string]any {
	out := finalChunk(model, chat, "error", elapsed, chunkCount, state)
	out["error"] = message
	return out
}

func numField(m map[string]any, key string) (uint64, bool) {
	switch v := m[key].(type) {
	case float64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	default:
		return 0, false
	}
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
