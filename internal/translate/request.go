package translate

// BuildChatRequest assembles the upstream chat completion body. Tools are
// only forwarded when the client supplied a non-empty array.
func BuildChatRequest(modelID string, messages []any, stream bool, tools any, params map[string]any) map[string]any {
	body := map[string]any{
		"model":    modelID,
		"messages": messages,
		"stream":   stream,
	}
	if arr, ok := tools.([]any); ok && len(arr) > 0 {
		body["tools"] = arr
	}
	applyParams(body, params)
	return body
}

// BuildCompletionRequest assembles the upstream text completion body.
func BuildCompletionRequest(modelID, prompt string, stream bool, params map[string]any) map[string]any {
	body := map[string]any{
		"model":  modelID,
		"prompt": prompt,
		"stream": stream,
	}
	applyParams(body, params)
	return body
}

// BuildEmbeddingRequest assembles the upstream embedding body for one input.
func BuildEmbeddingRequest(modelID string, input any, params map[string]any) map[string]any {
	body := map[string]any{
		"model": modelID,
		"input": input,
	}
	applyParams(body, params)
	return body
}

func applyParams(body, params map[string]any) {
	for k, v := range params {
		body[k] = v
	}
}
