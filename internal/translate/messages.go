package translate

import (
	"fmt"
	"strings"
)

// NormalizeMessages injects a system prompt as the leading message unless the
// client already supplied a system-role message, then prepends alias seed
// messages between the system prompt and the client conversation.
func NormalizeMessages(messages []any, systemPrompt string, seed []any) []any {
	out := make([]any, 0, len(messages)+len(seed)+1)

	hasSystem := false
	for _, m := range messages {
		if msg, ok := m.(map[string]any); ok {
			if role, ok := msg["role"].(string); ok && strings.EqualFold(role, "system") {
				hasSystem = true
				break
			}
		}
	}

	if systemPrompt != "" && !hasSystem {
		out = append(out, map[string]any{"role": "system", "content": systemPrompt})
	}
	out = append(out, seed...)
	out = append(out, messages...)
	return out
}

// InjectImages rewrites the last message's content into OpenAI multi-part
// form, appending one image_url part per base64 image.
func InjectImages(messages []any, images []any) []any {
	if len(messages) == 0 || len(images) == 0 {
		return messages
	}

	var imageParts []any
	for _, img := range images {
		data, ok := img.(string)
		if !ok {
			continue
		}
		imageParts = append(imageParts, map[string]any{
			"type": "image_url",
			"image_url": map[string]any{
				"url": "data:image/jpeg;base64," + data,
			},
		})
	}
	if len(imageParts) == 0 {
		return messages
	}

	updated := make([]any, len(messages))
	copy(updated, messages)

	last, ok := updated[len(updated)-1].(map[string]any)
	if !ok {
		return messages
	}
	content, ok := last["content"]
	if !ok {
		return messages
	}

	text, isString := content.(string)
	if !isString {
		text = fmt.Sprintf("%v", content)
	}

	parts := append([]any{map[string]any{"type": "text", "text": text}}, imageParts...)
	rewritten := make(map[string]any, len(last))
	for k, v := range last {
		rewritten[k] = v
	}
	rewritten["content"] = parts
	updated[len(updated)-1] = rewritten
	return updated
}

// VisionChatMessages builds a chat message list for a generate request that
// carries images, routing it through the chat endpoint.
func VisionChatMessages(systemPrompt, prompt string, images []any) []any {
	var messages []any
	if systemPrompt != "" {
		messages = append(messages, map[string]any{"role": "system", "content": systemPrompt})
	}
	messages = append(messages, map[string]any{"role": "user", "content": prompt})
	return InjectImages(messages, images)
}

// CollectImages gathers per-message images fields from an Ollama chat body,
// stripping them from the messages since the upstream does not know the field.
func CollectImages(messages []any) ([]any, []any) {
	var images []any
	cleaned := make([]any, 0, len(messages))
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			cleaned = append(cleaned, m)
			continue
		}
		if imgs, ok := msg["images"].([]any); ok && len(imgs) > 0 {
			images = append(images, imgs...)
			stripped := make(map[string]any, len(msg))
			for k, v := range msg {
				if k != "images" {
					stripped[k] = v
				}
			}
			cleaned = append(cleaned, stripped)
			continue
		}
		cleaned = append(cleaned, msg)
	}
	return cleaned, images
}
