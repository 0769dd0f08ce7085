package stream

import (
	"io"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/utils/log"
)

const (
	sseDataPrefix      = "data: "
	sseMessageBoundary = "\n\n"
)

// readRecovering scans raw SSE bytes with a bounded reassembly buffer. When
// the buffer fills without a frame boundary it salvages the last complete
// JSON object from the tail and keeps only the unparsed remainder, instead of
// failing the stream.
func readRecovering(body io.Reader, maxBuffer int, out chan<- frameResult) {
	var buffer string
	buf := make([]byte, 8192)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			buffer += string(buf[:n])
			buffer = drainFrames(buffer, out)

			if len(buffer) > maxBuffer {
				salvaged, tail := salvageTail(buffer)
				if salvaged != "" {
					log.Warnf("stream buffer overflow, salvaged %d bytes of JSON", len(salvaged))
					out <- frameResult{data: salvaged}
				} else {
					log.Warnf("stream buffer overflow, no salvageable JSON; dropping head")
				}
				buffer = tail
			}
		}
		if err != nil {
			if err != io.EOF {
				out <- frameResult{err: err}
				return
			}
			if rest := strings.TrimSpace(buffer); rest != "" {
				if payload, ok := strings.CutPrefix(rest, sseDataPrefix); ok {
					out <- frameResult{data: strings.TrimSpace(payload)}
				}
			}
			return
		}
	}
}

// drainFrames emits every complete frame in the buffer and returns what is
// left after the last boundary.
func drainFrames(buffer string, out chan<- frameResult) string {
	for {
		boundary := strings.Index(buffer, sseMessageBoundary)
		if boundary < 0 {
			return buffer
		}
		message := buffer[:boundary]
		buffer = buffer[boundary+len(sseMessageBoundary):]

		message = strings.TrimSpace(message)
		if message == "" {
			continue
		}
		payload, ok := strings.CutPrefix(message, sseDataPrefix)
		if !ok {
			// Comment lines and event names carry nothing we translate.
			continue
		}
		out <- frameResult{data: strings.TrimSpace(payload)}
	}
}

// salvageTail walks backward from the buffer tail looking for the last
// complete JSON object. Returns the salvaged object text and the remainder
// after it, or ("", tail-half) when nothing parses.
func salvageTail(buffer string) (string, string) {
	end := strings.LastIndex(buffer, "}")
	if end < 0 {
		// No object boundary at all; keep a bounded tail so a split frame
		// can still complete on the next read.
		return "", tailOf(buffer)
	}

	start := end
	for attempts := 0; attempts < 64; attempts++ {
		start = strings.LastIndex(buffer[:start], "{")
		if start < 0 {
			break
		}
		candidate := buffer[start : end+1]
		var decoded map[string]any
		if json.Unmarshal([]byte(candidate), &decoded) == nil {
			return candidate, buffer[end+1:]
		}
	}
	return "", tailOf(buffer)
}

func tailOf(buffer string) string {
	const keep = 4096
	if len(buffer) <= keep {
		return buffer
	}
	return buffer[len(buffer)-keep:]
}

// recoverJSON attempts to pull a usable JSON object out of a malformed frame.
// It tries the widest brace span, then common truncation repairs, then
// salvaging just the choices array.
func recoverJSON(data string) (map[string]any, bool) {
	if start, end := strings.Index(data, "{"), strings.LastIndex(data, "}"); start >= 0 && start < end {
		var decoded map[string]any
		if json.Unmarshal([]byte(data[start:end+1]), &decoded) == nil {
			return decoded, true
		}
	}

	cleaned := strings.NewReplacer(
		",\n}", "\n}",
		",\n]", "\n]",
		":\n", ": \"\"",
	).Replace(data)
	var decoded map[string]any
	if json.Unmarshal([]byte(cleaned), &decoded) == nil {
		return decoded, true
	}

	if choicesIdx := strings.Index(data, `"choices":`); choicesIdx >= 0 {
		rest := data[choicesIdx:]
		if arrayStart := strings.Index(rest, "["); arrayStart >= 0 {
			arrayRegion := rest[arrayStart:]
			if arrayEnd := strings.LastIndex(arrayRegion, "]"); arrayEnd >= 0 {
				var choices []any
				if json.Unmarshal([]byte(arrayRegion[:arrayEnd+1]), &choices) == nil {
					return map[string]any{"choices": choices}, true
				}
			}
		}
	}
	return nil, false
}
