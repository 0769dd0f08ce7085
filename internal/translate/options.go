// Package translate rewrites Ollama-shaped requests into the LM Studio wire
// shape and LM Studio responses back into Ollama's, including the derived
// timing fields.
package translate

import (
	"strings"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/proxyerr"
)

// Option names copied through to the upstream body unchanged.
var directOptions = []string{
	"temperature",
	"top_p",
	"top_k",
	"presence_penalty",
	"frequency_penalty",
	"seed",
	"stop",
	"truncate",
	"dimensions",
	"logit_bias",
}

// MapOptions flattens an Ollama options map plus the top-level format field
// into upstream request parameters.
func MapOptions(options map[string]any, format any) (map[string]any, error) {
	params := make(map[string]any)

	for _, name := range directOptions {
		if v, ok := options[name]; ok {
			params[name] = v
		}
	}

	mapTokenLimit(options, params)
	mapRepeatPenalty(options, params)

	formatSource := format
	if formatSource == nil {
		formatSource = options["format"]
	}
	rf, err := ConvertFormat(formatSource)
	if err != nil {
		return nil, err
	}
	if rf != nil {
		params["response_format"] = rf
	}

	return params, nil
}

// mapTokenLimit maps max_tokens and num_predict onto upstream max_tokens.
// max_tokens wins when both are present. A value of -1 means "no limit" on
// the Ollama side and is omitted entirely.
func mapTokenLimit(options, params map[string]any) {
	limit, ok := options["max_tokens"]
	if !ok {
		limit, ok = options["num_predict"]
	}
	if !ok {
		return
	}
	if n, isNum := toFloat(limit); isNum && n < 0 {
		return
	}
	params["max_tokens"] = limit
}

// mapRepeatPenalty folds Ollama's repeat_penalty into OpenAI-style penalties.
// When the client set neither penalty, repeat_penalty passes through under its
// own name; when only frequency_penalty is missing, it becomes
// frequency_penalty shifted onto the OpenAI scale (centered at 0, not 1).
func mapRepeatPenalty(options, params map[string]any) {
	rp, ok := options["repeat_penalty"]
	if !ok {
		return
	}
	_, hasFreq := params["frequency_penalty"]
	_, hasPres := params["presence_penalty"]
	switch {
	case !hasFreq && !hasPres:
		params["repeat_penalty"] = rp
	case !hasFreq:
		if n, isNum := toFloat(rp); isNum {
			params["frequency_penalty"] = n - 1.0
		}
	}
}

// ConvertFormat translates Ollama's format field into an OpenAI
// response_format object. Unknown string values are rejected.
func ConvertFormat(format any) (map[string]any, error) {
	switch v := format.(type) {
	case nil:
		return nil, nil
	case string:
		switch {
		case v == "":
			return nil, nil
		case strings.EqualFold(v, "json"):
			return map[string]any{"type": "json_object"}, nil
		case strings.EqualFold(v, "text"):
			return map[string]any{"type": "text"}, nil
		default:
			return nil, proxyerr.InvalidRequest("invalid format: %q", v)
		}
	case map[string]any:
		return map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "ollama_format",
				"strict": true,
				"schema": v,
			},
		}, nil
	default:
		return nil, proxyerr.InvalidRequest("invalid format: must be \"json\" or a JSON schema object")
	}
}

// MergeOptionMaps layers override on top of base without mutating either.
// Alias-supplied parameters act as base; request options win per key.
func MergeOptionMaps(base, override map[string]any) map[string]any {
	if base == nil && override == nil {
		return nil
	}
	merged := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
