// Package lmstudio models the LM Studio native REST API and maintains the
// model catalog the rest of the proxy works from.
package lmstudio

import "strings"

// Endpoints on the LM Studio server. The /api/v1 surface is the native REST
// API; /v1 is the OpenAI-compatible surface.
const (
	EndpointModels         = "/api/v1/models"
	EndpointChat           = "/v1/chat/completions"
	EndpointCompletions    = "/v1/completions"
	EndpointEmbeddings     = "/v1/embeddings"
	EndpointDownload       = "/api/v1/models/download"
	EndpointDownloadStatus = "/api/v1/models/download/status"
)

type NativeQuantization struct {
	Name string `json:"name"`
}

type NativeLoadedInstance struct {
	ID string `json:"id"`
}

type NativeCapabilities struct {
	Vision            *bool `json:"vision"`
	TrainedForToolUse *bool `json:"trained_for_tool_use"`
}

// NativeModel is one entry of the GET /api/v1/models response.
type NativeModel struct {
	Key              string                 `json:"key"`
	Type             string                 `json:"type"`
	Publisher        string                 `json:"publisher"`
	Architecture     string                 `json:"architecture"`
	Format           string                 `json:"format"`
	Quantization     *NativeQuantization    `json:"quantization"`
	MaxContextLength uint64                 `json:"max_context_length"`
	LoadedInstances  []NativeLoadedInstance `json:"loaded_instances"`
	Capabilities     *NativeCapabilities    `json:"capabilities"`
}

type ModelsResponse struct {
	Models []NativeModel `json:"models"`
}

// ModelInfo is the normalized catalog entry derived from a native model.
type ModelInfo struct {
	ID                string
	OllamaName        string
	Type              string
	Publisher         string
	Arch              string
	CompatibilityType string
	Quantization      string
	State             string
	MaxContextLength  uint64
	Loaded            bool
	SupportsVision    bool
	SupportsTools     bool
}

func FromNative(n NativeModel) ModelInfo {
	loaded := len(n.LoadedInstances) > 0
	state := "not-loaded"
	if loaded {
		state = "loaded"
	}

	ollamaName := n.Key
	if !strings.Contains(n.Key, ":") {
		ollamaName = n.Key + ":latest"
	}

	quant := "unknown"
	if n.Quantization != nil && n.Quantization.Name != "" {
		quant = n.Quantization.Name
	}

	arch := n.Architecture
	if arch == "" {
		arch = "unknown"
	}
	compat := n.Format
	if compat == "" {
		compat = "unknown"
	}

	vision := n.Capabilities != nil && n.Capabilities.Vision != nil && *n.Capabilities.Vision
	tools := n.Capabilities != nil && n.Capabilities.TrainedForToolUse != nil && *n.Capabilities.TrainedForToolUse

	return ModelInfo{
		ID:                n.Key,
		OllamaName:        ollamaName,
		Type:              n.Type,
		Publisher:         n.Publisher,
		Arch:              arch,
		CompatibilityType: compat,
		Quantization:      quant,
		State:             state,
		MaxContextLength:  n.MaxContextLength,
		Loaded:            loaded,
		SupportsVision:    vision,
		SupportsTools:     tools,
	}
}

// WithAlias returns a copy exposed under an alias name.
func (m ModelInfo) WithAlias(name string) ModelInfo {
	m.OllamaName = name
	return m
}

// Capabilities maps the model type onto Ollama capability strings.
func (m ModelInfo) Capabilities() []string {
	var caps []string
	switch m.Type {
	case "llm":
		caps = append(caps, "completion")
		if strings.Contains(m.Arch, "instruct") || strings.Contains(m.ID, "instruct") || strings.Contains(m.ID, "chat") {
			caps = append(caps, "chat")
		}
		if m.SupportsVision {
			caps = append(caps, "vision")
		}
		if m.SupportsTools {
			caps = append(caps, "tools")
		}
	case "vlm":
		caps = append(caps, "completion", "chat", "vision")
		if m.SupportsTools {
			caps = append(caps, "tools")
		}
	case "embeddings", "embedding":
		caps = append(caps, "embedding")
	default:
		caps = append(caps, "completion")
		if m.SupportsVision {
			caps = append(caps, "vision")
		}
		if m.SupportsTools {
			caps = append(caps, "tools")
		}
	}
	return caps
}

// EstimatedSize guesses a byte size from the parameter count hinted by the
// model id and the quantization level. LM Studio does not report file sizes
// on this endpoint.
func (m ModelInfo) EstimatedSize() uint64 {
	base := baseParams(strings.ToLower(m.ID))
	return uint64(float64(base) * quantMultiplier(strings.ToLower(m.Quantization)))
}

// ParameterSize renders the parameter bucket as an Ollama details string.
func (m ModelInfo) ParameterSize() string {
	lower := strings.ToLower(m.ID)
	switch {
	case strings.Contains(lower, "0.5b") || strings.Contains(lower, "500m"):
		return "0.5B"
	case strings.Contains(lower, "1b") && !strings.Contains(lower, "11b"):
		return "1B"
	case strings.Contains(lower, "2b") && !strings.Contains(lower, "22b"):
		return "2B"
	case strings.Contains(lower, "3b") && !strings.Contains(lower, "13b"):
		return "3B"
	case strings.Contains(lower, "7b"):
		return "7B"
	case strings.Contains(lower, "8b"):
		return "8B"
	case strings.Contains(lower, "13b"):
		return "13B"
	case strings.Contains(lower, "70b"):
		return "70B"
	default:
		return "unknown"
	}
}

func baseParams(lowerID string) uint64 {
	switch {
	case strings.Contains(lowerID, "0.5b") || strings.Contains(lowerID, "500m"):
		return 500_000_000
	case strings.Contains(lowerID, "1b") && !strings.Contains(lowerID, "11b"):
		return 1_000_000_000
	case strings.Contains(lowerID, "2b") && !strings.Contains(lowerID, "22b"):
		return 2_000_000_000
	case strings.Contains(lowerID, "3b") && !strings.Contains(lowerID, "13b"):
		return 3_000_000_000
	case strings.Contains(lowerID, "7b"):
		return 7_000_000_000
	case strings.Contains(lowerID, "8b"):
		return 8_000_000_000
	case strings.Contains(lowerID, "13b"):
		return 13_000_000_000
	case strings.Contains(lowerID, "70b"):
		return 70_000_000_000
	default:
		return 4_000_000_000
	}
}

func quantMultiplier(lowerQuant string) float64 {
	switch {
	case strings.Contains(lowerQuant, "q2") || strings.Contains(lowerQuant, "2bit"):
		return 0.35
	case strings.Contains(lowerQuant, "q3"):
		return 0.45
	case strings.Contains(lowerQuant, "q4"):
		return 0.55
	case strings.Contains(lowerQuant, "q5"):
		return 0.65
	case strings.Contains(lowerQuant, "q6"):
		return 0.75
	case strings.Contains(lowerQuant, "q8") || strings.Contains(lowerQuant, "8bit"):
		return 1.0
	case strings.Contains(lowerQuant, "f16"):
		return 2.0
	case strings.Contains(lowerQuant, "f32"):
		return 4.0
	default:
		return 0.55
	}
}
