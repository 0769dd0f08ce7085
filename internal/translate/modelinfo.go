package translate

import (
	"crypto/md5"
	"fmt"
	"time"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/alias"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/lmstudio"
)

// Default keep-alive window advertised on the ps surface.
const DefaultKeepAlive = 5 * time.Minute

// Ollama clients expect these sampler defaults in show output.
const (
	defaultTemperature   = 0.7
	defaultTopP          = 0.9
	defaultTopK          = 40
	defaultRepeatPenalty = 1.1
)

// SyntheticDigest produces the stable per-name digest used where Ollama
// expects a manifest digest the proxy does not have.
func SyntheticDigest(name string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(name)))
}

func baseRepresentation(m lmstudio.ModelInfo) map[string]any {
	return map[string]any{
		"name":   m.OllamaName,
		"model":  m.OllamaName,
		"size":   m.EstimatedSize(),
		"digest": SyntheticDigest(m.OllamaName),
		"details": map[string]any{
			"parent_model":       "",
			"format":             m.CompatibilityType,
			"family":             m.Arch,
			"families":           []any{m.Arch},
			"parameter_size":     m.ParameterSize(),
			"quantization_level": m.Quantization,
		},
	}
}

// TagsEntry renders one /api/tags model entry.
func TagsEntry(m lmstudio.ModelInfo) map[string]any {
	entry := baseRepresentation(m)
	entry["modified_at"] = time.Now().UTC().Format(time.RFC3339)
	return entry
}

// OrphanAliasEntry renders a tags entry for an alias whose target has
// disappeared from the upstream catalog.
func OrphanAliasEntry(e alias.Entry) map[string]any {
	return map[string]any{
		"name":        e.Name,
		"model":       e.Name,
		"modified_at": e.UpdatedAt.Format(time.RFC3339),
		"size":        0,
		"digest":      SyntheticDigest(e.Name),
		"details": map[string]any{
			"parent_model":       e.SourceModel,
			"format":             "virtual",
			"family":             "unknown",
			"families":           []any{"unknown"},
			"parameter_size":     "unknown",
			"quantization_level": "unknown",
		},
	}
}

// PSEntry renders one /api/ps entry for a loaded model.
func PSEntry(m lmstudio.ModelInfo) map[string]any {
	entry := baseRepresentation(m)
	entry["expires_at"] = time.Now().UTC().Add(DefaultKeepAlive).Format(time.RFC3339)
	entry["size_vram"] = entry["size"]
	return entry
}

// ShowResponse renders /api/show output for a model, overlaying alias
// metadata when the shown name is a managed alias.
func ShowResponse(m lmstudio.ModelInfo, aliasEntry *alias.Entry) map[string]any {
	base := baseRepresentation(m)

	out := map[string]any{
		"modelfile": fmt.Sprintf(
			"# Modelfile for %s\nFROM %s # (Real data from LM Studio)\n\nPARAMETER temperature %v\nPARAMETER top_p %v\nPARAMETER top_k %v\n\nTEMPLATE \"\"\"{{ if .System }}{{ .System }} {{ end }}{{ .Prompt }}\"\"\"",
			m.OllamaName, m.OllamaName, defaultTemperature, defaultTopP, defaultTopK,
		),
		"parameters": fmt.Sprintf("temperature %v\ntop_p %v\ntop_k %v\nrepeat_penalty %v",
			defaultTemperature, defaultTopP, defaultTopK, defaultRepeatPenalty),
		"template": "{{ if .System }}{{ .System }}\n{{ end }}{{ .Prompt }}",
		"details":  base["details"],
		"model_info": map[string]any{
			"general.architecture":         m.Arch,
			"general.file_type":            2,
			"general.quantization_version": 2,
			"lmstudio.publisher":           m.Publisher,
			"lmstudio.model_type":          m.Type,
			"lmstudio.state":               m.State,
			"lmstudio.max_context_length":  m.MaxContextLength,
			"lmstudio.compatibility_type":  m.CompatibilityType,
			"lmstudio.supports_vision":     m.SupportsVision,
			"lmstudio.supports_tools":      m.SupportsTools,
		},
		"capabilities": m.Capabilities(),
		"digest":       SyntheticDigest(m.OllamaName),
		"size":         base["size"],
		"modified_at":  time.Now().UTC().Format(time.RFC3339),
	}

	if aliasEntry != nil {
		out["virtual"] = true
		out["alias_name"] = aliasEntry.Name
		out["source_model"] = aliasEntry.SourceModel
		out["target_model_id"] = aliasEntry.TargetModelID
		if aliasEntry.Metadata.SystemPrompt != nil {
			out["system"] = *aliasEntry.Metadata.SystemPrompt
		}
		if aliasEntry.Metadata.Template != nil {
			out["template"] = *aliasEntry.Metadata.Template
		}
		if aliasEntry.Metadata.Parameters != nil {
			out["parameters"] = aliasEntry.Metadata.Parameters
		}
		if aliasEntry.Metadata.License != nil {
			out["license"] = aliasEntry.Metadata.License
		}
		if aliasEntry.Metadata.Adapters != nil {
			out["adapters"] = aliasEntry.Metadata.Adapters
		}
		if aliasEntry.Metadata.Messages != nil {
			out["messages"] = aliasEntry.Metadata.Messages
		}
	}
	return out
}

// MergeWithAliases appends transformed entries for every alias whose target
// is present in the base catalog.
func MergeWithAliases(models []lmstudio.ModelInfo, aliases []alias.Entry, transform func(lmstudio.ModelInfo) map[string]any) []map[string]any {
	result := make([]map[string]any, 0, len(models)+len(aliases))
	for _, m := range models {
		result = append(result, transform(m))
	}
	for _, e := range aliases {
		for _, m := range models {
			if m.ID == e.TargetModelID {
				result = append(result, transform(m.WithAlias(e.Name)))
				break
			}
		}
	}
	return result
}
