package conf

const (
	APP_NAME = "ollama-lmstudio-proxy"
	APP_DESC = "Ollama-compatible proxy for LM Studio"
	Repo     = "https://github.com/uwuclxdy/ollama-lmstudio-proxy"

	// Ollama server version reported on /api/version for client compatibility.
	OllamaVersion = "0.13.0"
)

// Injected at build time via -ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	Author    = "unknown"
)
