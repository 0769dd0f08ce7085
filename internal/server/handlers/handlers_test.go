package handlers

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/alias"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/blob"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/client"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/conf"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/resolver"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/server/router"
)

var (
	engineOnce sync.Once
	testEngine *gin.Engine
)

// apiEngine builds the gin engine once; route groups register through init
// and the registry empties after the first mount.
func apiEngine(t *testing.T) *gin.Engine {
	t.Helper()
	engineOnce.Do(func() {
		gin.SetMode(gin.TestMode)
		testEngine = gin.New()
		require.NoError(t, router.RegisterAll(testEngine))
	})
	return testEngine
}

// catalogJSON is the fake LM Studio model list used across tests.
const catalogJSON = `{"models":[
	{"key":"llama-3-8b-instruct","type":"llm","publisher":"meta","architecture":"llama","format":"gguf",
	 "quantization":{"name":"Q4_K_M"},"max_context_length":8192,
	 "loaded_instances":[{"id":"i1"}],"capabilities":{"vision":false,"trained_for_tool_use":true}},
	{"key":"nomic-embed-text","type":"embeddings","publisher":"nomic","architecture":"bert","format":"gguf",
	 "quantization":{"name":"F16"},"max_context_length":2048,"loaded_instances":[]}
]}`

func setupTest(t *testing.T, upstream http.Handler) *gin.Engine {
	t.Helper()

	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	conf.AppConfig = conf.Config{}
	conf.AppConfig.Upstream.URL = srv.URL
	conf.AppConfig.Load.TimeoutSeconds = 1
	conf.AppConfig.Stream.MaxBufferSize = 262144

	require.NoError(t, client.Init(&conf.AppConfig))
	require.NoError(t, alias.Init(filepath.Join(t.TempDir(), alias.StoreFileName)))
	require.NoError(t, blob.Init(t.TempDir()))
	resolver.Init(time.Minute)

	return apiEngine(t)
}

func doJSON(t *testing.T, e *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func fakeUpstream(t *testing.T, chat func(map[string]any) string) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(catalogJSON))
	})
	if chat != nil {
		mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(chat(body)))
		})
	}
	return mux
}

func TestChatNonStreaming(t *testing.T) {
	e := setupTest(t, fakeUpstream(t, func(body map[string]any) string {
		assert.Equal(t, "llama-3-8b-instruct", body["model"])
		return `{"choices":[{"message":{"content":"Hello"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`
	}))

	w := doJSON(t, e, http.MethodPost, "/api/chat",
		`{"model":"llama-3-8b-instruct","stream":false,"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, w.Code)

	out := decode(t, w.Body.Bytes())
	assert.Equal(t, true, out["done"])
	assert.Equal(t, "stop", out["done_reason"])
	assert.Equal(t, "llama-3-8b-instruct", out["model"])
	msg := out["message"].(map[string]any)
	assert.Equal(t, "Hello", msg["content"])
	assert.Equal(t, float64(3), out["prompt_eval_count"])
	assert.Equal(t, float64(1), out["eval_count"])
}

func TestChatMissingMessages(t *testing.T) {
	e := setupTest(t, fakeUpstream(t, nil))

	w := doJSON(t, e, http.MethodPost, "/api/chat", `{"model":"llama-3-8b-instruct"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing 'messages' field", decode(t, w.Body.Bytes())["error"])
}

func TestChatUnknownModel(t *testing.T) {
	e := setupTest(t, fakeUpstream(t, nil))

	w := doJSON(t, e, http.MethodPost, "/api/chat",
		`{"model":"does-not-exist","stream":false,"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decode(t, w.Body.Bytes())["error"], "not found")
}

func TestChatInvalidFormat(t *testing.T) {
	e := setupTest(t, fakeUpstream(t, nil))

	w := doJSON(t, e, http.MethodPost, "/api/chat",
		`{"model":"llama-3-8b-instruct","format":"yaml","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w.Body.Bytes())["error"], "invalid format")
}

func TestChatAliasInjectsSystemPrompt(t *testing.T) {
	var gotMessages []any
	e := setupTest(t, fakeUpstream(t, func(body map[string]any) string {
		gotMessages = body["messages"].([]any)
		assert.Equal(t, "llama-3-8b-instruct", body["model"])
		return `{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`
	}))

	w := doJSON(t, e, http.MethodPost, "/api/create",
		`{"model":"pirate","from":"llama-3-8b-instruct","system":"Talk like a pirate.","stream":false}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, e, http.MethodPost, "/api/chat",
		`{"model":"pirate","stream":false,"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, gotMessages, 2)
	first := gotMessages[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	assert.Equal(t, "Talk like a pirate.", first["content"])
}

func TestChatOptionsSystemBecomesSystemMessage(t *testing.T) {
	var gotBody map[string]any
	e := setupTest(t, fakeUpstream(t, func(body map[string]any) string {
		gotBody = body
		return `{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`
	}))

	w := doJSON(t, e, http.MethodPost, "/api/chat",
		`{"model":"llama-3-8b-instruct","stream":false,
		  "options":{"system":"Be terse."},
		  "messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, w.Code)

	messages := gotBody["messages"].([]any)
	require.Len(t, messages, 2)
	first := messages[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	assert.Equal(t, "Be terse.", first["content"])
	assert.NotContains(t, gotBody, "system")
}

func TestGenerateStreaming(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(catalogJSON))
	})
	mux.HandleFunc("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"choices":[{"text":"Hel"}]}` + "\n\n"))
		w.Write([]byte(`data: {"choices":[{"text":"lo"}]}` + "\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	})
	e := setupTest(t, mux)

	w := doJSON(t, e, http.MethodPost, "/api/generate",
		`{"model":"llama-3-8b-instruct","prompt":"say hello"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 3)

	first := decode(t, []byte(lines[0]))
	assert.Equal(t, "Hel", first["response"])
	assert.Equal(t, false, first["done"])

	last := decode(t, []byte(lines[2]))
	assert.Equal(t, true, last["done"])
	assert.Equal(t, "stop", last["done_reason"])
	assert.Contains(t, last, "context")
}

func TestGenerateMissingPrompt(t *testing.T) {
	e := setupTest(t, fakeUpstream(t, nil))

	w := doJSON(t, e, http.MethodPost, "/api/generate", `{"model":"llama-3-8b-instruct"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing 'prompt' field", decode(t, w.Body.Bytes())["error"])
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	var calls []string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(catalogJSON))
	})
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		input := body["input"].(string)
		calls = append(calls, input)
		vec := "[1,0]"
		if input == "second" {
			vec = "[0,1]"
		}
		w.Write([]byte(`{"data":[{"embedding":` + vec + `}]}`))
	})
	e := setupTest(t, mux)

	w := doJSON(t, e, http.MethodPost, "/api/embed",
		`{"model":"nomic-embed-text","input":["first","second"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	out := decode(t, w.Body.Bytes())
	assert.Equal(t, []string{"first", "second"}, calls)
	vectors := out["embeddings"].([]any)
	require.Len(t, vectors, 2)
	assert.Equal(t, []any{float64(1), float64(0)}, vectors[0])
	assert.Equal(t, []any{float64(0), float64(1)}, vectors[1])
	assert.NotContains(t, out, "eval_count")
}

func TestEmbeddingsLegacyShape(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(catalogJSON))
	})
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"embedding":[0.5,0.5]}]}`))
	})
	e := setupTest(t, mux)

	w := doJSON(t, e, http.MethodPost, "/api/embeddings",
		`{"model":"nomic-embed-text","prompt":"hello"}`)
	require.Equal(t, http.StatusOK, w.Code)

	out := decode(t, w.Body.Bytes())
	assert.NotContains(t, out, "embeddings")
	assert.Equal(t, []any{0.5, 0.5}, out["embedding"])
}

func TestEmbeddingsRejectsArrayPrompt(t *testing.T) {
	e := setupTest(t, fakeUpstream(t, nil))

	w := doJSON(t, e, http.MethodPost, "/api/embeddings",
		`{"model":"nomic-embed-text","prompt":["one","two"]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w.Body.Bytes())["error"], "single string")
}

func TestEmbedMissingInput(t *testing.T) {
	e := setupTest(t, fakeUpstream(t, nil))

	w := doJSON(t, e, http.MethodPost, "/api/embed", `{"model":"nomic-embed-text"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing 'input' or 'prompt' field", decode(t, w.Body.Bytes())["error"])
}

func TestTagsListsModelsAndOrphanAliases(t *testing.T) {
	e := setupTest(t, fakeUpstream(t, nil))

	_, err := alias.Create("ghost", "gone-model", "gone-model-id", alias.Metadata{})
	require.NoError(t, err)

	w := doJSON(t, e, http.MethodGet, "/api/tags", "")
	require.Equal(t, http.StatusOK, w.Code)

	models := decode(t, w.Body.Bytes())["models"].([]any)
	var names []string
	for _, m := range models {
		names = append(names, m.(map[string]any)["name"].(string))
	}
	assert.Contains(t, names, "llama-3-8b-instruct:latest")
	assert.Contains(t, names, "nomic-embed-text:latest")
	assert.Contains(t, names, "ghost")
}

func TestPSListsOnlyLoaded(t *testing.T) {
	e := setupTest(t, fakeUpstream(t, nil))

	w := doJSON(t, e, http.MethodGet, "/api/ps", "")
	require.Equal(t, http.StatusOK, w.Code)

	models := decode(t, w.Body.Bytes())["models"].([]any)
	require.Len(t, models, 1)
	entry := models[0].(map[string]any)
	assert.Equal(t, "llama-3-8b-instruct:latest", entry["name"])
	assert.Contains(t, entry, "expires_at")
	assert.Equal(t, entry["size"], entry["size_vram"])
}

func TestShowIncludesCapabilities(t *testing.T) {
	e := setupTest(t, fakeUpstream(t, func(map[string]any) string {
		// Load hint ping may arrive here.
		return `{"choices":[]}`
	}))

	w := doJSON(t, e, http.MethodPost, "/api/show", `{"model":"llama-3-8b-instruct","keep_alive":0}`)
	require.Equal(t, http.StatusOK, w.Code)

	out := decode(t, w.Body.Bytes())
	caps := out["capabilities"].([]any)
	assert.Contains(t, caps, "completion")
	assert.Contains(t, out, "modelfile")
	assert.Contains(t, out, "model_info")
}

func TestVersion(t *testing.T) {
	e := setupTest(t, fakeUpstream(t, nil))

	w := doJSON(t, e, http.MethodGet, "/api/version", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, conf.OllamaVersion, decode(t, w.Body.Bytes())["version"])
}

func TestDeleteUnmanagedModelIs404(t *testing.T) {
	e := setupTest(t, fakeUpstream(t, nil))

	w := doJSON(t, e, http.MethodPost, "/api/delete", `{"model":"llama-3-8b-instruct"}`)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decode(t, w.Body.Bytes())["error"], "not managed by proxy")
}

func TestCreateDeleteRoundTrip(t *testing.T) {
	e := setupTest(t, fakeUpstream(t, nil))

	w := doJSON(t, e, http.MethodPost, "/api/create",
		`{"model":"mine","from":"llama-3-8b-instruct","stream":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w.Body.Bytes())
	assert.Equal(t, true, out["virtual"])
	assert.Equal(t, "llama-3-8b-instruct", out["target_model_id"])

	w = doJSON(t, e, http.MethodPost, "/api/create",
		`{"model":"mine","from":"llama-3-8b-instruct","stream":false}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w.Body.Bytes())["error"], "already exists")

	w = doJSON(t, e, http.MethodPost, "/api/delete", `{"model":"mine"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", decode(t, w.Body.Bytes())["status"])
}

func TestCreateFromBlobsNotImplemented(t *testing.T) {
	e := setupTest(t, fakeUpstream(t, nil))

	w := doJSON(t, e, http.MethodPost, "/api/create",
		`{"model":"custom","files":{"layer":"sha256:abc"}}`)
	require.Equal(t, http.StatusNotImplemented, w.Code)
	assert.Contains(t, decode(t, w.Body.Bytes())["error"], "not supported")
}

func TestPushIsNoOp(t *testing.T) {
	e := setupTest(t, fakeUpstream(t, nil))

	w := doJSON(t, e, http.MethodPost, "/api/push",
		`{"model":"llama-3-8b-instruct","stream":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w.Body.Bytes())
	assert.Equal(t, "success", out["status"])
	assert.Contains(t, out["detail"], "no-op")
}

func TestPullStreamsProgress(t *testing.T) {
	polls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(catalogJSON))
	})
	mux.HandleFunc("/api/v1/models/download", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "qwen/qwen3-8b", body["model"])
		w.Write([]byte(`{"job_id":"j1","status":"downloading","downloaded_bytes":0,"total_size_bytes":100}`))
	})
	mux.HandleFunc("/api/v1/models/download/status/j1", func(w http.ResponseWriter, r *http.Request) {
		polls++
		w.Write([]byte(`{"job_id":"j1","status":"completed","downloaded_bytes":100,"total_size_bytes":100}`))
	})
	e := setupTest(t, mux)

	w := doJSON(t, e, http.MethodPost, "/api/pull", `{"model":"qwen/qwen3-8b"}`)
	require.Equal(t, http.StatusOK, w.Code)

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	first := decode(t, []byte(lines[0]))
	assert.Equal(t, "downloading", first["status"])
	last := decode(t, []byte(lines[len(lines)-1]))
	assert.Equal(t, "success", last["status"])
	assert.Equal(t, 1, polls)
}

func TestPullExplicitSourceAndQuantization(t *testing.T) {
	var gotBody map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(catalogJSON))
	})
	mux.HandleFunc("/api/v1/models/download", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"job_id":"j2","status":"already_downloaded"}`))
	})
	e := setupTest(t, mux)

	w := doJSON(t, e, http.MethodPost, "/api/pull",
		`{"model":"whatever","source":"hf://org/custom-model","quantization":"Q8_0","stream":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hf://org/custom-model", gotBody["model"])
	assert.Equal(t, "Q8_0", gotBody["quantization"])
}

func TestPullSynthesizesPublisher(t *testing.T) {
	var gotModel string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(catalogJSON))
	})
	mux.HandleFunc("/api/v1/models/download", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotModel, _ = body["model"].(string)
		w.Write([]byte(`{"job_id":"j3","status":"already_downloaded"}`))
	})
	e := setupTest(t, mux)

	w := doJSON(t, e, http.MethodPost, "/api/pull",
		`{"model":"llama-3-8b-instruct","stream":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "meta/llama-3-8b-instruct", gotModel)
}

func TestPullUsesAliasDownloadSource(t *testing.T) {
	var gotModel string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(catalogJSON))
	})
	mux.HandleFunc("/api/v1/models/download", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotModel, _ = body["model"].(string)
		w.Write([]byte(`{"job_id":"j4","status":"already_downloaded"}`))
	})
	e := setupTest(t, mux)

	_, err := alias.Create("mirror", "llama-3-8b-instruct", "llama-3-8b-instruct",
		alias.Metadata{Parameters: map[string]any{"download_source": "hf://mirror/llama"}})
	require.NoError(t, err)

	w := doJSON(t, e, http.MethodPost, "/api/pull", `{"model":"mirror","stream":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hf://mirror/llama", gotModel)
}

func TestBlobRoundTrip(t *testing.T) {
	e := setupTest(t, fakeUpstream(t, nil))

	digest := "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

	w := doJSON(t, e, http.MethodHead, "/api/blobs/"+digest, "")
	require.Equal(t, http.StatusNotFound, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/blobs/"+digest, strings.NewReader("hello"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	w = doJSON(t, e, http.MethodHead, "/api/blobs/"+digest, "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestPassthroughRewritesModel(t *testing.T) {
	var gotModel string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(catalogJSON))
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotModel, _ = body["model"].(string)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"hi"}}]}`))
	})
	e := setupTest(t, mux)

	w := doJSON(t, e, http.MethodPost, "/v1/chat/completions",
		`{"model":"LLAMA-3-8B-INSTRUCT","messages":[{"role":"user","content":"hi"}],"stream":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "llama-3-8b-instruct", gotModel)
	assert.Contains(t, w.Body.String(), `"content":"hi"`)
}

func TestHealthReachable(t *testing.T) {
	e := setupTest(t, fakeUpstream(t, nil))

	w := doJSON(t, e, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	out := decode(t, w.Body.Bytes())
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, float64(2), out["models_known_to_lmstudio"])
}

func TestHeartbeat(t *testing.T) {
	e := setupTest(t, fakeUpstream(t, nil))

	w := doJSON(t, e, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Ollama is running", w.Body.String())
}
