package alias

import (
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain", "llama3", "llama3"},
		{"latest tag", "llama3:latest", "llama3"},
		{"numeric tag", "phi:3", "phi"},
		{"non numeric tag kept", "llama3:instruct", "llama3:instruct"},
		{"mixed tag kept", "llama3:7b", "llama3:7b"},
		{"leading colon kept", ":7", ":7"},
		{"latest then numeric", "phi:3:latest", "phi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalName(tt.in))
		})
	}
}

func TestStoreCreateGetDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), StoreFileName)
	require.NoError(t, Init(path))

	_, err := Create("my-llama:latest", "llama-3-8b", "llama-3-8b", Metadata{})
	require.NoError(t, err)

	got, ok := Get("my-llama")
	require.True(t, ok)
	assert.Equal(t, "my-llama:latest", got.Name)
	assert.Equal(t, "llama-3-8b", got.TargetModelID)

	_, ok = Get("my-llama:latest")
	assert.True(t, ok)

	_, err = Create("my-llama", "other", "other", Metadata{})
	require.Error(t, err)

	_, err = Delete("my-llama")
	require.NoError(t, err)
	_, ok = Get("my-llama")
	assert.False(t, ok)

	_, err = Delete("my-llama")
	require.Error(t, err)
}

func TestStorePersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), StoreFileName)
	require.NoError(t, Init(path))

	system := "you are terse"
	_, err := Create("terse", "llama-3-8b", "llama-3-8b", Metadata{SystemPrompt: &system})
	require.NoError(t, err)

	require.NoError(t, Init(path))
	got, ok := Get("terse")
	require.True(t, ok)
	require.NotNil(t, got.Metadata.SystemPrompt)
	assert.Equal(t, "you are terse", *got.Metadata.SystemPrompt)
}

func TestStoreKeepsUnknownFieldsOnRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), StoreFileName)
	seeded := `{"hand-edited":{"name":"hand-edited","source_model":"llama-3-8b","target_model_id":"llama-3-8b","created_at":"2025-01-02T03:04:05Z","updated_at":"2025-01-02T03:04:05Z","metadata":{},"future_field":{"keep":"me"}}}`
	require.NoError(t, os.WriteFile(path, []byte(seeded), 0o644))
	require.NoError(t, Init(path))

	_, err := Create("unrelated", "src", "src", Metadata{})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var stored map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &stored))

	require.Contains(t, stored, "hand-edited")
	assert.Equal(t, map[string]any{"keep": "me"}, stored["hand-edited"]["future_field"])
	assert.Equal(t, "llama-3-8b", stored["hand-edited"]["target_model_id"])
	require.Contains(t, stored, "unrelated")
}

func TestGenerationAdvancesOnMutation(t *testing.T) {
	path := filepath.Join(t.TempDir(), StoreFileName)
	require.NoError(t, Init(path))

	before := Generation()
	_, err := Create("gen-check", "src", "src", Metadata{})
	require.NoError(t, err)
	assert.Greater(t, Generation(), before)

	mid := Generation()
	_, err = Delete("gen-check")
	require.NoError(t, err)
	assert.Greater(t, Generation(), mid)
}

func TestBuildMetadataMergesOverBase(t *testing.T) {
	baseSystem := "base"
	base := Metadata{SystemPrompt: &baseSystem, Parameters: map[string]any{"temperature": 0.2}}

	md := BuildMetadata(map[string]any{
		"system":   "override",
		"template": "{{ .Prompt }}",
	}, &base)

	require.NotNil(t, md.SystemPrompt)
	assert.Equal(t, "override", *md.SystemPrompt)
	require.NotNil(t, md.Template)
	assert.Equal(t, "{{ .Prompt }}", *md.Template)
	assert.Equal(t, map[string]any{"temperature": 0.2}, md.Parameters)
}
