package alias

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/samber/lo"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/proxyerr"
)

// StoreFileName is the on-disk name of the alias store inside the cache
// directory.
const StoreFileName = "virtual_models.json"

// Metadata carries the Modelfile-style fields attached to an alias.
type Metadata struct {
	SystemPrompt *string `json:"system_prompt,omitempty"`
	Template     *string `json:"template,omitempty"`
	Parameters   any     `json:"parameters,omitempty"`
	License      any     `json:"license,omitempty"`
	Adapters     any     `json:"adapters,omitempty"`
	Messages     []any   `json:"messages,omitempty"`
}

// Entry is one persisted alias. SourceModel is the name the alias was created
// from; TargetModelID is the upstream id it resolved to at creation time.
type Entry struct {
	Name          string    `json:"name"`
	SourceModel   string    `json:"source_model"`
	TargetModelID string    `json:"target_model_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Metadata      Metadata  `json:"metadata"`
}

func (e *Entry) ToResponse() map[string]any {
	return map[string]any{
		"status":          "success",
		"model":           e.Name,
		"virtual":         true,
		"source_model":    e.SourceModel,
		"target_model_id": e.TargetModelID,
		"created_at":      e.CreatedAt.Format(time.RFC3339),
		"updated_at":      e.UpdatedAt.Format(time.RFC3339),
	}
}

var (
	storePath  string
	storeLock  sync.RWMutex
	entries    map[string]Entry
	extras     map[string]map[string]any
	generation atomic.Uint64
)

// Init loads the alias store from disk, creating the directory when missing.
// An unreadable or corrupt file starts the store empty rather than failing
// startup. Fields the proxy does not model are kept aside per entry and
// written back verbatim, so other writers of the file lose nothing.
func Init(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	loaded := make(map[string]Entry)
	kept := make(map[string]map[string]any)
	if raw, err := os.ReadFile(path); err == nil && len(raw) > 0 {
		var rawEntries map[string]json.RawMessage
		if uerr := json.Unmarshal(raw, &rawEntries); uerr == nil {
			for key, rawEntry := range rawEntries {
				var entry Entry
				if json.Unmarshal(rawEntry, &entry) != nil {
					continue
				}
				loaded[key] = entry
				if extra := unknownFields(rawEntry, entry); extra != nil {
					kept[key] = extra
				}
			}
		}
	} else if err != nil && !os.IsNotExist(err) {
		return err
	}

	storeLock.Lock()
	storePath = path
	entries = loaded
	extras = kept
	storeLock.Unlock()
	generation.Add(1)
	return nil
}

// unknownFields returns the top-level keys of a stored entry that Entry does
// not model.
func unknownFields(raw json.RawMessage, entry Entry) map[string]any {
	var all map[string]any
	if json.Unmarshal(raw, &all) != nil {
		return nil
	}
	modeled, err := json.Marshal(entry)
	if err != nil {
		return nil
	}
	var modeledMap map[string]any
	if json.Unmarshal(modeled, &modeledMap) != nil {
		return nil
	}
	for k := range modeledMap {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil
	}
	return all
}

// Generation increments on every mutation. Resolver cache entries stamped
// with an older generation are treated as stale.
func Generation() uint64 {
	return generation.Load()
}

// Get looks up an alias by any spelling of its name.
func Get(name string) (Entry, bool) {
	storeLock.RLock()
	defer storeLock.RUnlock()
	e, ok := entries[CanonicalName(name)]
	return e, ok
}

// List returns all aliases, unordered.
func List() []Entry {
	storeLock.RLock()
	defer storeLock.RUnlock()
	return lo.Values(entries)
}

// Create registers a new alias. The name must not collide with an existing
// alias under canonical comparison.
func Create(name, sourceModel, targetModelID string, md Metadata) (Entry, error) {
	key := CanonicalName(name)

	storeLock.Lock()
	defer storeLock.Unlock()

	if _, exists := entries[key]; exists {
		return Entry{}, proxyerr.InvalidRequest("model '%s' already exists", name)
	}

	now := time.Now().UTC()
	entry := Entry{
		Name:          name,
		SourceModel:   sourceModel,
		TargetModelID: targetModelID,
		CreatedAt:     now,
		UpdatedAt:     now,
		Metadata:      md,
	}
	entries[key] = entry
	if err := persistLocked(); err != nil {
		delete(entries, key)
		return Entry{}, err
	}
	generation.Add(1)
	return entry, nil
}

// Delete removes an alias, failing when the name is not managed here.
func Delete(name string) (Entry, error) {
	key := CanonicalName(name)

	storeLock.Lock()
	defer storeLock.Unlock()

	removed, ok := entries[key]
	if !ok {
		return Entry{}, proxyerr.NotFound("model '%s' not managed by proxy", name)
	}
	removedExtra := extras[key]
	delete(entries, key)
	delete(extras, key)
	if err := persistLocked(); err != nil {
		entries[key] = removed
		if removedExtra != nil {
			extras[key] = removedExtra
		}
		return Entry{}, err
	}
	generation.Add(1)
	return removed, nil
}

// persistLocked writes the store through a temp file so a crash mid-write
// never truncates the existing file. Unmodeled fields loaded at Init are
// merged back into each entry. Caller holds the write lock.
func persistLocked() error {
	out := make(map[string]any, len(entries))
	for key, entry := range entries {
		modeled, err := json.Marshal(entry)
		if err != nil {
			return proxyerr.Internal("serialize alias store: %v", err)
		}
		var m map[string]any
		if err := json.Unmarshal(modeled, &m); err != nil {
			return proxyerr.Internal("serialize alias store: %v", err)
		}
		for k, v := range extras[key] {
			if _, shadowed := m[k]; !shadowed {
				m[k] = v
			}
		}
		out[key] = m
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return proxyerr.Internal("serialize alias store: %v", err)
	}
	tmp := storePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return proxyerr.Internal("write %s: %v", tmp, err)
	}
	if err := os.Rename(tmp, storePath); err != nil {
		os.Remove(tmp)
		return proxyerr.Internal("replace %s: %v", storePath, err)
	}
	return nil
}

// BuildMetadata merges Modelfile-style fields from a create or copy request
// body over an optional base metadata.
func BuildMetadata(body map[string]any, base *Metadata) Metadata {
	var md Metadata
	if base != nil {
		md = *base
	}
	if s, ok := body["system"].(string); ok {
		md.SystemPrompt = &s
	}
	if t, ok := body["template"].(string); ok {
		md.Template = &t
	}
	if p, ok := body["parameters"]; ok {
		md.Parameters = p
	}
	if l, ok := body["license"]; ok {
		md.License = l
	}
	if a, ok := body["adapters"]; ok {
		md.Adapters = a
	}
	if m, ok := body["messages"].([]any); ok {
		md.Messages = m
	}
	return md
}
