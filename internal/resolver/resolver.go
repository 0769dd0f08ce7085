// Package resolver maps client-facing Ollama model names onto the identifiers
// LM Studio accepts. Aliases win over the upstream catalog, and positive
// results are cached with a TTL.
package resolver

import (
	"context"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/samber/lo"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/alias"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/lmstudio"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/proxyerr"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/utils/log"
)

type cachedResolution struct {
	id  string
	gen uint64
}

var resolutions *gocache.Cache

// Init sizes the resolution cache. A zero TTL keeps entries until an alias
// store mutation invalidates them.
func Init(ttl time.Duration) {
	if ttl <= 0 {
		resolutions = gocache.New(gocache.NoExpiration, 0)
		return
	}
	resolutions = gocache.New(ttl, 2*ttl)
}

// Resolve returns the upstream identifier for a client-facing name. Cached
// entries are only honored while the alias store generation they were stamped
// with is still current.
func Resolve(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", proxyerr.InvalidRequest("Missing 'model' field")
	}

	gen := alias.Generation()
	if resolutions != nil {
		if v, ok := resolutions.Get(name); ok {
			entry := v.(cachedResolution)
			if entry.gen == gen {
				return entry.id, nil
			}
			resolutions.Delete(name)
		}
	}

	if entry, ok := alias.Get(name); ok {
		store(name, entry.TargetModelID, gen)
		return entry.TargetModelID, nil
	}

	models, err := lmstudio.ListModels(ctx)
	if err != nil {
		return "", err
	}
	id, ok := MatchCatalog(name, models)
	if !ok {
		return "", proxyerr.NotFound("model '%s' not found", name)
	}

	if id != name {
		log.Debugf("resolved model %q to %q", name, id)
	}
	store(name, id, gen)
	return id, nil
}

// ResolveTarget resolves a name and also returns the alias entry when the
// name is a managed alias, so callers can merge its metadata.
func ResolveTarget(ctx context.Context, name string) (string, *alias.Entry, error) {
	var entry *alias.Entry
	if e, ok := alias.Get(name); ok {
		entry = &e
	}
	id, err := Resolve(ctx, name)
	if err != nil {
		return "", nil, err
	}
	return id, entry, nil
}

func store(name, id string, gen uint64) {
	if resolutions == nil {
		return
	}
	resolutions.SetDefault(name, cachedResolution{id: id, gen: gen})
}

// MatchCatalog walks the normalization ladder against the catalog. Each level
// is tried in order and the first level with any match wins; within a level,
// loaded models are preferred, then the shortest identifier.
func MatchCatalog(name string, models []lmstudio.ModelInfo) (string, bool) {
	levels := []func(requested, id string) bool{
		func(requested, id string) bool { return id == requested },
		func(requested, id string) bool { return strings.EqualFold(id, requested) },
		func(requested, id string) bool {
			return strings.EqualFold(stripSuffix(id, ":"), stripSuffix(requested, ":"))
		},
		func(requested, id string) bool {
			return strings.EqualFold(stripSuffix(id, "@"), stripSuffix(requested, "@"))
		},
		func(requested, id string) bool {
			segment := id
			if slash := strings.LastIndex(id, "/"); slash >= 0 {
				segment = id[slash+1:]
			}
			return strings.HasPrefix(strings.ToLower(segment), strings.ToLower(stripSuffix(requested, ":")))
		},
	}

	for _, match := range levels {
		candidates := lo.Filter(models, func(m lmstudio.ModelInfo, _ int) bool {
			return match(name, m.ID)
		})
		if len(candidates) == 0 {
			continue
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].Loaded != candidates[j].Loaded {
				return candidates[i].Loaded
			}
			return len(candidates[i].ID) < len(candidates[j].ID)
		})
		return candidates[0].ID, true
	}
	return "", false
}

// stripSuffix drops everything from the last occurrence of sep onward, but
// never empties the name.
func stripSuffix(name, sep string) string {
	if pos := strings.LastIndex(name, sep); pos > 0 {
		return name[:pos]
	}
	return name
}
