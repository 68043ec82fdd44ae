// Package registry implements RevisionRegistry (spec §4.6): the map of
// (name, sequence) -> LinkageContext that backs "latest" lookups
// and publishes the DependencyGraph snapshot the loader drains
// leaf-first.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/modkit/loader/graph"
	"github.com/modkit/loader/linkage"
	"github.com/modkit/loader/loaderr"
	"github.com/modkit/loader/modid"
)

// Spec is a to-be-loaded linkage specification: everything
// [Registry.AddSpec] needs to later materialize a [linkage.Context] via
// [Registry.Load]. Dependency
// resolution is deferred to load time because, within a batch, a
// dependency's own Context may not exist yet when its dependent's spec
// is first recorded (spec §4.8 step 5b/c).
type Spec struct {
	Tag          modid.RevisionTag
	Dependencies []string // names, not tags: always resolved against the registry's latest at load time
	Config       linkage.Config
}

// entry pairs a registered Spec with its materialized Context, once
// loaded. Context is nil between addSpec and load.
type entry struct {
	spec    Spec
	context *linkage.Context
}

// Registry is the concurrent-safe RevisionRegistry. Entries are held in
// an unordered map; [Registry.Tags] returns them in the name-asc/
// sequence-desc order.
type Registry struct {
	mu      sync.RWMutex
	entries map[modid.RevisionTag]*entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[modid.RevisionTag]*entry)}
}

// AddSpec registers spec under tag if not already present (spec I1:
// at most one entry per tag). Before inserting, it checks spec's
// declared dependencies against the current latest-revision graph and
// rejects one that would close a dependency cycle, surfaced as
// loaderr.LinkageFailure (spec §9's Design Notes: "the registry
// rejects adding an edge that would create a cycle"). Reports whether
// the insert happened.
func (r *Registry) AddSpec(tag modid.RevisionTag, spec Spec) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[tag]; ok {
		return false, nil
	}
	if dep := r.cyclicDependencyLocked(tag.Name, spec.Dependencies); dep != "" {
		return false, fmt.Errorf("registry: add %s: dependency %q is reachable from %s, which would close a cycle: %w", tag, dep, tag.Name, loaderr.LinkageFailure)
	}
	r.entries[tag] = &entry{spec: spec}
	return true, nil
}

// cyclicDependencyLocked returns the first name in deps that already
// depends (transitively, in the current latest-revision graph) on
// name, i.e. the first dependency adding name -> dep would close a
// cycle through. Returns "" if none do. name's own existing latest
// revision, if any, is excluded from the graph since it is about to be
// superseded by the spec being added.
func (r *Registry) cyclicDependencyLocked(name string, deps []string) string {
	g := r.latestGraphLocked(name)
	for _, d := range deps {
		if d == name {
			return d
		}
		for _, reached := range g.Reachable(d) {
			if reached == name {
				return d
			}
		}
	}
	return ""
}

// Load materializes the LinkageContext for tag, resolving each declared
// dependency to its own currently-registered Context. Fails with
// loaderr.LinkageFailure if any dependency has no registered, loaded
// Context at all — callers are responsible for loading dependencies
// leaf-first so this never happens in practice (spec §4.8 step 5).
func (r *Registry) Load(tag modid.RevisionTag) (*linkage.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[tag]
	if !ok {
		return nil, fmt.Errorf("registry: load %s: %w", tag, loaderr.NotFound)
	}
	if e.context != nil {
		return e.context, nil
	}

	cfg := e.spec.Config
	cfg.Dependencies = nil
	for _, depName := range e.spec.Dependencies {
		depTag, ok := r.latestLocked(depName)
		if !ok {
			return nil, fmt.Errorf("registry: load %s: dependency %q has no registered revision: %w", tag, depName, loaderr.LinkageFailure)
		}
		depEntry := r.entries[depTag]
		if depEntry == nil || depEntry.context == nil {
			return nil, fmt.Errorf("registry: load %s: dependency %q (%s) is not yet loaded: %w", tag, depName, depTag, loaderr.LinkageFailure)
		}
		cfg.Dependencies = append(cfg.Dependencies, linkage.DependencyEdge{Name: depName, Target: depEntry.context})
	}

	ctx := linkage.New(cfg)
	e.context = ctx
	return ctx, nil
}

// Unload removes tag's entry and spec entirely.
func (r *Registry) Unload(tag modid.RevisionTag) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, tag)
}

// UnloadAll removes every revision registered under name.
func (r *Registry) UnloadAll(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for tag := range r.entries {
		if tag.Name == name {
			delete(r.entries, tag)
		}
	}
}

// Latest returns the highest-sequence tag registered for name.
func (r *Registry) Latest(name string) (modid.RevisionTag, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latestLocked(name)
}

func (r *Registry) latestLocked(name string) (modid.RevisionTag, bool) {
	var best modid.RevisionTag
	found := false
	for tag := range r.entries {
		if tag.Name != name {
			continue
		}
		if !found || tag.Sequence > best.Sequence {
			best = tag
			found = true
		}
	}
	return best, found
}

// LatestMap returns every registered name mapped to its latest tag.
func (r *Registry) LatestMap() map[string]modid.RevisionTag {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]modid.RevisionTag)
	for tag := range r.entries {
		cur, ok := out[tag.Name]
		if !ok || tag.Sequence > cur.Sequence {
			out[tag.Name] = tag
		}
	}
	return out
}

// Tags returns every registered tag, sorted per the name-asc/
// sequence-desc ordering of spec §3.
func (r *Registry) Tags() []modid.RevisionTag {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]modid.RevisionTag, 0, len(r.entries))
	for tag := range r.entries {
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool { return modid.Compare(out[i], out[j]) < 0 })
	return out
}

// Graph builds a DependencyGraph from every (latest(name),
// dependencies-declared-by-that-latest) pair currently registered
// (spec I3, §4.6's graph()).
func (r *Registry) Graph() *graph.DependencyGraph {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latestGraphLocked("")
}

// latestGraphLocked builds a DependencyGraph from every (latest(name),
// dependencies-declared-by-that-latest) pair currently registered,
// except name's own latest revision, which is left out entirely
// (empty name excludes nothing). Used both by Graph and by the cycle
// check in AddSpec, which must reason about the graph as it will look
// once name's new spec supersedes its old one.
func (r *Registry) latestGraphLocked(exclude string) *graph.DependencyGraph {
	g := graph.New()
	latest := make(map[string]modid.RevisionTag)
	for tag := range r.entries {
		if tag.Name == exclude {
			continue
		}
		cur, ok := latest[tag.Name]
		if !ok || tag.Sequence > cur.Sequence {
			latest[tag.Name] = tag
		}
	}
	for name := range latest {
		g.AddVertices([]string{name})
	}
	for name, tag := range latest {
		e := r.entries[tag]
		g.AddOutgoing(name, e.spec.Dependencies)
	}
	return g
}
