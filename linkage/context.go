// Package linkage implements LinkageContext (spec §4.5): a per-revision,
// immutable-once-published symbol-resolution scope with filtered edges
// to dependencies, the host runtime, and the system, plus a local
// symbol cache.
package linkage

import (
	"fmt"
	"strings"
	"sync"

	"github.com/modkit/loader/loaderr"
	"github.com/modkit/loader/ordered"
)

// Symbol is a resolved linkage symbol. Value holds whatever the
// compiler or host runtime produced; Go callers type-assert it to the
// concrete type they expect.
type Symbol struct {
	Name  string
	Value any
}

// Initializer may be implemented by a Symbol's Value to receive a
// one-time side-effecting call when first resolved with
// mustInitialize = true.
type Initializer interface {
	Initialize() error
}

// Resolver is satisfied by the host runtime and system edges: a flat
// namespace the context can query by symbol name.
type Resolver interface {
	Resolve(name string) (Symbol, bool, error)
}

// ResolverFunc adapts a function to a Resolver.
type ResolverFunc func(name string) (Symbol, bool, error)

func (f ResolverFunc) Resolve(name string) (Symbol, bool, error) { return f(name) }

// LocalRoot is satisfied by the archive root and the per-module scratch
// directory: step 4 of resolution, consulted only locally (never
// delegated to a dependency), per spec §4.8 step (e).
type LocalRoot interface {
	// ResolveLocal returns the symbol at name if this root produced or
	// contains it.
	ResolveLocal(name string) (Symbol, bool, error)
}

// DependencyEdge is one declared dependency, bound to the dependency's
// currently-published Context, in declaration order (spec §3, §4.5).
type DependencyEdge struct {
	Name   string
	Target *Context
}

// Config holds everything needed to construct a Context. Filters that
// are nil or empty are unrestricted, per spec §4.5's filter semantics.
type Config struct {
	Name                string
	LocalRoots          []LocalRoot
	Dependencies        []DependencyEdge
	SystemEdge          Resolver
	HostRuntimeEdge      Resolver
	ImportFilter        *ordered.Set // this context's moduleImportFilter: what it accepts from dependencies/host
	ExportFilter        *ordered.Set // this context's moduleExportFilter: what it exposes to dependents
	AppImportFilter     *ordered.Set // this context's declared appImportFilter
	DefaultAppImports   *ordered.Set // loader-wide default, used when AppImportFilter is empty too
}

// Context is a published, immutable LinkageContext. Once returned from
// [New] its configuration never changes; an upgrade produces a new
// Context bound to a new revision (spec I4).
type Context struct {
	cfg Config

	mu    sync.Mutex
	cache map[string]*cacheEntry
}

type cacheEntry struct {
	symbol Symbol
	once   sync.Once
}

// New constructs a Context from cfg. It does not itself resolve
// anything; dependency edges must already point at their targets'
// currently-published Contexts (the loader builds those bottom-up,
// leaf-first, so this is always true by construction — spec §4.8 step
// 5b).
func New(cfg Config) *Context {
	return &Context{cfg: cfg, cache: make(map[string]*cacheEntry)}
}

// passesExportFilter reports whether slashName (already in slash form —
// see [DottedToSlash]) passes this context's export filter, for use by
// dependents delegating into this context.
func (c *Context) passesExportFilter(slashName string) bool {
	return c.cfg.ExportFilter.HasPrefixMatch(slashName)
}

// DottedToSlash converts a dotted symbol name (e.g. "com.acme.Foo") to
// the slash-path form filters are matched against (spec §4.5).
func DottedToSlash(name string) string {
	return strings.ReplaceAll(name, ".", "/")
}

// Resolve looks up name following the order specified in spec §4.5:
// local cache, the unfiltered system edge (core paths of the host
// runtime), the app-import-filtered host-runtime edge, dependency edges
// (each filtered by the dependency's export filter and this context's
// import filter), then local resource roots. A successful resolve
// populates the local cache. mustInitialize requests the one-time
// side-effecting call on first use (spec §4.5, §4.8 step 5e's cache
// priming).
func (c *Context) Resolve(name string, mustInitialize bool) (Symbol, error) {
	slashName := DottedToSlash(name)

	if entry, ok := c.getCached(name); ok {
		if mustInitialize {
			if err := initializeOnce(entry); err != nil {
				return Symbol{}, err
			}
		}
		return entry.symbol, nil
	}

	if c.cfg.SystemEdge != nil {
		if sym, ok, err := c.cfg.SystemEdge.Resolve(name); err != nil {
			return Symbol{}, fmt.Errorf("linkage: resolving %q via system edge: %w", name, err)
		} else if ok {
			return c.storeAndInit(name, sym, mustInitialize)
		}
	}

	if sym, ok, err := c.resolveHostRuntime(name, slashName); err != nil {
		return Symbol{}, err
	} else if ok {
		return c.storeAndInit(name, sym, mustInitialize)
	}

	for _, dep := range c.cfg.Dependencies {
		if !dep.Target.passesExportFilter(slashName) {
			continue
		}
		if !c.cfg.ImportFilter.HasPrefixMatch(slashName) {
			continue
		}
		sym, err := dep.Target.Resolve(name, mustInitialize)
		if err == nil {
			return c.storeAndInit(name, sym, false) // already initialized by the recursive call
		}
		if !isNotFound(err) {
			return Symbol{}, fmt.Errorf("linkage: resolving %q via dependency %q: %w", name, dep.Name, err)
		}
	}

	for _, root := range c.cfg.LocalRoots {
		if sym, ok, err := root.ResolveLocal(name); err != nil {
			return Symbol{}, fmt.Errorf("linkage: resolving %q locally in %q: %w", name, c.cfg.Name, err)
		} else if ok {
			return c.storeAndInit(name, sym, mustInitialize)
		}
	}

	return Symbol{}, notFoundError{name: name, context: c.cfg.Name}
}

func (c *Context) resolveHostRuntime(name, slashName string) (Symbol, bool, error) {
	if c.cfg.HostRuntimeEdge == nil {
		return Symbol{}, false, nil
	}
	effective := c.cfg.AppImportFilter
	if effective.Len() == 0 {
		effective = c.cfg.DefaultAppImports
	}
	if !effective.HasPrefixMatch(slashName) {
		return Symbol{}, false, nil
	}
	return c.cfg.HostRuntimeEdge.Resolve(name)
}

func (c *Context) getCached(name string) (*cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache[name]
	return e, ok
}

func (c *Context) storeAndInit(name string, sym Symbol, mustInitialize bool) (Symbol, error) {
	c.mu.Lock()
	entry, ok := c.cache[name]
	if !ok {
		entry = &cacheEntry{symbol: sym}
		c.cache[name] = entry
	}
	c.mu.Unlock()
	if mustInitialize {
		if err := initializeOnce(entry); err != nil {
			return Symbol{}, err
		}
	}
	return entry.symbol, nil
}

func initializeOnce(entry *cacheEntry) error {
	var initErr error
	entry.once.Do(func() {
		if init, ok := entry.symbol.Value.(Initializer); ok {
			initErr = init.Initialize()
		}
	})
	return initErr
}

type notFoundError struct {
	name    string
	context string
}

func (e notFoundError) Error() string {
	return fmt.Sprintf("linkage: %q not found in context %q", e.name, e.context)
}

func (notFoundError) Unwrap() error { return loaderr.NotFound }

func isNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}
