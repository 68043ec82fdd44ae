// Package loader implements ModuleLoader (spec §4.8) — the heart of
// the system: leaf-first compilation with cascading relink of
// dependents, serialized over a single mutex (spec §5).
package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/modkit/loader/archive"
	"github.com/modkit/loader/compiler"
	"github.com/modkit/loader/events"
	"github.com/modkit/loader/linkage"
	"github.com/modkit/loader/loaderr"
	"github.com/modkit/loader/modid"
	"github.com/modkit/loader/ordered"
	"github.com/modkit/loader/registry"
)

// Module is the published view of a LinkageContext (spec §3).
type Module struct {
	ModuleId      modid.ModuleId
	RevisionTag   modid.RevisionTag
	Context       *linkage.Context
	CreatedAtMs   int64
	SourceArchive *archive.Archive
}

// ErrPluginPermanent is returned by RemoveModule when asked to remove a
// name registered as a compiler plugin (spec §4.7: "their
// LinkageContexts are kept permanently"). Use RetireCompilerPlugin
// instead.
var ErrPluginPermanent = errors.New("loader: compiler plugin revisions are permanent; use RetireCompilerPlugin")

// Config configures a Loader.
type Config struct {
	ScratchRoot       string
	DefaultAppImports *ordered.Set
	SystemEdge        linkage.Resolver
	Compilers         *compiler.Dispatch
	Logger            *logrus.Entry
}

// Loader is ModuleLoader: the single entry point through which
// archives are ingested, compiled, published, and cascaded to
// dependents.
type Loader struct {
	mu sync.Mutex

	cfg      Config
	registry *registry.Registry
	bus      *events.Bus
	logger   *logrus.Entry

	sequence atomic.Int64

	modulesMu      sync.RWMutex
	modules        map[string]Module // name -> published module
	compilerPlugin map[string]bool   // names registered via AddCompilerPlugin
}

// New builds a Loader. bus is the ListenerBus updates are published to.
func New(cfg Config, bus *events.Bus) *Loader {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Loader{
		cfg:            cfg,
		registry:       registry.New(),
		bus:            bus,
		logger:         logger.WithField("component", "loader"),
		modules:        make(map[string]Module),
		compilerPlugin: make(map[string]bool),
	}
}

// Get returns the currently-published Module for name. It does not take
// the loader mutex, only the modules map's read lock, so it does not
// wait for an in-progress Update.
func (l *Loader) Get(name string) (Module, bool) {
	l.modulesMu.RLock()
	defer l.modulesMu.RUnlock()
	m, ok := l.modules[name]
	return m, ok
}

// ListAll returns every currently-published Module.
func (l *Loader) ListAll() []Module {
	l.modulesMu.RLock()
	defer l.modulesMu.RUnlock()
	out := make([]Module, 0, len(l.modules))
	for _, m := range l.modules {
		out = append(out, m)
	}
	return out
}

// candidate is a provisional (archive, newTag, declared-deps) tuple
// working its way through one update() batch.
type candidate struct {
	archive *archive.Archive
	tag     modid.RevisionTag
	deps    []string
}

// Update implements spec §4.8's six-step algorithm. It takes and holds
// the loader mutex for its entire duration; concurrent callers are
// serialized (spec §5).
func (l *Loader) Update(candidates []*archive.Archive) {
	l.mu.Lock()
	defer l.mu.Unlock()

	batchId := uuid.New().String()
	seq := l.sequence.Add(1)
	log := l.logger.WithField("batch_id", batchId).WithField("sequence", seq)

	// Step 2: filter stale candidates.
	latestMap := l.registry.LatestMap()
	accepted := make(map[string]candidate)
	for _, a := range candidates {
		name := a.Descriptor.ModuleId.Name
		if existing, ok := l.Get(name); ok && existing.CreatedAtMs > a.CreatedAtMs {
			log.WithField("module", name).Warn("rejecting candidate: a newer archive is already published")
			l.emitRejected(batchId, a, loaderr.HigherRevisionAvailable, nil)
			continue
		}
		deps := make([]string, 0)
		for _, d := range a.Descriptor.Dependencies() {
			deps = append(deps, d.Name)
		}
		accepted[name] = candidate{archive: a, tag: modid.NewRevision(a.Descriptor.ModuleId, seq), deps: deps}
	}
	if len(accepted) == 0 {
		log.Debug("update: no candidates accepted")
		return
	}

	// Step 3: provisional specs, overlaying the working latestMap.
	for name, c := range accepted {
		latestMap[name] = c.tag
	}

	// Step 4: candidate graph — current graph with candidates swapped in.
	g := l.registry.Graph()
	alternates := make(map[string][]string, len(accepted))
	for name, c := range accepted {
		alternates[name] = c.deps
	}
	skipped := g.Swap(alternates)
	skippedSet := make(map[string]bool, len(skipped))
	for _, name := range skipped {
		skippedSet[name] = true
		log.WithField("module", name).Info("candidate's dependencies are not yet satisfiable; deferring to a later update")
	}

	// Step 5: leaf-first loop. A dependent is cascaded into the batch at
	// most once: the moment it's added to accepted, later iterations see
	// it there and skip re-scheduling it.
	for {
		leaves := g.Leaves()
		if len(leaves) == 0 {
			break
		}
		for _, name := range leaves {
			c, isCandidate := accepted[name]
			if !isCandidate || skippedSet[name] {
				continue
			}
			dependents := g.Incoming(name)
			if l.processLeaf(batchId, seq, log, c, latestMap) {
				for _, dep := range dependents {
					if _, already := accepted[dep]; already {
						continue
					}
					src, ok := l.sourceArchive(dep)
					if !ok {
						continue
					}
					newTag := modid.NewRevision(src.Descriptor.ModuleId, seq)
					var deps []string
					for _, d := range src.Descriptor.Dependencies() {
						deps = append(deps, d.Name)
					}
					accepted[dep] = candidate{archive: src, tag: newTag, deps: deps}
					latestMap[dep] = newTag
					g.Swap(map[string][]string{dep: deps})
					log.WithField("module", dep).Info("cascading relink: dependency was updated")
				}
			}
		}
		g.RemoveVertices(leaves)
	}
	log.WithField("accepted", len(accepted)).Info("update batch complete")
}

// processLeaf runs step 5's sub-steps (a)-(f) for one candidate leaf.
// Returns whether it was successfully published (gating whether its
// dependents get cascaded).
func (l *Loader) processLeaf(batchId string, seq int64, log *logrus.Entry, c candidate, latestMap map[string]modid.RevisionTag) bool {
	name := c.archive.Descriptor.ModuleId.Name
	clog := log.WithField("module", name).WithField("revision", c.tag.String())

	// (a) scratch directory.
	scratchDir := filepath.Join(l.cfg.ScratchRoot, formatTag(c.tag))
	if err := os.RemoveAll(scratchDir); err != nil {
		clog.WithError(err).Warn("failed clearing prior scratch directory")
	}
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		clog.WithError(err).Error("failed allocating scratch directory")
		l.emitRejected(batchId, c.archive, loaderr.ArchiveIoException, err)
		return false
	}

	// (b) provisional LinkageContext spec, resolving deps via latestMap.
	spec := registry.Spec{
		Tag:          c.tag,
		Dependencies: c.deps,
		Config: linkage.Config{
			Name:              name,
			LocalRoots:        []linkage.LocalRoot{rootAdapter{c.archive.Root}, scratchRoot{scratchDir}},
			SystemEdge:        l.cfg.SystemEdge,
			ImportFilter:      c.archive.Descriptor.ModuleImportFilter,
			ExportFilter:      c.archive.Descriptor.ModuleExportFilter,
			AppImportFilter:   c.archive.Descriptor.AppImportFilter,
			DefaultAppImports: l.cfg.DefaultAppImports,
		},
	}

	// (c) register and load.
	if _, err := l.registry.AddSpec(c.tag, spec); err != nil {
		clog.WithError(err).Warn("linkage failure")
		os.RemoveAll(scratchDir)
		l.emitRejected(batchId, c.archive, loaderr.LinkageFailure, err)
		return false
	}
	ctx, err := l.registry.Load(c.tag)
	if err != nil {
		clog.WithError(err).Warn("linkage failure")
		l.registry.Unload(c.tag)
		os.RemoveAll(scratchDir)
		l.emitRejected(batchId, c.archive, loaderr.LinkageFailure, err)
		return false
	}

	// (d) compile.
	symbols, err := l.cfg.Compilers.Compile(c.archive, ctx, scratchDir)
	if err != nil {
		clog.WithError(err).Warn("compile failure")
		l.registry.Unload(c.tag)
		os.RemoveAll(scratchDir)
		l.emitRejected(batchId, c.archive, loaderr.CompileFailure, err)
		return false
	}

	// (e) prime local cache with produced symbols. Each one is resolved
	// through the context's full resolution order, so a name that the
	// system, host-runtime or a dependency edge also provides is cached
	// from that edge, not from this module's own roots.
	for _, sym := range symbols {
		if _, err := ctx.Resolve(sym, true); err != nil && !errors.Is(err, loaderr.NotFound) {
			clog.WithError(err).WithField("symbol", sym).Warn("failed priming symbol cache")
		}
	}

	// (f) publish.
	oldModule, hadOld := l.Get(name)
	newModule := Module{
		ModuleId:      c.archive.Descriptor.ModuleId,
		RevisionTag:   c.tag,
		Context:       ctx,
		CreatedAtMs:   c.archive.CreatedAtMs,
		SourceArchive: c.archive,
	}
	if hadOld {
		l.registry.Unload(oldModule.RevisionTag)
		if err := os.RemoveAll(filepath.Join(l.cfg.ScratchRoot, formatTag(oldModule.RevisionTag))); err != nil {
			clog.WithError(err).Debug("failed cleaning up displaced revision's scratch directory")
		}
	}
	l.modulesMu.Lock()
	l.modules[name] = newModule
	l.modulesMu.Unlock()

	clog.WithField("symbols", len(symbols)).WithField("scratch_bytes", humanize.Bytes(uint64(dirSize(scratchDir)))).Info("published module")

	var oldEv events.Module
	if hadOld {
		oldEv = moduleToEvent(oldModule)
	}
	l.bus.ModuleUpdated(events.ModuleUpdated{BatchId: batchId, New: moduleToEvent(newModule), Old: oldEv})
	return true
}

// RemoveModule unloads every revision of name, removes it from the
// latest map, and emits a terminal ModuleUpdated(nil, oldLatest).
// Returns ErrPluginPermanent if name is a registered compiler plugin.
func (l *Loader) RemoveModule(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.compilerPlugin[name] {
		return ErrPluginPermanent
	}

	old, ok := l.Get(name)
	if !ok {
		return nil
	}
	l.registry.UnloadAll(name)
	l.modulesMu.Lock()
	delete(l.modules, name)
	l.modulesMu.Unlock()
	os.RemoveAll(filepath.Join(l.cfg.ScratchRoot, formatTag(old.RevisionTag)))

	l.logger.WithField("module", name).Info("module removed")
	l.bus.ModuleUpdated(events.ModuleUpdated{New: events.Module{}, Old: moduleToEvent(old)})
	return nil
}

// AddCompilerPlugin publishes a compiler plugin module following the
// same compile-and-publish path as Update, then marks its name
// permanent (spec §4.7).
func (l *Loader) AddCompilerPlugin(a *archive.Archive) {
	l.Update([]*archive.Archive{a})
	l.mu.Lock()
	l.compilerPlugin[a.Descriptor.ModuleId.Name] = true
	l.mu.Unlock()
}

// RetireCompilerPlugin lifts the permanence guard so a plugin's
// revisions can finally be removed via RemoveModule (spec SPEC_FULL.md
// "Compiler-plugin permanence").
func (l *Loader) RetireCompilerPlugin(name string) {
	l.mu.Lock()
	delete(l.compilerPlugin, name)
	l.mu.Unlock()
}

func (l *Loader) sourceArchive(name string) (*archive.Archive, bool) {
	m, ok := l.Get(name)
	if !ok {
		return nil, false
	}
	return m.SourceArchive, true
}

func (l *Loader) emitRejected(batchId string, a *archive.Archive, reason loaderr.Kind, cause error) {
	l.bus.ArchiveRejected(events.ArchiveRejected{
		BatchId:  batchId,
		Archive:  a,
		ModuleId: a.Descriptor.ModuleId,
		Reason:   string(reason),
		Cause:    cause,
	})
}

func moduleToEvent(m Module) events.Module {
	return events.Module{
		ModuleId:       m.ModuleId,
		RevisionTag:    m.RevisionTag,
		LinkageContext: m.Context,
		CreatedAtMs:    m.CreatedAtMs,
		SourceArchive:  m.SourceArchive,
	}
}

func formatTag(t modid.RevisionTag) string {
	return fmt.Sprintf("%s@%d", t.Name, t.Sequence)
}

func dirSize(dir string) int64 {
	var total int64
	filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}

// rootAdapter exposes an archive.Root's entries as linkage.LocalRoot's
// flat symbol namespace: a name resolves to the entry whose path, minus
// extension, equals the name with its dots replaced by slashes.
type rootAdapter struct {
	root archive.Root
}

func (a rootAdapter) ResolveLocal(name string) (linkage.Symbol, bool, error) {
	entries, err := a.root.Entries()
	if err != nil {
		return linkage.Symbol{}, false, err
	}
	want := linkage.DottedToSlash(name)
	for _, e := range entries {
		if entryToSlashName(e) == want {
			return linkage.Symbol{Name: name, Value: e}, true, nil
		}
	}
	return linkage.Symbol{}, false, nil
}

func entryToSlashName(entry string) string {
	ext := filepath.Ext(entry)
	return entry[:len(entry)-len(ext)]
}

// scratchRoot exposes per-module compiled outputs as a linkage.LocalRoot:
// a compiler that writes foo/bar.out to scratchDir makes "foo.bar"
// resolvable.
type scratchRoot struct {
	dir string
}

func (s scratchRoot) ResolveLocal(name string) (linkage.Symbol, bool, error) {
	want := linkage.DottedToSlash(name)
	full := filepath.Join(s.dir, filepath.FromSlash(want))
	if info, err := os.Stat(full); err == nil && !info.IsDir() {
		return linkage.Symbol{Name: name, Value: full}, true, nil
	}
	matches, _ := filepath.Glob(full + ".*")
	if len(matches) > 0 {
		return linkage.Symbol{Name: name, Value: matches[0]}, true, nil
	}
	return linkage.Symbol{}, false, nil
}

