// Package fsrepo implements a directory-of-archives ArchiveRepository
// (spec §4.9), suitable for local development and the cmd/modloaderd
// demo binary. Sharding, content hashing, and sidecar writes follow the
// teacher's mod/modcache conventions (lockedfile-guarded atomic
// writes); shard listing is parallelized with golang.org/x/sync/errgroup.
package fsrepo

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rogpeppe/go-internal/lockedfile"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/modkit/loader/archive"
	"github.com/modkit/loader/descriptor"
	"github.com/modkit/loader/modid"
	"github.com/modkit/loader/repository"
)

const hashSidecarSuffix = ".sha1"

var _ repository.ArchiveRepository = (*Repository)(nil)

// Repository is a directory-of-archives ArchiveRepository. Every
// archive lives under dir/<shard>/<entryName>/ as a plain directory
// tree, with a dir/<shard>/<entryName>.sha1 sidecar carrying its
// content hash.
type Repository struct {
	dir        string
	shardCount int
	codec      descriptor.Codec
	logger     *logrus.Entry

	watchMu    sync.RWMutex
	lastUpdate map[modid.ModuleId]int64 // refreshed by the optional fsnotify watcher
	watcher    *fsnotify.Watcher
	stopWatch  chan struct{}
}

// New builds a Repository rooted at dir with shardCount shards,
// creating shard subdirectories if absent.
func New(dir string, shardCount int, logger *logrus.Entry) (*Repository, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	for shard := 0; shard < shardCount; shard++ {
		if err := os.MkdirAll(filepath.Join(dir, strconv.Itoa(shard)), 0o755); err != nil {
			return nil, fmt.Errorf("fsrepo: create shard dir: %w", err)
		}
	}
	return &Repository{
		dir:        dir,
		shardCount: shardCount,
		codec:      descriptor.Codec{},
		logger:     logger.WithField("component", "fsrepo"),
		lastUpdate: make(map[modid.ModuleId]int64),
	}, nil
}

func entryName(id modid.ModuleId, updateTime int64) string {
	safe := strings.ReplaceAll(modid.Format(id), "/", "_")
	return fmt.Sprintf("%s-%d", safe, updateTime)
}

func (r *Repository) shardDir(id modid.ModuleId) string {
	return filepath.Join(r.dir, strconv.Itoa(repository.ShardOf(id, r.shardCount)))
}

// Insert copies a's entries into the repository and writes a
// lockedfile-guarded sidecar carrying its SHA-1 (spec §4.9 "content
// integrity").
func (r *Repository) Insert(ctx context.Context, a *archive.Archive) error {
	id := a.Descriptor.ModuleId
	dest := filepath.Join(r.shardDir(id), entryName(id, a.CreatedAtMs))
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("fsrepo: clearing prior entry: %w", err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("fsrepo: create entry dir: %w", err)
	}

	entries, err := a.Root.Entries()
	if err != nil {
		return fmt.Errorf("fsrepo: enumerate entries: %w", err)
	}
	for _, e := range entries {
		if err := r.copyEntry(a, e, filepath.Join(dest, filepath.FromSlash(e))); err != nil {
			return err
		}
	}

	hash, err := a.Hash()
	if err != nil {
		return fmt.Errorf("fsrepo: hash: %w", err)
	}
	if err := writeSidecar(dest+hashSidecarSuffix, hash); err != nil {
		return err
	}

	r.logger.WithField("module", id.String()).WithField("shard", repository.ShardOf(id, r.shardCount)).Info("inserted archive")
	return nil
}

func (r *Repository) copyEntry(a *archive.Archive, entry, dest string) error {
	rc, err := a.Root.Open(entry)
	if err != nil {
		return fmt.Errorf("fsrepo: open %s: %w", entry, err)
	}
	defer rc.Close()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("fsrepo: mkdir for %s: %w", entry, err)
	}
	w, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("fsrepo: create %s: %w", entry, err)
	}
	defer w.Close()
	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("fsrepo: copy %s: %w", entry, err)
	}
	return nil
}

func writeSidecar(path string, hash [20]byte) error {
	unlock, err := lockedfile.MutexAt(path + ".lock").Lock()
	if err != nil {
		return fmt.Errorf("fsrepo: locking sidecar write: %w", err)
	}
	defer unlock()
	if err := lockedfile.Write(path, strings.NewReader(fmt.Sprintf("%x", hash)), 0o644); err != nil {
		return fmt.Errorf("fsrepo: write sidecar: %w", err)
	}
	return nil
}

func readSidecar(path string) ([20]byte, error) {
	var out [20]byte
	data, err := lockedfile.Read(path)
	if err != nil {
		return out, err
	}
	decoded := strings.TrimSpace(string(data))
	if len(decoded) != 40 {
		return out, fmt.Errorf("fsrepo: malformed sidecar %s", path)
	}
	for i := 0; i < 20; i++ {
		var b int
		if _, err := fmt.Sscanf(decoded[i*2:i*2+2], "%02x", &b); err != nil {
			return out, fmt.Errorf("fsrepo: malformed sidecar %s: %w", path, err)
		}
		out[i] = byte(b)
	}
	return out, nil
}

// Delete removes every stored entry for id, across whichever shard it
// hashes to.
func (r *Repository) Delete(ctx context.Context, id modid.ModuleId) error {
	shard := r.shardDir(id)
	prefix := strings.ReplaceAll(modid.Format(id), "/", "_") + "-"
	infos, err := os.ReadDir(shard)
	if err != nil {
		return fmt.Errorf("fsrepo: read shard dir: %w", err)
	}
	for _, info := range infos {
		if strings.HasPrefix(info.Name(), prefix) && !strings.HasSuffix(info.Name(), hashSidecarSuffix) {
			if err := os.RemoveAll(filepath.Join(shard, info.Name())); err != nil {
				return fmt.Errorf("fsrepo: delete %s: %w", info.Name(), err)
			}
			os.Remove(filepath.Join(shard, info.Name()+hashSidecarSuffix))
			os.Remove(filepath.Join(shard, info.Name()+hashSidecarSuffix+".lock"))
		}
	}
	r.watchMu.Lock()
	delete(r.lastUpdate, id)
	r.watchMu.Unlock()
	return nil
}

// shardEntry is one decoded <name>-<updateTime> directory within a shard.
type shardEntry struct {
	shard      int
	id         modid.ModuleId
	updateTime int64
	dir        string
}

func (r *Repository) scanShard(shard int) ([]shardEntry, error) {
	dir := filepath.Join(r.dir, strconv.Itoa(shard))
	infos, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("fsrepo: scan shard %d: %w", shard, err)
	}
	var out []shardEntry
	for _, info := range infos {
		name := info.Name()
		if !info.IsDir() {
			continue
		}
		i := strings.LastIndexByte(name, '-')
		if i < 0 {
			continue
		}
		updateTime, err := strconv.ParseInt(name[i+1:], 10, 64)
		if err != nil {
			continue
		}
		id, err := modid.Parse(strings.ReplaceAll(name[:i], "_", "/"))
		if err != nil {
			continue
		}
		out = append(out, shardEntry{shard: shard, id: id, updateTime: updateTime, dir: filepath.Join(dir, name)})
	}
	return out, nil
}

// Summaries issues one scan per shard, fanned out with errgroup (spec
// §4.9's "one query per shard" contract), and merges the results.
func (r *Repository) Summaries(ctx context.Context) ([]repository.Summary, error) {
	results := make([][]shardEntry, r.shardCount)
	g, _ := errgroup.WithContext(ctx)
	for shard := 0; shard < r.shardCount; shard++ {
		shard := shard
		g.Go(func() error {
			entries, err := r.scanShard(shard)
			if err != nil {
				return err
			}
			results[shard] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []repository.Summary
	for _, shardEntries := range results {
		for _, e := range shardEntries {
			hash, err := readSidecar(e.dir + hashSidecarSuffix)
			if err != nil {
				r.logger.WithError(err).WithField("module", e.id.String()).Warn("missing or unreadable hash sidecar")
				continue
			}
			out = append(out, repository.Summary{ModuleId: e.id, Shard: e.shard, UpdateTime: e.updateTime, Hash: hash})
		}
	}
	sort.Slice(out, func(i, j int) bool { return modid.Format(out[i].ModuleId) < modid.Format(out[j].ModuleId) })
	return out, nil
}

// UpdateTimes returns the most recent update-time observed for every
// stored module.
func (r *Repository) UpdateTimes(ctx context.Context) (map[modid.ModuleId]int64, error) {
	summaries, err := r.Summaries(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[modid.ModuleId]int64, len(summaries))
	for _, s := range summaries {
		if s.UpdateTime > out[s.ModuleId] {
			out[s.ModuleId] = s.UpdateTime
		}
	}
	r.watchMu.RLock()
	for id, t := range r.lastUpdate {
		if t > out[id] {
			out[id] = t
		}
	}
	r.watchMu.RUnlock()
	return out, nil
}

// Fetch materializes every requested, present id as a DirRoot-backed
// Archive, recomputing and verifying its content hash; mismatches are
// omitted with a log line per spec I5.
func (r *Repository) Fetch(ctx context.Context, ids map[modid.ModuleId]bool) ([]*archive.Archive, error) {
	summaries, err := r.Summaries(ctx)
	if err != nil {
		return nil, err
	}
	latestDir := make(map[modid.ModuleId]shardEntry)
	for _, s := range summaries {
		if !ids[s.ModuleId] {
			continue
		}
		cur, ok := latestDir[s.ModuleId]
		if !ok || s.UpdateTime > cur.updateTime {
			latestDir[s.ModuleId] = shardEntry{shard: s.Shard, id: s.ModuleId, updateTime: s.UpdateTime, dir: filepath.Join(r.dir, strconv.Itoa(s.Shard), entryName(s.ModuleId, s.UpdateTime))}
		}
	}

	var out []*archive.Archive
	for id, e := range latestDir {
		root, err := archive.NewDirRoot(e.dir)
		if err != nil {
			r.logger.WithError(err).WithField("module", id.String()).Warn("failed opening stored archive")
			continue
		}
		a, err := archive.New(root, r.codec, archive.WithCreatedAtMs(e.updateTime))
		if err != nil {
			r.logger.WithError(err).WithField("module", id.String()).Warn("failed rebuilding stored archive")
			continue
		}
		wantHash, err := readSidecar(e.dir + hashSidecarSuffix)
		if err != nil {
			r.logger.WithError(err).WithField("module", id.String()).Warn("missing hash sidecar; skipping")
			continue
		}
		gotHash, err := a.Hash()
		if err != nil {
			r.logger.WithError(err).WithField("module", id.String()).Warn("failed hashing fetched archive")
			continue
		}
		if gotHash != wantHash {
			r.logger.WithField("module", id.String()).Warn("content hash mismatch; skipping")
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Summary aggregates the repository's current contents.
func (r *Repository) Summary(ctx context.Context) (repository.RepoSummary, error) {
	summaries, err := r.Summaries(ctx)
	if err != nil {
		return repository.RepoSummary{}, err
	}
	var maxUpdated int64
	seen := make(map[modid.ModuleId]bool)
	for _, s := range summaries {
		seen[s.ModuleId] = true
		if s.UpdateTime > maxUpdated {
			maxUpdated = s.UpdateTime
		}
	}
	return repository.RepoSummary{
		Id:          r.dir,
		Description: fmt.Sprintf("directory-backed repository at %s (%d shards)", r.dir, r.shardCount),
		Count:       len(seen),
		MaxUpdated:  maxUpdated,
	}, nil
}

// WatchForChanges starts an optional fsnotify watcher over the
// repository's shard directories: a second trigger path, independent
// of RepositoryPoller's timer, that refreshes an entry's observed
// update-time to the current wall clock whenever its files change on
// disk. Call the returned stop function to shut it down.
func (r *Repository) WatchForChanges() (stop func() error, err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsrepo: start watcher: %w", err)
	}
	for shard := 0; shard < r.shardCount; shard++ {
		if err := w.Add(filepath.Join(r.dir, strconv.Itoa(shard))); err != nil {
			w.Close()
			return nil, fmt.Errorf("fsrepo: watch shard %d: %w", shard, err)
		}
	}
	r.watcher = w
	r.stopWatch = make(chan struct{})

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				r.handleWatchEvent(ev)
			case watchErr, ok := <-w.Errors:
				if !ok {
					return
				}
				r.logger.WithError(watchErr).Warn("fsnotify error")
			case <-r.stopWatch:
				return
			}
		}
	}()

	return func() error {
		close(r.stopWatch)
		return w.Close()
	}, nil
}

func (r *Repository) handleWatchEvent(ev fsnotify.Event) {
	base := filepath.Base(ev.Name)
	base = strings.TrimSuffix(base, hashSidecarSuffix)
	i := strings.LastIndexByte(base, '-')
	if i < 0 {
		return
	}
	id, err := modid.Parse(strings.ReplaceAll(base[:i], "_", "/"))
	if err != nil {
		return
	}
	r.watchMu.Lock()
	r.lastUpdate[id] = time.Now().UnixMilli()
	r.watchMu.Unlock()
}
