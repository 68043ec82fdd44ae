package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-quicktest/qt"

	"github.com/modkit/loader/archive"
	"github.com/modkit/loader/descriptor"
	"github.com/modkit/loader/modid"
)

type stubRepo struct {
	mu    sync.Mutex
	times map[modid.ModuleId]int64
	bytes map[modid.ModuleId]*archive.Archive
}

func newStubRepo() *stubRepo {
	return &stubRepo{times: make(map[modid.ModuleId]int64), bytes: make(map[modid.ModuleId]*archive.Archive)}
}

func (s *stubRepo) set(t *testing.T, name, version string, updateTime int64) {
	t.Helper()
	id, err := modid.New(name, version)
	qt.Assert(t, qt.IsNil(err))
	root, err := archive.NewDirRoot(t.TempDir())
	qt.Assert(t, qt.IsNil(err))
	a, err := archive.New(root, descriptor.Codec{}, archive.WithDescriptor(&descriptor.ArchiveDescriptor{ModuleId: id}), archive.WithCreatedAtMs(updateTime))
	qt.Assert(t, qt.IsNil(err))

	s.mu.Lock()
	s.times[id] = updateTime
	s.bytes[id] = a
	s.mu.Unlock()
}

func (s *stubRepo) remove(name, version string) {
	id, _ := modid.New(name, version)
	s.mu.Lock()
	delete(s.times, id)
	delete(s.bytes, id)
	s.mu.Unlock()
}

func (s *stubRepo) UpdateTimes(ctx context.Context) (map[modid.ModuleId]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[modid.ModuleId]int64, len(s.times))
	for k, v := range s.times {
		out[k] = v
	}
	return out, nil
}

func (s *stubRepo) Fetch(ctx context.Context, ids map[modid.ModuleId]bool) ([]*archive.Archive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*archive.Archive
	for id := range ids {
		if a, ok := s.bytes[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

type recordingLoader struct {
	mu       sync.Mutex
	updates  [][]*archive.Archive
	removed  []string
}

func (l *recordingLoader) Update(candidates []*archive.Archive) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, candidates)
}

func (l *recordingLoader) RemoveModule(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removed = append(l.removed, name)
	return nil
}

func (l *recordingLoader) snapshot() ([][]*archive.Archive, []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]*archive.Archive(nil), l.updates...), append([]string(nil), l.removed...)
}

func TestAddRepositoryWaitsForInitialPollBeforeReturning(t *testing.T) {
	repo := newStubRepo()
	repo.set(t, "widgets", "1", 100)
	loader := &recordingLoader{}
	p := New(loader, nil)
	defer p.Shutdown()

	p.AddRepository("repo1", repo, time.Hour, true)

	updates, _ := loader.snapshot()
	qt.Assert(t, qt.HasLen(updates, 1))
	qt.Assert(t, qt.HasLen(updates[0], 1))
}

func TestPollDetectsDeletions(t *testing.T) {
	repo := newStubRepo()
	repo.set(t, "widgets", "1", 100)
	loader := &recordingLoader{}
	p := New(loader, nil)
	defer p.Shutdown()

	p.AddRepository("repo1", repo, time.Hour, true)
	repo.remove("widgets", "1")

	state := p.repos["repo1"]
	p.poll(context.Background(), "repo1", state)

	_, removed := loader.snapshot()
	qt.Assert(t, qt.DeepEquals(removed, []string{"widgets"}))
}

func TestPollIgnoresUnchangedUpdateTimes(t *testing.T) {
	repo := newStubRepo()
	repo.set(t, "widgets", "1", 100)
	loader := &recordingLoader{}
	p := New(loader, nil)
	defer p.Shutdown()

	p.AddRepository("repo1", repo, time.Hour, true)

	state := p.repos["repo1"]
	p.poll(context.Background(), "repo1", state)

	updates, _ := loader.snapshot()
	qt.Assert(t, qt.HasLen(updates, 1)) // only the initial poll produced an update
}
