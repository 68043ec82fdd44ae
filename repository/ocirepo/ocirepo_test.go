package ocirepo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cuelabs.dev/go/oci/ociregistry/ocimem"
	"github.com/go-quicktest/qt"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/modkit/loader/archive"
	"github.com/modkit/loader/descriptor"
	"github.com/modkit/loader/modid"
)

func mustArchive(t *testing.T, name, version string, files map[string]string) *archive.Archive {
	t.Helper()
	srcDir := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(srcDir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	root, err := archive.NewDirRoot(srcDir)
	require.NoError(t, err)
	id, err := modid.New(name, version)
	require.NoError(t, err)
	a, err := archive.New(root, descriptor.Codec{}, archive.WithDescriptor(&descriptor.ArchiveDescriptor{ModuleId: id}), archive.WithCreatedAtMs(5000))
	require.NoError(t, err)
	return a
}

func newTestRepo() *Repository {
	reg := ocimem.NewWithConfig(&ocimem.Config{ImmutableTags: true})
	return New(reg, "modkit-archives", 4, logrus.NewEntry(logrus.New()))
}

func TestInsertThenFetchRoundTripsContent(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()
	a := mustArchive(t, "widgets", "1", map[string]string{"main.txt": "hello"})
	require.NoError(t, repo.Insert(ctx, a))

	id, err := modid.New("widgets", "1")
	require.NoError(t, err)
	fetched, err := repo.Fetch(ctx, map[modid.ModuleId]bool{id: true})
	require.NoError(t, err)
	qt.Assert(t, qt.HasLen(fetched, 1))
	qt.Assert(t, qt.Equals(fetched[0].Descriptor.ModuleId, id))

	entries, err := fetched[0].Root.Entries()
	require.NoError(t, err)
	qt.Assert(t, qt.DeepEquals(entries, []string{"main.txt"}))
}

func TestSummariesCoverAllInsertedModules(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		a := mustArchive(t, "widgets", string(rune('a'+i)), map[string]string{"f": "x"})
		require.NoError(t, repo.Insert(ctx, a))
	}
	summaries, err := repo.Summaries(ctx)
	require.NoError(t, err)
	qt.Assert(t, qt.HasLen(summaries, 6))
}

func TestDeleteRemovesAllTagsForId(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()
	a := mustArchive(t, "widgets", "1", map[string]string{"f": "x"})
	require.NoError(t, repo.Insert(ctx, a))

	id, err := modid.New("widgets", "1")
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, id))

	summaries, err := repo.Summaries(ctx)
	require.NoError(t, err)
	qt.Assert(t, qt.HasLen(summaries, 0))
}

func TestUpdateTimesReflectsInsert(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()
	a := mustArchive(t, "widgets", "1", map[string]string{"f": "x"})
	require.NoError(t, repo.Insert(ctx, a))

	id, err := modid.New("widgets", "1")
	require.NoError(t, err)
	times, err := repo.UpdateTimes(ctx)
	require.NoError(t, err)
	qt.Assert(t, qt.Equals(times[id], int64(5000)))
}
