// Package ocirepo implements an OCI-registry-backed ArchiveRepository
// (spec §4.9): every archive becomes a single manifest with two blobs
// (a zip of its entries, plus its JSON descriptor), tagged by its
// sharded entry name, grounded on the teacher's mod/modregistry/client.go.
package ocirepo

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cuelabs.dev/go/oci/ociregistry"
	digest "github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/modkit/loader/archive"
	"github.com/modkit/loader/descriptor"
	"github.com/modkit/loader/modid"
	"github.com/modkit/loader/repository"
)

const (
	archiveArtifactType = "application/vnd.modkit.archive.v1+json"
	zipMediaType        = "application/zip"
	descriptorMediaType = "application/vnd.modkit.descriptor.v1+json"
)

var _ repository.ArchiveRepository = (*Repository)(nil)

// Repository is an ociregistry.Interface-backed ArchiveRepository. One
// repository path in the registry holds every shard's tags, each of the
// form "<shard>-<safeName>-<updateTime>" (see tagFor).
type Repository struct {
	reg        ociregistry.Interface
	repoPath   string
	shardCount int
	codec      descriptor.Codec
	logger     *logrus.Entry
}

// New builds a Repository over reg, storing every archive's manifest
// under the single OCI repository path repoPath.
func New(reg ociregistry.Interface, repoPath string, shardCount int, logger *logrus.Entry) *Repository {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Repository{
		reg:        reg,
		repoPath:   repoPath,
		shardCount: shardCount,
		logger:     logger.WithField("component", "ocirepo"),
	}
}

func tagFor(id modid.ModuleId, shard int, updateTime int64) string {
	safe := strings.ReplaceAll(modid.Format(id), "/", "_")
	return fmt.Sprintf("%d-%s-%d", shard, safe, updateTime)
}

func parseTag(tag string) (shard int, id modid.ModuleId, updateTime int64, ok bool) {
	firstDash := strings.IndexByte(tag, '-')
	if firstDash < 0 {
		return 0, modid.ModuleId{}, 0, false
	}
	shard, err := strconv.Atoi(tag[:firstDash])
	if err != nil {
		return 0, modid.ModuleId{}, 0, false
	}
	rest := tag[firstDash+1:]
	lastDash := strings.LastIndexByte(rest, '-')
	if lastDash < 0 {
		return 0, modid.ModuleId{}, 0, false
	}
	updateTime, err = strconv.ParseInt(rest[lastDash+1:], 10, 64)
	if err != nil {
		return 0, modid.ModuleId{}, 0, false
	}
	id, err = modid.Parse(strings.ReplaceAll(rest[:lastDash], "_", "/"))
	if err != nil {
		return 0, modid.ModuleId{}, 0, false
	}
	return shard, id, updateTime, true
}

// Insert zips a's entries and its descriptor into two blobs, pushes
// them, and tags the resulting manifest per spec §4.9.
func (r *Repository) Insert(ctx context.Context, a *archive.Archive) error {
	zipData, err := zipArchive(a)
	if err != nil {
		return fmt.Errorf("ocirepo: zip archive: %w", err)
	}
	descData, err := r.codec.Encode(a.Descriptor)
	if err != nil {
		return fmt.Errorf("ocirepo: encode descriptor: %w", err)
	}

	zipDesc := ocispec.Descriptor{
		Digest:    digest.FromBytes(zipData),
		MediaType: zipMediaType,
		Size:      int64(len(zipData)),
	}
	descDesc := ocispec.Descriptor{
		Digest:    digest.FromBytes(descData),
		MediaType: descriptorMediaType,
		Size:      int64(len(descData)),
	}
	if _, err := r.reg.PushBlob(ctx, r.repoPath, zipDesc, bytes.NewReader(zipData)); err != nil {
		return fmt.Errorf("ocirepo: push archive blob: %w", err)
	}
	if _, err := r.reg.PushBlob(ctx, r.repoPath, descDesc, bytes.NewReader(descData)); err != nil {
		return fmt.Errorf("ocirepo: push descriptor blob: %w", err)
	}

	configContent := []byte("{}")
	configDesc := ocispec.Descriptor{
		Digest:    digest.FromBytes(configContent),
		MediaType: archiveArtifactType,
		Size:      int64(len(configContent)),
	}
	if _, err := r.reg.PushBlob(ctx, r.repoPath, configDesc, bytes.NewReader(configContent)); err != nil {
		return fmt.Errorf("ocirepo: push scratch config: %w", err)
	}

	manifest := ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    configDesc,
		Layers:    []ocispec.Descriptor{zipDesc, descDesc},
	}
	manifestData, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("ocirepo: marshal manifest: %w", err)
	}

	shard := repository.ShardOf(a.Descriptor.ModuleId, r.shardCount)
	tag := tagFor(a.Descriptor.ModuleId, shard, a.CreatedAtMs)
	if _, err := r.reg.PushManifest(ctx, r.repoPath, tag, manifestData, ocispec.MediaTypeImageManifest); err != nil {
		return fmt.Errorf("ocirepo: push manifest: %w", err)
	}
	r.logger.WithField("module", a.Descriptor.ModuleId.String()).WithField("tag", tag).Info("inserted archive")
	return nil
}

func zipArchive(a *archive.Archive) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range a.Entries {
		rc, err := a.Root.Open(e)
		if err != nil {
			return nil, err
		}
		w, err := zw.Create(e)
		if err != nil {
			rc.Close()
			return nil, err
		}
		_, err = io.Copy(w, rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Delete removes every tag (across every shard) belonging to id.
func (r *Repository) Delete(ctx context.Context, id modid.ModuleId) error {
	tags, err := r.listTags(ctx)
	if err != nil {
		return err
	}
	for _, t := range tags {
		if !t.id.Equal(id) {
			continue
		}
		if err := r.reg.DeleteTag(ctx, r.repoPath, t.tag); err != nil && !isNotExist(err) {
			return fmt.Errorf("ocirepo: delete tag %s: %w", t.tag, err)
		}
	}
	return nil
}

type taggedEntry struct {
	tag        string
	shard      int
	id         modid.ModuleId
	updateTime int64
}

func (r *Repository) listTags(ctx context.Context) ([]taggedEntry, error) {
	var out []taggedEntry
	var iterErr error
	iter := r.reg.Tags(ctx, r.repoPath, "")
	iter(func(tag string, err error) bool {
		if err != nil {
			iterErr = err
			return false
		}
		shard, id, updateTime, ok := parseTag(tag)
		if !ok {
			return true
		}
		out = append(out, taggedEntry{tag: tag, shard: shard, id: id, updateTime: updateTime})
		return true
	})
	if iterErr != nil && !isNotExist(iterErr) {
		return nil, fmt.Errorf("ocirepo: list tags: %w", iterErr)
	}
	return out, nil
}

// summariesByShard partitions all by shard and resolves each shard's
// manifests in its own errgroup goroutine, one goroutine per shard. The
// tag list itself comes from a single registry call over the whole
// repository; the per-shard split parallelizes the manifest fetches.
func (r *Repository) summariesByShard(ctx context.Context, all []taggedEntry) ([]repository.Summary, error) {
	byShard := make([][]taggedEntry, r.shardCount)
	for _, t := range all {
		if t.shard >= 0 && t.shard < r.shardCount {
			byShard[t.shard] = append(byShard[t.shard], t)
		}
	}

	results := make([][]repository.Summary, r.shardCount)
	g, gctx := errgroup.WithContext(ctx)
	for shard := range byShard {
		shard := shard
		g.Go(func() error {
			var summaries []repository.Summary
			for _, t := range byShard[shard] {
				manifestReader, err := r.reg.GetTag(gctx, r.repoPath, t.tag)
				if err != nil {
					if isNotExist(err) {
						continue
					}
					return fmt.Errorf("ocirepo: resolve tag %s: %w", t.tag, err)
				}
				data, err := io.ReadAll(manifestReader)
				closeErr := manifestReader.Close()
				if err != nil {
					return fmt.Errorf("ocirepo: read manifest %s: %w", t.tag, err)
				}
				if closeErr != nil {
					return fmt.Errorf("ocirepo: close manifest reader %s: %w", t.tag, closeErr)
				}
				var m ocispec.Manifest
				if err := json.Unmarshal(data, &m); err != nil {
					return fmt.Errorf("ocirepo: decode manifest %s: %w", t.tag, err)
				}
				if len(m.Layers) != 2 {
					continue
				}
				summaries = append(summaries, repository.Summary{
					ModuleId:   t.id,
					Shard:      t.shard,
					UpdateTime: t.updateTime,
					Hash:       digestToHash(m.Layers[0].Digest),
				})
			}
			results[shard] = summaries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []repository.Summary
	for _, s := range results {
		out = append(out, s...)
	}
	return out, nil
}

func digestToHash(d digest.Digest) [20]byte {
	var out [20]byte
	encoded := d.Encoded()
	for i := 0; i < 20 && i*2+1 < len(encoded); i++ {
		var b int
		fmt.Sscanf(encoded[i*2:i*2+2], "%02x", &b)
		out[i] = byte(b)
	}
	return out
}

// Summaries returns one entry per stored archive across every shard.
func (r *Repository) Summaries(ctx context.Context) ([]repository.Summary, error) {
	all, err := r.listTags(ctx)
	if err != nil {
		return nil, err
	}
	return r.summariesByShard(ctx, all)
}

// UpdateTimes returns the most recent update-time observed per module.
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
	return out, nil
}

// Fetch resolves and downloads the latest manifest for each requested,
// present id, rebuilding it as a zip-rooted Archive.
func (r *Repository) Fetch(ctx context.Context, ids map[modid.ModuleId]bool) ([]*archive.Archive, error) {
	all, err := r.listTags(ctx)
	if err != nil {
		return nil, err
	}
	latest := make(map[modid.ModuleId]taggedEntry)
	for _, t := range all {
		if !ids[t.id] {
			continue
		}
		cur, ok := latest[t.id]
		if !ok || t.updateTime > cur.updateTime {
			latest[t.id] = t
		}
	}

	var out []*archive.Archive
	for id, t := range latest {
		a, err := r.fetchOne(ctx, t)
		if err != nil {
			r.logger.WithError(err).WithField("module", id.String()).Warn("failed fetching stored archive")
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *Repository) fetchOne(ctx context.Context, t taggedEntry) (*archive.Archive, error) {
	rd, err := r.reg.GetTag(ctx, r.repoPath, t.tag)
	if err != nil {
		return nil, fmt.Errorf("resolve tag: %w", err)
	}
	manifestData, err := io.ReadAll(rd)
	rd.Close()
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m ocispec.Manifest
	if err := json.Unmarshal(manifestData, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if len(m.Layers) != 2 {
		return nil, fmt.Errorf("manifest has %d layers, want 2", len(m.Layers))
	}

	zipBlob, err := r.reg.GetBlob(ctx, r.repoPath, m.Layers[0].Digest)
	if err != nil {
		return nil, fmt.Errorf("get archive blob: %w", err)
	}
	zipData, err := io.ReadAll(zipBlob)
	zipBlob.Close()
	if err != nil {
		return nil, fmt.Errorf("read archive blob: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return nil, fmt.Errorf("open archive zip: %w", err)
	}

	descBlob, err := r.reg.GetBlob(ctx, r.repoPath, m.Layers[1].Digest)
	if err != nil {
		return nil, fmt.Errorf("get descriptor blob: %w", err)
	}
	descData, err := io.ReadAll(descBlob)
	descBlob.Close()
	if err != nil {
		return nil, fmt.Errorf("read descriptor blob: %w", err)
	}
	desc, err := r.codec.Decode(descData)
	if err != nil {
		return nil, fmt.Errorf("decode descriptor: %w", err)
	}

	root := archive.NewZipRoot(t.id.String(), zr, timeFromMs(t.updateTime))
	return archive.New(root, r.codec, archive.WithDescriptor(desc), archive.WithCreatedAtMs(t.updateTime))
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
		Id:          r.repoPath,
		Description: fmt.Sprintf("OCI registry repository %q (%d shards)", r.repoPath, r.shardCount),
		Count:       len(seen),
		MaxUpdated:  maxUpdated,
	}, nil
}

func isNotExist(err error) bool {
	if errors.Is(err, ociregistry.ErrNameUnknown) || errors.Is(err, ociregistry.ErrNameInvalid) || errors.Is(err, ociregistry.ErrManifestUnknown) {
		return true
	}
	if herr := ociregistry.HTTPError(nil); errors.As(err, &herr) {
		code := herr.StatusCode()
		return code == http.StatusForbidden || code == http.StatusNotFound
	}
	return false
}

func timeFromMs(ms int64) time.Time { return time.UnixMilli(ms) }
