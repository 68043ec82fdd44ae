// Package repository defines ArchiveRepository (spec §4.9): the
// persistent store interface RepositoryPoller polls and ModuleLoader
// ingests from. Concrete backends live in repository/fsrepo and
// repository/ocirepo.
package repository

import (
	"context"
	"hash/fnv"

	"github.com/modkit/loader/archive"
	"github.com/modkit/loader/modid"
)

// Summary is one ArchiveSummary entry from spec §4.9's summaries().
type Summary struct {
	ModuleId   modid.ModuleId
	Shard      int
	UpdateTime int64
	Hash       [20]byte
}

// RepoSummary is the aggregate {id, description, count, maxUpdated}
// surface of spec §4.9's summary().
type RepoSummary struct {
	Id          string
	Description string
	Count       int
	MaxUpdated  int64
}

// ArchiveRepository is the persistent store interface of spec §4.9.
// Every method may perform I/O and should respect ctx cancellation.
type ArchiveRepository interface {
	Insert(ctx context.Context, a *archive.Archive) error
	Delete(ctx context.Context, id modid.ModuleId) error
	Summaries(ctx context.Context) ([]Summary, error)
	UpdateTimes(ctx context.Context) (map[modid.ModuleId]int64, error)
	Fetch(ctx context.Context, ids map[modid.ModuleId]bool) ([]*archive.Archive, error)
	Summary(ctx context.Context) (RepoSummary, error)
}

// ShardOf computes the shard assignment spec §4.9 requires:
// |hash(moduleId)| mod shardCount.
func ShardOf(id modid.ModuleId, shardCount int) int {
	h := fnv.New32a()
	h.Write([]byte(modid.Format(id)))
	return int(h.Sum32() % uint32(shardCount))
}
