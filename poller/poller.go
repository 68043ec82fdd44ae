// Package poller implements RepositoryPoller (spec §4.10): a
// timer-driven delta computation against a repository's observed
// update-times, feeding accepted and removed modules to a Loader.
// The ticker-plus-cancel-context scheduling idiom is grounded on the
// teacher's registry client's heartbeat loop
// (_examples/evalgo-org-eve/registry/client.go's StartHeartbeat).
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/modkit/loader/archive"
	"github.com/modkit/loader/modid"
)

// Repository is the subset of ArchiveRepository the poller needs.
type Repository interface {
	UpdateTimes(ctx context.Context) (map[modid.ModuleId]int64, error)
	Fetch(ctx context.Context, ids map[modid.ModuleId]bool) ([]*archive.Archive, error)
}

// Loader is the subset of loader.Loader the poller drives.
type Loader interface {
	Update(candidates []*archive.Archive)
	RemoveModule(name string) error
}

// Poller runs one scheduler goroutine per registered repository,
// computing update/delete deltas against each repository's previously
// observed update-times and feeding them to Loader.
type Poller struct {
	loader Loader
	logger *logrus.Entry

	mu    sync.Mutex
	repos map[string]*repoState
}

type repoState struct {
	repo     Repository
	interval time.Duration
	lastSeen map[modid.ModuleId]int64
	cancel   context.CancelFunc
	done     chan struct{}
}

// New builds a Poller driving loader.
func New(loader Loader, logger *logrus.Entry) *Poller {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Poller{
		loader: loader,
		logger: logger.WithField("component", "poller"),
		repos:  make(map[string]*repoState),
	}
}

// AddRepository registers repo under id, starting a dedicated
// scheduler goroutine that calls poll every interval. If
// waitForInitialPoll is true, AddRepository blocks until the first
// poll completes (spec §4.10).
func (p *Poller) AddRepository(id string, repo Repository, interval time.Duration, waitForInitialPoll bool) {
	ctx, cancel := context.WithCancel(context.Background())
	state := &repoState{
		repo:     repo,
		interval: interval,
		lastSeen: make(map[modid.ModuleId]int64),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	p.mu.Lock()
	if old, ok := p.repos[id]; ok {
		old.cancel()
	}
	p.repos[id] = state
	p.mu.Unlock()

	initialDone := make(chan struct{})
	go p.run(ctx, id, state, initialDone)
	if waitForInitialPoll {
		<-initialDone
	}
}

// RemoveRepository stops id's scheduler and forgets its state.
func (p *Poller) RemoveRepository(id string) {
	p.mu.Lock()
	state, ok := p.repos[id]
	if ok {
		delete(p.repos, id)
	}
	p.mu.Unlock()
	if ok {
		state.cancel()
		<-state.done
	}
}

// Shutdown cancels every repository's scheduler and waits for each to
// finish its in-flight poll (spec §5: "in-flight updates complete").
func (p *Poller) Shutdown() {
	p.mu.Lock()
	states := make([]*repoState, 0, len(p.repos))
	for _, s := range p.repos {
		states = append(states, s)
	}
	p.repos = make(map[string]*repoState)
	p.mu.Unlock()

	for _, s := range states {
		s.cancel()
	}
	for _, s := range states {
		<-s.done
	}
}

func (p *Poller) run(ctx context.Context, id string, state *repoState, initialDone chan struct{}) {
	defer close(state.done)
	ticker := time.NewTicker(state.interval)
	defer ticker.Stop()

	p.poll(ctx, id, state)
	close(initialDone)

	for {
		select {
		case <-ticker.C:
			p.poll(ctx, id, state)
		case <-ctx.Done():
			return
		}
	}
}

// poll implements spec §4.10's six steps.
func (p *Poller) poll(ctx context.Context, id string, state *repoState) {
	log := p.logger.WithField("repository", id)

	now, err := state.repo.UpdateTimes(ctx)
	if err != nil {
		log.WithError(err).Warn("poll: failed reading update times")
		return
	}

	updated := make(map[modid.ModuleId]bool)
	for modId, t := range now {
		if t > state.lastSeen[modId] {
			updated[modId] = true
		}
	}
	var deleted []modid.ModuleId
	for modId := range state.lastSeen {
		if _, stillPresent := now[modId]; !stillPresent {
			deleted = append(deleted, modId)
		}
	}

	state.lastSeen = now

	if len(updated) > 0 {
		archives, err := state.repo.Fetch(ctx, updated)
		if err != nil {
			log.WithError(err).Warn("poll: failed fetching updated archives")
		} else {
			log.WithField("count", len(archives)).Info("poll: updating loader")
			p.loader.Update(archives)
		}
	}
	for _, modId := range deleted {
		log.WithField("module", modId.String()).Info("poll: removing module")
		if err := p.loader.RemoveModule(modId.Name); err != nil {
			log.WithError(err).WithField("module", modId.String()).Warn("poll: failed removing module")
		}
	}
}
