// Package events implements ListenerBus (spec §4.11): synchronous,
// copy-on-write fan-out of module-updated and archive-rejected events
// on the loader's own goroutine.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/modkit/loader/modid"
)

// Module is the published view of a LinkageContext (spec §3). events
// carries it by value since it is immutable once published (spec I4);
// callers type-assert LinkageContext/SourceArchive to the concrete
// types they expect to avoid an import cycle between events and
// linkage/archive.
type Module struct {
	ModuleId       modid.ModuleId
	RevisionTag    modid.RevisionTag
	LinkageContext any
	CreatedAtMs    int64
	SourceArchive  any
}

// ModuleUpdated reports that New has displaced Old. Old is the zero
// Module, identifiable by a zero ModuleId, for a brand-new name; New is
// the zero Module for the terminal event of removeModule.
type ModuleUpdated struct {
	BatchId string
	New     Module
	Old     Module
}

// ArchiveRejected reports that an archive was dropped during an update
// batch without ever being published.
type ArchiveRejected struct {
	BatchId  string
	Archive  any
	ModuleId modid.ModuleId
	Reason   string
	Cause    error
}

// Listener receives bus events. Implementations must not block
// indefinitely: delivery is synchronous on the loader's update
// goroutine (spec §5).
type Listener interface {
	ModuleUpdated(ModuleUpdated)
	ArchiveRejected(ArchiveRejected)
}

type subscription struct {
	id int64
	l  Listener
}

// Bus is a copy-on-write set of Listeners.
type Bus struct {
	mu        sync.Mutex
	nextId    int64
	listeners atomic.Pointer[[]subscription]
}

// New returns an empty Bus.
func New() *Bus {
	b := &Bus{}
	empty := []subscription{}
	b.listeners.Store(&empty)
	return b
}

// Register adds l to the bus. Returns a function that removes it.
func (b *Bus) Register(l Listener) (unregister func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextId++
	id := b.nextId
	cur := *b.listeners.Load()
	next := make([]subscription, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, subscription{id: id, l: l})
	b.listeners.Store(&next)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		cur := *b.listeners.Load()
		next := make([]subscription, 0, len(cur))
		for _, sub := range cur {
			if sub.id != id {
				next = append(next, sub)
			}
		}
		b.listeners.Store(&next)
	}
}

// ModuleUpdated delivers ev to every currently-registered listener, in
// registration order.
func (b *Bus) ModuleUpdated(ev ModuleUpdated) {
	for _, sub := range *b.listeners.Load() {
		sub.l.ModuleUpdated(ev)
	}
}

// ArchiveRejected delivers ev to every currently-registered listener, in
// registration order.
func (b *Bus) ArchiveRejected(ev ArchiveRejected) {
	for _, sub := range *b.listeners.Load() {
		sub.l.ArchiveRejected(ev)
	}
}
