package archive

import (
	"crypto/sha1"
	"fmt"
	"hash"
	"io"
	"time"

	"github.com/modkit/loader/descriptor"
	"github.com/modkit/loader/modid"
)

// DefaultDescriptorEntry is the entry name searched for an embedded
// descriptor, per spec §4.2.
const DefaultDescriptorEntry = "moduleSpec.json"

// Archive is the immutable {descriptor, root, entries, creation-time}
// tuple of spec §3.
type Archive struct {
	Descriptor   *descriptor.ArchiveDescriptor
	Root         Root
	Entries      []string // relative to root, sorted; cached at construction
	CreatedAtMs  int64
}

// Option customizes New.
type Option func(*buildOptions)

type buildOptions struct {
	descriptorEntry string
	descriptor      *descriptor.ArchiveDescriptor
	createdAtMs     int64
}

// WithDescriptorEntry overrides the entry name searched for an embedded
// descriptor (default [DefaultDescriptorEntry]).
func WithDescriptorEntry(name string) Option {
	return func(o *buildOptions) { o.descriptorEntry = name }
}

// WithDescriptor supplies the descriptor explicitly, bypassing any
// embedded moduleSpec.json and default synthesis.
func WithDescriptor(d *descriptor.ArchiveDescriptor) Option {
	return func(o *buildOptions) { o.descriptor = d }
}

// WithCreatedAtMs overrides the archive's creation time; by default it
// is the root's modified time.
func WithCreatedAtMs(ms int64) Option {
	return func(o *buildOptions) { o.createdAtMs = ms }
}

// New builds an Archive over root: entries are enumerated once; the
// descriptor is taken from opts, else from an embedded descriptor
// entry, else synthesized per spec §4.2's builder policy (moduleId
// derived from the root's name, dots replaced with underscores).
func New(root Root, codec descriptor.Codec, opts ...Option) (*Archive, error) {
	o := buildOptions{descriptorEntry: DefaultDescriptorEntry}
	for _, opt := range opts {
		opt(&o)
	}

	entries, err := root.Entries()
	if err != nil {
		return nil, err
	}

	desc := o.descriptor
	if desc == nil {
		desc, err = loadEmbeddedDescriptor(root, entries, o.descriptorEntry, codec)
		if err != nil {
			return nil, err
		}
	}
	if desc == nil {
		id, err := modid.New(modid.NameFromRoot(root.Name()), "")
		if err != nil {
			return nil, fmt.Errorf("archive: synthesizing descriptor: %w", err)
		}
		desc = &descriptor.ArchiveDescriptor{ModuleId: id}
	}

	createdAtMs := o.createdAtMs
	if createdAtMs == 0 {
		createdAtMs = root.ModTime().UnixMilli()
	}

	return &Archive{
		Descriptor:  desc,
		Root:        root,
		Entries:     entries,
		CreatedAtMs: createdAtMs,
	}, nil
}

func loadEmbeddedDescriptor(root Root, entries []string, name string, codec descriptor.Codec) (*descriptor.ArchiveDescriptor, error) {
	found := false
	for _, e := range entries {
		if e == name {
			found = true
			break
		}
	}
	if !found {
		return nil, nil
	}
	rc, err := root.Open(name)
	if err != nil {
		return nil, fmt.Errorf("archive: open embedded descriptor: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("archive: read embedded descriptor: %w", err)
	}
	return codec.Decode(data)
}

// Hash returns the SHA-1 of the archive's canonical byte form (spec
// I5): every entry's path and content, in sorted path order, framed
// with length prefixes so no ambiguity arises between adjacent
// entries.
func (a *Archive) Hash() ([20]byte, error) {
	h := sha1.New()
	if err := a.writeCanonicalForm(h); err != nil {
		return [20]byte{}, err
	}
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

func (a *Archive) writeCanonicalForm(h hash.Hash) error {
	for _, e := range a.Entries {
		rc, err := a.Root.Open(e)
		if err != nil {
			return err
		}
		fmt.Fprintf(h, "%d:%s\n", len(e), e)
		n, err := io.Copy(h, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("archive: hashing %s: %w", e, err)
		}
		fmt.Fprintf(h, "%d\n", n)
	}
	return nil
}

// CreatedAt returns CreatedAtMs as a time.Time.
func (a *Archive) CreatedAt() time.Time {
	return time.UnixMilli(a.CreatedAtMs)
}
