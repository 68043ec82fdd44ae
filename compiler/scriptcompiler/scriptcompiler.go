// Package scriptcompiler implements the reference trivial Compiler
// (spec §4.7's "the reference compiler a new language binding would
// imitate"): it claims an archive only when explicitly named in the
// archive's compilerPluginIds, and treats every non-descriptor entry
// path, minus extension, as a produced symbol name.
package scriptcompiler

import (
	"path"
	"strings"

	"github.com/modkit/loader/archive"
	"github.com/modkit/loader/linkage"
)

// Compiler is the scriptcompiler plugin. Build it with [New]: the zero
// value has an empty id and excludes no descriptor entry.
type Compiler struct {
	id             string
	descriptorName string
}

// New returns a Compiler registered under id that excludes the
// archive.DefaultDescriptorEntry entry from the produced symbol set.
func New(id string) *Compiler {
	return &Compiler{id: id, descriptorName: archive.DefaultDescriptorEntry}
}

func (c *Compiler) Id() string { return c.id }

func (c *Compiler) ShouldCompile(a *archive.Archive) bool {
	if a.Descriptor.CompilerPluginIds == nil {
		return false
	}
	return a.Descriptor.CompilerPluginIds.Contains(c.id)
}

// Compile ignores scratchDir and ctx: this compiler performs no actual
// code generation, it only derives symbol names from entry paths, which
// is enough for tests and for cmd/modloaderd's sample archives.
func (c *Compiler) Compile(a *archive.Archive, ctx *linkage.Context, scratchDir string) ([]string, error) {
	var symbols []string
	for _, entry := range a.Entries {
		if entry == c.descriptorName {
			continue
		}
		ext := path.Ext(entry)
		symbols = append(symbols, strings.TrimSuffix(entry, ext))
	}
	return symbols, nil
}
