// Package compiler implements CompilerDispatch (spec §4.7): a registry
// of pluggable compilers, each claiming archives it knows how to
// compile, invoked sequentially against a shared scratch directory.
package compiler

import (
	"fmt"

	"github.com/modkit/loader/archive"
	"github.com/modkit/loader/linkage"
	"github.com/modkit/loader/loaderr"
)

// Compiler is one compiler plugin's ABI (spec §6, "Compiler-plugin
// ABI"): it decides whether it applies to an archive, and if so
// compiles it against a LinkageContext and scratch directory, producing
// the set of symbol names the archive contributes.
type Compiler interface {
	// Id names the compiler for logging and for ArchiveDescriptor's
	// compilerPluginIds allow-list.
	Id() string
	// ShouldCompile reports whether this compiler claims a.
	ShouldCompile(a *archive.Archive) bool
	// Compile compiles a against ctx, writing any intermediate output
	// under scratchDir, and returns the symbol names it produced.
	Compile(a *archive.Archive, ctx *linkage.Context, scratchDir string) ([]string, error)
}

// Dispatch holds an ordered list of compilers and invokes every one
// that claims a given archive.
type Dispatch struct {
	compilers []Compiler
}

// New builds a Dispatch over compilers, in invocation order.
func New(compilers ...Compiler) *Dispatch {
	return &Dispatch{compilers: compilers}
}

// Register appends a compiler to the dispatch list.
func (d *Dispatch) Register(c Compiler) {
	d.compilers = append(d.compilers, c)
}

// Compile selects every compiler that claims a, invokes each
// sequentially against the same scratchDir, and returns the union of
// their produced symbol names, in invocation order with duplicates
// removed. Fails with loaderr.NoCompiler if zero compilers claim a.
func (d *Dispatch) Compile(a *archive.Archive, ctx *linkage.Context, scratchDir string) ([]string, error) {
	var applicable []Compiler
	for _, c := range d.compilers {
		if c.ShouldCompile(a) {
			applicable = append(applicable, c)
		}
	}
	if len(applicable) == 0 {
		return nil, fmt.Errorf("compiler: %s: %w", a.Descriptor.ModuleId, loaderr.NoCompiler)
	}

	seen := make(map[string]bool)
	var symbols []string
	for _, c := range applicable {
		produced, err := c.Compile(a, ctx, scratchDir)
		if err != nil {
			return nil, fmt.Errorf("compiler: %s: plugin %q: %w: %w", a.Descriptor.ModuleId, c.Id(), loaderr.CompileFailure, err)
		}
		for _, s := range produced {
			if !seen[s] {
				seen[s] = true
				symbols = append(symbols, s)
			}
		}
	}
	return symbols, nil
}
