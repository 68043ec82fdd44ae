package compiler

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-quicktest/qt"
	"github.com/modkit/loader/archive"
	"github.com/modkit/loader/descriptor"
	"github.com/modkit/loader/linkage"
	"github.com/modkit/loader/loaderr"
	"github.com/modkit/loader/modid"
)

type stubCompiler struct {
	id      string
	claims  bool
	symbols []string
	err     error
}

func (s stubCompiler) Id() string                              { return s.id }
func (s stubCompiler) ShouldCompile(a *archive.Archive) bool    { return s.claims }
func (s stubCompiler) Compile(a *archive.Archive, ctx *linkage.Context, scratchDir string) ([]string, error) {
	return s.symbols, s.err
}

func testArchive() *archive.Archive {
	id, _ := modid.New("widgets", "")
	return &archive.Archive{Descriptor: &descriptor.ArchiveDescriptor{ModuleId: id}}
}

func TestCompileUnionsSymbolsFromApplicableCompilers(t *testing.T) {
	d := New(
		stubCompiler{id: "a", claims: true, symbols: []string{"x", "y"}},
		stubCompiler{id: "b", claims: true, symbols: []string{"y", "z"}},
		stubCompiler{id: "c", claims: false, symbols: []string{"unreachable"}},
	)
	symbols, err := d.Compile(testArchive(), nil, "")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(symbols, []string{"x", "y", "z"}))
}

func TestCompileFailsWithNoCompilerWhenNoneClaim(t *testing.T) {
	d := New(stubCompiler{id: "a", claims: false})
	_, err := d.Compile(testArchive(), nil, "")
	qt.Assert(t, qt.IsTrue(errors.Is(err, loaderr.NoCompiler)))
}

func TestCompileFailsWithCompileFailureOnPluginError(t *testing.T) {
	d := New(stubCompiler{id: "a", claims: true, err: fmt.Errorf("boom")})
	_, err := d.Compile(testArchive(), nil, "")
	qt.Assert(t, qt.IsTrue(errors.Is(err, loaderr.CompileFailure)))
}
