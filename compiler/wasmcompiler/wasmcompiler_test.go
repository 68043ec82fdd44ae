package wasmcompiler

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/go-quicktest/qt"
	"github.com/modkit/loader/archive"
	"github.com/modkit/loader/descriptor"
	"github.com/modkit/loader/modid"
)

func TestShouldCompileClaimsArchivesWithWasmEntries(t *testing.T) {
	id, _ := modid.New("widgets", "")
	desc := &descriptor.ArchiveDescriptor{ModuleId: id}

	withWasm := &archive.Archive{Descriptor: desc, Entries: []string{"moduleSpec.json", "add.wasm"}}
	qt.Assert(t, qt.IsTrue((&Compiler{}).ShouldCompile(withWasm)))

	withoutWasm := &archive.Archive{Descriptor: desc, Entries: []string{"moduleSpec.json", "main.js"}}
	qt.Assert(t, qt.IsFalse((&Compiler{}).ShouldCompile(withoutWasm)))
}

func TestExportSymbolsFormatsModNameDotFuncName(t *testing.T) {
	got := exportSymbols("add", []string{"sum", "diff"})
	sort.Strings(got)
	qt.Assert(t, qt.DeepEquals(got, []string{"add.diff", "add.sum"}))
}

func TestWriteExportMarkersMakesEachExportResolvableUnderScratchDir(t *testing.T) {
	dir := t.TempDir()
	err := writeExportMarkers(dir, "add", []string{"sum", "diff"})
	qt.Assert(t, qt.IsNil(err))

	for _, name := range []string{"sum", "diff"} {
		info, err := os.Stat(filepath.Join(dir, "add", name))
		qt.Assert(t, qt.IsNil(err))
		qt.Assert(t, qt.IsFalse(info.IsDir()))
	}
}

func TestFunctionReportsFalseForUncompiledModule(t *testing.T) {
	c := New(context.Background(), "wasm")
	t.Cleanup(func() { c.Close() })
	_, ok := c.Function("never-compiled", "sum")
	qt.Assert(t, qt.IsFalse(ok))
}
