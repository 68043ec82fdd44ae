package scriptcompiler

import (
	"testing"

	"github.com/go-quicktest/qt"
	"github.com/modkit/loader/archive"
	"github.com/modkit/loader/descriptor"
	"github.com/modkit/loader/modid"
	"github.com/modkit/loader/ordered"
)

func TestShouldCompileRequiresExplicitPluginId(t *testing.T) {
	c := New("script")
	id, _ := modid.New("widgets", "")
	a := &archive.Archive{Descriptor: &descriptor.ArchiveDescriptor{
		ModuleId:          id,
		CompilerPluginIds: ordered.NewSet("script"),
	}}
	qt.Assert(t, qt.IsTrue(c.ShouldCompile(a)))

	a2 := &archive.Archive{Descriptor: &descriptor.ArchiveDescriptor{ModuleId: id}}
	qt.Assert(t, qt.IsFalse(c.ShouldCompile(a2)))
}

func TestCompileDerivesSymbolsFromEntries(t *testing.T) {
	c := New("script")
	id, _ := modid.New("widgets", "")
	a := &archive.Archive{
		Descriptor: &descriptor.ArchiveDescriptor{ModuleId: id},
		Entries:    []string{"moduleSpec.json", "foo.js", "bar/baz.js"},
	}
	symbols, err := c.Compile(a, nil, "")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(symbols, []string{"foo", "bar/baz"}))
}
