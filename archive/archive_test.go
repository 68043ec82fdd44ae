package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/modkit/loader/descriptor"
	"github.com/go-quicktest/qt"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		full := filepath.Join(dir, name)
		qt.Assert(t, qt.IsNil(os.MkdirAll(filepath.Dir(full), 0o755)))
		qt.Assert(t, qt.IsNil(os.WriteFile(full, []byte(content), 0o644)))
	}
	return dir
}

func TestNewSynthesizesDescriptorFromRootName(t *testing.T) {
	dir := writeTree(t, map[string]string{"main.js": "console.log(1)"})
	root, err := NewDirRoot(dir)
	qt.Assert(t, qt.IsNil(err))

	a, err := New(root, descriptor.Codec{})
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(a.Descriptor.ModuleId.Version, ""))
	qt.Assert(t, qt.DeepEquals(a.Entries, []string{"main.js"}))
}

func TestNewReadsEmbeddedDescriptor(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"moduleSpec.json": `{"moduleId": "widgets.1"}`,
		"main.js":         "console.log(1)",
	})
	root, err := NewDirRoot(dir)
	qt.Assert(t, qt.IsNil(err))

	a, err := New(root, descriptor.Codec{})
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(a.Descriptor.ModuleId.Name, "widgets"))
	qt.Assert(t, qt.Equals(a.Descriptor.ModuleId.Version, "1"))
}

func TestHashIsStableAndSensitiveToContent(t *testing.T) {
	dir := writeTree(t, map[string]string{"a.txt": "hello"})
	root, err := NewDirRoot(dir)
	qt.Assert(t, qt.IsNil(err))
	a, err := New(root, descriptor.Codec{})
	qt.Assert(t, qt.IsNil(err))

	h1, err := a.Hash()
	qt.Assert(t, qt.IsNil(err))
	h2, err := a.Hash()
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(h1, h2))

	dir2 := writeTree(t, map[string]string{"a.txt": "goodbye"})
	root2, err := NewDirRoot(dir2)
	qt.Assert(t, qt.IsNil(err))
	a2, err := New(root2, descriptor.Codec{})
	qt.Assert(t, qt.IsNil(err))
	h3, err := a2.Hash()
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsTrue(h1 != h3))
}
