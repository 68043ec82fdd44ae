// Package archive implements the immutable code-bundle abstraction
// (spec §3, §4.2): a Root over either a directory tree or a zip-file
// tree, plus the Archive value built on top of it.
//
// The zip-path safety checks below (zip-slip prevention, case-folding
// collisions, duplicate entries) are carried over unchanged from the
// teacher's mod/modzip/zip.go: they are generic to any zip-rooted file
// tree, not specific to CUE's module zip format.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"
)

// Root abstracts over a directory tree or a zip archive as the backing
// store for an Archive's entries, per spec §4.2's two variants.
type Root interface {
	// Entries returns the root-relative, slash-separated paths of every
	// file under the root, in a stable order. Computed lazily once by
	// the Root implementation; callers may call it repeatedly.
	Entries() ([]string, error)
	// Open returns a readable stream for the entry at path.
	Open(path string) (io.ReadCloser, error)
	// ModTime returns the root's own modified time, used as the
	// archive's default creation time when none is supplied explicitly.
	ModTime() time.Time
	// Name is a short identifier for the root (directory base name or
	// zip file base name), used to synthesize a default module name
	// when no descriptor is embedded.
	Name() string
}

// DirRoot is a directory-rooted Root.
type DirRoot struct {
	dir     string
	fsys    fs.FS
	modTime time.Time

	entries []string
	err     error
	scanned bool
}

// NewDirRoot builds a DirRoot over the OS directory at dir.
func NewDirRoot(dir string) (*DirRoot, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("archive: stat root: %w", err)
	}
	return &DirRoot{
		dir:     dir,
		fsys:    os.DirFS(dir),
		modTime: info.ModTime(),
	}, nil
}

func (r *DirRoot) Name() string { return path.Base(filepathToSlash(r.dir)) }

func (r *DirRoot) ModTime() time.Time { return r.modTime }

func (r *DirRoot) Entries() ([]string, error) {
	if r.scanned {
		return r.entries, r.err
	}
	r.scanned = true
	var entries []string
	err := fs.WalkDir(r.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		entries = append(entries, p)
		return nil
	})
	if err != nil {
		r.err = fmt.Errorf("archive: scan %s: %w", r.dir, err)
		return nil, r.err
	}
	sort.Strings(entries)
	r.entries = entries
	return entries, nil
}

func (r *DirRoot) Open(p string) (io.ReadCloser, error) {
	f, err := r.fsys.Open(p)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", p, err)
	}
	return f, nil
}

// ZipRoot is an archive-file-rooted (zip-like) Root.
type ZipRoot struct {
	name    string
	zr      *zip.Reader
	modTime time.Time

	entries []string
	err     error
	scanned bool
}

// NewZipRoot builds a ZipRoot from a zip reader. name is used to
// synthesize a default module name and should usually be the zip
// file's base name.
func NewZipRoot(name string, zr *zip.Reader, modTime time.Time) *ZipRoot {
	return &ZipRoot{name: name, zr: zr, modTime: modTime}
}

func (r *ZipRoot) Name() string       { return r.name }
func (r *ZipRoot) ModTime() time.Time { return r.modTime }

func (r *ZipRoot) Entries() ([]string, error) {
	if r.scanned {
		return r.entries, r.err
	}
	r.scanned = true
	seenFold := make(map[string]string)
	var entries []string
	for _, f := range r.zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue // directory entry
		}
		clean := path.Clean(f.Name)
		if clean != f.Name || strings.HasPrefix(clean, "../") || clean == ".." {
			r.err = fmt.Errorf("archive: unsafe entry path %q", f.Name)
			return nil, r.err
		}
		fold := strings.ToLower(clean)
		if other, ok := seenFold[fold]; ok && other != clean {
			r.err = fmt.Errorf("archive: entries %q and %q differ only in case", other, clean)
			return nil, r.err
		}
		if other, ok := seenFold[fold]; ok && other == clean {
			r.err = fmt.Errorf("archive: duplicate entry %q", clean)
			return nil, r.err
		}
		seenFold[fold] = clean
		entries = append(entries, clean)
	}
	sort.Strings(entries)
	r.entries = entries
	return entries, nil
}

func (r *ZipRoot) Open(p string) (io.ReadCloser, error) {
	for _, f := range r.zr.File {
		if path.Clean(f.Name) == p {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("archive: open %s: %w", p, err)
			}
			return rc, nil
		}
	}
	return nil, fmt.Errorf("archive: no such entry %q", p)
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(strings.TrimRight(p, "/\\"), "\\", "/")
}
