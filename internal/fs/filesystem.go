// Package fs discovers local files for bulk uploads from the CLI.
package fs

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"
)

// LocalFile is a regular file found under an upload root. Size and
// ModTime are copied at discovery; some filesystems hand out FileInfo
// values that follow later writes.
type LocalFile struct {
	Path    string // absolute path on the local filesystem
	Rel     string // slash-separated path relative to the upload root
	Size    int64
	ModTime time.Time

	info fs.FileInfo
}

func newLocalFile(p, rel string, info fs.FileInfo) *LocalFile {
	return &LocalFile{Path: p, Rel: rel, Size: info.Size(), ModTime: info.ModTime(), info: info}
}

// Dir returns the slash-separated directory part of Rel, "" for files
// directly under the root.
func (f *LocalFile) Dir() string {
	d := filepath.ToSlash(filepath.Dir(filepath.FromSlash(f.Rel)))
	if d == "." {
		return ""
	}
	return d
}

// Walker resolves and enumerates local files, applying ignore rules.
type Walker struct {
	fs     afero.Fs
	ignore []string
}

// NewWalker creates a Walker over fsys. ignore holds patterns from the
// configuration; each upload root may add more through its ignore file.
func NewWalker(fsys afero.Fs, ignore []string) *Walker {
	return &Walker{fs: fsys, ignore: ignore}
}

// NewOSWalker creates a Walker over the real filesystem.
func NewOSWalker(ignore []string) *Walker {
	return NewWalker(afero.NewOsFs(), ignore)
}

func (w *Walker) lstat(p string) (fs.FileInfo, error) {
	if l, ok := w.fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(p)
		return info, err
	}
	return w.fs.Stat(p)
}

// Resolve makes rawPath absolute and rejects special file types.
func (w *Walker) Resolve(rawPath string) (string, fs.FileInfo, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return "", nil, fmt.Errorf("resolving absolute path: %w", err)
	}

	info, err := w.lstat(absPath)
	if err != nil {
		return "", nil, fmt.Errorf("stat path: %w", err)
	}

	mode := info.Mode()
	if mode&os.ModeSymlink != 0 {
		return "", nil, fmt.Errorf("symlinks not supported: %s", absPath)
	}
	if mode&os.ModeDevice != 0 {
		return "", nil, fmt.Errorf("device files not supported: %s", absPath)
	}
	if mode&os.ModeNamedPipe != 0 {
		return "", nil, fmt.Errorf("named pipes not supported: %s", absPath)
	}
	if mode&os.ModeSocket != 0 {
		return "", nil, fmt.Errorf("sockets not supported: %s", absPath)
	}
	return absPath, info, nil
}

// FindFiles returns the regular files under root, sorted by relative path.
// A root that is a file yields that file alone. Ignored directories are
// not descended into.
func (w *Walker) FindFiles(root string, recursive bool) ([]*LocalFile, error) {
	absRoot, info, err := w.Resolve(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []*LocalFile{newLocalFile(absRoot, info.Name(), info)}, nil
	}

	fromFile, err := ParseIgnoreFile(w.fs, filepath.Join(absRoot, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	patterns := append(append(append([]string{}, defaultIgnorePatterns...), w.ignore...), fromFile...)
	matcher := NewIgnoreMatcher(patterns)

	var files []*LocalFile
	err = afero.Walk(w.fs, absRoot, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if p == absRoot {
			return nil
		}
		rel, err := filepath.Rel(absRoot, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if info.IsDir() {
			if !recursive || matcher.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() || matcher.Match(rel, false) {
			return nil
		}
		files = append(files, newLocalFile(p, rel, info))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Rel < files[j].Rel })
	return files, nil
}

// Open opens a discovered file for reading.
func (w *Walker) Open(f *LocalFile) (io.ReadCloser, error) {
	return w.fs.Open(f.Path)
}

// Unchanged reports whether f still matches the stat taken at discovery.
// A file that changed while it was being read must not be recorded.
func (w *Walker) Unchanged(f *LocalFile) (bool, error) {
	now, err := w.fs.Stat(f.Path)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", f.Path, err)
	}
	if now.Size() != f.Size || !now.ModTime().Equal(f.ModTime) {
		return false, nil
	}
	if f.info == nil {
		return true, nil
	}
	return sameFile(f.info, now), nil
}
