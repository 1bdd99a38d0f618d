package fs

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// IgnoreFileName is read from the root of every bulk upload.
const IgnoreFileName = ".stashignore"

// defaultIgnorePatterns are always applied regardless of config or the ignore file.
var defaultIgnorePatterns = []string{IgnoreFileName}

// ignoreRule is one parsed pattern line.
type ignoreRule struct {
	glob     string
	negate   bool // "!pat" re-includes what earlier rules excluded
	dirOnly  bool // "pat/" matches directories only
	anchored bool // has a '/': matched against the whole relative path
}

// IgnoreMatcher decides which files a bulk upload skips. Rules are applied
// in order and the last matching rule wins, so a later "!keep.log" undoes
// an earlier "*.log".
type IgnoreMatcher struct {
	rules []ignoreRule
}

// NewIgnoreMatcher parses raw pattern lines. Blank lines and lines starting
// with '#' are skipped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var rules []ignoreRule
	for _, raw := range rawPatterns {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var r ignoreRule
		if strings.HasPrefix(line, "!") {
			r.negate = true
			line = line[1:]
		}
		if strings.HasSuffix(line, "/") {
			r.dirOnly = true
			line = strings.TrimRight(line, "/")
		}
		if strings.HasPrefix(line, "/") {
			r.anchored = true
			line = strings.TrimLeft(line, "/")
		}
		if line == "" {
			continue
		}
		if _, err := path.Match(line, ""); err != nil {
			continue
		}
		r.glob = line
		r.anchored = r.anchored || strings.Contains(line, "/")
		rules = append(rules, r)
	}
	return &IgnoreMatcher{rules: rules}
}

// Match reports whether the slash-separated relative path should be
// skipped. isDir tells whether it names a directory.
func (m *IgnoreMatcher) Match(rel string, isDir bool) bool {
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")
	base := path.Base(rel)

	ignored := false
	for _, r := range m.rules {
		if r.dirOnly && !isDir {
			continue
		}
		subject := base
		if r.anchored {
			subject = rel
		}
		if ok, _ := path.Match(r.glob, subject); ok {
			ignored = !r.negate
		}
	}
	return ignored
}

// ParseIgnoreFile reads an ignore file and returns its raw lines.
// A missing file yields no lines and no error.
func ParseIgnoreFile(fsys afero.Fs, name string) ([]string, error) {
	f, err := fsys.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return lines, nil
}
