package stash

import (
	"fmt"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxNameLength is the longest display name, in bytes, accepted for files
// and directories.
const MaxNameLength = 255

// SanitizeName turns a client-supplied file name into a display name.
// Path separators, '%' and control characters become '_', surrounding
// whitespace is trimmed and invalid UTF-8 is replaced.
func SanitizeName(raw string) (string, error) {
	name := strings.ToValidUTF8(strings.TrimSpace(raw), "_")
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/', r == '\\', r == '%':
			return '_'
		case unicode.IsControl(r):
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if err := checkName(name); err != nil {
		return "", fmt.Errorf("file name %q: %w", raw, err)
	}
	return name, nil
}

// ValidateDirectoryName checks a directory name without rewriting it.
// Directory names become path segments, so separators are rejected.
func ValidateDirectoryName(name string) error {
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: directory name is not valid UTF-8", ErrValidation)
	}
	if strings.ContainsAny(name, "/\\%") {
		return fmt.Errorf("%w: directory name %q contains '/', '\\' or '%%'", ErrValidation, name)
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("%w: directory name %q has surrounding whitespace", ErrValidation, name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: directory name %q contains control characters", ErrValidation, name)
		}
	}
	if err := checkName(name); err != nil {
		return fmt.Errorf("directory name %q: %w", name, err)
	}
	return nil
}

func checkName(name string) error {
	switch name {
	case "":
		return fmt.Errorf("%w: name is empty", ErrValidation)
	case ".", "..":
		return fmt.Errorf("%w: name is reserved", ErrValidation)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: name exceeds %d bytes", ErrValidation, MaxNameLength)
	}
	return nil
}

// NameCandidates returns the display names to try, in order, for an entry
// with the given ID: the name itself, then the name with a short token taken
// from the ID inserted before the extension, then with the whole ID.
// "report.pdf" with ID "3fa2c1d0-..." yields "report_3fa2c1d0.pdf" second.
func NameCandidates(name, id string) []string {
	token := strings.ReplaceAll(id, "-", "")
	short := token
	if len(short) > 8 {
		short = short[:8]
	}
	candidates := []string{name, withSuffix(name, short)}
	if short != token {
		candidates = append(candidates, withSuffix(name, token))
	}
	return candidates
}

// DisambiguateName derives a unique display name from a colliding one.
func DisambiguateName(name, id string) string {
	return NameCandidates(name, id)[1]
}

func withSuffix(name, token string) string {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if base == "" {
		// dotfiles like ".profile" have no extension
		base, ext = name, ""
	}
	suffix := "_" + token + ext
	if len(base)+len(suffix) > MaxNameLength {
		base = truncateUTF8(base, MaxNameLength-len(suffix))
	}
	return base + suffix
}

func truncateUTF8(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// JoinPath builds a child directory's materialized path.
func JoinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
