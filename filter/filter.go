// Package filter decides which files are left out of a package. A Filter is
// a predicate over a path string. Filters do no I/O beyond inspecting the
// string, so they may be shared freely between goroutines once built.
//
// A Set of filters has OR semantics: a path is excluded if any filter in the
// set matches it.
//
// Paths handed to a filter are relative to the root being exported and
// slash separated. Directories carry a trailing slash, so patterns such as
// "build/" match the directory itself and "/build" is anchored at the root.
package filter

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	ignore "github.com/sabhiram/go-gitignore"
)

// A Filter reports whether the given path should be excluded.
type Filter interface {
	Match(path string) bool
}

// Func adapts an ordinary function into a Filter.
type Func func(path string) bool

// Match calls f(path).
func (f Func) Match(path string) bool { return f(path) }

// Set is a group of filters evaluated with OR semantics.
type Set []Filter

// Match returns true if any filter in the set matches path. The empty set
// matches nothing.
func (s Set) Match(path string) bool {
	for _, f := range s {
		if f != nil && f.Match(path) {
			return true
		}
	}
	return false
}

// Names matches paths whose final element is one of the given names.
type Names map[string]struct{}

// NewNames returns a Names filter for the given list of file names.
func NewNames(names ...string) Names {
	n := make(Names, len(names))
	for _, name := range names {
		n[name] = struct{}{}
	}
	return n
}

// Match returns true if the base name of path is in the set.
func (n Names) Match(path string) bool {
	_, ok := n[base(path)]
	return ok
}

// the files various operating systems leave lying around in directories.
var osMetadataNames = []string{
	".DS_Store",
	".Spotlight-V100",
	".Trashes",
	".fseventsd",
	"Icon\r",
	"Thumbs.db",
	"ehthumbs.db",
	"desktop.ini",
}

// OSMetadata returns a filter excluding operating system metadata files,
// including the AppleDouble "._name" companions made on non-HFS volumes.
func OSMetadata() Filter {
	names := NewNames(osMetadataNames...)
	return Func(func(path string) bool {
		if names.Match(path) {
			return true
		}
		return strings.HasPrefix(base(path), "._")
	})
}

// Hidden matches any path having an element that begins with a dot. The
// elements "." and ".." are not considered hidden.
var Hidden Filter = Func(func(path string) bool {
	for _, elem := range strings.Split(filepath.ToSlash(path), "/") {
		if len(elem) > 1 && elem[0] == '.' && elem != ".." {
			return true
		}
	}
	return false
})

// Extensions matches files by extension, ignoring case. The extensions may
// be given with or without the leading dot.
type Extensions map[string]struct{}

// NewExtensions returns an Extensions filter for the given list.
func NewExtensions(exts ...string) Extensions {
	e := make(Extensions, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimPrefix(ext, "."))
		if ext != "" {
			e[ext] = struct{}{}
		}
	}
	return e
}

// Match returns true if the extension of path is in the set.
func (e Extensions) Match(path string) bool {
	ext := filepath.Ext(base(path))
	if ext == "" {
		return false
	}
	_, ok := e[strings.ToLower(ext[1:])]
	return ok
}

// Patterns matches paths against a list of gitignore style patterns.
type Patterns struct {
	gi *ignore.GitIgnore
}

// CompilePatterns builds a Patterns filter from the given pattern lines.
func CompilePatterns(lines ...string) *Patterns {
	return &Patterns{gi: ignore.CompileIgnoreLines(lines...)}
}

// CompilePatternFile reads gitignore style patterns from the given file.
func CompilePatternFile(fname string) (*Patterns, error) {
	gi, err := ignore.CompileIgnoreFile(fname)
	if err != nil {
		return nil, errors.Wrapf(err, "reading pattern file %s", fname)
	}
	return &Patterns{gi: gi}, nil
}

// Match returns true if any pattern matches path.
func (p *Patterns) Match(path string) bool {
	if p == nil || p.gi == nil || path == "" {
		return false
	}
	return p.gi.MatchesPath(filepath.ToSlash(path))
}

// base is filepath.Base except the empty string stays empty instead of
// becoming ".".
func base(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}
