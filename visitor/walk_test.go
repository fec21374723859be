package visitor

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// recorder logs every event it receives.
type recorder struct {
	root   string
	events []string
	skip   string
	omit   string
}

func (r *recorder) Excluded(path string, dir bool) bool {
	return r.omit != "" && filepath.Base(path) == r.omit
}

func (r *recorder) rel(path string) string {
	rel, _ := filepath.Rel(r.root, path)
	return filepath.ToSlash(rel)
}

func (r *recorder) PreVisitDirectory(path string, info fs.FileInfo) error {
	r.events = append(r.events, "pre "+r.rel(path))
	if r.skip != "" && filepath.Base(path) == r.skip {
		return fs.SkipDir
	}
	return nil
}

func (r *recorder) PostVisitDirectory(path string) {
	r.events = append(r.events, "post "+r.rel(path))
}

func (r *recorder) VisitFile(path string, info fs.FileInfo) {
	r.events = append(r.events, "file "+r.rel(path))
}

func (r *recorder) VisitFileFailed(path string, err error) {
	r.events = append(r.events, "fail "+r.rel(path))
}

func (r *recorder) End() {
	r.events = append(r.events, "end")
}

func TestWalkOrder(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, map[string]string{
		"b.txt":   "",
		"a/c.txt": "",
		"a/d/":    "",
	})
	r := &recorder{root: root}
	if err := Walk(context.Background(), root, r); err != nil {
		t.Fatal(err)
	}
	got := strings.Join(r.events, ";")
	expected := "pre .;pre a;file a/c.txt;pre a/d;post a/d;post a;file b.txt;post .;end"
	if got != expected {
		t.Errorf("Received %s, expected %s", got, expected)
	}
}

func TestWalkSkipDir(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, map[string]string{
		"a/c.txt": "",
		"z/y.txt": "",
	})
	r := &recorder{root: root, skip: "a"}
	if err := Walk(context.Background(), root, r); err != nil {
		t.Fatal(err)
	}
	got := strings.Join(r.events, ";")
	expected := "pre .;pre a;pre z;file z/y.txt;post z;post .;end"
	if got != expected {
		t.Errorf("Received %s, expected %s", got, expected)
	}
}

func TestWalkExcluded(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, map[string]string{
		"a/c.txt": "",
		"b.txt":   "",
	})
	if err := os.Symlink(filepath.Join(root, "missing"), filepath.Join(root, "gone")); err != nil {
		t.Skip("symlinks not supported:", err)
	}
	for _, omit := range []string{"a", "gone"} {
		r := &recorder{root: root, omit: omit}
		if err := Walk(context.Background(), root, r); err != nil {
			t.Fatal(err)
		}
		got := strings.Join(r.events, ";")
		expected := "pre .;pre a;file a/c.txt;post a;file b.txt;post .;end"
		if omit == "a" {
			expected = "pre .;file b.txt;fail gone;post .;end"
		}
		if got != expected {
			t.Errorf("%s: Received %s, expected %s", omit, got, expected)
		}
	}
}

func TestMaxDepth(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, map[string]string{
		"f":         "",
		"a/b/c/d/e": "",
		"x/":        "",
	})
	depth, err := MaxDepth(root)
	if err != nil {
		t.Fatal(err)
	}
	if depth != 4 {
		t.Errorf("MaxDepth() = %d, expected 4", depth)
	}
	if d, _ := MaxDepth(filepath.Join(root, "f")); d != 0 {
		t.Errorf("MaxDepth(file) = %d, expected 0", d)
	}
	if _, err := MaxDepth(filepath.Join(root, "nope")); err == nil {
		t.Errorf("Expected an error for a missing root")
	}
}

func TestDefaultLevel(t *testing.T) {
	var tests = []struct{ depth, level int }{
		{0, 1}, {1, 1}, {2, 1}, {3, 2}, {4, 2}, {7, 4},
	}
	for _, test := range tests {
		if got := DefaultLevel(test.depth); got != test.level {
			t.Errorf("DefaultLevel(%d) = %d, expected %d", test.depth, got, test.level)
		}
	}
}

func TestCommonDirectory(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, map[string]string{
		"a/b/f1": "",
		"a/b/f2": "",
		"a/c/":   "",
	})
	j := func(s string) string { return filepath.Join(root, filepath.FromSlash(s)) }
	var tests = []struct {
		paths    []string
		expected string
	}{
		{nil, ""},
		{[]string{j("a/b/f1")}, j("a/b")},
		{[]string{j("a/b/f1"), j("a/b/f2")}, j("a/b")},
		{[]string{j("a/b/f1"), j("a/c")}, j("a")},
		{[]string{j("a/b"), j("a/c")}, j("a")},
		{[]string{j("a/b/f1"), "/"}, "/"},
	}
	for _, test := range tests {
		got := CommonDirectory(test.paths)
		if got != test.expected {
			t.Errorf("CommonDirectory(%v) = %s, expected %s", test.paths, got, test.expected)
		}
	}
}
