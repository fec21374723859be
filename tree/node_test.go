package tree

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// makeTree creates each entry of files under root. Each entry is a slash
// separated relative path and its content. Entries ending with a slash are
// empty directories.
func makeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if strings.HasSuffix(name, "/") {
			if err := os.MkdirAll(p, 0755); err != nil {
				t.Fatal(err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLazyChildren(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, map[string]string{
		"b.txt":     "bb",
		"a.txt":     "a",
		"sub/c.txt": "ccc",
		"empty/":    "",
	})
	n := New(root)
	if !n.IsDir() {
		t.Fatalf("Expected %s to be a directory", root)
	}
	kids, err := n.Children()
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, k := range kids {
		names = append(names, k.Name())
	}
	got := strings.Join(names, ",")
	if got != "a.txt,b.txt,empty,sub" {
		t.Errorf("Received %s, expected a.txt,b.txt,empty,sub", got)
	}
	size, err := n.TotalSize()
	if err != nil {
		t.Fatal(err)
	}
	if size != 6 {
		t.Errorf("TotalSize() = %d, expected 6", size)
	}
	if n.Child("sub").Child("c.txt") == nil {
		t.Errorf("Expected to find sub/c.txt")
	}
}

func TestFileKind(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, map[string]string{"f": "12345"})
	n := New(filepath.Join(root, "f"))
	k, err := n.Kind()
	if err != nil || k != KindFile {
		t.Errorf("Kind() = %v, %v, expected file", k, err)
	}
	if _, err := n.Children(); err != ErrNotDir {
		t.Errorf("Children() error = %v, expected ErrNotDir", err)
	}
	if err := n.Add(New(root)); err != ErrNotDir {
		t.Errorf("Add() error = %v, expected ErrNotDir", err)
	}
	missing := New(filepath.Join(root, "nope"))
	if _, err := missing.Kind(); err == nil {
		t.Errorf("Expected an error for a missing file")
	}
}

func TestExplicitAndFreeze(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, map[string]string{
		"a.txt": "aaaa",
		"b.txt": "bb",
	})
	dir := NewDir(root)
	if err := dir.Add(NewFile(filepath.Join(root, "a.txt"), 4)); err != nil {
		t.Fatal(err)
	}
	// b.txt is not attached, so it should not be counted
	size, _ := dir.TotalSize()
	if size != 4 {
		t.Errorf("TotalSize() = %d, expected 4", size)
	}
	dir.Freeze()
	if !dir.Child("a.txt").Frozen() {
		t.Errorf("Expected child to be frozen")
	}
	err := dir.Add(NewFile(filepath.Join(root, "b.txt"), 2))
	if err != ErrFrozen {
		t.Errorf("Add() on frozen node = %v, expected ErrFrozen", err)
	}
	if err := dir.Remove("a.txt"); err != ErrFrozen {
		t.Errorf("Remove() on frozen node = %v, expected ErrFrozen", err)
	}
}

func TestRefresh(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, map[string]string{
		"a.txt": "aaaa",
		"b.txt": "bb",
	})
	dir := NewDir(root)
	dir.Add(New(filepath.Join(root, "a.txt")))
	dir.Add(New(filepath.Join(root, "b.txt")))
	dir.Freeze()

	os.Remove(filepath.Join(root, "b.txt"))
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0644)

	fresh, err := dir.Refresh()
	if err != nil {
		t.Fatal(err)
	}
	if fresh == dir {
		t.Fatalf("Refresh returned the same node")
	}
	if fresh.Frozen() {
		t.Errorf("Expected refreshed node to be unfrozen")
	}
	kids, _ := fresh.Children()
	if len(kids) != 1 || kids[0].Name() != "a.txt" {
		t.Errorf("Received %v, expected only a.txt", kids)
	}
	size, _ := fresh.TotalSize()
	if size != 1 {
		t.Errorf("TotalSize() = %d, expected 1", size)
	}
	// the original stays untouched
	if dir.Child("b.txt") == nil {
		t.Errorf("Expected original tree to still have b.txt")
	}
}

func TestWalkOrder(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, map[string]string{
		"z.txt":     "",
		"a/b.txt":   "",
		"a/a/c.txt": "",
	})
	var seen []string
	err := New(root).Walk(func(n *Node) error {
		rel, _ := filepath.Rel(root, n.Path())
		seen = append(seen, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	got := strings.Join(seen, ",")
	expected := ".,a,a/a,a/a/c.txt,a/b.txt,z.txt"
	if got != expected {
		t.Errorf("Received %s, expected %s", got, expected)
	}
}
