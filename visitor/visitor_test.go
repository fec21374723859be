package visitor

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/facebookgo/clock"

	"github.com/ndlib/sipexport/filter"
	"github.com/ndlib/sipexport/sip"
	"github.com/ndlib/sipexport/tree"
)

// makeTree creates each entry of files under root. Entries ending with a
// slash are empty directories.
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

// payload lists the files in a preview relative to base, sorted.
func payload(t *testing.T, base string, p *sip.Preview) []string {
	t.Helper()
	var result []string
	for _, r := range p.Roots() {
		err := r.Walk(func(n *tree.Node) error {
			if !n.IsDir() {
				rel, _ := filepath.Rel(base, n.Path())
				result = append(result, filepath.ToSlash(rel))
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	sort.Strings(result)
	return result
}

func titles(previews []*sip.Preview) string {
	var result []string
	for _, p := range previews {
		result = append(result, p.Title)
	}
	return strings.Join(result, ",")
}

var sample = map[string]string{
	"top.txt":            "top",
	"a/one.txt":          "1",
	"a/x/two.txt":        "22",
	"a/x/deep/three.txt": "333",
	"a/.DS_Store":        "junk",
	"b/four.txt":         "4444",
	"b/y/five.txt":       "55555",
	"b/.hidden/six.txt":  "666666",
	"c/empty/":           "",
	"d/Thumbs.db":        "junk",
}

func TestSinglePackage(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, sample)
	cfg := Config{
		Strategy: SinglePackage,
		Filters:  filter.Set{filter.OSMetadata(), filter.Hidden},
		Title:    "Everything",
		ParentID: "fonds-1",
	}
	previews, v, err := Build(context.Background(), root, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(previews) != 1 {
		t.Fatalf("Received %d previews, expected 1", len(previews))
	}
	p := previews[0]
	if p.Title != "Everything" || p.ParentID != "fonds-1" {
		t.Errorf("Received %+v", p.Descriptor)
	}
	got := strings.Join(payload(t, root, p), ",")
	expected := "a/one.txt,a/x/deep/three.txt,a/x/two.txt,b/four.txt,b/y/five.txt,top.txt"
	if got != expected {
		t.Errorf("Received %s, expected %s", got, expected)
	}
	size, _ := p.Size()
	if size != 3+1+2+3+4+5 {
		t.Errorf("Size() = %d, expected 18", size)
	}
	if v.FileCount() != 6 {
		t.Errorf("FileCount() = %d, expected 6", v.FileCount())
	}
	if len(v.Unassigned()) != 0 {
		t.Errorf("Unexpected unassigned files %v", v.Unassigned())
	}
}

func TestSinglePackageDefaultTitle(t *testing.T) {
	root := filepath.Join(t.TempDir(), "Collection")
	makeTree(t, root, map[string]string{"f.txt": "f"})
	previews, _, err := Build(context.Background(), root, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if titles(previews) != "Collection" {
		t.Errorf("Received %s, expected Collection", titles(previews))
	}
}

func TestPerFile(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, sample)
	cfg := Config{
		Strategy: PerFile,
		Filters:  filter.Set{filter.OSMetadata(), filter.Hidden},
	}
	previews, _, err := Build(context.Background(), root, cfg)
	if err != nil {
		t.Fatal(err)
	}
	got := titles(previews)
	expected := "one.txt,three.txt,two.txt,four.txt,five.txt,top.txt"
	if got != expected {
		t.Errorf("Received %s, expected %s", got, expected)
	}
	for _, p := range previews {
		roots := p.Roots()
		if len(roots) != 1 {
			t.Errorf("%s has %d roots, expected 1", p.Title, len(roots))
			continue
		}
		if roots[0].IsDir() || roots[0].Name() != p.Title {
			t.Errorf("%s has root %s", p.Title, roots[0].Path())
		}
	}
}

func TestPerFolder(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, sample)
	var tests = []struct {
		level    int
		titles   string
		unassign int
	}{
		{1, "a,b,c,d", 1},
		{2, "x,y,empty", 3},
		{3, "deep", 5},
		{4, "", 6},
	}
	for _, test := range tests {
		cfg := Config{
			Strategy: PerFolder,
			Level:    test.level,
			Filters:  filter.Set{filter.OSMetadata(), filter.Hidden},
		}
		previews, v, err := Build(context.Background(), root, cfg)
		if err != nil {
			t.Fatal(err)
		}
		if got := titles(previews); got != test.titles {
			t.Errorf("Level %d: received %s, expected %s", test.level, got, test.titles)
		}
		if n := len(v.Unassigned()); n != test.unassign {
			t.Errorf("Level %d: %d unassigned, expected %d", test.level, n, test.unassign)
		}
		// every root sits at exactly the folder level
		for _, p := range previews {
			for _, r := range p.Roots() {
				if d := v.depth(r.Path()); d != test.level {
					t.Errorf("Level %d: root %s at depth %d", test.level, r.Path(), d)
				}
			}
		}
	}
}

func TestPerFolderContents(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, sample)
	cfg := Config{
		Strategy: PerFolder,
		Level:    1,
		Filters:  filter.Set{filter.OSMetadata(), filter.Hidden},
	}
	previews, _, err := Build(context.Background(), root, cfg)
	if err != nil {
		t.Fatal(err)
	}
	var expected = map[string]string{
		"a": "a/one.txt,a/x/deep/three.txt,a/x/two.txt",
		"b": "b/four.txt,b/y/five.txt",
		"c": "",
		"d": "",
	}
	for _, p := range previews {
		got := strings.Join(payload(t, root, p), ",")
		if got != expected[p.Title] {
			t.Errorf("%s: received %s, expected %s", p.Title, got, expected[p.Title])
		}
	}
}

func TestPerFolderNeedsLevel(t *testing.T) {
	_, err := New(Config{Strategy: PerFolder})
	if err == nil {
		t.Errorf("Expected an error for level 0")
	}
}

// excluded files must not show up in any preview, whatever the strategy
func TestFilterExclusion(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, sample)
	f := filter.Set{filter.OSMetadata(), filter.Hidden, filter.NewExtensions("txt")}
	for _, s := range []Strategy{SinglePackage, PerFile, PerFolder} {
		previews, v, err := Build(context.Background(), root, Config{Strategy: s, Level: 1, Filters: f})
		if err != nil {
			t.Fatal(err)
		}
		for _, p := range previews {
			if files := payload(t, root, p); len(files) != 0 {
				t.Errorf("%s: found excluded files %v", s, files)
			}
		}
		if v.FileCount() != 0 {
			t.Errorf("%s: FileCount() = %d, expected 0", s, v.FileCount())
		}
	}
}

func TestFileRoot(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, map[string]string{"only.bin": "12345"})
	previews, _, err := Build(context.Background(), filepath.Join(root, "only.bin"), Config{})
	if err != nil {
		t.Fatal(err)
	}
	if len(previews) != 1 || previews[0].Title != "only.bin" {
		t.Fatalf("Received %s, expected only.bin", titles(previews))
	}
	if size, _ := previews[0].Size(); size != 5 {
		t.Errorf("Size() = %d, expected 5", size)
	}
}

func TestMissingRoot(t *testing.T) {
	previews, v, err := Build(context.Background(), filepath.Join(t.TempDir(), "nope"), Config{})
	if err == nil {
		t.Errorf("Expected an error for a missing root")
	}
	if len(previews) != 0 || len(v.Failures()) != 1 {
		t.Errorf("Received %d previews and %d failures", len(previews), len(v.Failures()))
	}
}

func TestVisitFailures(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, map[string]string{"good.txt": "g"})
	err := os.Symlink(filepath.Join(root, "missing"), filepath.Join(root, "broken"))
	if err != nil {
		t.Skip("symlinks not supported:", err)
	}
	previews, v, err := Build(context.Background(), root, Config{Strategy: PerFile})
	if err != nil {
		t.Fatal(err)
	}
	if titles(previews) != "good.txt" {
		t.Errorf("Received %s, expected good.txt", titles(previews))
	}
	failures := v.Failures()
	if len(failures) != 1 || filepath.Base(failures[0].Path) != "broken" {
		t.Errorf("Received failures %v, expected broken", failures)
	}
}

// an excluded entry is never read, so an unreadable one is no failure
func TestExcludedNotRead(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, map[string]string{"keep.txt": "k"})
	err := os.Symlink(filepath.Join(root, "missing"), filepath.Join(root, "._keep.txt"))
	if err != nil {
		t.Skip("symlinks not supported:", err)
	}
	cfg := Config{Strategy: PerFile, Filters: filter.Set{filter.OSMetadata()}}
	previews, v, err := Build(context.Background(), root, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if titles(previews) != "keep.txt" {
		t.Errorf("Received %s, expected keep.txt", titles(previews))
	}
	if len(v.Failures()) != 0 || v.FileCount() != 1 {
		t.Errorf("Received failures %v and %d files, expected none and 1", v.Failures(), v.FileCount())
	}
}

// only the path below the root counts for hidden elements
func TestHiddenAncestor(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".work", "src")
	makeTree(t, root, map[string]string{"a.txt": "a", ".b.txt": "b"})
	cfg := Config{Strategy: PerFile, Filters: filter.Set{filter.Hidden}}
	previews, _, err := Build(context.Background(), root, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if titles(previews) != "a.txt" {
		t.Errorf("Received %s, expected a.txt", titles(previews))
	}
}

func TestPatternsRelativeToRoot(t *testing.T) {
	var table = []struct {
		pattern string
		output  string
	}{
		{"/build", "a.txt,sub/build/y.o"},
		{"build/", "a.txt"},
		{"/sub/build/", "a.txt,build/x.o"},
		{"*.o", "a.txt"},
	}
	for _, test := range table {
		root := t.TempDir()
		makeTree(t, root, map[string]string{
			"a.txt":         "a",
			"build/x.o":     "x",
			"sub/build/y.o": "y",
		})
		cfg := Config{Filters: filter.Set{filter.CompilePatterns(test.pattern)}}
		previews, _, err := Build(context.Background(), root, cfg)
		if err != nil {
			t.Fatal(err)
		}
		if len(previews) != 1 {
			t.Fatalf("%s: Received %d previews, expected 1", test.pattern, len(previews))
		}
		got := strings.Join(payload(t, root, previews[0]), ",")
		if got != test.output {
			t.Errorf("%s: Received %s, expected %s", test.pattern, got, test.output)
		}
	}
}

func TestCancelledWalk(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, sample)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	v, _ := New(Config{Strategy: PerFile})
	var final []Progress
	v.Subscribe(func(p Progress) {
		if p.Done {
			final = append(final, p)
		}
	})
	err := v.Walk(ctx, root)
	if err != context.Canceled {
		t.Errorf("Received %v, expected context.Canceled", err)
	}
	if len(final) != 1 {
		t.Errorf("Received %d final notifications, expected 1", len(final))
	}
}

func TestNextConsumption(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, map[string]string{"a": "a", "b": "b", "c": "c"})
	v, _ := New(Config{Strategy: PerFile})
	if v.HasNext() || v.Next() != nil {
		t.Errorf("Expected nothing before the walk")
	}
	if err := v.Walk(context.Background(), root); err != nil {
		t.Fatal(err)
	}
	var got []string
	for v.HasNext() {
		got = append(got, v.Next().Title)
	}
	if strings.Join(got, ",") != "a,b,c" {
		t.Errorf("Received %v, expected a,b,c", got)
	}
	p := v.Progress()
	if p.Added != 3 || p.Consumed != 3 || !p.Done {
		t.Errorf("Received %+v", p)
	}
}

func TestThrottle(t *testing.T) {
	mock := clock.NewMock()
	v, _ := New(Config{Strategy: PerFile, Clock: mock})
	v.root = "/r"
	var got []Progress
	v.Subscribe(func(p Progress) { got = append(got, p) })

	info := fakeInfo{size: 1}
	step := func(name string, d time.Duration) {
		mock.Add(d)
		v.VisitFile(filepath.Join("/r", name), info)
	}
	step("1", 0)                    // first one always goes out
	step("2", 100*time.Millisecond) // inside the window
	step("3", 200*time.Millisecond)
	step("4", 300*time.Millisecond) // 600ms after the first
	step("5", 100*time.Millisecond)
	if len(got) != 2 {
		t.Fatalf("Received %d notifications, expected 2", len(got))
	}
	if got[0].Added != 1 || got[1].Added != 4 {
		t.Errorf("Received %+v", got)
	}
	v.End()
	v.End()
	if len(got) != 3 {
		t.Fatalf("Received %d notifications, expected 3", len(got))
	}
	if !got[2].Done || got[2].Added != 5 {
		t.Errorf("Received final %+v", got[2])
	}
}

type fakeInfo struct {
	fs.FileInfo
	size int64
}

func (f fakeInfo) Size() int64 { return f.size }

func TestParseNames(t *testing.T) {
	for _, s := range []Strategy{SinglePackage, PerFile, PerFolder} {
		back, err := ParseStrategy(s.String())
		if err != nil || back != s {
			t.Errorf("ParseStrategy(%s) = %v, %v", s, back, err)
		}
	}
	for _, k := range []MetadataKind{MetadataNone, MetadataSingleFile, MetadataSameDirectory, MetadataDiffDirectory} {
		back, err := ParseMetadataKind(k.String())
		if err != nil || back != k {
			t.Errorf("ParseMetadataKind(%s) = %v, %v", k, back, err)
		}
	}
	if _, err := ParseStrategy("bogus"); err == nil {
		t.Errorf("Expected an error for an unknown strategy")
	}
}
