package visitor

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// MaxDepth returns the depth of the deepest directory below root. A root
// with no subdirectories has depth 0. Unreadable directories are skipped.
func MaxDepth(root string) (int, error) {
	info, err := os.Stat(root)
	if err != nil {
		return 0, errors.Wrapf(err, "depth of %s", root)
	}
	if !info.IsDir() {
		return 0, nil
	}
	return maxDepth(root), nil
}

func maxDepth(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	var max int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if d := 1 + maxDepth(filepath.Join(dir, e.Name())); d > max {
			max = d
		}
	}
	return max
}

// DefaultLevel suggests a folder level for a tree of the given depth:
// half the depth, rounded up, and never less than 1.
func DefaultLevel(depth int) int {
	level := (depth + 1) / 2
	if level < 1 {
		level = 1
	}
	return level
}

// CommonDirectory returns the longest directory containing every path.
// Paths naming files count as their parent directory. It returns the empty
// string for an empty list, or if the paths share no directory.
func CommonDirectory(paths []string) string {
	var common []string
	for i, p := range paths {
		dir := filepath.Clean(p)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			dir = filepath.Dir(dir)
		}
		parts := strings.Split(dir, string(filepath.Separator))
		if i == 0 {
			common = parts
			continue
		}
		n := 0
		for n < len(common) && n < len(parts) && common[n] == parts[n] {
			n++
		}
		common = common[:n]
	}
	if len(common) == 0 {
		return ""
	}
	if len(common) == 1 && common[0] == "" {
		// only the root is shared
		return string(filepath.Separator)
	}
	return strings.Join(common, string(filepath.Separator))
}
