// Package tree provides an in-memory mirror of a file system subtree. Nodes
// are populated lazily: a node learns whether it is a file or a directory the
// first time it is asked, and a directory reads its children only when they
// are requested, unless a visitor has already attached them.
//
// Nodes cache the path and size, never file content.
//
// Once a node is attached to a package preview it is frozen. A frozen node
// cannot gain children. To pick up changes made on disk use Refresh, which
// builds a new subtree instead of altering the shared one.
package tree

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Kind is the type of file system object a node mirrors.
type Kind int

const (
	KindUnknown Kind = iota
	KindFile
	KindDir
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "directory"
	}
	return "unknown"
}

var (
	// ErrFrozen means a structural change was attempted on a frozen node.
	ErrFrozen = errors.New("tree node is frozen")

	// ErrNotDir means children were added to or requested from a file.
	ErrNotDir = errors.New("tree node is not a directory")
)

// Node mirrors one file or directory.
type Node struct {
	path string

	statOnce sync.Once
	kind     Kind
	size     int64 // only meaningful for files
	statErr  error

	m        sync.Mutex       // protects everything below
	loaded   bool             // true once children reflects the directory
	explicit bool             // children were attached with Add, not read
	frozen   bool             // no more structural changes
	children map[string]*Node // child name to node
}

// New returns a node for path. The path is made absolute. Nothing is read
// from disk until the node is queried.
func New(path string) *Node {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return &Node{path: path}
}

// NewDir returns a directory node whose children will be attached explicitly
// with Add instead of being read from disk.
func NewDir(path string) *Node {
	n := New(path)
	n.statOnce.Do(func() { n.kind = KindDir })
	n.loaded = true
	n.explicit = true
	n.children = make(map[string]*Node)
	return n
}

// NewFile returns a file node with an already known size.
func NewFile(path string, size int64) *Node {
	n := New(path)
	n.statOnce.Do(func() {
		n.kind = KindFile
		n.size = size
	})
	return n
}

// Path returns the absolute path of this node.
func (n *Node) Path() string { return n.path }

// Name returns the last element of the path.
func (n *Node) Name() string { return filepath.Base(n.path) }

func (n *Node) stat() {
	n.statOnce.Do(func() {
		fi, err := os.Stat(n.path)
		if err != nil {
			n.statErr = err
			return
		}
		if fi.IsDir() {
			n.kind = KindDir
		} else {
			n.kind = KindFile
			n.size = fi.Size()
		}
	})
}

// Kind returns whether this node is a file or directory, reading the file
// system on first use.
func (n *Node) Kind() (Kind, error) {
	n.stat()
	return n.kind, n.statErr
}

// IsDir returns true if this node is a directory. Errors resolving the
// kind are treated as "not a directory".
func (n *Node) IsDir() bool {
	k, _ := n.Kind()
	return k == KindDir
}

// Size returns the size of a file node in bytes. Directories have size 0.
func (n *Node) Size() (int64, error) {
	n.stat()
	return n.size, n.statErr
}

// Add attaches child underneath n. It replaces any existing child with the
// same name.
func (n *Node) Add(child *Node) error {
	if !n.IsDir() {
		return ErrNotDir
	}
	n.m.Lock()
	defer n.m.Unlock()
	if n.frozen {
		return ErrFrozen
	}
	if n.children == nil {
		n.children = make(map[string]*Node)
	}
	n.children[child.Name()] = child
	return nil
}

// Remove detaches the child with the given name. Removing a missing child
// is not an error.
func (n *Node) Remove(name string) error {
	n.m.Lock()
	defer n.m.Unlock()
	if n.frozen {
		return ErrFrozen
	}
	delete(n.children, name)
	return nil
}

// Children returns the children of a directory ordered by name. The first
// call on a node without explicitly attached children reads the directory.
func (n *Node) Children() ([]*Node, error) {
	k, err := n.Kind()
	if err != nil {
		return nil, err
	}
	if k != KindDir {
		return nil, ErrNotDir
	}
	n.m.Lock()
	defer n.m.Unlock()
	if !n.loaded {
		entries, err := os.ReadDir(n.path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", n.path)
		}
		n.children = make(map[string]*Node, len(entries))
		for _, e := range entries {
			c := New(filepath.Join(n.path, e.Name()))
			c.frozen = n.frozen
			n.children[e.Name()] = c
		}
		n.loaded = true
	}
	result := make([]*Node, 0, len(n.children))
	for _, c := range n.children {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name() < result[j].Name()
	})
	return result, nil
}

// Child returns the child with the given name, or nil.
func (n *Node) Child(name string) *Node {
	if !n.IsDir() {
		return nil
	}
	// make sure a lazy directory has been read
	if _, err := n.Children(); err != nil {
		return nil
	}
	n.m.Lock()
	defer n.m.Unlock()
	return n.children[name]
}

// Freeze marks this node and every descendant read-only.
func (n *Node) Freeze() {
	n.m.Lock()
	n.frozen = true
	kids := make([]*Node, 0, len(n.children))
	for _, c := range n.children {
		kids = append(kids, c)
	}
	n.m.Unlock()
	for _, c := range kids {
		c.Freeze()
	}
}

// Frozen returns true if Freeze has been called on this node or an ancestor.
func (n *Node) Frozen() bool {
	n.m.Lock()
	defer n.m.Unlock()
	return n.frozen
}

// TotalSize returns the sum of the sizes of every file reachable from n,
// including n itself if it is a file.
func (n *Node) TotalSize() (int64, error) {
	k, err := n.Kind()
	if err != nil {
		return 0, err
	}
	if k == KindFile {
		return n.size, nil
	}
	kids, err := n.Children()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, c := range kids {
		sz, err := c.TotalSize()
		if err != nil {
			return 0, err
		}
		total += sz
	}
	return total, nil
}

// DiskSize is TotalSize except every file is stat'ed again instead of using
// the size known when its node was made. Directory structure is not reread.
func (n *Node) DiskSize() (int64, error) {
	k, err := n.Kind()
	if err != nil {
		return 0, err
	}
	if k == KindFile {
		fi, err := os.Stat(n.path)
		if err != nil {
			return 0, err
		}
		return fi.Size(), nil
	}
	kids, err := n.Children()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, c := range kids {
		sz, err := c.DiskSize()
		if err != nil {
			return 0, err
		}
		total += sz
	}
	return total, nil
}

// Walk calls fn for n and every descendant in depth first, pre-order, with
// children visited in name order. If fn returns an error the walk stops and
// returns it.
func (n *Node) Walk(fn func(*Node) error) error {
	if err := fn(n); err != nil {
		return err
	}
	if !n.IsDir() {
		return nil
	}
	kids, err := n.Children()
	if err != nil {
		return err
	}
	for _, c := range kids {
		if err := c.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}

// Refresh returns a new, unfrozen subtree for the same path, re-read from
// disk. Explicitly attached children which no longer exist are dropped;
// those still present are refreshed. For lazily read directories the new
// subtree is read lazily again.
func (n *Node) Refresh() (*Node, error) {
	fi, err := os.Stat(n.path)
	if err != nil {
		return nil, errors.Wrapf(err, "refreshing %s", n.path)
	}
	if !fi.IsDir() {
		return NewFile(n.path, fi.Size()), nil
	}
	n.m.Lock()
	explicit := n.explicit
	kids := make([]*Node, 0, len(n.children))
	for _, c := range n.children {
		kids = append(kids, c)
	}
	n.m.Unlock()
	if !explicit {
		return New(n.path), nil
	}
	result := NewDir(n.path)
	for _, c := range kids {
		fresh, err := c.Refresh()
		if err != nil {
			if os.IsNotExist(errors.Cause(err)) {
				continue
			}
			return nil, err
		}
		result.children[fresh.Name()] = fresh
	}
	return result, nil
}
