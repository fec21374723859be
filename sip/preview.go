// Package sip describes Submission Information Packages before they are
// created. A Preview names the payload (a set of tree nodes), carries the
// descriptive metadata resolved for it, and knows its total payload size.
package sip

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ndlib/sipexport/tree"
)

// Descriptor identifies a package for the people and systems receiving it.
type Descriptor struct {
	ID       string // stable identifier
	ParentID string // identifier of the classification node this belongs to
	Title    string
}

// Level is the value saved in the "level" tag of every package.
const Level = "item"

// Preview is a package that has not been created yet. It is goroutine safe.
type Preview struct {
	Descriptor

	m        sync.RWMutex
	roots    []*tree.Node
	metadata map[string]string // metadata field name to content
	size     int64
	sizeErr  error
}

// New returns a preview with a fresh identifier. The roots are frozen and
// the payload size is computed. The roots must have distinct names, since
// each is saved under its name in the package; AddRoot checks this.
func New(title, parentID string, roots ...*tree.Node) *Preview {
	p := &Preview{
		Descriptor: Descriptor{
			ID:       uuid.New().String(),
			ParentID: parentID,
			Title:    title,
		},
		metadata: make(map[string]string),
	}
	for _, r := range roots {
		r.Freeze()
		p.roots = append(p.roots, r)
	}
	p.recompute()
	return p
}

var (
	// ErrDuplicateRoot is returned when a node's path is already a root.
	ErrDuplicateRoot = errors.New("root already in preview")

	// ErrNameTaken is returned when another root has the same name.
	ErrNameTaken = errors.New("a root with this name is already in preview")
)

// Roots returns the payload root nodes in the order they were added.
func (p *Preview) Roots() []*tree.Node {
	p.m.RLock()
	defer p.m.RUnlock()
	return append([]*tree.Node(nil), p.roots...)
}

// AddRoot appends a payload root and recomputes the size.
func (p *Preview) AddRoot(n *tree.Node) error {
	p.m.Lock()
	defer p.m.Unlock()
	for _, r := range p.roots {
		if r.Path() == n.Path() {
			return ErrDuplicateRoot
		}
		if r.Name() == n.Name() {
			return ErrNameTaken
		}
	}
	n.Freeze()
	p.roots = append(p.roots, n)
	p.recompute()
	return nil
}

// RemoveRoot removes the root with the given path, if any, and recomputes
// the size. It returns true if a root was removed.
func (p *Preview) RemoveRoot(path string) bool {
	p.m.Lock()
	defer p.m.Unlock()
	for i, r := range p.roots {
		if r.Path() == path {
			p.roots = append(p.roots[:i], p.roots[i+1:]...)
			p.recompute()
			return true
		}
	}
	return false
}

// recompute resets the size from the sizes cached in the nodes. Caller must
// hold the write lock or be the only user of p.
func (p *Preview) recompute() {
	p.sum((*tree.Node).TotalSize)
}

func (p *Preview) sum(size func(*tree.Node) (int64, error)) {
	p.size, p.sizeErr = 0, nil
	for _, r := range p.roots {
		sz, err := size(r)
		if err != nil {
			p.sizeErr = errors.Wrapf(err, "sizing %s", r.Path())
			return
		}
		p.size += sz
	}
}

// Size returns the total payload size in bytes, and any error encountered
// while computing it.
func (p *Preview) Size() (int64, error) {
	p.m.RLock()
	defer p.m.RUnlock()
	return p.size, p.sizeErr
}

// Resize recomputes the payload size from the file system and returns it.
// Every file is stat'ed again, so changes since the walk are seen.
func (p *Preview) Resize() (int64, error) {
	p.m.Lock()
	defer p.m.Unlock()
	p.sum((*tree.Node).DiskSize)
	return p.size, p.sizeErr
}

// SetMetadata stores the content of one metadata field. Setting empty
// content removes the field.
func (p *Preview) SetMetadata(field, content string) {
	p.m.Lock()
	defer p.m.Unlock()
	if content == "" {
		delete(p.metadata, field)
		return
	}
	p.metadata[field] = content
}

// Metadata returns a copy of the resolved metadata, keyed by field name.
func (p *Preview) Metadata() map[string]string {
	p.m.RLock()
	defer p.m.RUnlock()
	result := make(map[string]string, len(p.metadata))
	for k, v := range p.metadata {
		result[k] = v
	}
	return result
}

// MetadataFields returns the metadata field names in sorted order.
func (p *Preview) MetadataFields() []string {
	p.m.RLock()
	defer p.m.RUnlock()
	result := make([]string, 0, len(p.metadata))
	for k := range p.metadata {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

// HasMetadata returns true if any metadata was resolved for this package.
func (p *Preview) HasMetadata() bool {
	p.m.RLock()
	defer p.m.RUnlock()
	return len(p.metadata) > 0
}
