// Package visitor walks a file system tree and sorts what it finds into
// package previews according to a packaging strategy: a single package for
// everything, one package per file, or one package per folder at a given
// depth below the root.
//
// Content filters are applied to every entry; excluded files never appear in
// any preview. Metadata for each candidate package is resolved from a single
// configured file or from a sidecar file found by naming convention.
//
// A Visitor is driven by one goroutine. Progress is published to subscribers
// at most once per notification window, plus exactly one final notification
// when the walk ends.
package visitor

import (
	"context"
	"io/fs"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/pkg/errors"

	"github.com/ndlib/sipexport/filter"
	"github.com/ndlib/sipexport/sip"
	"github.com/ndlib/sipexport/tree"
)

// Strategy selects how files are grouped into packages.
type Strategy int

const (
	SinglePackage Strategy = iota
	PerFile
	PerFolder
)

func (s Strategy) String() string {
	switch s {
	case SinglePackage:
		return "single"
	case PerFile:
		return "file"
	case PerFolder:
		return "folder"
	}
	return "unknown"
}

// ParseStrategy converts the names returned by Strategy.String back.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "single", "":
		return SinglePackage, nil
	case "file":
		return PerFile, nil
	case "folder":
		return PerFolder, nil
	}
	return SinglePackage, errors.Errorf("unknown strategy %q", s)
}

// DefaultWindow is the minimum time between two progress notifications.
const DefaultWindow = 500 * time.Millisecond

// Config is everything a Visitor needs to know. It is not modified by the
// Visitor.
type Config struct {
	Strategy Strategy
	Level    int // depth of the package folders for PerFolder, at least 1
	Filters  filter.Set
	Metadata MetadataSource
	ParentID string
	Title    string // title of the package for SinglePackage; defaults to the root name

	Window time.Duration // defaults to DefaultWindow
	Clock  clock.Clock   // defaults to the wall clock
}

// Validate checks the configuration for missing values.
func (c Config) Validate() error {
	if c.Strategy == PerFolder && c.Level < 1 {
		return errors.Errorf("folder level must be at least 1, got %d", c.Level)
	}
	return c.Metadata.Validate()
}

// Progress is a snapshot of the visitor's output counts.
type Progress struct {
	Added    int  // previews emitted so far
	Consumed int  // previews handed out by Next
	Done     bool // the walk has finished
}

// Visitor implements Handler, collecting package previews.
type Visitor struct {
	cfg    Config
	root   string
	clock  clock.Clock
	window time.Duration
	meta   *resolver

	m           sync.Mutex // protects everything in this block
	previews    []*sip.Preview
	consumed    int
	failures    []Failure
	unassigned  []string
	subscribers []func(Progress)
	lastNotify  time.Time
	notified    bool
	ended       bool

	// used only by the walking goroutine
	level int          // depth of package roots for the folder strategies
	stack []*tree.Node // open directory nodes of the current package
	files int
}

// Failure records a path the walk could not read.
type Failure struct {
	Path string
	Err  error
}

// New returns a Visitor for the given configuration.
func New(cfg Config) (*Visitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	v := &Visitor{
		cfg:    cfg,
		clock:  cfg.Clock,
		window: cfg.Window,
		meta:   newResolver(cfg.Metadata),
		level:  cfg.Level,
	}
	if v.clock == nil {
		v.clock = clock.New()
	}
	if v.window <= 0 {
		v.window = DefaultWindow
	}
	if cfg.Strategy == SinglePackage {
		v.level = 0
	}
	return v, nil
}

// Walk visits root with this visitor. A Visitor should only walk once.
func (v *Visitor) Walk(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return errors.Wrapf(err, "resolving %s", root)
	}
	v.root = abs
	return Walk(ctx, abs, v)
}

// Build is a convenience which walks root with a new Visitor and returns
// the previews produced, along with the visitor for inspection.
func Build(ctx context.Context, root string, cfg Config) ([]*sip.Preview, *Visitor, error) {
	v, err := New(cfg)
	if err != nil {
		return nil, nil, err
	}
	err = v.Walk(ctx, root)
	return v.Previews(), v, err
}

// depth returns the number of path elements between the root and path.
func (v *Visitor) depth(path string) int {
	rel, err := filepath.Rel(v.root, path)
	if err != nil || rel == "." {
		return 0
	}
	return len(strings.Split(rel, string(filepath.Separator)))
}

// Excluded reports whether the filters leave path out. Filters see the path
// relative to the root, slash separated, with a trailing slash on
// directories. The root itself is never excluded.
func (v *Visitor) Excluded(path string, dir bool) bool {
	rel, err := filepath.Rel(v.root, path)
	if err != nil || rel == "." {
		return false
	}
	rel = filepath.ToSlash(rel)
	if dir {
		rel += "/"
	}
	return v.cfg.Filters.Match(rel)
}

// PreVisitDirectory opens a new package when the directory sits at the
// package depth, and otherwise attaches it to the package being built.
func (v *Visitor) PreVisitDirectory(path string, info fs.FileInfo) error {
	if v.Excluded(path, true) {
		return fs.SkipDir
	}
	if v.cfg.Strategy == PerFile {
		return nil
	}
	d := v.depth(path)
	switch {
	case d < v.level:
		// descend, nothing to attach yet
	case d == v.level:
		v.stack = []*tree.Node{tree.NewDir(path)}
	default:
		n := tree.NewDir(path)
		if err := v.top().Add(n); err != nil {
			return errors.Wrapf(err, "attaching %s", path)
		}
		v.stack = append(v.stack, n)
	}
	return nil
}

// PostVisitDirectory closes the package when leaving its root directory.
func (v *Visitor) PostVisitDirectory(path string) {
	if v.cfg.Strategy == PerFile {
		return
	}
	d := v.depth(path)
	switch {
	case d < v.level:
	case d == v.level:
		root := v.stack[0]
		v.stack = nil
		v.emit(v.newPreview(root, v.title(path)))
	default:
		v.stack = v.stack[:len(v.stack)-1]
	}
}

func (v *Visitor) top() *tree.Node {
	return v.stack[len(v.stack)-1]
}

// VisitFile attaches a file to a package, or makes a package of it.
func (v *Visitor) VisitFile(path string, info fs.FileInfo) {
	if v.Excluded(path, false) {
		return
	}
	node := tree.NewFile(path, info.Size())
	v.files++
	switch {
	case v.cfg.Strategy == PerFile:
		v.emit(v.newPreview(node, filepath.Base(path)))
	case path == v.root && v.cfg.Strategy == SinglePackage:
		// the root is a plain file
		v.emit(v.newPreview(node, v.title(path)))
	case len(v.stack) == 0:
		v.m.Lock()
		v.unassigned = append(v.unassigned, path)
		v.m.Unlock()
	default:
		if err := v.top().Add(node); err != nil {
			v.VisitFileFailed(path, err)
		}
	}
}

// VisitFileFailed records the failure. The path is left out of every package.
func (v *Visitor) VisitFileFailed(path string, err error) {
	log.Printf("visit %s: %s", path, err.Error())
	v.m.Lock()
	v.failures = append(v.failures, Failure{Path: path, Err: err})
	v.m.Unlock()
}

// End sends the final progress notification.
func (v *Visitor) End() {
	v.m.Lock()
	if v.ended {
		v.m.Unlock()
		return
	}
	v.ended = true
	p := v.progress()
	subs := v.subscribers
	v.m.Unlock()
	for _, fn := range subs {
		fn(p)
	}
}

func (v *Visitor) title(path string) string {
	if v.cfg.Strategy == SinglePackage && v.cfg.Title != "" {
		return v.cfg.Title
	}
	return filepath.Base(path)
}

func (v *Visitor) newPreview(root *tree.Node, title string) *sip.Preview {
	p := sip.New(title, v.cfg.ParentID, root)
	if field, content, ok := v.meta.resolve(root.Path()); ok {
		p.SetMetadata(field, content)
	}
	return p
}

// emit adds p to the output and notifies subscribers if the window allows.
func (v *Visitor) emit(p *sip.Preview) {
	v.m.Lock()
	v.previews = append(v.previews, p)
	now := v.clock.Now()
	if v.notified && now.Sub(v.lastNotify) <= v.window {
		v.m.Unlock()
		return
	}
	v.notified = true
	v.lastNotify = now
	snap := v.progress()
	subs := v.subscribers
	v.m.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

// progress returns the current snapshot. Caller must hold v.m.
func (v *Visitor) progress() Progress {
	return Progress{
		Added:    len(v.previews),
		Consumed: v.consumed,
		Done:     v.ended,
	}
}

// Subscribe registers fn to receive progress notifications. fn is called
// from the walking goroutine and should not block.
func (v *Visitor) Subscribe(fn func(Progress)) {
	v.m.Lock()
	v.subscribers = append(v.subscribers, fn)
	v.m.Unlock()
}

// Progress returns the current counts.
func (v *Visitor) Progress() Progress {
	v.m.Lock()
	defer v.m.Unlock()
	return v.progress()
}

// HasNext returns true if there are previews which Next has not returned.
// HasNext and Next support a single consumer only.
func (v *Visitor) HasNext() bool {
	v.m.Lock()
	defer v.m.Unlock()
	return v.consumed < len(v.previews)
}

// Next returns the next preview not yet consumed, or nil.
func (v *Visitor) Next() *sip.Preview {
	v.m.Lock()
	defer v.m.Unlock()
	if v.consumed >= len(v.previews) {
		return nil
	}
	p := v.previews[v.consumed]
	v.consumed++
	return p
}

// Previews returns every preview emitted so far, in emission order.
func (v *Visitor) Previews() []*sip.Preview {
	v.m.Lock()
	defer v.m.Unlock()
	return append([]*sip.Preview(nil), v.previews...)
}

// Failures returns the paths which could not be visited.
func (v *Visitor) Failures() []Failure {
	v.m.Lock()
	defer v.m.Unlock()
	return append([]Failure(nil), v.failures...)
}

// Unassigned returns the files which were not placed in any package. This
// happens for files sitting above the package depth of PerFolder.
func (v *Visitor) Unassigned() []string {
	v.m.Lock()
	defer v.m.Unlock()
	return append([]string(nil), v.unassigned...)
}

// FileCount returns the number of files placed in packages or left
// unassigned, i.e. every file not excluded and not failed.
func (v *Visitor) FileCount() int {
	return v.files
}
