// Package creation turns package previews into sealed BagIt containers.
//
// A Creator works through its previews one at a time in a background
// goroutine. Each package is staged in a directory under the output root,
// sealed into a zip container, and the staging directory is removed. A
// package that fails is cleaned up and recorded; the batch carries on with
// the next one.
package creation

import (
	"context"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookgo/clock"
	raven "github.com/getsentry/raven-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"

	"github.com/ndlib/sipexport/bagit"
	"github.com/ndlib/sipexport/ledger"
	"github.com/ndlib/sipexport/sip"
	"github.com/ndlib/sipexport/store"
	"github.com/ndlib/sipexport/util"
)

// ErrCanceled is the cause recorded for a package interrupted by Cancel.
var ErrCanceled = errors.New("export canceled")

// A Ledger keeps the outcome of every package.
type Ledger interface {
	Record(e ledger.Entry) error
}

// Options tune a Creator. The zero value is usable.
type Options struct {
	// BatchID names the batch in events and ledger entries. A random one
	// is chosen if empty.
	BatchID string

	// Clock defaults to the wall clock.
	Clock clock.Clock

	// Ledger, if not nil, receives an entry for every package.
	Ledger Ledger

	// RateLimit caps the copy speed in bytes per second. Zero means no
	// limit.
	RateLimit float64

	// SizeWorkers is the number of previews sized at the same time.
	SizeWorkers int
}

// State is where a batch is in its life.
type State int

const (
	Idle State = iota
	Running
	Finished
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Finished:
		return "finished"
	}
	return "unknown"
}

// Failure pairs a package with the reason it could not be created.
type Failure struct {
	sip.Descriptor
	Err error
}

// Outcome describes a created package.
type Outcome struct {
	sip.Descriptor
	Container string // absolute path of the sealed container
	Bytes     int64
}

// Report is the final account of a batch.
type Report struct {
	BatchID  string
	Created  []Outcome
	Failed   []Failure
	Canceled bool
	Elapsed  time.Duration
}

// Creator exports a batch of previews. Its accessors may be called from
// any goroutine while the batch runs.
type Creator struct {
	output   string
	batchID  string
	previews []*sip.Preview
	sizes    []int64
	clock    clock.Clock
	ledger   Ledger
	rate     *util.RateCounter
	store    *store.FileSystem
	canceled atomic.Bool

	// mkdir is used for every directory created in a staging area
	mkdir func(string, os.FileMode) error

	m               sync.Mutex // protects everything below
	state           State
	start           time.Time
	finish          time.Time
	total           int64
	transferred     int64
	transferredTime time.Duration
	current         *job
	created         []Outcome
	failed          []Failure
	names           map[string]bool
	subscribers     []func(Event)

	startOnce sync.Once
	done      chan struct{}
	report    *Report
	err       error
}

// New returns a Creator which will write the previews into the directory
// output. Each preview's payload size is snapshotted now; the progress
// figures are computed against these sizes.
func New(output string, previews []*sip.Preview, opts Options) (*Creator, error) {
	abs, err := filepath.Abs(output)
	if err != nil {
		return nil, errors.Wrap(err, "output directory")
	}
	c := &Creator{
		output:   abs,
		batchID:  opts.BatchID,
		previews: previews,
		sizes:    make([]int64, len(previews)),
		clock:    opts.Clock,
		ledger:   opts.Ledger,
		store:    store.NewFileSystem(abs),
		mkdir:    os.Mkdir,
		names:    make(map[string]bool),
		done:     make(chan struct{}),
	}
	if c.batchID == "" {
		c.batchID = uuid.New().String()
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if opts.RateLimit > 0 {
		c.rate = util.NewRateCounterInterval(opts.RateLimit, util.DefaultInterval, c.clock)
	}
	workers := opts.SizeWorkers
	if workers <= 0 {
		workers = 4
	}

	p := pool.New().WithErrors().WithMaxGoroutines(workers)
	for i, preview := range previews {
		i, preview := i, preview
		p.Go(func() error {
			size, err := preview.Resize()
			c.sizes[i] = size
			return errors.Wrapf(err, "sizing %s", preview.Title)
		})
	}
	if err := p.Wait(); err != nil {
		// the package will fail when it is copied
		log.Println("creation:", err)
	}
	for _, size := range c.sizes {
		c.total += size
	}
	return c, nil
}

// BatchID returns the identifier of this batch.
func (c *Creator) BatchID() string {
	return c.batchID
}

// Output returns the absolute path of the output directory.
func (c *Creator) Output() string {
	return c.output
}

// Start runs the batch in a new goroutine. Use Wait to get the result.
// Calling Start more than once has no effect.
func (c *Creator) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		go func() {
			c.report, c.err = c.run(ctx)
			close(c.done)
		}()
	})
}

// Wait blocks until a batch begun with Start finishes.
func (c *Creator) Wait() (*Report, error) {
	<-c.done
	return c.report, c.err
}

// Run creates every package and returns the report. The only error
// returned is when the output directory cannot be created; failures of
// single packages are in the report. Canceling ctx cancels the batch.
func (c *Creator) Run(ctx context.Context) (*Report, error) {
	c.Start(ctx)
	return c.Wait()
}

func (c *Creator) run(ctx context.Context) (*Report, error) {
	c.m.Lock()
	c.start = c.clock.Now()
	c.state = Running
	c.m.Unlock()

	if ctx.Err() != nil {
		c.Cancel()
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.Cancel()
		case <-stop:
		}
	}()
	if c.rate != nil {
		defer c.rate.Stop()
	}

	err := os.MkdirAll(c.output, 0775)
	if err != nil {
		err = errors.Wrap(err, "creating output directory")
		raven.CaptureError(err, nil)
		c.finishBatch()
		return nil, err
	}

	for i, p := range c.previews {
		if c.Canceled() {
			break
		}
		c.build(p, c.sizes[i])
	}
	c.store.Cleanup()
	return c.finishBatch(), nil
}

func (c *Creator) finishBatch() *Report {
	c.m.Lock()
	c.state = Finished
	c.finish = c.clock.Now()
	r := &Report{
		BatchID:  c.batchID,
		Created:  append([]Outcome(nil), c.created...),
		Failed:   append([]Failure(nil), c.failed...),
		Canceled: c.Canceled(),
		Elapsed:  c.finish.Sub(c.start),
	}
	status := c.status()
	c.m.Unlock()
	c.notify(Event{Kind: BatchDone, Status: status})
	return r
}

// Cancel asks the batch to stop. The package being copied is abandoned
// after the current file and recorded as failed; packages not yet started
// are skipped.
func (c *Creator) Cancel() {
	c.canceled.Store(true)
}

// Canceled returns true once Cancel has been called.
func (c *Creator) Canceled() bool {
	return c.canceled.Load()
}

// build creates one package and records the outcome.
func (c *Creator) build(p *sip.Preview, size int64) {
	c.m.Lock()
	now := c.clock.Now()
	name := c.uniqueName(packageName(now, p.Title))
	j := newJob(p, size, name, c.output, now)
	c.current = j
	c.m.Unlock()

	err := c.runJob(j)

	c.m.Lock()
	c.current = nil
	var ev Event
	if err != nil {
		c.failed = append(c.failed, Failure{Descriptor: p.Descriptor, Err: err})
		ev = Event{Kind: PackageFailed, Descriptor: p.Descriptor, Err: err}
	} else {
		path := filepath.Join(c.output, j.container)
		c.created = append(c.created, Outcome{Descriptor: p.Descriptor, Container: path, Bytes: j.transferred})
		ev = Event{Kind: PackageCompleted, Descriptor: p.Descriptor, Container: path}
	}
	ev.Status = c.status()
	c.m.Unlock()

	c.record(j, err)
	c.notify(ev)
}

// uniqueName returns name, or name with a counter, so that no two packages
// of this batch and no existing file share a name. Call with c.m held.
func (c *Creator) uniqueName(name string) string {
	result := name
	for i := 2; ; i++ {
		if !c.names[result] && !exists(filepath.Join(c.output, result)) &&
			!exists(filepath.Join(c.output, result+ContainerExt)) {
			break
		}
		result = name + " (" + strconv.Itoa(i) + ")"
	}
	c.names[result] = true
	return result
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// runJob moves the job through its phases. On error the job is cleaned up
// and marked Failed.
func (c *Creator) runJob(j *job) error {
	steps := []struct {
		phase Phase
		fn    func(*job) error
	}{
		{Setup, c.setup},
		{CopyingData, c.copyData},
		{CopyingMetadata, c.copyMetadata},
		{Finalizing, c.finalize},
		{Done, nil},
	}
	for _, step := range steps {
		err := c.setPhase(j, step.phase)
		if err == nil && step.fn != nil {
			err = step.fn(j)
		}
		if err != nil {
			log.Printf("creation: %s failed in %s: %s", j.name, step.phase, err.Error())
			if errors.Cause(err) != ErrCanceled {
				raven.CaptureError(err, nil)
			}
			c.cleanup(j)
			c.setPhase(j, Failed)
			return errors.Wrap(err, step.phase.String())
		}
	}
	return nil
}

func (c *Creator) setPhase(j *job, p Phase) error {
	if p == Setup {
		return nil
	}
	c.m.Lock()
	defer c.m.Unlock()
	return j.advance(p)
}

func (c *Creator) setup(j *job) error {
	err := c.mkdir(j.staging, 0775)
	if err != nil {
		return err
	}
	return c.mkdir(filepath.Join(j.staging, DataDir), 0775)
}

func (c *Creator) copyData(j *job) error {
	data := filepath.Join(j.staging, DataDir)
	for _, root := range j.preview.Roots() {
		err := c.copyNode(j, root, data)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Creator) copyMetadata(j *job) error {
	p := j.preview
	j.tags["id"] = p.ID
	j.tags["parent"] = p.ParentID
	j.tags["title"] = p.Title
	j.tags["level"] = sip.Level
	for field, content := range p.Metadata() {
		j.tags["metadata."+field] = content
	}
	return nil
}

// finalize seals the staging directory into a container and removes it.
func (c *Creator) finalize(j *job) error {
	w, err := c.store.Create(j.container)
	if err != nil {
		return err
	}
	err = c.seal(j, w)
	if err != nil {
		store.Abort(w)
		return err
	}
	err = w.Close()
	if err != nil {
		return err
	}
	j.sealed = true
	return os.RemoveAll(j.staging)
}

func (c *Creator) seal(j *job, w io.Writer) error {
	bag := bagit.NewWriter(w, j.name)
	bag.SetModTime(c.clock.Now())
	for k, v := range j.tags {
		bag.SetTag(k, v)
	}
	data := filepath.Join(j.staging, DataDir)
	err := filepath.WalkDir(data, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == data {
			return err
		}
		rel, err := filepath.Rel(data, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			entries, err := os.ReadDir(path)
			if err == nil && len(entries) == 0 {
				err = bag.CreateDir(rel)
			}
			return err
		}
		out, err := bag.Create(rel)
		if err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(out, in)
		in.Close()
		return err
	})
	if err != nil {
		return err
	}
	return bag.Close()
}

// cleanup removes whatever a failed job left behind. Errors are logged.
func (c *Creator) cleanup(j *job) {
	err := os.RemoveAll(j.staging)
	if err != nil {
		log.Println("creation: cleanup:", err)
		raven.CaptureError(err, nil)
	}
	if j.sealed {
		err = c.store.Delete(j.container)
		if err != nil {
			log.Println("creation: cleanup:", err)
			raven.CaptureError(err, nil)
		}
	}
}

func (c *Creator) record(j *job, err error) {
	if c.ledger == nil {
		return
	}
	e := ledger.Entry{
		Batch:     c.batchID,
		PackageID: j.preview.ID,
		ParentID:  j.preview.ParentID,
		Title:     j.preview.Title,
		Bytes:     j.transferred,
		Status:    ledger.StatusCreated,
		Finished:  c.clock.Now(),
	}
	if err != nil {
		e.Status = ledger.StatusFailed
		e.Error = err.Error()
	} else {
		e.Container = filepath.Join(c.output, j.container)
	}
	if lerr := c.ledger.Record(e); lerr != nil {
		log.Println("creation: ledger:", lerr)
		raven.CaptureError(lerr, nil)
	}
}
