package creation

import (
	"time"

	"github.com/ndlib/sipexport/sip"
)

// EventKind tells what happened in an Event.
type EventKind int

const (
	PackageCompleted EventKind = iota
	PackageFailed
	BatchDone
)

func (k EventKind) String() string {
	switch k {
	case PackageCompleted:
		return "completed"
	case PackageFailed:
		return "failed"
	case BatchDone:
		return "done"
	}
	return "unknown"
}

// Event is sent to subscribers when a package finishes and when the batch
// ends. Descriptor is empty for BatchDone.
type Event struct {
	Kind       EventKind
	Descriptor sip.Descriptor
	Container  string // set for PackageCompleted
	Err        error  // set for PackageFailed
	Status     Status // batch status right after the event
}

// Status is a snapshot of a batch.
type Status struct {
	BatchID       string    `json:"batch"`
	State         string    `json:"state"`
	Canceled      bool      `json:"canceled"`
	Count         int       `json:"count"`
	Created       int       `json:"created"`
	Failed        int       `json:"failed"`
	TotalBytes    int64     `json:"total_bytes"`
	CopiedBytes   int64     `json:"copied_bytes"`
	Progress      float64   `json:"progress"`
	TimeRemaining int64     `json:"time_remaining_ms"`
	Current       string    `json:"current,omitempty"`
	Phase         string    `json:"phase,omitempty"`
	Started       time.Time `json:"started"`
}

// Subscribe adds fn to the functions called for every event. Functions
// are called on the batch goroutine, in the order they were added, and
// should return quickly.
func (c *Creator) Subscribe(fn func(Event)) {
	c.m.Lock()
	c.subscribers = append(c.subscribers, fn)
	c.m.Unlock()
}

func (c *Creator) notify(ev Event) {
	c.m.Lock()
	subs := c.subscribers
	c.m.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// Status returns a snapshot of the batch.
func (c *Creator) Status() Status {
	c.m.Lock()
	defer c.m.Unlock()
	return c.status()
}

// status builds the snapshot. Call with c.m held.
func (c *Creator) status() Status {
	s := Status{
		BatchID:       c.batchID,
		State:         c.state.String(),
		Canceled:      c.Canceled(),
		Count:         len(c.previews),
		Created:       len(c.created),
		Failed:        len(c.failed),
		TotalBytes:    c.total,
		CopiedBytes:   c.transferred,
		Progress:      c.progress(),
		TimeRemaining: c.timeRemaining(),
		Started:       c.start,
	}
	if c.current != nil {
		s.Current = c.current.preview.Title
		s.Phase = c.current.phase.String()
	}
	return s
}

// TimeRemaining returns the estimated milliseconds until the batch is done,
// or -1 if no estimate can be made yet.
func (c *Creator) TimeRemaining() int64 {
	c.m.Lock()
	defer c.m.Unlock()
	return c.timeRemaining()
}

func (c *Creator) timeRemaining() int64 {
	if c.state == Finished {
		return 0
	}
	in := etaInput{
		elapsed:         c.clock.Now().Sub(c.start),
		total:           c.total,
		transferred:     c.transferred,
		transferredTime: c.transferredTime,
		count:           len(c.previews),
		created:         len(c.created),
	}
	if j := c.current; j != nil {
		in.pkgSize = j.size
		in.pkgTransferred = j.transferred
		in.pkgElapsed = c.clock.Now().Sub(j.start)
		in.pkgTransferredTime = j.transferredTime
	}
	return estimate(in)
}

// Progress returns the fraction of the batch done, between 0 and 1.
func (c *Creator) Progress() float64 {
	c.m.Lock()
	defer c.m.Unlock()
	return c.progress()
}

func (c *Creator) progress() float64 {
	if c.state == Finished {
		return 1
	}
	var size, transferred int64
	if j := c.current; j != nil {
		size, transferred = j.size, j.transferred
	}
	return progress(len(c.created)+len(c.failed), len(c.previews), size, transferred)
}

// CreatedCount returns the number of packages created so far.
func (c *Creator) CreatedCount() int {
	c.m.Lock()
	defer c.m.Unlock()
	return len(c.created)
}

// Created returns the packages created so far.
func (c *Creator) Created() []Outcome {
	c.m.Lock()
	defer c.m.Unlock()
	return append([]Outcome(nil), c.created...)
}

// Failed returns the packages that could not be created so far.
func (c *Creator) Failed() []Failure {
	c.m.Lock()
	defer c.m.Unlock()
	return append([]Failure(nil), c.failed...)
}

// Done returns true once the batch has finished, whether it ran to the end
// or was canceled.
func (c *Creator) Done() bool {
	c.m.Lock()
	defer c.m.Unlock()
	return c.state == Finished
}
