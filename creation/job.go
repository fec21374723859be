package creation

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/pkg/errors"

	"github.com/ndlib/sipexport/sip"
)

// Phase is the step a package is in while it is being created.
type Phase int

// The phases a package goes through, in order. Failed can be entered from
// any phase before Done.
const (
	Setup Phase = iota
	CopyingData
	CopyingMetadata
	Finalizing
	Done
	Failed
)

func (p Phase) String() string {
	switch p {
	case Setup:
		return "setup"
	case CopyingData:
		return "copying data"
	case CopyingMetadata:
		return "copying metadata"
	case Finalizing:
		return "finalizing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Terminal returns true for the phases a package never leaves.
func (p Phase) Terminal() bool {
	return p == Done || p == Failed
}

// ErrPhase is returned when a job is asked to move to an earlier phase, or
// to leave a terminal one.
var ErrPhase = errors.New("invalid phase transition")

// DataDir is the name of the payload directory inside a package.
const DataDir = "data"

// job tracks the creation of one package. The counters are guarded by the
// Creator's mutex.
type job struct {
	preview   *sip.Preview
	name      string // base name of the staging directory and the container
	staging   string // absolute path of the staging directory
	container string // key of the sealed container in the output store
	size      int64  // payload size snapshot
	tags      map[string]string
	sealed    bool

	transferred     int64
	transferredTime time.Duration
	start           time.Time
	phase           Phase
}

func newJob(p *sip.Preview, size int64, name, output string, start time.Time) *job {
	return &job{
		preview:   p,
		name:      name,
		staging:   filepath.Join(output, name),
		container: name + ContainerExt,
		size:      size,
		start:     start,
		tags:      make(map[string]string),
	}
}

// advance moves the job to the phase next.
func (j *job) advance(next Phase) error {
	if j.phase.Terminal() {
		return errors.Wrapf(ErrPhase, "%s to %s", j.phase, next)
	}
	if next != Failed && next <= j.phase {
		return errors.Wrapf(ErrPhase, "%s to %s", j.phase, next)
	}
	j.phase = next
	return nil
}

// add counts n more bytes copied in d. The byte count never goes over the
// size snapshot; the number of bytes actually counted is returned.
func (j *job) add(n int64, d time.Duration) int64 {
	if j.transferred+n > j.size {
		n = j.size - j.transferred
	}
	j.transferred += n
	j.transferredTime += d
	return n
}

// ContainerExt is the extension of the sealed containers.
const ContainerExt = ".zip"

// timestampLayout gives the date and time to the second. Milliseconds are
// appended separately.
const timestampLayout = "2006-01-02 15h04m05s"

// packageName returns the base name used for a package created at t:
// the timestamp to the millisecond, a space, and the title.
func packageName(t time.Time, title string) string {
	return fmt.Sprintf("%s%03d %s",
		t.Format(timestampLayout),
		t.Nanosecond()/int(time.Millisecond),
		sanitize(title))
}

// sanitize makes title usable as a single file name.
func sanitize(title string) string {
	title = strings.Map(func(r rune) rune {
		if r == '/' || r == filepath.Separator || unicode.IsControl(r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(title))
	if title == "" || title == "." || title == ".." {
		title = "untitled"
	}
	return title
}
