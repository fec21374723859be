package creation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/facebookgo/clock"

	"github.com/ndlib/sipexport/sip"
	"github.com/ndlib/sipexport/tree"
)

func TestEstimateUnknown(t *testing.T) {
	in := etaInput{total: 100, count: 2}
	if got := estimate(in); got != -1 {
		t.Errorf("Received %d, expected -1", got)
	}
}

func TestEstimate(t *testing.T) {
	var table = []struct {
		name   string
		in     etaInput
		output int64
	}{
		{
			name: "first package",
			in: etaInput{
				elapsed:            200 * time.Millisecond,
				total:              4000,
				transferred:        1000,
				transferredTime:    100 * time.Millisecond,
				count:              2,
				pkgSize:            2000,
				pkgTransferred:     1000,
				pkgElapsed:         200 * time.Millisecond,
				pkgTransferredTime: 100 * time.Millisecond,
			},
			// speed 10 B/ms; data 300; each 2000/10*0.7 = 140; 140*2 - 100
			output: 300 + 180,
		},
		{
			name: "second package",
			in: etaInput{
				elapsed:            1000 * time.Millisecond,
				total:              4000,
				transferred:        3000,
				transferredTime:    300 * time.Millisecond,
				count:              2,
				created:            1,
				pkgSize:            2000,
				pkgTransferred:     1000,
				pkgElapsed:         150 * time.Millisecond,
				pkgTransferredTime: 100 * time.Millisecond,
			},
			// speed 10 B/ms; data 100; each 700; 700*1 - 50
			output: 100 + 650,
		},
		{
			name: "overhead larger than estimate",
			in: etaInput{
				elapsed:            10 * time.Second,
				total:              1000,
				transferred:        1000,
				transferredTime:    100 * time.Millisecond,
				count:              1,
				pkgSize:            1000,
				pkgTransferred:     1000,
				pkgElapsed:         10 * time.Second,
				pkgTransferredTime: 100 * time.Millisecond,
			},
			output: 0,
		},
	}
	for _, test := range table {
		got := estimate(test.in)
		if got != test.output {
			t.Errorf("%s: Received %d, expected %d", test.name, got, test.output)
		}
	}
}

func TestProgress(t *testing.T) {
	var table = []struct {
		finished, count int
		size, copied    int64
		output          float64
	}{
		{0, 0, 0, 0, 1},
		{0, 2, 0, 0, 0},
		{0, 2, 100, 50, 0.2},
		{1, 2, 100, 100, 0.9},
		{2, 2, 0, 0, 1},
	}
	for _, test := range table {
		got := progress(test.finished, test.count, test.size, test.copied)
		if got < test.output-1e-9 || got > test.output+1e-9 {
			t.Errorf("progress(%d, %d, %d, %d): Received %v, expected %v",
				test.finished, test.count, test.size, test.copied, got, test.output)
		}
	}
}

func TestTimeRemainingBeforeCopy(t *testing.T) {
	src := makefiles(t, map[string]string{"a": "hello"})
	mock := clock.NewMock()
	c, err := New(t.TempDir(), []*sip.Preview{sip.New("a", "", tree.New(filepath.Join(src, "a")))}, Options{Clock: mock})
	if err != nil {
		t.Fatal(err)
	}
	if got := c.TimeRemaining(); got != -1 {
		t.Errorf("Received %d, expected -1", got)
	}
	if got := c.Progress(); got != 0 {
		t.Errorf("Received progress %v, expected 0", got)
	}
	// the mock clock never moves, so no copy time is measured
	c.Subscribe(func(ev Event) {
		if ev.Kind == PackageCompleted && ev.Status.TimeRemaining != -1 {
			t.Errorf("Received %d, expected -1", ev.Status.TimeRemaining)
		}
	})
	c.Run(context.Background())
	if got := c.TimeRemaining(); got != 0 {
		t.Errorf("Received %d after the batch, expected 0", got)
	}
}
