// Package util holds small pieces shared by the export pipeline.
package util

import (
	"io"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
)

// A RateCounter tracks how many bytes we have copied and makes sure we
// keep under the rate limit given.
// Every so often we increment our pool. As we copy we remove credits from
// the pool. If the pool goes negative, then we wait until it goes positive.
type RateCounter struct {
	c       chan struct{} // channel we use to signal credits is positive
	stop    chan struct{} // close to signal adder goroutine to exit
	m       sync.Mutex    // protects below
	credits int64         // current credit balance
}

// DefaultInterval is the time between adding credits to the pool. The
// shorter it is, the more waking and churning we do. The longer it is, the
// burstier the copying becomes.
const DefaultInterval = 250 * time.Millisecond

// NewRateCounter returns a counter where credits accumulate at the given
// credits per second. However, the credits are not accumulated every
// second. Instead the entire amount due is added every DefaultInterval.
func NewRateCounter(rate float64) *RateCounter {
	return NewRateCounterInterval(rate, DefaultInterval, clock.New())
}

// NewRateCounterInterval returns a counter adding the credits due every
// interval, as measured by clk.
func NewRateCounterInterval(rate float64, interval time.Duration, clk clock.Clock) *RateCounter {
	amount := int64(rate * interval.Seconds())
	if amount < 1 {
		amount = 1
	}
	r := &RateCounter{
		c:       make(chan struct{}),
		stop:    make(chan struct{}),
		credits: amount,
	}
	// make the ticker before returning so a mock clock can be advanced
	// right away
	tick := clk.Ticker(interval)
	go r.adder(amount, tick)
	return r
}

// Use some number of units. It is okay if it takes this counter negative.
func (r *RateCounter) Use(count int64) {
	r.m.Lock()
	r.credits -= count
	r.m.Unlock()
}

// OK returns a channel to wait on. It will receive an empty struct when it is OK
// to resume reading. The channel will be closed if the RateCounter is Stopped.
func (r *RateCounter) OK() <-chan struct{} {
	return r.c
}

// Stop the background goroutine refilling the RateCounter. Will panic if
// called twice.
func (r *RateCounter) Stop() {
	// the background process will then close r.c, which will cancel any
	// readers
	close(r.stop)
}

// adder is the background goroutine that refills the rate counter based on the
// rate this RateCounter was created with.
func (r *RateCounter) adder(amount int64, tick *clock.Ticker) {
	defer tick.Stop()
	for {
		var signal chan struct{}
		r.m.Lock()
		if r.credits > 0 {
			signal = r.c
		}
		r.m.Unlock()
		select {
		case <-tick.C:
			r.Use(-amount) // add amount to credits!
		case signal <- struct{}{}:
		case <-r.stop:
			close(r.c)
			return
		}
	}
}

// Wrap takes an io.Reader and returns a new one where reads are limited by
// this RateCounter. Reads will block until the RateCounter says the current
// usage is ok. It is okay for more than one goroutine to use the same
// RateCounter. If the RateCounter was stopped, the returned reader will
// cause an ErrStopped.
func (r *RateCounter) Wrap(reader io.Reader) io.Reader {
	return rateReader{reader: reader, rate: r}
}

// ErrStopped means a read failed because the governing rate counter was stopped.
var ErrStopped = errors.New("RateCounter stopped")

type rateReader struct {
	reader io.Reader
	rate   *RateCounter
}

func (r rateReader) Read(p []byte) (int, error) {
	// wait for the rate limiter
	_, ok := <-r.rate.OK()
	if !ok {
		// our RateCounter was stopped.
		return 0, ErrStopped
	}
	n, err := r.reader.Read(p)
	r.rate.Use(int64(n))
	return n, err
}
