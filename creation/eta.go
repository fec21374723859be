package creation

import (
	"time"
)

// etaInput is a snapshot of the counters the time estimate is based on.
type etaInput struct {
	elapsed         time.Duration // since the batch started
	total           int64         // payload bytes of the whole batch
	transferred     int64         // bytes copied in the whole batch
	transferredTime time.Duration // time spent copying them
	count           int           // packages in the batch
	created         int

	pkgSize            int64
	pkgTransferred     int64
	pkgElapsed         time.Duration
	pkgTransferredTime time.Duration
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// estimate returns the milliseconds the batch still needs, or -1 if
// nothing has been timed yet.
//
// The time is split between copying, estimated from the copy speed so far,
// and the work done around copying (setup, metadata, sealing), estimated
// from the packages already created.
func estimate(in etaInput) int64 {
	if in.transferredTime <= 0 || in.transferred <= 0 {
		return -1
	}
	copyTime := millis(in.transferredTime)
	speed := float64(in.transferred) / copyTime // bytes per ms

	// what is left of the current package plus the packages not started
	dataTime := float64(in.total-in.transferred) / speed

	var each float64
	if in.created > 0 {
		each = (millis(in.elapsed) - copyTime) / float64(in.created)
	} else {
		each = float64(in.pkgSize) / speed * 0.7
	}
	remaining := float64(in.count - in.created)
	pkgOther := millis(in.pkgElapsed) - millis(in.pkgTransferredTime)
	otherTime := each*remaining - pkgOther

	result := dataTime + otherTime
	if result < 0 {
		return 0
	}
	return int64(result)
}

// progress returns the fraction of the batch done. Finished packages count
// fully; the package in progress counts for its share of copied bytes,
// weighted down since copying is only part of the work.
func progress(finished, count int, pkgSize, pkgTransferred int64) float64 {
	if count == 0 {
		return 1
	}
	p := float64(finished) / float64(count)
	if pkgSize > 0 {
		p += float64(pkgTransferred) / float64(pkgSize) * 0.8 / float64(count)
	}
	if p > 1 {
		p = 1
	}
	return p
}
