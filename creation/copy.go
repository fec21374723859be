package creation

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/ndlib/sipexport/tree"
)

const (
	chunkSize  = 1024 // bytes per read
	checkpoint = 1000 // flush the counters after this many bytes
)

// copyNode mirrors n into the directory dest.
func (c *Creator) copyNode(j *job, n *tree.Node, dest string) error {
	kind, err := n.Kind()
	if err != nil {
		return err
	}
	target := filepath.Join(dest, n.Name())
	if kind != tree.KindDir {
		err = c.copyFile(j, n.Path(), target)
		if err != nil {
			return errors.Wrapf(err, "copying %s", n.Path())
		}
		if c.Canceled() {
			return ErrCanceled
		}
		return nil
	}
	err = c.mkdir(target, 0775)
	if err != nil {
		return err
	}
	children, err := n.Children()
	if err != nil {
		return err
	}
	for _, child := range children {
		err = c.copyNode(j, child, target)
		if err != nil {
			return err
		}
	}
	return nil
}

// copyFile copies src to the new file dst. The job and batch counters are
// updated every time more than checkpoint bytes have been copied since the
// last update, and when the file is completely copied.
func (c *Creator) copyFile(j *job, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0664)
	if err != nil {
		return err
	}
	var r io.Reader = in
	if c.rate != nil {
		r = c.rate.Wrap(in)
	}

	var (
		buf     = make([]byte, chunkSize)
		copied  int64
		pending int64
		last    = c.clock.Now()
	)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, err = out.Write(buf[:n]); err != nil {
				out.Close()
				return err
			}
			copied += int64(n)
			pending += int64(n)
			if pending > checkpoint || copied == info.Size() {
				now := c.clock.Now()
				c.flush(j, pending, now.Sub(last))
				last = now
				pending = 0
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			out.Close()
			return rerr
		}
	}
	// the file changed size since it was opened
	if pending > 0 {
		c.flush(j, pending, c.clock.Now().Sub(last))
	}
	return out.Close()
}

// flush adds n bytes copied in d to the job and batch counters.
func (c *Creator) flush(j *job, n int64, d time.Duration) {
	c.m.Lock()
	n = j.add(n, d)
	c.transferred += n
	c.transferredTime += d
	c.m.Unlock()
}
