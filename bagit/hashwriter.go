package bagit

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"io"
)

// A hashWriter wraps an io.Writer and also calculates the hashes of the bytes
// written.
type hashWriter struct {
	io.Writer // our io.MultiWriter
	md5       hash.Hash
	sha1      hash.Hash
	sha256    hash.Hash
	sha512    hash.Hash
}

// newHashWriter returns a hashWriter wrapping w and computing the MD5 and
// SHA256 hashes, which are the ones saved in new bags.
func newHashWriter(w io.Writer) *hashWriter {
	hw := &hashWriter{
		md5:    md5.New(),
		sha256: sha256.New(),
	}
	hw.Writer = io.MultiWriter(w, hw.md5, hw.sha256)
	return hw
}

// newVerifier returns a hashWriter that does not wrap an output stream.
// It computes only the hashes present in goal.
func newVerifier(goal *Checksum) *hashWriter {
	hw := &hashWriter{}
	var ws []io.Writer
	if len(goal.MD5) > 0 {
		hw.md5 = md5.New()
		ws = append(ws, hw.md5)
	}
	if len(goal.SHA1) > 0 {
		hw.sha1 = sha1.New()
		ws = append(ws, hw.sha1)
	}
	if len(goal.SHA256) > 0 {
		hw.sha256 = sha256.New()
		ws = append(ws, hw.sha256)
	}
	if len(goal.SHA512) > 0 {
		hw.sha512 = sha512.New()
		ws = append(ws, hw.sha512)
	}
	hw.Writer = io.MultiWriter(ws...)
	return hw
}

func sum(h hash.Hash) []byte {
	if h == nil {
		return nil
	}
	return h.Sum(nil)
}

// Checksum returns the hashes of everything written so far.
func (hw *hashWriter) Checksum() *Checksum {
	return &Checksum{
		MD5:    sum(hw.md5),
		SHA1:   sum(hw.sha1),
		SHA256: sum(hw.sha256),
		SHA512: sum(hw.sha512),
	}
}

// matches returns true if every hash given in goal equals the computed one.
// Empty goals are treated as matching.
func (c *Checksum) matches(goal *Checksum) bool {
	eq := func(a, b []byte) bool { return len(b) == 0 || bytes.Equal(a, b) }
	return eq(c.MD5, goal.MD5) &&
		eq(c.SHA1, goal.SHA1) &&
		eq(c.SHA256, goal.SHA256) &&
		eq(c.SHA512, goal.SHA512)
}
