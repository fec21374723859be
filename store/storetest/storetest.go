// Package storetest provides functions for facilitating the testing of
// anything implementing the Store interface.
package storetest

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"testing"

	"github.com/ndlib/sipexport/store"
)

// Basic checks the store semantics the export pipeline relies on: a key
// can be created once, read back, listed, and deleted.
func Basic(t *testing.T, s store.Store) {
	const key = "2024-01-02 10h00m00s000 A title.zip"
	w, err := s.Create(key)
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprint(w, "hello there")
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(key); err != store.ErrKeyExists {
		t.Errorf("Received %v, expected ErrKeyExists", err)
	}

	rac, size, err := s.Open(key)
	if err != nil {
		t.Fatal(err)
	}
	buf := new(bytes.Buffer)
	io.Copy(buf, store.NewReader(rac))
	rac.Close()
	if size != 11 || buf.String() != "hello there" {
		t.Errorf("Received %d %q, expected 11 \"hello there\"", size, buf.String())
	}

	keys, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != key {
		t.Errorf("Received %v, expected [%s]", keys, key)
	}
	keys, _ = s.ListPrefix("2024-01-02")
	if len(keys) != 1 {
		t.Errorf("Received %v, expected [%s]", keys, key)
	}
	keys, _ = s.ListPrefix("1999")
	if len(keys) != 0 {
		t.Errorf("Received %v, expected nothing", keys)
	}

	if err := s.Delete(key); err != nil {
		t.Error(err)
	}
	if err := s.Delete(key); err != nil {
		t.Errorf("Deleting a missing key returned %v", err)
	}
	if _, _, err := s.Open(key); err == nil {
		t.Errorf("Expected an error opening a deleted key")
	}
}

type blob struct {
	key  string
	hash []byte
	size int64
}

// Stress will spawn a number of goroutines to simultaneously write, read
// back and delete containers of random sizes totalling totalsize bytes. It
// is a good test to run with the -race flag.
func Stress(t *testing.T, s store.Store, totalsize int64) {
	sizes := make(chan int64)
	check := make(chan blob, 1000)
	var uppool, downpool sync.WaitGroup

	for i := 0; i < 4; i++ {
		uppool.Add(1)
		go func(n int) {
			uploader(t, s, n, sizes, check)
			uppool.Done()
		}(i)
	}
	for i := 0; i < 4; i++ {
		downpool.Add(1)
		go func() {
			downloader(t, s, check)
			downpool.Done()
		}()
	}

	for totalsize > 0 {
		sz := rand.Int63n(256 * 1024)
		totalsize -= sz
		sizes <- sz
	}
	close(sizes)
	uppool.Wait()
	close(check)
	downpool.Wait()
}

func uploader(t *testing.T, s store.Store, id int, in <-chan int64, out chan<- blob) {
	h := md5.New()
	var count int
	for size := range in {
		count++
		key := fmt.Sprintf("package %d-%d.zip", id, count)
		w, err := s.Create(key)
		if err != nil {
			t.Error(err)
			continue
		}
		h.Reset()
		n, err := io.Copy(io.MultiWriter(h, w), io.LimitReader(rand.New(rand.NewSource(size)), size))
		if n != size || err != nil {
			t.Error("expected", size, "only wrote", n, err)
		}
		if err := w.Close(); err != nil {
			t.Error(key, size, err)
			continue
		}
		out <- blob{key: key, hash: h.Sum(nil), size: size}
	}
}

func downloader(t *testing.T, s store.Store, in <-chan blob) {
	h := md5.New()
	for b := range in {
		rac, size, err := s.Open(b.key)
		if err != nil {
			t.Error(err)
			continue
		}
		if size != b.size {
			t.Error("Expected", b.size, "Open() returned", size)
		}
		h.Reset()
		io.Copy(h, store.NewReader(rac))
		rac.Close()
		if !bytes.Equal(b.hash, h.Sum(nil)) {
			t.Errorf("hashes unequal. %#v. Received %x", b, h.Sum(nil))
			continue
		}
		if err := s.Delete(b.key); err != nil {
			t.Error(err)
		}
	}
}
