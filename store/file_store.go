package store

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
)

// FileSystem implements a store keeping each item as a file directly inside
// a root directory. The keys are the file names, so give the key the file
// extension the item should have.
//
// Items are written into a scratch directory and moved into place when they
// are closed, so a partially written item is never visible under its key.
type FileSystem struct {
	root string
}

const (
	// the subdir to store files while they are being written to.
	scratchdir = ".scratch"
)

var (
	// make sure it implements the Store interface
	_ Store = &FileSystem{}

	// ErrKeyContainsSlash means the key provided contains a forward slash '/'
	ErrKeyContainsSlash = errors.New("key contains forward slash")

	// ErrKeyContainsNonUnicode means the key provided contains a Non Unicode Rune
	ErrKeyContainsNonUnicode = errors.New("key contains non-unicode character")

	// ErrKeyContainsControlChar means the key provided contains Control Characters
	ErrKeyContainsControlChar = errors.New("key contains control characters")

	// ErrKeyEmpty means the key is empty or names a special directory entry
	ErrKeyEmpty = errors.New("key is empty")
)

// NewFileSystem creates a new FileSystem store based at the given root path.
func NewFileSystem(root string) *FileSystem {
	return &FileSystem{root}
}

// Root returns the directory this store keeps its files in.
func (s *FileSystem) Root() string {
	return s.root
}

// ScratchDir returns the name of the directory, inside Root, holding items
// being written.
func ScratchDir() string {
	return scratchdir
}

// List returns the keys of every item in this store, sorted.
func (s *FileSystem) List() ([]string, error) {
	return s.ListPrefix("")
}

// ListPrefix returns a sorted list of all the keys beginning with the given
// prefix.
func (s *FileSystem) ListPrefix(prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "listing %s", s.root)
	}
	var result []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) {
			result = append(result, e.Name())
		}
	}
	sort.Strings(result)
	return result, nil
}

// Open returns a reader for the given object along with its size.
func (s *FileSystem) Open(key string) (ReadAtCloser, int64, error) {
	if err := isKeyValid(key); err != nil {
		return nil, 0, err
	}
	f, err := os.Open(filepath.Join(s.root, key))
	if err != nil {
		if os.IsNotExist(err) {
			err = ErrNotFound
		}
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// Create creates a new item with the given key, and a writer to allow for
// saving data into the new item.
func (s *FileSystem) Create(key string) (io.WriteCloser, error) {
	if err := isKeyValid(key); err != nil {
		return nil, err
	}
	target := filepath.Join(s.root, key)
	_, err := os.Stat(target)
	if !os.IsNotExist(err) {
		return nil, ErrKeyExists
	}
	// now set up the scratch location we will temporarily save the file to
	dir := filepath.Join(s.root, scratchdir)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, err
	}
	temp := filepath.Join(dir, key)
	// pass the O_EXCL flag explicitly to prevent overwriting
	// already existing files
	w, err := os.OpenFile(temp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, err
	}
	return &moveCloser{File: w, source: temp, target: target}, nil
}

// track the file so when it is closed, we can move it into the correct place
type moveCloser struct {
	*os.File
	source string
	target string
}

func (w *moveCloser) Close() error {
	err := w.File.Close()
	if err == nil {
		_, err = os.Stat(w.target)
		if os.IsNotExist(err) {
			err = os.Rename(w.source, w.target)
		} else {
			err = ErrKeyExists
		}
	}
	if err != nil {
		os.Remove(w.source)
	}
	return err
}

// Abort closes the writer and discards whatever was written, without
// making the item visible. It is for writers returned by Create which have
// not been closed.
func Abort(w io.WriteCloser) {
	mc, ok := w.(*moveCloser)
	if !ok {
		w.Close()
		return
	}
	mc.File.Close()
	if err := os.Remove(mc.source); err != nil && !os.IsNotExist(err) {
		log.Println("abort", mc.source, err)
		raven.CaptureError(err, nil)
	}
}

// Cleanup removes the scratch directory if nothing is being written.
func (s *FileSystem) Cleanup() {
	err := os.Remove(filepath.Join(s.root, scratchdir))
	if err != nil && !os.IsNotExist(err) {
		log.Println("cleanup", s.root, err)
	}
}

// Delete the given key from the store. It is not an error if the key doesn't
// exist.
func (s *FileSystem) Delete(key string) error {
	if err := isKeyValid(key); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.root, key))
	// don't report a missing file as an error
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	return err
}

// isKeyValid makes sure key can be used as a single file name.
func isKeyValid(key string) error {
	if key == "" || key == "." || key == ".." || key == scratchdir {
		return ErrKeyEmpty
	}
	if !utf8.ValidString(key) {
		return ErrKeyContainsNonUnicode
	}
	if strings.ContainsRune(key, '/') || strings.ContainsRune(key, filepath.Separator) {
		return ErrKeyContainsSlash
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return ErrKeyContainsControlChar
		}
	}
	return nil
}
