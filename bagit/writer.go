package bagit

import (
	"archive/zip"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Writer allows for writing a new bag file. When it is closed, all the
// relevant tag files and manifests will be written out.
type Writer struct {
	z        *zip.Writer // the underlying zip writer
	t        Bag         // our bag structure to track the files
	checksum *Checksum   // pointer to current checksum
	hw       *hashWriter // current hash writer
	ns       int         // number of "streams" (i.e. payload files)
	sz       int64       // size of the payload files, in bytes
	modtime  time.Time   // timestamp put on every entry
}

// NewWriter creates a new bag writer which will serialize itself to the
// provided io.Writer. Use name to set the directory name the bag will
// unserialize into, as required by BagIt.
func NewWriter(w io.Writer, name string) *Writer {
	t := New()
	t.dirname = name
	return &Writer{
		z:       zip.NewWriter(w),
		t:       t,
		modtime: time.Now(),
	}
}

// SetModTime sets the timestamp recorded on the entries of the bag, and the
// date saved in the "Bagging-Date" tag. It defaults to the time the Writer
// was made.
func (w *Writer) SetModTime(t time.Time) {
	w.modtime = t
}

// Close this Writer and serialize all necessary bookkeeping files. It does
// not close the original io.Writer provided to NewWriter().
func (w *Writer) Close() error {
	w.t.tags["Payload-Oxum"] = fmt.Sprintf("%d.%d", w.sz, w.ns)
	w.t.tags["Bagging-Date"] = w.modtime.Format("2006-01-02")
	w.t.tags["Bag-Size"] = humansize(w.sz)

	// If Close() is called after a write error, then this first
	// call will also fail with an error.
	err := w.writeTags()
	if err != nil {
		return err
	}
	err = w.writeManifests()
	if err != nil {
		return err
	}
	return w.z.Close()
}

// SetTag adds the given tag to this bag, and sets it to be equal to content.
// The content may span several lines. The bag writer will add the tags
// "Payload-Oxum", "Bagging-Date", and "Bag-Size" itself.
func (w *Writer) SetTag(tag, content string) {
	w.t.tags[tag] = content
}

// Create a new file inside this bag. The file will be put inside the "data/"
// directory. Use forward slashes to separate the directories in name.
func (w *Writer) Create(name string) (io.Writer, error) {
	w.ns++
	out, err := w.create("data/" + cleanName(name))
	if err != nil {
		return nil, err
	}
	return &countWriter{
		w:     out,
		count: &w.sz,
	}, nil
}

// CreateDir adds an entry for a directory inside the "data/" directory. It
// is only needed for empty directories, since the directories of the files
// added with Create are implied.
func (w *Writer) CreateDir(name string) error {
	header := zip.FileHeader{
		Name:   w.t.dirname + "/data/" + cleanName(name) + "/",
		Method: zip.Store,
	}
	header.Modified = w.modtime
	_, err := w.z.CreateHeader(&header)
	return err
}

func cleanName(name string) string {
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}

// create is for internal use. It allows non-payload files to be written.
func (w *Writer) create(name string) (io.Writer, error) {
	// save checksums in case there is an active writer
	_ = w.Checksum()

	ck := new(Checksum)
	w.t.manifest[name] = ck
	w.checksum = ck

	header := zip.FileHeader{
		Name:   w.t.dirname + "/" + name,
		Method: zip.Store,
	}
	header.Modified = w.modtime
	out, err := w.z.CreateHeader(&header)
	if err != nil {
		w.hw = nil
		return nil, errors.Wrapf(err, "creating %s", name)
	}
	w.hw = newHashWriter(out)
	return w.hw, nil
}

// Checksum returns the checksums for what has been written so far to the
// last io.Writer returned by Create().
func (w *Writer) Checksum() *Checksum {
	if w.hw != nil && w.checksum != nil {
		c := w.hw.Checksum()
		w.checksum.MD5 = c.MD5
		w.checksum.SHA256 = c.SHA256
	}
	return w.checksum
}

func (w *Writer) writeTags() error {
	// first write bag-it marker file
	out, err := w.create("bagit.txt")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "BagIt-Version: %s\n", Version)
	fmt.Fprintf(out, "Tag-File-Character-Encoding: UTF-8\n")

	// now write tags file
	out, err = w.create("bag-info.txt")
	if err != nil {
		return err
	}
	var keys []string
	for k := range w.t.tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines := strings.Split(w.t.tags[k], "\n")
		fmt.Fprintf(out, "%s: %s\n", k, strings.TrimSuffix(lines[0], "\r"))
		for _, line := range lines[1:] {
			fmt.Fprintf(out, " %s\n", strings.TrimSuffix(line, "\r"))
		}
	}
	return nil
}

func (w *Writer) writeManifests() error {
	var err error
	record := func(e error) {
		if err == nil {
			err = e
		}
	}
	record(w.manifest(false, "md5", Checksum.md5))
	record(w.manifest(false, "sha256", Checksum.sha256))

	// do the tagmanifest
	record(w.manifest(true, "md5", Checksum.md5))
	return err
}

// access methods used by manifest() below
func (c Checksum) md5() []byte    { return c.MD5 }
func (c Checksum) sha256() []byte { return c.SHA256 }

func (w *Writer) manifest(istag bool, name string, hash func(Checksum) []byte) error {
	// ensure any pending checksum is saved
	_ = w.Checksum()

	var fnames []string
	for fname := range w.t.manifest {
		// tag manifests only include files NOT having the prefix "data/"
		// non-tag manifests only include "data/" files
		if istag == strings.HasPrefix(fname, "data/") {
			continue
		}
		fnames = append(fnames, fname)
	}
	sort.Strings(fnames)

	mname := "manifest-" + name + ".txt"
	if istag {
		mname = "tag" + mname
	}
	var out io.Writer
	for _, fname := range fnames {
		h := hash(*w.t.manifest[fname])
		// does this file have a checksum of this type?
		if len(h) == 0 {
			continue
		}
		if out == nil {
			var err error
			out, err = w.create(mname)
			if err != nil {
				return err
			}
		}
		// The 2 spaces is to be identical to the GNU md5sum output.
		fmt.Fprintf(out, "%s  %s\n", hex.EncodeToString(h), fname)
	}
	if out == nil && !istag && name == "md5" {
		// a bag needs a payload manifest even with no payload
		_, err := w.create(mname)
		return err
	}
	return nil
}

// countWriter is an io.Writer that counts the number of bytes written to it.
type countWriter struct {
	w     io.Writer
	count *int64
}

func (w *countWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	*w.count += int64(n)
	return n, err
}

// Metric constants for humansize. Lowercased so as to be unexported.
const (
	kb int64 = 1000
	mb       = 1000 * kb
	gb       = 1000 * mb
	tb       = 1000 * gb
)

func humansize(size int64) string {
	var units string
	switch {
	case size < kb:
		units = "Bytes"
	case size < mb:
		size /= kb
		units = "KB"
	case size < gb:
		size /= mb
		units = "MB"
	case size < tb:
		size /= gb
		units = "GB"
	default:
		size /= tb
		units = "TB"
	}
	return fmt.Sprintf("%d %s", size, units)
}
