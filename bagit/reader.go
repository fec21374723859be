package bagit

import (
	"archive/zip"
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Reader allows for reading an existing bag file.
type Reader struct {
	z *zip.Reader
	t Bag

	tagsLoaded     bool
	manifestLoaded bool
	manifestErr    error
}

var (
	// ErrNotFound means a stream inside a zip file with the given name
	// could not be found.
	ErrNotFound = errors.New("stream not found")

	// ErrManifest means a manifest file could not be parsed.
	ErrManifest = errors.New("malformed manifest")

	// ErrChecksum means a file's content does not match its manifest entry.
	ErrChecksum = errors.New("checksum mismatch")

	// ErrExtraFile means a payload file is not listed in any manifest.
	ErrExtraFile = errors.New("payload file not in manifest")

	// ErrMissingFile means a manifest lists a payload file not in the bag.
	ErrMissingFile = errors.New("payload file missing")

	// ErrOxum means the Payload-Oxum tag does not match the payload.
	ErrOxum = errors.New("payload oxum mismatch")
)

// NewReader creates a bag reader which wraps r. It expects a ZIP datastream,
// and uses size to locate the zip manifest block, which is at the end.
//
// The checksums are not checked upon opening. Call Verify() to verify all the
// checksums. Tags are loaded lazily from the tag file. Ask for a tag to force
// the tag file to be read.
//
// Closing a reader does not close the underlying ReaderAt.
func NewReader(r io.ReaderAt, size int64) (*Reader, error) {
	in, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errors.Wrap(err, "opening bag")
	}
	result := &Reader{
		z: in,
		t: New(),
	}
	if len(in.File) > 0 {
		paths := strings.SplitN(in.File[0].Name, "/", 2)
		if len(paths) == 2 {
			result.t.dirname = paths[0]
		}
	}
	return result, nil
}

// Name returns the directory name the bag unserializes into.
func (r *Reader) Name() string {
	return r.t.dirname
}

// Open returns a reader for the file having the given name.
// Note, that inside the bag, the file is searched for from the path
// "<bag name>/data/<name>".
func (r *Reader) Open(name string) (io.ReadCloser, error) {
	return r.open("data/" + name)
}

// open will open any file, not necessarily one inside the data directory.
func (r *Reader) open(name string) (io.ReadCloser, error) {
	f := r.find(name)
	if f == nil {
		return nil, errors.Wrap(ErrNotFound, name)
	}
	return f.Open()
}

func (r *Reader) find(name string) *zip.File {
	xname := r.t.dirname + "/" + name
	for _, f := range r.z.File {
		if f.Name == xname {
			return f
		}
	}
	return nil
}

// Files returns the names of the payload files in this bag, relative to the
// data directory, in sorted order. Directory entries are not included.
func (r *Reader) Files() []string {
	var result []string
	prefix := r.t.dirname + "/data/"
	for _, f := range r.z.File {
		if !strings.HasPrefix(f.Name, prefix) || strings.HasSuffix(f.Name, "/") {
			continue
		}
		result = append(result, strings.TrimPrefix(f.Name, prefix))
	}
	sort.Strings(result)
	return result
}

// Tags returns the tags in the bagit.txt and bag-info.txt files. Values of
// tags spanning several lines are joined with newlines.
func (r *Reader) Tags() map[string]string {
	if !r.tagsLoaded {
		r.tagsLoaded = true
		r.loadtagfile("bagit.txt")
		r.loadtagfile("bag-info.txt")
	}
	return r.t.tags
}

// loadtagfile adds the tags in the given tag file. A line beginning with
// white space continues the previous tag. Lines without a colon, and
// empty lines, are skipped.
func (r *Reader) loadtagfile(name string) {
	rc, err := r.open(name)
	if err != nil {
		return
	}
	defer rc.Close()
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var last string
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if last != "" {
				r.t.tags[last] += "\n" + line[1:]
			}
			continue
		}
		i := strings.Index(line, ":")
		if i == -1 {
			continue
		}
		last = strings.TrimSpace(line[:i])
		r.t.tags[last] = strings.TrimLeft(line[i+1:], " \t")
	}
}

// Checksum returns the checksums recorded in the manifests for the payload
// file with the given name, or nil if there are none.
func (r *Reader) Checksum(name string) *Checksum {
	if r.loadManifests() != nil {
		return nil
	}
	return r.t.manifest["data/"+name]
}

// loadManifests reads every manifest and tag manifest in the bag.
func (r *Reader) loadManifests() error {
	if r.manifestLoaded {
		return r.manifestErr
	}
	r.manifestLoaded = true
	for _, prefix := range []string{"manifest-", "tagmanifest-"} {
		for _, alg := range []struct {
			name string
			set  func(*Checksum, []byte)
		}{
			{"md5", (*Checksum).setmd5},
			{"sha1", (*Checksum).setsha1},
			{"sha256", (*Checksum).setsha256},
			{"sha512", (*Checksum).setsha512},
		} {
			err := r.readmanifest(prefix+alg.name+".txt", alg.set)
			if err != nil && errors.Cause(err) != ErrNotFound {
				r.manifestErr = err
				return err
			}
		}
	}
	return nil
}

func (c *Checksum) setmd5(b []byte)    { c.MD5 = b }
func (c *Checksum) setsha1(b []byte)   { c.SHA1 = b }
func (c *Checksum) setsha256(b []byte) { c.SHA256 = b }
func (c *Checksum) setsha512(b []byte) { c.SHA512 = b }

// readmanifest parses lines of the form "<hex checksum> <file name>".
func (r *Reader) readmanifest(name string, set func(*Checksum, []byte)) error {
	rc, err := r.open(name)
	if err != nil {
		return err
	}
	defer rc.Close()
	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		i := strings.IndexAny(line, " \t")
		if i == -1 {
			return errors.Wrapf(ErrManifest, "%s: no file name in %q", name, line)
		}
		sum, err := hex.DecodeString(line[:i])
		if err != nil {
			return errors.Wrapf(ErrManifest, "%s: %s", name, err.Error())
		}
		fname := strings.TrimPrefix(strings.TrimLeft(line[i:], " \t"), "*")
		if fname == "" {
			return errors.Wrapf(ErrManifest, "%s: no file name in %q", name, line)
		}
		ck := r.t.manifest[fname]
		if ck == nil {
			ck = new(Checksum)
			r.t.manifest[fname] = ck
		}
		set(ck, sum)
	}
	return errors.Wrap(scanner.Err(), name)
}

// Verify checks the bag against its manifests. Every payload file must be
// listed in a manifest, every listed payload file must be present, and
// every checksum given must match. Tag files listed in a tag manifest are
// checked if they are present. If the Payload-Oxum tag is present, it must
// match the payload. It returns nil if the bag is valid.
func (r *Reader) Verify() error {
	if err := r.loadManifests(); err != nil {
		return err
	}
	var bytecount int64
	payload := r.Files()
	for _, fname := range payload {
		if r.t.manifest["data/"+fname] == nil {
			return errors.Wrap(ErrExtraFile, fname)
		}
		if f := r.find("data/" + fname); f != nil {
			bytecount += int64(f.UncompressedSize64)
		}
	}
	var names []string
	for fname := range r.t.manifest {
		names = append(names, fname)
	}
	sort.Strings(names)
	for _, fname := range names {
		f := r.find(fname)
		if f == nil {
			if strings.HasPrefix(fname, "data/") {
				return errors.Wrap(ErrMissingFile, fname)
			}
			continue
		}
		if err := r.verifyFile(f, r.t.manifest[fname]); err != nil {
			return errors.Wrap(err, fname)
		}
	}
	if oxum, ok := r.Tags()["Payload-Oxum"]; ok {
		if oxum != fmt.Sprintf("%d.%d", bytecount, len(payload)) {
			return errors.Wrapf(ErrOxum, "%s for %d.%d", oxum, bytecount, len(payload))
		}
	}
	return nil
}

func (r *Reader) verifyFile(f *zip.File, goal *Checksum) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	hw := newVerifier(goal)
	if _, err := io.Copy(hw, rc); err != nil {
		return err
	}
	if !hw.Checksum().matches(goal) {
		return ErrChecksum
	}
	return nil
}
