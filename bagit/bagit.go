// Package bagit implements enough of the BagIt specification to save and
// read the package containers produced by the exporter. A bag is written as
// a single zip file which does not use compression. Only MD5 and SHA256
// checksums are generated for the manifest files, although SHA1 and SHA512
// manifests are understood when verifying.
//
// Specific items not implemented are fetch files and holey bags. Multiple
// occurrences of a tag in the bag-info.txt file are not preserved. Tags are
// written in sorted order, and tag values which span several lines are
// folded using continuation lines beginning with a single space.
//
// This package allows for reading a bag, verifying a bag, and creating new
// bags. It does not provide any services for updating a bag.
// Checksums are generated for each file when a bag is created.
// After that, checksums are only calculated when a bag is (explicitly) verified.
// In particular, checksums are not calculated when reading content from a bag.
//
// The interface is designed to mirror the archive/zip interface as much as
// possible.
//
// The BagIt spec can be found at https://tools.ietf.org/html/rfc8493.
package bagit

// Bag represents a single BagIt file.
type Bag struct {
	// the bag's name, which is the directory this bag unserializes into.
	// It does not include a trailing slash.
	dirname string

	// for each file in this bag, the checksums we expect for it.
	// payload files begin with "data/". Tag and control files don't.
	manifest map[string]*Checksum

	// list of tags to be saved in the bag-info.txt file. The key is the
	// tag name, and the value is the content to save for that tag.
	tags map[string]string
}

// Checksum contains all the checksums we know about for a given file.
// Some entries may be empty. At least one entry should be present.
type Checksum struct {
	MD5    []byte
	SHA1   []byte
	SHA256 []byte
	SHA512 []byte
}

const (
	// Version is the version of the BagIt specification this package implements.
	Version = "0.97"
)

// New creates a new, empty bag structure.
func New() Bag {
	return Bag{
		manifest: make(map[string]*Checksum),
		tags:     make(map[string]string),
	}
}
