package visitor

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// MetadataKind tells where the metadata of a package comes from.
type MetadataKind int

const (
	MetadataNone MetadataKind = iota
	MetadataSingleFile
	MetadataSameDirectory
	MetadataDiffDirectory
)

func (k MetadataKind) String() string {
	switch k {
	case MetadataNone:
		return "none"
	case MetadataSingleFile:
		return "single"
	case MetadataSameDirectory:
		return "same"
	case MetadataDiffDirectory:
		return "diff"
	}
	return "unknown"
}

// ParseMetadataKind converts the names returned by MetadataKind.String back.
func ParseMetadataKind(s string) (MetadataKind, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return MetadataNone, nil
	case "single":
		return MetadataSingleFile, nil
	case "same":
		return MetadataSameDirectory, nil
	case "diff":
		return MetadataDiffDirectory, nil
	}
	return MetadataNone, errors.Errorf("unknown metadata source %q", s)
}

// MetadataSource says how metadata is resolved for each package. Path is
// the metadata file for MetadataSingleFile and the sidecar directory for
// MetadataDiffDirectory. It is ignored otherwise.
type MetadataSource struct {
	Kind MetadataKind
	Path string
}

// Validate makes sure a path is given when the kind needs one.
func (m MetadataSource) Validate() error {
	switch m.Kind {
	case MetadataSingleFile, MetadataDiffDirectory:
		if m.Path == "" {
			return errors.Errorf("metadata source %s needs a path", m.Kind)
		}
	}
	return nil
}

// SidecarName is the extension sidecar metadata files carry.
const SidecarName = ".xml"

// SidecarCandidates lists the names of the sidecar files for the file or
// directory with the given base name, in the order they are tried:
// the name without its extension, then the full name.
func SidecarCandidates(name string) []string {
	var result []string
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if stem != "" && stem != name {
		result = append(result, stem+SidecarName)
	}
	return append(result, name+SidecarName)
}

type resolver struct {
	src MetadataSource

	once    sync.Once
	single  string
	loadErr error
}

func newResolver(src MetadataSource) *resolver {
	return &resolver{src: src}
}

// resolve returns the metadata field name and content for the package
// whose source is at anchor. ok is false if there is no metadata.
func (r *resolver) resolve(anchor string) (field, content string, ok bool) {
	switch r.src.Kind {
	case MetadataSingleFile:
		r.once.Do(func() {
			var b []byte
			b, r.loadErr = os.ReadFile(r.src.Path)
			r.single = string(b)
			if r.loadErr != nil {
				log.Printf("metadata %s: %s", r.src.Path, r.loadErr.Error())
			}
		})
		if r.loadErr != nil {
			return "", "", false
		}
		return filepath.Base(r.src.Path), r.single, true
	case MetadataSameDirectory:
		return sidecar(filepath.Dir(anchor), anchor)
	case MetadataDiffDirectory:
		return sidecar(r.src.Path, anchor)
	}
	return "", "", false
}

// sidecar looks in dir for the sidecar of anchor.
func sidecar(dir, anchor string) (string, string, bool) {
	for _, name := range SidecarCandidates(filepath.Base(anchor)) {
		p := filepath.Join(dir, name)
		if p == anchor {
			continue
		}
		b, err := os.ReadFile(p)
		if err != nil {
			if !os.IsNotExist(err) {
				log.Printf("sidecar %s: %s", p, err.Error())
			}
			continue
		}
		return name, string(b), true
	}
	return "", "", false
}
