package visitor

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Handler receives the events of a Walk.
//
// PreVisitDirectory is called before the entries of a directory are visited.
// Returning fs.SkipDir skips the directory (PostVisitDirectory is then not
// called for it); any other non-nil error stops the walk.
type Handler interface {
	PreVisitDirectory(path string, info fs.FileInfo) error
	PostVisitDirectory(path string)
	VisitFile(path string, info fs.FileInfo)
	VisitFileFailed(path string, err error)
	End()
}

// Excluder may be implemented by a Handler to leave entries out of the walk
// before they are read. Excluded is called for every entry below the root;
// an excluded entry produces no events at all.
type Excluder interface {
	Excluded(path string, dir bool) bool
}

var (
	// ErrLinkedDir is reported for symbolic links pointing at directories.
	// They are not followed, to keep the walk free of cycles.
	ErrLinkedDir = errors.New("symbolic link to a directory not followed")

	// ErrNotRegular is reported for devices, sockets, pipes and the like.
	ErrNotRegular = errors.New("not a regular file")
)

// Walk visits root and everything below it, depth first, with directories
// handled in pre-order and the entries of each directory taken in name
// order. Entries which cannot be read are passed to VisitFileFailed and the
// walk continues. End is always called exactly once, last.
//
// Walk returns an error only if root itself cannot be read, a handler
// stops the walk, or ctx is cancelled.
func Walk(ctx context.Context, root string, h Handler) error {
	defer h.End()
	info, err := os.Stat(root)
	if err != nil {
		h.VisitFileFailed(root, err)
		return errors.Wrapf(err, "walking %s", root)
	}
	if !info.IsDir() {
		visitFile(root, info, h)
		return nil
	}
	return walkDir(ctx, root, info, h)
}

func walkDir(ctx context.Context, path string, info fs.FileInfo, h Handler) error {
	ex, _ := h.(Excluder)
	entries, err := os.ReadDir(path)
	if err != nil {
		h.VisitFileFailed(path, err)
		return nil
	}
	if err := h.PreVisitDirectory(path, info); err != nil {
		if err == fs.SkipDir {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := filepath.Join(path, e.Name())
		if ex != nil && ex.Excluded(p, e.IsDir()) {
			continue
		}
		fi, err := os.Stat(p)
		if err != nil {
			h.VisitFileFailed(p, err)
			continue
		}
		if fi.IsDir() {
			if e.Type()&fs.ModeSymlink != 0 {
				h.VisitFileFailed(p, ErrLinkedDir)
				continue
			}
			if err := walkDir(ctx, p, fi, h); err != nil {
				return err
			}
			continue
		}
		visitFile(p, fi, h)
	}
	h.PostVisitDirectory(path)
	return nil
}

// visitFile makes sure the file is regular and can be opened before handing
// it to the handler.
func visitFile(path string, info fs.FileInfo, h Handler) {
	if !info.Mode().IsRegular() {
		h.VisitFileFailed(path, ErrNotRegular)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		h.VisitFileFailed(path, err)
		return
	}
	f.Close()
	h.VisitFile(path, info)
}
