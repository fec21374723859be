package store_test

import (
	"testing"

	"github.com/ndlib/sipexport/store"
	"github.com/ndlib/sipexport/store/storetest"
)

func TestFileSystemBasic(t *testing.T) {
	storetest.Basic(t, store.NewFileSystem(t.TempDir()))
}

func TestMemoryBasic(t *testing.T) {
	storetest.Basic(t, store.NewMemory())
}

func TestFileSystemStress(t *testing.T) {
	storetest.Stress(t, store.NewFileSystem(t.TempDir()), 4*1024*1024)
}

func TestMemoryStress(t *testing.T) {
	storetest.Stress(t, store.NewMemory(), 4*1024*1024)
}
