// Package ledger keeps a persistent history of exported packages: which
// batch each belonged to, whether it was created, and why it failed if it
// was not.
//
// Two backends are provided. QL is an embedded database meant for single
// machine use and tests. MySQL is for deployments sharing one history.
package ledger

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// The values of Entry.Status.
const (
	StatusCreated = "created"
	StatusFailed  = "failed"
)

// Entry is the outcome of one package.
type Entry struct {
	Batch     string    `json:"batch"`
	PackageID string    `json:"id"`
	ParentID  string    `json:"parent"`
	Title     string    `json:"title"`
	Container string    `json:"container,omitempty"` // path of the sealed container
	Bytes     int64     `json:"bytes"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Finished  time.Time `json:"finished"`
}

// A Ledger stores entries. Implementations are goroutine safe.
type Ledger interface {
	// Record adds an entry.
	Record(e Entry) error

	// Batch returns the entries of a batch, oldest first.
	Batch(batch string) ([]Entry, error)

	// Failures returns the failed entries finished at or after since,
	// oldest first.
	Failures(since time.Time) ([]Entry, error)

	Close() error
}

// MySQLPrefix starts a data source name which should be opened with MySQL.
const MySQLPrefix = "mysql:"

// ErrNoDSN is returned by Open when given an empty data source name.
var ErrNoDSN = errors.New("no ledger data source given")

// Open returns a ledger for the data source dsn. A dsn beginning with
// "mysql:" is passed, without the prefix, to the MySQL driver. Otherwise it
// names a QL database file, or "memory" for a database kept in memory.
func Open(dsn string) (Ledger, error) {
	switch {
	case dsn == "":
		return nil, ErrNoDSN
	case strings.HasPrefix(dsn, MySQLPrefix):
		return NewMySQL(strings.TrimPrefix(dsn, MySQLPrefix))
	}
	return NewQL(dsn)
}
