package ledger

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/cznic/ql/driver"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// qlLedger keeps the history in the QL embedded database.
type qlLedger struct {
	db *sql.DB
}

var _ Ledger = &qlLedger{}

const qlLedgerInit = `
	CREATE TABLE IF NOT EXISTS ledger (
		batch string,
		package string,
		parent string,
		title string,
		container string,
		bytes int64,
		status string,
		errmsg string,
		finished time
	);
	CREATE INDEX IF NOT EXISTS ledgerbatch ON ledger (batch);
	CREATE INDEX IF NOT EXISTS ledgerfinished ON ledger (finished);
`

// NewQL opens a QL database ledger. filename is the name of the file to
// save the database to. The filename "memory" means to keep everything in
// memory; each such ledger is separate from the others.
func NewQL(filename string) (Ledger, error) {
	var db *sql.DB
	var err error
	if filename == "memory" {
		db, err = sql.Open("ql-mem", fmt.Sprintf("mem-%s.db", uuid.New()))
	} else {
		db, err = sql.Open("ql", filename)
	}
	if err == nil {
		_, err = performExec(db, qlLedgerInit)
	}
	if err != nil {
		log.Printf("Open QL: %s", err.Error())
		if db != nil {
			db.Close()
		}
		return nil, errors.Wrap(err, "opening ledger")
	}
	return &qlLedger{db: db}, nil
}

func (ql *qlLedger) Record(e Entry) error {
	const query = `INSERT INTO ledger VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9)`

	_, err := performExec(ql.db, query,
		e.Batch, e.PackageID, e.ParentID, e.Title, e.Container,
		e.Bytes, e.Status, e.Error, e.Finished)
	return errors.Wrap(err, "ledger record")
}

func (ql *qlLedger) Batch(batch string) ([]Entry, error) {
	const query = `
		SELECT batch, package, parent, title, container, bytes, status, errmsg, finished
		FROM ledger
		WHERE batch == ?1
		ORDER BY finished`

	return ql.query(query, batch)
}

func (ql *qlLedger) Failures(since time.Time) ([]Entry, error) {
	const query = `
		SELECT batch, package, parent, title, container, bytes, status, errmsg, finished
		FROM ledger
		WHERE status == "failed" AND finished >= ?1
		ORDER BY finished`

	return ql.query(query, since)
}

func (ql *qlLedger) query(query string, args ...interface{}) ([]Entry, error) {
	rows, err := ql.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "ledger query")
	}
	defer rows.Close()
	var result []Entry
	for rows.Next() {
		var e Entry
		err = rows.Scan(&e.Batch, &e.PackageID, &e.ParentID, &e.Title,
			&e.Container, &e.Bytes, &e.Status, &e.Error, &e.Finished)
		if err != nil {
			return nil, errors.Wrap(err, "ledger query")
		}
		result = append(result, e)
	}
	return result, errors.Wrap(rows.Err(), "ledger query")
}

func (ql *qlLedger) Close() error {
	return ql.db.Close()
}

// performExec runs query inside a transaction, which QL requires for
// anything that changes the database.
func performExec(db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	result, err := tx.Exec(query, args...)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	err = tx.Commit()
	return result, err
}
