package ledger

import (
	"database/sql"
	"log"
	"time"

	// no _ in import mysql since we need mysql.NullTime
	"github.com/BurntSushi/migration"
	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

// msqlLedger keeps the history in a MySQL database.
type msqlLedger struct {
	db *sql.DB
}

var _ Ledger = &msqlLedger{}

// List of migrations to perform. Add new ones to the end.
// DO NOT change the order of items already in this list.
var mysqlMigrations = []migration.Migrator{
	mysqlschema1,
	mysqlschema2,
}

var mysqlVersioning = dbVersion{
	GetSQL:    `SELECT max(version) FROM migration_version`,
	SetSQL:    `INSERT INTO migration_version (version, applied) VALUES (?, now())`,
	CreateSQL: `CREATE TABLE migration_version (version INTEGER, applied datetime)`,
}

// NewMySQL connects to a MySQL database, bringing its schema up to date.
func NewMySQL(dial string) (Ledger, error) {
	db, err := migration.OpenWith(
		"mysql",
		dial,
		mysqlMigrations,
		mysqlVersioning.Get,
		mysqlVersioning.Set)
	if err != nil {
		log.Printf("Open Mysql: %s", err.Error())
		return nil, errors.Wrap(err, "opening ledger")
	}
	return &msqlLedger{db: db}, nil
}

func (ms *msqlLedger) Record(e Entry) error {
	const query = `
		INSERT INTO ledger
		(batch, package, parent, title, container, bytes, status, errmsg, finished)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := ms.db.Exec(query,
		e.Batch, e.PackageID, e.ParentID, e.Title, e.Container,
		e.Bytes, e.Status, e.Error, e.Finished)
	return errors.Wrap(err, "ledger record")
}

func (ms *msqlLedger) Batch(batch string) ([]Entry, error) {
	const query = `
		SELECT batch, package, parent, title, container, bytes, status, errmsg, finished
		FROM ledger
		WHERE batch = ?
		ORDER BY finished, id`

	return ms.query(query, batch)
}

func (ms *msqlLedger) Failures(since time.Time) ([]Entry, error) {
	const query = `
		SELECT batch, package, parent, title, container, bytes, status, errmsg, finished
		FROM ledger
		WHERE status = "failed" AND finished >= ?
		ORDER BY finished, id`

	return ms.query(query, since)
}

func (ms *msqlLedger) query(query string, args ...interface{}) ([]Entry, error) {
	rows, err := ms.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "ledger query")
	}
	defer rows.Close()
	var result []Entry
	for rows.Next() {
		var e Entry
		var finished mysql.NullTime
		err = rows.Scan(&e.Batch, &e.PackageID, &e.ParentID, &e.Title,
			&e.Container, &e.Bytes, &e.Status, &e.Error, &finished)
		if err != nil {
			return nil, errors.Wrap(err, "ledger query")
		}
		if finished.Valid {
			e.Finished = finished.Time
		}
		result = append(result, e)
	}
	return result, errors.Wrap(rows.Err(), "ledger query")
}

func (ms *msqlLedger) Close() error {
	return ms.db.Close()
}

// database migrations. each one is a go function. Add them to the
// list mysqlMigrations at top of this file for them to be run.

func mysqlschema1(tx migration.LimitedTx) error {
	var s = []string{
		`CREATE TABLE IF NOT EXISTS ledger (
		id int PRIMARY KEY AUTO_INCREMENT,
		batch varchar(64),
		package varchar(64),
		parent varchar(255),
		title varchar(1024),
		container text,
		bytes bigint,
		status varchar(16),
		errmsg text,
		finished datetime(3))`,
	}
	return execlist(tx, s)
}

func mysqlschema2(tx migration.LimitedTx) error {
	var s = []string{
		`CREATE INDEX ledger_batch ON ledger (batch)`,
		`CREATE INDEX ledger_status_finished ON ledger (status, finished)`,
	}
	return execlist(tx, s)
}
