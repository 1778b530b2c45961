// Package sqldb persists a farm into a sql database.
// It supports sqlite3 and postgres.
package sqldb

import (
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Open opens a database with the driver, which should be either "sqlite3" or "postgres".
// It creates the tables if they don't exist yet.
func Open(driver, dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, errors.New("db dsn required")
	}
	switch driver {
	case "sqlite3", "postgres":
	default:
		return nil, errors.Errorf("unsupported db driver: %v", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if driver == "sqlite3" {
		// Enable Write-Ahead Logging. See https://sqlite.org/wal.html
		if _, err := db.Exec(`PRAGMA journal_mode = wal;`); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "enable wal")
		}
		// sqlite cannot write concurrently.
		db.SetMaxOpenConns(1)
	}
	err = Create(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Create creates the tables to the database if not exists.
// It is ok to call it multiple times.
func Create(db *sqlx.DB) error {
	tx, err := db.Beginx()
	if err != nil {
		return errors.WithStack(err)
	}
	defer tx.Rollback()
	err = createJobsTable(tx)
	if err != nil {
		return errors.Wrap(err, "create jobs table")
	}
	err = createWorkersTable(tx)
	if err != nil {
		return errors.Wrap(err, "create workers table")
	}
	return errors.WithStack(tx.Commit())
}

// Where builds a where clause of a query.
type Where struct {
	keys []string
	vals []interface{}
}

func NewWhere() *Where {
	return &Where{
		keys: make([]string, 0),
		vals: make([]interface{}, 0),
	}
}

func (w *Where) Add(k string, v interface{}) {
	w.keys = append(w.keys, k)
	w.vals = append(w.vals, v)
}

// Stmt returns the where clause with '?' placeholders.
// Rebind it for drivers using other placeholders.
func (w *Where) Stmt() string {
	if len(w.keys) == 0 {
		return ""
	}
	stmt := " WHERE"
	for i, k := range w.keys {
		if i != 0 {
			stmt += " AND"
		}
		stmt += " " + k + " = ?"
	}
	return stmt
}

func (w *Where) Vals() []interface{} {
	return w.vals
}
