package rbt

import (
	"database/sql"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
	"shanhu.io/misc/errcode"
)

// openSqlite opens a sqlite database file with WAL journaling and a
// busy timeout, so that concurrent workers can read and write the
// persistent maps.
func openSqlite(file string) (*sql.DB, error) {
	dsn := "file:" + file +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errcode.Annotate(err, "open sqlite")
	}
	// The driver is in-process; a single connection avoids busy
	// retries on concurrent idempotent writes.
	db.SetMaxOpenConns(1)
	return db, nil
}
