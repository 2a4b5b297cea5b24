// Package sqlite wires the shared sqlstore implementation to the embedded
// metadata database used by a single-server deployment (spec.md §9,
// "embedded sqlite" option). This is a separate database and driver
// registration from the hosted-database query daemon in
// internal/querydaemon: the metadata schema is plain, unrestricted SQLite.
package sqlite

import (
	"database/sql"
	"strings"

	"github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"github.com/marcua/ayb/common"
	"github.com/marcua/ayb/internal/metadata"
	"github.com/marcua/ayb/internal/metadata/sqlstore"
)

// Open opens the metadata database at path, creating its schema if
// it doesn't already exist.
func Open(path string) (*sqlstore.Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, common.Wrap(common.KindIO, "opening metadata database", err)
	}

	// The metadata database is shared across the process's goroutines but
	// SQLite only allows one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent writers in exchange for serializing them.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(metadata.SQLiteSchema); err != nil {
		return nil, common.Wrap(common.KindIO, "creating metadata schema", err)
	}

	return sqlstore.New(db, squirrel.Question, translator{}), nil
}

type translator struct{}

// TranslateConflict maps mattn/go-sqlite3's unique-constraint error text to
// the domain conflict kind for recordKind. The driver doesn't expose a typed
// error code for this outside of the full sqlite3.Error, so any error whose
// text contains "UNIQUE constraint failed" counts as a conflict; which
// domain kind it becomes is decided by recordKind alone, not by the
// constraint named in the message.
func (translator) TranslateConflict(err error, recordKind string) (common.Error, bool) {
	if err == nil {
		return common.Error{}, false
	}

	if !strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return common.Error{}, false
	}

	switch recordKind {
	case "entity":
		return common.New(common.KindEntityExists, "an entity with this slug already exists"), true
	case "database":
		return common.New(common.KindDatabaseExists, "a database with this slug already exists for this entity"), true
	default:
		return common.New(common.KindOther, "unique constraint violated"), true
	}
}
