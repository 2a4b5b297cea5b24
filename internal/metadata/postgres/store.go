// Package postgres wires the shared sqlstore implementation to an external
// postgres metadata database, grounded on the teacher's
// adapters/postgres/asset package: pgx as the driver, squirrel's Dollar
// placeholder format, and pgconn.PgError inspected for the unique_violation
// code rather than string matching.
package postgres

import (
	"database/sql"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/marcua/ayb/common"
	"github.com/marcua/ayb/internal/metadata"
	"github.com/marcua/ayb/internal/metadata/sqlstore"
)

const uniqueViolationCode = "23505"

// Open connects to the postgres metadata database at dsn via database/sql,
// using pgx's stdlib adapter so sqlstore's generic implementation can stay
// driver-agnostic, and creates its schema if it doesn't already exist.
func Open(dsn string) (*sqlstore.Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, common.Wrap(common.KindIO, "opening metadata database", err)
	}

	if _, err := db.Exec(metadata.PostgresSchema); err != nil {
		return nil, common.Wrap(common.KindIO, "creating metadata schema", err)
	}

	return sqlstore.New(db, squirrel.Dollar, translator{}), nil
}

type translator struct{}

// TranslateConflict maps a postgres unique_violation to the domain conflict
// kind for recordKind. The domain kind is chosen by recordKind alone; the
// name of the violated constraint is not inspected.
func (translator) TranslateConflict(err error, recordKind string) (common.Error, bool) {
	var pgErr *pgconn.PgError
	if !asPgError(err, &pgErr) || pgErr.Code != uniqueViolationCode {
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

func asPgError(err error, target **pgconn.PgError) bool {
	for err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok {
			*target = pgErr
			return true
		}

		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}

		err = u.Unwrap()
	}

	return false
}
