package querydaemon

import (
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"unicode/utf8"

	"github.com/mattn/go-sqlite3"

	"github.com/marcua/ayb/common"
)

// driverName is registered once with a ConnectHook that disables ATTACH
// and other dangerous operations at the engine level — the one sandbox
// layer spec.md §4.2 requires on every platform.
const driverName = "ayb-sqlite3"

var registerOnce sync.Once

func registerDriver() {
	registerOnce.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterAuthorizer(defensiveAuthorizer)
			},
		})
	})
}

// defensiveAuthorizer denies ATTACH/DETACH and schema-corrupting pragmas,
// approximating SQLite's defensive-mode connection flag (not exposed by
// the driver) plus the mandatory ATTACH prohibition from spec.md §4.2.
func defensiveAuthorizer(action int, arg1, arg2, arg3 string) int {
	switch action {
	case sqlite3.SQLITE_ATTACH, sqlite3.SQLITE_DETACH:
		return sqlite3.SQLITE_DENY
	case sqlite3.SQLITE_PRAGMA:
		if arg1 == "writable_schema" {
			return sqlite3.SQLITE_DENY
		}
	}

	return sqlite3.SQLITE_OK
}

// unsafeDriverName is registered without the ATTACH prohibition so the
// snapshot engine's VACUUM INTO can open its destination file, per
// spec.md §4.10 step 3: "the copy must run without the sandbox's ATTACH
// prohibition." This is the only context where the limit is relaxed, and
// it is safe because the snapshot SQL string is server-controlled, never
// caller input.
const unsafeDriverName = "ayb-sqlite3-unsafe"

var registerUnsafeOnce sync.Once

func registerUnsafeDriver() {
	registerUnsafeOnce.Do(func() {
		sql.Register(unsafeDriverName, &sqlite3.SQLiteDriver{})
	})
}

// Engine executes queries against a single sqlite file using the
// defensive, ATTACH-disabled driver.
type Engine struct {
	path string
}

// Open opens path with the engine-level defenses always active.
func Open(path string) *Engine {
	registerDriver()
	return &Engine{path: path}
}

// Run executes query in the given mode. In read-only mode, any statement
// that attempts to write fails with common.KindReadOnlyViolation.
func (e *Engine) Run(query string, mode QueryMode) (*Response, error) {
	dsn := e.path
	if mode == QueryModeReadOnly {
		dsn = fmt.Sprintf("file:%s?mode=ro&_query_only=true", e.path)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, common.Wrap(common.KindQueryError, "opening database", err)
	}
	defer db.Close()

	return execute(db, query, mode)
}

func execute(db *sql.DB, query string, mode QueryMode) (*Response, error) {
	rows, err := db.Query(query)
	if err != nil {
		if mode == QueryModeReadOnly && isReadOnlyViolation(err) {
			return nil, common.New(common.KindReadOnlyViolation, "write attempted in read-only mode")
		}

		return nil, common.Wrap(common.KindQueryError, err.Error(), err)
	}
	defer rows.Close()

	fields, err := rows.Columns()
	if err != nil {
		return nil, common.Wrap(common.KindQueryError, "reading column names", err)
	}

	result := &Response{Fields: fields, Rows: [][]*string{}}

	values := make([]any, len(fields))
	pointers := make([]any, len(fields))

	for i := range values {
		pointers[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(pointers...); err != nil {
			return nil, common.Wrap(common.KindQueryError, "scanning row", err)
		}

		row := make([]*string, len(fields))

		for i, v := range values {
			s, err := encodeCell(v)
			if err != nil {
				return nil, err
			}

			row[i] = s
		}

		result.Rows = append(result.Rows, row)
	}

	if err := rows.Err(); err != nil {
		if mode == QueryModeReadOnly && isReadOnlyViolation(err) {
			return nil, common.New(common.KindReadOnlyViolation, "write attempted in read-only mode")
		}

		return nil, common.Wrap(common.KindQueryError, "iterating rows", err)
	}

	return result, nil
}

// encodeCell implements spec.md §4.3's cell encoding: integers and floats
// stringified, text as-is, blobs as UTF-8 if valid else error, nulls
// become a nil pointer (absent).
func encodeCell(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}

	switch t := v.(type) {
	case int64:
		s := strconv.FormatInt(t, 10)
		return &s, nil
	case float64:
		s := strconv.FormatFloat(t, 'g', -1, 64)
		return &s, nil
	case string:
		return &t, nil
	case []byte:
		if !utf8.Valid(t) {
			return nil, common.New(common.KindQueryError, "blob column is not valid UTF-8")
		}

		s := string(t)

		return &s, nil
	case bool:
		s := strconv.FormatBool(t)
		return &s, nil
	default:
		s := fmt.Sprintf("%v", t)
		return &s, nil
	}
}

func isReadOnlyViolation(err error) bool {
	if sqliteErr, ok := err.(sqlite3.Error); ok {
		return sqliteErr.Code == sqlite3.ErrReadonly
	}

	return false
}

// RunUnsafe executes query against path without the ATTACH prohibition.
// Used only by the snapshot engine for VACUUM INTO (spec.md §4.10 step 3).
func RunUnsafe(path, query string) error {
	registerUnsafeDriver()

	db, err := sql.Open(unsafeDriverName, path)
	if err != nil {
		return common.Wrap(common.KindSnapshotError, "opening database for snapshot", err)
	}
	defer db.Close()

	if _, err := db.Exec(query); err != nil {
		return common.Wrap(common.KindSnapshotError, "running snapshot query", err)
	}

	return nil
}

// IntegrityCheck runs PRAGMA integrity_check against path and returns nil
// iff the single returned row reads "ok".
func IntegrityCheck(path string) error {
	registerDriver()

	db, err := sql.Open(driverName, path)
	if err != nil {
		return common.Wrap(common.KindSnapshotError, "opening snapshot for integrity check", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return common.Wrap(common.KindSnapshotError, "running integrity check", err)
	}

	if result != "ok" {
		return common.New(common.KindSnapshotError, fmt.Sprintf("snapshot failed integrity check: %s", result))
	}

	return nil
}
