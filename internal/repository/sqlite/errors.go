package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/microblog/internal/apperror"
)

// TRANSLATING DRIVER ERRORS INTO DOMAIN ERRORS:
// The service layer must never see a *sqlite.Error. Everything that leaves this
// package is either an apperror (NotFound, DuplicateKey, Unavailable) or a
// wrapped error with an "sqlite: <operation>" prefix.

// resultCode returns the primary SQLite result code of err, if err came from the driver.
// Extended codes (e.g. SQLITE_CONSTRAINT_UNIQUE = 2067) keep the primary code in the low byte.
func resultCode(err error) (int, bool) {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return 0, false
	}
	return se.Code() & 0xff, true
}

// isUniqueViolation reports a UNIQUE or PRIMARY KEY constraint failure.
func isUniqueViolation(err error) bool {
	code, ok := resultCode(err)
	if !ok || code != sqlite3.SQLITE_CONSTRAINT {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}

// isForeignKeyViolation reports a REFERENCES constraint failure.
func isForeignKeyViolation(err error) bool {
	code, ok := resultCode(err)
	return ok && code == sqlite3.SQLITE_CONSTRAINT &&
		strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// uniqueColumn extracts "username" from "UNIQUE constraint failed: users.username".
func uniqueColumn(err error, table string) string {
	msg := err.Error()
	prefix := table + "."
	i := strings.LastIndex(msg, prefix)
	if i < 0 {
		return ""
	}
	col := msg[i+len(prefix):]
	if j := strings.IndexAny(col, " ,)"); j >= 0 {
		col = col[:j]
	}
	return col
}

// isUnavailable reports failures where the storage engine itself could not
// serve the request, as opposed to a bad query or a constraint.
func isUnavailable(err error) bool {
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// database/sql doesn't export its "closed pool" error.
	if strings.Contains(err.Error(), "sql: database is closed") {
		return true
	}
	code, ok := resultCode(err)
	if !ok {
		return false
	}
	switch code {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR,
		sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_FULL, sqlite3.SQLITE_NOTADB:
		return true
	}
	return false
}

// storageError wraps err for op, promoting engine failures to apperror.ErrUnavailable.
func storageError(op string, err error) error {
	if isUnavailable(err) {
		return apperror.Unavailable(op, err)
	}
	return fmt.Errorf("sqlite: %s: %w", op, err)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// idSet encodes ids as one JSON array argument for
//
//	... IN (SELECT value FROM json_each(?))
//
// so an id list of any size binds a single SQL variable. One placeholder per
// id would hit SQLITE_MAX_VARIABLE_NUMBER (32766) for large follow graphs.
func idSet(ids []string) (string, error) {
	b, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("sqlite: encoding id set: %w", err)
	}
	return string(b), nil
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// clamp applies the default page size and bounds to caller-supplied options.
func clamp(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
