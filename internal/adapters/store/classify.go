package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/boltdb/bolt"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

func classifyCommon(err error) (errClass, bool) {
	switch {
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return classFatal, true
	case errors.Is(err, context.DeadlineExceeded):
		return classTransient, true
	}
	return classOther, false
}

func classifySQLite(err error) errClass {
	if c, ok := classifyCommon(err); ok {
		return c
	}
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return classOther
	}
	code := se.Code()
	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return classTransient
	case sqlite3.SQLITE_CONSTRAINT:
		if code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			strings.Contains(se.Error(), "UNIQUE constraint failed") {
			return classDuplicate
		}
	case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_CANTOPEN:
		return classFatal
	}
	return classOther
}

func classifyPostgres(err error) errClass {
	if c, ok := classifyCommon(err); ok {
		return c
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return classOther
	}
	switch pqErr.Code {
	case "23505": // unique_violation
		return classDuplicate
	case "40001", "40P01", "55P03", "53300", "57014":
		return classTransient
	}
	switch pqErr.Code.Class() {
	case "08", "57", "XX":
		return classFatal
	}
	return classOther
}

func classifyBolt(err error) errClass {
	switch {
	case errors.Is(err, errDuplicateKey):
		return classDuplicate
	case errors.Is(err, bolt.ErrTimeout):
		return classTransient
	case errors.Is(err, bolt.ErrDatabaseNotOpen), errors.Is(err, bolt.ErrInvalid),
		errors.Is(err, bolt.ErrChecksum), errors.Is(err, bolt.ErrVersionMismatch):
		return classFatal
	}
	return classOther
}
