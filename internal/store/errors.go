package store

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// UnknownColumnError reports a write that failed because the target schema
// is missing a column. Classification happens at this boundary so callers
// never have to parse driver error text.
type UnknownColumnError struct {
	Table  string
	Column string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("unknown column %s.%s", e.Table, e.Column)
}

// PersistError is any durable-write failure that survived the one
// optional-column retry.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return "persist " + e.Op + ": " + e.Err.Error()
}

func (e *PersistError) Unwrap() error { return e.Err }

// pgUndefinedColumn is PostgreSQL SQLSTATE 42703.
const pgUndefinedColumn = "42703"

var columnNameRe = regexp.MustCompile(`column "([^"]+)"`)

// classifyColumnError converts a driver error into an *UnknownColumnError
// when the failure names a missing column, or returns the error unchanged.
// The SQLSTATE path is authoritative; the message scan over the table's
// known optional columns is a fallback for drivers that do not surface codes.
func classifyColumnError(table string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUndefinedColumn {
		if m := columnNameRe.FindStringSubmatch(pgErr.Message); m != nil {
			return &UnknownColumnError{Table: table, Column: m[1]}
		}
	}

	msg := err.Error()
	for _, col := range optionalColumns[table] {
		if strings.Contains(msg, col) {
			return &UnknownColumnError{Table: table, Column: col}
		}
	}
	return err
}
