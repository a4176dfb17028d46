package storage

import (
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"wallet/internal/core"
)

// classify tags driver errors with the matching core error class. Errors that
// did not come from SQLite are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}

	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %w", core.ErrConcurrency, err)
	case sqlite3.SQLITE_CONSTRAINT:
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY,
			sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%w: %w", core.ErrConflict, err)
		case sqlite3.SQLITE_CONSTRAINT_CHECK, sqlite3.SQLITE_CONSTRAINT_NOTNULL:
			return fmt.Errorf("%w: %w", core.ErrValidation, err)
		case sqlite3.SQLITE_CONSTRAINT:
			// Extended codes disabled: fall back to the message.
			msg := sqliteErr.Error()
			if strings.Contains(msg, "UNIQUE") || strings.Contains(msg, "FOREIGN KEY") {
				return fmt.Errorf("%w: %w", core.ErrConflict, err)
			}
			if strings.Contains(msg, "CHECK") || strings.Contains(msg, "NOT NULL") {
				return fmt.Errorf("%w: %w", core.ErrValidation, err)
			}
		}
		// Trigger aborts and other constraint kinds can fire after rows were
		// written, so they are not input validation failures.
		return err
	}
	return err
}
