package database

import (
	"errors"
	"fmt"

	"discord-invite-tracker/internal/metrics"
)

var (
	// ErrConflict means an invite code is already tracked for another creator.
	ErrConflict = errors.New("invite code belongs to another creator")
	// ErrNotFound means the referenced invite does not exist.
	ErrNotFound = errors.New("invite not found")
)

// PersistenceError wraps an unexpected storage failure with the ledger
// operation that hit it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("database: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	metrics.RecordLedgerError(op)
	return &PersistenceError{Op: op, Err: err}
}
