package domain

import (
	"errors"
	"fmt"

	"github.com/alanyoungcy/wagerbot/internal/oddsmath"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrRateLimited          = errors.New("rate limited")
	ErrLockHeld             = errors.New("lock already held")
	ErrInsufficientBankroll = errors.New("insufficient bankroll")
	ErrNoPositiveEdge       = errors.New("no positive edge")
	ErrAlreadySettled       = errors.New("wager already settled")
	ErrInvalidTransition    = errors.New("invalid wager state transition")
	ErrInvalidOdds          = oddsmath.ErrInvalidOdds
	ErrInvalidWager         = errors.New("invalid wager")
	ErrExecutionFailed      = errors.New("execution venue rejected wager")
)

// Severity grades a data quality incident.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ValidationError describes why a prediction was rejected before placement.
type ValidationError struct {
	PredictionID string
	WagerType    WagerType
	Field        string
	Reason       string
	Severity     Severity
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s: %s: %s", e.WagerType, e.PredictionID, e.Field, e.Reason)
}

// TransientError marks a failure of an external collaborator (prediction
// feed, ledger read) that is expected to clear on retry.
type TransientError struct {
	Source string
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient %s: %v", e.Source, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PersistenceError marks a failed write to the wager or ledger store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsTransient reports whether err is, or wraps, a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPersistence reports whether err is, or wraps, a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
