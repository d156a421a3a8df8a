package database

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// FailureClass tags a database error with the concurrency condition it
// represents. Classification is pure: no I/O, no state.
type FailureClass int

const (
	FailureOther FailureClass = iota
	FailureDeadlock
	FailureSerialization
	FailureLockTimeout
	FailureStatementTimeout
	FailureVersionConflict
	FailureNotFound
)

func (c FailureClass) String() string {
	switch c {
	case FailureDeadlock:
		return "deadlock"
	case FailureSerialization:
		return "serialization failure"
	case FailureLockTimeout:
		return "lock timeout"
	case FailureStatementTimeout:
		return "statement timeout"
	case FailureVersionConflict:
		return "version conflict"
	case FailureNotFound:
		return "not found"
	}
	return "other"
}

var (
	// ErrVersionConflict is raised when a conditional update matched zero
	// rows because the row's version moved underneath the reader.
	ErrVersionConflict = errors.New("version conflict")

	// ErrTransactionTimeout is raised by the executor when the wall-clock
	// transaction budget elapses before the unit of work returns.
	ErrTransactionTimeout = errors.New("transaction timed out")

	// ErrUnknownIsolationLevel marks a configuration error: the caller asked
	// for an isolation level the policy does not know.
	ErrUnknownIsolationLevel = errors.New("unknown isolation level")
)

// SQLSTATE codes, https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgQueryCanceled        = "57014"
)

// A ClassifierFunc inspects an error and reports its failure class.
// Returning ok == false hands the error to the next classifier in the chain.
type ClassifierFunc func(err error) (class FailureClass, ok bool)

func classifySentinel(err error) (FailureClass, bool) {
	var conflict *ConflictAfterRetriesError
	if errors.As(err, &conflict) {
		// Terminal retry-exhaustion error; must not look retryable again.
		return FailureOther, true
	}
	switch {
	case errors.Is(err, ErrVersionConflict):
		return FailureVersionConflict, true
	case errors.Is(err, gorm.ErrRecordNotFound):
		return FailureNotFound, true
	case errors.Is(err, ErrTransactionTimeout), errors.Is(err, context.DeadlineExceeded):
		return FailureStatementTimeout, true
	}
	return FailureOther, false
}

func classifyPgCode(err error) (FailureClass, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return FailureOther, false
	}
	switch pgErr.Code {
	case pgDeadlockDetected:
		return FailureDeadlock, true
	case pgSerializationFailure:
		return FailureSerialization, true
	case pgLockNotAvailable:
		return FailureLockTimeout, true
	case pgQueryCanceled:
		return FailureStatementTimeout, true
	}
	return FailureOther, false
}

// classifyMessage is the portable fallback for drivers that surface plain
// errors instead of SQLSTATE codes.
func classifyMessage(err error) (FailureClass, bool) {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadlock detected"):
		return FailureDeadlock, true
	case strings.Contains(msg, "could not serialize access"):
		return FailureSerialization, true
	case strings.Contains(msg, "could not obtain lock"), strings.Contains(msg, "lock not available"):
		return FailureLockTimeout, true
	case strings.Contains(msg, "statement timeout"), strings.Contains(msg, "canceling statement"):
		return FailureStatementTimeout, true
	}
	return FailureOther, false
}

var defaultClassifiers = []ClassifierFunc{classifySentinel, classifyPgCode, classifyMessage}

// Classify reports the failure class of err using the default classifier
// chain. A nil error classifies as FailureOther.
func Classify(err error) FailureClass {
	if err == nil {
		return FailureOther
	}
	for _, fn := range defaultClassifiers {
		if class, ok := fn(err); ok {
			return class
		}
	}
	return FailureOther
}

// Retryable reports whether err is transient contention that a fresh attempt
// may resolve. Lock and statement timeouts are deliberately excluded:
// retrying a timed-out operation under load compounds the overload. Version
// conflicts are excluded too; only the optimistic strategy's own loop may
// retry those.
func Retryable(err error) bool {
	switch Classify(err) {
	case FailureDeadlock, FailureSerialization:
		return true
	}
	return false
}
