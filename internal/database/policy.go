package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Default transaction budgets per isolation level. The stronger levels get
// more headroom because they are the ones paying for conflict detection.
const (
	readUncommittedTxTimeout = 5 * time.Second
	readCommittedTxTimeout   = 5 * time.Second
	repeatableReadTxTimeout  = 10 * time.Second
	serializableTxTimeout    = 15 * time.Second

	// StatementTimeoutCap bounds the per-statement timeout no matter how
	// generous the transaction budget is.
	StatementTimeoutCap = 5 * time.Second
)

// TimeoutsFor returns the default transaction and statement timeouts for the
// given isolation level. The statement timeout is half the transaction
// budget, capped at StatementTimeoutCap. An unknown level is a configuration
// error and is never retried.
func TimeoutsFor(level sql.IsolationLevel) (txTimeout, stmtTimeout time.Duration, err error) {
	switch level {
	case sql.LevelReadUncommitted:
		txTimeout = readUncommittedTxTimeout
	case sql.LevelReadCommitted:
		txTimeout = readCommittedTxTimeout
	case sql.LevelRepeatableRead:
		txTimeout = repeatableReadTxTimeout
	case sql.LevelSerializable:
		txTimeout = serializableTxTimeout
	default:
		return 0, 0, fmt.Errorf("%w: %s", ErrUnknownIsolationLevel, level)
	}

	stmtTimeout = txTimeout / 2
	if stmtTimeout > StatementTimeoutCap {
		stmtTimeout = StatementTimeoutCap
	}
	return txTimeout, stmtTimeout, nil
}

// ParseIsolationLevel maps the SQL spelling of an isolation level to its
// database/sql constant.
func ParseIsolationLevel(s string) (sql.IsolationLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "READ UNCOMMITTED":
		return sql.LevelReadUncommitted, nil
	case "READ COMMITTED":
		return sql.LevelReadCommitted, nil
	case "REPEATABLE READ":
		return sql.LevelRepeatableRead, nil
	case "SERIALIZABLE":
		return sql.LevelSerializable, nil
	}
	return sql.LevelDefault, fmt.Errorf("%w: %q", ErrUnknownIsolationLevel, s)
}
