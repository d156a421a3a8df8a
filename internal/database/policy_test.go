package database

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeoutsForCoversAllLevels(t *testing.T) {
	cases := []struct {
		level    sql.IsolationLevel
		wantTx   time.Duration
		wantStmt time.Duration
	}{
		{sql.LevelReadUncommitted, 5 * time.Second, 2500 * time.Millisecond},
		{sql.LevelReadCommitted, 5 * time.Second, 2500 * time.Millisecond},
		{sql.LevelRepeatableRead, 10 * time.Second, 5 * time.Second},
		// Half of 15s exceeds the cap, so the cap wins.
		{sql.LevelSerializable, 15 * time.Second, 5 * time.Second},
	}

	for _, tc := range cases {
		txTimeout, stmtTimeout, err := TimeoutsFor(tc.level)
		require.NoError(t, err, tc.level.String())
		assert.Equal(t, tc.wantTx, txTimeout, tc.level.String())
		assert.Equal(t, tc.wantStmt, stmtTimeout, tc.level.String())
	}
}

func TestTimeoutsForUnknownLevelIsFatal(t *testing.T) {
	_, _, err := TimeoutsFor(sql.IsolationLevel(42))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownIsolationLevel)
	assert.False(t, Retryable(err), "configuration errors must never be retried")
}

func TestParseIsolationLevel(t *testing.T) {
	cases := map[string]sql.IsolationLevel{
		"READ UNCOMMITTED": sql.LevelReadUncommitted,
		"READ COMMITTED":   sql.LevelReadCommitted,
		"REPEATABLE READ":  sql.LevelRepeatableRead,
		"SERIALIZABLE":     sql.LevelSerializable,
		"serializable":     sql.LevelSerializable,
		"  read committed ": sql.LevelReadCommitted,
	}
	for input, want := range cases {
		level, err := ParseIsolationLevel(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, level, input)
	}

	_, err := ParseIsolationLevel("SNAPSHOT")
	assert.ErrorIs(t, err, ErrUnknownIsolationLevel)
}
