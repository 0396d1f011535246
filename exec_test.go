package rowmap

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testResult struct {
	lastID int64
	rows   int64
}

func (r testResult) LastInsertId() (int64, error) { return r.lastID, nil }
func (r testResult) RowsAffected() (int64, error) { return r.rows, nil }

func TestExec_PassesQueryAndArgsThrough(t *testing.T) {
	db := newExecDB(t, func(query string, args []driver.NamedValue) (driver.Result, error) {
		assert.Equal(t, `UPDATE users SET email = ? WHERE id > ?`, query)
		require.Len(t, args, 2)
		assert.Equal(t, "x@ex.com", args[0].Value)
		// ints are normalized to int64 by database/sql
		assert.Equal(t, int64(10), args[1].Value)
		return testResult{lastID: 99, rows: 3}, nil
	})

	res, err := Exec(context.Background(), db, `UPDATE users SET email = ? WHERE id > ?`, "x@ex.com", 10)
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	assert.EqualValues(t, 99, id)
}

func TestExec_Error(t *testing.T) {
	sentinel := errors.New("boom")
	db := newExecDB(t, func(string, []driver.NamedValue) (driver.Result, error) {
		return nil, sentinel
	})

	_, err := Exec(context.Background(), db, `DELETE FROM users WHERE id = ?`, 7)
	require.ErrorIs(t, err, sentinel)
}
