package taskstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{Path: filepath.Join(t.TempDir(), "tasks.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{}, zap.NewNop())
	require.Error(t, err)
}

func TestExecute_QueryReturnsRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Seed(ctx))

	res, err := store.Execute(ctx,
		"select order_id, correlation_id, status from task where order_id = ?", "DT100987654")
	require.NoError(t, err)
	require.True(t, res.IsQuery)
	require.Len(t, res.Rows, 1)

	row := res.Rows[0]
	assert.Equal(t, "DT100987654", row["order_id"])
	assert.Equal(t, "cor_dth_stuck_123", row["correlation_id"])
	assert.Equal(t, "Activation In Progress", row["status"])
}

func TestExecute_QueryNoRowsIsEmptyNotError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Seed(ctx))

	res, err := store.Execute(ctx,
		"select order_id from task where order_id = ?", "DT000000000")
	require.NoError(t, err)
	assert.True(t, res.IsQuery)
	assert.Empty(t, res.Rows)
}

func TestExecute_NullColumnsComeBackNil(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Seed(ctx))

	// The broadband feasibility row has rsu unset.
	res, err := store.Execute(ctx,
		"select rsu, operating_boundary_path from task where order_id = ?", "XBB10054321")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Nil(t, res.Rows[0]["rsu"])
	assert.Equal(t, "OB_PATH_VALID_123", res.Rows[0]["operating_boundary_path"])
}

func TestExecute_MutatingStatementReportsRowsAffected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Seed(ctx))

	res, err := store.Execute(ctx,
		"update task set status = ? where order_id = ?", "Completed", "DT100987654")
	require.NoError(t, err)
	assert.False(t, res.IsQuery)
	assert.Equal(t, int64(1), res.RowsAffected)

	check, err := store.Execute(ctx,
		"select status from task where order_id = ?", "DT100987654")
	require.NoError(t, err)
	require.Len(t, check.Rows, 1)
	assert.Equal(t, "Completed", check.Rows[0]["status"])
}

func TestExecute_MalformedQueryIsTypedError(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Execute(context.Background(), "select nonsense from nowhere")
	require.Error(t, err)

	var qerr *QueryError
	require.True(t, errors.As(err, &qerr))
	assert.NotEmpty(t, qerr.Detail)
}

func TestSeed_IsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Seed(ctx))
	require.NoError(t, store.Seed(ctx))

	res, err := store.Execute(ctx, "select order_id from task")
	require.NoError(t, err)
	assert.Len(t, res.Rows, len(demoRows))
}

func TestSeed_CoversRunbookScenarios(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Seed(ctx))

	// Each runbook's anchor row must be present with the state it diagnoses.
	res, err := store.Execute(ctx,
		"select order_id, status from task where order_id in (?, ?, ?) order by order_id",
		"DT100987654", "SR_POSTPAID_98765", "XBB10054321")
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)
	assert.Equal(t, "Activation In Progress", res.Rows[0]["status"])
	assert.Equal(t, "Pending with Billing System", res.Rows[1]["status"])
	assert.Equal(t, "Feasibility Check", res.Rows[2]["status"])
}
