package ticket

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

func TestCreate_AssignsPrefixedUUID(t *testing.T) {
	svc, err := NewService(NewMemoryStore(), zap.NewNop())
	require.NoError(t, err)

	tk, err := svc.Create(context.Background(), EscalationContext{
		SopID:   "SOP01",
		OrderID: "DT100987654",
		Query:   "my dth order is stuck",
		Summary: "escalated at step a",
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(tk.ID, "TKT-"))
	assert.Len(t, tk.ID, len("TKT-")+36)
	assert.False(t, tk.CreatedAt.IsZero())
}

func TestCreate_ConcurrentIDsAreUnique(t *testing.T) {
	store := NewMemoryStore()
	svc, err := NewService(store, zap.NewNop())
	require.NoError(t, err)

	const n = 100
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tk, err := svc.Create(context.Background(), EscalationContext{Query: "q"})
			require.NoError(t, err)
			ids[i] = tk.ID
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate ticket id %s", id)
		seen[id] = true
	}
	assert.Equal(t, n, store.Len())
}

func TestCreate_StoreFailureIsTypedError(t *testing.T) {
	store := NewMemoryStore()
	store.failWith = errors.New("disk full")
	svc, err := NewService(store, zap.NewNop())
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), EscalationContext{Query: "q"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTicketCreationFailed)
}

func TestSQLStore_SaveAndGet(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "tickets.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLStore(db)
	require.NoError(t, err)

	svc, err := NewService(store, zap.NewNop())
	require.NoError(t, err)

	evidence := json.RawMessage(`[{"step":"a","outcome":"escalate"}]`)
	tk, err := svc.Create(context.Background(), EscalationContext{
		SopID:         "SOP03",
		CorrelationID: "cor_postpaid_bill_789",
		Query:         "bill not generated",
		Summary:       "billing cycle check failed",
		Evidence:      evidence,
	})
	require.NoError(t, err)

	got, err := store.Get(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tk.ID, got.ID)
	assert.Equal(t, "SOP03", got.Context.SopID)
	assert.Equal(t, "cor_postpaid_bill_789", got.Context.CorrelationID)
	assert.JSONEq(t, string(evidence), string(got.Context.Evidence))

	_, err = store.Get(context.Background(), "TKT-missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
