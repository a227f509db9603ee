package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStaticStore_EmbeddedCorpus(t *testing.T) {
	store, err := NewStaticStore("")
	require.NoError(t, err)

	faqs, err := store.ListFAQ(context.Background())
	require.NoError(t, err)
	require.Len(t, faqs, 3)
	assert.Equal(t, "FAQ01", faqs[0].ID)
	assert.Contains(t, faqs[0].Question, "LOS")

	sops, err := store.ListSOP(context.Background())
	require.NoError(t, err)
	require.Len(t, sops, 3)
	assert.Equal(t, "SOP01", sops[0].ID)
	require.Len(t, sops[0].SolutionSteps, 3)
	assert.Equal(t, CommandQuery, sops[0].SolutionSteps[0].CommandType)
	assert.Equal(t, CommandRemoteCall, sops[0].SolutionSteps[1].CommandType)
	assert.Equal(t, CommandType(""), sops[0].SolutionSteps[2].CommandType)
}

func TestStaticStore_ListReturnsCopies(t *testing.T) {
	store, err := NewStaticStore("")
	require.NoError(t, err)

	first, err := store.ListFAQ(context.Background())
	require.NoError(t, err)
	first[0].Question = "mutated"

	second, err := store.ListFAQ(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", second[0].Question)
}

func TestNewStaticStore_MissingFile(t *testing.T) {
	_, err := NewStaticStore(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestNewStaticStore_RejectsInvalidCorpus(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "duplicate ids",
			body: `{"faqs":[{"id":"X","question":"q1","answer":"a"},{"id":"X","question":"q2","answer":"a"}],"sops":[]}`,
		},
		{
			name: "query step without command",
			body: `{"faqs":[],"sops":[{"id":"S1","issue":"i","solution_steps":[{"step":"a","description":"d","command_type":"query"}]}]}`,
		},
		{
			name: "unknown command type",
			body: `{"faqs":[],"sops":[{"id":"S1","issue":"i","solution_steps":[{"step":"a","description":"d","command_type":"shell","command":"rm"}]}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "corpus.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))

			_, err := NewStaticStore(path)
			require.Error(t, err)
		})
	}
}

func TestStaticStore_Documents(t *testing.T) {
	store, err := NewStaticStore("")
	require.NoError(t, err)

	faqDoc := store.FaqDocument()
	assert.Contains(t, faqDoc.Title, "FAQ")
	assert.Len(t, faqDoc.Questions, 3)

	sopDoc := store.SopDocument()
	assert.Contains(t, sopDoc.Title, "SOP")
	assert.Len(t, sopDoc.Procedures, 3)
}

func TestCommandType_Valid(t *testing.T) {
	assert.True(t, CommandNone.Valid())
	assert.True(t, CommandQuery.Valid())
	assert.True(t, CommandRemoteCall.Valid())
	assert.True(t, CommandJobTrigger.Valid())
	assert.False(t, CommandType("shell").Valid())
	assert.False(t, CommandType("").Valid())
}
