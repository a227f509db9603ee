package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opslinelabs/supportd/internal/diagnostic"
	"github.com/opslinelabs/supportd/internal/knowledge"
	"github.com/opslinelabs/supportd/internal/retrieval"
	"github.com/opslinelabs/supportd/internal/ticket"
)

type mockRetriever struct {
	result *retrieval.MatchResult
	err    error
}

func (m *mockRetriever) Retrieve(context.Context, string) (*retrieval.MatchResult, error) {
	return m.result, m.err
}

type mockDiagnoser struct {
	result *diagnostic.ExecutionResult
	err    error
	sop    knowledge.SopItem
	params map[string]string
}

func (m *mockDiagnoser) Execute(_ context.Context, sop knowledge.SopItem, params map[string]string) (*diagnostic.ExecutionResult, error) {
	m.sop = sop
	m.params = params
	return m.result, m.err
}

type mockTicketer struct {
	created *ticket.EscalationContext
	err     error
}

func (m *mockTicketer) Create(_ context.Context, ec ticket.EscalationContext) (*ticket.Ticket, error) {
	m.created = &ec
	if m.err != nil {
		return nil, m.err
	}
	return &ticket.Ticket{ID: "TKT-0f8fad5b-d9cb-469f-a165-70867728950e", Context: ec}, nil
}

func newTestService(t *testing.T, r Retriever, d Diagnoser, tk Ticketer) *Service {
	t.Helper()
	svc, err := NewService(r, d, tk, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func dthSop() knowledge.SopItem {
	return knowledge.SopItem{
		ID:    "SOP01",
		Title: "DTH activation stuck",
		SolutionSteps: []knowledge.StepSpec{{
			ID:          "a",
			CommandType: knowledge.CommandQuery,
			Command:     "select * from task where order_id = {{order_id}}",
		}},
	}
}

func TestResolve_FaqAnswerIsVerbatim(t *testing.T) {
	answer := "Check that the fiber cable is connected, then reboot the router."
	retr := &mockRetriever{result: &retrieval.MatchResult{
		Source:     knowledge.SourceFaq,
		Faq:        &knowledge.FaqItem{ID: "FAQ01", Answer: answer},
		Confidence: 0.91,
	}}
	svc := newTestService(t, retr, &mockDiagnoser{}, &mockTicketer{})

	res, err := svc.Resolve(context.Background(), "my LOS light is blinking red")
	require.NoError(t, err)

	assert.Equal(t, StateResolved, res.State)
	assert.Equal(t, knowledge.SourceFaq, res.Source)
	assert.Equal(t, "FAQ01", res.MatchID)
	assert.Equal(t, answer, res.Answer)
	assert.InDelta(t, 0.91, res.Confidence, 1e-9)
}

func TestResolve_SopResolved(t *testing.T) {
	sop := dthSop()
	retr := &mockRetriever{result: &retrieval.MatchResult{
		Source: knowledge.SourceSop, Sop: &sop, Confidence: 0.8,
	}}
	diag := &mockDiagnoser{result: &diagnostic.ExecutionResult{
		Outcome: knowledge.OutcomeResolved,
		Message: "resolved at step b: call succeeded with status 200",
		Steps:   []diagnostic.Evidence{{StepID: "a"}, {StepID: "b"}},
	}}
	svc := newTestService(t, retr, diag, &mockTicketer{})

	res, err := svc.Resolve(context.Background(), "my dth order DT100987654 is stuck")
	require.NoError(t, err)

	assert.Equal(t, StateResolved, res.State)
	assert.Equal(t, "SOP01", res.MatchID)
	assert.Len(t, res.Steps, 2)
	assert.Contains(t, res.Answer, "fixed")

	// The order id was extracted from the message and bound for the run.
	assert.Equal(t, "DT100987654", diag.params["order_id"])
}

func TestResolve_SopEscalationCreatesTicketWithEvidence(t *testing.T) {
	sop := dthSop()
	retr := &mockRetriever{result: &retrieval.MatchResult{
		Source: knowledge.SourceSop, Sop: &sop, Confidence: 0.7,
	}}
	diag := &mockDiagnoser{result: &diagnostic.ExecutionResult{
		Outcome:    knowledge.OutcomeEscalate,
		Message:    "escalated at step a: query returned no rows",
		FailedStep: "a",
		Steps:      []diagnostic.Evidence{{StepID: "a", Outcome: knowledge.OutcomeEscalate, Detail: "query returned no rows"}},
	}}
	tickets := &mockTicketer{}
	svc := newTestService(t, retr, diag, tickets)

	res, err := svc.Resolve(context.Background(), "order DT100987654 still not active")
	require.NoError(t, err)

	assert.Equal(t, StateTicketCreated, res.State)
	assert.NotEmpty(t, res.TicketID)
	assert.Contains(t, res.Answer, res.TicketID)

	require.NotNil(t, tickets.created)
	assert.Equal(t, "SOP01", tickets.created.SopID)
	assert.Equal(t, "DT100987654", tickets.created.OrderID)

	var evidence []diagnostic.Evidence
	require.NoError(t, json.Unmarshal(tickets.created.Evidence, &evidence))
	require.Len(t, evidence, 1)
	assert.Equal(t, "query returned no rows", evidence[0].Detail)
}

func TestResolve_TicketFailureIsReportedNotHidden(t *testing.T) {
	sop := dthSop()
	retr := &mockRetriever{result: &retrieval.MatchResult{Source: knowledge.SourceSop, Sop: &sop}}
	diag := &mockDiagnoser{result: &diagnostic.ExecutionResult{Outcome: knowledge.OutcomeEscalate}}
	tickets := &mockTicketer{err: ticket.ErrTicketCreationFailed}
	svc := newTestService(t, retr, diag, tickets)

	res, err := svc.Resolve(context.Background(), "order DT100987654 stuck")
	require.Error(t, err)
	assert.ErrorIs(t, err, ticket.ErrTicketCreationFailed)
	assert.Equal(t, StateFailed, res.State)
	assert.Empty(t, res.TicketID)
}

func TestResolve_NoMatchAsksForClarification(t *testing.T) {
	retr := &mockRetriever{result: &retrieval.MatchResult{Source: knowledge.SourceNone, Confidence: 0.4}}
	svc := newTestService(t, retr, &mockDiagnoser{}, &mockTicketer{})

	res, err := svc.Resolve(context.Background(), "something is wrong")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingClarification, res.State)
	assert.Equal(t, knowledge.SourceNone, res.Source)
	assert.NotEmpty(t, res.Answer)
}

func TestResolve_RetrievalFaultIsFailureNotNoMatch(t *testing.T) {
	retr := &mockRetriever{err: retrieval.ErrRetrievalUnavailable}
	svc := newTestService(t, retr, &mockDiagnoser{}, &mockTicketer{})

	res, err := svc.Resolve(context.Background(), "my order is stuck")
	require.Error(t, err)
	assert.ErrorIs(t, err, retrieval.ErrRetrievalUnavailable)
	assert.Equal(t, StateFailed, res.State)
}

func TestResolve_EmptyQuery(t *testing.T) {
	svc := newTestService(t, &mockRetriever{}, &mockDiagnoser{}, &mockTicketer{})

	res, err := svc.Resolve(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingClarification, res.State)
}

func TestResolve_MissingOrderIDAsksBeforeRunning(t *testing.T) {
	sop := dthSop()
	retr := &mockRetriever{result: &retrieval.MatchResult{Source: knowledge.SourceSop, Sop: &sop, Confidence: 0.75}}
	diag := &mockDiagnoser{}
	svc := newTestService(t, retr, diag, &mockTicketer{})

	res, err := svc.Resolve(context.Background(), "my dth order is stuck in activation")
	require.NoError(t, err)

	assert.Equal(t, StateAwaitingClarification, res.State)
	assert.Contains(t, res.Answer, "order id")
	assert.Nil(t, diag.params, "diagnosis must not run without required inputs")
}

func TestExtractParams(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  map[string]string
	}{
		{"dth order", "order dt100987654 is stuck", map[string]string{"order_id": "DT100987654"}},
		{"broadband order", "XBB10054321 pending feasibility", map[string]string{"order_id": "XBB10054321"}},
		{"service request", "bill missing for SR_POSTPAID_98765", map[string]string{"order_id": "SR_POSTPAID_98765"}},
		{"numeric id", "fault on 10045909651 again", map[string]string{"order_id": "10045909651"}},
		{"correlation id", "tracking cor_dth_stuck_123", map[string]string{"correlation_id": "cor_dth_stuck_123"}},
		{"nothing", "my internet is slow", map[string]string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractParams(tt.query))
		})
	}
}
