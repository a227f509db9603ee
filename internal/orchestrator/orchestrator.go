// Package orchestrator drives a support request through retrieval, diagnosis,
// and escalation.
//
// Each request walks a fixed state machine: received → retrieving → one of
// (answered from FAQ, diagnosing an SOP, awaiting clarification) → for SOP
// runs, resolved or escalating → ticket created. Backend unavailability is a
// terminal failure reported to the caller, never disguised as "no match".
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/opslinelabs/supportd/internal/diagnostic"
	"github.com/opslinelabs/supportd/internal/knowledge"
	"github.com/opslinelabs/supportd/internal/retrieval"
	"github.com/opslinelabs/supportd/internal/ticket"
)

const instrumentationName = "github.com/opslinelabs/supportd/internal/orchestrator"

// State is the terminal state of one resolution attempt.
type State string

const (
	// StateResolved means the request was answered, either from the FAQ
	// corpus or by a successful runbook run.
	StateResolved State = "resolved"
	// StateAwaitingClarification means the engine needs more information
	// from the user before it can proceed.
	StateAwaitingClarification State = "awaiting_clarification"
	// StateTicketCreated means automated resolution failed and an
	// escalation ticket was filed.
	StateTicketCreated State = "ticket_created"
	// StateFailed means a backend fault prevented any resolution attempt.
	StateFailed State = "failed"
)

// Resolution is the outcome of one support request.
type Resolution struct {
	State State `json:"state"`

	// Answer is the user-facing reply: a verbatim FAQ answer, a resolution
	// summary, a clarification prompt, or an escalation notice.
	Answer string `json:"answer"`

	// Source and MatchID identify the knowledge entry that handled the
	// request, when one did.
	Source  knowledge.Source `json:"source"`
	MatchID string           `json:"match_id,omitempty"`

	// Confidence is the retrieval similarity for the winning entry.
	Confidence float64 `json:"confidence"`

	// TicketID is set when State is StateTicketCreated.
	TicketID string `json:"ticket_id,omitempty"`

	// Steps holds the diagnostic evidence for SOP runs.
	Steps []diagnostic.Evidence `json:"steps,omitempty"`
}

// Retriever matches a query against the knowledge corpora.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (*retrieval.MatchResult, error)
}

// Diagnoser executes an SOP's solution steps.
type Diagnoser interface {
	Execute(ctx context.Context, sop knowledge.SopItem, params map[string]string) (*diagnostic.ExecutionResult, error)
}

// Ticketer files escalation tickets.
type Ticketer interface {
	Create(ctx context.Context, ec ticket.EscalationContext) (*ticket.Ticket, error)
}

// Service orchestrates support request resolution.
type Service struct {
	retriever Retriever
	diagnoser Diagnoser
	ticketer  Ticketer
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewService creates an orchestrator.
func NewService(retriever Retriever, diagnoser Diagnoser, ticketer Ticketer, logger *zap.Logger) (*Service, error) {
	if retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if diagnoser == nil {
		return nil, errors.New("diagnoser is required")
	}
	if ticketer == nil {
		return nil, errors.New("ticketer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		retriever: retriever,
		diagnoser: diagnoser,
		ticketer:  ticketer,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
	}, nil
}

// Resolve handles one support request end to end.
//
// The returned Resolution is always populated; err is non-nil only for
// backend faults (retrieval unavailable, knowledge store unreachable, ticket
// persistence failure), in which case Resolution.State is StateFailed.
func (s *Service) Resolve(ctx context.Context, query string) (*Resolution, error) {
	ctx, span := s.tracer.Start(ctx, "orchestrator.resolve")
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return &Resolution{
			State:  StateAwaitingClarification,
			Source: knowledge.SourceNone,
			Answer: "Please describe the issue you are facing, including any order or service request id.",
		}, nil
	}

	match, err := s.retriever.Retrieve(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("retrieval failed", zap.Error(err))
		return &Resolution{
			State:  StateFailed,
			Source: knowledge.SourceNone,
			Answer: "The support knowledge service is temporarily unavailable. Please try again shortly.",
		}, err
	}

	span.SetAttributes(
		attribute.String("source", string(match.Source)),
		attribute.Float64("confidence", match.Confidence),
	)

	switch match.Source {
	case knowledge.SourceFaq:
		// FAQ answers are returned verbatim; no paraphrasing.
		return &Resolution{
			State:      StateResolved,
			Source:     knowledge.SourceFaq,
			MatchID:    match.Faq.ID,
			Confidence: match.Confidence,
			Answer:     match.Faq.Answer,
		}, nil

	case knowledge.SourceSop:
		return s.runSop(ctx, span, query, match)

	default:
		return &Resolution{
			State:      StateAwaitingClarification,
			Source:     knowledge.SourceNone,
			Confidence: match.Confidence,
			Answer:     "I could not match your issue to a known procedure. Could you rephrase it or add more detail, such as the order id and the exact error you see?",
		}, nil
	}
}

func (s *Service) runSop(ctx context.Context, span trace.Span, query string, match *retrieval.MatchResult) (*Resolution, error) {
	sop := *match.Sop
	params := extractParams(query)

	if missing := missingRequiredParams(sop, params); len(missing) > 0 {
		return &Resolution{
			State:      StateAwaitingClarification,
			Source:     knowledge.SourceSop,
			MatchID:    sop.ID,
			Confidence: match.Confidence,
			Answer:     fmt.Sprintf("To troubleshoot %q I need the following: %s.", sop.Title, strings.Join(missing, ", ")),
		}, nil
	}

	run, err := s.diagnoser.Execute(ctx, sop, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &Resolution{
			State:  StateFailed,
			Source: knowledge.SourceSop,
			Answer: "An internal error interrupted the troubleshooting procedure. Please try again shortly.",
		}, err
	}

	res := &Resolution{
		Source:     knowledge.SourceSop,
		MatchID:    sop.ID,
		Confidence: match.Confidence,
		Steps:      run.Steps,
	}

	if run.Outcome == knowledge.OutcomeResolved {
		res.State = StateResolved
		res.Answer = fmt.Sprintf("The issue has been fixed: %s", run.Message)
		return res, nil
	}

	// Escalation: file a ticket carrying the full diagnostic evidence.
	evidence, _ := json.Marshal(run.Steps)
	tk, err := s.ticketer.Create(ctx, ticket.EscalationContext{
		SopID:         sop.ID,
		OrderID:       params["order_id"],
		CorrelationID: params["correlation_id"],
		Query:         query,
		Summary:       run.Message,
		Evidence:      evidence,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("escalation ticket creation failed", zap.Error(err))
		res.State = StateFailed
		res.Answer = "The issue could not be resolved automatically and ticket creation failed. Please contact support directly."
		return res, err
	}

	res.State = StateTicketCreated
	res.TicketID = tk.ID
	res.Answer = fmt.Sprintf("The issue could not be resolved automatically. Escalation ticket %s has been created and the support team will follow up.", tk.ID)
	return res, nil
}

// missingRequiredParams lists the placeholders the SOP's first executable
// step needs but the query did not supply. Later steps can be fed by row
// promotion, so only unpromotable ones count.
func missingRequiredParams(sop knowledge.SopItem, params map[string]string) []string {
	required := map[string]bool{}
	for _, step := range sop.SolutionSteps {
		if step.CommandType == knowledge.CommandNone || step.CommandType == "" {
			continue
		}
		for _, m := range placeholderNames(step.Command) {
			required[m] = true
		}
		// Only the first executable step's inputs must come from the
		// user; later ones may be promoted from query results.
		break
	}

	var missing []string
	for name := range required {
		if _, ok := params[name]; !ok {
			missing = append(missing, strings.ReplaceAll(name, "_", " "))
		}
	}
	sort.Strings(missing)
	return missing
}
