// Package diagnostic executes SOP solution steps in order and decides, per
// step, whether to continue, declare the issue resolved, or escalate.
//
// Step dispatch is strictly by command type; commands are templates whose
// parameters are bound before execution. A step that cannot execute safely
// (missing parameter, store fault, exhausted retries) halts the run and maps
// to escalation, never to silent continuation.
package diagnostic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/opslinelabs/supportd/internal/knowledge"
	"github.com/opslinelabs/supportd/internal/remedy"
	"github.com/opslinelabs/supportd/internal/taskstore"
)

const instrumentationName = "github.com/opslinelabs/supportd/internal/diagnostic"

// TaskExecutor runs parameterized statements against the task store.
type TaskExecutor interface {
	Execute(ctx context.Context, query string, args ...any) (*taskstore.Result, error)
}

// Caller performs outbound remediation calls.
type Caller interface {
	Call(ctx context.Context, req remedy.Request) (*remedy.Response, error)
}

// Evidence records what one step observed. It is carried verbatim into
// escalation tickets.
type Evidence struct {
	StepID      string                `json:"step"`
	Description string                `json:"description"`
	CommandType knowledge.CommandType `json:"command_type"`
	Outcome     knowledge.Outcome     `json:"outcome"`
	Detail      string                `json:"detail,omitempty"`
	Rows        []map[string]any      `json:"rows,omitempty"`
	StatusCode  int                   `json:"status_code,omitempty"`
	Body        string                `json:"body,omitempty"`
}

// ExecutionResult is the outcome of one full SOP run.
type ExecutionResult struct {
	// Outcome is OutcomeResolved or OutcomeEscalate; a run never ends in
	// any other state.
	Outcome knowledge.Outcome `json:"outcome"`

	// Steps holds the evidence of every executed step, in order.
	Steps []Evidence `json:"steps"`

	// Message is an operator-facing summary of how the run ended.
	Message string `json:"message"`

	// FailedStep names the step that forced escalation, if any.
	FailedStep string `json:"failed_step,omitempty"`
}

// Config configures the diagnostic engine.
type Config struct {
	// MaxRetries bounds re-attempts of a step after a transient fault
	// (default 2).
	MaxRetries int

	// RetryBackoff is the initial backoff between attempts; it doubles per
	// retry (default 500ms).
	RetryBackoff time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   2,
		RetryBackoff: 500 * time.Millisecond,
	}
}

// Engine executes SOP step sequences.
type Engine struct {
	store  TaskExecutor
	caller Caller
	config Config
	logger *zap.Logger
	tracer trace.Tracer
}

// NewEngine creates a diagnostic engine.
func NewEngine(cfg Config, store TaskExecutor, caller Caller, logger *zap.Logger) (*Engine, error) {
	if store == nil {
		return nil, errors.New("task executor is required")
	}
	if caller == nil {
		return nil, errors.New("remediation caller is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}

	return &Engine{
		store:  store,
		caller: caller,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}, nil
}

// Execute runs the SOP's solution steps in order against the bound
// parameters. Parameters looked up by earlier query steps (e.g. a
// correlation id) become available to later steps.
//
// The returned result always carries a terminal outcome; err is reserved for
// invariant violations such as an unknown command type in the corpus.
func (e *Engine) Execute(ctx context.Context, sop knowledge.SopItem, params map[string]string) (*ExecutionResult, error) {
	ctx, span := e.tracer.Start(ctx, "diagnostic.execute",
		trace.WithAttributes(attribute.String("sop_id", sop.ID)),
	)
	defer span.End()

	if params == nil {
		params = map[string]string{}
	}

	result := &ExecutionResult{}
	for _, step := range sop.SolutionSteps {
		ev := e.runStep(ctx, step, params)
		result.Steps = append(result.Steps, ev)

		e.logger.Info("diagnostic step finished",
			zap.String("sop_id", sop.ID),
			zap.String("step", step.ID),
			zap.String("outcome", string(ev.Outcome)),
		)

		switch ev.Outcome {
		case knowledge.OutcomeContinue:
			continue
		case knowledge.OutcomeResolved:
			result.Outcome = knowledge.OutcomeResolved
			result.Message = fmt.Sprintf("resolved at step %s: %s", step.ID, ev.Detail)
			span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
			return result, nil
		case knowledge.OutcomeEscalate, knowledge.OutcomeError:
			result.Outcome = knowledge.OutcomeEscalate
			result.FailedStep = step.ID
			result.Message = fmt.Sprintf("escalated at step %s: %s", step.ID, ev.Detail)
			span.SetAttributes(
				attribute.String("outcome", string(result.Outcome)),
				attribute.String("failed_step", step.ID),
			)
			return result, nil
		default:
			err := fmt.Errorf("step %s produced unknown outcome %q", step.ID, ev.Outcome)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	// All steps ran without a resolving action. Nothing fixed the issue,
	// so the run hands off to a human.
	result.Outcome = knowledge.OutcomeEscalate
	result.Message = "procedure completed without a resolving step"
	span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
	return result, nil
}

// runStep executes one step including its retry budget.
func (e *Engine) runStep(ctx context.Context, step knowledge.StepSpec, params map[string]string) Evidence {
	backoff := e.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		ev := e.attemptStep(ctx, step, params)
		if ev.Outcome != knowledge.OutcomeRetry {
			return ev
		}
		if attempt >= e.config.MaxRetries {
			ev.Outcome = knowledge.OutcomeEscalate
			ev.Detail = fmt.Sprintf("transient fault persisted after %d attempts: %s", attempt+1, ev.Detail)
			return ev
		}

		e.logger.Warn("retrying diagnostic step",
			zap.String("step", step.ID),
			zap.Int("attempt", attempt+1),
			zap.String("detail", ev.Detail),
		)
		select {
		case <-ctx.Done():
			ev.Outcome = knowledge.OutcomeEscalate
			ev.Detail = fmt.Sprintf("canceled while retrying: %s", ctx.Err())
			return ev
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (e *Engine) attemptStep(ctx context.Context, step knowledge.StepSpec, params map[string]string) Evidence {
	ev := Evidence{
		StepID:      step.ID,
		Description: step.Description,
		CommandType: step.CommandType,
	}

	switch step.CommandType {
	case knowledge.CommandNone, "":
		// Informational only.
		ev.CommandType = knowledge.CommandNone
		ev.Outcome = ruleOutcome(step.Rule.OnMatch, knowledge.OutcomeContinue)
		ev.Detail = step.Description
		return ev

	case knowledge.CommandQuery:
		return e.runQueryStep(ctx, step, params, ev)

	case knowledge.CommandRemoteCall, knowledge.CommandJobTrigger:
		return e.runCallStep(ctx, step, params, ev)

	default:
		ev.Outcome = knowledge.OutcomeError
		ev.Detail = fmt.Sprintf("unknown command type %q", step.CommandType)
		return ev
	}
}

func (e *Engine) runQueryStep(ctx context.Context, step knowledge.StepSpec, params map[string]string, ev Evidence) Evidence {
	query, args, err := bindSQL(step.Command, params)
	if err != nil {
		ev.Outcome = knowledge.OutcomeEscalate
		ev.Detail = err.Error()
		return ev
	}

	res, err := e.store.Execute(ctx, query, args...)
	if err != nil {
		ev.Outcome = ruleOutcome(step.Rule.OnError, knowledge.OutcomeEscalate)
		ev.Detail = err.Error()
		return ev
	}

	if res.IsQuery && len(res.Rows) == 0 {
		ev.Outcome = ruleOutcome(step.Rule.OnEmpty, knowledge.OutcomeEscalate)
		ev.Detail = "query returned no rows"
		return ev
	}
	ev.Rows = res.Rows

	if !res.IsQuery {
		ev.Outcome = ruleOutcome(step.Rule.OnMatch, knowledge.OutcomeContinue)
		ev.Detail = fmt.Sprintf("statement affected %d rows", res.RowsAffected)
		return ev
	}

	promoteRow(params, res.Rows[0])

	if failed, detail := checkExpectations(step.Expect, res.Rows[0]); failed {
		ev.Outcome = ruleOutcome(step.Rule.OnMiss, knowledge.OutcomeEscalate)
		ev.Detail = detail
		return ev
	}

	ev.Outcome = ruleOutcome(step.Rule.OnMatch, knowledge.OutcomeContinue)
	ev.Detail = fmt.Sprintf("query returned %d rows matching expectations", len(res.Rows))
	return ev
}

func (e *Engine) runCallStep(ctx context.Context, step knowledge.StepSpec, params map[string]string, ev Evidence) Evidence {
	url, err := bindText(step.Command, params)
	if err != nil {
		ev.Outcome = knowledge.OutcomeEscalate
		ev.Detail = err.Error()
		return ev
	}
	body := ""
	if step.Body != "" {
		if body, err = bindText(step.Body, params); err != nil {
			ev.Outcome = knowledge.OutcomeEscalate
			ev.Detail = err.Error()
			return ev
		}
	}

	resp, err := e.caller.Call(ctx, remedy.Request{
		Method:  step.Method,
		URL:     url,
		Headers: step.Headers,
		Body:    body,
	})
	if err != nil {
		var cerr *remedy.CallError
		if errors.As(err, &cerr) && cerr.Transient {
			ev.Outcome = knowledge.OutcomeRetry
			ev.Detail = cerr.Detail
			return ev
		}
		ev.Outcome = ruleOutcome(step.Rule.OnError, knowledge.OutcomeEscalate)
		ev.Detail = err.Error()
		return ev
	}

	ev.StatusCode = resp.StatusCode
	ev.Body = resp.Body

	if !resp.OK() {
		ev.Outcome = ruleOutcome(step.Rule.OnError, knowledge.OutcomeEscalate)
		ev.Detail = fmt.Sprintf("call returned status %d", resp.StatusCode)
		return ev
	}

	if len(step.Expect) > 0 {
		if resp.Fields == nil {
			ev.Outcome = ruleOutcome(step.Rule.OnMiss, knowledge.OutcomeEscalate)
			ev.Detail = "response body is not a JSON object"
			return ev
		}
		if failed, detail := checkExpectations(step.Expect, resp.Fields); failed {
			ev.Outcome = ruleOutcome(step.Rule.OnMiss, knowledge.OutcomeEscalate)
			ev.Detail = detail
			return ev
		}
	}

	ev.Outcome = ruleOutcome(step.Rule.OnMatch, knowledge.OutcomeContinue)
	ev.Detail = fmt.Sprintf("call succeeded with status %d", resp.StatusCode)
	return ev
}

// checkExpectations evaluates every expectation against the record; the
// first miss wins.
func checkExpectations(expect []knowledge.Expectation, record map[string]any) (failed bool, detail string) {
	for _, exp := range expect {
		val, ok := fieldValue(record, exp.Field)
		if exp.Present {
			if !ok || val == nil || strings.TrimSpace(fmt.Sprint(val)) == "" {
				return true, fmt.Sprintf("expected field %q to be present", exp.Field)
			}
			continue
		}
		if !ok {
			return true, fmt.Sprintf("field %q not found in result", exp.Field)
		}
		got := strings.TrimSpace(fmt.Sprint(val))
		if got != exp.Equals {
			return true, fmt.Sprintf("field %q is %q, expected %q", exp.Field, got, exp.Equals)
		}
	}
	return false, ""
}

// ruleOutcome applies the configured outcome or the per-situation default.
func ruleOutcome(configured, fallback knowledge.Outcome) knowledge.Outcome {
	if configured == "" {
		return fallback
	}
	return configured
}
