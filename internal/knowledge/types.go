// Package knowledge defines the FAQ/SOP knowledge corpus and read access to it.
//
// The corpus has two parts: FAQ entries (fixed question/answer pairs) and SOP
// entries (procedures with an issue description, a narrative plan of action,
// and an ordered list of executable diagnostic steps). Entries are immutable
// once loaded; refreshing the corpus produces a new snapshot.
package knowledge

// CommandType is the closed set of step command kinds.
//
// Steps are dispatched on this tag explicitly; there is no free-text command
// interpretation anywhere in the pipeline.
type CommandType string

const (
	// CommandNone marks an informational step with no side effect.
	CommandNone CommandType = "none"
	// CommandQuery executes a parameterized statement against the task store.
	CommandQuery CommandType = "query"
	// CommandRemoteCall invokes an external HTTP endpoint.
	CommandRemoteCall CommandType = "remote_call"
	// CommandJobTrigger triggers an external job (e.g. a CI build URL).
	CommandJobTrigger CommandType = "job_trigger"
)

// Valid reports whether t is a known command type.
func (t CommandType) Valid() bool {
	switch t {
	case CommandNone, CommandQuery, CommandRemoteCall, CommandJobTrigger:
		return true
	}
	return false
}

// Outcome is a step decision produced by the diagnostic execution engine.
type Outcome string

const (
	// OutcomeContinue proceeds to the next step.
	OutcomeContinue Outcome = "continue"
	// OutcomeResolved stops the run with the issue resolved.
	OutcomeResolved Outcome = "resolved"
	// OutcomeEscalate stops the run and hands off to ticketing.
	OutcomeEscalate Outcome = "escalate"
	// OutcomeRetry signals a transient fault worth retrying.
	OutcomeRetry Outcome = "retry"
	// OutcomeError marks a step failure; always mapped to escalation.
	OutcomeError Outcome = "error"
)

// Expectation is a condition evaluated against step evidence: a column of the
// first returned row for query steps, or a top-level JSON field of the
// response body for remote calls.
type Expectation struct {
	// Field is the row column or response body field to inspect.
	Field string `json:"field"`
	// Equals, when set, requires the field to equal this value exactly.
	Equals string `json:"equals,omitempty"`
	// Present, when true, only requires the field to be non-NULL/non-empty.
	Present bool `json:"present,omitempty"`
}

// DecisionRule maps a step's observed result to the next action. Unset
// outcomes fall back to per-command-type defaults (see the diagnostic engine).
type DecisionRule struct {
	// OnMatch applies when the step succeeded and all expectations hold.
	OnMatch Outcome `json:"on_match,omitempty"`
	// OnMiss applies when the step succeeded but an expectation failed
	// (e.g. the order exists but carries a different status).
	OnMiss Outcome `json:"on_miss,omitempty"`
	// OnEmpty applies when a query returned zero rows: the condition the
	// step was meant to confirm is not present.
	OnEmpty Outcome `json:"on_empty,omitempty"`
	// OnError applies to non-success responses and query errors.
	OnError Outcome `json:"on_error,omitempty"`
}

// StepSpec is one ordered step of an SOP.
type StepSpec struct {
	// ID is the step label within the procedure ("a", "b", ...).
	ID string `json:"step"`
	// Description is the operator-facing explanation of the step.
	Description string `json:"description"`
	// CommandType selects the dispatch arm; empty means CommandNone.
	CommandType CommandType `json:"command_type,omitempty"`
	// Command is the statement or call template. It may contain
	// {{placeholder}} parameters bound at execution time.
	Command string `json:"command,omitempty"`
	// Method is the HTTP method for remote calls (default GET).
	Method string `json:"method,omitempty"`
	// Headers are extra HTTP headers for remote calls.
	Headers map[string]string `json:"headers,omitempty"`
	// Body is the request body template for remote calls.
	Body string `json:"body,omitempty"`
	// Expect lists conditions checked against the step result.
	Expect []Expectation `json:"expect,omitempty"`
	// Rule decides the next action from the step result.
	Rule DecisionRule `json:"rule,omitempty"`
}

// FaqItem is a fixed question/answer knowledge entry.
type FaqItem struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// SopItem is a standard operating procedure.
type SopItem struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Issue         string     `json:"issue"`
	PlanOfAction  []string   `json:"plan_of_action"`
	SolutionSteps []StepSpec `json:"solution_steps"`
}

// CanonicalText returns the text matched against user queries.
func (f FaqItem) CanonicalText() string { return f.Question }

// CanonicalText returns the text matched against user queries.
func (s SopItem) CanonicalText() string { return s.Issue }

// Source identifies which corpus produced a retrieval match.
type Source string

const (
	SourceFaq  Source = "faq"
	SourceSop  Source = "sop"
	SourceNone Source = "none"
)
