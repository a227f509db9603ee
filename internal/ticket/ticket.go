// Package ticket creates escalation tickets when automated resolution fails.
package ticket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/opslinelabs/supportd/internal/ticket"

// ErrTicketCreationFailed is returned when a ticket cannot be persisted.
// The caller must report the failure to the user rather than pretend the
// escalation happened.
var ErrTicketCreationFailed = errors.New("ticket creation failed")

// EscalationContext carries everything the diagnostic run learned, so a
// human picking up the ticket does not start from zero.
type EscalationContext struct {
	SopID         string `json:"sop_id,omitempty"`
	OrderID       string `json:"order_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Query         string `json:"query"`
	Summary       string `json:"summary"`

	// Evidence is the serialized step evidence from the diagnostic run.
	Evidence json.RawMessage `json:"evidence,omitempty"`
}

// Ticket is one escalation record.
type Ticket struct {
	ID        string            `json:"id"`
	Context   EscalationContext `json:"context"`
	CreatedAt time.Time         `json:"created_at"`
}

// Store persists tickets.
type Store interface {
	Save(ctx context.Context, t Ticket) error
}

// Service creates and persists escalation tickets.
type Service struct {
	store  Store
	logger *zap.Logger
	tracer trace.Tracer
}

// NewService creates a ticket service.
func NewService(store Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("ticket store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}, nil
}

// Create mints a new ticket id and persists the escalation context.
//
// IDs are random UUIDs, so concurrent creations can never collide the way a
// timestamp-derived scheme could.
func (s *Service) Create(ctx context.Context, ec EscalationContext) (*Ticket, error) {
	ctx, span := s.tracer.Start(ctx, "ticket.create",
		trace.WithAttributes(attribute.String("sop_id", ec.SopID)),
	)
	defer span.End()

	t := Ticket{
		ID:        "TKT-" + uuid.NewString(),
		Context:   ec,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.Save(ctx, t); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrTicketCreationFailed, err)
	}

	span.SetAttributes(attribute.String("ticket_id", t.ID))
	s.logger.Info("escalation ticket created",
		zap.String("ticket_id", t.ID),
		zap.String("sop_id", ec.SopID),
		zap.String("order_id", ec.OrderID),
	)
	return &t, nil
}
