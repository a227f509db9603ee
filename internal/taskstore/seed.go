package taskstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// seedRow is one demo task record covering a known support scenario.
type seedRow struct {
	orderID       string
	correlationID any
	status        string
	taskType      string
	processPath   string
	details       any
	pendingWith   any
	rsu           any
	boundaryPath  any
	createdAt     any
}

// demoRows cover each supported runbook scenario plus a few historical cases,
// so a fresh install can exercise the full resolution flow without live data.
var demoRows = []seedRow{
	{
		// DTH activation stuck past the expected window.
		orderID:       "DT100987654",
		correlationID: "cor_dth_stuck_123",
		status:        "Activation In Progress",
		taskType:      "INSTALL",
		processPath:   "AIRTEL.DTH.INSTALL_AND_FAULT_REPAIR",
		createdAt:     "2026-08-26T09:00:00Z",
	},
	{
		// Broadband order stuck in feasibility with a missing RSU.
		orderID:      "XBB10054321",
		status:       "Feasibility Check",
		taskType:     "INSTALL",
		processPath:  "AIRTEL.TELEMEDIA.INSTALLATION___FAULT_REPAIR",
		boundaryPath: "OB_PATH_VALID_123",
	},
	{
		// Postpaid bill pending with the billing system.
		orderID:       "SR_POSTPAID_98765",
		correlationID: "cor_postpaid_bill_789",
		status:        "Pending with Billing System",
		taskType:      "BILLING",
		processPath:   "AIRTEL.POSTPAID.BILLING",
		createdAt:     "2025-06-27T12:00:00Z",
	},
	{
		// Fault repair with FFC/RC detail payload.
		orderID:     "10045909651",
		status:      "Fault Repair",
		taskType:    "Fault Repair",
		processPath: "AIRTEL.TELEMEDIA.INSTALLATION___FAULT_REPAIR",
		details: `{"commonDetails":{"telemedia":{"problemType":"Hardware Related",` +
			`"problemSubType":"CPE accessories related issues","productType":"FLVOICE",` +
			`"ffc":"Jumpering Issues","rc":"Jumpering issue rectified at MDF or Pillar or Sub Pillar"}}}`,
	},
	{
		// Order stuck at installation engineer assignment.
		orderID:       "OAOE_ORDER_123",
		correlationID: "cor12345oaoe",
		status:        "Installation Engineer Assignment",
		taskType:      "INSTALL",
		processPath:   "AIRTEL.TELEMEDIA.INSTALLATION___FAULT_REPAIR",
		details:       `{"commonDetails":{"telemedia":{"bin":"OAOE"}}}`,
	},
	{
		// Engineer unable to mark onsite.
		orderID:     "ONSITE_ISSUE_101",
		status:      "Reached Onsite",
		taskType:    "Fault Repair",
		processPath: "AIRTEL.TELEMEDIA.INSTALLATION___FAULT_REPAIR",
		pendingWith: "9860434407",
		createdAt:   "2025-02-15T11:00:00Z",
	},
}

// Seed wipes the task table and inserts the demo scenario rows.
func (s *Store) Seed(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "taskstore.seed")
	defer span.End()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM task"); err != nil {
		return fmt.Errorf("clear task table: %w", err)
	}

	const insert = `
INSERT INTO task (order_id, correlation_id, status, task_type, organisation_process_path,
	details, pending_with, rsu, operating_boundary_path, created_at, modified_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?,
	COALESCE(?, strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	strftime('%Y-%m-%dT%H:%M:%fZ','now'))`

	for _, row := range demoRows {
		_, err := s.db.ExecContext(ctx, insert,
			row.orderID, row.correlationID, row.status, row.taskType, row.processPath,
			row.details, row.pendingWith, row.rsu, row.boundaryPath, row.createdAt,
		)
		if err != nil {
			return fmt.Errorf("seed task %s: %w", row.orderID, err)
		}
	}

	s.logger.Info("task table seeded", zap.Int("rows", len(demoRows)))
	return nil
}
