/*
Package workflow runs purchase-request transitions against a store.

PURPOSE:
  The procurement package decides what a transition does; this package
  makes it stick. Each operation runs inside one store transaction:

    1. Load the request
    2. Run the pure transition (procurement.Machine)
    3. Save with a version check (optimistic lock)
    4. Append an audit entry

  If any step fails nothing is written. A version conflict at step 3 is
  reported as generic.ErrConcurrentModification; callers re-fetch and retry
  exactly as they would for a StaleState validation failure.

LOGGING:
  Successful transitions log at Info, rule violations at Warn, and store
  failures at Error. The engine itself never logs.

SEE ALSO:
  - procurement/machine.go: Transition rules
  - generic/store.go: TxStore contract
  - api/handlers.go: HTTP caller
*/
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/warp/procurement-engine/generic"
	"github.com/warp/procurement-engine/procurement"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Store   generic.TxStore
	Machine *procurement.Machine
	Clock   generic.Clock
	Logger  *slog.Logger

	// NewID generates audit entry IDs.
	NewID func() string
}

func NewService(store generic.TxStore, clock generic.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Store:   store,
		Machine: procurement.NewMachine(clock),
		Clock:   clock,
		Logger:  logger,
		NewID:   uuid.NewString,
	}
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Service) Get(ctx context.Context, id generic.RequestID) (generic.PurchaseRequest, error) {
	return s.Store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter generic.RequestFilter) ([]generic.PurchaseRequest, error) {
	return s.Store.List(ctx, filter)
}

// History returns the audit trail of one request, oldest first.
func (s *Service) History(ctx context.Context, id generic.RequestID) ([]generic.AuditEntry, error) {
	if _, err := s.Store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.Store.Query(ctx, generic.AuditFilter{RequestID: &id})
}

// =============================================================================
// CREATE
// =============================================================================

// Create stores a new request in Pending with totals computed and version 1.
func (s *Service) Create(ctx context.Context, req generic.PurchaseRequest, actor string) (generic.PurchaseRequest, error) {
	if req.ID == "" {
		return generic.PurchaseRequest{}, fmt.Errorf("%w: request id is required", generic.ErrInvalidInput)
	}
	if len(req.Items) == 0 {
		return generic.PurchaseRequest{}, fmt.Errorf("%w: request needs at least one item", generic.ErrInvalidInput)
	}

	now := s.Clock.Now()
	req = procurement.Recalculate(req)
	req.Status = generic.StatusPending
	req.Version = 1
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	if actor == "" {
		actor = req.Requester
	}

	err := s.Store.WithTx(ctx, func(tx generic.Store) error {
		if err := tx.Create(ctx, req); err != nil {
			return err
		}
		return tx.Append(ctx, generic.AuditEntry{
			ID:        s.NewID(),
			At:        now,
			ActorID:   actor,
			Action:    generic.AuditRequestCreated,
			RequestID: req.ID,
			ToStatus:  generic.StatusPending,
			Payload: map[string]any{
				"items":        len(req.Items),
				"total_amount": req.TotalAmount.String(),
			},
		})
	})
	if err != nil {
		s.Logger.ErrorContext(ctx, "create request failed", slog.String("request_id", string(req.ID)), slog.Any("error", err))
		return generic.PurchaseRequest{}, err
	}

	s.Logger.InfoContext(ctx, "request created",
		slog.String("request_id", string(req.ID)),
		slog.String("total_amount", req.TotalAmount.String()))
	return req, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Execute loads the request, applies cmd and persists the result atomically.
func (s *Service) Execute(ctx context.Context, id generic.RequestID, cmd procurement.Command) (procurement.Outcome, error) {
	var out procurement.Outcome

	err := s.Store.WithTx(ctx, func(tx generic.Store) error {
		current, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}

		out, err = s.Machine.Apply(current, cmd)
		if err != nil {
			return err
		}

		if err := tx.Save(ctx, out.Request, current.Version); err != nil {
			return err
		}
		return tx.Append(ctx, s.auditEntry(cmd, out))
	})

	logger := s.Logger.With(
		slog.String("request_id", string(id)),
		slog.String("action", cmd.Action.String()),
		slog.String("actor", cmd.Actor),
	)
	if err != nil {
		if kind, ok := generic.KindOf(err); ok {
			logger.WarnContext(ctx, "transition rejected", slog.String("kind", string(kind)), slog.Any("error", err))
		} else if generic.IsClientError(err) || generic.IsNotFound(err) || errors.Is(err, generic.ErrConcurrentModification) {
			logger.WarnContext(ctx, "transition refused", slog.Any("error", err))
		} else {
			logger.ErrorContext(ctx, "transition failed", slog.Any("error", err))
		}
		return procurement.Outcome{}, err
	}

	attrs := []any{
		slog.String("from", out.From.String()),
		slog.String("to", out.Request.Status.String()),
		slog.Int("version", out.Request.Version),
	}
	if out.Reconciliation != nil {
		attrs = append(attrs,
			slog.String("total_refund", out.Reconciliation.TotalRefund.String()),
			slog.String("total_replace", out.Reconciliation.TotalReplace.String()))
		if out.Reconciliation.NoOp {
			logger.WarnContext(ctx, "reconciliation moved no units to refund or replace")
		}
	}
	logger.InfoContext(ctx, "request transitioned", attrs...)
	return out, nil
}

func (s *Service) Approve(ctx context.Context, id generic.RequestID, expected generic.Status, adjustments []procurement.ItemAdjustment, remarks *string, actor string) (generic.PurchaseRequest, error) {
	out, err := s.Execute(ctx, id, procurement.Command{
		Action: procurement.ActionApprove, Expected: expected, Actor: actor,
		Adjustments: adjustments, FinanceRemarks: remarks,
	})
	return out.Request, err
}

func (s *Service) Reject(ctx context.Context, id generic.RequestID, expected generic.Status, reason, actor string) (generic.PurchaseRequest, error) {
	out, err := s.Execute(ctx, id, procurement.Command{
		Action: procurement.ActionReject, Expected: expected, Actor: actor, Reason: reason,
	})
	return out.Request, err
}

// Reconcile returns the full outcome so callers can show refund totals and
// warn on a no-op distribution.
func (s *Service) Reconcile(ctx context.Context, id generic.RequestID, expected generic.Status, distributions []procurement.ItemDistribution, actor string) (procurement.Outcome, error) {
	return s.Execute(ctx, id, procurement.Command{
		Action: procurement.ActionReconcile, Expected: expected, Actor: actor, Distributions: distributions,
	})
}

func (s *Service) Rollback(ctx context.Context, id generic.RequestID, expected generic.Status, actor string) (generic.PurchaseRequest, error) {
	out, err := s.Execute(ctx, id, procurement.Command{
		Action: procurement.ActionRollback, Expected: expected, Actor: actor,
	})
	return out.Request, err
}

func (s *Service) Edit(ctx context.Context, id generic.RequestID, expected generic.Status, adjustments []procurement.ItemAdjustment, remarks *string, actor string) (generic.PurchaseRequest, error) {
	out, err := s.Execute(ctx, id, procurement.Command{
		Action: procurement.ActionEdit, Expected: expected, Actor: actor,
		Adjustments: adjustments, FinanceRemarks: remarks,
	})
	return out.Request, err
}

// =============================================================================
// OVERDUE RECONCILIATIONS
// =============================================================================

// FlagOverdueReconciliations records one AuditReconciliationOverdue entry for
// every Adjusted request approved more than after ago that has not been
// flagged yet. It never changes request status. Returns the newly flagged IDs.
func (s *Service) FlagOverdueReconciliations(ctx context.Context, after time.Duration) ([]generic.RequestID, error) {
	now := s.Clock.Now()
	cutoff := now.Add(-after)
	var flagged []generic.RequestID

	err := s.Store.WithTx(ctx, func(tx generic.Store) error {
		adjusted, err := tx.List(ctx, generic.RequestFilter{Statuses: []generic.Status{generic.StatusAdjusted}})
		if err != nil {
			return err
		}
		for _, req := range adjusted {
			if req.ApprovedAt == nil || req.ApprovedAt.After(cutoff) {
				continue
			}
			id := req.ID
			// Only entries after the latest approval count, so a request that was
			// rolled back and re-approved can be flagged again.
			prior, err := tx.Query(ctx, generic.AuditFilter{
				RequestID: &id,
				Actions:   []generic.AuditAction{generic.AuditReconciliationOverdue},
				From:      req.ApprovedAt,
			})
			if err != nil {
				return err
			}
			if len(prior) > 0 {
				continue
			}
			if err := tx.Append(ctx, generic.AuditEntry{
				ID:         s.NewID(),
				At:         now,
				ActorID:    "system",
				Action:     generic.AuditReconciliationOverdue,
				RequestID:  req.ID,
				FromStatus: req.Status,
				ToStatus:   req.Status,
				Payload: map[string]any{
					"approved_at":   req.ApprovedAt.Format(time.RFC3339),
					"overdue_hours": int(now.Sub(*req.ApprovedAt).Hours()),
				},
			}); err != nil {
				return err
			}
			flagged = append(flagged, req.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, id := range flagged {
		s.Logger.WarnContext(ctx, "reconciliation overdue", slog.String("request_id", string(id)))
	}
	return flagged, nil
}

// =============================================================================
// AUDIT
// =============================================================================

func (s *Service) auditEntry(cmd procurement.Command, out procurement.Outcome) generic.AuditEntry {
	req := out.Request
	payload := map[string]any{
		"version":      req.Version,
		"total_amount": req.TotalAmount.String(),
	}

	var action generic.AuditAction
	switch cmd.Action {
	case procurement.ActionApprove:
		action = generic.AuditRequestApproved
		if req.Status == generic.StatusAdjusted {
			action = generic.AuditRequestAdjusted
		}
		payload["adjustments"] = adjustmentPayload(req)
	case procurement.ActionReject:
		action = generic.AuditRequestRejected
		if req.RejectionReason != nil {
			payload["reason"] = *req.RejectionReason
		}
	case procurement.ActionReconcile:
		action = generic.AuditRequestReconciled
		if out.Reconciliation != nil {
			payload["total_refund"] = out.Reconciliation.TotalRefund.String()
			payload["total_replace"] = out.Reconciliation.TotalReplace.String()
			payload["no_op"] = out.Reconciliation.NoOp
		}
	case procurement.ActionRollback:
		action = generic.AuditRequestRolledBack
	case procurement.ActionEdit:
		action = generic.AuditRequestEdited
		payload["adjustments"] = adjustmentPayload(req)
	}
	if req.FinanceRemarks != nil {
		payload["finance_remarks"] = *req.FinanceRemarks
	}

	return generic.AuditEntry{
		ID:         s.NewID(),
		At:         req.UpdatedAt,
		ActorID:    cmd.Actor,
		Action:     action,
		RequestID:  req.ID,
		FromStatus: out.From,
		ToStatus:   req.Status,
		Payload:    payload,
	}
}

func adjustmentPayload(req generic.PurchaseRequest) map[string]any {
	out := make(map[string]any)
	for _, it := range req.Items {
		if it.AdjustedQuantity != nil {
			out[string(it.ID)] = map[string]any{
				"requested": it.RequestedQuantity,
				"adjusted":  *it.AdjustedQuantity,
				"reason":    it.AdjustmentReason,
			}
		}
	}
	return out
}
