/*
store.go - Persistence interfaces for purchase requests and the audit trail

PURPOSE:
  Defines the interface between workflow orchestration and the database.
  The engine in package procurement never touches these; the workflow
  service loads a request, runs a pure transition, then persists the
  result through a Store inside one transaction.

KEY INTERFACES:
  RequestStore: Create, Get, List, versioned Save
  AuditLog:     Append-only record of who did what when
  TxStore:      Both of the above plus atomic WithTx and Reset

OPTIMISTIC LOCKING:
  Save(req, expectedVersion) only succeeds if the stored row still has
  expectedVersion. A lost race returns ErrConcurrentModification, which
  callers treat like a StaleState validation failure: re-fetch, retry.

AUDIT IS APPEND-ONLY:
  AuditLog has no Update or Delete. Rollbacks are recorded as new
  entries, never by erasing the approval entry they undo.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - workflow/service.go: Uses TxStore
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// REQUEST STORE
// =============================================================================

type RequestStore interface {
	// Create persists a new request. Returns ErrDuplicateRequest if the ID exists.
	Create(ctx context.Context, req PurchaseRequest) error

	// Get returns ErrRequestNotFound when the ID is unknown.
	Get(ctx context.Context, id RequestID) (PurchaseRequest, error)

	// List returns requests ordered by creation time, oldest first.
	List(ctx context.Context, filter RequestFilter) ([]PurchaseRequest, error)

	// Save overwrites the request if the stored version equals expectedVersion.
	Save(ctx context.Context, req PurchaseRequest, expectedVersion int) error
}

type RequestFilter struct {
	Statuses []Status // empty = all
}

// Matches reports whether the request passes the filter.
func (f RequestFilter) Matches(req PurchaseRequest) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if req.Status == s {
			return true
		}
	}
	return false
}

// =============================================================================
// AUDIT LOG - Separate from request state, tracks who did what when
// =============================================================================

type AuditEntry struct {
	ID         string
	At         time.Time
	ActorID    string
	Action     AuditAction
	RequestID  RequestID
	FromStatus Status
	ToStatus   Status
	Payload    map[string]any // action-specific data
}

type AuditAction string

const (
	AuditRequestCreated        AuditAction = "request_created"
	AuditRequestApproved       AuditAction = "request_approved"
	AuditRequestAdjusted       AuditAction = "request_adjusted"
	AuditRequestRejected       AuditAction = "request_rejected"
	AuditRequestReconciled     AuditAction = "request_reconciled"
	AuditRequestRolledBack     AuditAction = "request_rolled_back"
	AuditRequestEdited         AuditAction = "request_edited"
	AuditReconciliationOverdue AuditAction = "reconciliation_overdue"
)

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
	Query(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	RequestID *RequestID
	ActorID   *string
	Actions   []AuditAction
	From      *time.Time
	To        *time.Time
}

// Matches reports whether the entry passes the filter.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.RequestID != nil && e.RequestID != *f.RequestID {
		return false
	}
	if f.ActorID != nil && e.ActorID != *f.ActorID {
		return false
	}
	if f.From != nil && e.At.Before(*f.From) {
		return false
	}
	if f.To != nil && e.At.After(*f.To) {
		return false
	}
	if len(f.Actions) > 0 {
		for _, a := range f.Actions {
			if e.Action == a {
				return true
			}
		}
		return false
	}
	return true
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// Store is the combined request + audit surface visible inside a transaction.
type Store interface {
	RequestStore
	AuditLog
}

type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the Store it received is
	// rolled back. If fn returns nil, the writes are committed.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Reset removes all requests and audit entries. Demo use only.
	Reset(ctx context.Context) error
}
