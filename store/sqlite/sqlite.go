/*
Package sqlite provides a SQLite-backed implementation of generic.TxStore.

PURPOSE:
  Persists purchase requests, their line items and the audit trail. In
  production the same patterns apply to PostgreSQL with minor SQL dialect
  differences.

INTERFACES IMPLEMENTED:
  generic.RequestStore: Create, Get, List, versioned Save
  generic.AuditLog:     Append-only audit entries
  generic.TxStore:      WithTx and Reset

KEY TABLES:
  purchase_requests:      One row per request, carries status and version
  purchase_request_items: Line items, ordered by position
  audit_log:              Append-only, ordered by seq

OPTIMISTIC LOCKING:
  Save issues UPDATE ... WHERE id = ? AND version = ?. Zero rows affected
  on an existing ID means another writer got there first and the call
  returns generic.ErrConcurrentModification.

APPEND-ONLY AUDIT:
  No UPDATE or DELETE touches audit_log outside Reset.

DECIMALS AND TIMES:
  Money is stored as TEXT (decimal.Decimal.String) so no precision is lost.
  Times are stored as fixed-width UTC strings so range filters compare
  correctly as text.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): readers do not block
  and there is a single writer at a time.

USAGE:
  store, err := sqlite.New("./data/procurement.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := workflow.NewService(store, generic.SystemClock{}, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/procurement-engine/generic"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements generic.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ generic.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS purchase_requests (
		id TEXT PRIMARY KEY,
		number TEXT,
		requester TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		approved_by TEXT,
		approved_at TEXT,
		finance_remarks TEXT,
		rejected_by TEXT,
		rejected_at TEXT,
		rejection_reason TEXT,
		closed_by TEXT,
		closed_at TEXT,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_purchase_requests_status
		ON purchase_requests(status);
	CREATE INDEX IF NOT EXISTS idx_purchase_requests_created
		ON purchase_requests(created_at, id);

	CREATE TABLE IF NOT EXISTS purchase_request_items (
		request_id TEXT NOT NULL REFERENCES purchase_requests(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		id TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		unit TEXT NOT NULL DEFAULT '',
		requested_quantity INTEGER NOT NULL,
		unit_cost TEXT NOT NULL,
		adjusted_quantity INTEGER,
		adjustment_reason TEXT,
		line_total TEXT NOT NULL,
		refund_quantity INTEGER,
		replace_quantity INTEGER,
		no_action_quantity INTEGER,
		PRIMARY KEY (request_id, id)
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		at TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		request_id TEXT NOT NULL,
		from_status TEXT,
		to_status TEXT,
		payload_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_request
		ON audit_log(request_id, at);
	CREATE INDEX IF NOT EXISTS idx_audit_log_action
		ON audit_log(action);
	`

	_, err := s.db.Exec(schema)
	return err
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// REQUEST STORE (generic.RequestStore interface)
// =============================================================================

// Create inserts the request and its items atomically.
func (s *Store) Create(ctx context.Context, req generic.PurchaseRequest) error {
	return s.WithTx(ctx, func(tx generic.Store) error { return tx.Create(ctx, req) })
}

func createRequest(ctx context.Context, q queryer, req generic.PurchaseRequest) error {
	query := `
		INSERT INTO purchase_requests
		(id, number, requester, status, total_amount,
		 approved_by, approved_at, finance_remarks,
		 rejected_by, rejected_at, rejection_reason,
		 closed_by, closed_at, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		string(req.ID), nullString(req.Number), req.Requester, req.Status.String(), req.TotalAmount.String(),
		nullPtr(req.ApprovedBy), nullTime(req.ApprovedAt), nullPtr(req.FinanceRemarks),
		nullPtr(req.RejectedBy), nullTime(req.RejectedAt), nullPtr(req.RejectionReason),
		nullPtr(req.ClosedBy), nullTime(req.ClosedAt),
		req.Version, formatTime(req.CreatedAt), formatTime(req.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", generic.ErrDuplicateRequest, req.ID)
		}
		return fmt.Errorf("failed to insert request: %w", err)
	}
	return insertItems(ctx, q, req)
}

func insertItems(ctx context.Context, q queryer, req generic.PurchaseRequest) error {
	query := `
		INSERT INTO purchase_request_items
		(request_id, position, id, description, unit, requested_quantity, unit_cost,
		 adjusted_quantity, adjustment_reason, line_total,
		 refund_quantity, replace_quantity, no_action_quantity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i, it := range req.Items {
		_, err := q.ExecContext(ctx, query,
			string(req.ID), i, string(it.ID), it.Description, it.Unit, it.RequestedQuantity, it.UnitCost.String(),
			nullInt(it.AdjustedQuantity), nullString(it.AdjustmentReason), it.LineTotal.String(),
			nullInt(it.RefundQuantity), nullInt(it.ReplaceQuantity), nullInt(it.NoActionQuantity),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: duplicate item id %q", generic.ErrInvalidInput, it.ID)
			}
			return fmt.Errorf("failed to insert item: %w", err)
		}
	}
	return nil
}

// Get returns generic.ErrRequestNotFound when the ID is unknown.
func (s *Store) Get(ctx context.Context, id generic.RequestID) (generic.PurchaseRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRequest(ctx, s.db, id)
}

const requestColumns = `
	id, number, requester, status, total_amount,
	approved_by, approved_at, finance_remarks,
	rejected_by, rejected_at, rejection_reason,
	closed_by, closed_at, version, created_at, updated_at`

func getRequest(ctx context.Context, q queryer, id generic.RequestID) (generic.PurchaseRequest, error) {
	reqs, err := queryRequests(ctx, q, "SELECT "+requestColumns+" FROM purchase_requests WHERE id = ?", string(id))
	if err != nil {
		return generic.PurchaseRequest{}, err
	}
	if len(reqs) == 0 {
		return generic.PurchaseRequest{}, fmt.Errorf("%w: %s", generic.ErrRequestNotFound, id)
	}
	return reqs[0], nil
}

// List returns requests ordered by creation time, oldest first.
func (s *Store) List(ctx context.Context, filter generic.RequestFilter) ([]generic.PurchaseRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRequests(ctx, s.db, filter)
}

func listRequests(ctx context.Context, q queryer, filter generic.RequestFilter) ([]generic.PurchaseRequest, error) {
	query := "SELECT " + requestColumns + " FROM purchase_requests"
	var args []any
	if len(filter.Statuses) > 0 {
		query += " WHERE status IN (" + placeholders(len(filter.Statuses)) + ")"
		for _, st := range filter.Statuses {
			args = append(args, st.String())
		}
	}
	query += " ORDER BY created_at ASC, id ASC"
	return queryRequests(ctx, q, query, args...)
}

// Save overwrites the request when the stored version equals expectedVersion.
func (s *Store) Save(ctx context.Context, req generic.PurchaseRequest, expectedVersion int) error {
	return s.WithTx(ctx, func(tx generic.Store) error { return tx.Save(ctx, req, expectedVersion) })
}

func saveRequest(ctx context.Context, q queryer, req generic.PurchaseRequest, expectedVersion int) error {
	query := `
		UPDATE purchase_requests SET
			number = ?, requester = ?, status = ?, total_amount = ?,
			approved_by = ?, approved_at = ?, finance_remarks = ?,
			rejected_by = ?, rejected_at = ?, rejection_reason = ?,
			closed_by = ?, closed_at = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`
	res, err := q.ExecContext(ctx, query,
		nullString(req.Number), req.Requester, req.Status.String(), req.TotalAmount.String(),
		nullPtr(req.ApprovedBy), nullTime(req.ApprovedAt), nullPtr(req.FinanceRemarks),
		nullPtr(req.RejectedBy), nullTime(req.RejectedAt), nullPtr(req.RejectionReason),
		nullPtr(req.ClosedBy), nullTime(req.ClosedAt), req.Version, formatTime(req.UpdatedAt),
		string(req.ID), expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	if n == 0 {
		var current int
		err := q.QueryRowContext(ctx, "SELECT version FROM purchase_requests WHERE id = ?", string(req.ID)).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", generic.ErrRequestNotFound, req.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to read request version: %w", err)
		}
		return fmt.Errorf("%w: request %s is at version %d, expected %d",
			generic.ErrConcurrentModification, req.ID, current, expectedVersion)
	}

	if _, err := q.ExecContext(ctx, "DELETE FROM purchase_request_items WHERE request_id = ?", string(req.ID)); err != nil {
		return fmt.Errorf("failed to replace items: %w", err)
	}
	return insertItems(ctx, q, req)
}

func queryRequests(ctx context.Context, q queryer, query string, args ...any) ([]generic.PurchaseRequest, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}

	var requests []generic.PurchaseRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Items are loaded after the outer cursor is closed; with a single
	// connection a nested query would block.
	for i := range requests {
		items, err := loadItems(ctx, q, requests[i].ID)
		if err != nil {
			return nil, err
		}
		requests[i].Items = items
	}
	return requests, nil
}

func scanRequest(rows *sql.Rows) (generic.PurchaseRequest, error) {
	var (
		req                                  generic.PurchaseRequest
		id, status, total, created, updated  string
		number                               sql.NullString
		approvedBy, approvedAt, remarks      sql.NullString
		rejectedBy, rejectedAt, rejectReason sql.NullString
		closedBy, closedAt                   sql.NullString
	)
	err := rows.Scan(
		&id, &number, &req.Requester, &status, &total,
		&approvedBy, &approvedAt, &remarks,
		&rejectedBy, &rejectedAt, &rejectReason,
		&closedBy, &closedAt, &req.Version, &created, &updated,
	)
	if err != nil {
		return req, fmt.Errorf("failed to scan request: %w", err)
	}

	req.ID = generic.RequestID(id)
	req.Number = number.String
	req.Status = generic.Status(status)
	req.TotalAmount = generic.MustParseDecimal(total)
	req.ApprovedBy = ptrString(approvedBy)
	req.ApprovedAt = ptrTime(approvedAt)
	req.FinanceRemarks = ptrString(remarks)
	req.RejectedBy = ptrString(rejectedBy)
	req.RejectedAt = ptrTime(rejectedAt)
	req.RejectionReason = ptrString(rejectReason)
	req.ClosedBy = ptrString(closedBy)
	req.ClosedAt = ptrTime(closedAt)
	req.CreatedAt = parseTime(created)
	req.UpdatedAt = parseTime(updated)
	return req, nil
}

func loadItems(ctx context.Context, q queryer, id generic.RequestID) ([]generic.Item, error) {
	query := `
		SELECT id, description, unit, requested_quantity, unit_cost,
		       adjusted_quantity, adjustment_reason, line_total,
		       refund_quantity, replace_quantity, no_action_quantity
		FROM purchase_request_items
		WHERE request_id = ?
		ORDER BY position ASC
	`
	rows, err := q.QueryContext(ctx, query, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []generic.Item
	for rows.Next() {
		var (
			it                        generic.Item
			itemID, unitCost, total   string
			adjusted                  sql.NullInt64
			reason                    sql.NullString
			refund, replace, noAction sql.NullInt64
		)
		if err := rows.Scan(&itemID, &it.Description, &it.Unit, &it.RequestedQuantity, &unitCost,
			&adjusted, &reason, &total, &refund, &replace, &noAction); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		it.ID = generic.ItemID(itemID)
		it.UnitCost = generic.MustParseDecimal(unitCost)
		it.LineTotal = generic.MustParseDecimal(total)
		it.AdjustedQuantity = ptrInt(adjusted)
		it.AdjustmentReason = reason.String
		it.RefundQuantity = ptrInt(refund)
		it.ReplaceQuantity = ptrInt(replace)
		it.NoActionQuantity = ptrInt(noAction)
		items = append(items, it)
	}
	return items, rows.Err()
}

// =============================================================================
// AUDIT LOG (generic.AuditLog interface)
// =============================================================================

// Append adds an audit entry. Append-only.
func (s *Store) Append(ctx context.Context, entry generic.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAudit(ctx, s.db, entry)
}

func appendAudit(ctx context.Context, q queryer, e generic.AuditEntry) error {
	var payload sql.NullString
	if len(e.Payload) > 0 {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode audit payload: %w", err)
		}
		payload = sql.NullString{String: string(b), Valid: true}
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO audit_log (id, at, actor_id, action, request_id, from_status, to_status, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, formatTime(e.At), e.ActorID, string(e.Action), string(e.RequestID),
		nullString(e.FromStatus.String()), nullString(e.ToStatus.String()), payload,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: audit entry %s", generic.ErrDuplicateIdempotencyKey, e.ID)
		}
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// Query returns matching entries in insertion order.
func (s *Store) Query(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryAudit(ctx, s.db, filter)
}

func queryAudit(ctx context.Context, q queryer, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.RequestID != nil {
		where = append(where, "request_id = ?")
		args = append(args, string(*f.RequestID))
	}
	if f.ActorID != nil {
		where = append(where, "actor_id = ?")
		args = append(args, *f.ActorID)
	}
	if f.From != nil {
		where = append(where, "at >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		where = append(where, "at <= ?")
		args = append(args, formatTime(*f.To))
	}
	if len(f.Actions) > 0 {
		where = append(where, "action IN ("+placeholders(len(f.Actions))+")")
		for _, a := range f.Actions {
			args = append(args, string(a))
		}
	}

	query := "SELECT id, at, actor_id, action, request_id, from_status, to_status, payload_json FROM audit_log"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []generic.AuditEntry
	for rows.Next() {
		var (
			e                     generic.AuditEntry
			at, action, requestID string
			from, to, payload     sql.NullString
		)
		if err := rows.Scan(&e.ID, &at, &e.ActorID, &action, &requestID, &from, &to, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.At = parseTime(at)
		e.Action = generic.AuditAction(action)
		e.RequestID = generic.RequestID(requestID)
		e.FromStatus = generic.Status(from.String)
		e.ToStatus = generic.Status(to.String)
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode audit payload: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore routes every call through the open transaction, reads included.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Create(ctx context.Context, req generic.PurchaseRequest) error {
	return createRequest(ctx, ts.tx, req)
}

func (ts *txStore) Get(ctx context.Context, id generic.RequestID) (generic.PurchaseRequest, error) {
	return getRequest(ctx, ts.tx, id)
}

func (ts *txStore) List(ctx context.Context, filter generic.RequestFilter) ([]generic.PurchaseRequest, error) {
	return listRequests(ctx, ts.tx, filter)
}

func (ts *txStore) Save(ctx context.Context, req generic.PurchaseRequest, expectedVersion int) error {
	return saveRequest(ctx, ts.tx, req, expectedVersion)
}

func (ts *txStore) Append(ctx context.Context, entry generic.AuditEntry) error {
	return appendAudit(ctx, ts.tx, entry)
}

func (ts *txStore) Query(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	return queryAudit(ctx, ts.tx, filter)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"purchase_request_items", "purchase_requests", "audit_log"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func ptrString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func ptrTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func ptrInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint &&
			(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
