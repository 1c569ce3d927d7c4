// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/procurement-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	requests map[generic.RequestID]generic.PurchaseRequest
	audit    []generic.AuditEntry
}

var _ generic.TxStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		requests: make(map[generic.RequestID]generic.PurchaseRequest),
	}
}

func (m *Memory) Create(_ context.Context, req generic.PurchaseRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(req)
}

func (m *Memory) createLocked(req generic.PurchaseRequest) error {
	if _, exists := m.requests[req.ID]; exists {
		return fmt.Errorf("%w: %s", generic.ErrDuplicateRequest, req.ID)
	}
	m.requests[req.ID] = req.Clone()
	return nil
}

func (m *Memory) Get(_ context.Context, id generic.RequestID) (generic.PurchaseRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) getLocked(id generic.RequestID) (generic.PurchaseRequest, error) {
	req, ok := m.requests[id]
	if !ok {
		return generic.PurchaseRequest{}, fmt.Errorf("%w: %s", generic.ErrRequestNotFound, id)
	}
	return req.Clone(), nil
}

func (m *Memory) List(_ context.Context, filter generic.RequestFilter) ([]generic.PurchaseRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(filter), nil
}

func (m *Memory) listLocked(filter generic.RequestFilter) []generic.PurchaseRequest {
	var result []generic.PurchaseRequest
	for _, req := range m.requests {
		if filter.Matches(req) {
			result = append(result, req.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// Save replaces the stored request when its version still equals expectedVersion.
func (m *Memory) Save(_ context.Context, req generic.PurchaseRequest, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(req, expectedVersion)
}

func (m *Memory) saveLocked(req generic.PurchaseRequest, expectedVersion int) error {
	current, ok := m.requests[req.ID]
	if !ok {
		return fmt.Errorf("%w: %s", generic.ErrRequestNotFound, req.ID)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: request %s is at version %d, expected %d",
			generic.ErrConcurrentModification, req.ID, current.Version, expectedVersion)
	}
	m.requests[req.ID] = req.Clone()
	return nil
}

// Append adds an audit entry. Append-only.
func (m *Memory) Append(_ context.Context, entry generic.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) Query(_ context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queryLocked(filter), nil
}

func (m *Memory) queryLocked(filter generic.AuditFilter) []generic.AuditEntry {
	var result []generic.AuditEntry
	for _, e := range m.audit {
		if filter.Matches(e) {
			result = append(result, e)
		}
	}
	return result
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = make(map[generic.RequestID]generic.PurchaseRequest)
	m.audit = nil
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For the memory store this is simulated with a snapshot + restore on error.
func (m *Memory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()

	if err := fn(&txMemoryView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	requests map[generic.RequestID]generic.PurchaseRequest
	audit    []generic.AuditEntry
}

func (m *Memory) snapshot() memorySnapshot {
	reqs := make(map[generic.RequestID]generic.PurchaseRequest, len(m.requests))
	for k, v := range m.requests {
		reqs[k] = v.Clone()
	}
	return memorySnapshot{requests: reqs, audit: append([]generic.AuditEntry(nil), m.audit...)}
}

func (m *Memory) restore(s memorySnapshot) {
	m.requests = s.requests
	m.audit = s.audit
}

// txMemoryView runs with the parent lock already held.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) Create(_ context.Context, req generic.PurchaseRequest) error {
	return tv.parent.createLocked(req)
}

func (tv *txMemoryView) Get(_ context.Context, id generic.RequestID) (generic.PurchaseRequest, error) {
	return tv.parent.getLocked(id)
}

func (tv *txMemoryView) List(_ context.Context, filter generic.RequestFilter) ([]generic.PurchaseRequest, error) {
	return tv.parent.listLocked(filter), nil
}

func (tv *txMemoryView) Save(_ context.Context, req generic.PurchaseRequest, expectedVersion int) error {
	return tv.parent.saveLocked(req, expectedVersion)
}

func (tv *txMemoryView) Append(_ context.Context, entry generic.AuditEntry) error {
	tv.parent.audit = append(tv.parent.audit, entry)
	return nil
}

func (tv *txMemoryView) Query(_ context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	return tv.parent.queryLocked(filter), nil
}
