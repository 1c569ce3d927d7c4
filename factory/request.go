/*
Package factory provides JSON to Go purchase request conversion.

PURPOSE:
  Converts JSON request definitions into generic.PurchaseRequest values in
  status Pending with totals computed. Used by the HTTP create endpoint and
  by the demo scenarios.

JSON SCHEMA:
  {
    "id": "pr-2025-0001",            // optional, UUID generated when empty
    "number": "PR-2025-0001",
    "requester": "alice",
    "items": [
      {
        "id": "laptop",               // optional, UUID generated when empty
        "description": "14in laptop",
        "unit": "pcs",
        "requested_quantity": 20,
        "unit_cost": "850.00"         // string or number
      }
    ]
  }

VALIDATION:
  Shape rules (required fields, at least one item, positive quantities)
  are struct tags checked with go-playground/validator. Money rules
  (non-negative unit cost) are checked by hand since validator cannot
  compare decimals.

USAGE:
  f := factory.NewRequestFactory()
  req, err := f.ParseRequest(jsonString)

SEE ALSO:
  - generic/request.go: PurchaseRequest type
  - api/scenarios.go: Demo requests built from JSON
*/
package factory

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/procurement-engine/generic"
	"github.com/warp/procurement-engine/procurement"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type RequestJSON struct {
	ID        string     `json:"id,omitempty" validate:"omitempty,max=64"`
	Number    string     `json:"number,omitempty" validate:"omitempty,max=64"`
	Requester string     `json:"requester" validate:"required,max=128"`
	Items     []ItemJSON `json:"items" validate:"required,min=1,dive"`
}

type ItemJSON struct {
	ID                string          `json:"id,omitempty" validate:"omitempty,max=64"`
	Description       string          `json:"description" validate:"required,max=500"`
	Unit              string          `json:"unit,omitempty" validate:"omitempty,max=32"`
	RequestedQuantity int             `json:"requested_quantity" validate:"required,gt=0"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
}

// =============================================================================
// REQUEST FACTORY
// =============================================================================

type RequestFactory struct {
	validate *validator.Validate
	newID    func() string
}

func NewRequestFactory() *RequestFactory {
	return &RequestFactory{
		validate: validator.New(),
		newID:    uuid.NewString,
	}
}

// ParseRequest parses a JSON definition. See package docs for the schema.
func (f *RequestFactory) ParseRequest(jsonStr string) (generic.PurchaseRequest, error) {
	var rj RequestJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return generic.PurchaseRequest{}, fmt.Errorf("%w: invalid request JSON: %v", generic.ErrInvalidInput, err)
	}
	return f.Build(rj)
}

// Build converts an already-decoded definition.
func (f *RequestFactory) Build(rj RequestJSON) (generic.PurchaseRequest, error) {
	if err := f.validate.Struct(rj); err != nil {
		return generic.PurchaseRequest{}, fmt.Errorf("%w: %s", generic.ErrInvalidInput, describe(err))
	}

	req := generic.PurchaseRequest{
		ID:        generic.RequestID(rj.ID),
		Number:    rj.Number,
		Requester: strings.TrimSpace(rj.Requester),
		Status:    generic.StatusPending,
	}
	if req.ID == "" {
		req.ID = generic.RequestID(f.newID())
	}

	seen := make(map[generic.ItemID]bool, len(rj.Items))
	for i, ij := range rj.Items {
		if ij.UnitCost.IsNegative() {
			return generic.PurchaseRequest{}, fmt.Errorf("%w: item #%d unit_cost cannot be negative", generic.ErrInvalidInput, i+1)
		}
		id := generic.ItemID(ij.ID)
		if id == "" {
			id = generic.ItemID(f.newID())
		}
		if seen[id] {
			return generic.PurchaseRequest{}, fmt.Errorf("%w: duplicate item id %q", generic.ErrInvalidInput, id)
		}
		seen[id] = true

		unit := ij.Unit
		if unit == "" {
			unit = "pcs"
		}
		req.Items = append(req.Items, generic.Item{
			ID:                id,
			Description:       strings.TrimSpace(ij.Description),
			Unit:              unit,
			RequestedQuantity: ij.RequestedQuantity,
			UnitCost:          ij.UnitCost,
		})
	}

	return procurement.Recalculate(req), nil
}

// describe flattens validator errors into "Field: tag" pairs.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
