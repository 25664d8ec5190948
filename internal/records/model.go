// Package records is the local record store: one keyed table per entity type,
// every row carrying the three local-state flags the sync engine works from.
package records

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

// ErrRecordNotFound is returned when no record exists under the requested id
var ErrRecordNotFound = errors.New("record not found")

// EntityType names one category of business record
type EntityType string

const (
	EntityTypeCategory        EntityType = "category"
	EntityTypeSupplier        EntityType = "supplier"
	EntityTypeCustomer        EntityType = "customer"
	EntityTypeProduct         EntityType = "product"
	EntityTypePurchase        EntityType = "purchase"
	EntityTypeSale            EntityType = "sale"
	EntityTypeReturn          EntityType = "return"
	EntityTypeExpense         EntityType = "expense"
	EntityTypeLoan            EntityType = "loan"
	EntityTypeCashTransaction EntityType = "cash_transaction"
	EntityTypeStockAdjustment EntityType = "stock_adjustment"
)

// allEntityTypes is ordered so that referenced types come before the types referencing them
var allEntityTypes = []EntityType{
	EntityTypeCategory,
	EntityTypeSupplier,
	EntityTypeCustomer,
	EntityTypeProduct,
	EntityTypePurchase,
	EntityTypeSale,
	EntityTypeReturn,
	EntityTypeExpense,
	EntityTypeLoan,
	EntityTypeCashTransaction,
	EntityTypeStockAdjustment,
}

var tables = map[EntityType]string{
	EntityTypeCategory:        "categories",
	EntityTypeSupplier:        "suppliers",
	EntityTypeCustomer:        "customers",
	EntityTypeProduct:         "products",
	EntityTypePurchase:        "purchases",
	EntityTypeSale:            "sales",
	EntityTypeReturn:          "returns",
	EntityTypeExpense:         "expenses",
	EntityTypeLoan:            "loans",
	EntityTypeCashTransaction: "cash_transactions",
	EntityTypeStockAdjustment: "stock_adjustments",
}

// AllEntityTypes returns every entity type in dependency order
func AllEntityTypes() []EntityType {
	out := make([]EntityType, len(allEntityTypes))
	copy(out, allEntityTypes)
	return out
}

// Table returns the table holding records of this type
func (t EntityType) Table() string {
	return tables[t]
}

// Valid reports whether t is a known entity type
func (t EntityType) Valid() bool {
	_, ok := tables[t]
	return ok
}

func (t EntityType) String() string {
	return string(t)
}

// ParseEntityType validates a user supplied entity type name
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return t, nil
}

// Operation is the kind of mutation a local write produced
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether o is one of create, update or delete
func (o Operation) Valid() bool {
	return o == OpCreate || o == OpUpdate || o == OpDelete
}

// Record is a locally stored domain entity plus its unsynced-state flags.
// LocallyCreated means the remote has never acknowledged the record.
// LocallyModified means a local edit has not been acknowledged yet.
type Record struct {
	ID              string
	EntityType      EntityType
	Data            map[string]any
	LocallyCreated  bool
	LocallyModified bool
	LocallyDeleted  bool
	UpdatedAt       time.Time
}

// IsDirty reports whether the record carries local state the remote has not seen.
// A dirty record is never overwritten by pulled data.
func (r *Record) IsDirty() bool {
	return r.LocallyCreated || r.LocallyModified
}

// Clone returns a copy whose Data map can be mutated independently
func (r *Record) Clone() *Record {
	c := *r
	c.Data = maps.Clone(r.Data)
	return &c
}

// LocalFlagFields are payload keys that only mean something on this device
var LocalFlagFields = []string{
	"locallyCreated", "locallyModified", "locallyDeleted",
	"locally_created", "locally_modified", "locally_deleted",
}

// StripLocalFlags returns a copy of data without local-only flag fields
func StripLocalFlags(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	for _, f := range LocalFlagFields {
		delete(out, f)
	}
	return out
}
