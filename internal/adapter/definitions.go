package adapter

import "github.com/tildaslashalef/shopsync/internal/records"

var definitions = []Definition{
	{Type: records.EntityTypeCategory, Resource: "categories"},
	{Type: records.EntityTypeSupplier, Resource: "suppliers"},
	{Type: records.EntityTypeCustomer, Resource: "customers"},
	{
		Type:     records.EntityTypeProduct,
		Resource: "products",
		References: map[string]records.EntityType{
			"category_id": records.EntityTypeCategory,
			"supplier_id": records.EntityTypeSupplier,
		},
	},
	{
		Type:     records.EntityTypePurchase,
		Resource: "purchases",
		References: map[string]records.EntityType{
			"supplier_id": records.EntityTypeSupplier,
			"product_id":  records.EntityTypeProduct,
		},
	},
	{
		Type:     records.EntityTypeSale,
		Resource: "sales",
		References: map[string]records.EntityType{
			"customer_id": records.EntityTypeCustomer,
			"product_id":  records.EntityTypeProduct,
		},
	},
	{
		Type:     records.EntityTypeReturn,
		Resource: "returns",
		References: map[string]records.EntityType{
			"sale_id":     records.EntityTypeSale,
			"customer_id": records.EntityTypeCustomer,
			"product_id":  records.EntityTypeProduct,
		},
	},
	{Type: records.EntityTypeExpense, Resource: "expenses"},
	{
		Type:     records.EntityTypeLoan,
		Resource: "loans",
		References: map[string]records.EntityType{
			"customer_id": records.EntityTypeCustomer,
		},
	},
	{Type: records.EntityTypeCashTransaction, Resource: "cash-transactions"},
	{
		Type:     records.EntityTypeStockAdjustment,
		Resource: "stock-adjustments",
		References: map[string]records.EntityType{
			"product_id": records.EntityTypeProduct,
		},
	},
}

// Definitions returns the REST mapping of every entity type
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}
