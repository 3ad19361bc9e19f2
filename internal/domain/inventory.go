package domain

// StockLevel is the read-side view of a product's inventory counter.
type StockLevel struct {
	ProductID int64  `json:"product_id"`
	SKU       string `json:"sku"`
	Stock     int    `json:"stock"`
}
