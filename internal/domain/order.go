package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/ecomware/fulfillment-ledger/internal/money"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

type Order struct {
	ID              int64          `json:"-"`
	UUID            uuid.UUID      `json:"id"`
	UserID          *int64         `json:"user_id,omitempty"`
	Status          OrderStatus    `json:"status"`
	PaymentStatus   PaymentStatus  `json:"payment_status"`
	Currency        string         `json:"currency"`
	ItemsTotal      money.Money    `json:"items_total"`
	ExtrasTotal     money.Money    `json:"extras_total"`
	PaidAmount      money.Money    `json:"paid_amount"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Deleted         bool           `json:"-"`
	Items           []OrderItem    `json:"items,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	StatusChangedAt time.Time      `json:"status_changed_at"`
}

// IsGuest reports whether the order has no owning user. Guest orders never
// touch the points ledger.
func (o *Order) IsGuest() bool {
	return o.UserID == nil
}

type OrderItem struct {
	ID               int64       `json:"id"`
	OrderID          int64       `json:"-"`
	ProductID        int64       `json:"product_id"`
	UnitPrice        money.Money `json:"unit_price"`
	Quantity         int         `json:"quantity"`
	RefundedQuantity int         `json:"refunded_quantity"`
	OriginalQuantity int         `json:"original_quantity"`
}

// OpenQuantity is the quantity still held against stock: ordered minus
// already refunded.
func (i *OrderItem) OpenQuantity() int {
	return i.Quantity - i.RefundedQuantity
}

// OrderLine pairs an order item with the product it references, as loaded
// for points computation.
type OrderLine struct {
	Item    OrderItem
	Product Product
}

type StatusChange struct {
	ID        int64       `json:"id"`
	OrderID   int64       `json:"-"`
	From      OrderStatus `json:"from"`
	To        OrderStatus `json:"to"`
	ChangedAt time.Time   `json:"changed_at"`
}
