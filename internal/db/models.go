package db

import (
	"time"
)

// Order lifecycle states
const (
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusShipped   = "shipped"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
	OrderStatusRefunded  = "refunded"
)

// Payment states
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

// Stock movement types
const (
	MovementIn         = "in"
	MovementOut        = "out"
	MovementReserved   = "reserved"
	MovementUnreserved = "unreserved"
	MovementAdjustment = "adjustment"
)

// Reservation handle states
const (
	ReservationActive    = "active"
	ReservationCommitted = "committed"
	ReservationReleased  = "released"
)

// Coupon discount types
const (
	DiscountPercent = "percent"
	DiscountFixed   = "fixed"
)

// Purchase order states
const (
	PurchaseOrderPending   = "pending"
	PurchaseOrderPartial   = "partially_received"
	PurchaseOrderReceived  = "received"
	PurchaseOrderCancelled = "cancelled"
)

// Customer is an account that can place orders
type Customer struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	FirstName string    `gorm:"type:varchar(100);not null" json:"first_name"`
	LastName  string    `gorm:"type:varchar(100);not null" json:"last_name"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (Customer) TableName() string { return "customers" }

// CustomerProfile is the optional 1:1 extension of a customer account
type CustomerProfile struct {
	CustomerID uint64     `gorm:"primaryKey" json:"customer_id"`
	Customer   *Customer  `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Phone      string     `gorm:"type:varchar(30)" json:"phone,omitempty"`
	BirthDate  *time.Time `json:"birth_date,omitempty"`
}

func (CustomerProfile) TableName() string { return "customer_profiles" }

// Address is a customer shipping or billing address
type Address struct {
	ID         uint64    `gorm:"primaryKey" json:"id"`
	CustomerID uint64    `gorm:"index;not null" json:"customer_id"`
	Customer   *Customer `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Line1      string    `gorm:"type:varchar(255);not null" json:"line1"`
	Line2      string    `gorm:"type:varchar(255)" json:"line2,omitempty"`
	City       string    `gorm:"type:varchar(100);not null" json:"city"`
	Region     string    `gorm:"type:varchar(100)" json:"region,omitempty"`
	PostalCode string    `gorm:"type:varchar(20)" json:"postal_code,omitempty"`
	Country    string    `gorm:"type:varchar(2);not null" json:"country"`
	IsDefault  bool      `gorm:"not null;default:false" json:"is_default"`
}

func (Address) TableName() string { return "addresses" }

// Category is a node in the product category tree. The tree must stay
// acyclic; inserts and moves are checked in internal/catalog.
type Category struct {
	ID       uint64    `gorm:"primaryKey" json:"id"`
	Name     string    `gorm:"type:varchar(100);not null;index" json:"name"`
	ParentID *uint64   `gorm:"index" json:"parent_id,omitempty"`
	Parent   *Category `gorm:"foreignKey:ParentID;constraint:OnDelete:SET NULL" json:"-"`
}

func (Category) TableName() string { return "categories" }

// Supplier provides products through purchase orders
type Supplier struct {
	ID           uint64 `gorm:"primaryKey" json:"id"`
	Name         string `gorm:"type:varchar(255);not null" json:"name"`
	ContactEmail string `gorm:"type:varchar(255)" json:"contact_email,omitempty"`
}

func (Supplier) TableName() string { return "suppliers" }

// Product is a catalog entry. Orders snapshot name/sku/price at placement
// time, so historical orders are unaffected by later catalog edits.
type Product struct {
	ID          uint64    `gorm:"primaryKey" json:"id"`
	SKU         string    `gorm:"type:varchar(50);uniqueIndex;not null" json:"sku"`
	Name        string    `gorm:"type:varchar(255);not null" json:"name"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	PriceCents  int64     `gorm:"not null;check:price_cents >= 0" json:"price_cents"`
	Currency    string    `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"` // ISO 4217
	Active      bool      `gorm:"not null;index" json:"active"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (Product) TableName() string { return "products" }

// ProductCategory is the products<->categories junction
type ProductCategory struct {
	ProductID  uint64    `gorm:"primaryKey;autoIncrement:false" json:"product_id"`
	CategoryID uint64    `gorm:"primaryKey;autoIncrement:false" json:"category_id"`
	Product    *Product  `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Category   *Category `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

func (ProductCategory) TableName() string { return "product_categories" }

// ProductSupplier is the products<->suppliers junction
type ProductSupplier struct {
	ProductID    uint64    `gorm:"primaryKey;autoIncrement:false" json:"product_id"`
	SupplierID   uint64    `gorm:"primaryKey;autoIncrement:false" json:"supplier_id"`
	Product      *Product  `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Supplier     *Supplier `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	SupplierSKU  string    `gorm:"type:varchar(50)" json:"supplier_sku,omitempty"`
	LeadTimeDays int32     `gorm:"not null;default:0" json:"lead_time_days"`
}

func (ProductSupplier) TableName() string { return "product_suppliers" }

// InventoryRecord holds the on-hand and reserved counters for one
// (product, location) pair. Available-to-sell = Quantity - Reserved.
// Only internal/ledger mutates these counters.
type InventoryRecord struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	ProductID uint64    `gorm:"uniqueIndex:idx_inventory_product_location;not null" json:"product_id"`
	Product   *Product  `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Location  string    `gorm:"type:varchar(100);uniqueIndex:idx_inventory_product_location;not null" json:"location"`
	Quantity  int64     `gorm:"not null;default:0;check:quantity >= 0" json:"quantity"`
	Reserved  int64     `gorm:"not null;default:0;check:reserved >= 0 AND reserved <= quantity" json:"reserved"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (InventoryRecord) TableName() string { return "inventory" }

// StockMovement is one append-only audit entry. Every counter mutation on an
// InventoryRecord writes exactly one movement in the same transaction, and
// folding all movements for a (product, location) pair reproduces the
// record's current counters.
type StockMovement struct {
	ID            uint64    `gorm:"primaryKey" json:"id"`
	ProductID     uint64    `gorm:"index:idx_movements_product_location;not null" json:"product_id"`
	Location      string    `gorm:"type:varchar(100);index:idx_movements_product_location;not null" json:"location"`
	Type          string    `gorm:"type:varchar(20);not null;check:type IN ('in','out','reserved','unreserved','adjustment')" json:"type"`
	QuantityDelta int64     `gorm:"not null" json:"quantity_delta"` // signed
	Reference     string    `gorm:"type:varchar(100)" json:"reference,omitempty"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
}

func (StockMovement) TableName() string { return "stock_movements" }

// StockReservation is the durable reservation handle returned by the ledger.
// Its status transitions (active -> committed | released) are compare-and-set
// so double release/commit is detected across service instances.
type StockReservation struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"` // uuid
	ProductID uint64    `gorm:"index;not null" json:"product_id"`
	Location  string    `gorm:"type:varchar(100);not null" json:"location"`
	Quantity  int64     `gorm:"not null;check:quantity > 0" json:"quantity"`
	OrderID   *uint64   `gorm:"index" json:"order_id,omitempty"`
	Reference string    `gorm:"type:varchar(100)" json:"reference,omitempty"`
	Status    string    `gorm:"type:varchar(20);not null;default:'active';check:status IN ('active','committed','released')" json:"status"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (StockReservation) TableName() string { return "stock_reservations" }

// Coupon is a discount code. UsedCount only grows, only on successful order
// placement, and never past UsageLimit when a limit is set.
type Coupon struct {
	ID            uint64    `gorm:"primaryKey" json:"id"`
	Code          string    `gorm:"type:varchar(50);uniqueIndex;not null" json:"code"`
	DiscountType  string    `gorm:"type:varchar(10);not null;check:discount_type IN ('percent','fixed')" json:"discount_type"`
	DiscountValue int64     `gorm:"not null;check:discount_value >= 0" json:"discount_value"` // percent points or cents
	MinOrderCents int64     `gorm:"not null;default:0" json:"min_order_cents"`
	ValidFrom     time.Time `gorm:"not null" json:"valid_from"`
	ValidUntil    time.Time `gorm:"not null" json:"valid_until"`
	UsageLimit    *int64    `json:"usage_limit,omitempty"` // nil = unlimited
	UsedCount     int64     `gorm:"not null;default:0;check:used_count >= 0" json:"used_count"`
	Active        bool      `gorm:"not null" json:"active"`
}

func (Coupon) TableName() string { return "coupons" }

// Order is the aggregate root of the order lifecycle
type Order struct {
	ID                uint64      `gorm:"primaryKey" json:"id"`
	Number            string      `gorm:"type:varchar(36);uniqueIndex;not null" json:"number"`
	CustomerID        uint64      `gorm:"index;not null" json:"customer_id"`
	Customer          *Customer   `gorm:"constraint:OnDelete:RESTRICT" json:"-"`
	ShippingAddressID uint64      `gorm:"not null" json:"shipping_address_id"`
	BillingAddressID  uint64      `gorm:"not null" json:"billing_address_id"`
	Status            string      `gorm:"type:varchar(20);not null;default:'pending';index;check:status IN ('pending','paid','shipped','delivered','cancelled','refunded')" json:"status"`
	Currency          string      `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	SubtotalCents     int64       `gorm:"not null;check:subtotal_cents >= 0" json:"subtotal_cents"`
	ShippingCents     int64       `gorm:"not null;default:0;check:shipping_cents >= 0" json:"shipping_cents"`
	DiscountCents     int64       `gorm:"not null;default:0;check:discount_cents >= 0" json:"discount_cents"`
	TotalCents        int64       `gorm:"not null;check:total_cents = subtotal_cents + shipping_cents - discount_cents AND total_cents >= 0" json:"total_cents"`
	CouponID          *uint64     `json:"coupon_id,omitempty"`
	Coupon            *Coupon     `gorm:"constraint:OnDelete:SET NULL" json:"-"`
	Items             []OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"`
	PlacedAt          time.Time   `gorm:"not null" json:"placed_at"`
	UpdatedAt         time.Time   `gorm:"not null" json:"updated_at"`
	ShippedAt         *time.Time  `json:"shipped_at,omitempty"`
	DeliveredAt       *time.Time  `json:"delivered_at,omitempty"`
}

func (Order) TableName() string { return "orders" }

// OrderItem is an immutable snapshot of one order line. ItemID is the
// insertion sequence within its order, not a global counter.
type OrderItem struct {
	OrderID         uint64 `gorm:"primaryKey;autoIncrement:false" json:"order_id"`
	ItemID          int32  `gorm:"primaryKey;autoIncrement:false" json:"item_id"`
	ProductID       uint64 `gorm:"not null" json:"product_id"`
	ProductName     string `gorm:"type:varchar(255);not null" json:"product_name"`
	SKU             string `gorm:"type:varchar(50);not null" json:"sku"`
	UnitPriceCents  int64  `gorm:"not null;check:unit_price_cents >= 0" json:"unit_price_cents"`
	Quantity        int32  `gorm:"not null;check:quantity > 0" json:"quantity"`
	TotalPriceCents int64  `gorm:"not null;check:total_price_cents = unit_price_cents * quantity" json:"total_price_cents"`
}

func (OrderItem) TableName() string { return "order_items" }

// Payment is one external payment attempt against an order. At most one may
// be completed, and duplicate provider notifications must map to the same row
// (unique on provider + provider_payment_id).
type Payment struct {
	ID                uint64     `gorm:"primaryKey" json:"id"`
	OrderID           uint64     `gorm:"index;not null" json:"order_id"`
	Order             *Order     `gorm:"constraint:OnDelete:RESTRICT" json:"-"`
	Provider          string     `gorm:"type:varchar(50);uniqueIndex:idx_payments_provider_ref;not null" json:"provider"`
	ProviderPaymentID string     `gorm:"type:varchar(100);uniqueIndex:idx_payments_provider_ref;not null" json:"provider_payment_id"`
	AmountCents       int64      `gorm:"not null;check:amount_cents >= 0" json:"amount_cents"`
	Currency          string     `gorm:"type:varchar(3);not null" json:"currency"`
	Status            string     `gorm:"type:varchar(20);not null;default:'pending';check:status IN ('pending','completed','failed','refunded')" json:"status"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	CreatedAt         time.Time  `gorm:"not null" json:"created_at"`
}

func (Payment) TableName() string { return "payments" }

// ProductReview is a customer rating of a product
type ProductReview struct {
	ID         uint64    `gorm:"primaryKey" json:"id"`
	ProductID  uint64    `gorm:"uniqueIndex:idx_reviews_product_customer;not null" json:"product_id"`
	Product    *Product  `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CustomerID uint64    `gorm:"uniqueIndex:idx_reviews_product_customer;not null" json:"customer_id"`
	Customer   *Customer `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Rating     int32     `gorm:"not null;check:rating BETWEEN 1 AND 5" json:"rating"`
	Comment    string    `gorm:"type:text" json:"comment,omitempty"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

func (ProductReview) TableName() string { return "product_reviews" }

// PurchaseOrder is an inbound replenishment order to a supplier
type PurchaseOrder struct {
	ID         uint64              `gorm:"primaryKey" json:"id"`
	Number     string              `gorm:"type:varchar(36);uniqueIndex;not null" json:"number"`
	SupplierID uint64              `gorm:"index;not null" json:"supplier_id"`
	Supplier   *Supplier           `gorm:"constraint:OnDelete:RESTRICT" json:"-"`
	Status     string              `gorm:"type:varchar(30);not null;default:'pending';check:status IN ('pending','partially_received','received','cancelled')" json:"status"`
	Items      []PurchaseOrderItem `gorm:"foreignKey:PurchaseOrderID" json:"items,omitempty"`
	CreatedAt  time.Time           `gorm:"not null" json:"created_at"`
	ReceivedAt *time.Time          `json:"received_at,omitempty"`
}

func (PurchaseOrder) TableName() string { return "purchase_orders" }

// PurchaseOrderItem is one line of a purchase order. ItemID is the insertion
// sequence within its purchase order.
type PurchaseOrderItem struct {
	PurchaseOrderID  uint64 `gorm:"primaryKey;autoIncrement:false" json:"purchase_order_id"`
	ItemID           int32  `gorm:"primaryKey;autoIncrement:false" json:"item_id"`
	ProductID        uint64 `gorm:"not null" json:"product_id"`
	QuantityOrdered  int32  `gorm:"not null;check:quantity_ordered > 0" json:"quantity_ordered"`
	QuantityReceived int32  `gorm:"not null;default:0;check:quantity_received >= 0" json:"quantity_received"`
	UnitCostCents    int64  `gorm:"not null;check:unit_cost_cents >= 0" json:"unit_cost_cents"`
}

func (PurchaseOrderItem) TableName() string { return "purchase_order_items" }
