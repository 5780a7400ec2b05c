package domain

type ProductStatus string

const (
	StatusDraft     ProductStatus = "draft"
	StatusAvailable ProductStatus = "available"
	StatusReserved  ProductStatus = "reserved"
	StatusSold      ProductStatus = "sold"
)

type Product struct {
	ID          string        `db:"id" json:"id"`
	SellerID    string        `db:"seller_id" json:"sellerId"`
	Title       string        `db:"title" json:"title"`
	Description string        `db:"description" json:"description"`
	PriceCents  int64         `db:"price_cents" json:"priceCents"`
	Status      ProductStatus `db:"status" json:"status"`
	CreatedAt   string        `db:"created_at" json:"createdAt"`
	UpdatedAt   string        `db:"updated_at" json:"updatedAt,omitempty"`
	DeletedAt   string        `db:"deleted_at" json:"-"`
}

// Deleted reports whether the seller soft-deleted the listing.
func (p Product) Deleted() bool { return p.DeletedAt != "" }

type WantListStatus string

const (
	WantListActive    WantListStatus = "active"
	WantListCompleted WantListStatus = "completed"
	WantListCancelled WantListStatus = "cancelled"
)

type WantList struct {
	ID          string         `db:"id" json:"id"`
	BuyerID     string         `db:"buyer_id" json:"buyerId"`
	Status      WantListStatus `db:"status" json:"status"`
	CreatedAt   string         `db:"created_at" json:"createdAt"`
	UpdatedAt   string         `db:"updated_at" json:"updatedAt"`
	CancelledBy string         `db:"cancelled_by" json:"-"` // empty when the sweeper closed it
}

type WantListItem struct {
	ID         string `db:"id" json:"id"`
	WantListID string `db:"want_list_id" json:"wantListId"`
	ProductID  string `db:"product_id" json:"productId"`
	AddedAt    string `db:"added_at" json:"addedAt"`
}

// QueueEntry is one buyer's place in a product's interest queue.
// Position 1 is the reservation holder.
type QueueEntry struct {
	ProductID string `db:"product_id" json:"productId"`
	BuyerID   string `db:"buyer_id" json:"buyerId"`
	Position  int    `db:"position" json:"position"`
	CreatedAt string `db:"created_at" json:"createdAt"`
}

// QueuePosition is the buyer-facing view of a queue entry.
type QueuePosition struct {
	ProductID string `db:"product_id" json:"productId"`
	Position  int    `db:"position" json:"position"`
	QueueSize int    `db:"queue_size" json:"queueSize"`
}

type SalesRecord struct {
	ID          string      `db:"id" json:"id"`
	SellerID    string      `db:"seller_id" json:"sellerId,omitempty"` // empty when lines span sellers
	BuyerID     string      `db:"buyer_id" json:"buyerId"`
	WantListID  string      `db:"want_list_id" json:"wantListId"`
	TotalCents  int64       `db:"total_cents" json:"totalCents"`
	ItemCount   int         `db:"item_count" json:"itemCount"`
	CompletedAt string      `db:"completed_at" json:"completedAt"`
	Lines       []SalesLine `db:"-" json:"lines"`
}

type SalesLine struct {
	SalesRecordID string `db:"sales_record_id" json:"-"`
	ProductID     string `db:"product_id" json:"productId"`
	SellerID      string `db:"seller_id" json:"sellerId"`
	PriceCents    int64  `db:"price_cents" json:"priceCents"`
}
