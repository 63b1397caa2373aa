package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderPlacedEvent is the message payload published by the order service when
// checkout completes. It carries exactly the fields the settlement engine
// needs to open a ledger entry.
type OrderPlacedEvent struct {
	OrderID    uuid.UUID       `json:"order_id"`
	SellerID   uuid.UUID       `json:"seller_id"`
	GrossValue decimal.Decimal `json:"gross_value"`
	Modality   string          `json:"modality"`
}
