package quote

import (
	"log"
	"strings"
	"time"
)

// QuoteType identifies which of the three independent drafts a record
// belongs to.
type QuoteType string

const (
	TypeSend     QuoteType = "send"
	TypeReceive  QuoteType = "receive"
	TypeRemovals QuoteType = "removals"
)

// DefaultType is what unrecognized type tags from the backend are coerced
// to. Coercion is logged so a data-integrity problem upstream is visible.
const DefaultType = TypeSend

// AllTypes returns the closed set of quote types in a stable order.
func AllTypes() []QuoteType {
	return []QuoteType{TypeSend, TypeReceive, TypeRemovals}
}

// NormalizeType maps a backend type tag onto the closed QuoteType set.
// Matching is case-insensitive; anything unrecognized becomes DefaultType.
func NormalizeType(tag string) QuoteType {
	switch QuoteType(strings.ToLower(strings.TrimSpace(tag))) {
	case TypeSend:
		return TypeSend
	case TypeReceive:
		return TypeReceive
	case TypeRemovals:
		return TypeRemovals
	}
	log.Printf("quote: unrecognized quote type tag %q, coercing to %q", tag, DefaultType)
	return DefaultType
}

// IsValidType reports whether t is one of the three known quote types.
func IsValidType(t QuoteType) bool {
	return t == TypeSend || t == TypeReceive || t == TypeRemovals
}

// InventoryItem is a single line item in a quote's inventory.
type InventoryItem struct {
	Name     string  `json:"name"`
	LengthCm float64 `json:"lengthCm"`
	WidthCm  float64 `json:"widthCm"`
	HeightCm float64 `json:"heightCm"`
	Quantity int     `json:"quantity"`
}

// Address is an origin or destination of a quote.
type Address struct {
	Line1       string `json:"line1"`
	Line2       string `json:"line2,omitempty"`
	City        string `json:"city"`
	Postcode    string `json:"postcode"`
	Floor       int    `json:"floor"`
	HasElevator bool   `json:"hasElevator"`
}

// Schedule carries the collection/delivery timing fields of a quote.
type Schedule struct {
	CollectionDate *time.Time `json:"collectionDate,omitempty"`
	DeliveryDate   *time.Time `json:"deliveryDate,omitempty"`
	Hours          int        `json:"hours,omitempty"`
	FlexibleTime   bool       `json:"flexibleTime,omitempty"`
	TimeSlot       string     `json:"timeSlot,omitempty"`
}

// PaymentStatus is the lifecycle state of a quote's payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Payment is the payment sub-record of a quote. The browser can observe a
// payment-provider redirect outcome before the backend does, so this
// sub-record gets special treatment in Merge.
type Payment struct {
	Status          PaymentStatus `json:"status,omitempty"`
	PaymentType     string        `json:"paymentType,omitempty"`
	DepositAmount   float64       `json:"depositAmount,omitempty"`
	PaymentIntentID string        `json:"paymentIntentId,omitempty"`
	BookingID       string        `json:"bookingId,omitempty"`
}

// PricingSnapshot caches a third-party pricing response so repeat
// navigations do not refetch it.
type PricingSnapshot struct {
	Rates     map[string]float64 `json:"rates,omitempty"`
	FetchedAt time.Time          `json:"fetchedAt"`
	MaxAge    time.Duration      `json:"maxAge"`
}

// Fresh reports whether the snapshot is still within its max age at now.
func (p *PricingSnapshot) Fresh(now time.Time) bool {
	if p == nil || p.FetchedAt.IsZero() {
		return false
	}
	return now.Sub(p.FetchedAt) <= p.MaxAge
}

// QuoteRecord is one in-progress draft. Reference is assigned by the
// backend exactly once and never fabricated locally.
type QuoteRecord struct {
	Reference      string           `json:"reference,omitempty"`
	Items          []InventoryItem  `json:"items,omitempty"`
	Origin         *Address         `json:"origin,omitempty"`
	Destination    *Address         `json:"destination,omitempty"`
	DistanceMiles  float64          `json:"distanceMiles,omitempty"`
	DriverCount    int              `json:"driverCount,omitempty"`
	DismantleCount int              `json:"numberOfItemsToDismantle,omitempty"`
	AssembleCount  int              `json:"numberOfItemsToAssemble,omitempty"`
	Schedule       Schedule         `json:"schedule,omitempty"`
	PricingTier    string           `json:"pricingTier,omitempty"`
	TotalCost      float64          `json:"totalCost,omitempty"`
	Pricing        *PricingSnapshot `json:"pricing,omitempty"`
	Payment        *Payment         `json:"payment,omitempty"`
}

// NewSkeleton builds the empty record installed when a quote type is first
// activated. The reference comes from the backend's select call.
func NewSkeleton(reference string) *QuoteRecord {
	return &QuoteRecord{Reference: reference}
}

// Clone returns a deep copy of the record. nil in, nil out.
func (r *QuoteRecord) Clone() *QuoteRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.Items != nil {
		out.Items = make([]InventoryItem, len(r.Items))
		copy(out.Items, r.Items)
	}
	if r.Origin != nil {
		origin := *r.Origin
		out.Origin = &origin
	}
	if r.Destination != nil {
		dest := *r.Destination
		out.Destination = &dest
	}
	if r.Schedule.CollectionDate != nil {
		d := *r.Schedule.CollectionDate
		out.Schedule.CollectionDate = &d
	}
	if r.Schedule.DeliveryDate != nil {
		d := *r.Schedule.DeliveryDate
		out.Schedule.DeliveryDate = &d
	}
	if r.Pricing != nil {
		pricing := *r.Pricing
		if r.Pricing.Rates != nil {
			pricing.Rates = make(map[string]float64, len(r.Pricing.Rates))
			for k, v := range r.Pricing.Rates {
				pricing.Rates[k] = v
			}
		}
		out.Pricing = &pricing
	}
	if r.Payment != nil {
		payment := *r.Payment
		out.Payment = &payment
	}
	return &out
}
