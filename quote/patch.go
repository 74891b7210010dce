package quote

// RecordPatch is a shallow partial update of a QuoteRecord. A nil field
// means "leave as is"; a set field replaces the record's field wholesale.
// Reference is deliberately absent: it is backend-assigned and immutable.
type RecordPatch struct {
	Items          *[]InventoryItem
	Origin         *Address
	Destination    *Address
	DistanceMiles  *float64
	DriverCount    *int
	DismantleCount *int
	AssembleCount  *int
	Schedule       *Schedule
	PricingTier    *string
	TotalCost      *float64
	Pricing        *PricingSnapshot
	Payment        *Payment
}

// Apply shallow-merges the patch onto the record in place. Applying a
// sequence of patches is a left fold: the final record is independent of
// when persistence of intermediate states happens.
func (r *QuoteRecord) Apply(p RecordPatch) {
	if p.Items != nil {
		r.Items = *p.Items
	}
	if p.Origin != nil {
		r.Origin = p.Origin
	}
	if p.Destination != nil {
		r.Destination = p.Destination
	}
	if p.DistanceMiles != nil {
		r.DistanceMiles = *p.DistanceMiles
	}
	if p.DriverCount != nil {
		r.DriverCount = *p.DriverCount
	}
	if p.DismantleCount != nil {
		r.DismantleCount = *p.DismantleCount
	}
	if p.AssembleCount != nil {
		r.AssembleCount = *p.AssembleCount
	}
	if p.Schedule != nil {
		r.Schedule = *p.Schedule
	}
	if p.PricingTier != nil {
		r.PricingTier = *p.PricingTier
	}
	if p.TotalCost != nil {
		r.TotalCost = *p.TotalCost
	}
	if p.Pricing != nil {
		r.Pricing = p.Pricing
	}
	if p.Payment != nil {
		r.Payment = p.Payment
	}
}

// SharedData holds fields that are not tied to a single quote type.
type SharedData struct {
	CustomerEmail string `json:"customerEmail,omitempty"`
	CustomerPhone string `json:"customerPhone,omitempty"`
}

// SharedDataPatch is the shallow partial update for SharedData.
type SharedDataPatch struct {
	CustomerEmail *string
	CustomerPhone *string
}

// Apply shallow-merges the patch onto the shared data in place.
func (s *SharedData) Apply(p SharedDataPatch) {
	if p.CustomerEmail != nil {
		s.CustomerEmail = *p.CustomerEmail
	}
	if p.CustomerPhone != nil {
		s.CustomerPhone = *p.CustomerPhone
	}
}
