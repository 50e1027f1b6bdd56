package fnb

import "time"

// Entry statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
)

// CostEntry is a single food & beverage cost line recorded for a
// property on a business day. Amounts are stored in minor units.
type CostEntry struct {
	ID          int64     `json:"id"`
	PropertyID  int64     `json:"property_id"`
	Day         string    `json:"day"`
	Category    string    `json:"category"`
	Description string    `json:"description,omitempty"`
	AmountMinor int64     `json:"amount_minor"`
	Status      string    `json:"status"`
	EnteredBy   int64     `json:"entered_by"`
	ApprovedBy  *int64    `json:"approved_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DailySummary is the aggregated read model per property and day.
type DailySummary struct {
	PropertyID     int64            `json:"property_id"`
	Day            string           `json:"day"`
	TotalMinor     int64            `json:"total_minor"`
	TotalFormatted string           `json:"total_formatted"`
	EntryCount     int              `json:"entry_count"`
	ByCategory     map[string]int64 `json:"by_category"`
	RecalculatedAt time.Time        `json:"recalculated_at"`
}
