package shipment

import (
	"encoding/json"
	"time"

	"github.com/jmerrifield20/ParcelLedger/internal/chain"
)

// Well-known states. Any other non-empty state string is accepted as an
// in-transit update.
const (
	StateAtOrigin = "At origin city"
	StateReceived = "Received"
)

// Details describes the parcel as captured at registration.
type Details struct {
	Recipient   string  `json:"recipient" binding:"required"`
	Origin      string  `json:"origin" binding:"required"`
	Destination string  `json:"destination" binding:"required"`
	Value       float64 `json:"value" binding:"gte=0"`
	Description string  `json:"description"`
	Dimensions  string  `json:"dimensions"`
	Weight      float64 `json:"weight" binding:"gte=0"`
}

// Status is one entry of a shipment's history sub-ledger.
type Status struct {
	State       string `json:"state" binding:"required"`
	CurrentCity string `json:"currentCity,omitempty"`

	// Set only on delivery confirmation.
	PackageCondition string   `json:"packageCondition,omitempty"`
	AmountPaid       *float64 `json:"amountPaid,omitempty"`
	VerifiedAt       string   `json:"verifiedAt,omitempty"`
}

// Shipment is the tracking view of one registered shipment.
type Shipment struct {
	// TrackingCode is the hash of the shipment's top-level record.
	TrackingCode string          `json:"trackingCode"`
	Sequence     uint64          `json:"sequence"`
	RegisteredAt time.Time       `json:"registeredAt"`
	Details      Details         `json:"shipment"`
	Latest       Status          `json:"latest"`
	History      []*chain.Record `json:"history"`
}

// Summary is a compact listing row.
type Summary struct {
	TrackingCode string    `json:"trackingCode"`
	Sequence     uint64    `json:"sequence"`
	RegisteredAt time.Time `json:"registeredAt"`
	Recipient    string    `json:"recipient"`
	Destination  string    `json:"destination"`
	State        string    `json:"state"`
	CurrentCity  string    `json:"currentCity,omitempty"`
	Updates      int       `json:"updates"`
}

// payload is the value appended to the top-level ledger per shipment.
type payload struct {
	Shipment Details       `json:"shipment"`
	History  *chain.Ledger `json:"history"`
}

// rawPayload keeps the shipment details as stored, for hash verification.
type rawPayload struct {
	Shipment json.RawMessage `json:"shipment"`
	History  *chain.Ledger   `json:"history"`
}

// Genesis is the payload of the top-level genesis record.
type Genesis struct {
	Message string `json:"message"`
}
