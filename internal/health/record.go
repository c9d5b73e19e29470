package health

import (
	"encoding/json"
	"time"
)

// TimeFormat is the wire format for timestamps: ISO-8601 with fractional
// seconds, matching what the Hale server expects.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// DayFormat is the wire format for civil dates in daily summaries.
const DayFormat = "2006-01-02"

// Record is a single record delivered by the data provider. Family-specific
// fields are optional: numeric samples carry Value/Unit, categorical samples
// carry Category, workouts carry ActivityType and energy/distance totals,
// clinical records carry the raw Payload.
type Record struct {
	ID       string
	TypeID   string
	Type     RecordType
	Start    time.Time
	End      time.Time
	Value    float64
	Unit     string
	Category string

	// Workout fields
	ActivityType  string
	TotalEnergy   float64
	TotalDistance float64

	// Clinical record payload, decoded lazily by a RecordDecoder
	Payload json.RawMessage

	Metadata map[string]any
}

// RecordPayload is the JSON shape of one record as uploaded to the server
type RecordPayload struct {
	ID            string          `json:"id"`
	TypeID        string          `json:"type_id"`
	Start         string          `json:"start"`
	End           string          `json:"end,omitempty"`
	Value         float64         `json:"value,omitempty"`
	Unit          string          `json:"unit,omitempty"`
	Category      string          `json:"category,omitempty"`
	ActivityType  string          `json:"activity_type,omitempty"`
	TotalEnergy   float64         `json:"total_energy,omitempty"`
	TotalDistance float64         `json:"total_distance,omitempty"`
	Clinical      json.RawMessage `json:"clinical,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
}

// NewRecordPayload converts a provider record to its upload shape
func NewRecordPayload(r Record) RecordPayload {
	p := RecordPayload{
		ID:            r.ID,
		TypeID:        r.TypeID,
		Start:         r.Start.UTC().Format(TimeFormat),
		Value:         r.Value,
		Unit:          r.Unit,
		Category:      r.Category,
		ActivityType:  r.ActivityType,
		TotalEnergy:   r.TotalEnergy,
		TotalDistance: r.TotalDistance,
		Clinical:      r.Payload,
		Metadata:      r.Metadata,
	}
	if !r.End.IsZero() {
		p.End = r.End.UTC().Format(TimeFormat)
	}
	return p
}

// BatchPayload is the body uploaded for one batch of one record family
type BatchPayload struct {
	RecordType RecordType      `json:"record_type"`
	Context    string          `json:"context"`
	DeviceName string          `json:"device_name"`
	Added      []RecordPayload `json:"added,omitempty"`
	RemovedIDs []string        `json:"removed_ids,omitempty"`
}

// ProfilePayload is the one-shot profile snapshot uploaded per sync session
type ProfilePayload struct {
	DeviceName      string            `json:"device_name"`
	Characteristics map[string]string `json:"characteristics"`
	CollectedAt     string            `json:"collected_at"`
}

// DailySummary is one civil day's aggregated step count
type DailySummary struct {
	Date  string  `json:"date"`
	Steps float64 `json:"steps"`
}

// SummaryPayload is the derived daily-summary upload
type SummaryPayload struct {
	DeviceName string         `json:"device_name"`
	Days       []DailySummary `json:"days"`
}
