package health

import (
	"encoding/json"
	"fmt"
)

// ClinicalFields are the domain fields extracted from a clinical record's
// raw payload before upload.
type ClinicalFields struct {
	ResourceType string `json:"resourceType"`
	ResourceID   string `json:"id"`
	DisplayName  string `json:"display_name,omitempty"`
	IssuedAt     string `json:"issued,omitempty"`
}

// RecordDecoder parses a clinical record payload into domain fields. The
// engine calls it once per record; a decode failure skips that record only.
type RecordDecoder interface {
	Decode(payload json.RawMessage) (ClinicalFields, error)
}

// FHIRDecoder decodes FHIR resource payloads as exported by the device
// health-data store.
type FHIRDecoder struct{}

// NewFHIRDecoder creates a FHIRDecoder
func NewFHIRDecoder() *FHIRDecoder {
	return &FHIRDecoder{}
}

type fhirResource struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id"`
	Issued       string `json:"issued"`
	Code         struct {
		Text string `json:"text"`
	} `json:"code"`
}

// Decode extracts the resource type, ID, display name, and issue date from
// a FHIR payload.
func (d *FHIRDecoder) Decode(payload json.RawMessage) (ClinicalFields, error) {
	if len(payload) == 0 {
		return ClinicalFields{}, fmt.Errorf("empty clinical payload")
	}

	var res fhirResource
	if err := json.Unmarshal(payload, &res); err != nil {
		return ClinicalFields{}, fmt.Errorf("parsing clinical payload: %w", err)
	}
	if res.ResourceType == "" {
		return ClinicalFields{}, fmt.Errorf("clinical payload missing resourceType")
	}

	return ClinicalFields{
		ResourceType: res.ResourceType,
		ResourceID:   res.ID,
		DisplayName:  res.Code.Text,
		IssuedAt:     res.Issued,
	}, nil
}
