package submission

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event
type EventType string

const (
	EventBatchRejected       EventType = "ClaimBatchRejected"
	EventClaimFileGenerated  EventType = "ClaimFileGenerated"
	EventClaimFileUploaded   EventType = "ClaimFileUploaded"
	EventClaimFileUploadFail EventType = "ClaimFileUploadFailed"
)

// AggregateType is stored with every event and outbox entry
const AggregateType = "ClaimFile"

// Event represents a domain event. Payloads carry identifiers and counts only, never
// patient demographics.
type Event struct {
	ID             string          `json:"id"`
	AggregateID    string          `json:"aggregate_id"`
	AggregateType  string          `json:"aggregate_type"`
	EventType      EventType       `json:"event_type"`
	EventData      json.RawMessage `json:"event_data"`
	Version        int             `json:"version"`
	Timestamp      time.Time       `json:"timestamp"`
	OrganizationID string          `json:"organization_id,omitempty"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
}

// NewEvent creates a new event
func NewEvent(aggregateID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: AggregateType,
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// BatchRejectedData lists the violations of a batch that never reached the encoder
type BatchRejectedData struct {
	ClaimFileID    string   `json:"claim_file_id"`
	OrganizationID string   `json:"organization_id"`
	EncounterIDs   []string `json:"encounter_ids"`
	Violations     []string `json:"violations,omitempty"`
	Fault          string   `json:"fault,omitempty"`
	FaultCode      string   `json:"fault_code,omitempty"`
}

// ClaimFileGeneratedData describes a generated interchange
type ClaimFileGeneratedData struct {
	ClaimFileID              string    `json:"claim_file_id"`
	OrganizationID           string    `json:"organization_id"`
	Filename                 string    `json:"filename"`
	LocalPath                string    `json:"local_path"`
	ContentSHA256            string    `json:"content_sha256"`
	InterchangeControlNumber string    `json:"interchange_control_number"`
	GroupControlNumber       string    `json:"group_control_number"`
	TransactionCount         int       `json:"transaction_count"`
	EncounterIDs             []string  `json:"encounter_ids"`
	ZeroPricedLines          int       `json:"zero_priced_lines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

// ClaimFileUploadedData records a completed clearinghouse transfer
type ClaimFileUploadedData struct {
	ClaimFileID string    `json:"claim_file_id"`
	RemotePath  string    `json:"remote_path"`
	Bytes       int64     `json:"bytes"`
	Attempt     int       `json:"attempt"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// ClaimFileUploadFailedData records a failed transfer attempt
type ClaimFileUploadFailedData struct {
	ClaimFileID string    `json:"claim_file_id"`
	Error       string    `json:"error"`
	Attempt     int       `json:"attempt"`
	FailedAt    time.Time `json:"failed_at"`
}

// WithCorrelation sets the correlation id and organization
func (e *Event) WithCorrelation(correlationID, organizationID string) *Event {
	e.CorrelationID = correlationID
	e.OrganizationID = organizationID
	return e
}

func marshalEvent(e *Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", e.EventType, err)
	}
	return b, nil
}
