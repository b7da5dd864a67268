// Package submission implements the claim file aggregate: the lifecycle of one
// generated 837P interchange from generation to clearinghouse hand-off.
package submission

import (
	"encoding/json"
	"errors"
	"time"
)

// Status represents claim file status
type Status string

const (
	StatusNew          Status = "new"
	StatusRejected     Status = "rejected"
	StatusGenerated    Status = "generated"
	StatusUploaded     Status = "uploaded"
	StatusUploadFailed Status = "upload_failed"
)

// Lifecycle errors
var (
	ErrAlreadyStarted = errors.New("claim file already generated")
	ErrNotGenerated   = errors.New("claim file has not been generated")
	ErrAlreadyUpload  = errors.New("claim file already uploaded")
)

// Aggregate represents the claim file aggregate root
type Aggregate struct {
	id             string
	version        int
	status         Status
	organizationID string
	correlationID  string
	filename       string
	localPath      string
	remotePath     string
	icn            string
	transactions   int
	encounterIDs   []string
	violations     []string
	uploadAttempts int
	lastError      string
	createdAt      time.Time
	updatedAt      time.Time
	changes        []*Event
}

// NewAggregate creates a new claim file aggregate
func NewAggregate(id string) *Aggregate {
	return &Aggregate{
		id:        id,
		status:    StatusNew,
		createdAt: time.Now().UTC(),
		updatedAt: time.Now().UTC(),
		changes:   make([]*Event, 0),
	}
}

// ID returns the aggregate ID
func (a *Aggregate) ID() string { return a.id }

// Version returns the current version
func (a *Aggregate) Version() int { return a.version }

// Status returns the current status
func (a *Aggregate) Status() Status { return a.status }

// OrganizationID returns the billing organization
func (a *Aggregate) OrganizationID() string { return a.organizationID }

// Filename returns the generated file name
func (a *Aggregate) Filename() string { return a.filename }

// LocalPath returns where the generated file was written
func (a *Aggregate) LocalPath() string { return a.localPath }

// RemotePath returns the clearinghouse path once uploaded
func (a *Aggregate) RemotePath() string { return a.remotePath }

// InterchangeControlNumber returns ISA13 of the generated file
func (a *Aggregate) InterchangeControlNumber() string { return a.icn }

// TransactionCount returns the number of transaction sets in the file
func (a *Aggregate) TransactionCount() int { return a.transactions }

// EncounterIDs returns the encounters in the batch
func (a *Aggregate) EncounterIDs() []string { return a.encounterIDs }

// Violations returns the validation violations of a rejected batch
func (a *Aggregate) Violations() []string { return a.violations }

// UploadAttempts returns the number of upload attempts so far
func (a *Aggregate) UploadAttempts() int { return a.uploadAttempts }

// LastError returns the most recent upload error
func (a *Aggregate) LastError() string { return a.lastError }

// UpdatedAt returns the time of the last applied event
func (a *Aggregate) UpdatedAt() time.Time { return a.updatedAt }

// Changes returns uncommitted events
func (a *Aggregate) Changes() []*Event { return a.changes }

// ClearChanges clears uncommitted events
func (a *Aggregate) ClearChanges() { a.changes = make([]*Event, 0) }

// SetCorrelationID tags every subsequent event
func (a *Aggregate) SetCorrelationID(id string) { a.correlationID = id }

// Reject records a batch that failed validation or hit a hard encoding fault. A batch
// that was rejected before may be rejected again.
func (a *Aggregate) Reject(data *BatchRejectedData) error {
	if !a.Retryable() {
		return ErrAlreadyStarted
	}
	data.ClaimFileID = a.id
	return a.record(EventBatchRejected, data.OrganizationID, data)
}

// Generate records a successfully generated claim file, including a corrected
// resubmission of a rejected batch.
func (a *Aggregate) Generate(data *ClaimFileGeneratedData) error {
	if !a.Retryable() {
		return ErrAlreadyStarted
	}
	data.ClaimFileID = a.id
	return a.record(EventClaimFileGenerated, data.OrganizationID, data)
}

// Retryable reports whether the batch may still go through generation: it is new or
// its last attempt was rejected.
func (a *Aggregate) Retryable() bool {
	return a.status == StatusNew || a.status == StatusRejected
}

// MarkUploaded records a completed transfer
func (a *Aggregate) MarkUploaded(remotePath string, bytes int64) error {
	switch a.status {
	case StatusGenerated, StatusUploadFailed:
	case StatusUploaded:
		return ErrAlreadyUpload
	default:
		return ErrNotGenerated
	}
	return a.record(EventClaimFileUploaded, a.organizationID, &ClaimFileUploadedData{
		ClaimFileID: a.id,
		RemotePath:  remotePath,
		Bytes:       bytes,
		Attempt:     a.uploadAttempts + 1,
		UploadedAt:  time.Now().UTC(),
	})
}

// MarkUploadFailed records a failed transfer; the file stays eligible for another attempt
func (a *Aggregate) MarkUploadFailed(cause error) error {
	switch a.status {
	case StatusGenerated, StatusUploadFailed:
	case StatusUploaded:
		return ErrAlreadyUpload
	default:
		return ErrNotGenerated
	}
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return a.record(EventClaimFileUploadFail, a.organizationID, &ClaimFileUploadFailedData{
		ClaimFileID: a.id,
		Error:       msg,
		Attempt:     a.uploadAttempts + 1,
		FailedAt:    time.Now().UTC(),
	})
}

func (a *Aggregate) record(eventType EventType, organizationID string, data interface{}) error {
	event, err := NewEvent(a.id, eventType, data)
	if err != nil {
		return err
	}
	event.WithCorrelation(a.correlationID, organizationID)

	a.apply(event)
	a.changes = append(a.changes, event)
	return nil
}

// apply applies an event to update state
func (a *Aggregate) apply(event *Event) {
	a.version++
	a.updatedAt = event.Timestamp

	switch event.EventType {
	case EventBatchRejected:
		var data BatchRejectedData
		if json.Unmarshal(event.EventData, &data) != nil {
			return
		}
		a.status = StatusRejected
		a.organizationID = data.OrganizationID
		a.encounterIDs = data.EncounterIDs
		a.violations = data.Violations
		if data.Fault != "" {
			a.violations = append(a.violations, data.Fault)
		}
	case EventClaimFileGenerated:
		var data ClaimFileGeneratedData
		if json.Unmarshal(event.EventData, &data) != nil {
			return
		}
		a.status = StatusGenerated
		a.violations = nil
		a.organizationID = data.OrganizationID
		a.filename = data.Filename
		a.localPath = data.LocalPath
		a.icn = data.InterchangeControlNumber
		a.transactions = data.TransactionCount
		a.encounterIDs = data.EncounterIDs
	case EventClaimFileUploaded:
		var data ClaimFileUploadedData
		if json.Unmarshal(event.EventData, &data) != nil {
			return
		}
		a.status = StatusUploaded
		a.remotePath = data.RemotePath
		a.uploadAttempts = data.Attempt
		a.lastError = ""
	case EventClaimFileUploadFail:
		var data ClaimFileUploadFailedData
		if json.Unmarshal(event.EventData, &data) != nil {
			return
		}
		a.status = StatusUploadFailed
		a.uploadAttempts = data.Attempt
		a.lastError = data.Error
	}
}

// LoadFromHistory rebuilds state from events
func (a *Aggregate) LoadFromHistory(events []*Event) {
	for _, event := range events {
		a.apply(event)
		if a.correlationID == "" {
			a.correlationID = event.CorrelationID
		}
	}
	if len(events) > 0 {
		a.createdAt = events[0].Timestamp
	}
}
