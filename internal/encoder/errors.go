package encoder

import "fmt"

// Hard encoding fault codes
const (
	CodeEmptyBatch               = "EMPTY_BATCH"
	CodeMissingOrganization      = "MISSING_ORGANIZATION"
	CodeMissingBillingNPI        = "MISSING_BILLING_NPI"
	CodeMissingRenderingProvider = "MISSING_RENDERING_PROVIDER"
	CodeMissingPatient           = "MISSING_PATIENT"
	CodeMissingPatientDOB        = "MISSING_PATIENT_DOB"
	CodeMissingServiceDate       = "MISSING_SERVICE_DATE"
	CodeMissingDiagnosis         = "MISSING_DIAGNOSIS"
	CodeDrugLineMismatch         = "DRUG_LINE_MISMATCH"
	CodeInvalidControlState      = "INVALID_CONTROL_STATE"
	CodeInvalidHierarchy         = "INVALID_HIERARCHY"
)

// EncodeError is a hard fault: correct encoding is impossible even though the
// pre-flight gate passed. The whole run is aborted and no content is returned.
type EncodeError struct {
	EncounterID string
	Field       string
	Code        string
	Message     string
	Cause       error
}

func (e *EncodeError) Error() string {
	prefix := e.Field
	if e.EncounterID != "" {
		prefix = fmt.Sprintf("encounter %s: %s", e.EncounterID, e.Field)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%s)", prefix, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *EncodeError) Unwrap() error {
	return e.Cause
}

func fault(encounterID, field, code, message string) *EncodeError {
	return &EncodeError{EncounterID: encounterID, Field: field, Code: code, Message: message}
}
