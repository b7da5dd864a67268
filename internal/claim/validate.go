package claim

import (
	"fmt"
	"strings"
)

// ValidationResult is the outcome of the pre-flight gate. It is either empty (the batch
// may be encoded) or lists every violation found across the whole batch.
type ValidationResult struct {
	Violations []string `json:"violations,omitempty"`
}

// OK reports whether the batch passed
func (r ValidationResult) OK() bool {
	return len(r.Violations) == 0
}

// Err returns a *ValidationError when the batch failed, nil otherwise.
func (r ValidationResult) Err() error {
	if r.OK() {
		return nil
	}
	v := make([]string, len(r.Violations))
	copy(v, r.Violations)
	return &ValidationError{Violations: v}
}

// ValidationError carries the aggregated violations of a failed batch
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 1 {
		return "validation failed: " + e.Violations[0]
	}
	return fmt.Sprintf("validation failed with %d violations: %s", len(e.Violations), strings.Join(e.Violations, "; "))
}

// Validate runs every rule over every encounter and collects all violations. It never
// stops at the first failure.
func Validate(encounters []Encounter, org *Organization) ValidationResult {
	var res ValidationResult
	if len(encounters) == 0 {
		res.add("batch contains no encounters")
		return res
	}

	seen := make(map[string]int, len(encounters))
	for i, enc := range encounters {
		label := encounterLabel(enc, i)
		res.checkEncounter(label, enc, org)

		// The encounter id keys the transaction control number and fills BHT03
		id := strings.TrimSpace(enc.ID)
		if id == "" {
			res.add("%s: encounter id is required", label)
		} else if first, dup := seen[id]; dup {
			res.add("%s: duplicate encounter id (first seen at position %d)", label, first+1)
		} else {
			seen[id] = i
		}
	}
	return res
}

func (r *ValidationResult) checkEncounter(label string, enc Encounter, org *Organization) {
	if enc.Patient == nil {
		r.add("%s: patient is required", label)
	}

	if enc.RenderingProvider == nil {
		r.add("%s: rendering provider is required", label)
	} else if blank(enc.RenderingProvider.NPI) {
		r.add("%s: rendering provider NPI is required", label)
	}

	if len(enc.DiagnosisCodes) == 0 {
		r.add("%s: at least one diagnosis code is required", label)
	}

	if len(enc.Lines) == 0 {
		r.add("%s: at least one procedure line is required", label)
	}
	for n, line := range enc.Lines {
		if blank(line.ProcedureCode) {
			r.add("%s: line %d has no procedure code", label, n+1)
		}
	}

	if org == nil {
		r.add("%s: billing organization is required", label)
	} else {
		if !org.Address.Complete() {
			r.add("%s: organization billing address (street and city) is required", label)
		}
		if blank(org.NPI) {
			r.add("%s: organization billing NPI is required", label)
		}
	}

	for _, code := range UnpairedAdministration(enc.Lines) {
		r.add("%s: administration code %s requires a drug-supply code on the same claim", label, code)
	}

	if enc.AccidentFlagged() && !enc.HasDateOfService() {
		r.add("%s: date of service is required when an accident is indicated", label)
	}

	for n, line := range enc.Lines {
		if line.Units < 1 {
			r.add("%s: line %d unit count must be at least 1", label, n+1)
		}
	}

	if len(enc.DiagnosisCodes) > MaxDiagnoses {
		r.add("%s: %d diagnosis codes exceeds the maximum of %d", label, len(enc.DiagnosisCodes), MaxDiagnoses)
	}

	if c := enc.Coverage; c != nil {
		if blank(c.PayerName) || blank(c.PayerID) {
			r.add("%s: coverage payer name and payer id are required", label)
		}
		if blank(c.MemberID) {
			r.add("%s: coverage member id is required", label)
		}
	}
}

func (r *ValidationResult) add(format string, args ...interface{}) {
	r.Violations = append(r.Violations, fmt.Sprintf(format, args...))
}

func encounterLabel(enc Encounter, i int) string {
	if blank(enc.ID) {
		return fmt.Sprintf("encounter #%d", i+1)
	}
	return "encounter " + enc.ID
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
