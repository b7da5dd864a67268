// Package claim holds the read-only billing snapshots consumed by the 837P encoder,
// the drug administration/supply classification and the pre-flight validation gate.
package claim

import (
	"strings"

	"github.com/drfirst/go-edi837/internal/x12"
)

// PricingRule tells how a resolved unit price becomes a line charge
type PricingRule string

const (
	RuleFlat    PricingRule = "flat"
	RulePerUnit PricingRule = "per-unit"
)

// Relationship of the patient to the subscriber
type Relationship string

const (
	RelationshipSelf   Relationship = "self"
	RelationshipSpouse Relationship = "spouse"
	RelationshipChild  Relationship = "child"
	RelationshipOther  Relationship = "other"
)

// Normalize lower-cases and trims the relationship so "SELF" and " Self" compare equal
func (r Relationship) Normalize() Relationship {
	return Relationship(strings.ToLower(strings.TrimSpace(string(r))))
}

// TaxIDType qualifies Organization.TaxID
type TaxIDType string

const (
	TaxIDEIN TaxIDType = "EIN"
	TaxIDSSN TaxIDType = "SSN"
)

// Related-cause codes (CLM11) derived from the accident indicator
const (
	CauseAutoAccident  = "AA"
	CauseEmployment    = "EM"
	CauseOtherAccident = "OA"
)

// MaxDiagnoses is the number of diagnosis codes a professional claim can carry
const MaxDiagnoses = 12

// Address is a postal address
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

// Complete reports whether both a street line and a city are present. N4 may not be
// sent without a preceding N3.
func (a Address) Complete() bool {
	return strings.TrimSpace(a.Line1) != "" && strings.TrimSpace(a.City) != ""
}

// Same compares two addresses ignoring case and surrounding whitespace
func (a Address) Same(b Address) bool {
	eq := func(x, y string) bool { return strings.EqualFold(strings.TrimSpace(x), strings.TrimSpace(y)) }
	return eq(a.Line1, b.Line1) && eq(a.Line2, b.Line2) && eq(a.City, b.City) &&
		eq(a.State, b.State) && eq(a.PostalCode, b.PostalCode)
}

// Organization is the billing provider identity
type Organization struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	NPI          string    `json:"npi"`
	TaxID        string    `json:"tax_id,omitempty"`
	TaxIDType    TaxIDType `json:"tax_id_type,omitempty"`
	TaxonomyCode string    `json:"taxonomy_code,omitempty"`
	Address      Address   `json:"address"`
}

// Patient is the person who received the services
type Patient struct {
	ID            string  `json:"id"`
	AccountNumber string  `json:"account_number,omitempty"`
	FirstName     string  `json:"first_name"`
	MiddleName    string  `json:"middle_name,omitempty"`
	LastName      string  `json:"last_name"`
	DateOfBirth   Date    `json:"date_of_birth,omitempty"`
	Gender        string  `json:"gender,omitempty"` // M, F or U
	Address       Address `json:"address,omitempty"`
}

// Provider is an individual rendering or referring provider
type Provider struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	NPI       string `json:"npi"`
}

// Facility is a service location distinct from the billing address
type Facility struct {
	Name    string  `json:"name"`
	NPI     string  `json:"npi,omitempty"`
	Address Address `json:"address"`
}

// Coverage is the insurance the claim is billed to. A nil coverage means self-pay and
// the patient is the subscriber.
type Coverage struct {
	SubscriberFirstName string       `json:"subscriber_first_name"`
	SubscriberLastName  string       `json:"subscriber_last_name"`
	SubscriberDOB       Date         `json:"subscriber_dob,omitempty"`
	SubscriberGender    string       `json:"subscriber_gender,omitempty"`
	SubscriberAddress   Address      `json:"subscriber_address,omitempty"`
	MemberID            string       `json:"member_id"`
	GroupNumber         string       `json:"group_number,omitempty"`
	Relationship        Relationship `json:"relationship"`
	PayerName           string       `json:"payer_name"`
	PayerID             string       `json:"payer_id"`
	FilingIndicator     string       `json:"filing_indicator,omitempty"` // SBR09, defaults to CI
}

// IsSelf reports whether the patient is the subscriber
func (c *Coverage) IsSelf() bool {
	if c == nil {
		return true
	}
	r := c.Relationship.Normalize()
	return r == "" || r == RelationshipSelf
}

// ProcedureLine is one billed procedure with its resolved price
type ProcedureLine struct {
	ProcedureCode  string      `json:"procedure_code"`
	Modifiers      []string    `json:"modifiers,omitempty"`
	UnitPrice      float64     `json:"unit_price"`
	Rule           PricingRule `json:"pricing_rule"`
	Units          int         `json:"units"`
	DiagnosisCodes []string    `json:"diagnosis_codes,omitempty"` // subset of the claim's codes
	NDC            string      `json:"ndc,omitempty"`
}

// Code returns the normalized procedure code
func (l ProcedureLine) Code() string {
	return strings.ToUpper(strings.TrimSpace(l.ProcedureCode))
}

// ChargeCents is the line charge: the unit price for flat pricing, unit price times
// units otherwise.
func (l ProcedureLine) ChargeCents() int64 {
	unit := x12.Cents(l.UnitPrice)
	if l.Rule == RuleFlat {
		return unit
	}
	return unit * int64(l.Units)
}

// Encounter is one billable visit; it becomes one transaction set.
type Encounter struct {
	ID                 string          `json:"id"`
	OrganizationID     string          `json:"organization_id"`
	DateOfService      Date            `json:"date_of_service,omitempty"`
	PlaceOfService     string          `json:"place_of_service"`
	Patient            *Patient        `json:"patient,omitempty"`
	RenderingProvider  *Provider       `json:"rendering_provider,omitempty"`
	ReferringProvider  *Provider       `json:"referring_provider,omitempty"`
	DiagnosisCodes     []string        `json:"diagnosis_codes"`
	Lines              []ProcedureLine `json:"lines"`
	Coverage           *Coverage       `json:"coverage,omitempty"`
	AccidentIndicator  string          `json:"accident_indicator,omitempty"`
	AccidentDate       Date            `json:"accident_date,omitempty"`
	AccidentState      string          `json:"accident_state,omitempty"`
	PriorAuthorization string          `json:"prior_authorization,omitempty"`
	ServiceFacility    *Facility       `json:"service_facility,omitempty"`
}

// TotalChargeCents sums every line charge
func (e Encounter) TotalChargeCents() int64 {
	var total int64
	for _, l := range e.Lines {
		total += l.ChargeCents()
	}
	return total
}

// SelfPay reports whether there is no insurance coverage
func (e Encounter) SelfPay() bool {
	return e.Coverage == nil
}

// HasDateOfService reports whether the date of service is known
func (e Encounter) HasDateOfService() bool {
	return !e.DateOfService.IsZero()
}

// noAccident lists indicator values that mean no accident, or that nobody knows
var noAccident = map[string]struct{}{
	"": {}, "no": {}, "n": {}, "none": {}, "n/a": {}, "na": {}, "false": {}, "0": {},
	"unknown": {}, "unk": {}, "u": {}, "not applicable": {}, "not known": {},
}

// negations open an indicator that denies an accident ("no accident", "not work related")
var negations = []string{"no ", "not ", "non-", "non ", "denies", "without "}

// AccidentFlagged reports whether the free-text accident indicator describes an accident.
// Negated and unknown values are not accidents.
func (e Encounter) AccidentFlagged() bool {
	text := strings.Join(strings.Fields(strings.ToLower(e.AccidentIndicator)), " ")
	text = strings.TrimRight(text, ".!")
	if _, ok := noAccident[text]; ok {
		return false
	}
	for _, neg := range negations {
		if strings.HasPrefix(text, neg) {
			return false
		}
	}
	return true
}

// RelatedCause maps the accident indicator to a CLM11 related-cause code, "" when no
// accident is flagged.
func (e Encounter) RelatedCause() string {
	if !e.AccidentFlagged() {
		return ""
	}
	text := strings.ToLower(e.AccidentIndicator)
	for _, kw := range []string{"auto", "vehicle", "motor", "mva"} {
		if strings.Contains(text, kw) {
			return CauseAutoAccident
		}
	}
	for _, kw := range []string{"work", "employ", "job"} {
		if strings.Contains(text, kw) {
			return CauseEmployment
		}
	}
	return CauseOtherAccident
}

// AccidentOn returns the accident date, falling back to the date of service.
func (e Encounter) AccidentOn() Date {
	if !e.AccidentDate.IsZero() {
		return e.AccidentDate
	}
	return e.DateOfService
}

// AccountNumber is the patient control number used in CLM01
func (e Encounter) AccountNumber() string {
	if e.Patient != nil && strings.TrimSpace(e.Patient.AccountNumber) != "" {
		return e.Patient.AccountNumber
	}
	return e.ID
}
