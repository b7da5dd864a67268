package encoder

import (
	"sort"
	"strconv"
	"strings"

	"github.com/drfirst/go-edi837/internal/claim"
	"github.com/drfirst/go-edi837/internal/x12"
)

// Qualifiers and fixed codes used by the loop encoders
const (
	entitySubmitter       = "41"
	entityReceiver        = "40"
	entityBillingProvider = "85"
	entitySubscriber      = "IL"
	entityPatient         = "QC"
	entityPayer           = "PR"
	entityReferring       = "DN"
	entityRendering       = "82"
	entityServiceFacility = "77"

	entityPerson       = "1"
	entityOrganization = "2"

	idElectronicTransmitter = "46"
	idNPI                   = "XX"
	idMember                = "MI"
	idPayer                 = "PI"

	refEmployerID         = "EI"
	refSocialSecurity     = "SY"
	refPriorAuth          = "G1"
	dateService           = "472"
	dateAccident          = "439"
	dateFormatQualifier   = "D8"
	contactInformation    = "IC"
	contactTelephone      = "TE"
	providerBilling       = "BI"
	taxonomyQualifier     = "PXC"
	principalDiagnosis    = "BK"
	secondaryDiagnosis    = "BF"
	procedureQualifier    = "HC"
	unitQualifier         = "UN"
	productNDC            = "N4"
	facilityCodeQualifier = "B"
	claimFrequency        = "1"
	maxPointers           = 4

	responsibilityPrimary = "P"
	responsibilitySelfPay = "U"
	relationshipSelf      = "18"
	filingSelfPay         = "09"
	filingCommercial      = "CI"
)

// patientRelationship maps the coverage relationship to the PAT01 code
var patientRelationship = map[claim.Relationship]string{
	claim.RelationshipSpouse: "01",
	claim.RelationshipChild:  "19",
	claim.RelationshipOther:  "G8",
}

// transaction is the explicitly passed state for one ST/SE block: the encounter
// being encoded, the billing organization and the sealed HL plan.
type transaction struct {
	enc  claim.Encounter
	org  *claim.Organization
	plan *x12.Hierarchy

	billingHL    int
	subscriberHL int
	patientHL    int // 0 when the patient is the subscriber
	claimHL      int
}

// planTransaction assigns every HL level of the transaction before any segment is
// written so the child flags are known when the HL segments are rendered.
func planTransaction(enc claim.Encounter, org *claim.Organization) (*transaction, error) {
	h := x12.NewHierarchy()
	tx := &transaction{enc: enc, org: org, plan: h}

	var err error
	if tx.billingHL, err = h.Add(x12.LevelBillingProvider, 0); err != nil {
		return nil, hierarchyFault(enc.ID, err)
	}
	if tx.subscriberHL, err = h.Add(x12.LevelSubscriber, tx.billingHL); err != nil {
		return nil, hierarchyFault(enc.ID, err)
	}
	if !enc.Coverage.IsSelf() {
		if tx.patientHL, err = h.Add(x12.LevelDependent, tx.subscriberHL); err != nil {
			return nil, hierarchyFault(enc.ID, err)
		}
	}
	// The claim hangs off the lowest level assigned so far
	if tx.claimHL, err = h.Add(x12.LevelDependent, h.Last()); err != nil {
		return nil, hierarchyFault(enc.ID, err)
	}
	h.Seal()
	return tx, nil
}

func hierarchyFault(encounterID string, err error) *EncodeError {
	e := fault(encounterID, "HL", CodeInvalidHierarchy, "hierarchy planning failed")
	e.Cause = err
	return e
}

func (tx *transaction) hl(id int) (x12.Segment, error) {
	seg, err := tx.plan.Segment(id)
	if err != nil {
		return x12.Segment{}, hierarchyFault(tx.enc.ID, err)
	}
	return seg, nil
}

// encodeSubmitterReceiver emits loops 1000A and 1000B
func encodeSubmitterReceiver(cfg Config, org *claim.Organization) []x12.Segment {
	contact := cfg.ContactName
	if contact == "" {
		contact = org.Name
	}
	per := []string{contactInformation, x12.Text(contact, 60)}
	if phone := x12.Digits(cfg.ContactPhone); phone != "" {
		per = append(per, contactTelephone, phone)
	}
	return []x12.Segment{
		x12.NewSegment(x12.SegNM1, entitySubmitter, entityOrganization, x12.Text(org.Name, 60),
			"", "", "", "", idElectronicTransmitter, x12.Text(cfg.SenderID, 80)),
		x12.NewSegment(x12.SegPER, per...),
		x12.NewSegment(x12.SegNM1, entityReceiver, entityOrganization, x12.Text(cfg.ReceiverName, 60),
			"", "", "", "", idElectronicTransmitter, x12.Text(cfg.ReceiverID, 80)),
	}
}

// encodeBillingProvider emits loop 2000A/2010AA
func encodeBillingProvider(tx *transaction) ([]x12.Segment, error) {
	org := tx.org
	if org == nil {
		return nil, fault(tx.enc.ID, "Organization", CodeMissingOrganization, "billing organization is required")
	}
	npi := x12.Digits(org.NPI)
	if npi == "" {
		return nil, fault(tx.enc.ID, "Organization.NPI", CodeMissingBillingNPI, "billing provider NPI is required")
	}

	hl, err := tx.hl(tx.billingHL)
	if err != nil {
		return nil, err
	}
	segs := []x12.Segment{hl}
	if taxonomy := x12.Clean(org.TaxonomyCode); taxonomy != "" {
		segs = append(segs, x12.NewSegment(x12.SegPRV, providerBilling, taxonomyQualifier, taxonomy))
	}
	segs = append(segs, x12.NewSegment(x12.SegNM1, entityBillingProvider, entityOrganization, x12.Text(org.Name, 60),
		"", "", "", "", idNPI, npi))
	segs = append(segs, addressSegments(org.Address)...)

	// Tax id reference only when one is on file
	if taxID := x12.Digits(org.TaxID); taxID != "" {
		qualifier := refEmployerID
		if org.TaxIDType == claim.TaxIDSSN {
			qualifier = refSocialSecurity
		}
		segs = append(segs, x12.NewSegment(x12.SegREF, qualifier, taxID))
	}
	return segs, nil
}

// encodeSubscriber emits loop 2000B with 2010BA and, for insured claims, 2010BB
func encodeSubscriber(tx *transaction) ([]x12.Segment, error) {
	enc := tx.enc
	if enc.Patient == nil {
		return nil, fault(enc.ID, "Patient", CodeMissingPatient, "patient is required")
	}
	hl, err := tx.hl(tx.subscriberHL)
	if err != nil {
		return nil, err
	}
	segs := []x12.Segment{hl}

	cov := enc.Coverage
	if cov == nil {
		// Self-pay: the patient is the subscriber and there is no payer
		p := enc.Patient
		segs = append(segs,
			x12.NewSegment(x12.SegSBR, responsibilitySelfPay, relationshipSelf, "", "", "", "", "", "", filingSelfPay),
			x12.NewSegment(x12.SegNM1, entitySubscriber, entityPerson, x12.Text(p.LastName, 60),
				x12.Text(p.FirstName, 35), x12.Text(p.MiddleName, 25)),
		)
		segs = append(segs, addressSegments(p.Address)...)
		if !p.DateOfBirth.IsZero() {
			segs = append(segs, demographic(p.DateOfBirth, p.Gender))
		}
		return segs, nil
	}

	relationship := ""
	if cov.IsSelf() {
		relationship = relationshipSelf
	}
	filing := x12.Clean(cov.FilingIndicator)
	if filing == "" {
		filing = filingCommercial
	}
	segs = append(segs, x12.NewSegment(x12.SegSBR, responsibilityPrimary, relationship,
		x12.Text(cov.GroupNumber, 50), "", "", "", "", "", filing))

	first, last, dob, gender, addr := cov.SubscriberFirstName, cov.SubscriberLastName, cov.SubscriberDOB, cov.SubscriberGender, cov.SubscriberAddress
	if cov.IsSelf() {
		// Subscriber details fall back to the patient's when they are the same person
		p := enc.Patient
		if last == "" {
			first, last = p.FirstName, p.LastName
		}
		if dob.IsZero() {
			dob, gender = p.DateOfBirth, p.Gender
		}
		if !addr.Complete() {
			addr = p.Address
		}
	}
	segs = append(segs, x12.NewSegment(x12.SegNM1, entitySubscriber, entityPerson, x12.Text(last, 60),
		x12.Text(first, 35), "", "", "", idMember, x12.Text(cov.MemberID, 80)))
	segs = append(segs, addressSegments(addr)...)
	if !dob.IsZero() {
		segs = append(segs, demographic(dob, gender))
	}

	segs = append(segs, x12.NewSegment(x12.SegNM1, entityPayer, entityOrganization, x12.Text(cov.PayerName, 60),
		"", "", "", "", idPayer, x12.Text(cov.PayerID, 80)))
	return segs, nil
}

// encodePatient emits loop 2000C/2010CA. Only called when the patient is not the subscriber.
func encodePatient(tx *transaction) ([]x12.Segment, error) {
	enc := tx.enc
	p := enc.Patient
	if p == nil {
		return nil, fault(enc.ID, "Patient", CodeMissingPatient, "patient is required")
	}
	if p.DateOfBirth.IsZero() {
		return nil, fault(enc.ID, "Patient.DateOfBirth", CodeMissingPatientDOB, "patient date of birth is required when the patient is not the subscriber")
	}

	hl, err := tx.hl(tx.patientHL)
	if err != nil {
		return nil, err
	}
	code, ok := patientRelationship[enc.Coverage.Relationship.Normalize()]
	if !ok {
		code = patientRelationship[claim.RelationshipOther]
	}
	segs := []x12.Segment{
		hl,
		x12.NewSegment(x12.SegPAT, code),
		x12.NewSegment(x12.SegNM1, entityPatient, entityPerson, x12.Text(p.LastName, 60),
			x12.Text(p.FirstName, 35), x12.Text(p.MiddleName, 25)),
	}
	segs = append(segs, addressSegments(p.Address)...)
	segs = append(segs, demographic(p.DateOfBirth, p.Gender))
	return segs, nil
}

// encodeClaim emits loop 2300 and its provider and facility sub-loops
func encodeClaim(tx *transaction) ([]x12.Segment, error) {
	enc := tx.enc
	if len(enc.DiagnosisCodes) == 0 {
		return nil, fault(enc.ID, "DiagnosisCodes", CodeMissingDiagnosis, "at least one diagnosis code is required")
	}
	if !enc.HasDateOfService() {
		return nil, fault(enc.ID, "DateOfService", CodeMissingServiceDate, "date of service is required")
	}
	rendering := enc.RenderingProvider
	if rendering == nil || x12.Digits(rendering.NPI) == "" {
		return nil, fault(enc.ID, "RenderingProvider", CodeMissingRenderingProvider, "rendering provider with an NPI is required")
	}

	hl, err := tx.hl(tx.claimHL)
	if err != nil {
		return nil, err
	}

	clm := []string{
		x12.Text(enc.AccountNumber(), 38),
		x12.FormatCents(enc.TotalChargeCents()),
		"", "",
		x12.Composite(x12.Clean(enc.PlaceOfService), facilityCodeQualifier, claimFrequency),
		"Y", "A", "Y", "Y",
	}
	if cause := enc.RelatedCause(); cause != "" {
		state := ""
		if cause == claim.CauseAutoAccident {
			state = x12.Text(enc.AccidentState, 2)
		}
		clm = append(clm, "", x12.Composite(cause, "", "", state))
	}

	segs := []x12.Segment{
		hl,
		x12.NewSegment(x12.SegCLM, clm...),
		x12.NewSegment(x12.SegDTP, dateService, dateFormatQualifier, x12.FormatDate(enc.DateOfService.Time)),
		diagnosisSegment(enc.DiagnosisCodes),
	}
	if enc.AccidentFlagged() {
		segs = append(segs, x12.NewSegment(x12.SegDTP, dateAccident, dateFormatQualifier, x12.FormatDate(enc.AccidentOn().Time)))
	}
	if auth := x12.Text(enc.PriorAuthorization, 50); auth != "" {
		segs = append(segs, x12.NewSegment(x12.SegREF, refPriorAuth, auth))
	}
	if ref := enc.ReferringProvider; ref != nil && ref.LastName != "" {
		segs = append(segs, providerName(entityReferring, ref))
	}
	segs = append(segs, providerName(entityRendering, rendering))

	// Service facility only when it is a distinct, complete address
	if f := enc.ServiceFacility; f != nil && f.Address.Complete() && (tx.org == nil || !f.Address.Same(tx.org.Address)) {
		nm1 := []string{entityServiceFacility, entityOrganization, x12.Text(f.Name, 60)}
		if npi := x12.Digits(f.NPI); npi != "" {
			nm1 = append(nm1, "", "", "", "", idNPI, npi)
		}
		segs = append(segs, x12.NewSegment(x12.SegNM1, nm1...))
		segs = append(segs, addressSegments(f.Address)...)
	}
	return segs, nil
}

// encodeServiceLines emits one 2400 loop per procedure line
func encodeServiceLines(tx *transaction) ([]x12.Segment, error) {
	enc := tx.enc
	if unpaired := claim.UnpairedAdministration(enc.Lines); len(unpaired) > 0 {
		return nil, fault(enc.ID, "Lines", CodeDrugLineMismatch,
			"administration code "+strings.Join(unpaired, ",")+" has no drug-supply line on the claim")
	}
	index := diagnosisIndex(enc.DiagnosisCodes)
	serviceDate := x12.FormatDate(enc.DateOfService.Time)

	var segs []x12.Segment
	for i, line := range enc.Lines {
		code := line.Code()
		procedure := append([]string{procedureQualifier, x12.Clean(code)}, cleanAll(line.Modifiers, 4)...)

		segs = append(segs,
			x12.NewSegment(x12.SegLX, strconv.Itoa(i+1)),
			x12.NewSegment(x12.SegSV1,
				x12.Composite(procedure...),
				x12.FormatCents(line.ChargeCents()),
				unitQualifier,
				x12.FormatUnits(line.Units),
				"", "",
				diagnosisPointers(index, len(enc.DiagnosisCodes), line.DiagnosisCodes),
			),
			x12.NewSegment(x12.SegDTP, dateService, dateFormatQualifier, serviceDate),
		)

		segs = append(segs, drugControl(line)...)
	}
	return segs, nil
}

// drugControl emits LIN/CTP for a drug-supply line. An administration code never
// carries drug identification, whatever its other classifications.
func drugControl(line claim.ProcedureLine) []x12.Segment {
	code := line.Code()
	if claim.IsAdministration(code) || !claim.IsDrugSupply(code) {
		return nil
	}
	lin := []string{x12.Clean(code)}
	if ndc := x12.Digits(line.NDC); ndc != "" {
		lin = append(lin, productNDC, ndc)
	}
	return []x12.Segment{
		x12.NewSegment(x12.SegLIN, lin...),
		x12.NewSegment(x12.SegCTP, "", "", "", x12.FormatUnits(line.Units), unitQualifier),
	}
}

// diagnosisSegment builds HI: the first code is principal, the rest secondary, at most
// 12, repeated within a single element.
func diagnosisSegment(codes []string) x12.Segment {
	n := len(codes)
	if n > claim.MaxDiagnoses {
		n = claim.MaxDiagnoses
	}
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		qualifier := secondaryDiagnosis
		if i == 0 {
			qualifier = principalDiagnosis
		}
		parts = append(parts, x12.Composite(qualifier, x12.DiagnosisCode(codes[i])))
	}
	return x12.NewSegment(x12.SegHI, strings.Join(parts, x12.RepetitionSeparator))
}

func diagnosisIndex(codes []string) map[string]int {
	index := make(map[string]int, len(codes))
	for i, c := range codes {
		if i >= claim.MaxDiagnoses {
			break
		}
		key := x12.DiagnosisCode(c)
		if _, seen := index[key]; !seen {
			index[key] = i + 1
		}
	}
	return index
}

// diagnosisPointers resolves a line's diagnosis codes against the claim's ordering.
// Lines without their own codes point at the first four claim diagnoses. The result
// always references a valid claim index.
func diagnosisPointers(index map[string]int, claimCount int, lineCodes []string) string {
	if claimCount > claim.MaxDiagnoses {
		claimCount = claim.MaxDiagnoses
	}
	var ptrs []int
	if len(lineCodes) == 0 {
		for i := 1; i <= claimCount && i <= maxPointers; i++ {
			ptrs = append(ptrs, i)
		}
	} else {
		seen := make(map[int]bool)
		for _, c := range lineCodes {
			if p, ok := index[x12.DiagnosisCode(c)]; ok && !seen[p] {
				seen[p] = true
				ptrs = append(ptrs, p)
			}
		}
		sort.Ints(ptrs)
		if len(ptrs) > maxPointers {
			ptrs = ptrs[:maxPointers]
		}
	}
	if len(ptrs) == 0 {
		ptrs = []int{1}
	}
	parts := make([]string, len(ptrs))
	for i, p := range ptrs {
		parts[i] = strconv.Itoa(p)
	}
	return x12.Composite(parts...)
}

// addressSegments returns N3/N4, or nothing when there is no street line and city
func addressSegments(a claim.Address) []x12.Segment {
	if !a.Complete() {
		return nil
	}
	return []x12.Segment{
		x12.NewSegment(x12.SegN3, x12.Text(a.Line1, 55), x12.Text(a.Line2, 55)),
		x12.NewSegment(x12.SegN4, x12.Text(a.City, 30), x12.Text(a.State, 2), x12.Digits(a.PostalCode)),
	}
}

func demographic(dob claim.Date, gender string) x12.Segment {
	g := strings.ToUpper(strings.TrimSpace(gender))
	if g != "M" && g != "F" {
		g = "U"
	}
	return x12.NewSegment(x12.SegDMG, dateFormatQualifier, x12.FormatDate(dob.Time), g)
}

func providerName(entity string, p *claim.Provider) x12.Segment {
	elements := []string{entity, entityPerson, x12.Text(p.LastName, 60), x12.Text(p.FirstName, 35)}
	if npi := x12.Digits(p.NPI); npi != "" {
		elements = append(elements, "", "", "", idNPI, npi)
	}
	return x12.NewSegment(x12.SegNM1, elements...)
}

func cleanAll(values []string, max int) []string {
	var out []string
	for _, v := range values {
		if c := x12.Clean(v); c != "" {
			out = append(out, c)
		}
		if len(out) == max {
			break
		}
	}
	return out
}
