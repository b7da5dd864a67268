package encoder

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/drfirst/go-edi837/internal/claim"
	"github.com/drfirst/go-edi837/internal/x12"
)

var fixedNow = time.Date(2026, 10, 19, 14, 30, 5, 0, time.UTC)

func testConfig(now time.Time) Config {
	cfg := DefaultConfig()
	cfg.SenderID = "SENDER01"
	cfg.ReceiverID = "0431"
	cfg.ContactName = "Billing Office"
	cfg.ContactPhone = "555-010-2000"
	cfg.Now = func() time.Time { return now }
	return cfg
}

func newGenerator(t *testing.T, now time.Time) *Generator {
	t.Helper()
	g, err := New(testConfig(now), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func testOrg() *claim.Organization {
	return &claim.Organization{
		ID:        "org-1",
		Name:      "Riverside Infusion Center",
		NPI:       "1234567893",
		TaxID:     "12-3456789",
		TaxIDType: claim.TaxIDEIN,
		Address:   claim.Address{Line1: "100 Main St", City: "Springfield", State: "IL", PostalCode: "62701"},
	}
}

func selfPayEncounter(id string, codes ...string) claim.Encounter {
	if len(codes) == 0 {
		codes = []string{"99213"}
	}
	var lines []claim.ProcedureLine
	for _, c := range codes {
		lines = append(lines, claim.ProcedureLine{ProcedureCode: c, UnitPrice: 125, Rule: claim.RulePerUnit, Units: 1})
	}
	return claim.Encounter{
		ID:             id,
		DateOfService:  claim.NewDate(2026, time.March, 2),
		PlaceOfService: "11",
		Patient: &claim.Patient{
			ID: "p-1", FirstName: "Ann", LastName: "Lee", Gender: "F",
			DateOfBirth: claim.NewDate(1980, time.January, 15),
			Address:     claim.Address{Line1: "12 Oak Ave", City: "Springfield", State: "IL", PostalCode: "62704"},
		},
		RenderingProvider: &claim.Provider{ID: "dr-1", FirstName: "Sam", LastName: "Park", NPI: "1987654321"},
		DiagnosisCodes:    []string{"E11.9"},
		Lines:             lines,
	}
}

func insuredEncounter(id string, rel claim.Relationship) claim.Encounter {
	enc := selfPayEncounter(id)
	enc.Coverage = &claim.Coverage{
		SubscriberFirstName: "Ben",
		SubscriberLastName:  "Lee",
		MemberID:            "W123456789",
		GroupNumber:         "GRP-77",
		Relationship:        rel,
		PayerName:           "Acme Health",
		PayerID:             "60054",
	}
	return enc
}

func tags(content, tag string) []x12.Segment {
	var out []x12.Segment
	for _, s := range x12.Parse(content) {
		if s.Tag() == tag {
			out = append(out, s)
		}
	}
	return out
}

func lines(content string) []string {
	return strings.Split(strings.TrimSuffix(content, "\n"), "\n")
}

// Scenario A: self-pay, one diagnosis, one line
func TestGenerateSelfPay(t *testing.T) {
	g := newGenerator(t, fixedNow)
	file, err := g.Generate([]claim.Encounter{selfPayEncounter("enc-1")}, testOrg())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	want := []string{
		"ST*837*0001*005010X222A1",
		"BHT*0019*00*ENC-1*20261019*1430*CH",
		"NM1*41*2*RIVERSIDE INFUSION CENTER*****46*SENDER01",
		"PER*IC*BILLING OFFICE*TE*5550102000",
		"NM1*40*2*WAYSTAR*****46*0431",
		"HL*1**20*1",
		"NM1*85*2*RIVERSIDE INFUSION CENTER*****XX*1234567893",
		"N3*100 MAIN ST",
		"N4*SPRINGFIELD*IL*62701",
		"REF*EI*123456789",
		"HL*2*1*22*1",
		"SBR*U*18*******09",
		"NM1*IL*1*LEE*ANN",
		"N3*12 OAK AVE",
		"N4*SPRINGFIELD*IL*62704",
		"DMG*D8*19800115*F",
		"HL*3*2*23*0",
		"CLM*ENC-1*125.00***11:B:1*Y*A*Y*Y",
		"DTP*472*D8*20260302",
		"HI*BK:E119",
		"NM1*82*1*PARK*SAM****XX*1987654321",
		"LX*1",
		"SV1*HC:99213*125.00*UN*1***1",
		"DTP*472*D8*20260302",
		"SE*25*0001",
	}
	got := lines(file.Content)
	// ISA + GS before the set, GE + IEA after it
	if len(got) != len(want)+4 {
		t.Fatalf("got %d lines, want %d:\n%s", len(got), len(want)+4, file.Content)
	}
	for i, w := range want {
		if got[i+2] != w {
			t.Errorf("line %d = %q, want %q", i+3, got[i+2], w)
		}
	}

	if len(tags(file.Content, x12.SegPAT)) != 0 {
		t.Error("self-pay claim must not have a patient loop")
	}
	sbr := tags(file.Content, x12.SegSBR)
	if len(sbr) != 1 || sbr[0].Element(1) != responsibilitySelfPay {
		t.Errorf("SBR01 must be the self-pay code, got %v", sbr)
	}
	hi := tags(file.Content, x12.SegHI)
	if len(hi) != 1 || !strings.HasPrefix(hi[0].Element(1), "BK:") {
		t.Errorf("expected exactly one HI with BK, got %v", hi)
	}

	if file.Filename != "837P_org-1_20261019_143005.edi" {
		t.Errorf("Filename = %q", file.Filename)
	}
	if file.TransactionCount != 1 || len(file.Transactions) != 1 || file.Transactions[0].SegmentCount != 25 {
		t.Errorf("unexpected transaction summary: %+v", file.Transactions)
	}
	if err := Verify(file.Content); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

// Scenario B: the claim hangs off the patient level when the patient is not the subscriber
func TestGenerateDependentPatient(t *testing.T) {
	enc := insuredEncounter("enc-2", claim.RelationshipSpouse)
	g := newGenerator(t, fixedNow)
	file, err := g.Generate([]claim.Encounter{enc}, testOrg())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	hl := tags(file.Content, x12.SegHL)
	want := []string{"HL*1**20*1", "HL*2*1*22*1", "HL*3*2*23*1", "HL*4*3*23*0"}
	if len(hl) != len(want) {
		t.Fatalf("got %d HL segments, want %d", len(hl), len(want))
	}
	for i := range want {
		if hl[i].String() != want[i] {
			t.Errorf("HL %d = %q, want %q", i+1, hl[i].String(), want[i])
		}
	}

	pat := tags(file.Content, x12.SegPAT)
	if len(pat) != 1 || pat[0].Element(1) != "01" {
		t.Errorf("expected PAT*01 for a spouse, got %v", pat)
	}
	sbr := tags(file.Content, x12.SegSBR)[0]
	if sbr.String() != "SBR*P**GRP-77******CI" {
		t.Errorf("SBR = %q", sbr.String())
	}
	if !strings.Contains(file.Content, "NM1*IL*1*LEE*BEN****MI*W123456789\n") {
		t.Error("missing subscriber NM1 with member id")
	}
	if !strings.Contains(file.Content, "NM1*PR*2*ACME HEALTH*****PI*60054\n") {
		t.Error("missing payer NM1")
	}
	if !strings.Contains(file.Content, "NM1*QC*1*LEE*ANN\n") {
		t.Error("missing patient NM1")
	}
}

func TestGenerateInsuredSelf(t *testing.T) {
	enc := insuredEncounter("enc-3", claim.RelationshipSelf)
	g := newGenerator(t, fixedNow)
	file, err := g.Generate([]claim.Encounter{enc}, testOrg())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(tags(file.Content, x12.SegHL)) != 3 {
		t.Error("self-insured claim must have three HL levels")
	}
	if sbr := tags(file.Content, x12.SegSBR)[0]; sbr.Element(1) != "P" || sbr.Element(2) != "18" {
		t.Errorf("SBR = %q", sbr.String())
	}
	// Subscriber demographics fall back to the patient
	if len(tags(file.Content, x12.SegDMG)) != 1 {
		t.Error("expected the subscriber DMG from the patient's date of birth")
	}
}

func TestRelationshipIsCaseInsensitive(t *testing.T) {
	g := newGenerator(t, fixedNow)
	for _, rel := range []claim.Relationship{"SELF", " Self "} {
		t.Run(string(rel), func(t *testing.T) {
			enc := insuredEncounter("enc-3", rel)
			enc.Patient.DateOfBirth = claim.Date{}
			file, err := g.Generate([]claim.Encounter{enc}, testOrg())
			if err != nil {
				t.Fatalf("the patient is the subscriber, no DOB is needed: %v", err)
			}
			if len(tags(file.Content, x12.SegPAT)) != 0 {
				t.Error("no patient loop for a self relationship")
			}
			hls := tags(file.Content, x12.SegHL)
			if len(hls) != 3 || hls[2].String() != "HL*3*2*23*0" {
				t.Errorf("HL levels = %v", hls)
			}
		})
	}

	file, err := g.Generate([]claim.Encounter{insuredEncounter("enc-9", "Spouse")}, testOrg())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if pat := tags(file.Content, x12.SegPAT); len(pat) != 1 || pat[0].Element(1) != "01" {
		t.Errorf("PAT = %v, want PAT*01", pat)
	}
}

// Scenario C: administration without a drug-supply line produces no file
func TestGenerateRejectsUnpairedAdministration(t *testing.T) {
	g := newGenerator(t, fixedNow)
	file, err := g.Generate([]claim.Encounter{selfPayEncounter("enc-4", "96365")}, testOrg())
	if file != nil {
		t.Fatal("no file may be produced for a failing batch")
	}
	var verr *claim.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *claim.ValidationError, got %T: %v", err, err)
	}
	if len(verr.Violations) != 1 || !strings.Contains(verr.Violations[0], "drug-supply") {
		t.Errorf("unexpected violations: %v", verr.Violations)
	}
}

// Scenario D: a J-code line carries LIN/CTP
func TestGenerateDrugControl(t *testing.T) {
	enc := selfPayEncounter("enc-5", "J0655")
	enc.Lines[0].NDC = "00409-1234-01"
	enc.Lines[0].Units = 2

	g := newGenerator(t, fixedNow)
	file, err := g.Generate([]claim.Encounter{enc}, testOrg())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	lin := tags(file.Content, x12.SegLIN)
	if len(lin) != 1 || lin[0].Element(1) != "J0655" {
		t.Fatalf("expected LIN with J0655, got %v", lin)
	}
	if lin[0].String() != "LIN*J0655*N4*00409123401" {
		t.Errorf("LIN = %q", lin[0].String())
	}
	if ctp := tags(file.Content, x12.SegCTP); len(ctp) != 1 || ctp[0].String() != "CTP****2*UN" {
		t.Errorf("CTP = %v", ctp)
	}
	if !strings.Contains(file.Content, "SV1*HC:J0655*250.00*UN*2***1\n") {
		t.Error("per-unit charge should be unit price times units")
	}
}

// Every drug-supply line, and only those, gets LIN directly after its service date
func TestDrugControlOnlyOnSupplyLines(t *testing.T) {
	enc := selfPayEncounter("enc-6", "96365", "J1100", "99213", "Q5101", "96413")
	g := newGenerator(t, fixedNow)
	file, err := g.Generate([]claim.Encounter{enc}, testOrg())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	segs := x12.Parse(file.Content)
	var current string
	linFor := map[string]bool{}
	for _, s := range segs {
		switch s.Tag() {
		case x12.SegSV1:
			current = strings.TrimPrefix(s.Element(1), "HC:")
		case x12.SegLIN:
			if s.Element(1) != current {
				t.Errorf("LIN %s follows service line %s", s.Element(1), current)
			}
			linFor[current] = true
		}
	}
	for _, line := range enc.Lines {
		if want := claim.EmitsDrugControl(line.ProcedureCode); linFor[line.ProcedureCode] != want {
			t.Errorf("line %s: drug control present = %v, want %v", line.ProcedureCode, linFor[line.ProcedureCode], want)
		}
	}
}

// Scenario E: sequential transaction control numbers and GE01
func TestGenerateBatch(t *testing.T) {
	batch := []claim.Encounter{
		selfPayEncounter("enc-a"),
		insuredEncounter("enc-b", claim.RelationshipChild),
		insuredEncounter("enc-c", claim.RelationshipSelf),
	}
	g := newGenerator(t, fixedNow)
	file, err := g.Generate(batch, testOrg())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	st := tags(file.Content, x12.SegST)
	if len(st) != 3 {
		t.Fatalf("expected 3 transaction sets, got %d", len(st))
	}
	for i, want := range []string{"0001", "0002", "0003"} {
		if st[i].Element(2) != want {
			t.Errorf("ST02 #%d = %s, want %s", i+1, st[i].Element(2), want)
		}
	}
	if ge := tags(file.Content, x12.SegGE)[0]; ge.Element(1) != "3" {
		t.Errorf("GE01 = %s, want 3", ge.Element(1))
	}
	if file.TransactionCount != 3 {
		t.Errorf("TransactionCount = %d", file.TransactionCount)
	}

	// Each transaction restarts its hierarchy at 1
	for _, hl := range tags(file.Content, x12.SegHL) {
		if hl.Element(3) == x12.LevelBillingProvider && hl.Element(1) != "1" {
			t.Errorf("billing provider HL must restart at 1, got %s", hl.String())
		}
	}
	if err := Verify(file.Content); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestEnvelopePairing(t *testing.T) {
	g := newGenerator(t, fixedNow)
	file, err := g.Generate([]claim.Encounter{selfPayEncounter("enc-1"), selfPayEncounter("enc-2")}, testOrg())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	segs := x12.Parse(file.Content)
	isa, iea := segs[0], segs[len(segs)-1]
	if isa.Len() != 16 {
		t.Errorf("ISA has %d elements, want 16", isa.Len())
	}
	if isa.Element(13) != iea.Element(2) || isa.Element(13) != file.InterchangeControlNumber {
		t.Errorf("ISA13 %q, IEA02 %q, file %q", isa.Element(13), iea.Element(2), file.InterchangeControlNumber)
	}
	for _, i := range []int{6, 8} {
		if len(isa.Element(i)) != 15 {
			t.Errorf("ISA%02d must be 15 characters, got %q", i, isa.Element(i))
		}
	}
	if isa.Element(9) != "261019" || isa.Element(10) != "1430" || isa.Element(15) != UsageTest {
		t.Errorf("unexpected ISA: %s", isa.String())
	}
	gs, ge := segs[1], segs[len(segs)-2]
	if gs.Element(6) != ge.Element(2) || gs.Element(8) != ImplementationGuide {
		t.Errorf("GS %s / GE %s", gs.String(), ge.String())
	}
}

func TestVerifyDetectsBrokenEnvelope(t *testing.T) {
	g := newGenerator(t, fixedNow)
	file, err := g.Generate([]claim.Encounter{selfPayEncounter("enc-1")}, testOrg())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	tests := map[string]string{
		"segment count": strings.Replace(file.Content, "SE*25*0001", "SE*24*0001", 1),
		"trailer pair":  strings.Replace(file.Content, "SE*25*0001", "SE*25*0002", 1),
		"group count":   strings.Replace(file.Content, "GE*1*", "GE*2*", 1),
		"missing IEA":   strings.Join(lines(file.Content)[:len(lines(file.Content))-1], "\n") + "\n",
	}
	for name, content := range tests {
		if err := Verify(content); err == nil {
			t.Errorf("%s: expected Verify to fail", name)
		}
	}
}

func TestDiagnosisPointers(t *testing.T) {
	claimCodes := []string{"E11.9", "I10", "Z00.00", "M54.5", "R51", "J45.909"}
	index := diagnosisIndex(claimCodes)
	tests := []struct {
		name string
		line []string
		want string
	}{
		{"defaults to first four", nil, "1:2:3:4"},
		{"claim ordering not line ordering", []string{"Z00.00", "E11.9"}, "1:3"},
		{"dotless codes resolve", []string{"j45909"}, "6"},
		{"unknown codes fall back to principal", []string{"X99"}, "1"},
		{"capped at four", []string{"J45.909", "R51", "M54.5", "Z00.00", "I10"}, "2:3:4:5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := diagnosisPointers(index, len(claimCodes), tt.line); got != tt.want {
				t.Errorf("diagnosisPointers = %q, want %q", got, tt.want)
			}
		})
	}
	if got := diagnosisPointers(diagnosisIndex([]string{"E11.9"}), 1, nil); got != "1" {
		t.Errorf("single diagnosis pointer = %q", got)
	}
}

func TestDiagnosisSegment(t *testing.T) {
	codes := make([]string, 0, 14)
	for i := 0; i < 14; i++ {
		codes = append(codes, "Z00.0"+string(rune('0'+i%10)))
	}
	hi := diagnosisSegment(codes)
	parts := strings.Split(hi.Element(1), x12.RepetitionSeparator)
	if len(parts) != claim.MaxDiagnoses {
		t.Fatalf("HI carries %d codes, want %d", len(parts), claim.MaxDiagnoses)
	}
	if !strings.HasPrefix(parts[0], "BK:") || !strings.HasPrefix(parts[1], "BF:") {
		t.Errorf("unexpected qualifiers: %v", parts[:2])
	}
}

// Two runs with different clocks carry identical clinical content
func TestClinicalContentIsStableAcrossRuns(t *testing.T) {
	batch := []claim.Encounter{selfPayEncounter("enc-1", "96365", "J1100"), insuredEncounter("enc-2", claim.RelationshipChild)}
	first, err := newGenerator(t, fixedNow).Generate(batch, testOrg())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	second, err := newGenerator(t, fixedNow.Add(26*time.Hour+7*time.Minute)).Generate(batch, testOrg())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if first.InterchangeControlNumber == second.InterchangeControlNumber {
		t.Error("different seeds should yield different interchange control numbers")
	}
	for _, tag := range []string{x12.SegNM1, x12.SegCLM, x12.SegSV1, x12.SegHI} {
		a, b := tags(first.Content, tag), tags(second.Content, tag)
		if len(a) != len(b) {
			t.Fatalf("%s: %d vs %d segments", tag, len(a), len(b))
		}
		for i := range a {
			if a[i].String() != b[i].String() {
				t.Errorf("%s #%d differs: %q vs %q", tag, i+1, a[i].String(), b[i].String())
			}
		}
	}

	again, err := newGenerator(t, fixedNow).Generate(batch, testOrg())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if again.Content != first.Content {
		t.Error("a fixed clock must reproduce the file byte for byte")
	}
}

func TestGenerateHardFaultDiscardsOutput(t *testing.T) {
	enc := insuredEncounter("enc-7", claim.RelationshipChild)
	enc.Patient.DateOfBirth = claim.Date{}

	g := newGenerator(t, fixedNow)
	file, err := g.Generate([]claim.Encounter{selfPayEncounter("enc-ok"), enc}, testOrg())
	if file != nil {
		t.Fatal("partial output must be discarded")
	}
	var eerr *EncodeError
	if !errors.As(err, &eerr) {
		t.Fatalf("expected *EncodeError, got %T: %v", err, err)
	}
	if eerr.Code != CodeMissingPatientDOB || eerr.EncounterID != "enc-7" {
		t.Errorf("unexpected fault: %+v", eerr)
	}
}

func TestGenerateRejectsMissingEncounterIDs(t *testing.T) {
	g := newGenerator(t, fixedNow)
	file, err := g.Generate([]claim.Encounter{selfPayEncounter(""), selfPayEncounter("")}, testOrg())
	if file != nil {
		t.Fatal("no file may be produced")
	}
	var verr *claim.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *claim.ValidationError before encoding, got %T: %v", err, err)
	}
	if len(verr.Violations) != 2 || !strings.Contains(verr.Violations[0], "encounter id is required") {
		t.Errorf("violations = %v", verr.Violations)
	}
}

func TestClaimOptionalSegments(t *testing.T) {
	enc := selfPayEncounter("enc-8")
	enc.AccidentIndicator = "Motor vehicle collision"
	enc.AccidentState = "ca"
	enc.AccidentDate = claim.NewDate(2026, time.February, 27)
	enc.PriorAuthorization = "AUTH-991"
	enc.ReferringProvider = &claim.Provider{FirstName: "Rita", LastName: "Gomez", NPI: "1112223334"}
	enc.ServiceFacility = &claim.Facility{
		Name:    "Riverside Annex",
		Address: claim.Address{Line1: "9 River Rd", City: "Springfield", State: "IL", PostalCode: "62702"},
	}

	g := newGenerator(t, fixedNow)
	file, err := g.Generate([]claim.Encounter{enc}, testOrg())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for _, want := range []string{
		"CLM*ENC-8*125.00***11:B:1*Y*A*Y*Y**AA:::CA\n",
		"DTP*439*D8*20260227\n",
		"REF*G1*AUTH-991\n",
		"NM1*DN*1*GOMEZ*RITA****XX*1112223334\n",
		"NM1*77*2*RIVERSIDE ANNEX\nN3*9 RIVER RD\nN4*SPRINGFIELD*IL*62702\n",
	} {
		if !strings.Contains(file.Content, want) {
			t.Errorf("missing %q in:\n%s", want, file.Content)
		}
	}
	// Referring provider precedes rendering provider
	if strings.Index(file.Content, "NM1*DN") > strings.Index(file.Content, "NM1*82") {
		t.Error("NM1*DN must precede NM1*82")
	}

	// A facility at the billing address is not repeated
	enc.ServiceFacility.Address = testOrg().Address
	file, err = g.Generate([]claim.Encounter{enc}, testOrg())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if strings.Contains(file.Content, "NM1*77") {
		t.Error("service facility at the billing address must be omitted")
	}
}

func TestSubscriberAddressRequiresStreet(t *testing.T) {
	enc := selfPayEncounter("enc-9")
	enc.Patient.Address = claim.Address{City: "Springfield", State: "IL"}
	enc.Patient.DateOfBirth = claim.Date{}

	g := newGenerator(t, fixedNow)
	file, err := g.Generate([]claim.Encounter{enc}, testOrg())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	// Only the billing provider address remains
	if n := len(tags(file.Content, x12.SegN4)); n != 1 {
		t.Errorf("expected 1 N4, got %d", n)
	}
	if n := len(tags(file.Content, x12.SegDMG)); n != 0 {
		t.Errorf("subscriber DMG requires a date of birth, got %d", n)
	}
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	cfg := testConfig(fixedNow)
	cfg.SenderID = ""
	if _, err := New(cfg, nil); err == nil {
		t.Error("expected error without a sender id")
	}
	cfg = testConfig(fixedNow)
	cfg.UsageIndicator = "X"
	if _, err := New(cfg, nil); err == nil {
		t.Error("expected error for an unknown usage indicator")
	}
}

func TestWriteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "outbound")
	g := newGenerator(t, fixedNow)
	file, path, err := g.GenerateToFile(dir, []claim.Encounter{selfPayEncounter("enc-1")}, testOrg())
	if err != nil {
		t.Fatalf("GenerateToFile: %v", err)
	}
	if filepath.Base(path) != file.Filename {
		t.Errorf("path %q does not end in %q", path, file.Filename)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != file.Content {
		t.Error("written content differs from the generated content")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only the claim file in %s, found %d entries", dir, len(entries))
	}
}

func TestFilename(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if got := Filename("org/7 east", at); got != "837P_org-7-east_20260102_030405.edi" {
		t.Errorf("Filename = %q", got)
	}
}
