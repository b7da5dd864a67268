package claimfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/drfirst/go-edi837/internal/claim"
	"github.com/drfirst/go-edi837/internal/domain/submission"
	"github.com/drfirst/go-edi837/internal/encoder"
	"github.com/drfirst/go-edi837/internal/pricing"
	"github.com/drfirst/go-edi837/internal/transport"
)

var fixedNow = time.Date(2026, 10, 19, 14, 30, 5, 0, time.UTC)

type recorder struct {
	mu           sync.Mutex
	generated    int
	transactions int
	rejected     []string
	softFailures int
	uploads      []bool
}

func (r *recorder) FileGenerated(n int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generated++
	r.transactions += n
}

func (r *recorder) BatchRejected(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected = append(r.rejected, reason)
}

func (r *recorder) SoftFailures(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.softFailures += n
}

func (r *recorder) Uploaded(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads = append(r.uploads, ok)
}

type flakyUploader struct {
	failures int
	calls    int
	next     transport.Uploader
}

func (f *flakyUploader) Upload(ctx context.Context, localPath, name string) (*transport.UploadResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, &transport.UploadError{RemoteFilename: name, Op: "connect", Cause: errors.New("connection refused")}
	}
	return f.next.Upload(ctx, localPath, name)
}

type fakeSnapshots struct {
	org        *claim.Organization
	encounters map[string]claim.Encounter
}

func (f *fakeSnapshots) LoadOrganization(_ context.Context, id string) (*claim.Organization, error) {
	if f.org == nil || f.org.ID != id {
		return nil, errors.New("organization not found")
	}
	return f.org, nil
}

func (f *fakeSnapshots) LoadEncounters(_ context.Context, orgID string, ids []string) ([]claim.Encounter, error) {
	var out []claim.Encounter
	for _, id := range ids {
		enc, ok := f.encounters[id]
		if !ok {
			return nil, errors.New("encounter not found: " + id)
		}
		out = append(out, enc)
	}
	return out, nil
}

func testOrg() *claim.Organization {
	return &claim.Organization{
		ID:   "org-1",
		Name: "Riverside Infusion Center",
		NPI:  "1234567893",
		Address: claim.Address{
			Line1: "100 Main St", City: "Springfield", State: "IL", PostalCode: "62701",
		},
	}
}

func testEncounter(id string, codes ...string) claim.Encounter {
	var lines []claim.ProcedureLine
	for _, c := range codes {
		lines = append(lines, claim.ProcedureLine{ProcedureCode: c, Units: 2})
	}
	return claim.Encounter{
		ID:             id,
		OrganizationID: "org-1",
		DateOfService:  claim.NewDate(2026, time.October, 1),
		PlaceOfService: "11",
		Patient: &claim.Patient{
			ID: "p-" + id, FirstName: "Ann", LastName: "Lee",
			DateOfBirth: claim.NewDate(1980, time.January, 15), Gender: "F",
			Address: claim.Address{Line1: "1 Elm St", City: "Springfield", State: "IL", PostalCode: "62701"},
		},
		RenderingProvider: &claim.Provider{ID: "dr-1", FirstName: "Sam", LastName: "Park", NPI: "1987654321"},
		DiagnosisCodes:    []string{"E11.9"},
		Lines:             lines,
	}
}

func feeSchedule(prices map[string]float64) pricing.Resolver {
	return pricing.ResolverFunc(func(_ context.Context, _, _, code string) (pricing.Quote, error) {
		price, ok := prices[code]
		if !ok {
			return pricing.Quote{Success: false}, nil
		}
		return pricing.Quote{Success: true, UnitPrice: price, Rule: claim.RulePerUnit}, nil
	})
}

type fixture struct {
	svc      *Service
	store    *submission.MemoryStore
	observer *recorder
	outDir   string
	mailbox  string
}

func newFixture(t *testing.T, uploader transport.Uploader, snapshots Snapshots) *fixture {
	t.Helper()
	cfg := encoder.DefaultConfig()
	cfg.SenderID = "SENDER01"
	cfg.ReceiverID = "0431"
	cfg.Now = func() time.Time { return fixedNow }
	gen, err := encoder.New(cfg, nil)
	if err != nil {
		t.Fatalf("encoder.New: %v", err)
	}

	f := &fixture{
		store:    submission.NewMemoryStore(),
		observer: &recorder{},
		outDir:   filepath.Join(t.TempDir(), "outbound"),
		mailbox:  filepath.Join(t.TempDir(), "mailbox"),
	}
	if uploader == nil {
		uploader = transport.NewDirectoryUploader(f.mailbox)
	}
	f.svc, err = NewService(f.outDir, Dependencies{
		Generator: gen,
		Store:     f.store,
		Pricer:    pricing.NewPricer(feeSchedule(map[string]float64{"99213": 75, "J1100": 1.25}), nil),
		Snapshots: snapshots,
		Uploader:  uploader,
		Observer:  f.observer,
	}, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return f
}

func eventTypes(t *testing.T, store submission.Store, id string) []string {
	t.Helper()
	events, err := store.GetEvents(context.Background(), id)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	var out []string
	for _, e := range events {
		out = append(out, string(e.EventType))
	}
	return out
}

func TestGenerateInlineBatch(t *testing.T) {
	f := newFixture(t, nil, nil)
	req := &Request{
		Organization: testOrg(),
		Encounters:   []claim.Encounter{testEncounter("e1", "99213"), testEncounter("e2", "96372", "J1100", "80053")},
	}
	outcome, err := f.svc.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	cf := outcome.ClaimFile
	if cf.Status != submission.StatusGenerated || cf.TransactionCount != 2 {
		t.Errorf("unexpected summary %+v", cf)
	}
	if cf.OrganizationID != "org-1" || strings.Join(cf.EncounterIDs, ",") != "e1,e2" {
		t.Errorf("ids not carried: %+v", cf)
	}
	if !filepath.IsAbs(cf.LocalPath) || filepath.Base(cf.LocalPath) != cf.Filename {
		t.Errorf("local path %q / filename %q", cf.LocalPath, cf.Filename)
	}

	data, err := os.ReadFile(cf.LocalPath)
	if err != nil {
		t.Fatalf("read claim file: %v", err)
	}
	if err := encoder.Verify(string(data)); err != nil {
		t.Errorf("written file does not verify: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "SV1*HC:99213*150.00*UN*2***1") {
		t.Error("priced per-unit charge missing from SV1")
	}
	// 96372 and 80053 have no fee schedule entry: both billed at zero
	if len(outcome.SoftFailures) != 2 || f.observer.softFailures != 2 {
		t.Errorf("soft failures = %+v (observer %d)", outcome.SoftFailures, f.observer.softFailures)
	}
	if !strings.Contains(content, "SV1*HC:80053*0.00*UN*2***1") {
		t.Error("unresolved line must be billed at zero")
	}

	if f.observer.generated != 1 || f.observer.transactions != 2 {
		t.Errorf("observer generated=%d transactions=%d", f.observer.generated, f.observer.transactions)
	}
	if got := eventTypes(t, f.store, cf.ClaimFileID); strings.Join(got, ",") != "ClaimFileGenerated" {
		t.Errorf("events = %v", got)
	}
}

func TestGenerateIsIdempotent(t *testing.T) {
	f := newFixture(t, nil, nil)
	batch := []claim.Encounter{testEncounter("e1", "99213"), testEncounter("e2", "99213")}

	first, err := f.svc.Generate(context.Background(), &Request{Organization: testOrg(), Encounters: batch})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	reordered := []claim.Encounter{batch[1], batch[0]}
	second, err := f.svc.Generate(context.Background(), &Request{Organization: testOrg(), Encounters: reordered})
	if err != nil {
		t.Fatalf("second Generate: %v", err)
	}
	if !second.Duplicate || second.ClaimFile.ClaimFileID != first.ClaimFile.ClaimFileID {
		t.Errorf("expected duplicate of %s, got %+v", first.ClaimFile.ClaimFileID, second)
	}
	if f.observer.generated != 1 {
		t.Errorf("file generated %d times", f.observer.generated)
	}
	if got := eventTypes(t, f.store, first.ClaimFile.ClaimFileID); len(got) != 1 {
		t.Errorf("events = %v", got)
	}
}

func TestGenerateRejectsInvalidBatch(t *testing.T) {
	f := newFixture(t, nil, nil)
	bad := testEncounter("e1", "99213")
	bad.DiagnosisCodes = nil

	outcome, err := f.svc.Generate(context.Background(), &Request{Organization: testOrg(), Encounters: []claim.Encounter{bad}})
	var verr *claim.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want validation error", err)
	}
	if len(outcome.ClaimFile.Violations) != 1 || !strings.Contains(outcome.ClaimFile.Violations[0], "diagnosis") {
		t.Errorf("violations = %v", outcome.ClaimFile.Violations)
	}
	if len(f.observer.rejected) != 1 || f.observer.rejected[0] != RejectValidation {
		t.Errorf("rejections = %v", f.observer.rejected)
	}
	entries, _ := os.ReadDir(f.outDir)
	if len(entries) != 0 {
		t.Errorf("rejected batch must not write a file, found %d entries", len(entries))
	}
	if got := eventTypes(t, f.store, outcome.ClaimFile.ClaimFileID); strings.Join(got, ",") != "ClaimBatchRejected" {
		t.Errorf("events = %v", got)
	}
}

func TestGenerateAfterCorrectingRejectedBatch(t *testing.T) {
	f := newFixture(t, nil, nil)
	bad := testEncounter("enc-1", "99213")
	bad.RenderingProvider.NPI = ""

	rejected, err := f.svc.Generate(context.Background(), &Request{Organization: testOrg(), Encounters: []claim.Encounter{bad}})
	var verr *claim.ValidationError
	if !errors.As(err, &verr) || !strings.Contains(err.Error(), "rendering provider NPI is required") {
		t.Fatalf("first attempt error = %v", err)
	}

	fixed := testEncounter("enc-1", "99213")
	outcome, err := f.svc.Generate(context.Background(), &Request{Organization: testOrg(), Encounters: []claim.Encounter{fixed}})
	if err != nil {
		t.Fatalf("corrected batch: %v", err)
	}
	cf := outcome.ClaimFile
	if outcome.Duplicate || cf.Status != submission.StatusGenerated {
		t.Fatalf("corrected batch was not regenerated: duplicate=%v status=%s", outcome.Duplicate, cf.Status)
	}
	if cf.ClaimFileID != rejected.ClaimFile.ClaimFileID {
		t.Errorf("claim file id changed: %s != %s", cf.ClaimFileID, rejected.ClaimFile.ClaimFileID)
	}
	if len(cf.Violations) != 0 {
		t.Errorf("violations of the rejected attempt carried over: %v", cf.Violations)
	}
	if _, err := os.Stat(cf.LocalPath); err != nil {
		t.Errorf("claim file not written: %v", err)
	}
	if got := eventTypes(t, f.store, cf.ClaimFileID); strings.Join(got, ",") != "ClaimBatchRejected,ClaimFileGenerated" {
		t.Errorf("events = %v", got)
	}

	again, err := f.svc.Generate(context.Background(), &Request{Organization: testOrg(), Encounters: []claim.Encounter{fixed}})
	if err != nil || !again.Duplicate {
		t.Errorf("generated batch must stay a duplicate: %+v, %v", again, err)
	}
	if f.observer.generated != 1 {
		t.Errorf("file generated %d times", f.observer.generated)
	}
}

func TestGenerateRecordsHardFault(t *testing.T) {
	f := newFixture(t, nil, nil)
	noDOB := testEncounter("e1", "99213")
	noDOB.Coverage = &claim.Coverage{
		SubscriberFirstName: "Bo", SubscriberLastName: "Lee",
		MemberID: "M1", Relationship: claim.RelationshipChild,
		PayerName: "ACME HEALTH", PayerID: "ACME1",
	}
	noDOB.Patient.DateOfBirth = claim.Date{}

	outcome, err := f.svc.Generate(context.Background(), &Request{Organization: testOrg(), Encounters: []claim.Encounter{noDOB}})
	var eerr *encoder.EncodeError
	if !errors.As(err, &eerr) || eerr.Code != encoder.CodeMissingPatientDOB {
		t.Fatalf("error = %v, want MISSING_PATIENT_DOB fault", err)
	}
	if outcome.ClaimFile.Status != submission.StatusRejected {
		t.Errorf("status = %s", outcome.ClaimFile.Status)
	}
	if len(f.observer.rejected) != 1 || f.observer.rejected[0] != RejectFault {
		t.Errorf("rejections = %v", f.observer.rejected)
	}
}

func TestGenerateAndUpload(t *testing.T) {
	f := newFixture(t, nil, nil)
	outcome, err := f.svc.Generate(context.Background(), &Request{
		Organization: testOrg(),
		Encounters:   []claim.Encounter{testEncounter("e1", "99213")},
		Upload:       true,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	cf := outcome.ClaimFile
	if cf.Status != submission.StatusUploaded || cf.UploadAttempts != 1 {
		t.Errorf("unexpected summary %+v", cf)
	}
	if _, err := os.Stat(filepath.Join(f.mailbox, cf.Filename)); err != nil {
		t.Errorf("file not in mailbox: %v", err)
	}
	if got := eventTypes(t, f.store, cf.ClaimFileID); strings.Join(got, ",") != "ClaimFileGenerated,ClaimFileUploaded" {
		t.Errorf("events = %v", got)
	}
}

func TestUploadFailureThenRetry(t *testing.T) {
	mailbox := filepath.Join(t.TempDir(), "mailbox")
	uploader := &flakyUploader{failures: 1, next: transport.NewDirectoryUploader(mailbox)}
	f := newFixture(t, uploader, nil)
	req := &Request{Organization: testOrg(), Encounters: []claim.Encounter{testEncounter("e1", "99213")}, Upload: true}

	outcome, err := f.svc.Generate(context.Background(), req)
	var uerr *transport.UploadError
	if !errors.As(err, &uerr) {
		t.Fatalf("error = %v, want upload error", err)
	}
	if outcome.ClaimFile.Status != submission.StatusUploadFailed || outcome.ClaimFile.LastError == "" {
		t.Errorf("unexpected summary %+v", outcome.ClaimFile)
	}

	retry := &Request{Organization: testOrg(), Encounters: []claim.Encounter{testEncounter("e1", "99213")}, Upload: true}
	outcome, err = f.svc.Generate(context.Background(), retry)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !outcome.Duplicate || outcome.ClaimFile.Status != submission.StatusUploaded || outcome.ClaimFile.UploadAttempts != 2 {
		t.Errorf("unexpected retry outcome %+v", outcome.ClaimFile)
	}
	if f.observer.generated != 1 {
		t.Errorf("retry must not regenerate, generated %d", f.observer.generated)
	}
	if len(f.observer.uploads) != 2 || f.observer.uploads[0] || !f.observer.uploads[1] {
		t.Errorf("upload outcomes = %v", f.observer.uploads)
	}

	if _, err := f.svc.Upload(context.Background(), outcome.ClaimFile.ClaimFileID); !errors.Is(err, submission.ErrAlreadyUpload) {
		t.Errorf("second upload = %v, want ErrAlreadyUpload", err)
	}
}

func TestGenerateFromSnapshots(t *testing.T) {
	snapshots := &fakeSnapshots{
		org: testOrg(),
		encounters: map[string]claim.Encounter{
			"e1": testEncounter("e1", "99213"),
			"e2": testEncounter("e2", "99213"),
		},
	}
	f := newFixture(t, nil, snapshots)

	outcome, err := f.svc.Generate(context.Background(), &Request{OrganizationID: "org-1", EncounterIDs: []string{"e2", "e1"}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if outcome.ClaimFile.TransactionCount != 2 {
		t.Errorf("transactions = %d", outcome.ClaimFile.TransactionCount)
	}

	status, err := f.svc.Status(context.Background(), outcome.ClaimFile.ClaimFileID)
	if err != nil || status.Status != submission.StatusGenerated {
		t.Errorf("Status = %+v, %v", status, err)
	}
	if _, err := f.svc.Generate(context.Background(), &Request{OrganizationID: "org-1", EncounterIDs: []string{"e9"}}); err == nil {
		t.Error("expected error for a missing snapshot")
	}
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	if _, err := f.svc.Generate(ctx, &Request{EncounterIDs: []string{"e1"}}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("missing organization: %v", err)
	}
	if _, err := f.svc.Generate(ctx, &Request{OrganizationID: "org-1"}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("missing encounters: %v", err)
	}
	if _, err := f.svc.Generate(ctx, &Request{OrganizationID: "org-1", EncounterIDs: []string{"e1"}}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("ids without a snapshot store: %v", err)
	}
	if _, err := f.svc.Status(ctx, "nope"); !errors.Is(err, submission.ErrNotFound) {
		t.Errorf("Status of unknown id: %v", err)
	}
	if _, err := f.svc.Events(ctx, "nope"); !errors.Is(err, submission.ErrNotFound) {
		t.Errorf("Events of unknown id: %v", err)
	}
}

func TestValidateOnly(t *testing.T) {
	f := newFixture(t, nil, nil)
	bad := testEncounter("e1", "96365")

	res, err := f.svc.Validate(context.Background(), &Request{Organization: testOrg(), Encounters: []claim.Encounter{bad}})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.OK() || !strings.Contains(res.Violations[0], "drug-supply") {
		t.Errorf("violations = %v", res.Violations)
	}
	entries, _ := os.ReadDir(f.outDir)
	if len(entries) != 0 {
		t.Error("Validate must not write files")
	}
}

func TestClaimFileIDIsStable(t *testing.T) {
	a := &Request{OrganizationID: "org-1", EncounterIDs: []string{"e1", "e2"}}
	b := &Request{OrganizationID: "org-1", EncounterIDs: []string{"e2", "e1"}}
	if err := a.Normalize(); err != nil {
		t.Fatal(err)
	}
	if err := b.Normalize(); err != nil {
		t.Fatal(err)
	}
	if a.ClaimFileID != b.ClaimFileID || a.ClaimFileID == "" {
		t.Errorf("ids %q / %q", a.ClaimFileID, b.ClaimFileID)
	}
	c := &Request{OrganizationID: "org-1", EncounterIDs: []string{"e1"}, ClaimFileID: "explicit"}
	if err := c.Normalize(); err != nil || c.ClaimFileID != "explicit" {
		t.Errorf("explicit id overwritten: %q", c.ClaimFileID)
	}
}

type capturePublisher struct {
	topic, key string
	value      []byte
}

func (c *capturePublisher) Publish(_ context.Context, topic, key string, value []byte) error {
	c.topic, c.key, c.value = topic, key, value
	return nil
}

func TestQueueRoundTrip(t *testing.T) {
	pub := &capturePublisher{}
	q := NewQueue(pub, "claims.generate.requests")

	req := &Request{OrganizationID: "org-1", EncounterIDs: []string{"e2", "e1"}, Upload: true}
	if err := q.Enqueue(context.Background(), req); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if pub.topic != "claims.generate.requests" || pub.key != req.ClaimFileID {
		t.Errorf("published to %s with key %s", pub.topic, pub.key)
	}

	decoded, err := DecodeRequest(pub.value)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if decoded.ClaimFileID != req.ClaimFileID || !decoded.Upload {
		t.Errorf("decoded %+v", decoded)
	}

	if err := q.Enqueue(context.Background(), &Request{}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("empty request: %v", err)
	}
	if _, err := DecodeRequest([]byte("{")); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("malformed message: %v", err)
	}
}
