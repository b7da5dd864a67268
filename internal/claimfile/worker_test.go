package claimfile

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/drfirst/go-edi837/internal/claim"
	"github.com/drfirst/go-edi837/internal/domain/submission"
	"github.com/drfirst/go-edi837/pkg/idempotency"
)

type memoryInbox struct {
	results map[string]json.RawMessage
	calls   int
	err     error
}

func (m *memoryInbox) Process(ctx context.Context, key, _ string, payload json.RawMessage, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	if res, ok := m.results[key]; ok {
		return &idempotency.ProcessResult{Result: res}, nil
	}
	m.calls++
	res, err := fn(ctx, payload)
	if err != nil {
		return nil, err
	}
	m.results[key] = res
	return &idempotency.ProcessResult{IsNew: true, Result: res}, nil
}

func encode(t *testing.T, req *Request) []byte {
	t.Helper()
	b, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestWorkerHandle(t *testing.T) {
	f := newFixture(t, nil, nil)
	inbox := &memoryInbox{results: map[string]json.RawMessage{}}
	w := NewWorker(f.svc, inbox, nil)

	msg := encode(t, &Request{Organization: testOrg(), Encounters: []claim.Encounter{testEncounter("e1", "99213")}})
	for i := 0; i < 2; i++ {
		raw, err := w.Handle(context.Background(), msg)
		if err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
		var outcome Outcome
		if err := json.Unmarshal(raw, &outcome); err != nil {
			t.Fatal(err)
		}
		if outcome.ClaimFile.Status != submission.StatusGenerated {
			t.Errorf("delivery %d status = %s", i+1, outcome.ClaimFile.Status)
		}
	}
	if inbox.calls != 1 || f.observer.generated != 1 {
		t.Errorf("handler ran %d times, generated %d files", inbox.calls, f.observer.generated)
	}
}

func TestWorkerRejectedBatchCompletes(t *testing.T) {
	f := newFixture(t, nil, nil)
	w := NewWorker(f.svc, nil, nil)

	raw, err := w.Handle(context.Background(), encode(t, &Request{
		Organization: testOrg(),
		Encounters:   []claim.Encounter{testEncounter("e1", "96365")},
	}))
	if err != nil {
		t.Fatalf("rejected batch must not fail the message: %v", err)
	}
	var outcome Outcome
	json.Unmarshal(raw, &outcome)
	if outcome.ClaimFile.Status != submission.StatusRejected {
		t.Errorf("status = %s", outcome.ClaimFile.Status)
	}
}

func TestWorkerPermanentFailures(t *testing.T) {
	f := newFixture(t, nil, nil)
	w := NewWorker(f.svc, nil, nil)

	if _, err := w.Handle(context.Background(), []byte("not json")); !idempotency.IsPermanent(err) {
		t.Errorf("malformed message: %v", err)
	}
	_, err := w.Handle(context.Background(), encode(t, &Request{OrganizationID: "org-1", EncounterIDs: []string{"e1"}}))
	if !idempotency.IsPermanent(err) || !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("by-id without snapshots: %v", err)
	}
}

func TestWorkerSkipsSettledMessages(t *testing.T) {
	f := newFixture(t, nil, nil)
	msg := encode(t, &Request{Organization: testOrg(), Encounters: []claim.Encounter{testEncounter("e1", "99213")}})

	for _, inboxErr := range []error{idempotency.ErrPreviouslyFailed, idempotency.ErrMessageInProgress} {
		w := NewWorker(f.svc, &memoryInbox{err: inboxErr}, nil)
		if raw, err := w.Handle(context.Background(), msg); err != nil || raw != nil {
			t.Errorf("%v: got %s, %v", inboxErr, raw, err)
		}
	}

	boom := errors.New("inbox unavailable")
	w := NewWorker(f.svc, &memoryInbox{err: boom}, nil)
	if _, err := w.Handle(context.Background(), msg); !errors.Is(err, boom) || idempotency.IsPermanent(err) {
		t.Errorf("inbox failure: %v", err)
	}
}

func TestWorkerProcessesCorrectedResubmission(t *testing.T) {
	f := newFixture(t, nil, nil)
	inbox := &memoryInbox{results: map[string]json.RawMessage{}}
	w := NewWorker(f.svc, inbox, nil)

	bad := testEncounter("e1", "99213")
	bad.DiagnosisCodes = nil
	first := encode(t, &Request{Organization: testOrg(), Encounters: []claim.Encounter{bad}})
	if _, err := w.Handle(context.Background(), first); err != nil {
		t.Fatalf("rejected delivery: %v", err)
	}

	raw, err := w.Handle(context.Background(), encode(t, &Request{Organization: testOrg(), Encounters: []claim.Encounter{testEncounter("e1", "99213")}}))
	if err != nil {
		t.Fatalf("corrected delivery: %v", err)
	}
	var outcome Outcome
	if err := json.Unmarshal(raw, &outcome); err != nil {
		t.Fatal(err)
	}
	if outcome.ClaimFile.Status != submission.StatusGenerated {
		t.Errorf("status = %s", outcome.ClaimFile.Status)
	}
	if inbox.calls != 2 {
		t.Errorf("handler ran %d times, want 2", inbox.calls)
	}
}

func TestDeliveryKey(t *testing.T) {
	req := &Request{OrganizationID: "org-1", EncounterIDs: []string{"e1"}}
	a := DeliveryKey(req, []byte(`{"a":1}`))
	if a != DeliveryKey(req, []byte(`{"a":1}`)) {
		t.Error("same bytes must share a key")
	}
	if a == DeliveryKey(req, []byte(`{"a":2}`)) {
		t.Error("different bytes must not share a key")
	}
}
