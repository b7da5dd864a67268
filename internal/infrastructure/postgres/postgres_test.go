package postgres

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/drfirst/go-edi837/internal/claim"
)

func TestOrderSnapshots(t *testing.T) {
	found := map[string]claim.Encounter{
		"e1": {ID: "e1"},
		"e2": {ID: "e2"},
	}

	got, missing := orderSnapshots([]string{"e2", "e9", "e1", "e2"}, found)
	if len(missing) != 1 || missing[0] != "e9" {
		t.Errorf("missing = %v, want [e9]", missing)
	}
	var ids []string
	for _, enc := range got {
		ids = append(ids, enc.ID)
	}
	if strings.Join(ids, ",") != "e2,e1,e2" {
		t.Errorf("order = %v, want requested order with duplicates kept", ids)
	}
}

func TestNormalizeRule(t *testing.T) {
	tests := map[string]claim.PricingRule{
		"flat":      claim.RuleFlat,
		" FLAT ":    claim.RuleFlat,
		"flat_rate": claim.RuleFlat,
		"per_unit":  claim.RulePerUnit,
		"per-unit":  claim.RulePerUnit,
		"tiered":    claim.PricingRule("tiered"),
	}
	for in, want := range tests {
		if got := normalizeRule(in); got != want {
			t.Errorf("normalizeRule(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewDeadLetter(t *testing.T) {
	lastErr := "broker unavailable"
	entry := &OutboxEntry{
		AggregateID: "cf-1",
		EventType:   "ClaimFileGenerated",
		Payload:     json.RawMessage(`{"a":1}`),
		KafkaTopic:  "claimfile.events",
		RetryCount:  5,
		LastError:   &lastErr,
		CreatedAt:   time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
	}

	raw, err := json.Marshal(NewDeadLetter(entry))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["original_topic"] != "claimfile.events" || decoded["last_error"] != lastErr {
		t.Errorf("unexpected dead letter: %s", raw)
	}
	if payload, ok := decoded["payload"].(map[string]interface{}); !ok || payload["a"] != float64(1) {
		t.Errorf("payload must be embedded as JSON, got %s", raw)
	}
}

func TestSchemaDeclaresEveryTable(t *testing.T) {
	schema := Schema()
	for _, table := range []string{
		"claim_file_events", "outbox", "inbox",
		"billing_organizations", "encounter_snapshots", "fee_schedules",
	} {
		if !strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Errorf("schema is missing table %s", table)
		}
	}
}

func TestNewOutboxAppliesDefaults(t *testing.T) {
	o := NewOutbox(nil, nil, OutboxConfig{BatchSize: 10}, nil)
	if o.config.BatchSize != 10 {
		t.Errorf("batch size overridden: %d", o.config.BatchSize)
	}
	def := DefaultOutboxConfig()
	if o.config.DeadLetterTopic != def.DeadLetterTopic || o.config.LockID != def.LockID || o.config.MaxRetries != def.MaxRetries {
		t.Errorf("defaults not applied: %+v", o.config)
	}
}
