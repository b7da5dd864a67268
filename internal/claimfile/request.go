package claimfile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/drfirst/go-edi837/internal/claim"
	"github.com/drfirst/go-edi837/pkg/idempotency"
)

// ErrInvalidRequest is returned for requests that name no organization or no encounters
var ErrInvalidRequest = errors.New("invalid claim file request")

// claimFileNamespace derives claim file ids from idempotency keys
var claimFileNamespace = uuid.MustParse("6f0d3f2e-8c37-5e0b-9a1d-83750050100a")

// Request asks for one claim file. Encounters and the organization are either sent
// inline or referenced by id and loaded from the snapshot store.
type Request struct {
	ClaimFileID    string              `json:"claim_file_id,omitempty"`
	OrganizationID string              `json:"organization_id"`
	EncounterIDs   []string            `json:"encounter_ids,omitempty"`
	Organization   *claim.Organization `json:"organization,omitempty"`
	Encounters     []claim.Encounter   `json:"encounters,omitempty"`
	Upload         bool                `json:"upload"`
	CorrelationID  string              `json:"correlation_id,omitempty"`
}

// Normalize fills the organization id and encounter ids from inline snapshots and
// checks that the request is complete.
func (r *Request) Normalize() error {
	if r.OrganizationID == "" && r.Organization != nil {
		r.OrganizationID = r.Organization.ID
	}
	if len(r.EncounterIDs) == 0 {
		for _, enc := range r.Encounters {
			r.EncounterIDs = append(r.EncounterIDs, enc.ID)
		}
	}

	if strings.TrimSpace(r.OrganizationID) == "" {
		return fmt.Errorf("%w: organization_id or organization is required", ErrInvalidRequest)
	}
	if len(r.Encounters) == 0 && len(r.EncounterIDs) == 0 {
		return fmt.Errorf("%w: encounters or encounter_ids are required", ErrInvalidRequest)
	}
	if r.ClaimFileID == "" {
		r.ClaimFileID = ClaimFileID(r.IdempotencyKey())
	}
	return nil
}

// Inline reports whether the request carries its own snapshots
func (r *Request) Inline() bool {
	return len(r.Encounters) > 0
}

// IdempotencyKey identifies the batch independent of encounter order
func (r *Request) IdempotencyKey() string {
	return idempotency.GenerateKey(r.OrganizationID, r.EncounterIDs)
}

// ClaimFileID derives a stable claim file id from an idempotency key, so a
// resubmitted batch maps onto the existing claim file.
func ClaimFileID(key string) string {
	return uuid.NewSHA1(claimFileNamespace, []byte(key)).String()
}
