package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-edi837/internal/claim"
)

// ErrSnapshotNotFound is returned when an organization or encounter snapshot is missing
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore reads and writes the JSONB billing snapshots the encoder consumes.
// Snapshots are written by the billing system and treated as read-only here.
type SnapshotStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

// NewSnapshotStore creates a snapshot store
func NewSnapshotStore(pool *pgxpool.Pool, logger *zap.Logger) *SnapshotStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotStore{pool: pool, logger: logger, tracer: otel.Tracer("snapshot-store")}
}

// LoadOrganization returns the billing organization snapshot
func (s *SnapshotStore) LoadOrganization(ctx context.Context, id string) (*claim.Organization, error) {
	ctx, span := s.tracer.Start(ctx, "load_organization",
		trace.WithAttributes(attribute.String("organization_id", id)))
	defer span.End()

	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT snapshot FROM billing_organizations WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: organization %s", ErrSnapshotNotFound, id)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("load organization: %w", err)
	}

	var org claim.Organization
	if err := json.Unmarshal(raw, &org); err != nil {
		return nil, fmt.Errorf("decode organization %s: %w", id, err)
	}
	if org.ID == "" {
		org.ID = id
	}
	return &org, nil
}

// LoadEncounters returns the encounter snapshots of one organization in the order
// the ids were given. Every id must exist.
func (s *SnapshotStore) LoadEncounters(ctx context.Context, organizationID string, ids []string) ([]claim.Encounter, error) {
	ctx, span := s.tracer.Start(ctx, "load_encounters",
		trace.WithAttributes(
			attribute.String("organization_id", organizationID),
			attribute.Int("requested", len(ids)),
		))
	defer span.End()

	query := `
		SELECT id, snapshot
		FROM encounter_snapshots
		WHERE organization_id = $1 AND id = ANY($2)
	`
	rows, err := s.pool.Query(ctx, query, organizationID, ids)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("load encounters: %w", err)
	}
	defer rows.Close()

	found := make(map[string]claim.Encounter, len(ids))
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan encounter: %w", err)
		}
		var enc claim.Encounter
		if err := json.Unmarshal(raw, &enc); err != nil {
			return nil, fmt.Errorf("decode encounter %s: %w", id, err)
		}
		enc.ID = id
		enc.OrganizationID = organizationID
		found[id] = enc
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	encounters, missing := orderSnapshots(ids, found)
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: encounters %s", ErrSnapshotNotFound, strings.Join(missing, ", "))
	}

	s.logger.Debug("encounter snapshots loaded",
		zap.String("organization_id", organizationID),
		zap.Int("count", len(encounters)))
	return encounters, nil
}

// SaveOrganization upserts an organization snapshot
func (s *SnapshotStore) SaveOrganization(ctx context.Context, org *claim.Organization) error {
	raw, err := json.Marshal(org)
	if err != nil {
		return fmt.Errorf("encode organization: %w", err)
	}
	query := `
		INSERT INTO billing_organizations (id, snapshot, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()
	`
	if _, err := s.pool.Exec(ctx, query, org.ID, raw); err != nil {
		return fmt.Errorf("save organization: %w", err)
	}
	return nil
}

// SaveEncounter upserts an encounter snapshot
func (s *SnapshotStore) SaveEncounter(ctx context.Context, enc *claim.Encounter) error {
	if enc.ID == "" || enc.OrganizationID == "" {
		return errors.New("encounter id and organization id are required")
	}
	raw, err := json.Marshal(enc)
	if err != nil {
		return fmt.Errorf("encode encounter: %w", err)
	}
	query := `
		INSERT INTO encounter_snapshots (id, organization_id, snapshot, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE
		SET organization_id = EXCLUDED.organization_id, snapshot = EXCLUDED.snapshot, updated_at = NOW()
	`
	if _, err := s.pool.Exec(ctx, query, enc.ID, enc.OrganizationID, raw); err != nil {
		return fmt.Errorf("save encounter: %w", err)
	}
	return nil
}

// orderSnapshots arranges found in the order of ids. Duplicate ids yield duplicate
// encounters so the validation gate can report them.
func orderSnapshots(ids []string, found map[string]claim.Encounter) ([]claim.Encounter, []string) {
	out := make([]claim.Encounter, 0, len(ids))
	var missing []string
	for _, id := range ids {
		enc, ok := found[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		out = append(out, enc)
	}
	return out, missing
}
