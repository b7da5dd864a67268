package submission

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/go-edi837/internal/infrastructure/postgres"
)

// ErrNotFound is returned when no events exist for a claim file
var ErrNotFound = errors.New("claim file not found")

// Store persists claim file aggregates
type Store interface {
	Save(ctx context.Context, agg *Aggregate) error
	Load(ctx context.Context, id string) (*Aggregate, error)
	GetEvents(ctx context.Context, id string) ([]*Event, error)
}

// Repository provides event sourcing persistence. Every saved event is also written
// to the outbox in the same transaction.
type Repository struct {
	pool        *pgxpool.Pool
	eventsTopic string
	logger      *zap.Logger
}

// NewRepository creates a new repository publishing lifecycle events to eventsTopic
func NewRepository(pool *pgxpool.Pool, eventsTopic string, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, eventsTopic: eventsTopic, logger: logger}
}

// Save persists new events for an aggregate
func (r *Repository) Save(ctx context.Context, agg *Aggregate) error {
	if len(agg.Changes()) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, event := range agg.Changes() {
		event.Version = agg.Version() - len(agg.Changes()) + i + 1
		if err := r.insertEvent(ctx, tx, event); err != nil {
			return err
		}
		if err := r.enqueue(ctx, tx, event); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	r.logger.Debug("claim file events saved",
		zap.String("claim_file_id", agg.ID()),
		zap.Int("events", len(agg.Changes())),
		zap.Int("version", agg.Version()))
	agg.ClearChanges()
	return nil
}

func (r *Repository) insertEvent(ctx context.Context, tx pgx.Tx, event *Event) error {
	query := `
		INSERT INTO claim_file_events
		(event_id, aggregate_id, event_type, event_data, version, timestamp, organization_id, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := tx.Exec(ctx, query,
		event.ID,
		event.AggregateID,
		event.EventType,
		event.EventData,
		event.Version,
		event.Timestamp,
		event.OrganizationID,
		event.CorrelationID,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (r *Repository) enqueue(ctx context.Context, tx pgx.Tx, event *Event) error {
	payload, err := marshalEvent(event)
	if err != nil {
		return err
	}
	return postgres.WriteEntry(ctx, tx, &postgres.OutboxEntry{
		AggregateID:   event.AggregateID,
		AggregateType: event.AggregateType,
		EventType:     string(event.EventType),
		Payload:       payload,
		KafkaTopic:    r.eventsTopic,
		KafkaKey:      event.AggregateID,
	})
}

// Load retrieves an aggregate by ID
func (r *Repository) Load(ctx context.Context, id string) (*Aggregate, error) {
	events, err := r.GetEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	agg := NewAggregate(id)
	agg.LoadFromHistory(events)
	return agg, nil
}

// GetEvents retrieves all events for an aggregate
func (r *Repository) GetEvents(ctx context.Context, aggregateID string) ([]*Event, error) {
	query := `
		SELECT event_id, aggregate_id, event_type, event_data, version, timestamp,
		       organization_id, correlation_id
		FROM claim_file_events
		WHERE aggregate_id = $1
		ORDER BY version ASC
	`

	rows, err := r.pool.Query(ctx, query, aggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{AggregateType: AggregateType}
		err := rows.Scan(
			&e.ID, &e.AggregateID, &e.EventType, &e.EventData, &e.Version,
			&e.Timestamp, &e.OrganizationID, &e.CorrelationID,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
