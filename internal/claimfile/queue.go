package claimfile

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher sends a keyed message to a topic
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Queue hands generation requests to the worker. Messages are keyed by claim file id
// so every request for the same batch lands on the same partition.
type Queue struct {
	publisher Publisher
	topic     string
}

// NewQueue creates a queue publishing to topic
func NewQueue(publisher Publisher, topic string) *Queue {
	return &Queue{publisher: publisher, topic: topic}
}

// Enqueue normalizes and publishes a request
func (q *Queue) Enqueue(ctx context.Context, req *Request) error {
	if err := req.Normalize(); err != nil {
		return err
	}
	value, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if err := q.publisher.Publish(ctx, q.topic, req.ClaimFileID, value); err != nil {
		return fmt.Errorf("enqueue claim file %s: %w", req.ClaimFileID, err)
	}
	return nil
}

// DecodeRequest parses a queued request
func DecodeRequest(value []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(value, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := req.Normalize(); err != nil {
		return nil, err
	}
	return &req, nil
}
