package claimfile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/drfirst/go-edi837/internal/claim"
	"github.com/drfirst/go-edi837/internal/encoder"
	"github.com/drfirst/go-edi837/internal/infrastructure/postgres"
	"github.com/drfirst/go-edi837/pkg/idempotency"
)

// HandlerName identifies the worker in the inbox table
const HandlerName = "claims-worker.generate"

// Inbox runs a handler at most once per idempotency key
type Inbox interface {
	Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error)
}

// Worker processes queued generation requests
type Worker struct {
	svc    *Service
	inbox  Inbox
	logger *zap.Logger
}

// NewWorker creates a worker. A nil inbox processes every delivery.
func NewWorker(svc *Service, inbox Inbox, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{svc: svc, inbox: inbox, logger: logger}
}

// Handle decodes and generates one queued request. A rejected batch is a completed
// request: the rejection is recorded on the claim file. Errors wrapped with
// idempotency.Permanent must not be retried; anything else may be.
func (w *Worker) Handle(ctx context.Context, value []byte) (json.RawMessage, error) {
	req, err := DecodeRequest(value)
	if err != nil {
		return nil, idempotency.Permanent(err)
	}

	if w.inbox == nil {
		return w.generate(ctx, req)
	}

	res, err := w.inbox.Process(ctx, DeliveryKey(req, value), HandlerName, value,
		func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			return w.generate(ctx, req)
		})
	switch {
	case errors.Is(err, idempotency.ErrPreviouslyFailed):
		w.logger.Info("skipping request that already failed permanently",
			zap.String("claim_file_id", req.ClaimFileID))
		return nil, nil
	case errors.Is(err, idempotency.ErrMessageInProgress), errors.Is(err, idempotency.ErrDuplicateMessage):
		w.logger.Info("request is handled by another delivery",
			zap.String("claim_file_id", req.ClaimFileID), zap.Error(err))
		return nil, nil
	case err != nil:
		return nil, err
	}
	if !res.IsNew && !res.WasRecovered {
		w.logger.Debug("duplicate delivery", zap.String("claim_file_id", req.ClaimFileID))
	}
	return res.Result, nil
}

func (w *Worker) generate(ctx context.Context, req *Request) (json.RawMessage, error) {
	outcome, err := w.svc.Generate(ctx, req)
	if err != nil {
		var verr *claim.ValidationError
		var eerr *encoder.EncodeError
		switch {
		case errors.As(err, &verr), errors.As(err, &eerr):
			// Recorded as ClaimBatchRejected
		case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrUploadUnavailable),
			errors.Is(err, postgres.ErrSnapshotNotFound):
			return nil, idempotency.Permanent(err)
		default:
			return nil, err
		}
	}
	return json.Marshal(outcome)
}

// DeliveryKey identifies one queued message: redeliveries of the same bytes share a
// key, while a corrected resubmission of the same batch gets a new one. The service
// itself still deduplicates on the claim file id.
func DeliveryKey(req *Request, value []byte) string {
	sum := sha256.Sum256(value)
	return req.IdempotencyKey() + ":" + hex.EncodeToString(sum[:8])
}
