// Package claimfile runs the claim file pipeline shared by the API, the worker and the
// command line tool: load snapshots, price, generate, persist, verify, optionally
// upload, and record each step on the submission aggregate.
package claimfile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-edi837/internal/claim"
	"github.com/drfirst/go-edi837/internal/domain/submission"
	"github.com/drfirst/go-edi837/internal/encoder"
	"github.com/drfirst/go-edi837/internal/pricing"
	"github.com/drfirst/go-edi837/internal/transport"
)

// ErrUploadUnavailable is returned when an upload is requested without an uploader
var ErrUploadUnavailable = errors.New("no clearinghouse uploader configured")

// Snapshots loads billing snapshots by id
type Snapshots interface {
	LoadOrganization(ctx context.Context, id string) (*claim.Organization, error)
	LoadEncounters(ctx context.Context, organizationID string, ids []string) ([]claim.Encounter, error)
}

// Observer receives pipeline outcomes, typically Prometheus metrics
type Observer interface {
	FileGenerated(transactions int, elapsed time.Duration)
	BatchRejected(reason string)
	SoftFailures(n int)
	Uploaded(ok bool)
}

// Rejection reasons passed to Observer.BatchRejected
const (
	RejectValidation = "validation"
	RejectFault      = "fault"
)

// Dependencies wires the service. Generator and Store are required.
type Dependencies struct {
	Generator *encoder.Generator
	Store     submission.Store
	Pricer    *pricing.Pricer
	Snapshots Snapshots
	Uploader  transport.Uploader
	Observer  Observer
}

// Summary is the externally visible state of a claim file. It never carries claim
// content or patient data.
type Summary struct {
	ClaimFileID              string            `json:"claim_file_id"`
	Status                   submission.Status `json:"status"`
	OrganizationID           string            `json:"organization_id,omitempty"`
	Filename                 string            `json:"filename,omitempty"`
	LocalPath                string            `json:"local_path,omitempty"`
	RemotePath               string            `json:"remote_path,omitempty"`
	InterchangeControlNumber string            `json:"interchange_control_number,omitempty"`
	TransactionCount         int               `json:"transaction_count"`
	EncounterIDs             []string          `json:"encounter_ids,omitempty"`
	Violations               []string          `json:"violations,omitempty"`
	UploadAttempts           int               `json:"upload_attempts"`
	LastError                string            `json:"last_error,omitempty"`
	UpdatedAt                time.Time         `json:"updated_at"`
}

// SummaryOf projects an aggregate
func SummaryOf(agg *submission.Aggregate) *Summary {
	return &Summary{
		ClaimFileID:              agg.ID(),
		Status:                   agg.Status(),
		OrganizationID:           agg.OrganizationID(),
		Filename:                 agg.Filename(),
		LocalPath:                agg.LocalPath(),
		RemotePath:               agg.RemotePath(),
		InterchangeControlNumber: agg.InterchangeControlNumber(),
		TransactionCount:         agg.TransactionCount(),
		EncounterIDs:             agg.EncounterIDs(),
		Violations:               agg.Violations(),
		UploadAttempts:           agg.UploadAttempts(),
		LastError:                agg.LastError(),
		UpdatedAt:                agg.UpdatedAt(),
	}
}

// Outcome is the result of one Generate call
type Outcome struct {
	ClaimFile    *Summary              `json:"claim_file"`
	SoftFailures []pricing.SoftFailure `json:"soft_failures,omitempty"`
	// Duplicate is true when the batch had already been processed and nothing ran
	Duplicate bool `json:"duplicate"`
}

// Service runs the claim file pipeline
type Service struct {
	generator *encoder.Generator
	store     submission.Store
	pricer    *pricing.Pricer
	snapshots Snapshots
	uploader  transport.Uploader
	observer  Observer
	outputDir string
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewService creates the service writing files under outputDir
func NewService(outputDir string, deps Dependencies, logger *zap.Logger) (*Service, error) {
	if deps.Generator == nil {
		return nil, errors.New("claimfile: generator is required")
	}
	if deps.Store == nil {
		return nil, errors.New("claimfile: submission store is required")
	}
	if outputDir == "" {
		return nil, errors.New("claimfile: output directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Pricer == nil {
		deps.Pricer = pricing.NewPricer(nil, logger)
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}

	return &Service{
		generator: deps.Generator,
		store:     deps.Store,
		pricer:    deps.Pricer,
		snapshots: deps.Snapshots,
		uploader:  deps.Uploader,
		observer:  deps.Observer,
		outputDir: outputDir,
		logger:    logger,
		tracer:    otel.Tracer("claimfile"),
	}, nil
}

// Validate runs the pre-flight gate over the request's encounters without generating
// anything.
func (s *Service) Validate(ctx context.Context, req *Request) (claim.ValidationResult, error) {
	ctx, span := s.tracer.Start(ctx, "claimfile.validate")
	defer span.End()

	if err := req.Normalize(); err != nil {
		return claim.ValidationResult{}, err
	}
	encounters, org, err := s.resolve(ctx, req)
	if err != nil {
		span.RecordError(err)
		return claim.ValidationResult{}, err
	}
	res := claim.Validate(encounters, org)
	span.SetAttributes(attribute.Int("violations", len(res.Violations)))
	return res, nil
}

// Generate produces, persists and records the claim file for a request. A batch that
// was already generated returns its recorded state with Duplicate set (and retries
// the upload when asked and the last one failed). A batch whose last attempt was
// rejected runs the whole pipeline again. A rejected batch returns both the
// outcome and the *claim.ValidationError or *encoder.EncodeError behind it.
func (s *Service) Generate(ctx context.Context, req *Request) (*Outcome, error) {
	start := time.Now()
	if err := req.Normalize(); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "claimfile.generate",
		trace.WithAttributes(
			attribute.String("claim_file_id", req.ClaimFileID),
			attribute.String("organization_id", req.OrganizationID),
			attribute.Int("encounters", len(req.EncounterIDs)),
		))
	defer span.End()

	log := s.logger.With(
		zap.String("claim_file_id", req.ClaimFileID),
		zap.String("organization_id", req.OrganizationID))

	agg, err := s.store.Load(ctx, req.ClaimFileID)
	switch {
	case err == nil && !agg.Retryable():
		return s.resume(ctx, agg, req)
	case err == nil:
		// The last attempt was rejected; the caller may have corrected the snapshots
		log.Info("regenerating previously rejected batch", zap.Int("version", agg.Version()))
	case errors.Is(err, submission.ErrNotFound):
		agg = submission.NewAggregate(req.ClaimFileID)
	default:
		span.RecordError(err)
		return nil, fmt.Errorf("load claim file: %w", err)
	}
	agg.SetCorrelationID(req.CorrelationID)

	encounters, org, err := s.resolve(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	priced, err := s.price(ctx, encounters)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	outcome := &Outcome{SoftFailures: priced.SoftFailures}

	file, genErr := s.generator.Generate(priced.Encounters, org)
	if genErr != nil {
		span.RecordError(genErr)
		span.SetStatus(codes.Error, "batch rejected")
		if err := s.reject(ctx, agg, req, genErr); err != nil {
			return nil, err
		}
		log.Warn("claim batch rejected", zap.Error(genErr))
		outcome.ClaimFile = SummaryOf(agg)
		return outcome, genErr
	}

	path, err := encoder.WriteFile(s.outputDir, file)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := encoder.Verify(file.Content); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("generated file %s failed verification: %w", file.Filename, err)
	}

	sum := sha256.Sum256([]byte(file.Content))
	if err := agg.Generate(&submission.ClaimFileGeneratedData{
		OrganizationID:           req.OrganizationID,
		Filename:                 file.Filename,
		LocalPath:                path,
		ContentSHA256:            hex.EncodeToString(sum[:]),
		InterchangeControlNumber: file.InterchangeControlNumber,
		GroupControlNumber:       file.GroupControlNumber,
		TransactionCount:         file.TransactionCount,
		EncounterIDs:             req.EncounterIDs,
		ZeroPricedLines:          len(priced.SoftFailures),
		GeneratedAt:              file.GeneratedAt,
	}); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, agg); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("save claim file: %w", err)
	}

	s.observer.FileGenerated(file.TransactionCount, time.Since(start))
	log.Info("claim file generated",
		zap.String("filename", file.Filename),
		zap.String("interchange_control_number", file.InterchangeControlNumber),
		zap.Int("transactions", file.TransactionCount),
		zap.Int("zero_priced_lines", len(priced.SoftFailures)))

	if req.Upload {
		if err := s.upload(ctx, agg); err != nil {
			outcome.ClaimFile = SummaryOf(agg)
			return outcome, err
		}
	}

	outcome.ClaimFile = SummaryOf(agg)
	return outcome, nil
}

// Upload sends an already generated claim file to the clearinghouse
func (s *Service) Upload(ctx context.Context, claimFileID string) (*Summary, error) {
	agg, err := s.store.Load(ctx, claimFileID)
	if err != nil {
		return nil, err
	}
	if err := s.upload(ctx, agg); err != nil {
		return SummaryOf(agg), err
	}
	return SummaryOf(agg), nil
}

// Status returns the current state of a claim file
func (s *Service) Status(ctx context.Context, claimFileID string) (*Summary, error) {
	agg, err := s.store.Load(ctx, claimFileID)
	if err != nil {
		return nil, err
	}
	return SummaryOf(agg), nil
}

// Events returns the lifecycle events of a claim file
func (s *Service) Events(ctx context.Context, claimFileID string) ([]*submission.Event, error) {
	events, err := s.store.GetEvents(ctx, claimFileID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %s", submission.ErrNotFound, claimFileID)
	}
	return events, nil
}

func (s *Service) resume(ctx context.Context, agg *submission.Aggregate, req *Request) (*Outcome, error) {
	outcome := &Outcome{Duplicate: true}
	retry := req.Upload && s.uploader != nil && agg.Status() == submission.StatusUploadFailed
	if retry {
		if err := s.upload(ctx, agg); err != nil {
			outcome.ClaimFile = SummaryOf(agg)
			return outcome, err
		}
	}
	s.logger.Info("claim file already processed",
		zap.String("claim_file_id", agg.ID()),
		zap.String("status", string(agg.Status())),
		zap.Bool("upload_retried", retry))
	outcome.ClaimFile = SummaryOf(agg)
	return outcome, nil
}

func (s *Service) resolve(ctx context.Context, req *Request) ([]claim.Encounter, *claim.Organization, error) {
	org := req.Organization
	encounters := req.Encounters

	if org == nil || !req.Inline() {
		if s.snapshots == nil {
			return nil, nil, fmt.Errorf("%w: snapshots by id are not available, send them inline", ErrInvalidRequest)
		}
	}
	if org == nil {
		loaded, err := s.snapshots.LoadOrganization(ctx, req.OrganizationID)
		if err != nil {
			return nil, nil, err
		}
		org = loaded
	}
	if !req.Inline() {
		loaded, err := s.snapshots.LoadEncounters(ctx, req.OrganizationID, req.EncounterIDs)
		if err != nil {
			return nil, nil, err
		}
		encounters = loaded
	}
	return encounters, org, nil
}

func (s *Service) price(ctx context.Context, encounters []claim.Encounter) (*pricing.Result, error) {
	ctx, span := s.tracer.Start(ctx, "claimfile.price")
	defer span.End()

	res, err := s.pricer.PriceEncounters(ctx, encounters)
	if err != nil {
		return nil, fmt.Errorf("price encounters: %w", err)
	}
	span.SetAttributes(attribute.Int("soft_failures", len(res.SoftFailures)))
	s.observer.SoftFailures(len(res.SoftFailures))
	return res, nil
}

func (s *Service) reject(ctx context.Context, agg *submission.Aggregate, req *Request, cause error) error {
	data := &submission.BatchRejectedData{
		OrganizationID: req.OrganizationID,
		EncounterIDs:   req.EncounterIDs,
	}
	reason := RejectFault

	var verr *claim.ValidationError
	var eerr *encoder.EncodeError
	switch {
	case errors.As(cause, &verr):
		data.Violations = verr.Violations
		reason = RejectValidation
	case errors.As(cause, &eerr):
		data.Fault = eerr.Error()
		data.FaultCode = eerr.Code
	default:
		data.Fault = cause.Error()
	}

	if err := agg.Reject(data); err != nil {
		return err
	}
	if err := s.store.Save(ctx, agg); err != nil {
		return fmt.Errorf("save rejected claim file: %w", err)
	}
	s.observer.BatchRejected(reason)
	return nil
}

func (s *Service) upload(ctx context.Context, agg *submission.Aggregate) error {
	if s.uploader == nil {
		return ErrUploadUnavailable
	}
	if agg.Status() != submission.StatusGenerated && agg.Status() != submission.StatusUploadFailed {
		if agg.Status() == submission.StatusUploaded {
			return submission.ErrAlreadyUpload
		}
		return submission.ErrNotGenerated
	}

	ctx, span := s.tracer.Start(ctx, "claimfile.upload",
		trace.WithAttributes(
			attribute.String("claim_file_id", agg.ID()),
			attribute.String("filename", agg.Filename()),
		))
	defer span.End()

	result, upErr := s.uploader.Upload(ctx, agg.LocalPath(), agg.Filename())
	if upErr != nil {
		span.RecordError(upErr)
		s.observer.Uploaded(false)
		if err := agg.MarkUploadFailed(upErr); err != nil {
			return err
		}
		if err := s.store.Save(ctx, agg); err != nil {
			return fmt.Errorf("save upload failure: %w", err)
		}
		s.logger.Warn("claim file upload failed",
			zap.String("claim_file_id", agg.ID()),
			zap.Int("attempt", agg.UploadAttempts()),
			zap.Error(upErr))
		return upErr
	}

	s.observer.Uploaded(true)
	if err := agg.MarkUploaded(result.RemotePath, result.Bytes); err != nil {
		return err
	}
	if err := s.store.Save(ctx, agg); err != nil {
		return fmt.Errorf("save upload: %w", err)
	}
	s.logger.Info("claim file uploaded",
		zap.String("claim_file_id", agg.ID()),
		zap.String("remote_path", result.RemotePath),
		zap.Int64("bytes", result.Bytes),
		zap.Duration("duration", result.Duration))
	return nil
}

type nopObserver struct{}

func (nopObserver) FileGenerated(int, time.Duration) {}
func (nopObserver) BatchRejected(string)             {}
func (nopObserver) SoftFailures(int)                 {}
func (nopObserver) Uploaded(bool)                    {}
