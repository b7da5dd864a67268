// Package encoder assembles validated encounters into an ANSI X12 005010X222A1
// 837 Professional claim file.
package encoder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/drfirst/go-edi837/internal/claim"
	"github.com/drfirst/go-edi837/internal/x12"
)

// File is a generated claim file. Content is the complete interchange; nothing is
// returned on failure.
type File struct {
	Content                  string        `json:"content"`
	Filename                 string        `json:"filename"`
	TransactionCount         int           `json:"transaction_count"`
	InterchangeControlNumber string        `json:"interchange_control_number"`
	GroupControlNumber       string        `json:"group_control_number"`
	Transactions             []Transaction `json:"transactions"`
	GeneratedAt              time.Time     `json:"generated_at"`
}

// Transaction describes one ST/SE block in a generated file
type Transaction struct {
	EncounterID   string `json:"encounter_id"`
	ControlNumber string `json:"control_number"`
	SegmentCount  int    `json:"segment_count"`
}

// Generator produces 837P files. It holds no per-run state and is safe for concurrent
// use: every Generate call builds its own control-number allocator and hierarchies.
type Generator struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a generator for the given interchange identity
func New(cfg Config, logger *zap.Logger) (*Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid encoder config: %w", err)
	}
	return &Generator{cfg: cfg, logger: logger}, nil
}

// Generate validates the batch and encodes it. A failed batch returns a
// *claim.ValidationError listing every violation; a hard fault during encoding returns
// an *EncodeError. In both cases no content is produced.
func (g *Generator) Generate(encounters []claim.Encounter, org *claim.Organization) (*File, error) {
	if res := claim.Validate(encounters, org); !res.OK() {
		g.logger.Warn("claim batch rejected by validation",
			zap.Int("encounters", len(encounters)),
			zap.Int("violations", len(res.Violations)),
		)
		return nil, res.Err()
	}

	at := g.cfg.Now()
	cn := x12.NewControlNumbers(at)

	segments := interchangeHeader(g.cfg, cn, at)
	submitter := encodeSubmitterReceiver(g.cfg, org)
	transactions := make([]Transaction, 0, len(encounters))

	// Strictly sequential: each transaction finishes allocating before the next starts
	for _, enc := range encounters {
		body, control, err := g.encodeTransaction(enc, org, cn, submitter, at)
		if err != nil {
			g.logger.Error("claim file encoding aborted",
				zap.String("encounter_id", enc.ID),
				zap.Error(err),
			)
			return nil, err
		}
		segments = append(segments, body...)
		transactions = append(transactions, Transaction{
			EncounterID:   enc.ID,
			ControlNumber: control,
			SegmentCount:  len(body),
		})
	}
	segments = append(segments, interchangeTrailer(cn)...)

	file := &File{
		Content:                  x12.Render(segments),
		Filename:                 Filename(org.ID, at),
		TransactionCount:         cn.TransactionCount(),
		InterchangeControlNumber: cn.Interchange(),
		GroupControlNumber:       cn.Group(),
		Transactions:             transactions,
		GeneratedAt:              at,
	}

	g.logger.Info("claim file generated",
		zap.String("filename", file.Filename),
		zap.String("interchange_control_number", file.InterchangeControlNumber),
		zap.Int("transactions", file.TransactionCount),
		zap.Int("segments", len(segments)),
	)
	return file, nil
}

// encodeTransaction builds one complete ST...SE block in the fixed loop order
func (g *Generator) encodeTransaction(
	enc claim.Encounter,
	org *claim.Organization,
	cn *x12.ControlNumbers,
	submitter []x12.Segment,
	at time.Time,
) ([]x12.Segment, string, error) {
	control, err := cn.NextTransaction(enc.ID)
	if err != nil {
		return nil, "", &EncodeError{EncounterID: enc.ID, Field: "ST02", Code: CodeInvalidControlState, Message: "transaction control number allocation failed", Cause: err}
	}

	tx, err := planTransaction(enc, org)
	if err != nil {
		return nil, "", err
	}

	body := transactionHeader(control, enc.ID, at)
	body = append(body, submitter...)

	loops := []func(*transaction) ([]x12.Segment, error){
		encodeBillingProvider,
		encodeSubscriber,
	}
	if tx.patientHL != 0 {
		loops = append(loops, encodePatient)
	}
	loops = append(loops, encodeClaim, encodeServiceLines)

	for _, loop := range loops {
		segs, err := loop(tx)
		if err != nil {
			return nil, "", err
		}
		body = append(body, segs...)
	}

	// SE02 must echo the ST02 recorded for this encounter
	recorded, ok := cn.Transaction(enc.ID)
	if !ok || recorded != control {
		return nil, "", fault(enc.ID, "SE02", CodeInvalidControlState, "transaction control number was not retained")
	}
	body = append(body, transactionTrailer(body, recorded))
	return body, control, nil
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Filename returns 837P_<organization-id>_<yyyyMMdd_HHmmss>.edi
func Filename(organizationID string, at time.Time) string {
	id := unsafeFilenameChars.ReplaceAllString(organizationID, "-")
	return fmt.Sprintf("837P_%s_%s.edi", id, at.Format(filenameTimeLayout))
}

// WriteFile persists the file content under dir and returns the full path. The write
// goes to a temporary file that is renamed into place while holding an advisory lock,
// so a reader never observes a partial file.
func WriteFile(dir string, f *File) (string, error) {
	if f == nil {
		return "", errors.New("no claim file to write")
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve output directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, f.Filename)

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return "", fmt.Errorf("failed to lock %s: %w", path, err)
	}
	defer func() {
		_ = lock.Unlock()
		_ = os.Remove(lock.Path())
	}()

	tmp, err := os.CreateTemp(dir, f.Filename+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	if _, err := tmp.WriteString(f.Content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write claim file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close claim file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move claim file into place: %w", err)
	}
	return path, nil
}

// GenerateToFile generates the batch and writes it under dir, returning the file and
// its local path.
func (g *Generator) GenerateToFile(dir string, encounters []claim.Encounter, org *claim.Organization) (*File, string, error) {
	file, err := g.Generate(encounters, org)
	if err != nil {
		return nil, "", err
	}
	path, err := WriteFile(dir, file)
	if err != nil {
		return nil, "", err
	}
	g.logger.Debug("claim file written", zap.String("path", path))
	return file, path, nil
}
