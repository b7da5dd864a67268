package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/go-edi837/internal/app"
	"github.com/drfirst/go-edi837/internal/claim"
	"github.com/drfirst/go-edi837/internal/claimfile"
	"github.com/drfirst/go-edi837/internal/domain/submission"
	"github.com/drfirst/go-edi837/internal/encoder"
	"github.com/drfirst/go-edi837/internal/exitcode"
	"github.com/drfirst/go-edi837/internal/infrastructure/postgres"
	"github.com/drfirst/go-edi837/internal/pricing"
	"github.com/drfirst/go-edi837/internal/transport"
	"github.com/drfirst/go-edi837/pkg/circuitbreaker"
)

var (
	inputPath   string
	doUpload    bool
	mailboxDir  string
	priceFromDB bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate an 837P claim file from a JSON batch",
	Long: "Reads a batch (organization and encounters) as JSON, prices unpriced lines, " +
		"writes the claim file and prints the outcome. The batch is rejected as a whole " +
		"when any encounter fails validation.",
	RunE: runGenerate,
}

func init() {
	f := generateCmd.Flags()
	f.StringVarP(&inputPath, "input", "i", "-", "Batch JSON file, - for stdin")
	f.BoolVar(&doUpload, "upload", false, "Upload the file after generation")
	f.StringVar(&mailboxDir, "mailbox", "", "Copy the file into this directory instead of uploading over SFTP")
	f.BoolVar(&priceFromDB, "price-from-db", false, "Resolve unpriced lines from the fee schedule in DATABASE_URL")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		return exit(exitcode.UsageError, err)
	}
	req, err := readRequest(inputPath)
	if err != nil {
		return exit(exitcode.IOError, err)
	}

	svc, closeFn, err := buildService(ctx, logger)
	if err != nil {
		return exit(exitcode.UsageError, err)
	}
	defer closeFn()

	req.Upload = doUpload || mailboxDir != ""
	outcome, err := svc.Generate(ctx, req)
	if outcome != nil {
		printJSON(outcome)
	}
	if err != nil {
		return exit(generateExitCode(err), err)
	}
	return nil
}

func generateExitCode(err error) int {
	var verr *claim.ValidationError
	var eerr *encoder.EncodeError
	var uerr *transport.UploadError
	switch {
	case errors.As(err, &verr):
		return exitcode.ValidationError
	case errors.As(err, &eerr):
		return exitcode.EncodeError
	case errors.As(err, &uerr), errors.Is(err, claimfile.ErrUploadUnavailable), circuitbreaker.IsOpenError(err):
		return exitcode.UploadError
	case errors.Is(err, claimfile.ErrInvalidRequest):
		return exitcode.UsageError
	default:
		return exitcode.IOError
	}
}

// buildService wires an in-process service: events stay in memory, pricing comes
// from the database only when asked.
func buildService(ctx context.Context, logger *zap.Logger) (*claimfile.Service, func(), error) {
	closeFn := func() {}

	gen, err := encoder.New(cfg.Interchange.EncoderConfig(), logger)
	if err != nil {
		return nil, closeFn, err
	}
	breakers := circuitbreaker.NewManager(logger)

	var resolver pricing.Resolver
	if priceFromDB {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, closeFn, err
		}
		closeFn = pool.Close
		if resolver, err = app.NewResolver(postgres.NewFeeSchedule(pool), cfg.Pricing, breakers); err != nil {
			return nil, closeFn, err
		}
	}

	deps := claimfile.Dependencies{
		Generator: gen,
		Store:     submission.NewMemoryStore(),
		Pricer:    pricing.NewPricer(resolver, logger),
	}
	switch {
	case mailboxDir != "":
		deps.Uploader = transport.NewDirectoryUploader(mailboxDir)
	case doUpload:
		uploader, err := app.NewUploader(cfg, breakers, logger)
		if err != nil {
			return nil, closeFn, err
		}
		deps.Uploader = uploader
	}

	svc, err := claimfile.NewService(cfg.OutputDir, deps, logger)
	return svc, closeFn, err
}
