package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/go-edi837/internal/app"
	"github.com/drfirst/go-edi837/internal/claimfile"
	"github.com/drfirst/go-edi837/internal/exitcode"
	"github.com/drfirst/go-edi837/internal/infrastructure/postgres"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Store the snapshots of an inline batch so it can later be submitted by id",
	RunE:  runImport,
}

func init() {
	importCmd.Flags().StringVarP(&inputPath, "input", "i", "-", "Batch JSON file, - for stdin")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	req, err := readRequest(inputPath)
	if err != nil {
		return exit(exitcode.IOError, err)
	}
	if err := req.Normalize(); err != nil {
		return exit(exitcode.UsageError, err)
	}
	if !req.Inline() || req.Organization == nil {
		return exit(exitcode.UsageError, claimfile.ErrInvalidRequest)
	}

	logger := newLogger()
	defer logger.Sync()

	ctx := cmd.Context()
	pool, err := app.Connect(ctx, cfg, logger)
	if err != nil {
		return exit(exitcode.IOError, err)
	}
	defer pool.Close()

	store := postgres.NewSnapshotStore(pool, logger)
	if err := store.SaveOrganization(ctx, req.Organization); err != nil {
		return exit(exitcode.IOError, err)
	}
	for i := range req.Encounters {
		enc := &req.Encounters[i]
		if enc.OrganizationID == "" {
			enc.OrganizationID = req.OrganizationID
		}
		if err := store.SaveEncounter(ctx, enc); err != nil {
			return exit(exitcode.IOError, err)
		}
	}

	logger.Info("snapshots imported",
		zap.String("organization_id", req.OrganizationID),
		zap.Int("encounters", len(req.Encounters)))
	printJSON(map[string]interface{}{
		"organization_id": req.OrganizationID,
		"encounter_ids":   req.EncounterIDs,
	})
	return nil
}
