package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drfirst/go-edi837/internal/app"
	"github.com/drfirst/go-edi837/internal/exitcode"
	"github.com/drfirst/go-edi837/internal/infrastructure/postgres"
)

var applySchema bool

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the PostgreSQL schema, or apply it with --apply",
	RunE:  runSchema,
}

func init() {
	schemaCmd.Flags().BoolVar(&applySchema, "apply", false, "Create missing tables in DATABASE_URL")
	rootCmd.AddCommand(schemaCmd)
}

func runSchema(cmd *cobra.Command, args []string) error {
	if !applySchema {
		fmt.Print(postgres.Schema())
		return nil
	}

	logger := newLogger()
	defer logger.Sync()

	c := cfg
	c.Database.MigrateOnStart = true
	pool, err := app.Connect(cmd.Context(), c, logger)
	if err != nil {
		return exit(exitcode.IOError, err)
	}
	pool.Close()
	return nil
}
