package main

import (
	"github.com/spf13/cobra"

	"github.com/drfirst/go-edi837/internal/claim"
	"github.com/drfirst/go-edi837/internal/claimfile"
	"github.com/drfirst/go-edi837/internal/exitcode"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a JSON batch without generating a file",
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&inputPath, "input", "i", "-", "Batch JSON file, - for stdin")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
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

	res := claim.Validate(req.Encounters, req.Organization)
	printJSON(map[string]interface{}{
		"valid":      res.OK(),
		"violations": res.Violations,
	})
	if !res.OK() {
		return exit(exitcode.ValidationError, res.Err())
	}
	return nil
}
