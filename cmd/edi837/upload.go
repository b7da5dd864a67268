package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/drfirst/go-edi837/internal/app"
	"github.com/drfirst/go-edi837/internal/encoder"
	"github.com/drfirst/go-edi837/internal/exitcode"
	"github.com/drfirst/go-edi837/internal/transport"
	"github.com/drfirst/go-edi837/pkg/circuitbreaker"
)

var uploadCmd = &cobra.Command{
	Use:   "upload FILE",
	Short: "Verify and upload an existing claim file",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpload,
}

var verifyCmd = &cobra.Command{
	Use:   "verify FILE...",
	Short: "Check envelope pairing and segment counts of claim files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runVerify,
}

func init() {
	uploadCmd.Flags().StringVar(&mailboxDir, "mailbox", "", "Copy the file into this directory instead of uploading over SFTP")
	rootCmd.AddCommand(uploadCmd, verifyCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer logger.Sync()

	path := args[0]
	if err := verifyFile(path); err != nil {
		return err
	}

	var uploader transport.Uploader
	if mailboxDir != "" {
		uploader = transport.NewDirectoryUploader(mailboxDir)
	} else {
		up, err := app.NewUploader(cfg, circuitbreaker.NewManager(logger), logger)
		if err != nil {
			return exit(exitcode.UsageError, err)
		}
		if up == nil {
			return exit(exitcode.UsageError, errors.New("no clearinghouse mailbox configured: set SFTP_HOST or pass --mailbox"))
		}
		uploader = up
	}

	res, err := uploader.Upload(cmd.Context(), path, filepath.Base(path))
	if err != nil {
		return exit(exitcode.UploadError, err)
	}
	printJSON(res)
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	for _, path := range args {
		if err := verifyFile(path); err != nil {
			return err
		}
	}
	return nil
}

func verifyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return exit(exitcode.IOError, err)
	}
	if err := encoder.Verify(string(data)); err != nil {
		return exit(exitcode.EncodeError, err)
	}
	return nil
}
