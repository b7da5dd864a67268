package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/go-edi837/internal/claimfile"
	"github.com/drfirst/go-edi837/internal/config"
	"github.com/drfirst/go-edi837/internal/exitcode"
)

var (
	cfg        config.Config
	configPath string
	logLevel   string
	senderID   string
	receiverID string
	outputDir  string
)

var rootCmd = &cobra.Command{
	Use:   "edi837",
	Short: "ANSI X12 837P professional claim file generator",
	Long: "Generates 5010 837P claim files from billing snapshots, validates batches " +
		"before encoding and delivers files to the clearinghouse mailbox.",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", os.Getenv("EDI837_CONFIG"), "YAML configuration file (or set EDI837_CONFIG)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
	pf.StringVar(&senderID, "sender-id", "", "Interchange sender id (overrides EDI_SENDER_ID)")
	pf.StringVar(&receiverID, "receiver-id", "", "Interchange receiver id (overrides EDI_RECEIVER_ID)")
	pf.StringVar(&outputDir, "out", "", "Directory claim files are written to (overrides OUTPUT_DIR)")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	c := config.Default()
	if configPath != "" {
		var err error
		if c, err = config.LoadFromFile(configPath); err != nil {
			return err
		}
	}
	c.FromEnv()
	if logLevel != "" {
		c.LogLevel = logLevel
	}
	if senderID != "" {
		c.Interchange.SenderID = senderID
	}
	if receiverID != "" {
		c.Interchange.ReceiverID = receiverID
	}
	if outputDir != "" {
		c.OutputDir = outputDir
	}
	cfg = c
	return nil
}

func newLogger() *zap.Logger {
	logger, err := cfg.NewLogger()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// readRequest decodes a claim file request from path, or stdin when path is "-"
func readRequest(path string) (*claimfile.Request, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var req claimfile.Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &req, nil
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// exitError carries the process exit code of a failed command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exit(code int, err error) error {
	return &exitError{code: code, err: err}
}

func exitCode(err error) int {
	if err == nil {
		return exitcode.Success
	}
	if e, ok := err.(*exitError); ok {
		return e.code
	}
	return exitcode.UsageError
}
