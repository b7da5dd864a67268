// Package exitcode defines the process exit codes of the edi837 command.
package exitcode

const (
	Success         = 0
	UsageError      = 1
	ValidationError = 2
	EncodeError     = 3
	UploadError     = 4
	IOError         = 5
)
