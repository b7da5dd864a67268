package encoder

import (
	"fmt"
	"strings"
	"time"
)

// Implementation guide and envelope constants
const (
	TransactionSetID     = "837"
	ImplementationGuide  = "005010X222A1"
	InterchangeVersion   = "00501"
	FunctionalIDClaim    = "HC"
	ResponsibleAgency    = "X"
	DefaultReceiverName  = "WAYSTAR"
	DefaultIDQualifier   = "ZZ"
	UsageProduction      = "P"
	UsageTest            = "T"
	filenameTimeLayout   = "20060102_150405"
	maxISAIdentifierSize = 15
)

// Config is the explicit interchange identity for a run. The encoder never reads it
// from the environment.
type Config struct {
	// SenderID identifies this system to the clearinghouse (ISA06, GS02, submitter NM109)
	SenderID        string
	SenderQualifier string
	// ReceiverID identifies the clearinghouse (ISA08, GS03, receiver NM109)
	ReceiverID        string
	ReceiverQualifier string
	ReceiverName      string
	// ContactName and ContactPhone populate the submitter PER segment
	ContactName  string
	ContactPhone string
	// UsageIndicator is ISA15: P for production, T for test
	UsageIndicator string
	// Now seeds control numbers and envelope timestamps. Fixing it makes output
	// byte-for-byte reproducible.
	Now func() time.Time
}

// DefaultConfig returns a test-mode configuration with the standard receiver identity
func DefaultConfig() Config {
	return Config{
		SenderQualifier:   DefaultIDQualifier,
		ReceiverQualifier: DefaultIDQualifier,
		ReceiverName:      DefaultReceiverName,
		UsageIndicator:    UsageTest,
		Now:               time.Now,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.SenderQualifier == "" {
		c.SenderQualifier = d.SenderQualifier
	}
	if c.ReceiverQualifier == "" {
		c.ReceiverQualifier = d.ReceiverQualifier
	}
	if c.ReceiverName == "" {
		c.ReceiverName = d.ReceiverName
	}
	if c.UsageIndicator == "" {
		c.UsageIndicator = d.UsageIndicator
	}
	if c.Now == nil {
		c.Now = d.Now
	}
}

// Validate checks the interchange identity
func (c Config) Validate() error {
	if strings.TrimSpace(c.SenderID) == "" {
		return fmt.Errorf("sender id is required")
	}
	if strings.TrimSpace(c.ReceiverID) == "" {
		return fmt.Errorf("receiver id is required")
	}
	if len(c.SenderID) > maxISAIdentifierSize || len(c.ReceiverID) > maxISAIdentifierSize {
		return fmt.Errorf("sender and receiver ids must be at most %d characters", maxISAIdentifierSize)
	}
	if c.UsageIndicator != UsageProduction && c.UsageIndicator != UsageTest {
		return fmt.Errorf("usage indicator must be %q or %q, got %q", UsageProduction, UsageTest, c.UsageIndicator)
	}
	return nil
}
