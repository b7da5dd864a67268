package encoder

import (
	"strconv"
	"time"

	"github.com/drfirst/go-edi837/internal/x12"
)

const (
	isaAuthQualifier     = "00"
	isaSecurityQualifier = "00"
	isaAckRequested      = "0"
	transactionPurpose   = "00"
	hierarchyStructure   = "0019"
	claimOrChargeable    = "CH"
)

// interchangeHeader builds ISA and GS. ISA is fixed width: every element is padded
// to its positional size.
func interchangeHeader(cfg Config, cn *x12.ControlNumbers, at time.Time) []x12.Segment {
	isa := x12.NewSegment(x12.SegISA,
		isaAuthQualifier,
		x12.PadRight("", 10),
		isaSecurityQualifier,
		x12.PadRight("", 10),
		x12.PadRight(cfg.SenderQualifier, 2),
		x12.PadRight(x12.Clean(cfg.SenderID), 15),
		x12.PadRight(cfg.ReceiverQualifier, 2),
		x12.PadRight(x12.Clean(cfg.ReceiverID), 15),
		at.Format(x12.LayoutShortDate),
		x12.FormatTime(at),
		x12.RepetitionSeparator,
		InterchangeVersion,
		cn.Interchange(),
		isaAckRequested,
		cfg.UsageIndicator,
		x12.ComponentSeparator,
	)
	gs := x12.NewSegment(x12.SegGS,
		FunctionalIDClaim,
		x12.Clean(cfg.SenderID),
		x12.Clean(cfg.ReceiverID),
		x12.FormatDate(at),
		x12.FormatTime(at),
		cn.Group(),
		ResponsibleAgency,
		ImplementationGuide,
	)
	return []x12.Segment{isa, gs}
}

// interchangeTrailer builds GE and IEA from the allocator's final state
func interchangeTrailer(cn *x12.ControlNumbers) []x12.Segment {
	return []x12.Segment{
		x12.NewSegment(x12.SegGE, strconv.Itoa(cn.TransactionCount()), cn.Group()),
		x12.NewSegment(x12.SegIEA, "1", cn.Interchange()),
	}
}

func transactionHeader(control, encounterID string, at time.Time) []x12.Segment {
	return []x12.Segment{
		x12.NewSegment(x12.SegST, TransactionSetID, control, ImplementationGuide),
		x12.NewSegment(x12.SegBHT, hierarchyStructure, transactionPurpose, x12.Text(encounterID, 30),
			x12.FormatDate(at), x12.FormatTime(at), claimOrChargeable),
	}
}

// transactionTrailer counts the segments actually emitted, ST included, plus SE itself
func transactionTrailer(body []x12.Segment, control string) x12.Segment {
	return x12.NewSegment(x12.SegSE, strconv.Itoa(len(body)+1), control)
}
