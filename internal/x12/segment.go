// Package x12 provides the low-level ANSI X12 building blocks used by the 837P encoder:
// segments, delimiters, field formatting, control numbers and hierarchical levels.
package x12

import (
	"strings"
)

// Delimiters used by every file this system produces. The segment terminator is a
// newline rather than the standard '~'.
const (
	ElementSeparator    = "*"
	ComponentSeparator  = ":"
	RepetitionSeparator = "^"
	SegmentTerminator   = "\n"
)

// Segment identifiers
const (
	SegISA = "ISA"
	SegIEA = "IEA"
	SegGS  = "GS"
	SegGE  = "GE"
	SegST  = "ST"
	SegSE  = "SE"
	SegBHT = "BHT"
	SegNM1 = "NM1"
	SegPER = "PER"
	SegHL  = "HL"
	SegPRV = "PRV"
	SegN3  = "N3"
	SegN4  = "N4"
	SegREF = "REF"
	SegSBR = "SBR"
	SegDMG = "DMG"
	SegPAT = "PAT"
	SegCLM = "CLM"
	SegDTP = "DTP"
	SegHI  = "HI"
	SegLX  = "LX"
	SegSV1 = "SV1"
	SegLIN = "LIN"
	SegCTP = "CTP"
)

// Segment is one immutable X12 segment: a tag plus its ordered elements.
type Segment struct {
	tag      string
	elements []string
}

// NewSegment builds a segment. Trailing empty elements are dropped so the rendered
// segment never ends in a run of separators.
func NewSegment(tag string, elements ...string) Segment {
	n := len(elements)
	for n > 0 && elements[n-1] == "" {
		n--
	}
	els := make([]string, n)
	copy(els, elements[:n])
	return Segment{tag: tag, elements: els}
}

// Tag returns the segment identifier (e.g. "NM1")
func (s Segment) Tag() string { return s.tag }

// Len returns the number of elements after the tag
func (s Segment) Len() int { return len(s.elements) }

// Element returns the 1-based element, or "" if absent.
func (s Segment) Element(i int) string {
	if i < 1 || i > len(s.elements) {
		return ""
	}
	return s.elements[i-1]
}

// String renders the segment without its terminator
func (s Segment) String() string {
	if len(s.elements) == 0 {
		return s.tag
	}
	return s.tag + ElementSeparator + strings.Join(s.elements, ElementSeparator)
}

// Render joins segments into the wire text, terminating each one.
func Render(segments []Segment) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteString(s.String())
		b.WriteString(SegmentTerminator)
	}
	return b.String()
}

// Composite joins sub-elements with the component separator, dropping trailing empties.
func Composite(parts ...string) string {
	n := len(parts)
	for n > 0 && parts[n-1] == "" {
		n--
	}
	return strings.Join(parts[:n], ComponentSeparator)
}

// Parse splits wire text back into segments. It is used to inspect generated files.
func Parse(content string) []Segment {
	var out []Segment
	for _, line := range strings.Split(content, SegmentTerminator) {
		if line == "" {
			continue
		}
		parts := strings.Split(line, ElementSeparator)
		out = append(out, Segment{tag: parts[0], elements: parts[1:]})
	}
	return out
}
