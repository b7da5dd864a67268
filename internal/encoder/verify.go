package encoder

import (
	"fmt"
	"strconv"

	"github.com/drfirst/go-edi837/internal/x12"
)

// Verify re-parses generated content and checks the envelope pairings: ISA13/IEA02,
// GS06/GE02, ST02/SE02, every SE01 against the literal segment count and GE01 against
// the number of transaction sets.
func Verify(content string) error {
	segs := x12.Parse(content)
	if len(segs) < 4 {
		return fmt.Errorf("envelope incomplete: %d segments", len(segs))
	}
	first, last := segs[0], segs[len(segs)-1]
	if first.Tag() != x12.SegISA || last.Tag() != x12.SegIEA {
		return fmt.Errorf("envelope must start with ISA and end with IEA, got %s...%s", first.Tag(), last.Tag())
	}
	if first.Element(13) != last.Element(2) {
		return fmt.Errorf("ISA13 %q does not match IEA02 %q", first.Element(13), last.Element(2))
	}

	gs, ge := segs[1], segs[len(segs)-2]
	if gs.Tag() != x12.SegGS || ge.Tag() != x12.SegGE {
		return fmt.Errorf("functional group must be wrapped in GS/GE, got %s...%s", gs.Tag(), ge.Tag())
	}
	if gs.Element(6) != ge.Element(2) {
		return fmt.Errorf("GS06 %q does not match GE02 %q", gs.Element(6), ge.Element(2))
	}

	sets := 0
	start := -1
	for i := 2; i < len(segs)-2; i++ {
		switch segs[i].Tag() {
		case x12.SegST:
			if start >= 0 {
				return fmt.Errorf("ST at segment %d opened before the previous set was closed", i+1)
			}
			start = i
		case x12.SegSE:
			if start < 0 {
				return fmt.Errorf("SE at segment %d has no matching ST", i+1)
			}
			st, se := segs[start], segs[i]
			if st.Element(2) != se.Element(2) {
				return fmt.Errorf("ST02 %q does not match SE02 %q", st.Element(2), se.Element(2))
			}
			if want := strconv.Itoa(i - start + 1); se.Element(1) != want {
				return fmt.Errorf("transaction %s: SE01 is %s but the set has %s segments", st.Element(2), se.Element(1), want)
			}
			sets++
			start = -1
		}
	}
	if start >= 0 {
		return fmt.Errorf("transaction %s is not closed", segs[start].Element(2))
	}
	if ge.Element(1) != strconv.Itoa(sets) {
		return fmt.Errorf("GE01 is %s but the group has %d transaction sets", ge.Element(1), sets)
	}
	return nil
}
