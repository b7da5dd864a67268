package x12

import (
	"errors"
	"fmt"
	"strconv"
)

// Hierarchical level codes (HL03)
const (
	LevelBillingProvider = "20"
	LevelSubscriber      = "22"
	LevelDependent       = "23"
)

// HL04 child codes
const (
	HasChildren = "1"
	NoChildren  = "0"
)

// ErrHierarchySealed is returned when a level is added after the plan was sealed.
var ErrHierarchySealed = errors.New("hierarchy already sealed")

// Level is one planned hierarchical level.
type Level struct {
	ID       int
	ParentID int // 0 for the root
	Code     string
}

// Hierarchy plans the HL levels of a single transaction set. Ids start at 1 and
// increase monotonically; a parent must be assigned before any of its children.
// Use a fresh Hierarchy for every transaction.
type Hierarchy struct {
	levels []Level
	sealed bool
}

// NewHierarchy returns an empty plan
func NewHierarchy() *Hierarchy {
	return &Hierarchy{}
}

// Add assigns the next level id under parentID (0 for the root).
func (h *Hierarchy) Add(code string, parentID int) (int, error) {
	if h.sealed {
		return 0, ErrHierarchySealed
	}
	if parentID == 0 && len(h.levels) > 0 {
		return 0, fmt.Errorf("root level already assigned")
	}
	if parentID != 0 {
		if parentID < 1 || parentID > len(h.levels) {
			return 0, fmt.Errorf("parent level %d not assigned", parentID)
		}
	}
	id := len(h.levels) + 1
	h.levels = append(h.levels, Level{ID: id, ParentID: parentID, Code: code})
	return id, nil
}

// Last returns the id of the most recently assigned level, 0 if none.
func (h *Hierarchy) Last() int {
	return len(h.levels)
}

// Seal freezes the plan. Child flags are only known once every level is assigned,
// so HL segments can only be produced from a sealed plan.
func (h *Hierarchy) Seal() {
	h.sealed = true
}

// HasChildren reports whether any level names id as its parent.
func (h *Hierarchy) HasChildren(id int) bool {
	for _, l := range h.levels {
		if l.ParentID == id {
			return true
		}
	}
	return false
}

// Segment renders the HL segment for level id.
func (h *Hierarchy) Segment(id int) (Segment, error) {
	if !h.sealed {
		return Segment{}, fmt.Errorf("hierarchy not sealed: child flag for level %d is undecided", id)
	}
	if id < 1 || id > len(h.levels) {
		return Segment{}, fmt.Errorf("level %d not assigned", id)
	}
	l := h.levels[id-1]
	parent := ""
	if l.ParentID != 0 {
		parent = strconv.Itoa(l.ParentID)
	}
	child := NoChildren
	if h.HasChildren(id) {
		child = HasChildren
	}
	return NewSegment(SegHL, strconv.Itoa(l.ID), parent, l.Code, child), nil
}
