package x12

import (
	"fmt"
	"sync"
	"time"
)

// Control number field widths
const (
	InterchangeControlWidth = 9
	GroupControlWidth       = 9
	TransactionControlWidth = 4
)

// ControlNumbers allocates the interchange, group and transaction-set control numbers
// for one batch run. A new instance must be created for every run; instances are never
// shared between runs.
//
// Interchange and group numbers come from a coarse time seed modulo the field capacity.
// They are not unique across separate processes or runs within the same second.
type ControlNumbers struct {
	mu           sync.Mutex
	seed         time.Time
	interchange  string
	group        string
	next         int
	transactions map[string]string
}

// NewControlNumbers creates an allocator seeded from the given instant.
func NewControlNumbers(seed time.Time) *ControlNumbers {
	return &ControlNumbers{
		seed:         seed,
		transactions: make(map[string]string),
	}
}

// Interchange returns ISA13/IEA02. The value is fixed for the lifetime of the allocator.
func (c *ControlNumbers) Interchange() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interchange == "" {
		c.interchange = seeded(c.seed.Unix(), InterchangeControlWidth)
	}
	return c.interchange
}

// Group returns GS06/GE02. The value is fixed for the lifetime of the allocator.
func (c *ControlNumbers) Group() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.group == "" {
		// seeded from minutes, the interchange number from seconds
		c.group = seeded(c.seed.Unix()/60, GroupControlWidth)
	}
	return c.group
}

// NextTransaction allocates the next sequential ST02 for an encounter, starting at 0001.
// Allocating twice for the same encounter is an error.
func (c *ControlNumbers) NextTransaction(encounterID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.transactions[encounterID]; ok {
		return "", fmt.Errorf("transaction control number already allocated for encounter %q", encounterID)
	}
	if c.next+1 >= 10000 {
		return "", fmt.Errorf("transaction control numbers exhausted after %d transaction sets", c.next)
	}
	c.next++
	cn := PadNumber(int64(c.next), TransactionControlWidth)
	c.transactions[encounterID] = cn
	return cn, nil
}

// Transaction returns the ST02 previously allocated for an encounter, for use in SE02.
func (c *ControlNumbers) Transaction(encounterID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cn, ok := c.transactions[encounterID]
	return cn, ok
}

// TransactionCount returns the number of transaction sets allocated so far (GE01).
func (c *ControlNumbers) TransactionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// seeded reduces n modulo the field capacity; zero is not a valid control number.
func seeded(n int64, width int) string {
	v := PadNumber(n, width)
	if v == PadNumber(0, width) {
		return PadNumber(1, width)
	}
	return v
}
