package x12

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Date/time layouts used in X12 elements
const (
	LayoutDate      = "20060102" // CCYYMMDD
	LayoutShortDate = "060102"   // YYMMDD, ISA09 only
	LayoutTime      = "1504"     // HHMM
)

// delimiterReplacer strips characters that would corrupt the element structure
// when they appear inside free-text values.
var delimiterReplacer = strings.NewReplacer(
	ElementSeparator, " ",
	ComponentSeparator, " ",
	RepetitionSeparator, " ",
	"~", " ",
	"\r", " ",
	"\n", " ",
)

// Clean removes delimiter characters and surrounding whitespace, and upper-cases the value.
func Clean(s string) string {
	return strings.ToUpper(strings.TrimSpace(delimiterReplacer.Replace(s)))
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// Text cleans and truncates a free-text value for an element of the given maximum length.
func Text(s string, max int) string {
	return Truncate(Clean(s), max)
}

// PadRight space-pads s to exactly width, truncating if longer. Used for the
// fixed-width ISA elements.
func PadRight(s string, width int) string {
	s = Truncate(s, width)
	if n := len([]rune(s)); n < width {
		s += strings.Repeat(" ", width-n)
	}
	return s
}

// PadNumber renders n as a zero-padded decimal of exactly width digits, keeping the
// low-order digits when n overflows the field.
func PadNumber(n int64, width int) string {
	if n < 0 {
		n = -n
	}
	capacity := int64(math.Pow10(width))
	return fmt.Sprintf("%0*d", width, n%capacity)
}

// Cents converts a dollar amount to integer cents, rounding half away from zero.
func Cents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// FormatCents renders integer cents as a two-decimal amount ("125.00").
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// FormatAmount renders a dollar amount fixed to two decimal places.
func FormatAmount(amount float64) string {
	return FormatCents(Cents(amount))
}

// FormatUnits renders a unit count as a plain integer.
func FormatUnits(units int) string {
	return strconv.Itoa(units)
}

// FormatDate renders CCYYMMDD
func FormatDate(t time.Time) string {
	return t.Format(LayoutDate)
}

// FormatTime renders HHMM
func FormatTime(t time.Time) string {
	return t.Format(LayoutTime)
}

// Digits strips everything but 0-9, e.g. for postal codes, phone numbers and tax ids.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DiagnosisCode normalizes an ICD code for the HI segment: no dot, upper case.
func DiagnosisCode(code string) string {
	return strings.ReplaceAll(Clean(code), ".", "")
}
