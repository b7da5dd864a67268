package claim

import "strings"

// administrationCodes are CPT codes for administering a drug (infusions and injections).
// Billing one of these requires the drug product itself on the same claim.
var administrationCodes = map[string]struct{}{
	"96360": {}, "96361": {},
	"96365": {}, "96366": {}, "96367": {}, "96368": {},
	"96369": {}, "96370": {}, "96371": {},
	"96372": {}, "96373": {}, "96374": {}, "96375": {}, "96376": {},
	"96401": {}, "96402": {}, "96409": {}, "96413": {},
}

// drugSupplyCodes are non-J HCPCS codes that identify a drug product.
var drugSupplyCodes = map[string]struct{}{
	"Q0138": {}, "Q0139": {}, "Q2043": {},
	"Q5101": {}, "Q5103": {}, "Q5104": {}, "Q5107": {},
}

// drugSupplyPrefix marks HCPCS Level II J-codes (drugs administered other than orally)
const drugSupplyPrefix = "J"

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsAdministration reports whether code is a drug administration code.
func IsAdministration(code string) bool {
	_, ok := administrationCodes[normalizeCode(code)]
	return ok
}

// IsDrugSupply reports whether code identifies a drug product: a J-code or one of the
// enumerated Q-codes.
func IsDrugSupply(code string) bool {
	c := normalizeCode(code)
	if len(c) == 5 && strings.HasPrefix(c, drugSupplyPrefix) {
		return true
	}
	_, ok := drugSupplyCodes[c]
	return ok
}

// EmitsDrugControl reports whether a service line with this code carries the LIN/CTP
// drug identification. Never true for an administration code.
func EmitsDrugControl(code string) bool {
	return IsDrugSupply(code) && !IsAdministration(code)
}

// UnpairedAdministration returns the administration codes on the claim when no sibling
// line is a drug-supply code; nil when the claim is correctly paired or has no
// administration codes.
func UnpairedAdministration(lines []ProcedureLine) []string {
	var admin []string
	supplied := false
	for _, l := range lines {
		switch {
		case IsAdministration(l.ProcedureCode):
			admin = append(admin, l.Code())
		case IsDrugSupply(l.ProcedureCode):
			supplied = true
		}
	}
	if supplied {
		return nil
	}
	return admin
}
