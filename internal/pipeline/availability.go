package pipeline

import (
	"fmt"
	"strings"

	"catalogsync/internal"
	"catalogsync/internal/util"
)

const (
	passMark = "✓ "
	failMark = "✗ "

	DefaultStockThreshold = 10
)

// AvailabilityRules holds the tunable parts of the web visibility decision.
type AvailabilityRules struct {
	StockThreshold int
}

// Availability is the outcome of the four visibility criteria. Reasons has
// one line per criterion in a fixed order; Failing keeps only the failures.
type Availability struct {
	Available bool
	Reasons   []string
	Failing   []string
}

func (r AvailabilityRules) threshold() int {
	if r.StockThreshold <= 0 {
		return DefaultStockThreshold
	}
	return r.StockThreshold
}

// Evaluate checks code validity, stock, dimension completeness and image
// presence independently. Dimensions are judged on the raw tokens, so a
// bare "0.81" without a unit fails even though it normalizes fine.
func (r AvailabilityRules) Evaluate(p internal.ProductRecord) Availability {
	out := Availability{Available: true}
	add := func(ok bool, pass, fail string) {
		if ok {
			out.Reasons = append(out.Reasons, passMark+pass)
			return
		}
		out.Available = false
		out.Reasons = append(out.Reasons, failMark+fail)
		out.Failing = append(out.Failing, failMark+fail)
	}

	add(util.IsValidCode(p.Code),
		"valid code",
		fmt.Sprintf("invalid code %q: must be 8 or more digits", p.Code))

	minStock := r.threshold()
	add(p.Stock >= minStock,
		fmt.Sprintf("stock %d (minimum %d)", p.Stock, minStock),
		fmt.Sprintf("insufficient stock: %d (minimum %d)", p.Stock, minStock))

	problems := dimensionProblems(p)
	add(len(problems) == 0,
		"dimensions complete",
		"incomplete dimensions: "+strings.Join(problems, "; "))

	add(p.HasImage && p.ImagePath != nil && strings.TrimSpace(*p.ImagePath) != "",
		"image present",
		"no image")

	return out
}

// Apply evaluates p and stores the decision on it, clearing any manual
// override.
func (r AvailabilityRules) Apply(p *internal.ProductRecord) Availability {
	res := r.Evaluate(*p)
	p.AvailableOnWeb = res.Available
	p.FailureReasons = res.Reasons
	p.AvailabilityOverride = false
	return res
}

// OverrideAvailability forces the visibility flag without re-running the
// criteria. The stored reasons are stale until the next sync.
func OverrideAvailability(p *internal.ProductRecord, available bool) {
	p.AvailableOnWeb = available
	p.AvailabilityOverride = true
}

// FailingReasons filters a stored reasons list down to failures.
func FailingReasons(reasons []string) []string {
	var out []string
	for _, r := range reasons {
		if strings.HasPrefix(r, failMark) {
			out = append(out, r)
		}
	}
	return out
}

func dimensionProblems(p internal.ProductRecord) []string {
	var problems []string
	check := func(field, token string, unitOK func(string) bool, units string) {
		token = strings.TrimSpace(token)
		if _, ok := ParseDimension(token); !ok {
			problems = append(problems, field+" missing")
			return
		}
		if !unitOK(token) {
			problems = append(problems, fmt.Sprintf("%s %q has no unit (%s)", field, token, units))
		}
	}
	check("width", p.WidthRaw, hasLengthUnit, "mm/cm/m")
	check("length", p.LengthRaw, hasLengthUnit, "mm/cm/m")
	check("thickness", p.ThicknessRaw, hasThicknessUnit, "mm")
	return problems
}
