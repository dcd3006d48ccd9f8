package pipeline

import (
	"regexp"
	"strconv"
	"strings"

	"catalogsync/internal"
	"catalogsync/internal/util"
)

// DetectRule claims a column for Role when Match accepts the column's folded
// header text and its value in the sample row.
type DetectRule struct {
	Role  internal.Role
	Name  string
	Match func(header, sample string) bool
}

var (
	typeVocabulary = []string{"ondulado", "alveolar", "compacto", "perfil"}
	reStockSample  = regexp.MustCompile(`^\d{1,3}$`)
)

// DefaultRules lists header rules before any sample-shape rule, so a column
// named "Ancho" is never taken by the length value heuristic first.
var DefaultRules = []DetectRule{
	{Role: internal.RoleCode, Name: "header:sku", Match: headerContains("sku")},
	{Role: internal.RoleName, Name: "header:nombre", Match: headerContains("nombre", "producto")},
	{Role: internal.RoleType, Name: "header:tipo", Match: headerContains("tipo")},
	{Role: internal.RoleWidth, Name: "header:ancho", Match: headerContains("ancho")},
	{Role: internal.RoleLength, Name: "header:largo", Match: headerContains("largo")},
	{Role: internal.RolePrice, Name: "header:precio", Match: priceColumn},
	{Role: internal.RoleStock, Name: "header:stock", Match: headerContains("stock")},
	{Role: internal.RoleThickness, Name: "header:espesor", Match: headerContains("espesor", "grosor")},
	{Role: internal.RoleColor, Name: "header:color", Match: headerContains("color")},

	{Role: internal.RoleCode, Name: "sample:digits", Match: func(_, sample string) bool { return util.HasDigitRun(sample) }},
	{Role: internal.RoleType, Name: "sample:vocabulary", Match: typeSample},
	{Role: internal.RoleWidth, Name: "sample:decimal", Match: widthSample},
	{Role: internal.RoleLength, Name: "sample:decimal", Match: lengthSample},
	{Role: internal.RoleStock, Name: "sample:small-int", Match: stockSample},
}

// DetectColumns builds the mapping for one sheet from its header row and
// first data row. Rules run in order; the first rule that accepts an
// unclaimed column wins the role. Roles with no match stay unmapped.
func DetectColumns(header, sample internal.RawRow, rules []DetectRule) internal.ColumnMapping {
	if rules == nil {
		rules = DefaultRules
	}
	width := len(header)
	if len(sample) > width {
		width = len(sample)
	}
	folded := make([]string, width)
	values := make([]string, width)
	for i := 0; i < width; i++ {
		if i < len(header) {
			folded[i] = util.FoldHeader(header[i])
		}
		if i < len(sample) {
			values[i] = strings.TrimSpace(sample[i])
		}
	}

	cols := map[internal.Role]int{}
	claimed := map[int]bool{}
	for _, rule := range rules {
		if _, done := cols[rule.Role]; done {
			continue
		}
		for i := 0; i < width; i++ {
			if claimed[i] {
				continue
			}
			if rule.Match(folded[i], values[i]) {
				cols[rule.Role] = i
				claimed[i] = true
				break
			}
		}
	}
	return internal.NewColumnMapping(cols)
}

func headerContains(probes ...string) func(header, sample string) bool {
	return func(header, _ string) bool {
		for _, p := range probes {
			if strings.Contains(header, p) {
				return true
			}
		}
		return false
	}
}

func priceColumn(header, sample string) bool {
	if !strings.Contains(header, "precio") {
		return false
	}
	if util.HasCurrencySymbol(sample) {
		return true
	}
	digits := util.Digits(sample)
	if digits == "" {
		return false
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	return err == nil && n > 1000
}

func typeSample(_, sample string) bool {
	lower := strings.ToLower(sample)
	for _, word := range typeVocabulary {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

func widthSample(_, sample string) bool {
	if !strings.ContainsAny(sample, ".,") {
		return false
	}
	f, ok := util.ParseDecimal(sample)
	return ok && f > 0 && f < 100
}

func lengthSample(_, sample string) bool {
	f, ok := util.ParseDecimal(sample)
	return ok && f > 0 && f < 20
}

func stockSample(_, sample string) bool {
	if !reStockSample.MatchString(sample) {
		return false
	}
	n, _ := strconv.Atoi(sample)
	return n > 5
}
