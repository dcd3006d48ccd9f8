package internal

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleCode      Role = "code"
	RoleName      Role = "name"
	RoleType      Role = "type"
	RoleWidth     Role = "width"
	RoleLength    Role = "length"
	RolePrice     Role = "price"
	RoleStock     Role = "stock"
	RoleThickness Role = "thickness"
	RoleColor     Role = "color"
)

// RawRow is one tokenized spreadsheet line.
type RawRow []string

// ColumnMapping assigns a zero-based column index to each detected role.
// It is built once per sheet and never mutated afterwards.
type ColumnMapping struct {
	cols map[Role]int
}

func NewColumnMapping(cols map[Role]int) ColumnMapping {
	cp := make(map[Role]int, len(cols))
	for role, idx := range cols {
		if idx >= 0 {
			cp[role] = idx
		}
	}
	return ColumnMapping{cols: cp}
}

func (m ColumnMapping) Index(role Role) (int, bool) {
	idx, ok := m.cols[role]
	return idx, ok
}

// Field returns the value of role in row, or "" when the role is unmapped
// or the row is too short.
func (m ColumnMapping) Field(row RawRow, role Role) string {
	idx, ok := m.cols[role]
	if !ok || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func (m ColumnMapping) Roles() []Role {
	out := make([]Role, 0, len(m.cols))
	for role := range m.cols {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return m.cols[out[i]] < m.cols[out[j]] })
	return out
}

func (m ColumnMapping) Len() int { return len(m.cols) }

func (m ColumnMapping) MarshalJSON() ([]byte, error) {
	out := make(map[string]int, len(m.cols))
	for role, idx := range m.cols {
		out[string(role)] = idx
	}
	return json.Marshal(out)
}

// Sheet is one tab of the source spreadsheet. Rows[0] is the header row.
type Sheet struct {
	Name string
	Rows []RawRow
}

// SheetRef locates one sheet at the source.
type SheetRef struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

type ProductRecord struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Type     string `json:"type"`
	Color    string `json:"color"`

	WidthMeters  float64 `json:"widthMeters"`
	LengthMeters float64 `json:"lengthMeters"`
	WidthRaw     string  `json:"widthRaw"`
	LengthRaw    string  `json:"lengthRaw"`
	ThicknessRaw string  `json:"thicknessRaw"`

	CostPrice          decimal.Decimal `json:"costPrice"`
	NetPrice           decimal.Decimal `json:"netPrice"`
	PriceWithTax       decimal.Decimal `json:"priceWithTax"`
	PreviousPrice      decimal.Decimal `json:"previousPrice"`
	PriceChanged       bool            `json:"priceChanged"`
	PriceChangePercent float64         `json:"priceChangePercent"`
	PriceChangeDate    *time.Time      `json:"priceChangeDate"`
	NewPricing         bool            `json:"newPricing"`

	Stock int `json:"stock"`

	HasImage  bool    `json:"hasImage"`
	ImagePath *string `json:"imagePath"`

	AvailableOnWeb       bool     `json:"availableOnWeb"`
	AvailabilityOverride bool     `json:"availabilityOverride"`
	FailureReasons       []string `json:"failureReasons"`

	SourceSheet string    `json:"sourceSheet"`
	SourceOrder int       `json:"sourceOrder"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type EmailRow struct {
	ID         int
	Provider   string
	MessageID  string
	Subject    string
	Sender     string
	ReceivedAt string
	Hash       string
	Status     string
	RawRef     string
}

type FetchedMailMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}
