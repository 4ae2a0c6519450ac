package capture

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/expense-capture/internal/scanning"
)

// FallbackCategory replaces any category outside the catalog
const FallbackCategory = "Other"

// DefaultCategories is the category catalog used when none is configured
var DefaultCategories = []string{
	"Alimentari",
	"Ristoranti",
	"Trasporti",
	"Casa",
	"Bollette",
	"Salute",
	"Svago",
	"Abbigliamento",
	"Viaggi",
	"Regali",
	FallbackCategory,
}

// Receipt is an image attached to a draft
type Receipt struct {
	Payload  string `json:"payload"`
	MimeType string `json:"mime_type"`
}

// Draft is a partially filled expense awaiting user confirmation
type Draft struct {
	Description string    `json:"description"`
	Amount      float64   `json:"amount"`
	Category    string    `json:"category"`
	Date        string    `json:"date"` // YYYY-MM-DD
	Tags        []string  `json:"tags"`
	Receipts    []Receipt `json:"receipts"`
	Account     string    `json:"account"`
}

// Policy holds everything Sanitize needs besides the candidate, so the
// function itself stays pure.
type Policy struct {
	Categories     []string
	Today          string
	DefaultAccount string
	Receipts       []Receipt
}

// Sanitize turns a raw model candidate into a draft
func Sanitize(c scanning.Candidate, p Policy) Draft {
	draft := Draft{
		Description: strings.TrimSpace(c.Description),
		Amount:      ParseAmount(c.Amount),
		Category:    FallbackCategory,
		Date:        strings.TrimSpace(c.Date),
		Tags:        tagList(c.Tags),
		Receipts:    append([]Receipt{}, p.Receipts...),
		Account:     strings.TrimSpace(c.Account),
	}

	category := strings.TrimSpace(c.Category)
	for _, known := range p.Categories {
		if category == known {
			draft.Category = known
			break
		}
	}
	if draft.Date == "" {
		draft.Date = p.Today
	}
	if draft.Account == "" {
		draft.Account = p.DefaultAccount
	}
	return draft
}

// ParseAmount reads a number or a number-like string. Either "," or "."
// may be the decimal separator; when both appear the last one is. Anything
// unparseable or non-finite is 0.
func ParseAmount(v any) float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		f = parseDecimalText(t.String())
	case string:
		f = parseDecimalText(t)
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func parseDecimalText(s string) float64 {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '€', '$', '£':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	if s == "" {
		return 0
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

func tagList(v any) []string {
	tags := []string{}
	switch t := v.(type) {
	case []string:
		tags = append(tags, t...)
	case []any:
		for _, tag := range t {
			if s, ok := tag.(string); ok {
				tags = append(tags, s)
			} else if tag != nil {
				tags = append(tags, fmt.Sprint(tag))
			}
		}
	}
	return tags
}
