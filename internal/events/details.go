package events

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Row labels of the transaction section in record details, lower case
var (
	shareLabels = []string{"aktien", "anteile", "stück", "shares"}
	feeLabels   = []string{"gebühr", "gebühren", "fremdkostenzuschlag", "fee", "fees"}
	taxLabels   = []string{"steuer", "steuern", "kapitalertragssteuer", "tax", "taxes"}
)

type details struct {
	Sections []struct {
		Title string          `json:"title"`
		Data  json.RawMessage `json:"data"`
	} `json:"sections"`
}

type detailRow struct {
	Title  string `json:"title"`
	Detail struct {
		Text string `json:"text"`
	} `json:"detail"`
}

// applyDetails fills shares, fees and taxes from the record's detail sections.
// Sections whose data is not a list of rows are ignored.
func applyDetails(e *Event, d *details) {
	if d == nil {
		return
	}
	for _, section := range d.Sections {
		var rows []detailRow
		if err := json.Unmarshal(section.Data, &rows); err != nil {
			continue
		}
		for _, row := range rows {
			label := strings.ToLower(strings.TrimSpace(row.Title))
			value, ok := parseAmount(row.Detail.Text)
			if !ok {
				continue
			}
			switch {
			case contains(shareLabels, label) && !e.Shares.Valid:
				e.Shares = decimal.NewNullDecimal(value.Abs())
			case contains(feeLabels, label):
				e.Fees = addNull(e.Fees, value.Abs())
			case contains(taxLabels, label):
				e.Taxes = addNull(e.Taxes, value.Abs())
			}
		}
	}
}

// parseAmount reads a localized number such as "1.234,56 €", "-3,5" or "12.5".
// When both separators occur the last one is the decimal separator.
func parseAmount(text string) (decimal.Decimal, bool) {
	var b strings.Builder
	for _, r := range text {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' || r == '+' {
			b.WriteRune(r)
		}
	}
	s := strings.TrimRight(b.String(), ".,")
	if strings.IndexFunc(s, func(r rune) bool { return r >= '0' && r <= '9' }) < 0 {
		return decimal.Zero, false
	}

	dot, comma := strings.LastIndex(s, "."), strings.LastIndex(s, ",")
	switch {
	case dot >= 0 && comma >= 0 && comma > dot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case dot >= 0 && comma >= 0:
		s = strings.ReplaceAll(s, ",", "")
	case comma >= 0:
		s = strings.Replace(s, ",", ".", 1)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func addNull(n decimal.NullDecimal, v decimal.Decimal) decimal.NullDecimal {
	if !n.Valid {
		return decimal.NewNullDecimal(v)
	}
	return decimal.NewNullDecimal(n.Decimal.Add(v))
}

func contains(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}
