package convert

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// numberFormat holds the separators a culture uses when writing numbers.
type numberFormat struct {
	decimal string
	group   []string
}

var (
	dotDecimal   = numberFormat{decimal: ".", group: []string{","}}
	commaDecimal = numberFormat{decimal: ",", group: []string{"."}}
	spaceGroup   = numberFormat{decimal: ",", group: []string{" ", " ", " "}}
	swissFormat  = numberFormat{decimal: ".", group: []string{"'", "’"}}
)

func numberFormatFor(culture language.Tag) numberFormat {
	base, _ := culture.Base()
	region, _ := culture.Region()

	if region.String() == "CH" && (base.String() == "de" || base.String() == "it" || base.String() == "fr") {
		return swissFormat
	}

	switch base.String() {
	case "de", "es", "it", "nl", "pt", "da", "tr", "id", "el", "ro", "hr", "sl", "sr":
		return commaDecimal
	case "fr", "ru", "pl", "cs", "sk", "sv", "nb", "nn", "no", "fi", "uk", "hu", "bg", "lt", "lv", "et":
		return spaceGroup
	default:
		return dotDecimal
	}
}

// normalizeNumber rewrites a culture-formatted number into the invariant form
// strconv understands. Group separators are accepted only between groups of
// three digits in the whole part.
func normalizeNumber(raw string, culture language.Tag) (string, error) {
	nf := numberFormatFor(culture)
	s := strings.TrimSpace(raw)
	whole, frac, hasFrac := strings.Cut(s, nf.decimal)

	groups := []string{whole}
	for _, g := range nf.group {
		var next []string
		for _, part := range groups {
			next = append(next, strings.Split(part, g)...)
		}
		groups = next
	}
	if len(groups) > 1 {
		lead := strings.TrimLeft(groups[0], "+-")
		if len(lead) == 0 || len(lead) > 3 {
			return "", fmt.Errorf("misplaced group separator in %q", raw)
		}
		for _, g := range groups[1:] {
			if len(g) != 3 {
				return "", fmt.Errorf("misplaced group separator in %q", raw)
			}
		}
		whole = strings.Join(groups, "")
	}

	if !hasFrac {
		return whole, nil
	}
	for _, g := range nf.group {
		if strings.Contains(frac, g) {
			return "", fmt.Errorf("group separator after the decimal separator in %q", raw)
		}
	}
	return whole + "." + frac, nil
}

// invariantDateLayouts are accepted in every culture.
var invariantDateLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// dateLayoutsFor returns the culture's short date formats, with and without a time of day.
func dateLayoutsFor(culture language.Tag) []string {
	base, _ := culture.Base()
	region, _ := culture.Region()

	var layouts []string
	switch {
	case base.String() == "en" && (region.String() == "US" || region.String() == "ZZ"):
		layouts = []string{"1/2/2006 3:04:05 PM", "1/2/2006 3:04 PM", "1/2/2006", "January 2, 2006"}
	case base.String() == "en":
		layouts = []string{"2/1/2006 15:04:05", "2/1/2006 15:04", "2/1/2006", "2 January 2006"}
	case base.String() == "de", base.String() == "ru", base.String() == "pl", base.String() == "cs",
		base.String() == "fi", base.String() == "nb", base.String() == "tr", base.String() == "uk":
		layouts = []string{"2.1.2006 15:04:05", "2.1.2006 15:04", "2.1.2006"}
	case base.String() == "nl":
		layouts = []string{"2-1-2006 15:04:05", "2-1-2006 15:04", "2-1-2006"}
	case base.String() == "hu" || base.String() == "ja" || base.String() == "zh" || base.String() == "ko" || base.String() == "sv":
		layouts = []string{"2006.01.02", "2006/1/2 15:04", "2006/1/2"}
	default:
		layouts = []string{"2/1/2006 15:04:05", "2/1/2006 15:04", "2/1/2006"}
	}
	return append(layouts, invariantDateLayouts...)
}
