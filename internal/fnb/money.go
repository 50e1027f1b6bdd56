package fnb

import (
	"fmt"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatMinor renders an amount of minor units in the given ISO 4217
// currency, e.g. 123456 in NOK becomes "NOK 1,234.56".
func FormatMinor(code string, minor int64) (string, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("fnb: parse currency %q: %w", code, err)
	}
	major := float64(minor) / 100
	p := message.NewPrinter(language.English)
	return p.Sprint(currency.Symbol(unit.Amount(major))), nil
}
