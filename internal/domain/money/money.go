// Package money formats amounts in the store currency for display.
package money

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Formatter renders decimal amounts with a currency symbol for one locale.
// It is safe for concurrent use.
type Formatter struct {
	unit    currency.Unit
	tag     language.Tag
	printer *message.Printer
}

// NewFormatter returns a Formatter for an ISO 4217 currency code and a BCP 47
// locale, e.g. "BRL" and "pt-BR".
func NewFormatter(code, locale string) (*Formatter, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, errors.Wrapf(err, "currency %q", code)
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, errors.Wrapf(err, "locale %q", locale)
	}
	return &Formatter{
		unit:    unit,
		tag:     tag,
		printer: message.NewPrinter(tag),
	}, nil
}

// Currency returns the ISO code.
func (f *Formatter) Currency() string {
	return f.unit.String()
}

// Locale returns the BCP 47 tag.
func (f *Formatter) Locale() string {
	return f.tag.String()
}

// Format renders d rounded to cents with the currency symbol.
func (f *Formatter) Format(d decimal.Decimal) string {
	amount, _ := d.Round(2).Float64()
	return f.printer.Sprint(currency.Symbol(f.unit.Amount(amount)))
}
