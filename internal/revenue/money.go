package revenue

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Cents is an amount in minor currency units.
type Cents int64

// Rate is a commission rate in basis points of a percent: 7000 is 70.00%.
type Rate int64

// MaxRate is 100%.
const MaxRate Rate = 10000

// Valid reports whether the rate lies in [0, 100%].
func (r Rate) Valid() bool {
	return r >= 0 && r <= MaxRate
}

func (r Rate) String() string {
	return fmt.Sprintf("%d.%02d%%", int64(r)/100, int64(r)%100)
}

// Commission returns revenue * rate rounded half-up to the cent.
func Commission(revenue Cents, rate Rate) Cents {
	product := int64(revenue) * int64(rate)
	if product < 0 {
		return -Cents((-product + int64(MaxRate)/2) / int64(MaxRate))
	}
	return Cents((product + int64(MaxRate)/2) / int64(MaxRate))
}

var printer = message.NewPrinter(language.English)

// Format renders the amount with its ISO 4217 code, e.g. "USD 1,234.50".
// Cents are minor units, so currencies without a minor unit print whole.
// Unknown codes fall back to two decimals.
func (c Cents) Format(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	scale := 2
	if unit, err := currency.ParseISO(code); err == nil {
		code = unit.String()
		scale, _ = currency.Standard.Rounding(unit)
	}
	value := float64(c) / math.Pow10(scale)
	return printer.Sprintf(fmt.Sprintf("%%s %%.%df", scale), code, value)
}
