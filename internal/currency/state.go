package currency

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// State is an immutable view of a client's currency context.
type State struct {
	Entity              string   `json:"entity"`
	Selected            string   `json:"selected"`
	Local               *Info    `json:"local_currency"`
	SelectedInfo        *Info    `json:"selected_currency"`
	ReportingCurrencies []string `json:"reporting_currencies"`
	Rates               []Rate   `json:"rates"`
	LastRefreshed       string   `json:"last_refreshed,omitempty"`
}

// IsBase reports whether the selected currency is the local currency.
func (s State) IsBase() bool {
	return s.Local != nil && (s.Selected == "" || s.Selected == s.Local.DefaultCurrency)
}

// Rate returns the rate whose target is the selected currency.
func (s State) Rate() (decimal.Decimal, bool) {
	for _, r := range s.Rates {
		if r.TargetCurrency == s.Selected {
			return r.Rate, true
		}
	}
	return decimal.Zero, false
}

// Convert maps a local-currency value into the selected currency. It returns
// value unchanged when the selection is the base currency or no rate matches.
func (s State) Convert(value decimal.Decimal) decimal.Decimal {
	if s.IsBase() {
		return value
	}
	rate, ok := s.Rate()
	if !ok {
		return value
	}
	return value.Mul(rate)
}

// Format renders value with the selected currency's symbol and precision.
func (s State) Format(value decimal.Decimal) string {
	info := s.SelectedInfo
	if info == nil {
		info = s.Local
	}
	places, symbol, code := 2, "", ""
	if info != nil {
		places, symbol, code = info.DecimalPlaces, info.CurrencySymbol, info.DefaultCurrency
	}
	if places < 0 {
		places = 0
	}
	rounded := value.Round(int32(places))
	p := message.NewPrinter(localeFor(code))
	sign := ""
	if rounded.IsNegative() {
		sign = "-"
		rounded = rounded.Abs()
	}
	return sign + symbol + p.Sprint(number.Decimal(rounded.InexactFloat64(), number.Scale(places)))
}

func localeFor(code string) language.Tag {
	switch code {
	case "INR":
		return language.MustParse("en-IN")
	case "MYR":
		return language.MustParse("en-MY")
	default:
		return language.English
	}
}
