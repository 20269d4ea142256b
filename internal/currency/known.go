package currency

import (
	"strings"

	"github.com/odyssey-erp/closeflow/internal/backend"
)

// Info describes a display currency.
type Info = backend.CurrencyInfo

// Rate converts one unit of BaseCurrency into TargetCurrency.
type Rate = backend.FxRate

var known = map[string]Info{
	"USD": {DefaultCurrency: "USD", CurrencySymbol: "$", CurrencyName: "US Dollar", DecimalPlaces: 2},
	"INR": {DefaultCurrency: "INR", CurrencySymbol: "₹", CurrencyName: "Indian Rupee", DecimalPlaces: 2},
	"EUR": {DefaultCurrency: "EUR", CurrencySymbol: "€", CurrencyName: "Euro", DecimalPlaces: 2},
	"MYR": {DefaultCurrency: "MYR", CurrencySymbol: "RM", CurrencyName: "Malaysian Ringgit", DecimalPlaces: 2},
}

// Known returns the built-in definition of code.
func Known(code string) (Info, bool) {
	info, ok := known[strings.ToUpper(strings.TrimSpace(code))]
	return info, ok
}

// KnownCodes lists the built-in currency codes.
func KnownCodes() []string {
	return []string{"USD", "INR", "EUR", "MYR"}
}
