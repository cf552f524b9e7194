// README: Common money value object used across modules.
package types

// DefaultCurrency is the currency every amount is stored in (CFA franc, no minor unit).
const DefaultCurrency = "XOF"

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func XOF(amount int64) Money {
	return Money{Amount: amount, Currency: DefaultCurrency}
}
