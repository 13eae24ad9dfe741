package models

// Dividend is one declared distribution. Dates are ISO yyyy-mm-dd strings
// as stored; optional dates are empty when unknown.
type Dividend struct {
	Symbol          string  `json:"symbol"`
	ExDate          string  `json:"ex_date"`
	PayDate         string  `json:"pay_date,omitempty"`
	RecordDate      string  `json:"record_date,omitempty"`
	DeclarationDate string  `json:"declaration_date,omitempty"`
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency"`
	Frequency       string  `json:"frequency,omitempty"`
}

// DividendQuote is an intraday observation of price and trailing yield.
type DividendQuote struct {
	Symbol        string  `json:"symbol"`
	ObservedAt    int64   `json:"observed_at"`
	Price         float64 `json:"price"`
	DividendYield float64 `json:"dividend_yield"`
}
