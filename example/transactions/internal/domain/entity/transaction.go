// Package entity holds the rows the transactions job reads and the reports it writes.
package entity

// Transaction is one row of the transactions table. Balance is the running balance over
// all transactions up to and including this one.
type Transaction struct {
	ID       int64   `gorm:"column:id;primaryKey" json:"id"`
	Datetime string  `gorm:"column:datetime" json:"datetime"`
	Merchant string  `gorm:"column:merchant" json:"merchant"`
	Amount   float64 `gorm:"column:amount" json:"amount"`
	Balance  float64 `gorm:"column:balance" json:"balance"`
}

// TableName implements gorm's tabler.
func (Transaction) TableName() string { return "transactions" }

// MerchantBalance is the total amount of one merchant.
type MerchantBalance struct {
	Merchant string  `gorm:"column:merchant" json:"merchant"`
	Balance  float64 `gorm:"column:balance" json:"balance"`
}

// MonthBalance is the total amount of one calendar month, formatted YYYY-MM.
type MonthBalance struct {
	Month   string  `gorm:"column:month" json:"month"`
	Balance float64 `gorm:"column:balance" json:"balance"`
}
