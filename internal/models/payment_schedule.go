package models

import "time"

// ScheduledInstallment is a single row of an amortization schedule.
type ScheduledInstallment struct {
	Month   int       `json:"month"`
	DueDate time.Time `json:"due_date"`
	Amount  int64     `json:"amount"` // minor units
}

// PaymentSchedule is derived from a Loan on every run and never stored.
type PaymentSchedule struct {
	Installments   []ScheduledInstallment `json:"installments"`
	MonthlyPayment int64                  `json:"monthly_payment"`
	TotalInterest  int64                  `json:"total_interest"`
}

// Total returns the sum of all installment amounts.
func (s PaymentSchedule) Total() int64 {
	var total int64
	for _, inst := range s.Installments {
		total += inst.Amount
	}
	return total
}
