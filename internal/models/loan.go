package models

import "time"

// Loan represents a disbursed consumer loan serviced by the engine.
// ApprovedAmount and DisbursedAt stay nil until the loan is approved and funded.
type Loan struct {
	ID             int64      `json:"id"`
	TrackingNumber string     `json:"tracking_number"`
	UserID         int64      `json:"user_id"`
	ApprovedAmount *int64     `json:"approved_amount"` // minor units
	InterestRate   float64    `json:"interest_rate"`   // APR, percent
	TermYears      int        `json:"term_years"`
	DisbursedAt    *time.Time `json:"disbursed_at"`
	AutoPayEnabled bool       `json:"auto_pay_enabled"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Reference returns the borrower-facing loan reference.
func (l *Loan) Reference() string {
	if l.TrackingNumber != "" {
		return l.TrackingNumber
	}
	return "LOAN-" + itoa(l.ID)
}
