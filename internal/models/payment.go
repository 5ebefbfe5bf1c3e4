package models

import "time"

// PaymentStatus is the outcome recorded for a charge attempt.
type PaymentStatus string

const (
	PaymentCompleted PaymentStatus = "completed"
	PaymentPending   PaymentStatus = "pending"
	PaymentFailed    PaymentStatus = "failed"
)

// Metadata keys written on every engine-created payment record.
const (
	MetaAutoPayment = "autoPayment"
	MetaInstallment = "installment"
	MetaAttemptID   = "attemptId"
)

// PaymentRecord is an append-only record of a charge attempt
type PaymentRecord struct {
	ID                int64             `json:"id"`
	UserID            int64             `json:"user_id"`
	LoanID            int64             `json:"loan_id"`
	Amount            int64             `json:"amount"`
	Rail              Rail              `json:"rail"`
	Status            PaymentStatus     `json:"status"`
	ExternalReference string            `json:"external_reference"`
	FailureReason     string            `json:"failure_reason,omitempty"`
	Metadata          map[string]string `json:"metadata"`
	CreatedAt         time.Time         `json:"created_at"`
}

// Settled reports whether the record counts toward paying down the schedule.
// Pending crypto charges count: they settle out of band.
func (p *PaymentRecord) Settled() bool {
	return p.Status == PaymentCompleted || p.Status == PaymentPending
}
