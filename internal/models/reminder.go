package models

import "time"

// ReminderType distinguishes advance reminders from overdue and
// delinquency notices.
type ReminderType string

const (
	ReminderUpcoming   ReminderType = "upcoming"
	ReminderOverdue    ReminderType = "overdue"
	ReminderDelinquent ReminderType = "delinquent"
)

// ReminderLogEntry records that a reminder went out for a loan on a day.
// At most one exists per (LoanID, Day).
type ReminderLogEntry struct {
	ID           int64        `json:"id"`
	LoanID       int64        `json:"loan_id"`
	Day          time.Time    `json:"day"`
	ReminderType ReminderType `json:"reminder_type"`
	DaysUntilDue int          `json:"days_until_due"` // negative when overdue
	SentAt       time.Time    `json:"sent_at"`
}

// AutoPayFailureLogEntry records a failed or skipped auto-pay attempt.
// At most one exists per (LoanID, Day).
type AutoPayFailureLogEntry struct {
	ID           int64     `json:"id"`
	LoanID       int64     `json:"loan_id"`
	Day          time.Time `json:"day"`
	Reason       string    `json:"reason"`
	DaysUntilDue int       `json:"days_until_due"`
	CreatedAt    time.Time `json:"created_at"`
}

// AutoPayAttempt claims a (loan, day) pair before any charge is dispatched.
type AutoPayAttempt struct {
	LoanID      int64     `json:"loan_id"`
	Day         time.Time `json:"day"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// NotificationPreference holds per-borrower notification gates.
type NotificationPreference struct {
	UserID           int64 `json:"user_id"`
	PaymentReminders bool  `json:"payment_reminders"`
	PaymentReceipts  bool  `json:"payment_receipts"`
}

// DefaultNotificationPreference applies when a borrower has no stored row.
func DefaultNotificationPreference(userID int64) NotificationPreference {
	return NotificationPreference{UserID: userID, PaymentReminders: true, PaymentReceipts: true}
}
