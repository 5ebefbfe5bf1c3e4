package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Dan9191/loan-service/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// LoanReader exposes the loan working sets the engine sweeps over.
type LoanReader interface {
	ListDisbursedLoans(ctx context.Context) ([]models.Loan, error)
	ListAutoPayLoans(ctx context.Context) ([]models.Loan, error)
	GetLoan(ctx context.Context, id int64) (*models.Loan, error)
}

// BorrowerReader exposes borrower-owned data. The engine never writes it.
type BorrowerReader interface {
	GetBorrower(ctx context.Context, userID int64) (*models.Borrower, error)
	GetDefaultPaymentMethod(ctx context.Context, userID int64) (*models.StoredPaymentMethod, error)
	GetNotificationPreference(ctx context.Context, userID int64) (models.NotificationPreference, error)
}

// PaymentStore reads and appends payment records.
type PaymentStore interface {
	ListPayments(ctx context.Context, loanID int64) ([]models.PaymentRecord, error)
	CreatePayment(ctx context.Context, payment *models.PaymentRecord) error
}

// LogStore holds the per-(loan, day) logs. Every insert is insert-if-absent
// and reports whether a new row was written.
type LogStore interface {
	InsertReminderLog(ctx context.Context, entry *models.ReminderLogEntry) (bool, error)
	InsertAutoPayFailure(ctx context.Context, entry *models.AutoPayFailureLogEntry) (bool, error)
	ClaimAutoPayAttempt(ctx context.Context, loanID int64, day time.Time) (bool, error)
}

// Store is everything the engine reads and writes.
type Store interface {
	LoanReader
	BorrowerReader
	PaymentStore
	LogStore
}

// DayKey renders a calendar day the way it is stored in DATE columns.
func DayKey(day time.Time) string {
	return day.Format("2006-01-02")
}
