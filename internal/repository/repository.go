package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/loan-service/internal/models"
)

// Repository provides database operations backed by Postgres
type Repository struct {
	db *sql.DB
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const loanColumns = `id, tracking_number, user_id, approved_amount, interest_rate, term_years,
		disbursed_at, auto_pay_enabled, created_at, updated_at`

// ListDisbursedLoans returns every loan that has been funded
func (r *Repository) ListDisbursedLoans(ctx context.Context) ([]models.Loan, error) {
	query := `
		SELECT ` + loanColumns + `
		FROM servicing.loans
		WHERE disbursed_at IS NOT NULL AND approved_amount IS NOT NULL
		ORDER BY id`
	return r.queryLoans(ctx, query)
}

// ListAutoPayLoans returns funded loans whose borrower opted into auto-pay
func (r *Repository) ListAutoPayLoans(ctx context.Context) ([]models.Loan, error) {
	query := `
		SELECT ` + loanColumns + `
		FROM servicing.loans
		WHERE auto_pay_enabled AND disbursed_at IS NOT NULL AND approved_amount IS NOT NULL
		ORDER BY id`
	return r.queryLoans(ctx, query)
}

// GetLoan retrieves a loan by ID
func (r *Repository) GetLoan(ctx context.Context, id int64) (*models.Loan, error) {
	query := `
		SELECT ` + loanColumns + `
		FROM servicing.loans
		WHERE id = $1`
	loan, err := scanLoan(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("loan %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find loan: %w", err)
	}
	return loan, nil
}

func (r *Repository) queryLoans(ctx context.Context, query string) ([]models.Loan, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	var loans []models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		loans = append(loans, *loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	return loans, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLoan(row scanner) (*models.Loan, error) {
	var (
		loan        models.Loan
		approved    sql.NullInt64
		disbursedAt sql.NullTime
	)
	err := row.Scan(&loan.ID, &loan.TrackingNumber, &loan.UserID, &approved, &loan.InterestRate,
		&loan.TermYears, &disbursedAt, &loan.AutoPayEnabled, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if approved.Valid {
		loan.ApprovedAmount = &approved.Int64
	}
	if disbursedAt.Valid {
		loan.DisbursedAt = &disbursedAt.Time
	}
	return &loan, nil
}

// GetBorrower retrieves a borrower profile by user ID
func (r *Repository) GetBorrower(ctx context.Context, userID int64) (*models.Borrower, error) {
	b := &models.Borrower{}
	query := `
		SELECT id, email, name, street, city, state, zip_code, country
		FROM servicing.borrowers
		WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, userID).
		Scan(&b.ID, &b.Email, &b.Name, &b.Street, &b.City, &b.State, &b.ZipCode, &b.Country)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("borrower %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find borrower: %w", err)
	}
	return b, nil
}

// GetDefaultPaymentMethod retrieves the borrower's default payment method.
// Rows with an unroutable type are reported with models.ErrUnknownPaymentMethodType.
func (r *Repository) GetDefaultPaymentMethod(ctx context.Context, userID int64) (*models.StoredPaymentMethod, error) {
	var (
		pm         models.StoredPaymentMethod
		methodType string
		card       models.CardMethod
		crypto     models.CryptoMethod
	)
	query := `
		SELECT id, user_id, type, card_brand, last4, expiry_month, expiry_year, name_on_card,
			card_token, crypto_currency, wallet_address, is_default, created_at
		FROM servicing.payment_methods
		WHERE user_id = $1 AND is_default
		LIMIT 1`
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&pm.ID, &pm.UserID, &methodType,
		&card.Brand, &card.Last4, &card.ExpiryMonth, &card.ExpiryYear, &card.NameOnCard, &card.Token,
		&crypto.Currency, &crypto.WalletAddress, &pm.IsDefault, &pm.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("default payment method for user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payment method: %w", err)
	}

	switch models.Rail(methodType) {
	case models.RailCard:
		pm.Method = card
	case models.RailCrypto:
		pm.Method = crypto
	default:
		return nil, fmt.Errorf("payment method %d has type %q: %w", pm.ID, methodType, models.ErrUnknownPaymentMethodType)
	}
	return &pm, nil
}

// GetNotificationPreference returns the borrower's gates, defaulting to enabled
func (r *Repository) GetNotificationPreference(ctx context.Context, userID int64) (models.NotificationPreference, error) {
	pref := models.NotificationPreference{UserID: userID}
	query := `
		SELECT payment_reminders, payment_receipts
		FROM servicing.notification_preferences
		WHERE user_id = $1`
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&pref.PaymentReminders, &pref.PaymentReceipts)
	if err == sql.ErrNoRows {
		return models.DefaultNotificationPreference(userID), nil
	}
	if err != nil {
		return pref, fmt.Errorf("failed to find notification preference: %w", err)
	}
	return pref, nil
}

// ListPayments returns every payment record for a loan, oldest first
func (r *Repository) ListPayments(ctx context.Context, loanID int64) ([]models.PaymentRecord, error) {
	query := `
		SELECT id, user_id, loan_id, amount, rail, status, external_reference, failure_reason,
			metadata, created_at
		FROM servicing.payments
		WHERE loan_id = $1
		ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []models.PaymentRecord
	for rows.Next() {
		var (
			p    models.PaymentRecord
			meta []byte
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.LoanID, &p.Amount, &p.Rail, &p.Status,
			&p.ExternalReference, &p.FailureReason, &meta, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &p.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode payment metadata: %w", err)
			}
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}

// CreatePayment appends a payment record
func (r *Repository) CreatePayment(ctx context.Context, payment *models.PaymentRecord) error {
	meta, err := json.Marshal(payment.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode payment metadata: %w", err)
	}
	query := `
		INSERT INTO servicing.payments (user_id, loan_id, amount, rail, status, external_reference,
			failure_reason, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, CURRENT_TIMESTAMP)
		RETURNING id, created_at`
	err = r.db.QueryRowContext(ctx, query, payment.UserID, payment.LoanID, payment.Amount,
		string(payment.Rail), string(payment.Status), payment.ExternalReference, payment.FailureReason, meta).
		Scan(&payment.ID, &payment.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// InsertReminderLog writes the day's reminder entry unless one already exists
func (r *Repository) InsertReminderLog(ctx context.Context, entry *models.ReminderLogEntry) (bool, error) {
	query := `
		INSERT INTO servicing.payment_reminders (loan_id, day, reminder_type, days_until_due, sent_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		ON CONFLICT (loan_id, day) DO NOTHING
		RETURNING id, sent_at`
	err := r.db.QueryRowContext(ctx, query, entry.LoanID, DayKey(entry.Day), string(entry.ReminderType), entry.DaysUntilDue).
		Scan(&entry.ID, &entry.SentAt)
	return inserted(err, "reminder log")
}

// InsertAutoPayFailure writes the day's failure entry unless one already exists
func (r *Repository) InsertAutoPayFailure(ctx context.Context, entry *models.AutoPayFailureLogEntry) (bool, error) {
	query := `
		INSERT INTO servicing.autopay_failures (loan_id, day, reason, days_until_due, created_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		ON CONFLICT (loan_id, day) DO NOTHING
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, entry.LoanID, DayKey(entry.Day), entry.Reason, entry.DaysUntilDue).
		Scan(&entry.ID, &entry.CreatedAt)
	return inserted(err, "auto-pay failure log")
}

// ClaimAutoPayAttempt reserves the (loan, day) pair for a single auto-pay attempt
func (r *Repository) ClaimAutoPayAttempt(ctx context.Context, loanID int64, day time.Time) (bool, error) {
	query := `
		INSERT INTO servicing.autopay_attempts (loan_id, day, attempted_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (loan_id, day) DO NOTHING
		RETURNING loan_id`
	var id int64
	err := r.db.QueryRowContext(ctx, query, loanID, DayKey(day)).Scan(&id)
	return inserted(err, "auto-pay attempt")
}

// inserted maps the ON CONFLICT DO NOTHING result: no returned row means the
// (loan, day) row already existed.
func inserted(err error, what string) (bool, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert %s: %w", what, err)
	}
	return true, nil
}
