// Package memory is an in-process Store used by tests and local dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Dan9191/loan-service/internal/models"
	"github.com/Dan9191/loan-service/internal/repository"
)

type dayKey struct {
	loanID int64
	day    string
}

// Store keeps every table in maps guarded by a single RWMutex. The
// (loan, day) maps enforce the same uniqueness as the Postgres schema.
type Store struct {
	mu          sync.RWMutex
	loans       map[int64]models.Loan
	borrowers   map[int64]models.Borrower
	methods     map[int64]models.StoredPaymentMethod
	badMethods  map[int64]string
	preferences map[int64]models.NotificationPreference
	payments    []models.PaymentRecord
	reminders   map[dayKey]models.ReminderLogEntry
	failures    map[dayKey]models.AutoPayFailureLogEntry
	attempts    map[dayKey]models.AutoPayAttempt
	nextID      int64
	now         func() time.Time
}

var _ repository.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		loans:       make(map[int64]models.Loan),
		borrowers:   make(map[int64]models.Borrower),
		methods:     make(map[int64]models.StoredPaymentMethod),
		badMethods:  make(map[int64]string),
		preferences: make(map[int64]models.NotificationPreference),
		reminders:   make(map[dayKey]models.ReminderLogEntry),
		failures:    make(map[dayKey]models.AutoPayFailureLogEntry),
		attempts:    make(map[dayKey]models.AutoPayAttempt),
		now:         time.Now,
	}
}

func (s *Store) AddLoan(loan models.Loan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loans[loan.ID] = loan
}

func (s *Store) AddBorrower(b models.Borrower) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.borrowers[b.ID] = b
}

// SetDefaultPaymentMethod replaces the borrower's default method.
func (s *Store) SetDefaultPaymentMethod(userID int64, method models.PaymentMethod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.methods[userID] = models.StoredPaymentMethod{
		ID:        s.nextID,
		UserID:    userID,
		IsDefault: true,
		CreatedAt: s.now(),
		Method:    method,
	}
	delete(s.badMethods, userID)
}

// SetUnroutablePaymentMethod stores a default method whose type no rail handles.
func (s *Store) SetUnroutablePaymentMethod(userID int64, methodType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.methods, userID)
	s.badMethods[userID] = methodType
}

func (s *Store) SetNotificationPreference(pref models.NotificationPreference) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferences[pref.UserID] = pref
}

func (s *Store) ListDisbursedLoans(ctx context.Context) ([]models.Loan, error) {
	return s.filterLoans(func(l models.Loan) bool { return true }), nil
}

func (s *Store) ListAutoPayLoans(ctx context.Context) ([]models.Loan, error) {
	return s.filterLoans(func(l models.Loan) bool { return l.AutoPayEnabled }), nil
}

func (s *Store) filterLoans(keep func(models.Loan) bool) []models.Loan {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var loans []models.Loan
	for _, l := range s.loans {
		if l.DisbursedAt == nil || l.ApprovedAmount == nil || !keep(l) {
			continue
		}
		loans = append(loans, l)
	}
	sort.Slice(loans, func(i, j int) bool { return loans[i].ID < loans[j].ID })
	return loans
}

func (s *Store) GetLoan(ctx context.Context, id int64) (*models.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.loans[id]
	if !ok {
		return nil, fmt.Errorf("loan %d: %w", id, repository.ErrNotFound)
	}
	return &l, nil
}

func (s *Store) GetBorrower(ctx context.Context, userID int64) (*models.Borrower, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.borrowers[userID]
	if !ok {
		return nil, fmt.Errorf("borrower %d: %w", userID, repository.ErrNotFound)
	}
	return &b, nil
}

func (s *Store) GetDefaultPaymentMethod(ctx context.Context, userID int64) (*models.StoredPaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.badMethods[userID]; ok {
		return nil, fmt.Errorf("payment method type %q: %w", t, models.ErrUnknownPaymentMethodType)
	}
	pm, ok := s.methods[userID]
	if !ok {
		return nil, fmt.Errorf("default payment method for user %d: %w", userID, repository.ErrNotFound)
	}
	return &pm, nil
}

func (s *Store) GetNotificationPreference(ctx context.Context, userID int64) (models.NotificationPreference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if pref, ok := s.preferences[userID]; ok {
		return pref, nil
	}
	return models.DefaultNotificationPreference(userID), nil
}

func (s *Store) ListPayments(ctx context.Context, loanID int64) ([]models.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PaymentRecord
	for _, p := range s.payments {
		if p.LoanID == loanID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) CreatePayment(ctx context.Context, payment *models.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	payment.ID = s.nextID
	payment.CreatedAt = s.now()
	stored := *payment
	stored.Metadata = make(map[string]string, len(payment.Metadata))
	for k, v := range payment.Metadata {
		stored.Metadata[k] = v
	}
	s.payments = append(s.payments, stored)
	return nil
}

func (s *Store) InsertReminderLog(ctx context.Context, entry *models.ReminderLogEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dayKey{entry.LoanID, repository.DayKey(entry.Day)}
	if _, exists := s.reminders[key]; exists {
		return false, nil
	}
	s.nextID++
	entry.ID = s.nextID
	entry.SentAt = s.now()
	s.reminders[key] = *entry
	return true, nil
}

func (s *Store) InsertAutoPayFailure(ctx context.Context, entry *models.AutoPayFailureLogEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dayKey{entry.LoanID, repository.DayKey(entry.Day)}
	if _, exists := s.failures[key]; exists {
		return false, nil
	}
	s.nextID++
	entry.ID = s.nextID
	entry.CreatedAt = s.now()
	s.failures[key] = *entry
	return true, nil
}

func (s *Store) ClaimAutoPayAttempt(ctx context.Context, loanID int64, day time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dayKey{loanID, repository.DayKey(day)}
	if _, exists := s.attempts[key]; exists {
		return false, nil
	}
	s.attempts[key] = models.AutoPayAttempt{LoanID: loanID, Day: day, AttemptedAt: s.now()}
	return true, nil
}

// Payments returns a copy of every stored payment record.
func (s *Store) Payments() []models.PaymentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.PaymentRecord(nil), s.payments...)
}

// ReminderLogs returns every reminder entry ordered by loan then day.
func (s *Store) ReminderLogs() []models.ReminderLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ReminderLogEntry, 0, len(s.reminders))
	for _, e := range s.reminders {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LoanID != out[j].LoanID {
			return out[i].LoanID < out[j].LoanID
		}
		return out[i].Day.Before(out[j].Day)
	})
	return out
}

// FailureLogs returns every auto-pay failure entry ordered by loan then day.
func (s *Store) FailureLogs() []models.AutoPayFailureLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AutoPayFailureLogEntry, 0, len(s.failures))
	for _, e := range s.failures {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LoanID != out[j].LoanID {
			return out[i].LoanID < out[j].LoanID
		}
		return out[i].Day.Before(out[j].Day)
	})
	return out
}
