package reminder

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/Dan9191/loan-service/internal/amortization"
	"github.com/Dan9191/loan-service/internal/models"
	"github.com/Dan9191/loan-service/internal/repository"
	"github.com/sirupsen/logrus"
)

const sweepName = "reminders"

// Notifier delivers reminder emails.
type Notifier interface {
	SendReminder(ctx context.Context, to, name, loanRef string, amount int64, daysUntilDue int) error
	SendOverdue(ctx context.Context, to, name, loanRef string, amount int64, daysOverdue int) error
	SendDelinquency(ctx context.Context, to, name, loanRef string, amount int64, daysOverdue int) error
}

// Observer receives sweep and per-loan outcomes.
type Observer interface {
	ObserveSweep(sweep string, err error, elapsed time.Duration)
	ObserveLoan(sweep, outcome string)
}

// Result is what happened to a single loan.
type Result string

const (
	ResultNone       Result = "none"
	ResultSent       Result = "sent"
	ResultSuppressed Result = "suppressed"
	ResultDuplicate  Result = "duplicate"
	ResultSkipped    Result = "skipped"
	ResultFailed     Result = "failed"
)

// Outcome reports the decision and the result for one loan.
type Outcome struct {
	LoanID         int64          `json:"loan_id"`
	Classification Classification `json:"-"`
	Kind           string         `json:"kind"`
	Days           int            `json:"days"`
	Delinquent     bool           `json:"delinquent,omitempty"`
	Result         Result         `json:"result"`
	Reason         string         `json:"reason,omitempty"`
}

// Summary counts outcomes of one sweep. Loans with nothing to send are
// included in Total only.
type Summary struct {
	Total      int `json:"total"`
	Sent       int `json:"sent"`
	Suppressed int `json:"suppressed"`
	Duplicate  int `json:"duplicate"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

func (s *Summary) add(r Result) {
	switch r {
	case ResultSent:
		s.Sent++
	case ResultSuppressed:
		s.Suppressed++
	case ResultDuplicate:
		s.Duplicate++
	case ResultSkipped:
		s.Skipped++
	case ResultFailed:
		s.Failed++
	}
}

// Engine runs the daily reminder sweep.
type Engine struct {
	store         repository.Store
	notifier      Notifier
	loc           *time.Location
	now           func() time.Time
	workers       int
	notifyTimeout time.Duration
	observer      Observer
	log           *logrus.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

func WithNotifyTimeout(d time.Duration) Option {
	return func(e *Engine) { e.notifyTimeout = d }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

func NewEngine(store repository.Store, notifier Notifier, loc *time.Location, log *logrus.Logger, opts ...Option) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	e := &Engine{
		store:    store,
		notifier: notifier,
		loc:      loc,
		now:      time.Now,
		workers:  1,
		log:      log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run evaluates every disbursed loan for today. A per-loan failure never
// stops the sweep; only failing to list loans returns an error.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	today := amortization.DateOf(e.now(), e.loc)

	loans, err := e.store.ListDisbursedLoans(ctx)
	if err != nil {
		err = fmt.Errorf("failed to list loans for reminders: %w", err)
		e.observeSweep(err, time.Since(start))
		return Summary{}, err
	}

	e.log.WithFields(logrus.Fields{"sweep": sweepName, "loans": len(loans), "day": repository.DayKey(today)}).
		Info("Starting reminder sweep")

	var (
		summary = Summary{Total: len(loans)}
		mu      sync.Mutex
		wg      sync.WaitGroup
		pool    = make(chan struct{}, e.workers)
	)
	for i := range loans {
		loan := loans[i]
		pool <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-pool }()

			out := e.processLoan(ctx, &loan, today)
			mu.Lock()
			summary.add(out.Result)
			mu.Unlock()
		}()
	}
	wg.Wait()

	e.log.WithFields(logrus.Fields{
		"sweep":      sweepName,
		"total":      summary.Total,
		"sent":       summary.Sent,
		"suppressed": summary.Suppressed,
		"duplicate":  summary.Duplicate,
		"skipped":    summary.Skipped,
		"failed":     summary.Failed,
	}).Info("Reminder sweep finished")
	e.observeSweep(nil, time.Since(start))
	return summary, nil
}

// TriggerLoan runs the reminder logic for a single loan. The once-per-day
// gate still applies.
func (e *Engine) TriggerLoan(ctx context.Context, loanID int64) (Outcome, error) {
	loan, err := e.store.GetLoan(ctx, loanID)
	if err != nil {
		return Outcome{}, err
	}
	return e.processLoan(ctx, loan, amortization.DateOf(e.now(), e.loc)), nil
}

// processLoan is the per-loan boundary: panics become a failed outcome.
func (e *Engine) processLoan(ctx context.Context, loan *models.Loan, today time.Time) (out Outcome) {
	log := e.log.WithFields(logrus.Fields{
		"sweep":           sweepName,
		"loan_id":         loan.ID,
		"tracking_number": loan.TrackingNumber,
	})
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Panic while processing reminder: %v\n%s", r, debug.Stack())
			out = Outcome{LoanID: loan.ID, Result: ResultFailed, Reason: fmt.Sprintf("panic: %v", r)}
		}
		out.Kind = out.Classification.Kind.String()
		out.Days = out.Classification.Days
		out.Delinquent = out.Classification.Delinquent
		e.observeLoan(out.Result)
	}()

	out, err := e.remind(ctx, loan, today, log)
	if err != nil {
		log.Errorf("Failed to process reminder: %v", err)
		out.Result = ResultFailed
		out.Reason = err.Error()
	}
	return out
}

func (e *Engine) remind(ctx context.Context, loan *models.Loan, today time.Time, log *logrus.Entry) (Outcome, error) {
	out := Outcome{LoanID: loan.ID, Result: ResultNone}

	schedule := amortization.Schedule(loan, e.loc)
	if len(schedule.Installments) == 0 {
		return out, nil
	}
	payments, err := e.store.ListPayments(ctx, loan.ID)
	if err != nil {
		return out, err
	}
	paidCount := amortization.PaidInstallments(schedule, settledTotal(payments))

	out.Classification = Classify(schedule, paidCount, today)
	if out.Classification.Kind == None {
		return out, nil
	}

	pref, err := e.store.GetNotificationPreference(ctx, loan.UserID)
	if err != nil {
		return out, err
	}
	if !pref.PaymentReminders {
		log.Info("Borrower opted out of payment reminders")
		out.Result = ResultSuppressed
		return out, nil
	}

	borrower, err := e.store.GetBorrower(ctx, loan.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn("No borrower profile, skipping reminder")
		out.Result, out.Reason = ResultSkipped, "No borrower profile"
		return out, nil
	}
	if err != nil {
		return out, err
	}
	if strings.TrimSpace(borrower.Email) == "" {
		log.Warn("Borrower has no email, skipping reminder")
		out.Result, out.Reason = ResultSkipped, "No borrower email"
		return out, nil
	}

	entry := &models.ReminderLogEntry{
		LoanID:       loan.ID,
		Day:          today,
		ReminderType: models.ReminderUpcoming,
		DaysUntilDue: out.Classification.Days,
	}
	if out.Classification.Kind == Overdue {
		entry.ReminderType = models.ReminderOverdue
		entry.DaysUntilDue = -out.Classification.Days
		if out.Classification.Delinquent {
			entry.ReminderType = models.ReminderDelinquent
		}
	}
	claimed, err := e.store.InsertReminderLog(ctx, entry)
	if err != nil {
		return out, err
	}
	if !claimed {
		log.Debug("Reminder already sent today")
		out.Result = ResultDuplicate
		return out, nil
	}

	sendCtx, cancel := e.notifyContext(ctx)
	defer cancel()

	amount := out.Classification.Installment.Amount
	switch {
	case out.Classification.Delinquent:
		err = e.notifier.SendDelinquency(sendCtx, borrower.Email, borrower.DisplayName(), loan.Reference(), amount, out.Classification.Days)
	case out.Classification.Kind == Overdue:
		err = e.notifier.SendOverdue(sendCtx, borrower.Email, borrower.DisplayName(), loan.Reference(), amount, out.Classification.Days)
	default:
		err = e.notifier.SendReminder(sendCtx, borrower.Email, borrower.DisplayName(), loan.Reference(), amount, out.Classification.Days)
	}
	if err != nil {
		// the day is already logged; the borrower is not reminded twice
		return out, fmt.Errorf("failed to send reminder: %w", err)
	}

	log.WithFields(logrus.Fields{
		"reminder_type": entry.ReminderType,
		"days":          out.Classification.Days,
		"installment":   out.Classification.Installment.Month,
	}).Info("Reminder sent")
	out.Result = ResultSent
	return out, nil
}

func (e *Engine) notifyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.notifyTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.notifyTimeout)
}

func (e *Engine) observeSweep(err error, elapsed time.Duration) {
	if e.observer != nil {
		e.observer.ObserveSweep(sweepName, err, elapsed)
	}
}

func (e *Engine) observeLoan(r Result) {
	if e.observer != nil {
		e.observer.ObserveLoan(sweepName, string(r))
	}
}

func settledTotal(payments []models.PaymentRecord) int64 {
	var total int64
	for i := range payments {
		if payments[i].Settled() {
			total += payments[i].Amount
		}
	}
	return total
}
