// Package autopay charges due installments for loans with auto-pay enabled,
// at most once per loan per calendar day.
package autopay

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Dan9191/loan-service/internal/amortization"
	"github.com/Dan9191/loan-service/internal/models"
	"github.com/Dan9191/loan-service/internal/rails"
	"github.com/Dan9191/loan-service/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const sweepName = "autopay"

// Failure log reasons for loans that cannot be charged.
const (
	ReasonNoPaymentMethod = "No payment method"
	ReasonNoEmail         = "No borrower email"
	ReasonUnknownMethod   = "Unknown payment method type"
)

// ErrAutoPayDisabled is returned when a manual trigger targets a loan that
// has not opted into auto-pay.
var ErrAutoPayDisabled = errors.New("auto-pay is not enabled for this loan")

// Charger executes a charge on the matching rail.
type Charger interface {
	Charge(ctx context.Context, req rails.ChargeRequest) rails.ChargeResult
}

// Notifier tells the borrower how a charge went.
type Notifier interface {
	SendPaymentConfirmation(ctx context.Context, to, name, loanRef string, amount int64, methodDescription string) error
	SendPaymentFailed(ctx context.Context, to, name, loanRef string, amount int64, reason string) error
}

// Observer receives sweep and per-loan outcomes.
type Observer interface {
	ObserveSweep(sweep string, err error, elapsed time.Duration)
	ObserveLoan(sweep, outcome string)
}

// State is the terminal state a loan reached in one run.
type State string

const (
	StateNoPaymentDue     State = "no_payment_due"
	StateAlreadyAttempted State = "already_attempted"
	StateNoPaymentMethod  State = "no_payment_method"
	StateSkipped          State = "skipped"
	StateSucceeded        State = "succeeded"
	StateFailed           State = "failed"
)

// Outcome describes what happened to one loan.
type Outcome struct {
	LoanID            int64                `json:"loan_id"`
	State             State                `json:"state"`
	Installment       int                  `json:"installment,omitempty"`
	Amount            int64                `json:"amount,omitempty"`
	Rail              models.Rail          `json:"rail,omitempty"`
	Status            models.PaymentStatus `json:"status,omitempty"`
	ExternalReference string               `json:"external_reference,omitempty"`
	Reason            string               `json:"reason,omitempty"`
}

// Summary counts the outcomes of a sweep. Processed counts loans that
// reached a charge attempt, so Processed == Successful + Failed.
type Summary struct {
	Total      int `json:"total"`
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

func (s *Summary) add(state State) {
	switch state {
	case StateSucceeded:
		s.Processed++
		s.Successful++
	case StateFailed:
		s.Processed++
		s.Failed++
	default:
		s.Skipped++
	}
}

// Orchestrator runs the auto-pay sweep.
type Orchestrator struct {
	store         repository.Store
	charger       Charger
	notifier      Notifier
	loc           *time.Location
	now           func() time.Time
	workers       int
	notifyTimeout time.Duration
	observer      Observer
	locks         *loanLocks
	log           *logrus.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

func WithNotifyTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.notifyTimeout = d }
}

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

func NewOrchestrator(store repository.Store, charger Charger, notifier Notifier, loc *time.Location, log *logrus.Logger, opts ...Option) *Orchestrator {
	if loc == nil {
		loc = time.UTC
	}
	o := &Orchestrator{
		store:    store,
		charger:  charger,
		notifier: notifier,
		loc:      loc,
		now:      time.Now,
		workers:  1,
		locks:    newLoanLocks(),
		log:      log,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run charges every auto-pay loan with an installment due. Per-loan errors
// and panics are contained; only failing to list loans returns an error.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	today := amortization.DateOf(o.now(), o.loc)

	loans, err := o.store.ListAutoPayLoans(ctx)
	if err != nil {
		err = fmt.Errorf("failed to list auto-pay loans: %w", err)
		o.observeSweep(err, time.Since(start))
		return Summary{}, err
	}

	o.log.WithFields(logrus.Fields{"sweep": sweepName, "loans": len(loans), "day": repository.DayKey(today)}).
		Info("Starting auto-pay sweep")

	var (
		summary = Summary{Total: len(loans)}
		mu      sync.Mutex
		wg      sync.WaitGroup
		pool    = make(chan struct{}, o.workers)
	)
	for i := range loans {
		loan := loans[i]
		pool <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-pool }()

			out := o.processLoan(ctx, &loan, today)
			mu.Lock()
			summary.add(out.State)
			mu.Unlock()
		}()
	}
	wg.Wait()

	o.log.WithFields(logrus.Fields{
		"sweep":      sweepName,
		"total":      summary.Total,
		"processed":  summary.Processed,
		"successful": summary.Successful,
		"failed":     summary.Failed,
		"skipped":    summary.Skipped,
	}).Info("Auto-pay sweep finished")
	o.observeSweep(nil, time.Since(start))
	return summary, nil
}

// TriggerLoan runs the auto-pay pipeline for one loan outside the schedule.
// The once-per-day gate still applies.
func (o *Orchestrator) TriggerLoan(ctx context.Context, loanID int64) (Outcome, error) {
	loan, err := o.store.GetLoan(ctx, loanID)
	if err != nil {
		return Outcome{}, err
	}
	if !loan.AutoPayEnabled {
		return Outcome{}, fmt.Errorf("loan %d: %w", loanID, ErrAutoPayDisabled)
	}
	return o.processLoan(ctx, loan, amortization.DateOf(o.now(), o.loc)), nil
}

// processLoan is the loan boundary: errors and panics end in a failure log
// entry and a failed outcome, never in the caller.
func (o *Orchestrator) processLoan(ctx context.Context, loan *models.Loan, today time.Time) (out Outcome) {
	log := o.log.WithFields(logrus.Fields{
		"sweep":           sweepName,
		"loan_id":         loan.ID,
		"tracking_number": loan.TrackingNumber,
	})
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Panic while processing auto-pay: %v\n%s", r, debug.Stack())
			out = Outcome{LoanID: loan.ID, State: StateFailed, Reason: fmt.Sprintf("Unexpected error: %v", r)}
			o.logFailure(ctx, log, loan.ID, today, 0, out.Reason)
		}
		o.observeLoan(out.State)
	}()

	out, err := o.charge(ctx, loan, today, log)
	if err != nil {
		log.Errorf("Failed to process auto-pay: %v", err)
		out.State = StateFailed
		out.Reason = err.Error()
		o.logFailure(ctx, log, loan.ID, today, 0, out.Reason)
	}
	return out
}

func (o *Orchestrator) charge(ctx context.Context, loan *models.Loan, today time.Time, log *logrus.Entry) (Outcome, error) {
	out := Outcome{LoanID: loan.ID, State: StateNoPaymentDue}

	target, ok, err := o.dueInstallment(ctx, loan, today)
	if err != nil || !ok {
		return out, err
	}
	out.Installment = target.Month
	out.Amount = target.Amount
	daysUntilDue := amortization.DaysBetween(today, target.DueDate)
	log = log.WithFields(logrus.Fields{"installment": target.Month, "amount": target.Amount})

	claimed, err := o.claim(ctx, loan.ID, today)
	if err != nil {
		return out, err
	}
	if !claimed {
		log.Info("Payment already attempted today")
		out.State = StateAlreadyAttempted
		return out, nil
	}

	stored, err := o.store.GetDefaultPaymentMethod(ctx, loan.UserID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		log.Warn("No default payment method")
		out.State, out.Reason = StateNoPaymentMethod, ReasonNoPaymentMethod
		o.logFailure(ctx, log, loan.ID, today, daysUntilDue, out.Reason)
		return out, nil
	case errors.Is(err, models.ErrUnknownPaymentMethodType):
		log.Errorf("Unroutable payment method: %v", err)
		out.State, out.Reason = StateFailed, ReasonUnknownMethod
		o.logFailure(ctx, log, loan.ID, today, daysUntilDue, out.Reason)
		return out, nil
	case err != nil:
		return out, err
	}

	borrower, err := o.store.GetBorrower(ctx, loan.UserID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return out, err
	}
	if borrower == nil || strings.TrimSpace(borrower.Email) == "" {
		log.Warn("No borrower email")
		out.State, out.Reason = StateSkipped, ReasonNoEmail
		o.logFailure(ctx, log, loan.ID, today, daysUntilDue, out.Reason)
		return out, nil
	}

	attemptID := uuid.NewString()
	res := o.charger.Charge(ctx, rails.ChargeRequest{
		Loan:        loan,
		Borrower:    borrower,
		Method:      stored.Method,
		Amount:      target.Amount,
		Installment: target.Month,
		AttemptID:   attemptID,
	})
	out.Rail, out.Status, out.ExternalReference = res.Rail, res.Status, res.ExternalReference

	record := &models.PaymentRecord{
		UserID:            loan.UserID,
		LoanID:            loan.ID,
		Amount:            target.Amount,
		Rail:              res.Rail,
		Status:            res.Status,
		ExternalReference: res.ExternalReference,
		Metadata: map[string]string{
			models.MetaAutoPayment: "true",
			models.MetaInstallment: strconv.Itoa(target.Month),
			models.MetaAttemptID:   attemptID,
		},
	}
	if !res.Success {
		record.Status = models.PaymentFailed
		record.FailureReason = res.Reason
	}
	if err := o.store.CreatePayment(ctx, record); err != nil {
		return out, err
	}

	if !res.Success {
		out.State, out.Reason = StateFailed, res.Reason
		if _, err := o.store.InsertAutoPayFailure(ctx, &models.AutoPayFailureLogEntry{
			LoanID: loan.ID, Day: today, Reason: res.Reason, DaysUntilDue: daysUntilDue,
		}); err != nil {
			return out, fmt.Errorf("failed to log auto-pay failure: %w", err)
		}
		log.WithField("reason", res.Reason).Warn("Auto-payment failed")
		o.notifyFailed(ctx, log, loan, borrower, target.Amount, res.Reason)
		return out, nil
	}

	out.State = StateSucceeded
	log.WithFields(logrus.Fields{"rail": res.Rail, "status": res.Status, "reference": res.ExternalReference}).
		Info("Auto-payment charged")
	o.notifySucceeded(ctx, log, loan, borrower, target.Amount, stored.Method.Description())
	return out, nil
}

// dueInstallment returns the first installment due on or before today that
// settled payments do not yet cover.
func (o *Orchestrator) dueInstallment(ctx context.Context, loan *models.Loan, today time.Time) (models.ScheduledInstallment, bool, error) {
	schedule := amortization.Schedule(loan, o.loc)
	if len(schedule.Installments) == 0 {
		return models.ScheduledInstallment{}, false, nil
	}
	payments, err := o.store.ListPayments(ctx, loan.ID)
	if err != nil {
		return models.ScheduledInstallment{}, false, err
	}
	var paid int64
	for i := range payments {
		if payments[i].Settled() {
			paid += payments[i].Amount
		}
	}
	idx := amortization.PaidInstallments(schedule, paid)
	if idx >= len(schedule.Installments) {
		return models.ScheduledInstallment{}, false, nil
	}
	next := schedule.Installments[idx]
	if next.DueDate.After(today) {
		return models.ScheduledInstallment{}, false, nil
	}
	return next, true, nil
}

// claim takes the (loan, day) attempt slot. The per-loan lock covers only
// the claim; the store's unique key covers other processes.
func (o *Orchestrator) claim(ctx context.Context, loanID int64, today time.Time) (bool, error) {
	unlock := o.locks.lock(loanID)
	defer unlock()
	return o.store.ClaimAutoPayAttempt(ctx, loanID, today)
}

func (o *Orchestrator) logFailure(ctx context.Context, log *logrus.Entry, loanID int64, day time.Time, daysUntilDue int, reason string) {
	entry := &models.AutoPayFailureLogEntry{LoanID: loanID, Day: day, Reason: reason, DaysUntilDue: daysUntilDue}
	if _, err := o.store.InsertAutoPayFailure(ctx, entry); err != nil {
		log.Errorf("Failed to write auto-pay failure log: %v", err)
	}
}

func (o *Orchestrator) notifySucceeded(ctx context.Context, log *logrus.Entry, loan *models.Loan, borrower *models.Borrower, amount int64, description string) {
	pref, err := o.store.GetNotificationPreference(ctx, loan.UserID)
	if err != nil {
		log.Errorf("Failed to load notification preference: %v", err)
		return
	}
	if !pref.PaymentReceipts {
		log.Info("Borrower opted out of payment receipts")
		return
	}
	sendCtx, cancel := o.notifyContext(ctx)
	defer cancel()
	if err := o.notifier.SendPaymentConfirmation(sendCtx, borrower.Email, borrower.DisplayName(), loan.Reference(), amount, description); err != nil {
		log.Errorf("Failed to send payment confirmation: %v", err)
	}
}

func (o *Orchestrator) notifyFailed(ctx context.Context, log *logrus.Entry, loan *models.Loan, borrower *models.Borrower, amount int64, reason string) {
	sendCtx, cancel := o.notifyContext(ctx)
	defer cancel()
	if err := o.notifier.SendPaymentFailed(sendCtx, borrower.Email, borrower.DisplayName(), loan.Reference(), amount, reason); err != nil {
		log.Errorf("Failed to send payment failure notice: %v", err)
	}
}

func (o *Orchestrator) notifyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.notifyTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.notifyTimeout)
}

func (o *Orchestrator) observeSweep(err error, elapsed time.Duration) {
	if o.observer != nil {
		o.observer.ObserveSweep(sweepName, err, elapsed)
	}
}

func (o *Orchestrator) observeLoan(state State) {
	if o.observer != nil {
		o.observer.ObserveLoan(sweepName, string(state))
	}
}
