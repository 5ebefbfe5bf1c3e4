package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dan9191/loan-service/internal/amortization"
	"github.com/Dan9191/loan-service/internal/autopay"
	"github.com/Dan9191/loan-service/internal/config"
	"github.com/Dan9191/loan-service/internal/models"
	"github.com/Dan9191/loan-service/internal/reminder"
	"github.com/Dan9191/loan-service/internal/repository"
	"github.com/Dan9191/loan-service/internal/scheduler"
	"github.com/Dan9191/loan-service/internal/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for any failed operator login.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Sweeps runs full sweeps on demand and reports their state.
type Sweeps interface {
	RunReminders(ctx context.Context) (reminder.Summary, error)
	RunAutoPay(ctx context.Context) (autopay.Summary, error)
	Status() []scheduler.JobStatus
}

type AutoPayTrigger interface {
	TriggerLoan(ctx context.Context, loanID int64) (autopay.Outcome, error)
}

type ReminderTrigger interface {
	TriggerLoan(ctx context.Context, loanID int64) (reminder.Outcome, error)
}

// Service handles operator-facing business logic
type Service struct {
	store     repository.Store
	sweeps    Sweeps
	autopay   AutoPayTrigger
	reminders ReminderTrigger
	log       *logrus.Logger
	config    *config.Config
}

// NewService initializes a new service
func NewService(store repository.Store, sweeps Sweeps, ap AutoPayTrigger, rem ReminderTrigger, log *logrus.Logger, cfg *config.Config) *Service {
	return &Service{
		store:     store,
		sweeps:    sweeps,
		autopay:   ap,
		reminders: rem,
		log:       log,
		config:    cfg,
	}
}

// Login checks operator credentials and returns an admin JWT
func (s *Service) Login(username, password string) (string, error) {
	if s.config.AdminPasswordHash == "" || username != s.config.AdminUsername {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.config.AdminPasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	token, err := utils.IssueToken(s.config.JWTSecret, username, utils.RoleAdmin, s.config.AdminTokenTTL)
	if err != nil {
		return "", err
	}
	s.log.Infof("Operator logged in: %s", username)
	return token, nil
}

// RunAutoPay runs the auto-pay sweep now
func (s *Service) RunAutoPay(ctx context.Context) (autopay.Summary, error) {
	s.log.Info("Manual auto-pay sweep requested")
	return s.sweeps.RunAutoPay(ctx)
}

// RunReminders runs the reminder sweep now
func (s *Service) RunReminders(ctx context.Context) (reminder.Summary, error) {
	s.log.Info("Manual reminder sweep requested")
	return s.sweeps.RunReminders(ctx)
}

// SchedulerStatus reports both sweeps' schedules and last runs
func (s *Service) SchedulerStatus() []scheduler.JobStatus {
	return s.sweeps.Status()
}

// TriggerAutoPay re-runs auto-pay for one loan
func (s *Service) TriggerAutoPay(ctx context.Context, loanID int64) (autopay.Outcome, error) {
	out, err := s.autopay.TriggerLoan(ctx, loanID)
	if err != nil {
		return out, err
	}
	s.log.WithFields(logrus.Fields{"loan_id": loanID, "state": out.State}).Info("Manual auto-pay trigger finished")
	return out, nil
}

// TriggerReminder re-runs the reminder check for one loan
func (s *Service) TriggerReminder(ctx context.Context, loanID int64) (reminder.Outcome, error) {
	out, err := s.reminders.TriggerLoan(ctx, loanID)
	if err != nil {
		return out, err
	}
	s.log.WithFields(logrus.Fields{"loan_id": loanID, "result": out.Result}).Info("Manual reminder trigger finished")
	return out, nil
}

// LoanSchedule is the schedule view for one loan.
type LoanSchedule struct {
	LoanID         int64                         `json:"loan_id"`
	TrackingNumber string                        `json:"tracking_number"`
	MonthlyPayment int64                         `json:"monthly_payment"`
	TotalInterest  int64                         `json:"total_interest"`
	PaidTotal      int64                         `json:"paid_total"`
	PaidCount      int                           `json:"paid_installments"`
	NextDue        *models.ScheduledInstallment  `json:"next_due,omitempty"`
	Installments   []models.ScheduledInstallment `json:"installments"`
}

// LoanSchedule derives the loan's schedule and how much of it settled
// payments cover.
func (s *Service) LoanSchedule(ctx context.Context, loanID int64) (*LoanSchedule, error) {
	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	payments, err := s.store.ListPayments(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payments: %w", err)
	}

	schedule := amortization.Schedule(loan, s.config.Timezone)
	view := &LoanSchedule{
		LoanID:         loan.ID,
		TrackingNumber: loan.TrackingNumber,
		MonthlyPayment: schedule.MonthlyPayment,
		TotalInterest:  schedule.TotalInterest,
		Installments:   schedule.Installments,
	}
	for i := range payments {
		if payments[i].Settled() {
			view.PaidTotal += payments[i].Amount
		}
	}
	view.PaidCount = amortization.PaidInstallments(schedule, view.PaidTotal)
	if view.PaidCount < len(schedule.Installments) {
		next := schedule.Installments[view.PaidCount]
		view.NextDue = &next
	}
	if view.Installments == nil {
		view.Installments = []models.ScheduledInstallment{}
	}
	return view, nil
}
