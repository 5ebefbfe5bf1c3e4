package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/Dan9191/loan-service/internal/autopay"
	"github.com/Dan9191/loan-service/internal/config"
	"github.com/Dan9191/loan-service/internal/models"
	"github.com/Dan9191/loan-service/internal/reminder"
	"github.com/Dan9191/loan-service/internal/repository"
	"github.com/Dan9191/loan-service/internal/repository/memory"
	"github.com/Dan9191/loan-service/internal/scheduler"
	"github.com/Dan9191/loan-service/internal/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

type stubSweeps struct{}

func (stubSweeps) RunReminders(ctx context.Context) (reminder.Summary, error) {
	return reminder.Summary{Total: 1, Sent: 1}, nil
}

func (stubSweeps) RunAutoPay(ctx context.Context) (autopay.Summary, error) {
	return autopay.Summary{}, errors.New("cannot list loans")
}

func (stubSweeps) Status() []scheduler.JobStatus {
	return []scheduler.JobStatus{
		{Entry: scheduler.Entry{Name: scheduler.JobReminders}, RunState: scheduler.RunState{Runs: 2}},
		{Entry: scheduler.Entry{Name: scheduler.JobAutoPay}, RunState: scheduler.RunState{Running: true}},
	}
}

type stubAutoPay struct{}

func (stubAutoPay) TriggerLoan(ctx context.Context, id int64) (autopay.Outcome, error) {
	return autopay.Outcome{LoanID: id, State: autopay.StateSucceeded}, nil
}

type stubReminders struct{}

func (stubReminders) TriggerLoan(ctx context.Context, id int64) (reminder.Outcome, error) {
	return reminder.Outcome{}, repository.ErrNotFound
}

func newTestService(t *testing.T, store repository.Store) *Service {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		JWTSecret:         "secret",
		AdminUsername:     "admin",
		AdminPasswordHash: string(hash),
		AdminTokenTTL:     time.Hour,
		Timezone:          time.UTC,
	}
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewService(store, stubSweeps{}, stubAutoPay{}, stubReminders{}, log, cfg)
}

func TestLogin(t *testing.T) {
	svc := newTestService(t, memory.New())

	token, err := svc.Login("admin", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := utils.ParseToken("secret", token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Role != utils.RoleAdmin || claims.Subject != "admin" {
		t.Errorf("claims = %+v", claims)
	}

	for _, creds := range [][2]string{{"admin", "wrong"}, {"root", "hunter2"}} {
		if _, err := svc.Login(creds[0], creds[1]); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login(%q) err = %v, want ErrInvalidCredentials", creds[0], err)
		}
	}

	svc.config.AdminPasswordHash = ""
	if _, err := svc.Login("admin", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("login without configured hash err = %v", err)
	}
}

func TestDelegation(t *testing.T) {
	svc := newTestService(t, memory.New())
	ctx := context.Background()

	if _, err := svc.RunAutoPay(ctx); err == nil {
		t.Error("expected sweep error to propagate")
	}
	if sum, err := svc.RunReminders(ctx); err != nil || sum.Sent != 1 {
		t.Errorf("RunReminders = %+v, %v", sum, err)
	}
	if out, err := svc.TriggerAutoPay(ctx, 5); err != nil || out.LoanID != 5 {
		t.Errorf("TriggerAutoPay = %+v, %v", out, err)
	}
	if _, err := svc.TriggerReminder(ctx, 5); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("TriggerReminder err = %v", err)
	}
	if st := svc.SchedulerStatus(); len(st) != 2 || st[0].Runs != 2 || !st[1].Running {
		t.Errorf("SchedulerStatus = %+v", st)
	}
}

func TestLoanSchedule(t *testing.T) {
	store := memory.New()
	principal := int64(1_000_000)
	disbursed := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	store.AddLoan(models.Loan{
		ID: 1, TrackingNumber: "LN-1", UserID: 9, ApprovedAmount: &principal,
		InterestRate: 5.5, TermYears: 5, DisbursedAt: &disbursed,
	})
	store.AddLoan(models.Loan{ID: 2, TrackingNumber: "LN-2", UserID: 9})

	svc := newTestService(t, store)
	ctx := context.Background()

	view, err := svc.LoanSchedule(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Installments) != 60 || view.PaidCount != 0 || view.NextDue == nil || view.NextDue.Month != 1 {
		t.Fatalf("view = %+v", view)
	}

	// one settled installment and one failed attempt
	for _, status := range []models.PaymentStatus{models.PaymentCompleted, models.PaymentFailed} {
		if err := store.CreatePayment(ctx, &models.PaymentRecord{LoanID: 1, UserID: 9, Amount: view.MonthlyPayment, Status: status}); err != nil {
			t.Fatal(err)
		}
	}
	view, err = svc.LoanSchedule(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if view.PaidCount != 1 || view.PaidTotal != view.MonthlyPayment || view.NextDue.Month != 2 {
		t.Errorf("after payment view = paid %d total %d next %+v", view.PaidCount, view.PaidTotal, view.NextDue)
	}

	pending, err := svc.LoanSchedule(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending.Installments) != 0 || pending.NextDue != nil {
		t.Errorf("undisbursed loan view = %+v", pending)
	}

	if _, err := svc.LoanSchedule(ctx, 3); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("missing loan err = %v", err)
	}
}
