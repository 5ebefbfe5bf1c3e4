package autopay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Dan9191/loan-service/internal/amortization"
	"github.com/Dan9191/loan-service/internal/integrations/authnet"
	"github.com/Dan9191/loan-service/internal/models"
	"github.com/Dan9191/loan-service/internal/rails"
	"github.com/Dan9191/loan-service/internal/repository"
	"github.com/Dan9191/loan-service/internal/repository/memory"
	"github.com/Dan9191/loan-service/internal/utils"
	"github.com/sirupsen/logrus"
)

var testNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

type fakeCharger struct {
	mu      sync.Mutex
	calls   []rails.ChargeRequest
	results map[int64]rails.ChargeResult
	panics  map[int64]bool
}

func (f *fakeCharger) Charge(ctx context.Context, req rails.ChargeRequest) rails.ChargeResult {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.panics[req.Loan.ID] {
		panic("rail exploded")
	}
	if res, ok := f.results[req.Loan.ID]; ok {
		return res
	}
	return rails.ChargeResult{Success: true, Rail: req.Method.Rail(), Status: models.PaymentCompleted, ExternalReference: "txn-ok"}
}

func (f *fakeCharger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type notice struct {
	kind   string
	to     string
	amount int64
	detail string
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (f *fakeNotifier) SendPaymentConfirmation(ctx context.Context, to, name, loanRef string, amount int64, methodDescription string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, notice{"confirmation", to, amount, methodDescription})
	return nil
}

func (f *fakeNotifier) SendPaymentFailed(ctx context.Context, to, name, loanRef string, amount int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, notice{"failed", to, amount, reason})
	return nil
}

func (f *fakeNotifier) all() []notice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notice(nil), f.notices...)
}

type failingPayments struct {
	*memory.Store
}

func (failingPayments) CreatePayment(ctx context.Context, p *models.PaymentRecord) error {
	return errors.New("insert failed")
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// addLoan seeds an auto-pay loan whose first installment is due offset days
// from testNow, with a default card on file.
func addLoan(store *memory.Store, id int64, offset int) models.Loan {
	today := amortization.DateOf(testNow, time.UTC)
	disbursed := amortization.AddMonths(today.AddDate(0, 0, offset), -1)
	amount := int64(1_200_000)
	loan := models.Loan{
		ID:             id,
		TrackingNumber: "LN-" + strings.Repeat("7", int(id)),
		UserID:         id + 100,
		ApprovedAmount: &amount,
		InterestRate:   12,
		TermYears:      1,
		DisbursedAt:    &disbursed,
		AutoPayEnabled: true,
	}
	store.AddLoan(loan)
	store.AddBorrower(models.Borrower{ID: loan.UserID, Email: "borrower@example.com", Name: "Pat Doe"})
	store.SetDefaultPaymentMethod(loan.UserID, models.CardMethod{Brand: "Visa", Last4: "4242", Token: "sealed"})
	return loan
}

func firstInstallment(loan models.Loan) models.ScheduledInstallment {
	return amortization.Schedule(&loan, time.UTC).Installments[0]
}

func newTestOrchestrator(store repository.Store, c Charger, n Notifier) *Orchestrator {
	return NewOrchestrator(store, c, n, time.UTC, quietLogger(),
		WithClock(func() time.Time { return testNow }), WithWorkers(4))
}

func TestRun_ChargesDueLoans(t *testing.T) {
	store := memory.New()
	card := addLoan(store, 1, 0)
	crypto := addLoan(store, 2, -2)
	store.SetDefaultPaymentMethod(crypto.UserID, models.CryptoMethod{Currency: "USDC", WalletAddress: "0x52908400098527886E0F7030069857D2E4169EE7"})
	addLoan(store, 3, 5)
	disabled := addLoan(store, 4, 0)
	disabled.AutoPayEnabled = false
	store.AddLoan(disabled)

	charger := &fakeCharger{results: map[int64]rails.ChargeResult{
		2: {Success: true, Rail: models.RailCrypto, Status: models.PaymentPending, ExternalReference: "CHG-1"},
	}}
	notifier := &fakeNotifier{}

	summary, err := newTestOrchestrator(store, charger, notifier).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := Summary{Total: 3, Processed: 2, Successful: 2, Skipped: 1}
	if summary != want {
		t.Errorf("summary = %+v, want %+v", summary, want)
	}

	payments := store.Payments()
	if len(payments) != 2 {
		t.Fatalf("payments = %d, want 2", len(payments))
	}
	for _, p := range payments {
		if p.Metadata[models.MetaAutoPayment] != "true" || p.Metadata[models.MetaInstallment] != "1" || p.Metadata[models.MetaAttemptID] == "" {
			t.Errorf("payment metadata = %v", p.Metadata)
		}
		switch p.LoanID {
		case card.ID:
			if p.Status != models.PaymentCompleted || p.Amount != firstInstallment(card).Amount {
				t.Errorf("card payment = %+v", p)
			}
		case crypto.ID:
			if p.Status != models.PaymentPending || p.Rail != models.RailCrypto || p.ExternalReference != "CHG-1" {
				t.Errorf("crypto payment = %+v", p)
			}
		default:
			t.Errorf("unexpected payment for loan %d", p.LoanID)
		}
	}

	notices := notifier.all()
	if len(notices) != 2 {
		t.Fatalf("notices = %d, want 2", len(notices))
	}
	for _, n := range notices {
		if n.kind != "confirmation" {
			t.Errorf("notice = %+v, want confirmation", n)
		}
	}
}

func TestRun_TwiceSameDayChargesOnce(t *testing.T) {
	store := memory.New()
	addLoan(store, 1, 0)
	addLoan(store, 2, -3)

	// loan 2 declines so its installment stays unpaid for the second run
	charger := &fakeCharger{results: map[int64]rails.ChargeResult{
		2: {Rail: models.RailCard, Status: models.PaymentFailed, Reason: "Card declined"},
	}}
	orch := newTestOrchestrator(store, charger, &fakeNotifier{})

	if _, err := orch.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	second, err := orch.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if charger.callCount() != 2 {
		t.Errorf("charges = %d, want 2", charger.callCount())
	}
	if len(store.Payments()) != 2 {
		t.Errorf("payments = %d, want 2", len(store.Payments()))
	}
	if second.Processed != 0 || second.Skipped != 2 {
		t.Errorf("second run = %+v, want everything skipped", second)
	}
}

func TestRun_ConcurrentSweepsChargeOnce(t *testing.T) {
	store := memory.New()
	for id := int64(1); id <= 10; id++ {
		addLoan(store, id, -1)
	}
	charger := &fakeCharger{}
	orch := newTestOrchestrator(store, charger, &fakeNotifier{})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := orch.Run(context.Background()); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if charger.callCount() != 10 {
		t.Errorf("charges = %d, want 10", charger.callCount())
	}
}

func TestRun_NoPaymentMethod(t *testing.T) {
	// seed a loan and borrower without a payment method on file
	loan := addLoan(memory.New(), 1, 0)
	store := memory.New()
	store.AddLoan(loan)
	store.AddBorrower(models.Borrower{ID: loan.UserID, Email: "borrower@example.com"})

	charger := &fakeCharger{}
	notifier := &fakeNotifier{}
	summary, err := newTestOrchestrator(store, charger, notifier).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if summary.Skipped != 1 || summary.Processed != 0 {
		t.Errorf("summary = %+v", summary)
	}
	logs := store.FailureLogs()
	if len(logs) != 1 || logs[0].Reason != ReasonNoPaymentMethod {
		t.Fatalf("failure logs = %+v", logs)
	}
	if charger.callCount() != 0 || len(notifier.all()) != 0 || len(store.Payments()) != 0 {
		t.Error("skip must not charge, notify or record a payment")
	}
}

func TestRun_MissingEmail(t *testing.T) {
	store := memory.New()
	loan := addLoan(store, 1, 0)
	store.AddBorrower(models.Borrower{ID: loan.UserID, Name: "No Mail"})

	notifier := &fakeNotifier{}
	summary, err := newTestOrchestrator(store, &fakeCharger{}, notifier).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Skipped != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if logs := store.FailureLogs(); len(logs) != 1 || logs[0].Reason != ReasonNoEmail {
		t.Errorf("failure logs = %+v", logs)
	}
	if len(notifier.all()) != 0 {
		t.Error("no notification expected")
	}
}

func TestRun_UnknownMethodType(t *testing.T) {
	store := memory.New()
	loan := addLoan(store, 1, 0)
	store.SetUnroutablePaymentMethod(loan.UserID, "bank_transfer")

	notifier := &fakeNotifier{}
	charger := &fakeCharger{}
	summary, err := newTestOrchestrator(store, charger, notifier).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Failed != 1 || summary.Processed != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if logs := store.FailureLogs(); len(logs) != 1 || logs[0].Reason != ReasonUnknownMethod {
		t.Errorf("failure logs = %+v", logs)
	}
	if charger.callCount() != 0 || len(notifier.all()) != 0 {
		t.Error("unroutable method must not be charged or notified")
	}
}

func TestRun_RailFailure(t *testing.T) {
	store := memory.New()
	loan := addLoan(store, 1, -1)
	charger := &fakeCharger{results: map[int64]rails.ChargeResult{
		1: {Rail: models.RailCard, Status: models.PaymentFailed, Reason: "Insufficient funds"},
	}}
	notifier := &fakeNotifier{}

	summary, err := newTestOrchestrator(store, charger, notifier).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Failed != 1 {
		t.Errorf("summary = %+v", summary)
	}

	payments := store.Payments()
	if len(payments) != 1 || payments[0].Status != models.PaymentFailed || payments[0].FailureReason != "Insufficient funds" {
		t.Errorf("payments = %+v", payments)
	}
	logs := store.FailureLogs()
	if len(logs) != 1 || logs[0].Reason != "Insufficient funds" || logs[0].DaysUntilDue != -1 {
		t.Errorf("failure logs = %+v", logs)
	}
	notices := notifier.all()
	if len(notices) != 1 || notices[0].kind != "failed" || notices[0].detail != "Insufficient funds" ||
		notices[0].amount != firstInstallment(loan).Amount {
		t.Errorf("notices = %+v", notices)
	}
}

func TestRun_FailureIsolation(t *testing.T) {
	store := memory.New()
	for id := int64(1); id <= 3; id++ {
		addLoan(store, id, 0)
	}
	charger := &fakeCharger{panics: map[int64]bool{2: true}}

	summary, err := newTestOrchestrator(store, charger, &fakeNotifier{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := Summary{Total: 3, Processed: 3, Successful: 2, Failed: 1}
	if summary != want {
		t.Errorf("summary = %+v, want %+v", summary, want)
	}

	paid := map[int64]bool{}
	for _, p := range store.Payments() {
		paid[p.LoanID] = true
	}
	if !paid[1] || !paid[3] || paid[2] {
		t.Errorf("paid loans = %v, want 1 and 3", paid)
	}
	logs := store.FailureLogs()
	if len(logs) != 1 || logs[0].LoanID != 2 || !strings.Contains(logs[0].Reason, "rail exploded") {
		t.Errorf("failure logs = %+v", logs)
	}
}

func TestRun_PersistenceFailureSkipsNotification(t *testing.T) {
	mem := memory.New()
	addLoan(mem, 1, 0)
	notifier := &fakeNotifier{}

	summary, err := newTestOrchestrator(failingPayments{mem}, &fakeCharger{}, notifier).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Failed != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if len(notifier.all()) != 0 {
		t.Error("notification sent for a payment that was not recorded")
	}
}

func TestRun_ReceiptsOptOut(t *testing.T) {
	store := memory.New()
	loan := addLoan(store, 1, 0)
	store.SetNotificationPreference(models.NotificationPreference{UserID: loan.UserID, PaymentReminders: true, PaymentReceipts: false})
	notifier := &fakeNotifier{}

	if _, err := newTestOrchestrator(store, &fakeCharger{}, notifier).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(store.Payments()) != 1 {
		t.Error("payment should still be recorded")
	}
	if len(notifier.all()) != 0 {
		t.Error("confirmation sent despite receipts opt-out")
	}
}

func TestRun_WithDispatcher(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	token, err := utils.SealToken("cust-1|pay-1", key)
	if err != nil {
		t.Fatal(err)
	}

	store := memory.New()
	loan := addLoan(store, 1, 0)
	store.SetDefaultPaymentMethod(loan.UserID, models.CardMethod{Brand: "Visa", Last4: "4242", Token: token})

	card := &stubCardRail{res: authnet.Result{Success: true, TransactionID: "60012345"}}
	dispatcher := rails.NewDispatcher(card, nil, key, time.Second, nil, quietLogger())
	notifier := &fakeNotifier{}

	out, err := newTestOrchestrator(store, dispatcher, notifier).TriggerLoan(context.Background(), loan.ID)
	if err != nil {
		t.Fatal(err)
	}
	if out.State != StateSucceeded || out.ExternalReference != "60012345" || out.Status != models.PaymentCompleted {
		t.Errorf("outcome = %+v", out)
	}
	if card.got.CustomerProfileID != "cust-1" || card.got.PaymentProfileID != "pay-1" {
		t.Errorf("charge = %+v", card.got)
	}
	if n := notifier.all(); len(n) != 1 || n[0].detail != "Visa ****4242" {
		t.Errorf("notices = %+v", n)
	}
}

type stubCardRail struct {
	res authnet.Result
	got authnet.Charge
}

func (s *stubCardRail) Charge(ctx context.Context, c authnet.Charge) (authnet.Result, error) {
	s.got = c
	return s.res, nil
}

func TestTriggerLoan(t *testing.T) {
	store := memory.New()
	addLoan(store, 1, 0)
	off := addLoan(store, 2, 0)
	off.AutoPayEnabled = false
	store.AddLoan(off)

	charger := &fakeCharger{results: map[int64]rails.ChargeResult{
		1: {Rail: models.RailCard, Status: models.PaymentFailed, Reason: "Card declined"},
	}}
	orch := newTestOrchestrator(store, charger, &fakeNotifier{})

	out, err := orch.TriggerLoan(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if out.State != StateFailed || out.Reason != "Card declined" {
		t.Errorf("first trigger = %+v", out)
	}
	out, err = orch.TriggerLoan(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if out.State != StateAlreadyAttempted {
		t.Errorf("second trigger state = %s, want %s", out.State, StateAlreadyAttempted)
	}

	if _, err := orch.TriggerLoan(context.Background(), 2); !errors.Is(err, ErrAutoPayDisabled) {
		t.Errorf("disabled loan err = %v, want ErrAutoPayDisabled", err)
	}
	if _, err := orch.TriggerLoan(context.Background(), 99); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("missing loan err = %v, want ErrNotFound", err)
	}
}

func TestLoanLocks(t *testing.T) {
	locks := newLoanLocks()
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock(7)
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
	if len(locks.locks) != 0 {
		t.Errorf("locks retained: %d", len(locks.locks))
	}
}
