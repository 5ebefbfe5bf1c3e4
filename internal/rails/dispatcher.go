// Package rails routes a charge to the payment rail matching the borrower's
// stored payment method and normalizes the outcome.
package rails

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Dan9191/loan-service/internal/integrations/authnet"
	"github.com/Dan9191/loan-service/internal/integrations/commerce"
	"github.com/Dan9191/loan-service/internal/models"
	"github.com/Dan9191/loan-service/internal/utils"
	"github.com/sirupsen/logrus"
)

// ReasonUnknownMethod is the failure reason for methods no rail handles.
const ReasonUnknownMethod = "unknown payment method type"

// CardRail charges tokenized cards on file.
type CardRail interface {
	Charge(ctx context.Context, charge authnet.Charge) (authnet.Result, error)
}

// CryptoRail charges crypto wallets.
type CryptoRail interface {
	Charge(ctx context.Context, charge commerce.Charge) (commerce.Result, error)
}

// ChargeObserver receives per-rail latency and outcome.
type ChargeObserver interface {
	ObserveCharge(rail string, success bool, elapsed time.Duration)
}

// ChargeRequest is everything a rail needs to collect one installment.
type ChargeRequest struct {
	Loan        *models.Loan
	Borrower    *models.Borrower
	Method      models.PaymentMethod
	Amount      int64
	Installment int
	AttemptID   string
}

// ChargeResult is the normalized outcome of a dispatch. Failures are values,
// never panics or errors.
type ChargeResult struct {
	Success           bool
	Rail              models.Rail
	Status            models.PaymentStatus
	ExternalReference string
	Reason            string
}

// Dispatcher picks the rail for a payment method.
type Dispatcher struct {
	card     CardRail
	crypto   CryptoRail
	tokenKey []byte
	timeout  time.Duration
	observer ChargeObserver
	log      *logrus.Logger
}

// NewDispatcher wires the rails. tokenKey opens sealed card tokens.
func NewDispatcher(card CardRail, crypto CryptoRail, tokenKey []byte, timeout time.Duration, observer ChargeObserver, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		card:     card,
		crypto:   crypto,
		tokenKey: tokenKey,
		timeout:  timeout,
		observer: observer,
		log:      log,
	}
}

// Charge routes the request by payment method variant.
func (d *Dispatcher) Charge(ctx context.Context, req ChargeRequest) ChargeResult {
	switch m := req.Method.(type) {
	case models.CardMethod:
		return d.chargeCard(ctx, req, m)
	case models.CryptoMethod:
		return d.chargeCrypto(ctx, req, m)
	default:
		return ChargeResult{Status: models.PaymentFailed, Reason: ReasonUnknownMethod}
	}
}

func (d *Dispatcher) chargeCard(ctx context.Context, req ChargeRequest, card models.CardMethod) ChargeResult {
	failed := func(reason string) ChargeResult {
		return ChargeResult{Rail: models.RailCard, Status: models.PaymentFailed, Reason: reason}
	}
	if d.card == nil {
		return failed("Card rail not configured")
	}

	customerProfileID, paymentProfileID, err := d.openCardToken(card.Token)
	if err != nil {
		d.log.WithField("loan_id", req.Loan.ID).Warnf("Unusable card token: %v", err)
		return failed("Stored card token is invalid")
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	res, err := d.card.Charge(ctx, authnet.Charge{
		Amount:            req.Amount,
		CustomerProfileID: customerProfileID,
		PaymentProfileID:  paymentProfileID,
		Billing:           req.Borrower.BillingAddress(),
		InvoiceNumber:     fmt.Sprintf("%s-%d", req.Loan.Reference(), req.Installment),
		Description:       fmt.Sprintf("Auto-payment for loan %s", req.Loan.Reference()),
		ReferenceID:       strings.ReplaceAll(req.AttemptID, "-", ""),
	})
	d.observe(models.RailCard, err == nil && res.Success, time.Since(start))

	if err != nil {
		return failed(err.Error())
	}
	if !res.Success {
		return failed(orDefault(res.ErrorText, "Payment processing failed"))
	}
	return ChargeResult{
		Success:           true,
		Rail:              models.RailCard,
		Status:            models.PaymentCompleted,
		ExternalReference: res.TransactionID,
	}
}

func (d *Dispatcher) chargeCrypto(ctx context.Context, req ChargeRequest, wallet models.CryptoMethod) ChargeResult {
	failed := func(reason string) ChargeResult {
		return ChargeResult{Rail: models.RailCrypto, Status: models.PaymentFailed, Reason: reason}
	}
	if d.crypto == nil {
		return failed("Crypto rail not configured")
	}
	if err := commerce.ValidateWalletAddress(wallet.WalletAddress); err != nil {
		return failed(fmt.Sprintf("Invalid wallet address: %v", err))
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	res, err := d.crypto.Charge(ctx, commerce.Charge{
		Amount:        req.Amount,
		Currency:      wallet.Currency,
		WalletAddress: wallet.WalletAddress,
		Name:          fmt.Sprintf("Loan %s installment %d", req.Loan.Reference(), req.Installment),
		Description:   fmt.Sprintf("Auto-payment for loan %s", req.Loan.Reference()),
		Metadata: map[string]string{
			"loan_id":    fmt.Sprintf("%d", req.Loan.ID),
			"attempt_id": req.AttemptID,
		},
	})
	d.observe(models.RailCrypto, err == nil && res.Success, time.Since(start))

	if err != nil {
		return failed(err.Error())
	}
	if !res.Success {
		return failed(orDefault(res.ErrorText, "Crypto payment failed"))
	}
	// crypto settles out of band
	return ChargeResult{
		Success:           true,
		Rail:              models.RailCrypto,
		Status:            models.PaymentPending,
		ExternalReference: res.ChargeReference,
	}
}

// openCardToken yields the customer and payment profile ids behind a sealed
// token of the form "<customerProfileId>|<paymentProfileId>".
func (d *Dispatcher) openCardToken(sealed string) (string, string, error) {
	token, err := utils.OpenToken(sealed, d.tokenKey)
	if err != nil {
		return "", "", err
	}
	customer, payment, ok := strings.Cut(token, "|")
	if !ok || customer == "" || payment == "" {
		return "", "", fmt.Errorf("malformed card token")
	}
	return customer, payment, nil
}

func (d *Dispatcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.timeout)
}

func (d *Dispatcher) observe(rail models.Rail, success bool, elapsed time.Duration) {
	if d.observer != nil {
		d.observer.ObserveCharge(string(rail), success, elapsed)
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
