// Package amortization derives fixed-payment schedules from loan terms.
package amortization

import (
	"math"
	"time"

	"github.com/Dan9191/loan-service/internal/models"
)

// Schedule computes the amortization schedule for a loan. Due dates are
// calendar dates in loc. A loan without an approved amount or a
// disbursement date owes nothing yet and yields an empty schedule.
func Schedule(loan *models.Loan, loc *time.Location) models.PaymentSchedule {
	if loan == nil || loan.ApprovedAmount == nil || loan.DisbursedAt == nil {
		return models.PaymentSchedule{}
	}
	principal := *loan.ApprovedAmount
	numPayments := loan.TermYears * 12
	if principal <= 0 || numPayments <= 0 {
		return models.PaymentSchedule{}
	}
	if loc == nil {
		loc = time.UTC
	}

	payment := MonthlyPayment(principal, loan.InterestRate, numPayments)
	rounded := int64(math.Round(payment))
	total := int64(math.Round(payment * float64(numPayments)))

	anchor := DateOf(*loan.DisbursedAt, loc)
	installments := make([]models.ScheduledInstallment, 0, numPayments)
	var billed int64
	for i := 1; i <= numPayments; i++ {
		// each installment carries the rounding of the cumulative amount, so
		// no installment drifts more than one minor unit from the payment
		cumulative := int64(math.Round(payment * float64(i)))
		if i == numPayments {
			cumulative = total
		}
		amount := cumulative - billed
		billed = cumulative
		installments = append(installments, models.ScheduledInstallment{
			Month:   i,
			DueDate: AddMonths(anchor, i),
			Amount:  amount,
		})
	}

	return models.PaymentSchedule{
		Installments:   installments,
		MonthlyPayment: rounded,
		TotalInterest:  total - principal,
	}
}

// MonthlyPayment returns the unrounded fixed payment in minor units.
func MonthlyPayment(principal int64, annualRate float64, numPayments int) float64 {
	if numPayments <= 0 {
		return 0
	}
	p := float64(principal)
	monthlyRate := annualRate / 100 / 12
	if monthlyRate <= 0 {
		return p / float64(numPayments)
	}
	growth := math.Pow(1+monthlyRate, float64(numPayments))
	return p * monthlyRate * growth / (growth - 1)
}

// PaidInstallments returns how many leading installments are fully covered
// by paidTotal minor units.
func PaidInstallments(schedule models.PaymentSchedule, paidTotal int64) int {
	var cumulative int64
	for i, inst := range schedule.Installments {
		cumulative += inst.Amount
		if cumulative > paidTotal {
			return i
		}
	}
	return len(schedule.Installments)
}
