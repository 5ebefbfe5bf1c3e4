// Package reminder decides which borrowers get a payment reminder or an
// overdue notice today and sends them at most once per loan per day.
package reminder

import (
	"time"

	"github.com/Dan9191/loan-service/internal/amortization"
	"github.com/Dan9191/loan-service/internal/models"
)

// Kind is the reminder decision for a loan on a day.
type Kind int

const (
	None Kind = iota
	DueIn
	Overdue
)

func (k Kind) String() string {
	switch k {
	case DueIn:
		return "due_in"
	case Overdue:
		return "overdue"
	default:
		return "none"
	}
}

// Offsets at which an upcoming installment triggers a reminder.
var reminderOffsets = map[int]bool{7: true, 3: true, 1: true}

// DelinquencyDays is how long an installment stays overdue before the daily
// notice escalates to a delinquency notice.
const DelinquencyDays = 30

// Classification is the outcome of Classify. Days counts until the due date
// for DueIn and since it for Overdue. Delinquent marks an Overdue
// installment at least DelinquencyDays late.
type Classification struct {
	Kind        Kind
	Days        int
	Delinquent  bool
	Installment models.ScheduledInstallment
}

// Classify looks at the first installment not covered by paidCount. Past due
// wins over any upcoming bucket; an upcoming installment only triggers at
// exactly 7, 3 or 1 days out. today must be a calendar date (see
// amortization.DateOf) in the schedule's location.
func Classify(schedule models.PaymentSchedule, paidCount int, today time.Time) Classification {
	if paidCount < 0 {
		paidCount = 0
	}
	if paidCount >= len(schedule.Installments) {
		return Classification{Kind: None}
	}

	next := schedule.Installments[paidCount]
	days := amortization.DaysBetween(today, next.DueDate)
	switch {
	case days < 0:
		return Classification{Kind: Overdue, Days: -days, Delinquent: -days >= DelinquencyDays, Installment: next}
	case reminderOffsets[days]:
		return Classification{Kind: DueIn, Days: days, Installment: next}
	default:
		return Classification{Kind: None}
	}
}
