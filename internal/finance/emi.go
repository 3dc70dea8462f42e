package finance

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrInvalidLoanTerms = errors.New("invalid loan terms")

// workingPlaces bounds intermediate precision; results are rounded to cents.
const workingPlaces = 20

var (
	hundred = decimal.NewFromInt(100)
	twelve  = decimal.NewFromInt(12)
)

func checkTerms(principal, annualRate decimal.Decimal, months int) error {
	if !principal.IsPositive() || months <= 0 || annualRate.IsNegative() {
		return ErrInvalidLoanTerms
	}
	return nil
}

func monthlyRate(annualRate decimal.Decimal) decimal.Decimal {
	return annualRate.DivRound(twelve.Mul(hundred), workingPlaces)
}

// compound returns (1+r)^n, rounding at each step.
func compound(r decimal.Decimal, n int) decimal.Decimal {
	base := decimal.NewFromInt(1).Add(r)
	f := decimal.NewFromInt(1)
	for i := 0; i < n; i++ {
		f = f.Mul(base).Round(workingPlaces)
	}
	return f
}

// EMI returns the equated monthly installment for a loan of principal at
// annualRate percent over months, rounded to two places.
func EMI(principal, annualRate decimal.Decimal, months int) (decimal.Decimal, error) {
	if err := checkTerms(principal, annualRate, months); err != nil {
		return decimal.Zero, err
	}
	n := decimal.NewFromInt(int64(months))
	if annualRate.IsZero() {
		return principal.DivRound(n, 2), nil
	}
	r := monthlyRate(annualRate)
	f := compound(r, months)
	num := principal.Mul(r).Mul(f)
	den := f.Sub(decimal.NewFromInt(1))
	return num.DivRound(den, 2), nil
}

// Amortize returns the repayment schedule. Each installment pays the month's
// interest on the remaining balance; the last one clears whatever is left.
// Months are filled in from start when it is set.
func Amortize(principal, annualRate decimal.Decimal, months int, start Month) ([]Installment, error) {
	emi, err := EMI(principal, annualRate, months)
	if err != nil {
		return nil, err
	}
	r := monthlyRate(annualRate)
	balance := principal
	schedule := make([]Installment, 0, months)
	for i := 1; i <= months; i++ {
		interest := balance.Mul(r).Round(2)
		part := emi.Sub(interest)
		if i == months || part.GreaterThan(balance) {
			part = balance
		}
		balance = balance.Sub(part)
		inst := Installment{
			Number:    i,
			Payment:   part.Add(interest),
			Principal: part,
			Interest:  interest,
			Balance:   balance,
		}
		if !start.IsZero() {
			inst.Month = start.AddMonths(i - 1)
		}
		schedule = append(schedule, inst)
		if balance.IsZero() {
			break
		}
	}
	return schedule, nil
}

type LoanPreview struct {
	EMI           decimal.Decimal
	TotalInterest decimal.Decimal
	TotalPayment  decimal.Decimal
	Months        int
}

func Preview(principal, annualRate decimal.Decimal, months int) (LoanPreview, error) {
	schedule, err := Amortize(principal, annualRate, months, Month{})
	if err != nil {
		return LoanPreview{}, err
	}
	p := LoanPreview{EMI: schedule[0].Payment, Months: len(schedule)}
	for _, inst := range schedule {
		p.TotalPayment = p.TotalPayment.Add(inst.Payment)
		p.TotalInterest = p.TotalInterest.Add(inst.Interest)
	}
	return p, nil
}
