package finance

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// ID is a record identifier. Servers send either strings or numbers.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

type Income struct {
	ID         ID              `json:"id,omitempty"`
	Source     string          `json:"source"`
	Amount     decimal.Decimal `json:"amount"`
	Month      Month           `json:"month"`
	ReceivedOn string          `json:"receivedOn,omitempty"`
	Notes      string          `json:"notes,omitempty"`
}

type Expense struct {
	ID          ID              `json:"id,omitempty"`
	Category    string          `json:"category"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Month       Month           `json:"month"`
	Date        string          `json:"date,omitempty"`
	Recurring   bool            `json:"recurring,omitempty"`
	TemplateID  ID              `json:"templateId,omitempty"`
}

// ExpenseTemplate is a recurring expense stamped into each month.
type ExpenseTemplate struct {
	ID          ID              `json:"id,omitempty"`
	Category    string          `json:"category"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	DayOfMonth  int             `json:"dayOfMonth,omitempty"`
	Active      bool            `json:"active"`
}

type Loan struct {
	ID           ID              `json:"id,omitempty"`
	Lender       string          `json:"lender"`
	Principal    decimal.Decimal `json:"principal"`
	AnnualRate   decimal.Decimal `json:"interestRate"`
	TenureMonths int             `json:"tenureMonths"`
	StartDate    string          `json:"startDate,omitempty"`
	EMI          decimal.Decimal `json:"emi"`
	Outstanding  decimal.Decimal `json:"outstanding"`
	Closed       bool            `json:"closed,omitempty"`
}

// StartMonth is the month of the first installment, zero when unknown.
func (l Loan) StartMonth() Month {
	var m Month
	if m.UnmarshalText([]byte(l.StartDate)) != nil {
		return Month{}
	}
	return m
}

// MonthlyPayment is the EMI the server reported, or the computed one when
// it sent none.
func (l Loan) MonthlyPayment() decimal.Decimal {
	if !l.EMI.IsZero() {
		return l.EMI
	}
	emi, err := EMI(l.Principal, l.AnnualRate, l.TenureMonths)
	if err != nil {
		return decimal.Zero
	}
	return emi
}

type Installment struct {
	Number    int             `json:"number"`
	Month     Month           `json:"month"`
	Payment   decimal.Decimal `json:"payment"`
	Principal decimal.Decimal `json:"principal"`
	Interest  decimal.Decimal `json:"interest"`
	Balance   decimal.Decimal `json:"balance"`
}

// Debt directions.
const (
	DebtLent     = "lent"
	DebtBorrowed = "borrowed"
)

type Debt struct {
	ID           ID              `json:"id,omitempty"`
	Counterparty string          `json:"counterparty"`
	Direction    string          `json:"direction"`
	Amount       decimal.Decimal `json:"amount"`
	DueDate      string          `json:"dueDate,omitempty"`
	Settled      bool            `json:"settled,omitempty"`
}

type Investment struct {
	ID           ID              `json:"id,omitempty"`
	Kind         string          `json:"type"`
	Name         string          `json:"name"`
	Invested     decimal.Decimal `json:"amountInvested"`
	CurrentValue decimal.Decimal `json:"currentValue"`
	Month        Month           `json:"month"`
}

type CategoryTotal struct {
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
	Share    decimal.Decimal `json:"share"`
}

// Dashboard is the server's monthly report, passed through as sent.
type Dashboard struct {
	Month         Month           `json:"month"`
	TotalIncome   decimal.Decimal `json:"totalIncome"`
	TotalExpenses decimal.Decimal `json:"totalExpenses"`
	TotalEMI      decimal.Decimal `json:"totalEmi"`
	Savings       decimal.Decimal `json:"savings"`
	Categories    []CategoryTotal `json:"categories"`
}

// Overview is the client-side monthly summary built from the resource lists.
type Overview struct {
	Month        Month
	Income       decimal.Decimal
	Expenses     decimal.Decimal
	EMI          decimal.Decimal
	Savings      decimal.Decimal
	SavingsRate  decimal.Decimal
	Lent         decimal.Decimal
	Borrowed     decimal.Decimal
	Invested     decimal.Decimal
	CurrentValue decimal.Decimal
	Categories   []CategoryTotal

	IncomeCount      int
	ExpenseCount     int
	ActiveLoans      int
	OpenDebts        int
	InvestmentsCount int
}
