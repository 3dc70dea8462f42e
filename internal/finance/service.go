package finance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/fintrack/fintrack/internal/apiclient"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const uncategorized = "Uncategorized"

// Service groups the finance collections and the reports built on them.
type Service struct {
	api    Doer
	logger *logrus.Logger

	Income      *Resource[Income]
	Expenses    *Resource[Expense]
	Templates   *Resource[ExpenseTemplate]
	Loans       *Resource[Loan]
	Debts       *Resource[Debt]
	Investments *Resource[Investment]
}

func NewService(api Doer, logger *logrus.Logger) *Service {
	return &Service{
		api:         api,
		logger:      logger,
		Income:      NewResource[Income](api, "income", "/income"),
		Expenses:    NewResource[Expense](api, "expenses", "/expenses"),
		Templates:   NewResource[ExpenseTemplate](api, "templates", "/expenses/templates"),
		Loans:       NewResource[Loan](api, "loans", "/loans"),
		Debts:       NewResource[Debt](api, "debts", "/debts"),
		Investments: NewResource[Investment](api, "investments", "/investments"),
	}
}

// Dashboard returns the server's report for month as sent.
func (s *Service) Dashboard(ctx context.Context, month Month) (Dashboard, error) {
	var d Dashboard
	req := &apiclient.Request{Method: http.MethodGet, Path: "/dashboard"}
	if !month.IsZero() {
		req.Query = url.Values{"month": {month.String()}}
	}
	if err := s.api.Do(ctx, req, &d); err != nil {
		return Dashboard{}, err
	}
	return d, nil
}

// ApplyTemplates stamps the active expense templates into month and returns
// the expenses the server created.
func (s *Service) ApplyTemplates(ctx context.Context, month Month) ([]Expense, error) {
	var raw json.RawMessage
	req := &apiclient.Request{
		Method: http.MethodPost,
		Path:   "/expenses/templates/apply",
		Body:   map[string]string{"month": month.String()},
	}
	if err := s.api.Do(ctx, req, &raw); err != nil {
		return nil, err
	}
	created, err := decodeList[Expense](raw, "expenses")
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"month":   month.String(),
		"created": len(created),
	}).Info("Applied expense templates")
	return created, nil
}

// LoanSchedule fetches the server's amortization schedule for a loan.
func (s *Service) LoanSchedule(ctx context.Context, id ID) ([]Installment, error) {
	var raw json.RawMessage
	req := &apiclient.Request{
		Method: http.MethodGet,
		Path:   "/loans/" + url.PathEscape(string(id)) + "/schedule",
	}
	if err := s.api.Do(ctx, req, &raw); err != nil {
		return nil, err
	}
	return decodeList[Installment](raw, "schedule")
}

// Overview fetches the month's records in parallel and summarizes them.
// Loans and debts are not month-scoped.
func (s *Service) Overview(ctx context.Context, month Month) (*Overview, error) {
	var (
		incomes     []Income
		expenses    []Expense
		loans       []Loan
		debts       []Debt
		investments []Investment
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { incomes, err = s.Income.List(ctx, month); return })
	g.Go(func() (err error) { expenses, err = s.Expenses.List(ctx, month); return })
	g.Go(func() (err error) { loans, err = s.Loans.List(ctx, Month{}); return })
	g.Go(func() (err error) { debts, err = s.Debts.List(ctx, Month{}); return })
	g.Go(func() (err error) { investments, err = s.Investments.List(ctx, month); return })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return Summarize(month, incomes, expenses, loans, debts, investments), nil
}

// Summarize aggregates already-fetched records into an Overview.
func Summarize(month Month, incomes []Income, expenses []Expense, loans []Loan, debts []Debt, investments []Investment) *Overview {
	o := &Overview{Month: month}

	for _, in := range incomes {
		o.Income = o.Income.Add(in.Amount)
	}
	o.IncomeCount = len(incomes)

	byCategory := map[string]decimal.Decimal{}
	for _, e := range expenses {
		o.Expenses = o.Expenses.Add(e.Amount)
		cat := strings.TrimSpace(e.Category)
		if cat == "" {
			cat = uncategorized
		}
		byCategory[cat] = byCategory[cat].Add(e.Amount)
	}
	o.ExpenseCount = len(expenses)
	o.Categories = categoryBreakdown(byCategory, o.Expenses)

	for _, l := range loans {
		if l.Closed {
			continue
		}
		o.EMI = o.EMI.Add(l.MonthlyPayment())
		o.ActiveLoans++
	}

	for _, d := range debts {
		if d.Settled {
			continue
		}
		switch d.Direction {
		case DebtLent:
			o.Lent = o.Lent.Add(d.Amount)
		case DebtBorrowed:
			o.Borrowed = o.Borrowed.Add(d.Amount)
		}
		o.OpenDebts++
	}

	for _, inv := range investments {
		o.Invested = o.Invested.Add(inv.Invested)
		o.CurrentValue = o.CurrentValue.Add(inv.CurrentValue)
	}
	o.InvestmentsCount = len(investments)

	o.Savings = o.Income.Sub(o.Expenses).Sub(o.EMI)
	if o.Income.IsPositive() {
		o.SavingsRate = o.Savings.Mul(hundred).DivRound(o.Income, 2)
	}
	return o
}

// categoryBreakdown sorts by amount, largest first, then by name.
func categoryBreakdown(byCategory map[string]decimal.Decimal, total decimal.Decimal) []CategoryTotal {
	out := make([]CategoryTotal, 0, len(byCategory))
	for cat, amount := range byCategory {
		ct := CategoryTotal{Category: cat, Amount: amount}
		if total.IsPositive() {
			ct.Share = amount.Mul(hundred).DivRound(total, 2)
		}
		out = append(out, ct)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Amount.Cmp(out[j].Amount); c != 0 {
			return c > 0
		}
		return out[i].Category < out[j].Category
	})
	return out
}
