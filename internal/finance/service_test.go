package finance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/fintrack/fintrack/internal/apiclient"
	"github.com/fintrack/fintrack/internal/logging"
)

type call struct {
	method string
	path   string
	query  string
	body   string
}

// fakeDoer answers by "METHOD path" with canned JSON.
type fakeDoer struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	calls     []call
}

func newFakeDoer() *fakeDoer {
	return &fakeDoer{responses: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeDoer) Do(_ context.Context, req *apiclient.Request, out any) error {
	c := call{method: req.Method, path: req.Path, query: req.Query.Encode()}
	if req.Body != nil {
		b, _ := json.Marshal(req.Body)
		c.body = string(b)
	}
	key := req.Method + " " + req.Path

	f.mu.Lock()
	f.calls = append(f.calls, c)
	resp, ok := f.responses[key]
	err := f.errs[key]
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if !ok || out == nil {
		return nil
	}
	return json.Unmarshal([]byte(resp), out)
}

func (f *fakeDoer) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func TestResourceListShapes(t *testing.T) {
	cases := map[string]string{
		"bare array":   `[{"id":1,"source":"Salary","amount":"5000"}]`,
		"data wrapper": `{"data":[{"id":1,"source":"Salary","amount":5000}]}`,
		"items":        `{"items":[{"id":"1","source":"Salary","amount":5000}]}`,
		"named":        `{"income":[{"id":1,"source":"Salary","amount":5000}],"total":1}`,
		"nested":       `{"data":{"income":[{"id":1,"source":"Salary","amount":5000}]}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			api := newFakeDoer()
			api.responses["GET /income"] = body
			svc := NewService(api, logging.Discard())

			items, err := svc.Income.List(context.Background(), Month{})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(items) != 1 || items[0].ID != "1" || items[0].Source != "Salary" || !items[0].Amount.Equal(dec("5000")) {
				t.Fatalf("unexpected items %+v", items)
			}
		})
	}
}

func TestResourceListRejectsUnknownShape(t *testing.T) {
	api := newFakeDoer()
	api.responses["GET /debts"] = `{"count":3}`
	svc := NewService(api, logging.Discard())
	if _, err := svc.Debts.List(context.Background(), Month{}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestResourceCRUDRequests(t *testing.T) {
	api := newFakeDoer()
	api.responses["POST /expenses"] = `{"data":{"id":"e1","category":"Food","amount":"12.50","month":"2024-03"}}`
	api.responses["GET /expenses/e1"] = `{"id":"e1","category":"Food","amount":"12.50"}`
	api.responses["PUT /expenses/e1"] = `{"id":"e1","category":"Food","amount":"15"}`
	svc := NewService(api, logging.Discard())
	ctx := context.Background()
	march, _ := ParseMonth("2024-03")

	created, err := svc.Expenses.Create(ctx, Expense{Category: "Food", Amount: dec("12.50"), Month: march})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != "e1" || created.Month != march {
		t.Fatalf("unexpected created expense %+v", created)
	}
	if _, err := svc.Expenses.Get(ctx, "e1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	updated, err := svc.Expenses.Update(ctx, "e1", Expense{Category: "Food", Amount: dec("15")})
	if err != nil || !updated.Amount.Equal(dec("15")) {
		t.Fatalf("update: %+v %v", updated, err)
	}
	if err := svc.Expenses.Delete(ctx, "e1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	calls := api.recorded()
	want := []string{"POST /expenses", "GET /expenses/e1", "PUT /expenses/e1", "DELETE /expenses/e1"}
	if len(calls) != len(want) {
		t.Fatalf("expected %d calls, got %+v", len(want), calls)
	}
	for i, w := range want {
		if got := calls[i].method + " " + calls[i].path; got != w {
			t.Fatalf("call %d: expected %s, got %s", i, w, got)
		}
	}
	if calls[0].body != `{"category":"Food","amount":"12.5","month":"2024-03"}` {
		t.Fatalf("unexpected create body %s", calls[0].body)
	}
}

func TestListSendsMonthFilter(t *testing.T) {
	api := newFakeDoer()
	api.responses["GET /income"] = `[]`
	svc := NewService(api, logging.Discard())
	m, _ := ParseMonth("2024-07")

	items, err := svc.Income.List(context.Background(), m)
	if err != nil || len(items) != 0 {
		t.Fatalf("list: %v %v", items, err)
	}
	if q := api.recorded()[0].query; q != "month=2024-07" {
		t.Fatalf("unexpected query %q", q)
	}
}

func TestApplyTemplatesAndLoanSchedule(t *testing.T) {
	api := newFakeDoer()
	api.responses["POST /expenses/templates/apply"] = `{"expenses":[{"id":"x","category":"Rent","amount":900,"recurring":true}]}`
	api.responses["GET /loans/42/schedule"] = `{"schedule":[{"number":1,"payment":"100","principal":"90","interest":"10","balance":"910"}]}`
	svc := NewService(api, logging.Discard())
	ctx := context.Background()
	m, _ := ParseMonth("2024-08")

	created, err := svc.ApplyTemplates(ctx, m)
	if err != nil || len(created) != 1 || !created[0].Recurring {
		t.Fatalf("apply templates: %+v %v", created, err)
	}
	if body := api.recorded()[0].body; body != `{"month":"2024-08"}` {
		t.Fatalf("unexpected apply body %s", body)
	}

	schedule, err := svc.LoanSchedule(ctx, "42")
	if err != nil || len(schedule) != 1 || !schedule[0].Balance.Equal(dec("910")) {
		t.Fatalf("schedule: %+v %v", schedule, err)
	}
}

func TestDashboardPassThrough(t *testing.T) {
	api := newFakeDoer()
	api.responses["GET /dashboard"] = `{"month":"2024-01","totalIncome":1000,"totalExpenses":400,"categories":[{"category":"Food","amount":400,"share":100}]}`
	svc := NewService(api, logging.Discard())
	m, _ := ParseMonth("2024-01")

	d, err := svc.Dashboard(context.Background(), m)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if !d.TotalIncome.Equal(dec("1000")) || len(d.Categories) != 1 {
		t.Fatalf("unexpected dashboard %+v", d)
	}
	if q := api.recorded()[0].query; q != "month=2024-01" {
		t.Fatalf("unexpected query %q", q)
	}
}

func TestOverviewAggregates(t *testing.T) {
	api := newFakeDoer()
	api.responses["GET /income"] = `[{"source":"Salary","amount":"5000"},{"source":"Freelance","amount":"1000"}]`
	api.responses["GET /expenses"] = `[
		{"category":"Rent","amount":"1500"},
		{"category":"Food","amount":"300"},
		{"category":"Food","amount":"200"},
		{"category":"","amount":"500"}
	]`
	api.responses["GET /loans"] = `[
		{"lender":"Bank","principal":"100000","interestRate":"12","tenureMonths":12},
		{"lender":"Car","emi":"250"},
		{"lender":"Old","emi":"999","closed":true}
	]`
	api.responses["GET /debts"] = `[
		{"counterparty":"A","direction":"lent","amount":"100"},
		{"counterparty":"B","direction":"borrowed","amount":"40"},
		{"counterparty":"C","direction":"lent","amount":"70","settled":true}
	]`
	api.responses["GET /investments"] = `[{"name":"Index","amountInvested":"1000","currentValue":"1100"}]`
	svc := NewService(api, logging.Discard())
	m, _ := ParseMonth("2024-05")

	o, err := svc.Overview(context.Background(), m)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}

	if !o.Income.Equal(dec("6000")) || !o.Expenses.Equal(dec("2500")) {
		t.Fatalf("unexpected totals income=%s expenses=%s", o.Income, o.Expenses)
	}
	// 8884.88 computed for the first loan plus 250 reported for the second.
	if !o.EMI.Equal(dec("9134.88")) || o.ActiveLoans != 2 {
		t.Fatalf("unexpected emi %s over %d loans", o.EMI, o.ActiveLoans)
	}
	if !o.Savings.Equal(dec("-5634.88")) {
		t.Fatalf("unexpected savings %s", o.Savings)
	}
	if !o.SavingsRate.Equal(dec("-93.91")) {
		t.Fatalf("unexpected savings rate %s", o.SavingsRate)
	}
	if !o.Lent.Equal(dec("100")) || !o.Borrowed.Equal(dec("40")) || o.OpenDebts != 2 {
		t.Fatalf("unexpected debts lent=%s borrowed=%s open=%d", o.Lent, o.Borrowed, o.OpenDebts)
	}
	if !o.CurrentValue.Equal(dec("1100")) || o.InvestmentsCount != 1 {
		t.Fatalf("unexpected investments %+v", o)
	}

	wantOrder := []string{"Rent", "Food", uncategorized}
	if len(o.Categories) != len(wantOrder) {
		t.Fatalf("unexpected categories %+v", o.Categories)
	}
	for i, name := range wantOrder {
		if o.Categories[i].Category != name {
			t.Fatalf("category %d: expected %s, got %s", i, name, o.Categories[i].Category)
		}
	}
	if !o.Categories[0].Share.Equal(dec("60")) || !o.Categories[1].Share.Equal(dec("20")) {
		t.Fatalf("unexpected shares %+v", o.Categories)
	}

	for _, c := range api.recorded() {
		scoped := c.path == "/income" || c.path == "/expenses" || c.path == "/investments"
		if scoped != (c.query == "month=2024-05") {
			t.Fatalf("unexpected month scoping for %s: %q", c.path, c.query)
		}
	}
}

func TestOverviewPropagatesFailure(t *testing.T) {
	api := newFakeDoer()
	api.errs["GET /loans"] = &apiclient.Error{StatusCode: http.StatusInternalServerError, Message: "boom"}
	svc := NewService(api, logging.Discard())

	_, err := svc.Overview(context.Background(), CurrentMonth())
	var apiErr *apiclient.Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected server error, got %v", err)
	}
}

func TestSummarizeWithoutIncome(t *testing.T) {
	o := Summarize(Month{}, nil, []Expense{{Category: "Food", Amount: dec("10")}}, nil, nil, nil)
	if !o.SavingsRate.IsZero() {
		t.Fatalf("savings rate should be zero without income, got %s", o.SavingsRate)
	}
	if !o.Savings.Equal(dec("-10")) {
		t.Fatalf("unexpected savings %s", o.Savings)
	}
}
