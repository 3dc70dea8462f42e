package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fintrack/fintrack/internal/finance"
	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
)

var resourceNames = []string{"income", "expenses", "templates", "loans", "debts", "investments"}

func parseMonthFlag(s string) (finance.Month, error) {
	if s == "" {
		return finance.CurrentMonth(), nil
	}
	return finance.ParseMonth(s)
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be positive, got %s", d)
	}
	return d, nil
}

func newTable(w io.Writer, header ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if len(header) > 0 {
		fmt.Fprintln(tw, strings.Join(header, "\t"))
	}
	return tw
}

func row(tw *tabwriter.Writer, cols ...string) {
	fmt.Fprintln(tw, strings.Join(cols, "\t"))
}

type listCmd struct {
	*env
	month string
	all   bool
}

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "list records of a collection" }
func (*listCmd) Usage() string {
	return `fintrack list [-month YYYY-MM] [-all] <income|expenses|templates|loans|debts|investments>

  Lists the records of a collection for a month (the current one by default).
  Templates, loans and debts are not month-scoped.
`
}

func (c *listCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.month, "month", "", "month to list, YYYY-MM")
	f.BoolVar(&c.all, "all", false, "do not filter by month")
}

func (c *listCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return c.usage("expected one collection name: %s", strings.Join(resourceNames, ", "))
	}
	name := f.Arg(0)
	month, err := parseMonthFlag(c.month)
	if err != nil {
		return c.usage("%v", err)
	}
	if c.all {
		month = finance.Month{}
	}

	return c.withSession(ctx, func(app *App) subcommands.ExitStatus {
		if err := printList(ctx, app, c.stdout, name, month); err != nil {
			return c.fail("%v", err)
		}
		return subcommands.ExitSuccess
	})
}

func printList(ctx context.Context, app *App, w io.Writer, name string, month finance.Month) error {
	svc := app.Finance
	money := func(d decimal.Decimal) string { return finance.FormatAmount(d, app.Currency()) }

	var tw *tabwriter.Writer
	switch name {
	case "income":
		items, err := svc.Income.List(ctx, month)
		if err != nil {
			return err
		}
		tw = newTable(w, "ID", "MONTH", "SOURCE", "AMOUNT")
		for _, in := range items {
			row(tw, string(in.ID), in.Month.String(), in.Source, money(in.Amount))
		}
	case "expenses":
		items, err := svc.Expenses.List(ctx, month)
		if err != nil {
			return err
		}
		tw = newTable(w, "ID", "MONTH", "CATEGORY", "DESCRIPTION", "AMOUNT")
		for _, e := range items {
			row(tw, string(e.ID), e.Month.String(), e.Category, e.Description, money(e.Amount))
		}
	case "templates":
		items, err := svc.Templates.List(ctx, finance.Month{})
		if err != nil {
			return err
		}
		tw = newTable(w, "ID", "CATEGORY", "DESCRIPTION", "AMOUNT", "DAY", "ACTIVE")
		for _, t := range items {
			row(tw, string(t.ID), t.Category, t.Description, money(t.Amount), fmt.Sprint(t.DayOfMonth), fmt.Sprint(t.Active))
		}
	case "loans":
		items, err := svc.Loans.List(ctx, finance.Month{})
		if err != nil {
			return err
		}
		tw = newTable(w, "ID", "LENDER", "PRINCIPAL", "RATE", "MONTHS", "EMI", "OUTSTANDING")
		for _, l := range items {
			row(tw, string(l.ID), l.Lender, money(l.Principal), l.AnnualRate.String()+"%",
				fmt.Sprint(l.TenureMonths), money(l.MonthlyPayment()), money(l.Outstanding))
		}
	case "debts":
		items, err := svc.Debts.List(ctx, finance.Month{})
		if err != nil {
			return err
		}
		tw = newTable(w, "ID", "COUNTERPARTY", "DIRECTION", "AMOUNT", "DUE", "SETTLED")
		for _, d := range items {
			row(tw, string(d.ID), d.Counterparty, d.Direction, money(d.Amount), d.DueDate, fmt.Sprint(d.Settled))
		}
	case "investments":
		items, err := svc.Investments.List(ctx, month)
		if err != nil {
			return err
		}
		tw = newTable(w, "ID", "TYPE", "NAME", "INVESTED", "VALUE")
		for _, inv := range items {
			row(tw, string(inv.ID), inv.Kind, inv.Name, money(inv.Invested), money(inv.CurrentValue))
		}
	default:
		return fmt.Errorf("unknown collection %q, want one of %s", name, strings.Join(resourceNames, ", "))
	}
	return tw.Flush()
}

type addIncomeCmd struct {
	*env
	source string
	amount string
	month  string
	notes  string
}

func (*addIncomeCmd) Name() string     { return "add-income" }
func (*addIncomeCmd) Synopsis() string { return "record an income" }
func (*addIncomeCmd) Usage() string {
	return `fintrack add-income -source <source> -amount <amount> [-month YYYY-MM] [-notes <text>]
`
}

func (c *addIncomeCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.source, "source", "", "where the income came from")
	f.StringVar(&c.amount, "amount", "", "amount received")
	f.StringVar(&c.month, "month", "", "month, YYYY-MM (default current)")
	f.StringVar(&c.notes, "notes", "", "free-form notes")
}

func (c *addIncomeCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.source == "" {
		return c.usage("-source is required")
	}
	amount, err := parseAmount(c.amount)
	if err != nil {
		return c.usage("%v", err)
	}
	month, err := parseMonthFlag(c.month)
	if err != nil {
		return c.usage("%v", err)
	}

	return c.withSession(ctx, func(app *App) subcommands.ExitStatus {
		created, err := app.Finance.Income.Create(ctx, finance.Income{
			Source: c.source,
			Amount: amount,
			Month:  month,
			Notes:  c.notes,
		})
		if err != nil {
			return c.fail("failed to add income: %v", err)
		}
		fmt.Fprintf(c.stdout, "Added income %s: %s from %s\n", created.ID, finance.FormatAmount(amount, app.Currency()), c.source)
		return subcommands.ExitSuccess
	})
}

type addExpenseCmd struct {
	*env
	category    string
	description string
	amount      string
	month       string
	date        string
}

func (*addExpenseCmd) Name() string     { return "add-expense" }
func (*addExpenseCmd) Synopsis() string { return "record an expense" }
func (*addExpenseCmd) Usage() string {
	return `fintrack add-expense -category <category> -amount <amount> [-description <text>] [-month YYYY-MM] [-date YYYY-MM-DD]
`
}

func (c *addExpenseCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.category, "category", "", "expense category")
	f.StringVar(&c.description, "description", "", "what it was for")
	f.StringVar(&c.amount, "amount", "", "amount spent")
	f.StringVar(&c.month, "month", "", "month, YYYY-MM (default current, or the month of -date)")
	f.StringVar(&c.date, "date", "", "date spent, YYYY-MM-DD")
}

func (c *addExpenseCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.category == "" {
		return c.usage("-category is required")
	}
	amount, err := parseAmount(c.amount)
	if err != nil {
		return c.usage("%v", err)
	}
	monthFlag := c.month
	if monthFlag == "" && len(c.date) >= 7 {
		monthFlag = c.date[:7]
	}
	month, err := parseMonthFlag(monthFlag)
	if err != nil {
		return c.usage("%v", err)
	}

	return c.withSession(ctx, func(app *App) subcommands.ExitStatus {
		created, err := app.Finance.Expenses.Create(ctx, finance.Expense{
			Category:    c.category,
			Description: c.description,
			Amount:      amount,
			Month:       month,
			Date:        c.date,
		})
		if err != nil {
			return c.fail("failed to add expense: %v", err)
		}
		fmt.Fprintf(c.stdout, "Added expense %s: %s on %s\n", created.ID, finance.FormatAmount(amount, app.Currency()), c.category)
		return subcommands.ExitSuccess
	})
}

type deleteCmd struct{ *env }

func (*deleteCmd) Name() string     { return "delete" }
func (*deleteCmd) Synopsis() string { return "delete a record" }
func (*deleteCmd) Usage() string {
	return `fintrack delete <income|expenses|templates|loans|debts|investments> <id>
`
}
func (*deleteCmd) SetFlags(*flag.FlagSet) {}

func (c *deleteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		return c.usage("expected a collection name and a record id")
	}
	name, id := f.Arg(0), finance.ID(f.Arg(1))

	return c.withSession(ctx, func(app *App) subcommands.ExitStatus {
		svc := app.Finance
		var err error
		switch name {
		case "income":
			err = svc.Income.Delete(ctx, id)
		case "expenses":
			err = svc.Expenses.Delete(ctx, id)
		case "templates":
			err = svc.Templates.Delete(ctx, id)
		case "loans":
			err = svc.Loans.Delete(ctx, id)
		case "debts":
			err = svc.Debts.Delete(ctx, id)
		case "investments":
			err = svc.Investments.Delete(ctx, id)
		default:
			return c.usage("unknown collection %q, want one of %s", name, strings.Join(resourceNames, ", "))
		}
		if err != nil {
			return c.fail("failed to delete %s %s: %v", name, id, err)
		}
		fmt.Fprintf(c.stdout, "Deleted %s %s\n", name, id)
		return subcommands.ExitSuccess
	})
}

type applyTemplatesCmd struct {
	*env
	month string
}

func (*applyTemplatesCmd) Name() string     { return "apply-templates" }
func (*applyTemplatesCmd) Synopsis() string { return "add the month's recurring expenses from templates" }
func (*applyTemplatesCmd) Usage() string {
	return `fintrack apply-templates [-month YYYY-MM]
`
}

func (c *applyTemplatesCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.month, "month", "", "month, YYYY-MM (default current)")
}

func (c *applyTemplatesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	month, err := parseMonthFlag(c.month)
	if err != nil {
		return c.usage("%v", err)
	}
	return c.withSession(ctx, func(app *App) subcommands.ExitStatus {
		created, err := app.Finance.ApplyTemplates(ctx, month)
		if err != nil {
			return c.fail("failed to apply templates: %v", err)
		}
		fmt.Fprintf(c.stdout, "Created %d expenses for %s\n", len(created), month)
		return subcommands.ExitSuccess
	})
}

type dashboardCmd struct {
	*env
	month  string
	server bool
}

func (*dashboardCmd) Name() string     { return "dashboard" }
func (*dashboardCmd) Synopsis() string { return "summarize a month" }
func (*dashboardCmd) Usage() string {
	return `fintrack dashboard [-month YYYY-MM] [-server]

  Summarizes income, spending, loan payments and savings for a month.
  -server shows the server's own report instead of the local summary.
`
}

func (c *dashboardCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.month, "month", "", "month, YYYY-MM (default current)")
	f.BoolVar(&c.server, "server", false, "use the server's dashboard report")
}

func (c *dashboardCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	month, err := parseMonthFlag(c.month)
	if err != nil {
		return c.usage("%v", err)
	}
	return c.withSession(ctx, func(app *App) subcommands.ExitStatus {
		money := func(d decimal.Decimal) string { return finance.FormatAmount(d, app.Currency()) }

		if c.server {
			d, err := app.Finance.Dashboard(ctx, month)
			if err != nil {
				return c.fail("failed to load dashboard: %v", err)
			}
			fmt.Fprintf(c.stdout, "Dashboard for %s\n", month)
			tw := newTable(c.stdout)
			row(tw, "Income", money(d.TotalIncome))
			row(tw, "Expenses", money(d.TotalExpenses))
			row(tw, "Loan payments", money(d.TotalEMI))
			row(tw, "Savings", money(d.Savings))
			tw.Flush()
			printCategories(c.stdout, d.Categories, money)
			return subcommands.ExitSuccess
		}

		o, err := app.Finance.Overview(ctx, month)
		if err != nil {
			return c.fail("failed to build overview: %v", err)
		}
		fmt.Fprintf(c.stdout, "Overview for %s\n", month)
		tw := newTable(c.stdout)
		row(tw, "Income", money(o.Income))
		row(tw, "Expenses", money(o.Expenses))
		row(tw, "Loan payments", money(o.EMI))
		row(tw, "Savings", money(o.Savings)+" ("+o.SavingsRate.String()+"%)")
		row(tw, "Lent out", money(o.Lent))
		row(tw, "Borrowed", money(o.Borrowed))
		row(tw, "Investments", money(o.CurrentValue)+" (invested "+money(o.Invested)+")")
		tw.Flush()
		printCategories(c.stdout, o.Categories, money)
		return subcommands.ExitSuccess
	})
}

func printCategories(w io.Writer, cats []finance.CategoryTotal, money func(decimal.Decimal) string) {
	if len(cats) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := newTable(w, "CATEGORY", "AMOUNT", "SHARE")
	for _, ct := range cats {
		row(tw, ct.Category, money(ct.Amount), ct.Share.String()+"%")
	}
	tw.Flush()
}
