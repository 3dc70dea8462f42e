package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/fintrack/fintrack/internal/finance"
	"github.com/google/subcommands"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

type emiCmd struct {
	*env
	principal string
	rate      string
	months    int
	start     string
	currency  string
	schedule  bool
}

func (*emiCmd) Name() string     { return "emi" }
func (*emiCmd) Synopsis() string { return "preview the monthly installment of a loan" }
func (*emiCmd) Usage() string {
	return `fintrack emi -principal <amount> -rate <annual %> -months <n> [-schedule] [-start YYYY-MM]

  Computes the equated monthly installment offline. -schedule prints the
  full amortization table.
`
}

func (c *emiCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.principal, "principal", "", "loan amount")
	f.StringVar(&c.rate, "rate", "0", "annual interest rate in percent")
	f.IntVar(&c.months, "months", 0, "tenure in months")
	f.StringVar(&c.start, "start", "", "month of the first installment, YYYY-MM")
	f.StringVar(&c.currency, "currency", finance.DefaultCurrency, "display currency")
	f.BoolVar(&c.schedule, "schedule", false, "print the amortization schedule")
}

func (c *emiCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	principal, err := decimal.NewFromString(c.principal)
	if err != nil {
		return c.usage("invalid -principal %q", c.principal)
	}
	rate, err := decimal.NewFromString(c.rate)
	if err != nil {
		return c.usage("invalid -rate %q", c.rate)
	}
	var start finance.Month
	if c.start != "" {
		if start, err = finance.ParseMonth(c.start); err != nil {
			return c.usage("%v", err)
		}
	}

	p, err := finance.Preview(principal, rate, c.months)
	if errors.Is(err, finance.ErrInvalidLoanTerms) {
		return c.usage("principal and months must be positive and the rate must not be negative")
	}
	if err != nil {
		return c.fail("%v", err)
	}
	money := func(d decimal.Decimal) string { return finance.FormatAmount(d, c.currency) }

	tw := newTable(c.stdout)
	row(tw, "Monthly installment", money(p.EMI))
	row(tw, "Total interest", money(p.TotalInterest))
	row(tw, "Total payment", money(p.TotalPayment))
	tw.Flush()

	if !c.schedule {
		return subcommands.ExitSuccess
	}
	schedule, err := finance.Amortize(principal, rate, c.months, start)
	if err != nil {
		return c.fail("%v", err)
	}
	fmt.Fprintln(c.stdout)
	tw = newTable(c.stdout, "#", "MONTH", "PAYMENT", "PRINCIPAL", "INTEREST", "BALANCE")
	for _, inst := range schedule {
		row(tw, fmt.Sprint(inst.Number), inst.Month.String(), money(inst.Payment),
			money(inst.Principal), money(inst.Interest), money(inst.Balance))
	}
	tw.Flush()
	return subcommands.ExitSuccess
}

type watchCmd struct {
	*env
	metricsAddr string
}

func (*watchCmd) Name() string     { return "watch" }
func (*watchCmd) Synopsis() string { return "keep the session fresh until interrupted" }
func (*watchCmd) Usage() string {
	return `fintrack watch [-metrics <addr>]

  Refreshes the access token on the configured interval until interrupted.
  -metrics serves client metrics at http://<addr>/metrics.
`
}

func (c *watchCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.metricsAddr, "metrics", "", "address to serve Prometheus metrics on, e.g. :9464")
}

func (c *watchCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.withSession(ctx, func(app *App) subcommands.ExitStatus {
		if c.metricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{}))
			srv := &http.Server{Addr: c.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					app.Logger.WithError(err).Error("Metrics server failed")
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
		}

		fmt.Fprintf(c.stdout, "Keeping session for %s fresh every %s. Press Ctrl-C to stop.\n",
			describeUser(app.Session.User()), app.Config.Session.RefreshInterval)
		app.Session.Run(ctx)
		fmt.Fprintln(c.stdout, "Stopped.")
		return subcommands.ExitSuccess
	})
}
