package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fintrack/fintrack/internal/apiclient"
	"github.com/fintrack/fintrack/internal/store"
	"github.com/google/subcommands"
)

// Register adds every fintrack command to c.
func Register(c *subcommands.Commander, open Opener, stdout, stderr io.Writer) {
	e := &env{open: open, stdout: stdout, stderr: stderr}

	c.Register(&loginCmd{env: e}, "auth")
	c.Register(&registerCmd{env: e}, "auth")
	c.Register(&otpRequestCmd{env: e}, "auth")
	c.Register(&otpVerifyCmd{env: e}, "auth")
	c.Register(&logoutCmd{env: e}, "auth")
	c.Register(&whoamiCmd{env: e}, "auth")
	c.Register(&refreshCmd{env: e}, "auth")
	c.Register(&watchCmd{env: e}, "auth")

	c.Register(&listCmd{env: e}, "records")
	c.Register(&addIncomeCmd{env: e}, "records")
	c.Register(&addExpenseCmd{env: e}, "records")
	c.Register(&deleteCmd{env: e}, "records")
	c.Register(&applyTemplatesCmd{env: e}, "records")
	c.Register(&dashboardCmd{env: e}, "records")

	c.Register(&emiCmd{env: e}, "tools")
}

type env struct {
	open   Opener
	stdout io.Writer
	stderr io.Writer
}

func (e *env) fail(format string, args ...any) subcommands.ExitStatus {
	fmt.Fprintf(e.stderr, "Error: "+format+"\n", args...)
	return subcommands.ExitFailure
}

func (e *env) usage(format string, args ...any) subcommands.ExitStatus {
	fmt.Fprintf(e.stderr, "Error: "+format+"\n", args...)
	return subcommands.ExitUsageError
}

func (e *env) withApp(ctx context.Context, fn func(*App) subcommands.ExitStatus) subcommands.ExitStatus {
	app, err := e.open(ctx)
	if err != nil {
		return e.fail("%v", err)
	}
	defer app.Close()
	return fn(app)
}

// withSession restores the stored session and runs the access guard before
// fn. Commands that show or change user data go through it.
func (e *env) withSession(ctx context.Context, fn func(*App) subcommands.ExitStatus) subcommands.ExitStatus {
	return e.withApp(ctx, func(app *App) subcommands.ExitStatus {
		resume(ctx, app)
		if err := app.Session.Initialize(ctx); err != nil {
			return e.fail("failed to load session: %v", err)
		}
		if !app.Session.Guard(ctx) {
			fmt.Fprintln(e.stderr, "Not logged in. Run 'fintrack login' first.")
			return subcommands.ExitFailure
		}
		return fn(app)
	})
}

// resume refreshes a stored access token that has already expired, so that
// Initialize does not discard a session the refresh token can still save.
func resume(ctx context.Context, app *App) {
	token, _, err := app.Store.Get(ctx, store.KeyAccessToken)
	if err != nil || token == "" {
		return
	}
	exp, ok := apiclient.TokenExpiry(token)
	if !ok || time.Now().Before(exp) {
		return
	}
	if app.Session.Refresh(ctx) {
		app.Logger.Debug("Refreshed expired access token before startup")
	}
}
