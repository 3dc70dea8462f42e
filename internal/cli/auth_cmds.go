package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fintrack/fintrack/internal/apiclient"
	"github.com/fintrack/fintrack/internal/models"
	"github.com/google/subcommands"
)

const passwordEnv = "FINTRACK_PASSWORD"

func passwordOrEnv(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(passwordEnv)
}

func describeUser(u models.User) string {
	name := u.DisplayName()
	if email := u.Email(); email != "" && email != name {
		return fmt.Sprintf("%s <%s>", name, email)
	}
	return name
}

type loginCmd struct {
	*env
	email    string
	password string
}

func (*loginCmd) Name() string     { return "login" }
func (*loginCmd) Synopsis() string { return "sign in with email and password" }
func (*loginCmd) Usage() string {
	return `fintrack login -email <email> [-password <password>]

  Signs in and stores the session. The password may also be given in
  the FINTRACK_PASSWORD environment variable.
`
}

func (c *loginCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.email, "email", "", "account email")
	f.StringVar(&c.password, "password", "", "account password")
}

func (c *loginCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	password := passwordOrEnv(c.password)
	if c.email == "" || password == "" {
		return c.usage("-email and a password are required")
	}
	return c.withApp(ctx, func(app *App) subcommands.ExitStatus {
		sess, err := app.API.Login(ctx, c.email, password)
		if err != nil {
			return c.fail("login failed: %v", err)
		}
		if err := app.Session.Login(ctx, sess.AccessToken, sess.RefreshToken, sess.User); err != nil {
			return c.fail("failed to store session: %v", err)
		}
		fmt.Fprintf(c.stdout, "Logged in as %s\n", describeUser(sess.User))
		return subcommands.ExitSuccess
	})
}

type registerCmd struct {
	*env
	reg apiclient.Registration
}

func (*registerCmd) Name() string     { return "register" }
func (*registerCmd) Synopsis() string { return "create an account" }
func (*registerCmd) Usage() string {
	return `fintrack register -firstname <name> -email <email> [-lastname <name>] [-phone <phone>] [-password <password>]
`
}

func (c *registerCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.reg.FirstName, "firstname", "", "first name")
	f.StringVar(&c.reg.LastName, "lastname", "", "last name")
	f.StringVar(&c.reg.Email, "email", "", "account email")
	f.StringVar(&c.reg.Phone, "phone", "", "phone number")
	f.StringVar(&c.reg.Password, "password", "", "account password")
}

func (c *registerCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	c.reg.Password = passwordOrEnv(c.reg.Password)
	if c.reg.FirstName == "" || c.reg.Email == "" || c.reg.Password == "" {
		return c.usage("-firstname, -email and a password are required")
	}
	return c.withApp(ctx, func(app *App) subcommands.ExitStatus {
		sess, err := app.API.Register(ctx, c.reg)
		if err != nil {
			return c.fail("registration failed: %v", err)
		}
		if sess.AccessToken == "" {
			fmt.Fprintln(c.stdout, "Account created. Run 'fintrack login' to sign in.")
			return subcommands.ExitSuccess
		}
		if err := app.Session.Login(ctx, sess.AccessToken, sess.RefreshToken, sess.User); err != nil {
			return c.fail("failed to store session: %v", err)
		}
		fmt.Fprintf(c.stdout, "Account created, logged in as %s\n", describeUser(sess.User))
		return subcommands.ExitSuccess
	})
}

type otpRequestCmd struct {
	*env
	phone string
}

func (*otpRequestCmd) Name() string     { return "otp-request" }
func (*otpRequestCmd) Synopsis() string { return "send a one-time sign-in code to a phone" }
func (*otpRequestCmd) Usage() string {
	return `fintrack otp-request -phone <phone>
`
}

func (c *otpRequestCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.phone, "phone", "", "phone number")
}

func (c *otpRequestCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.phone == "" {
		return c.usage("-phone is required")
	}
	return c.withApp(ctx, func(app *App) subcommands.ExitStatus {
		if err := app.API.RequestOTP(ctx, c.phone); err != nil {
			return c.fail("failed to request code: %v", err)
		}
		fmt.Fprintf(c.stdout, "Code sent to %s. Run 'fintrack otp-verify -phone %s -code <code>'.\n", c.phone, c.phone)
		return subcommands.ExitSuccess
	})
}

type otpVerifyCmd struct {
	*env
	phone string
	code  string
}

func (*otpVerifyCmd) Name() string     { return "otp-verify" }
func (*otpVerifyCmd) Synopsis() string { return "sign in with a one-time code" }
func (*otpVerifyCmd) Usage() string {
	return `fintrack otp-verify -phone <phone> -code <code>
`
}

func (c *otpVerifyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.phone, "phone", "", "phone number")
	f.StringVar(&c.code, "code", "", "code received by SMS")
}

func (c *otpVerifyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.phone == "" || c.code == "" {
		return c.usage("-phone and -code are required")
	}
	return c.withApp(ctx, func(app *App) subcommands.ExitStatus {
		sess, err := app.API.VerifyOTP(ctx, c.phone, c.code)
		if err != nil {
			return c.fail("verification failed: %v", err)
		}
		if err := app.Session.Login(ctx, sess.AccessToken, sess.RefreshToken, sess.User); err != nil {
			return c.fail("failed to store session: %v", err)
		}
		fmt.Fprintf(c.stdout, "Logged in as %s\n", describeUser(sess.User))
		return subcommands.ExitSuccess
	})
}

type logoutCmd struct{ *env }

func (*logoutCmd) Name() string           { return "logout" }
func (*logoutCmd) Synopsis() string       { return "sign out and forget the stored session" }
func (*logoutCmd) Usage() string          { return "fintrack logout\n" }
func (*logoutCmd) SetFlags(*flag.FlagSet) {}

func (c *logoutCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.withApp(ctx, func(app *App) subcommands.ExitStatus {
		if err := app.Session.Logout(ctx); err != nil {
			return c.fail("failed to clear session: %v", err)
		}
		fmt.Fprintln(c.stdout, "Logged out.")
		return subcommands.ExitSuccess
	})
}

type whoamiCmd struct {
	*env
	force bool
}

func (*whoamiCmd) Name() string     { return "whoami" }
func (*whoamiCmd) Synopsis() string { return "show the signed-in user" }
func (*whoamiCmd) Usage() string {
	return `fintrack whoami [-force]

  Shows the signed-in user. -force re-fetches the profile from the server.
`
}

func (c *whoamiCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.force, "force", false, "re-verify with the server instead of using the cached profile")
}

func (c *whoamiCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.withSession(ctx, func(app *App) subcommands.ExitStatus {
		u, ok := app.Session.Verify(ctx, c.force)
		if !ok {
			return c.fail("could not verify session")
		}
		fmt.Fprintf(c.stdout, "ID:    %s\n", u.ID())
		fmt.Fprintf(c.stdout, "Name:  %s\n", u.DisplayName())
		if email := u.Email(); email != "" {
			fmt.Fprintf(c.stdout, "Email: %s\n", email)
		}
		if phone := u.Phone(); phone != "" {
			fmt.Fprintf(c.stdout, "Phone: %s\n", phone)
		}
		if exp, ok := apiclient.TokenExpiry(app.Session.AccessToken()); ok {
			fmt.Fprintf(c.stdout, "Token expires in %s\n", time.Until(exp).Round(time.Second))
		}
		return subcommands.ExitSuccess
	})
}

type refreshCmd struct{ *env }

func (*refreshCmd) Name() string           { return "refresh" }
func (*refreshCmd) Synopsis() string       { return "mint a new access token from the refresh token" }
func (*refreshCmd) Usage() string          { return "fintrack refresh\n" }
func (*refreshCmd) SetFlags(*flag.FlagSet) {}

func (c *refreshCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.withSession(ctx, func(app *App) subcommands.ExitStatus {
		if !app.Session.Refresh(ctx) {
			return c.fail("token refresh failed")
		}
		if exp, ok := apiclient.TokenExpiry(app.Session.AccessToken()); ok {
			fmt.Fprintf(c.stdout, "Access token refreshed, valid until %s\n", exp.Local().Format(time.RFC3339))
			return subcommands.ExitSuccess
		}
		fmt.Fprintln(c.stdout, "Access token refreshed.")
		return subcommands.ExitSuccess
	})
}
