package cli

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/spec-kit/brokerauth/internal/auth"
	"github.com/spec-kit/brokerauth/internal/domain"
	"github.com/spec-kit/brokerauth/internal/service"
)

type loginCmd struct {
	r        *Runner
	username string
	password string
}

func (*loginCmd) Name() string     { return "login" }
func (*loginCmd) Synopsis() string { return "log in to the brokerage, reusing a stored token when valid" }
func (*loginCmd) Usage() string {
	return `brokerctl login [-u <username>] [-p <password>]

  Resumes a stored token for the username, or logs in with the password.
  The password defaults to $BROKER_PASSWORD.
`
}

func (c *loginCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.username, "u", "", "Brokerage username (defaults to $BROKER_USERNAME).")
	f.StringVar(&c.password, "p", "", "Brokerage password (defaults to $BROKER_PASSWORD).")
}

func (c *loginCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	password := c.password
	if password == "" {
		password = os.Getenv("BROKER_PASSWORD")
	}
	return c.r.withSession(ctx, c.username, func(s *service.Session) error {
		username := c.username
		if username == "" {
			username = c.r.DefaultUsername
		}
		cached, err := s.Login(ctx, domain.Credential{Username: username, Password: password})
		if err != nil {
			return err
		}
		if cached {
			fmt.Fprintln(c.r.Out, "using stored token")
		} else {
			fmt.Fprintln(c.r.Out, "logged in")
		}
		return c.r.printStatus(s.Status())
	})
}

type otpCmd struct {
	r        *Runner
	username string
	channel  string
}

func (*otpCmd) Name() string     { return "otp" }
func (*otpCmd) Synopsis() string { return "request a one-time passcode" }
func (*otpCmd) Usage() string {
	return `brokerctl otp [-u <username>] [-c email|smart]

  Asks the brokerage to email a passcode. With -c smart nothing is sent;
  read the code from the authenticator app.
`
}

func (c *otpCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.username, "u", "", "Brokerage username (defaults to $BROKER_USERNAME).")
	f.StringVar(&c.channel, "c", "email", "OTP channel: email or smart.")
}

func (c *otpCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	channel, err := domain.ParseOTPChannel(c.channel)
	if err != nil {
		fmt.Fprintln(c.r.Err, err)
		return subcommands.ExitUsageError
	}
	return c.r.withSession(ctx, c.username, func(s *service.Session) error {
		if err := s.SendOTP(ctx, channel); err != nil {
			return err
		}
		if channel == domain.OTPChannelEmail {
			fmt.Fprintln(c.r.Out, "passcode sent by email")
		} else {
			fmt.Fprintln(c.r.Out, "read the passcode from the authenticator app")
		}
		return nil
	})
}

type verifyCmd struct {
	r        *Runner
	username string
	channel  string
}

func (*verifyCmd) Name() string     { return "verify" }
func (*verifyCmd) Synopsis() string { return "exchange a one-time passcode for a trading token" }
func (*verifyCmd) Usage() string {
	return `brokerctl verify [-u <username>] [-c email|smart] <otp>
`
}

func (c *verifyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.username, "u", "", "Brokerage username (defaults to $BROKER_USERNAME).")
	f.StringVar(&c.channel, "c", "email", "OTP channel the passcode came from: email or smart.")
}

func (c *verifyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(c.r.Err, c.Usage())
		return subcommands.ExitUsageError
	}
	channel, err := domain.ParseOTPChannel(c.channel)
	if err != nil {
		fmt.Fprintln(c.r.Err, err)
		return subcommands.ExitUsageError
	}
	otp := f.Arg(0)
	return c.r.withSession(ctx, c.username, func(s *service.Session) error {
		if err := s.CompleteAuth(ctx, otp, channel); err != nil {
			return err
		}
		fmt.Fprintln(c.r.Out, "trading token issued")
		return c.r.printStatus(s.Status())
	})
}

type statusCmd struct {
	r        *Runner
	username string
}

func (*statusCmd) Name() string     { return "status" }
func (*statusCmd) Synopsis() string { return "show the stored session state" }
func (*statusCmd) Usage() string {
	return `brokerctl status [-u <username>]
`
}

func (c *statusCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.username, "u", "", "Brokerage username (defaults to $BROKER_USERNAME).")
}

func (c *statusCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.r.withSession(ctx, c.username, func(s *service.Session) error {
		return c.r.printStatus(s.Status())
	})
}

type logoutCmd struct {
	r        *Runner
	username string
}

func (*logoutCmd) Name() string     { return "logout" }
func (*logoutCmd) Synopsis() string { return "forget the stored tokens" }
func (*logoutCmd) Usage() string {
	return `brokerctl logout [-u <username>]
`
}

func (c *logoutCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.username, "u", "", "Brokerage username (defaults to $BROKER_USERNAME).")
}

func (c *logoutCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	username := c.username
	if username == "" {
		username = c.r.DefaultUsername
	}
	return c.r.withSession(ctx, username, func(s *service.Session) error {
		if err := s.Authenticator().Logout(ctx, username); err != nil {
			return err
		}
		fmt.Fprintln(c.r.Out, "logged out")
		return nil
	})
}

type hashPasswordCmd struct {
	r    *Runner
	cost int
}

func (*hashPasswordCmd) Name() string     { return "hash-password" }
func (*hashPasswordCmd) Synopsis() string { return "print a bcrypt hash for OPERATOR_PASSWORD_HASH" }
func (*hashPasswordCmd) Usage() string {
	return `brokerctl hash-password [-cost <n>] <password>
`
}

func (c *hashPasswordCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.cost, "cost", 0, "bcrypt cost (defaults to bcrypt.DefaultCost).")
}

func (c *hashPasswordCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(c.r.Err, c.Usage())
		return subcommands.ExitUsageError
	}
	hash, err := auth.HashPassword(f.Arg(0), c.cost)
	if err != nil {
		fmt.Fprintln(c.r.Err, err)
		return subcommands.ExitFailure
	}
	fmt.Fprintln(c.r.Out, hash)
	return subcommands.ExitSuccess
}
