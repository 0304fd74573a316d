package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/subcommands"

	"github.com/spec-kit/brokerauth/internal/service"
	apperrors "github.com/spec-kit/brokerauth/pkg/util"
)

// Runner carries what every brokerctl subcommand needs. Each invocation opens
// a fresh session that resumes from the token store, so consecutive commands
// continue the same escalation.
type Runner struct {
	// Options builds the session collaborators for one invocation.
	Options         func(ctx context.Context) (service.SessionOptions, error)
	DefaultUsername string
	Out             io.Writer
	Err             io.Writer
}

// Commands returns the brokerctl subcommands bound to r.
func (r *Runner) Commands() []subcommands.Command {
	return []subcommands.Command{
		&loginCmd{r: r},
		&otpCmd{r: r},
		&verifyCmd{r: r},
		&statusCmd{r: r},
		&logoutCmd{r: r},
		&hashPasswordCmd{r: r},
	}
}

func (r *Runner) withSession(ctx context.Context, username string, fn func(*service.Session) error) subcommands.ExitStatus {
	if username == "" {
		username = r.DefaultUsername
	}
	if username == "" {
		fmt.Fprintln(r.Err, "a username is required (-u or BROKER_USERNAME)")
		return subcommands.ExitUsageError
	}
	opts, err := r.Options(ctx)
	if err != nil {
		return r.fail(err)
	}
	opts.Username = username
	if err := service.WithSession(ctx, opts, fn); err != nil {
		return r.fail(err)
	}
	return subcommands.ExitSuccess
}

func (r *Runner) fail(err error) subcommands.ExitStatus {
	domainErr := apperrors.ToDomainError(err)
	if domainErr.Code == apperrors.CodeInternal {
		fmt.Fprintf(r.Err, "error: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Fprintf(r.Err, "%s: %s", domainErr.Code, domainErr.Error())
	if domainErr.StatusCode != 0 {
		fmt.Fprintf(r.Err, " (remote status %d)", domainErr.StatusCode)
	}
	fmt.Fprintln(r.Err)
	return subcommands.ExitFailure
}

func (r *Runner) printStatus(st service.Status) error {
	enc := json.NewEncoder(r.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}
