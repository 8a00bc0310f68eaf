package cli

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/garmentflow/garmentflow/internal/auth"
	"github.com/garmentflow/garmentflow/internal/shared"
)

// IssueToken parses `token` subcommand flags and writes a signed bearer token to out.
func IssueToken(args []string, secret, issuer string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	userID := fs.Int64("user", 0, "user id carried by the token")
	role := fs.String("role", shared.RoleStaff, "role carried by the token (admin or staff)")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID <= 0 {
		return fmt.Errorf("token: -user must be positive")
	}
	if *role != shared.RoleAdmin && *role != shared.RoleStaff {
		return fmt.Errorf("token: unknown role %q", *role)
	}
	iss, err := auth.NewIssuer(secret, issuer, *ttl)
	if err != nil {
		return err
	}
	token, err := iss.Issue(shared.Principal{UserID: *userID, Role: *role})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
