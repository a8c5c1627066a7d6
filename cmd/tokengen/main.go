// Command tokengen mints a FINALIZER token for the backend that confirms
// paid bookings.  The token is signed with JWT_SECRET from the
// environment or .env.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/cinema-seat-hold/internal/config"
	"github.com/iliyamo/cinema-seat-hold/internal/middleware"
	"github.com/iliyamo/cinema-seat-hold/internal/utils"
)

func newRootCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:           "tokengen",
		Short:         "Mint a service token for the seat hold API",
		Long:          `Prints a signed HS256 token on stdout and its expiry on stderr.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			lifetime := cfg.JWT.TokenTTL
			if ttl > 0 {
				lifetime = ttl
			}
			tok, err := utils.NewServiceToken(cfg.JWT.Secret, subject, role, lifetime)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.Token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", tok.Exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "payments", "token subject (calling service)")
	cmd.Flags().StringVar(&role, "role", middleware.RoleFinalizer, "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default JWT_TOKEN_TTL)")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
