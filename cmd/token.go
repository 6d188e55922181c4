package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/qaframe/internal/apiclient"
	"github.com/xkilldash9x/qaframe/internal/auth"
	"github.com/xkilldash9x/qaframe/internal/observability"
)

// newTokenCmd creates the `token` command. It prints a valid token for a
// configured type, which makes the shared Redis cache usable from shell scripts.
func newTokenCmd() *cobra.Command {
	var (
		refresh    bool
		invalidate bool
		verbose    bool
	)

	tokenCmd := &cobra.Command{
		Use:   "token [type]",
		Short: "Prints, refreshes or invalidates an access token",
		Long:  "Prints a valid access token for the given token type. Without a type, lists the configured types.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}

			client, err := apiclient.New(cfg.API, logger)
			if err != nil {
				return err
			}
			tokens, err := auth.NewFromConfig(ctx, cfg.Auth, client, logger)
			if err != nil {
				return err
			}
			defer tokens.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, t := range tokens.Types() {
					fmt.Fprintln(out, t)
				}
				return nil
			}
			tokenType := args[0]

			if invalidate {
				if err := tokens.Invalidate(ctx, tokenType); err != nil {
					return fmt.Errorf("failed to invalidate %q: %w", tokenType, err)
				}
				cmd.PrintErrf("Invalidated cached %s token.\n", tokenType)
				return nil
			}

			var info auth.TokenInfo
			if refresh {
				info, err = tokens.Refresh(ctx, tokenType)
			} else {
				var token string
				token, err = tokens.ValidToken(ctx, tokenType)
				info, _ = tokens.Cached(ctx, tokenType)
				info.Token = token
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(out, info.Token)
			if verbose {
				if info.ExpiresAt.IsZero() {
					cmd.PrintErrln("expires: never")
				} else {
					cmd.PrintErrf("expires: %s (in %s)\n", info.ExpiresAt.Format(time.RFC3339), time.Until(info.ExpiresAt).Round(time.Second))
				}
			}
			return nil
		},
	}

	tokenCmd.Flags().BoolVar(&refresh, "refresh", false, "Authenticate again even if the cached token is still valid.")
	tokenCmd.Flags().BoolVar(&invalidate, "invalidate", false, "Drop the cached token instead of printing one.")
	tokenCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Also print the expiry to stderr.")
	tokenCmd.MarkFlagsMutuallyExclusive("refresh", "invalidate")
	return tokenCmd
}
