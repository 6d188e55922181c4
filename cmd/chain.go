package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/qaframe/internal/apiclient"
	"github.com/xkilldash9x/qaframe/internal/auth"
	"github.com/xkilldash9x/qaframe/internal/chain"
	"github.com/xkilldash9x/qaframe/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// newChainCmd creates the `chain` command, which executes one API chain definition.
func newChainCmd() *cobra.Command {
	var vars []string

	chainCmd := &cobra.Command{
		Use:   "chain <definition.yaml>",
		Short: "Executes an API request chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}

			def, err := chain.LoadDefinition(args[0])
			if err != nil {
				return err
			}
			overrides, err := parseVars(vars)
			if err != nil {
				return err
			}
			if def.Vars == nil {
				def.Vars = map[string]any{}
			}
			for k, v := range overrides {
				def.Vars[k] = v
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

			res, runErr := chain.NewExecutor(client, tokens, logger).Run(ctx, def)
			if res != nil {
				if err := printChainResult(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	chainCmd.Flags().StringArrayVar(&vars, "var", nil, "Initial context value as key=value. Repeatable; overrides the definition's vars.")
	return chainCmd
}

func parseVars(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --var %q, expected key=value", p)
		}
		out[k] = v
	}
	return out, nil
}

func printChainResult(w io.Writer, res *chain.Result) error {
	for _, s := range res.Steps {
		fmt.Fprintf(w, "%2d  %-24s %3d  %s\n", s.Index+1, s.Name, s.StatusCode, s.Duration.Round(time.Millisecond))
	}
	if res.Failed != nil {
		fmt.Fprintf(w, "FAILED at step %d (%s)\n", res.Failed.Index+1, res.Failed.Name)
	}
	out, err := json.MarshalIndent(res.Context, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode chain context: %w", err)
	}
	fmt.Fprintf(w, "%s\n", out)
	return nil
}
