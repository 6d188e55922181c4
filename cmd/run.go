package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/qaframe/internal/apiclient"
	"github.com/xkilldash9x/qaframe/internal/auth"
	"github.com/xkilldash9x/qaframe/internal/browser"
	"github.com/xkilldash9x/qaframe/internal/chain"
	"github.com/xkilldash9x/qaframe/internal/config"
	"github.com/xkilldash9x/qaframe/internal/observability"
	"github.com/xkilldash9x/qaframe/internal/store"
	"github.com/xkilldash9x/qaframe/internal/suite"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	var (
		groups      []string
		concurrency int
		retries     int
		noStore     bool
	)

	runCmd := &cobra.Command{
		Use:   "run <suite.yaml>",
		Short: "Runs a test suite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}

			// Flags override config file and environment values.
			if cmd.Flags().Changed("concurrency") {
				cfg.Suite.Concurrency = concurrency
			}
			if cmd.Flags().Changed("retries") {
				cfg.Suite.Retries = retries
			}
			if len(groups) == 0 {
				groups = cfg.Suite.Groups
			}
			if noStore {
				cfg.Database.URL = ""
			}

			s, err := suite.Load(args[0])
			if err != nil {
				return err
			}

			components, err := initializeRunComponents(ctx, cfg, needsBrowser(s, groups), logger)
			if err != nil {
				if components != nil {
					components.Shutdown()
				}
				return fmt.Errorf("failed to initialize run components: %w", err)
			}
			defer components.Shutdown()

			res, err := components.Runner.Run(ctx, s, groups)
			if err != nil {
				return err
			}

			printRunResult(cmd.OutOrStdout(), res)
			if !res.Success() {
				return fmt.Errorf("suite %q: %d failed, %d skipped of %d", s.Name, res.Failed(), res.Skipped(), len(res.Cases))
			}
			return nil
		},
	}

	runCmd.Flags().StringSliceVarP(&groups, "groups", "g", nil, "Only run cases in these groups. (Overrides config/env)")
	runCmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "Number of concurrent workers. (Overrides config/env)")
	runCmd.Flags().IntVar(&retries, "retries", 0, "Retries per failed case. (Overrides config/env)")
	runCmd.Flags().BoolVar(&noStore, "no-store", false, "Do not record the run in the history database.")

	return runCmd
}

// runComponents holds initialized services.
type runComponents struct {
	Runner         *suite.Runner
	Auth           *auth.Manager
	BrowserManager *browser.Manager
	closeStore     func()
}

// Shutdown gracefully closes all components.
func (rc *runComponents) Shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger := observability.GetLogger()
	if rc.BrowserManager != nil {
		if err := rc.BrowserManager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser manager shutdown", zap.Error(err))
		}
	}
	if rc.Auth != nil {
		if err := rc.Auth.Close(); err != nil {
			logger.Warn("Error closing token store", zap.Error(err))
		}
	}
	if rc.closeStore != nil {
		rc.closeStore()
	}
}

// initializeRunComponents handles dependency injection.
func initializeRunComponents(ctx context.Context, cfg *config.Config, withBrowser bool, logger *zap.Logger) (*runComponents, error) {
	components := &runComponents{}
	opts := []suite.Option{}

	// 1. API client, tokens and chains
	client, err := apiclient.New(cfg.API, logger)
	if err != nil {
		return components, fmt.Errorf("failed to create api client: %w", err)
	}
	authManager, err := auth.NewFromConfig(ctx, cfg.Auth, client, logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize token manager: %w", err)
	}
	components.Auth = authManager
	opts = append(opts, suite.WithChains(chain.NewExecutor(client, authManager, logger)))

	// 2. Browser
	if withBrowser {
		browserManager, err := browser.NewManager(ctx, cfg.Browser, logger)
		if err != nil {
			return components, fmt.Errorf("failed to initialize browser manager: %w", err)
		}
		components.BrowserManager = browserManager
		opts = append(opts, suite.WithPages(suite.BrowserPages(browserManager)))
	}

	// 3. Run history
	if cfg.Database.URL != "" {
		dbStore, closeStore, err := store.Connect(ctx, cfg.Database.URL, logger)
		if err != nil {
			return components, err
		}
		components.closeStore = closeStore
		if err := dbStore.EnsureSchema(ctx); err != nil {
			return components, err
		}
		opts = append(opts, suite.WithRecorder(dbStore))
	} else {
		logger.Debug("No database configured; run history is not recorded.")
	}

	components.Runner = suite.NewRunner(cfg.Suite, logger, opts...)
	return components, nil
}

// needsBrowser reports whether any selected case has UI steps, so API-only runs
// never launch Chrome.
func needsBrowser(s *suite.Suite, groups []string) bool {
	for _, c := range s.Select(groups) {
		if len(c.UI) > 0 {
			return true
		}
	}
	return false
}

func printRunResult(w io.Writer, res *suite.RunResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CASE\tSTATUS\tATTEMPTS\tDURATION\tDETAIL")
	for _, c := range res.Cases {
		detail := ""
		if c.Err != nil {
			detail = c.Err.Error()
		}
		if c.Artifacts.Screenshot != "" {
			detail += " [screenshot: " + c.Artifacts.Screenshot + "]"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", c.Name, c.Status, c.Attempts, c.Duration.Round(time.Millisecond), detail)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\nRun %s: %d passed, %d failed, %d skipped in %s\n",
		res.ID, res.Passed(), res.Failed(), res.Skipped(), res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
}
