package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/qaframe/internal/apiclient"
	"github.com/xkilldash9x/qaframe/internal/config"
	"github.com/xkilldash9x/qaframe/internal/document"
	"github.com/xkilldash9x/qaframe/internal/locator"
	"github.com/xkilldash9x/qaframe/internal/observability"
)

// newLocateCmd creates the `locate` command. It replays an ordered locator list
// against a captured page, typically the .html artifact of a failed case, and
// shows which locator the fallback lookup settles on.
func newLocateCmd() *cobra.Command {
	var condition string

	locateCmd := &cobra.Command{
		Use:   "locate <file|url> <locator>...",
		Short: "Replays locators against captured page HTML",
		Example: `  qaframe locate screenshots/checkout_20260301.html "id:submit" "css:form button[type=submit]"
  qaframe locate https://shop.test/cart "text:Place order" --condition clickable`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}

			cond, err := parseCondition(condition)
			if err != nil {
				return err
			}
			locs, err := locator.ParseAll(args[1:])
			if err != nil {
				return err
			}
			doc, err := loadDocument(ctx, cfg.API, args[0], logger)
			if err != nil {
				return err
			}
			return replayLocators(ctx, cmd.OutOrStdout(), doc, cond, locs, logger)
		},
	}

	locateCmd.Flags().StringVar(&condition, "condition", "present", "Condition each match must satisfy: present, visible or clickable.")
	return locateCmd
}

func parseCondition(s string) (locator.Condition, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "present":
		return locator.Present, nil
	case "visible":
		return locator.Visible, nil
	case "clickable":
		return locator.Clickable, nil
	default:
		return locator.Present, fmt.Errorf("unknown condition %q", s)
	}
}

func loadDocument(ctx context.Context, apiCfg config.APIConfig, src string, logger *zap.Logger) (*document.Document, error) {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		return document.ParseFile(src)
	}

	client, err := apiclient.New(apiCfg, logger)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(ctx, apiclient.Request{
		Method:  http.MethodGet,
		Path:    src,
		Headers: map[string]string{"Accept": "text/html,application/xhtml+xml"},
	})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("GET %s returned %d", src, resp.StatusCode)
	}
	return document.ParseString(resp.Text())
}

// replayLocators prints every match of each locator, then the element a fallback
// lookup under cond returns.
func replayLocators(ctx context.Context, w io.Writer, doc *document.Document, cond locator.Condition, locs []locator.Locator, logger *zap.Logger) error {
	for i, loc := range locs {
		nodes, err := doc.FindAll(ctx, loc)
		if err != nil {
			fmt.Fprintf(w, "%d. %s  error: %v\n", i+1, loc, err)
			continue
		}
		fmt.Fprintf(w, "%d. %s  %d match(es)\n", i+1, loc, len(nodes))
		for _, n := range nodes {
			fmt.Fprintf(w, "     %s  %s\n", document.XPathFor(n), snippet(n))
		}
	}

	fallback := locator.NewFallback[*html.Node](doc, 0, logger)
	var (
		n   *html.Node
		err error
	)
	switch cond {
	case locator.Visible:
		n, err = fallback.FindVisible(ctx, locs...)
	case locator.Clickable:
		n, err = fallback.FindClickable(ctx, locs...)
	default:
		n, err = fallback.Find(ctx, locs...)
	}
	if errors.Is(err, locator.ErrElementNotFound) {
		fmt.Fprintf(w, "\nno %s element for any locator\n", cond)
		return err
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nresolved (%s): %s\n", cond, document.XPathFor(n))
	return nil
}

func snippet(n *html.Node) string {
	s := strings.Join(strings.Fields(document.OuterHTML(n)), " ")
	if len(s) > 80 {
		s = s[:77] + "..."
	}
	return s
}
