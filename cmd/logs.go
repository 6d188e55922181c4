package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"go.uber.org/zap/zapcore"
)

// logFilter selects JSON log lines by minimum level and field values.
type logFilter struct {
	minLevel zapcore.Level
	runID    string
	caseName string
}

func (f logFilter) match(line string) bool {
	if !gjson.Valid(line) {
		return false
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(gjson.Get(line, "level").String())); err == nil && lvl < f.minLevel {
		return false
	}
	if f.runID != "" && gjson.Get(line, "run_id").String() != f.runID {
		return false
	}
	if f.caseName != "" && gjson.Get(line, "case").String() != f.caseName {
		return false
	}
	return true
}

// formatLogLine renders a JSON log entry as "ts LEVEL logger msg key=value ...".
func formatLogLine(line string) string {
	res := gjson.Parse(line)
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s %s %s", res.Get("ts").String(), res.Get("level").String(),
		res.Get("logger").String(), res.Get("msg").String())
	res.ForEach(func(key, value gjson.Result) bool {
		switch key.String() {
		case "ts", "level", "logger", "msg", "caller", "stacktrace":
			return true
		}
		fmt.Fprintf(&b, " %s=%s", key.String(), value.String())
		return true
	})
	return b.String()
}

// newLogsCmd creates the `logs` command, which reads the rotating JSON log file.
func newLogsCmd() *cobra.Command {
	var (
		follow   bool
		level    string
		runID    string
		caseName string
		raw      bool
	)

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Shows or follows the qaframe log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if cfg.Logger.LogFile == "" {
				return fmt.Errorf("logger.log_file is not configured")
			}

			filter := logFilter{runID: runID, caseName: caseName}
			if err := filter.minLevel.UnmarshalText([]byte(level)); err != nil {
				return fmt.Errorf("invalid level %q: %w", level, err)
			}

			t, err := tail.TailFile(cfg.Logger.LogFile, tail.Config{
				Follow:    follow,
				ReOpen:    follow,
				MustExist: true,
				Logger:    tail.DiscardingLogger,
			})
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			defer t.Cleanup()
			defer func() { _ = t.Stop() }()

			return streamLogs(cmd, t, filter, raw, cmd.OutOrStdout())
		},
	}

	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep reading as new lines are written, across rotations.")
	logsCmd.Flags().StringVar(&level, "level", "debug", "Minimum level to show.")
	logsCmd.Flags().StringVar(&runID, "run", "", "Only show lines of this run id.")
	logsCmd.Flags().StringVar(&caseName, "case", "", "Only show lines of this case.")
	logsCmd.Flags().BoolVar(&raw, "raw", false, "Print matching lines as JSON.")
	return logsCmd
}

func streamLogs(cmd *cobra.Command, t *tail.Tail, filter logFilter, raw bool, w io.Writer) error {
	ctx := cmd.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				cmd.PrintErrf("error reading log file: %v\n", line.Err)
				continue
			}
			if !filter.match(line.Text) {
				continue
			}
			if raw {
				fmt.Fprintln(w, line.Text)
			} else {
				fmt.Fprintln(w, formatLogLine(line.Text))
			}
		}
	}
}
