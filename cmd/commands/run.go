package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arkilian/sessionfunnel/internal/app"
	"github.com/arkilian/sessionfunnel/internal/logging"
)

func NewRunCommand() *cobra.Command {
	var (
		opts           configOptions
		day            string
		jobs           []string
		mode           string
		completeWindow bool
		keepDownloads  bool
	)

	command := &cobra.Command{
		Use:   "run",
		Short: "Compute and write the daily statistics of a data day",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLogger().Named("run")
			ctx := logging.WithLogger(cmd.Context(), logger)

			d, err := dayOrYesterday(day)
			if err != nil {
				return err
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if mode != "" {
				cfg.Sink.Mode = mode
			}
			if cmd.Flags().Changed("require-complete-window") {
				cfg.Query.RequireCompleteWindow = completeWindow
			}
			if cmd.Flags().Changed("keep-downloads") {
				cfg.Query.KeepDownloads = keepDownloads
			}

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Run(ctx, d, jobs)
			if err != nil {
				logger.Errorw("Run failed", zap.String("day", d.String()), zap.Error(err))
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "JOB\tTABLE\tSESSIONS\tROWS\tRUN\n")
			for _, j := range report.Jobs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", j.Name, j.Table, j.Sessions, j.Rows, j.RunID)
			}
			return w.Flush()
		},
	}
	opts.addFlags(command)
	command.Flags().StringVar(&day, "day", "", "Data day as YYYY-MM-DD, defaults to yesterday (UTC)")
	command.Flags().StringSliceVar(&jobs, "jobs", nil, "Jobs to run, defaults to every enabled job") // --jobs=a,b --jobs=c
	command.Flags().StringVar(&mode, "mode", "", "Write mode: append or upsert, overrides the config")
	command.Flags().BoolVar(&completeWindow, "require-complete-window", false, "Fail when any day of the window has no partition")
	command.Flags().BoolVar(&keepDownloads, "keep-downloads", false, "Keep downloaded partitions after the run")
	return command
}
