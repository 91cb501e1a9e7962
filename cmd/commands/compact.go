package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arkilian/sessionfunnel/internal/app"
	"github.com/arkilian/sessionfunnel/internal/logging"
)

func NewCompactCommand() *cobra.Command {
	var (
		opts     configOptions
		from, to string
		ttlDays  int
	)

	command := &cobra.Command{
		Use:   "compact",
		Short: "Merge the small partitions of a day range and delete replaced partitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLogger().Named("compact")
			ctx := logging.WithLogger(cmd.Context(), logger)

			start, err := dayOrYesterday(from)
			if err != nil {
				return err
			}
			end := start
			if to != "" {
				if end, err = dayOrYesterday(to); err != nil {
					return err
				}
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("ttl-days") {
				cfg.Compaction.TTLDays = ttlDays
			}

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Compact(ctx, start, end, time.Now())
			if err != nil {
				logger.Errorw("Compaction failed", zap.Error(err))
				if report == nil {
					return err
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "DAY\tSOURCES\tPARTITION\tROWS\n")
			for _, g := range report.Merged {
				fmt.Fprintf(w, "%s\t%d\t%s\t%d\n", g.Key.Date(), g.Sources, g.PartitionID, g.Rows)
			}
			if report.GC != nil {
				fmt.Fprintf(w, "deleted %d replaced partitions\n", len(report.GC.DeletedPartitions))
			}
			if ferr := w.Flush(); ferr != nil {
				return ferr
			}
			return err
		},
	}
	opts.addFlags(command)
	command.Flags().StringVar(&from, "from", "", "First day as YYYY-MM-DD, defaults to yesterday (UTC)")
	command.Flags().StringVar(&to, "to", "", "Last day as YYYY-MM-DD, defaults to --from")
	command.Flags().IntVar(&ttlDays, "ttl-days", 7, "Days replaced partitions are kept, overrides the config")
	return command
}
