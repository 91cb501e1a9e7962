package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/arkilian/sessionfunnel/internal/app"
	"github.com/arkilian/sessionfunnel/internal/logging"
)

func NewPlanCommand() *cobra.Command {
	var (
		opts configOptions
		day  string
		jobs []string
	)

	command := &cobra.Command{
		Use:   "plan",
		Short: "Show the partitions a run would read",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logging.WithLogger(cmd.Context(), logging.NewLogger().Named("plan"))

			d, err := dayOrYesterday(day)
			if err != nil {
				return err
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			plan, selected, err := a.Plan(ctx, d, jobs)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			names := make([]string, len(selected))
			for i, j := range selected {
				names[i] = j.Name
			}
			fmt.Fprintf(out, "day:       %s\n", plan.Window.DataDay)
			fmt.Fprintf(out, "window:    %s .. %s (cutoff %s)\n", plan.Window.Start, plan.Window.End, plan.Window.Cutoff.Format(time.RFC3339))
			fmt.Fprintf(out, "predicate: %s\n", plan.Predicate)
			fmt.Fprintf(out, "jobs:      %s\n", strings.Join(names, ","))
			fmt.Fprintf(out, "actions:   %s\n", strings.Join(plan.Actions, ","))
			fmt.Fprintf(out, "selected:  %d of %d (%d pruned)\n", plan.Stats.Selected, plan.Stats.Candidates, plan.Stats.Pruned)

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "PARTITION\tDAY\tROWS\tOBJECT\n")
			for _, p := range plan.Partitions {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", p.PartitionID, p.Key, p.RowCount, p.ObjectPath)
			}
			return w.Flush()
		},
	}
	opts.addFlags(command)
	command.Flags().StringVar(&day, "day", "", "Data day as YYYY-MM-DD, defaults to yesterday (UTC)")
	command.Flags().StringSliceVar(&jobs, "jobs", nil, "Jobs to plan for, defaults to every enabled job")
	return command
}
