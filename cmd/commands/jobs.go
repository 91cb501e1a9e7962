package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/arkilian/sessionfunnel/internal/app"
)

func NewJobsCommand() *cobra.Command {
	var opts configOptions

	command := &cobra.Command{
		Use:   "jobs",
		Short: "List the analyses and their output tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			jobs, err := app.LoadJobs(cfg)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "JOB\tKIND\tTABLE\tDIMENSIONS\tMETRICS\n")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", j.Name, j.Aggregate.Kind, j.OutputTable().Name,
					strings.Join(j.Aggregate.DimensionNames(), ","),
					strings.Join(j.Aggregate.MetricNames(), ","))
			}
			return w.Flush()
		},
	}
	opts.addFlags(command)
	return command
}
