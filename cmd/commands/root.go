package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"

	"github.com/arkilian/sessionfunnel/internal/config"
)

const CLIName = "funnelstats"

var rootCmd = &cobra.Command{
	Use:   CLIName,
	Short: "Daily session funnel statistics over an event log",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.HelpFunc()(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(NewIngestCommand())
	rootCmd.AddCommand(NewRunCommand())
	rootCmd.AddCommand(NewPlanCommand())
	rootCmd.AddCommand(NewJobsCommand())
	rootCmd.AddCommand(NewCompactCommand())
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// configOptions are the flags every command uses to locate its
// configuration.
type configOptions struct {
	file    string
	dataDir string
}

func (o *configOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.file, "config", "", "Path to configuration file (YAML or JSON)")
	cmd.Flags().StringVar(&o.dataDir, "data-dir", "", "Base directory for all data files, overrides the config file")
}

func (o *configOptions) load() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if o.file != "" {
		var err error
		if cfg, err = config.LoadFromFile(o.file); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	return cfg, nil
}

// dayOrYesterday parses a YYYY-MM-DD day; empty means yesterday in UTC.
func dayOrYesterday(s string) (civil.Date, error) {
	if s == "" {
		return civil.DateOf(time.Now().UTC()).AddDays(-1), nil
	}
	d, err := civil.ParseDate(s)
	if err != nil {
		return civil.Date{}, fmt.Errorf("invalid --day %q: %w", s, err)
	}
	return d, nil
}
