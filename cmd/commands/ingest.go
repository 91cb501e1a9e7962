package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arkilian/sessionfunnel/internal/app"
	"github.com/arkilian/sessionfunnel/internal/logging"
	"github.com/arkilian/sessionfunnel/pkg/types"
)

func NewIngestCommand() *cobra.Command {
	var (
		opts      configOptions
		file      string
		batchSize int
	)

	command := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest JSON lines events into day partitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLogger().Named("ingest")
			ctx := logging.WithLogger(cmd.Context(), logger)

			cfg, err := opts.load()
			if err != nil {
				return err
			}
			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			in := cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("failed to open events file: %w", err)
				}
				defer f.Close()
				in = f
			}

			events, partitions, err := ingestLines(ctx, a, in, batchSize)
			if err != nil {
				logger.Errorw("Ingest failed", zap.Int("events", events), zap.Error(err))
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %d events into %d partitions\n", events, partitions)
			return nil
		},
	}
	opts.addFlags(command)
	command.Flags().StringVarP(&file, "file", "f", "-", "JSON lines file of events, - reads stdin")
	command.Flags().IntVar(&batchSize, "batch-size", 10000, "Events per ingest batch")
	return command
}

// ingestLines decodes one event per line and ingests them in batches.
func ingestLines(ctx context.Context, a *app.App, r io.Reader, batchSize int) (int, int, error) {
	if batchSize < 1 {
		batchSize = 1
	}
	var (
		batch      []types.Event
		events     int
		partitions int
		line       int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		res, err := a.Ingest(ctx, batch)
		if err != nil {
			return err
		}
		events += res.Events
		partitions += len(res.Partitions)
		batch = batch[:0]
		return nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e types.Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return events, partitions, fmt.Errorf("line %d: %w", line, err)
		}
		batch = append(batch, e)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return events, partitions, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return events, partitions, err
	}
	return events, partitions, flush()
}
