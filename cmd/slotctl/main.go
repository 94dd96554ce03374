// Command slotctl runs opportunity scans by hand or queues them for the
// server's consumer.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lalithlochan/slotwise/internal/app"
	"github.com/lalithlochan/slotwise/internal/config"
	"github.com/lalithlochan/slotwise/internal/observ"
	"github.com/lalithlochan/slotwise/internal/sqs"
	"github.com/lalithlochan/slotwise/internal/worker"
)

func main() {
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:           "slotwise",
		Short:         "Slotwise operations CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(scanCmd(), enqueueCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// target is the --business/--all selection shared by both commands.
type target struct {
	businesses []string
	all        bool
}

func (t *target) bind(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&t.businesses, "business", nil, "business ID (repeatable or comma separated)")
	cmd.Flags().BoolVar(&t.all, "all", false, "every business")
	cmd.MarkFlagsMutuallyExclusive("business", "all")
	cmd.MarkFlagsOneRequired("business", "all")
}

type idLister interface {
	ListBusinessIDs(ctx context.Context) ([]uuid.UUID, error)
}

func (t *target) resolve(ctx context.Context, repo idLister) ([]uuid.UUID, error) {
	if t.all {
		return repo.ListBusinessIDs(ctx)
	}
	ids := make([]uuid.UUID, 0, len(t.businesses))
	for _, s := range t.businesses {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid business id %q", s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func setup(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, "slotctl")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return app.New(ctx, cfg, logger)
}

func scanCmd() *cobra.Command {
	var t target

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run the opportunity scan now and print a report per business",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			ids, err := t.resolve(ctx, a.Repo)
			if err != nil {
				return err
			}
			return scanAll(ctx, a.Pipeline, ids, cmd.OutOrStdout(), a.Logger)
		},
	}
	t.bind(cmd)
	return cmd
}

// scanAll prints one JSON report per line and fails if any scan failed.
func scanAll(ctx context.Context, scanner worker.Scanner, ids []uuid.UUID, out io.Writer, logger *zap.Logger) error {
	enc := json.NewEncoder(out)
	failed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		report, err := scanner.ScanBusiness(ctx, id)
		if err != nil {
			failed++
			logger.Error("scan failed", zap.String("business_id", id.String()), zap.Error(err))
			continue
		}
		if err := enc.Encode(report); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scans failed", failed, len(ids))
	}
	return nil
}

type batchEnqueuer interface {
	EnqueueBatch(ctx context.Context, reqs []sqs.ScanRequest) (int, error)
}

func enqueueCmd() *cobra.Command {
	var t target

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue scan requests for the server's SQS consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.Producer == nil {
				return fmt.Errorf("SQS_QUEUE_URL is not set")
			}
			ids, err := t.resolve(ctx, a.Repo)
			if err != nil {
				return err
			}
			sent, err := enqueue(ctx, a.Producer, ids, time.Now())
			fmt.Fprintf(cmd.OutOrStdout(), "queued %d of %d scan requests\n", sent, len(ids))
			return err
		},
	}
	t.bind(cmd)
	return cmd
}

func enqueue(ctx context.Context, q batchEnqueuer, ids []uuid.UUID, now time.Time) (int, error) {
	reqs := make([]sqs.ScanRequest, len(ids))
	for i, id := range ids {
		reqs[i] = sqs.ScanRequest{
			BusinessID:  id.String(),
			Reason:      sqs.ReasonCLI,
			RequestedAt: now.Unix(),
		}
	}
	return q.EnqueueBatch(ctx, reqs)
}
