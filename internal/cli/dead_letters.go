package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/vietddude/downlink/internal/core/config"
	redisclient "github.com/vietddude/downlink/internal/infra/redis"
)

var deadLettersCmd = &cobra.Command{
	Use:   "dead-letters",
	Short: "List permanently failed queue messages",
	Run:   runDeadLetters,
}

var requeueCmd = &cobra.Command{
	Use:   "requeue [dead-letter-id]",
	Short: "Move a dead-lettered message back onto the queue",
	Args:  cobra.ExactArgs(1),
	Run:   runRequeue,
}

func init() {
	rootCmd.AddCommand(deadLettersCmd)
	rootCmd.AddCommand(requeueCmd)
}

func openQueue(ctx context.Context) (*redisclient.Client, *redisclient.StreamQueue) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	client, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}

	queue, err := redisclient.NewStreamQueue(ctx, client, redisclient.StreamConfig{
		Stream:   cfg.Queue.Stream,
		Group:    cfg.Queue.Group,
		Consumer: "admin",
		MinIdle:  cfg.Queue.MinIdle.Std(),
	})
	if err != nil {
		slog.Error("Failed to open queue", "error", err)
		os.Exit(1)
	}
	return client, queue
}

func runDeadLetters(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	client, queue := openQueue(ctx)
	defer func() {
		_ = client.Close()
	}()

	entries, err := queue.DeadEntries(ctx, 100)
	if err != nil {
		slog.Error("Failed to list dead letters", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tORIGIN\tDELIVERIES\tREASON")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, e.OriginID, e.Deliveries, e.Reason)
	}
	_ = w.Flush()
}

func runRequeue(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	client, queue := openQueue(ctx)
	defer func() {
		_ = client.Close()
	}()

	if err := queue.Requeue(ctx, args[0]); err != nil {
		slog.Error("Failed to requeue", "id", args[0], "error", err)
		os.Exit(1)
	}
	fmt.Printf("Requeued %s\n", args[0])
}
