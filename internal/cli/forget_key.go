package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/vietddude/downlink/internal/core/config"
	redisclient "github.com/vietddude/downlink/internal/infra/redis"
	"github.com/vietddude/downlink/internal/resilience/idempotency"
)

var forgetKeyCmd = &cobra.Command{
	Use:   "forget-key [key]",
	Short: "Drop an idempotency record so the next request with that key executes again",
	Args:  cobra.ExactArgs(1),
	Run:   runForgetKey,
}

func init() {
	rootCmd.AddCommand(forgetKeyCmd)
}

func runForgetKey(cmd *cobra.Command, args []string) {
	key := args[0]

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
	defer func() {
		_ = client.Close()
	}()

	guard := idempotency.NewGuard(redisclient.NewIdempotencyStore(client))
	if err := guard.Forget(context.Background(), key); err != nil {
		slog.Error("Failed to forget key", "key", key, "error", err)
		os.Exit(1)
	}

	fmt.Printf("Forgot idempotency key %s\n", key)
}
