package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/lens/internal/infra/redisq"
)

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "List records waiting in the failed-record retry queue",
	Run:   runFailures,
}

var resolveFailureCmd = &cobra.Command{
	Use:   "resolve-failure [record_id]",
	Short: "Remove a record from the failed-record retry queue",
	Args:  cobra.ExactArgs(1),
	Run:   runResolveFailure,
}

func init() {
	rootCmd.AddCommand(failuresCmd)
	rootCmd.AddCommand(resolveFailureCmd)
}

func failedQueue() *redisq.FailedRecordQueue {
	cfg := loadConfig()
	if cfg.Redis.URL == "" {
		slog.Error("No redis configured, failed-record queue is unavailable")
		os.Exit(1)
	}

	client, err := redisq.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}
	return redisq.NewFailedRecordQueue(client)
}

func runFailures(cmd *cobra.Command, args []string) {
	queue := failedQueue()

	records, err := queue.All(context.Background())
	if err != nil {
		slog.Error("Failed to read queue", "error", err)
		os.Exit(1)
	}
	if len(records) == 0 {
		fmt.Println("No failed records.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "RECORD\tKIND\tRETRIES\tLAST ATTEMPT\tMESSAGE")
	for _, r := range records {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			r.RecordID, r.Kind, r.RetryCount, r.LastAttempt.Format(time.RFC3339), r.Message)
	}
	_ = w.Flush()
}

func runResolveFailure(cmd *cobra.Command, args []string) {
	queue := failedQueue()

	if err := queue.Resolve(context.Background(), args[0]); err != nil {
		slog.Error("Failed to resolve record", "error", err, "record_id", args[0])
		os.Exit(1)
	}
	fmt.Printf("Removed %s from the failed-record queue\n", args[0])
}
