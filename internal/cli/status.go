package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/lens/internal/infra/storage/postgres"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent batch runs from the history store",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "number of runs to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Database.URL == "" {
		slog.Error("No database configured, run history is unavailable")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	rows, err := db.QueryContext(ctx,
		`SELECT run_id, total_queried, newly_processed, failed, started_at, elapsed_ms
		 FROM batch_runs ORDER BY started_at DESC LIMIT $1`, statusLimit)
	if err != nil {
		slog.Error("Failed to query batch runs", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = rows.Close()
	}()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "RUN\tQUERIED\tPROCESSED\tFAILED\tSTARTED\tELAPSED")

	for rows.Next() {
		var runID string
		var queried, processed, failed int
		var startedAt time.Time
		var elapsedMS int64
		if err := rows.Scan(&runID, &queried, &processed, &failed, &startedAt, &elapsedMS); err != nil {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\n",
			runID, queried, processed, failed,
			startedAt.Format(time.RFC3339), time.Duration(elapsedMS)*time.Millisecond)
	}
	_ = w.Flush()
}
