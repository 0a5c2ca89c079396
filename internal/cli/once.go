package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/lens/internal/control"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single recognition batch and exit",
	Run:   runOnce,
}

func init() {
	rootCmd.AddCommand(onceCmd)
}

func runOnce(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	app, err := control.NewProcessor(cfg)
	if err != nil {
		slog.Error("Failed to initialize processor", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = app.Stop(context.Background())
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result, err := app.RunOnce(ctx)
	if err != nil {
		slog.Error("Batch failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Run %s: %d queried, %d already processed, %d newly processed, %d failed (%.0f%% success) in %s\n",
		result.RunID, result.TotalQueried, result.AlreadyProcessed,
		result.NewlyProcessed, result.Failed, result.SuccessRate()*100, result.Elapsed)

	if len(result.Outcomes) == 0 {
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "RECORD\tSTATUS\tELAPSED\tERROR")
	for _, o := range result.Outcomes {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", o.RecordID, o.Status, o.Elapsed, o.ErrorMsg)
	}
	_ = w.Flush()
}
