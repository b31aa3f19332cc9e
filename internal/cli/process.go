package cli

import (
	"context"

	"github.com/spf13/cobra"

	"casematch/internal/app"
)

var (
	processBatchSize int
	processWorkers   int
	processDrain     bool
	processJSON      bool
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Embed pending case narratives",
	Long: `Claims up to --batch-size pending narratives, embeds them and stores the
vectors. With --drain, runs --workers concurrent batch loops until the backlog
is empty.`,
	Args: cobra.NoArgs,
	RunE: withApp(runProcess),
}

var resetCmd = &cobra.Command{
	Use:   "reset-errors [case_id...]",
	Short: "Return failed narratives to pending",
	Long:  `Moves the given error records back to pending. Without arguments every error record is reset.`,
	RunE:  withApp(runReset),
}

func init() {
	processCmd.Flags().IntVarP(&processBatchSize, "batch-size", "b", 0, "records per batch (default from BATCH_SIZE)")
	processCmd.Flags().IntVarP(&processWorkers, "workers", "w", 0, "concurrent batch loops with --drain (default from BATCH_WORKERS)")
	processCmd.Flags().BoolVar(&processDrain, "drain", false, "keep processing until nothing is pending")
	processCmd.Flags().BoolVar(&processJSON, "json", false, "output counts as JSON")
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(resetCmd)
}

func runProcess(ctx context.Context, cmd *cobra.Command, a *app.App, _ []string) error {
	size := processBatchSize
	if size == 0 {
		size = a.Config.BatchSize
	}

	if processDrain {
		workers := processWorkers
		if workers == 0 {
			workers = a.Config.BatchWorkers
		}
		res, err := a.Pipeline.Drain(ctx, workers, size)
		if processJSON {
			if perr := printJSON(cmd, res); perr != nil {
				return perr
			}
		} else {
			cmd.Printf("Batches: %d  Processed: %d  Errored: %d  Released: %d  Remaining: %d\n",
				res.Batches, res.Processed, res.Errored, res.Released, res.Remaining)
		}
		return err
	}

	res, err := a.Pipeline.ProcessBatch(ctx, size)
	if processJSON {
		if perr := printJSON(cmd, res); perr != nil {
			return perr
		}
	} else {
		cmd.Printf("Claimed: %d  Processed: %d  Errored: %d  Released: %d  Remaining: %d\n",
			res.Claimed, res.Processed, res.Errored, res.Released, res.Remaining)
	}
	return err
}

func runReset(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
	n, err := a.Pipeline.ResetErrors(ctx, args)
	if err != nil {
		return err
	}
	cmd.Printf("Reset %d error records to pending\n", n)
	return nil
}
