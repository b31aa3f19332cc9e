package cli

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"casematch/internal/app"
	"casematch/internal/config"
	"casematch/internal/vectorstore"
)

var (
	recommendTopK int
	recommendJSON bool

	buildMetric   string
	buildAccuracy float64

	statsJSON bool
)

var recommendCmd = &cobra.Command{
	Use:   "recommend [query]",
	Short: "Recommend catalog items for a problem description",
	Long: `Embeds the query, finds the nearest historical cases and ranks their
catalog items by frequency and average similarity. The search is logged like
an API request.`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(runRecommend),
}

var buildIndexCmd = &cobra.Command{
	Use:   "build-index",
	Short: "Rebuild the vector index from stored embeddings",
	Long: `Rebuilds the approximate nearest-neighbor index over every stored vector,
choosing graph parameters for the requested recall. Only the cosine metric is
supported.

Only the qdrant backend keeps the index after the command exits. The hnsw index
lives inside the API server; rebuild it there with POST /api/v1/index/build.`,
	Args: cobra.NoArgs,
	RunE: withApp(runBuildIndex),
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show backlog and index statistics",
	Args:  cobra.NoArgs,
	RunE:  withApp(runStats),
}

func init() {
	recommendCmd.Flags().IntVarP(&recommendTopK, "top-k", "k", 0, "number of catalog items to return (default from RECOMMEND_DEFAULT_TOP_K)")
	recommendCmd.Flags().BoolVar(&recommendJSON, "json", false, "output the result envelope as JSON")
	buildIndexCmd.Flags().StringVar(&buildMetric, "metric", string(vectorstore.MetricCosine), "distance metric")
	buildIndexCmd.Flags().Float64Var(&buildAccuracy, "target-accuracy", 0, "target recall percentage in (0, 100] (default from INDEX_TARGET_ACCURACY)")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output statistics as JSON")

	rootCmd.AddCommand(recommendCmd)
	rootCmd.AddCommand(buildIndexCmd)
	rootCmd.AddCommand(statsCmd)
}

func runRecommend(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
	if err := a.Start(ctx, false); err != nil {
		return err
	}

	res, err := a.Engine.Recommend(ctx, args[0], recommendTopK)
	if err != nil {
		return fmt.Errorf("recommend failed: %w", err)
	}
	if recommendJSON {
		return printJSON(cmd, res)
	}

	if len(res.Recommendations) == 0 {
		cmd.Println("No recommendations found.")
		return nil
	}
	cmd.Printf("Search %s\n\n", res.SearchID)
	for _, r := range res.Recommendations {
		cmd.Printf("  [%d] %s (%.3f)\n", r.Rank, r.CatalogItemID, r.RelevanceScore)
		if r.CatalogPath != "" {
			cmd.Printf("      %s\n", r.CatalogPath)
		}
		cmd.Printf("      matches: %d  best: %.3f\n", r.Frequency, r.MaxScore)
	}
	return nil
}

func runBuildIndex(ctx context.Context, cmd *cobra.Command, a *app.App, _ []string) error {
	metric := vectorstore.Metric(buildMetric)
	if metric != vectorstore.MetricCosine {
		return fmt.Errorf("%w: %q", vectorstore.ErrUnsupportedMetric, buildMetric)
	}
	if a.Config.VectorBackend != config.BackendQdrant {
		return fmt.Errorf("the %s index is held in the API server process; rebuild it with POST /api/v1/index/build", a.Config.VectorBackend)
	}

	accuracy := buildAccuracy
	if accuracy == 0 {
		accuracy = a.Config.IndexTargetAccuracy
	}

	st, err := a.Store.BuildIndex(ctx, metric, accuracy)
	if err != nil {
		return err
	}
	cmd.Printf("Index built: backend=%s size=%d m=%d ef_construction=%d ef_search=%d\n",
		st.Backend, st.Size, st.Params.M, st.Params.EfConstruction, st.Params.EfSearch)
	return nil
}

func runStats(ctx context.Context, cmd *cobra.Command, a *app.App, _ []string) error {
	stats, err := a.Pipeline.Stats(ctx, a.Config.VectorSize)
	if err != nil {
		return err
	}
	calls, err := a.Calls.CountByOutcome(ctx)
	if err != nil {
		return err
	}

	if statsJSON {
		return printJSON(cmd, struct {
			Backlog        any            `json:"backlog"`
			EmbeddingCalls map[string]int `json:"embedding_calls"`
		}{stats, calls})
	}

	cmd.Printf("Pending:   %d (%d in flight)\n", stats.Pending, stats.InFlight)
	cmd.Printf("Done:      %d\n", stats.Done)
	cmd.Printf("Error:     %d\n", stats.Error)
	cmd.Printf("Vectors:   %d\n", stats.Vectors)
	cmd.Printf("Model:     %s (index version %s)\n", stats.EmbeddingModel, stats.IndexVersion)
	if stats.PinnedDimension > 0 {
		cmd.Printf("Dimension: %d\n", stats.PinnedDimension)
	}
	if stats.LastProcessedAt != nil {
		cmd.Printf("Last run:  %s\n", stats.LastProcessedAt.Format("2006-01-02 15:04:05"))
	}
	for _, outcome := range slices.Sorted(maps.Keys(calls)) {
		cmd.Printf("Calls %-10s %d\n", outcome+":", calls[outcome])
	}
	return nil
}
