// Package cli implements the casectl operator commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"casematch/internal/app"
	"casematch/internal/config"
	"casematch/internal/contextutil"
)

var rootCmd = &cobra.Command{
	Use:   "casectl",
	Short: "Operate the CaseMatch knowledge base",
	Long: `casectl loads historical case narratives, runs embedding batches,
rebuilds the vector index and issues recommendation queries against the
same database the API server uses.

Configuration is read from the environment and an optional .env file.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// runFunc is a command body that receives an initialized App.
type runFunc func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error

// withApp loads configuration, opens the App for the duration of fn and
// routes logs to the command's stderr.
func withApp(fn runFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logger := app.NewLogger(cfg, cmd.ErrOrStderr())

		a, err := app.New(cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			_ = a.Close()
		}()

		ctx := contextutil.WithLogger(cmd.Context(), logger.With("command", cmd.Name()))
		return fn(ctx, cmd, a, args)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
