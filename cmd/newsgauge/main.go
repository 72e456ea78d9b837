package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "newsgauge",
		Short: "Quantify how saturated a news topic already is on social media",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(quantifyCmd())
	root.AddCommand(resultsCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func quantifyCmd() *cobra.Command {
	var (
		dryRun bool
		limit  int
		itemID string
		output string
	)

	cmd := &cobra.Command{
		Use:   "quantify",
		Short: "Run the saturation pipeline over stored evaluations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuantify(dryRun, limit, itemID, output)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "extract topics without querying the search provider")
	cmd.Flags().IntVar(&limit, "limit", 0, "max items to process (default: from config)")
	cmd.Flags().StringVar(&itemID, "item-id", "", "process a single evaluation by id")
	cmd.Flags().StringVar(&output, "output", "", "write the run report as JSON to this file")
	return cmd
}

func resultsCmd() *cobra.Command {
	var (
		jsonOutput bool
		runID      string
		diffOnly   bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "results",
		Short: "Show stored measurement results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResults(jsonOutput, runID, diffOnly, limit)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().StringVar(&runID, "run-id", "", "filter by run id")
	cmd.Flags().BoolVar(&diffOnly, "diff", false, "only show results disagreeing with the prior level")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results to show")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
