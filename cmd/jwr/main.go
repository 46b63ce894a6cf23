package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/colinzhu/jmeter-web-runner-sub000/cmd/jwr/commands"
	"github.com/colinzhu/jmeter-web-runner-sub000/logger"
)

var rootCmd = &cobra.Command{
	Use:   "jwr",
	Short: "jwr - web-based JMeter test execution runner",
	Long: `jwr - upload JMeter test plans, queue executions against a
concurrency ceiling, and collect HTML reports, all through a web API.

Available commands:
  serve   - Start the web server and execution orchestrator
  version - Show version information

Examples:
  jwr serve                # Start on the configured port (default 8080)
  jwr serve --port 9090    # Override the listen port
  jwr version              # Show build information`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Version output stays clean of log lines
		if cmd.Name() == "version" {
			return nil
		}
		jsonLogs, _ := cmd.Flags().GetBool("log-json")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit structured JSON logs instead of console output")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
