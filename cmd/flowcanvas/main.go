// Command flowcanvas serves mounted marketing-flow canvases over HTTP and MCP
// and inspects scenario files offline.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "flowcanvas",
	Short: "flowcanvas: connection-aware canvas engine for marketing flows",
	Long: Brand.Sprint("flowcanvas") + ": connection-aware canvas engine for marketing flows\n" +
		Subtle.Sprint("Serve canvases to agents and dashboards, or lay out and check scenario files"),
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(
		serveCmd(),
		layoutCmd(),
		validateCmd(),
		queryCmd(),
		diagramCmd(),
		installCmd(),
		versionCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
