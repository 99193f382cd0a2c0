package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/careerpilot/careerpilot/internal/cli.version=1.2.3"
	version = "1.4.0"
	logo    = "\n" +
		"   ____                         ____  _ _       _\n" +
		"  / ___|__ _ _ __ ___  ___ _ __|  _ \\(_) | ___ | |_\n" +
		" | |   / _` | '__/ _ \\/ _ \\ '__| |_) | | |/ _ \\| __|\n" +
		" | |__| (_| | | |  __/  __/ |  |  __/| | | (_) | |_\n" +
		"  \\____\\__,_|_|  \\___|\\___|_|  |_|   |_|_|\\___/ \\__|\n"
)

var rootCmd = &cobra.Command{
	Use:   "careerpilot",
	Short: "CareerPilot - Autonomous Career Agents",
	Long:  color.CyanString(logo) + "\nAn event-driven orchestration substrate for autonomous career agents.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
}
