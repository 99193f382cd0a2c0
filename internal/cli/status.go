package cli

import (
	"fmt"
	"os"

	"github.com/careerpilot/careerpilot/internal/config"
	"github.com/careerpilot/careerpilot/internal/provider"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ CareerPilot Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("📊 CareerPilot Status")
		fmt.Printf("Version: %s\n", version)

		// Check config
		configPath, err := config.ConfigPath()
		if err == nil {
			if _, err := os.Stat(configPath); err == nil {
				fmt.Println("Config:  ✓ Found (" + configPath + ")")
			} else {
				fmt.Println("Config:  ✗ Not found (defaults + environment will be used)")
			}
		}

		// Check API key presence
		var cfg *config.Config
		if c, err := config.Load(); err == nil {
			cfg = c
			if cfg.Provider.APIKey != "" || provider.APIKey() != "" {
				fmt.Println("API Key: ✓ Found")
			} else {
				fmt.Println("API Key: ✗ Not found")
			}
		} else {
			fmt.Println("API Key: ? Unable to load config")
		}

		// Check database presence
		if cfg != nil {
			if dbPath, err := cfg.DBPath(); err == nil {
				if _, err := os.Stat(dbPath); err == nil {
					fmt.Println("Database: ✓ Found (" + dbPath + ")")
				} else {
					fmt.Println("Database: ✗ Not found (created on first 'careerpilot serve')")
				}
			}
			if cfg.Scheduler.Enabled {
				fmt.Println("Scheduler: ✓ Enabled")
			} else {
				fmt.Println("Scheduler: ✗ Disabled")
			}
		}

		fmt.Println("Status:  Ready")
	},
}
