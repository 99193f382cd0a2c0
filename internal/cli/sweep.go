package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/careerpilot/careerpilot/internal/agents"
	"github.com/careerpilot/careerpilot/internal/config"
	"github.com/careerpilot/careerpilot/internal/event"
	"github.com/careerpilot/careerpilot/internal/store"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a one-shot ghosting sweep over tracked applications",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🔎 CareerPilot Sweep")

		cfg, err := config.Load()
		if err != nil {
			fmt.Printf("Config error: %v\n", err)
			os.Exit(1)
		}
		dbPath, err := cfg.DBPath()
		if err != nil {
			fmt.Printf("Database path error: %v\n", err)
			os.Exit(1)
		}
		st, err := store.New(dbPath)
		if err != nil {
			fmt.Printf("Failed to open store: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		bus := event.NewBus(st, event.Options{
			MaxAttempts: cfg.Events.MaxAttempts,
			HardTimeout: cfg.Events.HardTimeout,
		})
		sentinel := agents.NewSentinel(st, bus, agents.NopBroadcaster)
		sentinel.Register(bus)

		n, err := sentinel.Sweep(context.Background())
		if err != nil {
			fmt.Printf("Sweep error: %v\n", err)
			os.Exit(1)
		}
		bus.Wait()
		fmt.Printf("Flagged applications: %d\n", n)
	},
}
