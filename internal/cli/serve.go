package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/careerpilot/careerpilot/internal/agents"
	"github.com/careerpilot/careerpilot/internal/analysis"
	"github.com/careerpilot/careerpilot/internal/config"
	"github.com/careerpilot/careerpilot/internal/directive"
	"github.com/careerpilot/careerpilot/internal/event"
	"github.com/careerpilot/careerpilot/internal/gateway"
	"github.com/careerpilot/careerpilot/internal/provider"
	"github.com/careerpilot/careerpilot/internal/realtime"
	"github.com/careerpilot/careerpilot/internal/scheduler"
	"github.com/careerpilot/careerpilot/internal/store"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway, agents and scheduler",
	Run:   runServe,
}

var serveSignalNotify = signal.Notify
var serveSignalStop = signal.Stop

func runServe(cmd *cobra.Command, args []string) {
	printHeader("🌐 CareerPilot Gateway")
	fmt.Println("Starting CareerPilot...")

	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}

	// 2. Open the ledger
	dbPath, err := cfg.DBPath()
	if err != nil {
		fmt.Printf("Database path error: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		fmt.Printf("Failed to create data dir: %v\n", err)
		os.Exit(1)
	}
	st, err := store.New(dbPath)
	if err != nil {
		fmt.Printf("Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	// 3. Core services
	hub := realtime.NewHub(cfg.Realtime.SendBuffer, cfg.Realtime.HeartbeatInterval)
	bus := event.NewBus(st, event.Options{
		MaxAttempts: cfg.Events.MaxAttempts,
		HardTimeout: cfg.Events.HardTimeout,
	})
	dirs := directive.NewService(st,
		directive.WithPublisher(bus),
		directive.WithBroadcaster(hub),
	)

	llm := provider.Resolve(cfg)
	loop := analysis.NewLoop(llm, analysis.Config{
		MaxIterations:       cfg.Analysis.MaxIterations,
		ConfidenceThreshold: cfg.Analysis.ConfidenceThreshold,
		Timeout:             cfg.Analysis.Timeout,
		EnableLearning:      cfg.Analysis.EnableLearning,
	})

	// 4. Agents
	agents.NewEvaluator(st, loop, hub, cfg.Analysis.EnableLearning).Register(bus)
	agents.NewStrategist(st, dirs, agents.StrategistConfig{
		RejectionBurst:  cfg.Strategy.RejectionBurst,
		RejectionWindow: cfg.Strategy.RejectionWindow,
	}).Register(bus)
	agents.NewNotifier(hub).Register(bus)

	action := agents.NewActionAgent(st, dirs, bus, nil, hub)
	action.Register(bus)

	sentinel := agents.NewSentinel(st, bus, hub)
	sentinel.Register(bus)

	// 5. Start everything
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	serveSignalNotify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer serveSignalStop(sigChan)

	go hub.RunHeartbeat(ctx)

	retry := event.NewRetryWorker(st, bus, cfg.Events.RetryInterval)
	go retry.Run(ctx)

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(cfg.Scheduler, st)
		sched.Register(&scheduler.Job{
			Name:     "ghosting-sweep",
			Every:    cfg.Scheduler.SweepInterval,
			Category: scheduler.CategoryDefault,
			Fn: func(ctx context.Context) error {
				n, err := sentinel.Sweep(ctx)
				if n > 0 {
					slog.Info("Ghosting sweep flagged applications", "count", n)
				}
				return err
			},
		})
		go sched.Run(ctx)
	}

	srv := gateway.NewServer(cfg.Server, st, bus, dirs, action, hub)
	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.ListenAndServe(ctx) }()
	fmt.Printf("Gateway listening on http://%s\n", srv.Addr())
	fmt.Println("Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		fmt.Println("\nShutting down...")
	case err := <-serverErr:
		if err != nil {
			fmt.Printf("Gateway error: %v\n", err)
		}
	}

	cancel()
	bus.Wait()
	hub.Shutdown()
	fmt.Println("Goodbye.")
}
