package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	localstore "go-localstore"

	"github.com/eiannone/keyboard"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

var (
	dbPath          string
	synchronizeTabs bool
	leaseTTL        time.Duration
	userID          string
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "localpersist",
		Short: "A local persistence engine client",
		Long: `Localpersist is a demonstration of the go-localstore library.
It opens a shared local database, contends for ownership with other running
instances, and lets you enqueue mutation batches and listen targets. Run it
in several terminals against the same --db path to watch the lease protocol.`,
		RunE: runClient,
	}

	rootCmd.Flags().StringVar(&dbPath, "db", "localpersist.db", "Path to the shared database file")
	rootCmd.Flags().BoolVar(&synchronizeTabs, "synchronize-tabs", false, "Request shared access instead of exclusive")
	rootCmd.Flags().DurationVar(&leaseTTL, "lease-ttl", 5*time.Second, "Lease staleness threshold")
	rootCmd.Flags().StringVar(&userID, "user", "demo-user", "User id to tag mutation batches with")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	var (
		ctx    = context.Background()
		logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: time.TimeOnly,
		}))
	)

	fmt.Printf("Opening database at %s...\n", dbPath)
	db, err := localstore.OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	var session = localstore.New(db,
		localstore.WithLeaseTTL(leaseTTL),
		localstore.WithLogger(logger),
	)

	fmt.Printf("Starting persistence (synchronize-tabs=%v)...\n", synchronizeTabs)
	if err := session.Start(ctx, synchronizeTabs); err != nil {
		return fmt.Errorf("failed to start persistence: %w", err)
	}

	fmt.Printf("✓ Ownership granted!\n\n")
	printStatus(ctx, session)

	// Set up periodic status updates
	var ticker = time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	// Set up signal handling for graceful shutdown
	var sigCh = make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	// Initialize keyboard
	if err := keyboard.Open(); err != nil {
		return fmt.Errorf("failed to initialize keyboard: %w", err)
	}
	defer keyboard.Close()

	// Keyboard input channel
	var keyCh = make(chan rune)
	go func() {
		for {
			char, _, err := keyboard.GetKey()
			if err != nil {
				return
			}
			keyCh <- char
		}
	}()

	var nextTargetID uint64

	// Main loop
	for {
		select {
		case <-ticker.C:
			printStatus(ctx, session)
		case key := <-keyCh:
			switch key {
			case 'm', 'M':
				batchID, err := session.AddMutationBatch(ctx, &localstore.MutationBatch{
					UserID:         userID,
					LocalWriteTime: time.Now().UTC(),
					Mutations: []localstore.Mutation{
						{Key: "docs/demo", Value: []byte("payload")},
					},
				})
				if err != nil {
					fmt.Fprintf(os.Stderr, "❌ Failed to add batch: %v\n", err)
					break
				}
				fmt.Fprintf(os.Stderr, "\n✏️  Added mutation batch %d\n", batchID)
			case 't', 'T':
				nextTargetID++
				err := session.StoreTargetData(ctx, &localstore.TargetData{
					TargetID:        nextTargetID,
					SnapshotVersion: time.Now().UTC(),
				})
				if err != nil {
					fmt.Fprintf(os.Stderr, "❌ Failed to add target: %v\n", err)
					break
				}
				fmt.Fprintf(os.Stderr, "\n👂 Added target %d\n", nextTargetID)
			case 'c', 'C':
				fmt.Printf("\n\n💥 Crashing immediately (no cleanup)...\n")
				os.Exit(1)
			case 'q', 'Q':
				fmt.Printf("\n\nShutting down gracefully...\n")
				if err := session.Shutdown(ctx); err != nil {
					return fmt.Errorf("failed to shut down: %w", err)
				}
				fmt.Printf("✓ Lease released\n")
				return nil
			}
		case sig := <-sigCh:
			fmt.Printf("\n\n💥 Received signal %v, crashing immediately (no cleanup)...\n", sig)
			os.Exit(1)
		}
	}
}

func printStatus(ctx context.Context, session *localstore.Persistence) {
	fmt.Print("\033[2J\033[H") // Clear screen and move cursor to top

	var version, _ = session.SchemaVersion()
	fmt.Printf("Client: %s\n", session.ClientID())
	fmt.Printf("Schema version: %d\n", version)

	if highest, err := session.HighestBatchID(ctx); err == nil {
		fmt.Printf("Highest batch id: %d\n", highest)
	}
	if global, err := session.GetTargetGlobal(ctx); err == nil {
		fmt.Printf("Targets: %d (highest id %d)\n", global.TargetCount, global.HighestTargetID)
	}

	leases, err := session.Leases(ctx)
	if err == nil {
		fmt.Printf("\nClient leases:\n")
		for _, lease := range leases {
			var (
				marker = " "
				mode   = "exclusive"
			)
			if lease.ClientID == session.ClientID() {
				marker = "●"
			}
			if lease.Shared {
				mode = "shared"
			}
			fmt.Printf("  %s %-36s  %-9s  updated %s ago\n",
				marker, lease.ClientID, mode, time.Since(lease.UpdatedAt).Round(time.Millisecond))
		}
	}

	fmt.Printf("\nControls:\n")
	fmt.Printf("  [m] Add a mutation batch\n")
	fmt.Printf("  [t] Add a listen target\n")
	fmt.Printf("  [c] Crash without cleanup\n")
	fmt.Printf("  [q] Quit gracefully\n")
}
