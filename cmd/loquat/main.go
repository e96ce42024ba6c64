// Spins up the loquat server: a concurrent ordered key-value index behind the Redis protocol.

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nobletooth/loquat/pkg/config"
	"github.com/nobletooth/loquat/pkg/port"
	"github.com/nobletooth/loquat/pkg/utils"
)

var (
	printVersion = flag.Bool("print_version", false, "Print the version and exit.")
	loadOnStart  = flag.Bool("load_on_start", false, "Load the snapshot file before serving.")
	snapshotInterval = flag.Duration("snapshot_interval", 0,
		"Period of background snapshots; 0 disables them.")
)

func main() {
	config.InitFlags()
	utils.InitLogging()

	if *printVersion {
		slog.Info("Loquat build info.", "version", utils.Version, "commit", utils.Commit, "build", utils.BuildTime)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	go func() { // Listen for OS interrupts in the background.
		sig := <-signals
		slog.Info("Received termination signal, cancelling server context.", "signal", sig)
		cancel()
	}()

	store, err := port.NewStore()
	if err != nil {
		slog.Error("Failed to create the loquat store.", "err", err)
		os.Exit(1)
	}
	if *loadOnStart {
		if inserted, skipped, err := store.Load(); err != nil {
			slog.Warn("Failed to load snapshot on start.", "error", err)
		} else {
			slog.Info("Loaded snapshot on start.", "inserted", inserted, "skipped", skipped)
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	if *snapshotInterval > 0 {
		group.Go(func() error { // Periodically snapshot the index in the background.
			ticker := time.NewTicker(*snapshotInterval)
			defer ticker.Stop()
			for {
				select {
				case <-groupCtx.Done():
					return nil
				case <-ticker.C:
					if _, _, err := store.Save(); err != nil {
						slog.Error("Background snapshot failed.", "error", err)
					}
				}
			}
		})
	}
	group.Go(func() error { return port.RunRedisServer(groupCtx, store) })

	if err := group.Wait(); err != nil {
		slog.Error("Loquat server stopped.", "err", err)
		os.Exit(1)
	}
}
