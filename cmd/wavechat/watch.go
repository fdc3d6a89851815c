package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	wavechat "github.com/wavechat-io/wavechat-go"
)

func init() {
	watchCmd.Flags().String("redis", "", "optional redis address for cache snapshots")
	watchCmd.Flags().Bool("verbose", false, "log engine internals")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect the sync engine and tail the realtime stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		redisAddr, _ := cmd.Flags().GetString("redis")
		verbose, _ := cmd.Flags().GetBool("verbose")

		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		var storeOpts []wavechat.StoreOption
		storeOpts = append(storeOpts, wavechat.WithStoreLogger(logger))
		if redisAddr != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			storage, err := wavechat.ConnectRedis(ctx, redisAddr, 24*time.Hour)
			cancel()
			if err != nil {
				return fmt.Errorf("connect redis: %w", err)
			}
			defer storage.Close()
			storeOpts = append(storeOpts, wavechat.WithSnapshotStorage(storage))
		}

		store := wavechat.NewStore(storeOpts...)
		engineOpts := []wavechat.EngineOption{wavechat.WithLogger(logger)}
		if cfg.Default.Channel != "" {
			engineOpts = append(engineOpts, wavechat.WithChannel(cfg.Default.Channel))
		}
		engine := wavechat.NewEngine(client, store, engineOpts...)

		unsubscribe := store.Subscribe(func(change wavechat.Change) {
			switch change.Kind {
			case "chats":
				fmt.Printf("-- chat list updated (%d chats, stale=%v)\n",
					len(store.Chats().Flatten()), store.ChatsStale())
			case "messages":
				fmt.Printf("-- messages updated for %s (%d cached)\n",
					change.ChatID, store.Messages(change.ChatID).Len())
			}
		})
		defer unsubscribe()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := engine.Start(ctx, cfg.Auth.Token)
		cancel()
		if err != nil {
			return fmt.Errorf("start engine: %w", err)
		}
		defer engine.Stop()

		fmt.Printf("Connected (status=%s). Press Ctrl-C to stop.\n", engine.Status())

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		for {
			select {
			case notice := <-engine.Notices():
				fmt.Printf("!! removed from chat %s (%s)\n", notice.ChatTitle, notice.ChatID)
			case <-sig:
				fmt.Println("\nStopping.")
				return nil
			}
		}
	},
}
