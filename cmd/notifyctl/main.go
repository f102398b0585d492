// Command notifyctl runs one-off maintenance against the notification store:
// migrations, manual sweeps, stats and test sends.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"instacares-notify/internal/bootstrap"
	"instacares-notify/internal/config"
	"instacares-notify/internal/domain/notification"
	"instacares-notify/internal/infra/queue"
	"instacares-notify/internal/infra/store"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	rootCmd := &cobra.Command{
		Use:          "notifyctl",
		Short:        "InstaCares notification pipeline maintenance",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(reapCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(sendTestCmd())
	rootCmd.AddCommand(versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the SQLite schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store.Driver != "sqlite" {
				return fmt.Errorf("migrate only applies to the sqlite store, got %q", cfg.Store.Driver)
			}

			s, err := store.NewSQLiteStore(cfg.Store.SQLitePath)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Migrations applied to %s\n", cfg.Store.SQLitePath)
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Send every due retry once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			enqueue, _ := cmd.Flags().GetBool("enqueue")
			if enqueue {
				client := queue.NewClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
				defer client.Close()

				info, err := client.EnqueueContext(cmd.Context(), notification.NewRetrySweepTask(),
					queue.MaintenanceOptions()...)
				if err != nil {
					return fmt.Errorf("enqueueing sweep: %w", err)
				}
				fmt.Printf("Sweep enqueued: %s\n", info.ID)
				return nil
			}

			pipeline, err := bootstrap.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pipeline.Close()

			n, err := pipeline.Sweeper.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Attempted %d due retries\n", n)
			return nil
		},
	}
	cmd.Flags().Bool("enqueue", false, "hand the sweep to the worker through the task queue")
	return cmd
}

func reapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Recover attempts left PENDING past the stale threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pipeline, err := bootstrap.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pipeline.Close()

			n, err := pipeline.Reaper.Reap(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Recovered %d stale attempts\n", n)
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show delivery statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			window, _ := cmd.Flags().GetDuration("window")

			eventStore, closeStore, err := bootstrap.OpenStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			stats, err := notification.NewService(eventStore).Stats(cmd.Context(), window)
			if err != nil {
				return err
			}

			fmt.Printf("Since:        %s\n", stats.Since.Format(time.RFC3339))
			fmt.Printf("Total:        %d\n", stats.Total)
			fmt.Printf("Escalated:    %d\n", stats.Escalated)
			fmt.Printf("Success rate: %.1f%%\n", stats.SuccessRate())
			for _, ch := range []notification.Channel{notification.ChannelEmail, notification.ChannelSMS} {
				fmt.Printf("\n%s\n", ch)
				for _, st := range notification.AllStatuses() {
					fmt.Printf("  %-10s %d\n", st, stats.ByChannel[ch][st])
				}
			}
			return nil
		},
	}
	cmd.Flags().Duration("window", 24*time.Hour, "how far back to count")
	return cmd
}

func sendTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send-test",
		Short: "Send a test notification through the full pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			emailAddr, _ := cmd.Flags().GetString("email")
			phone, _ := cmd.Flags().GetString("phone")
			if emailAddr == "" && phone == "" {
				return fmt.Errorf("--email or --phone is required")
			}
			content, _ := cmd.Flags().GetString("content")

			req := &notification.SendRequest{
				Type:       notification.TypeCaregiverMessage,
				TemplateID: "notifyctl.test",
				Subject:    "InstaCares test notification",
				Content:    content,
				Priority:   notification.PriorityNormal,
				Email:      emailAddr,
				Phone:      phone,
			}
			if emailAddr != "" {
				req.Channels = append(req.Channels, notification.ChannelEmail)
			}
			if phone != "" {
				req.Channels = append(req.Channels, notification.ChannelSMS)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pipeline, err := bootstrap.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pipeline.Close()

			res, err := pipeline.Dispatcher.Send(cmd.Context(), req)
			if err != nil {
				return err
			}

			out, _ := json.MarshalIndent(res, "", "  ")
			fmt.Println(string(out))
			if !res.Success {
				return fmt.Errorf("test notification failed")
			}
			return nil
		},
	}
	cmd.Flags().String("email", "", "recipient email address")
	cmd.Flags().String("phone", "", "recipient phone number")
	cmd.Flags().String("content", "This is a test notification from InstaCares.", "message body")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("notifyctl v%s\n", version)
		},
	}
}
