package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdfshrink/pdfshrink/internal/pkg/env"
	"github.com/pdfshrink/pdfshrink/internal/pkg/s3backup"
	"github.com/pdfshrink/pdfshrink/internal/pkg/webhooklog"
)

func main() {
	env.SetupEnvFile()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "webhooklog",
		Short:         "Inspect and maintain the webhook event log",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("dir", env.GetEnv("WEBHOOK_LOG_DIR", "logs/webhooks"), "log directory")

	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(cleanupCmd())
	rootCmd.AddCommand(partitionsCmd())
	return rootCmd
}

func openStore(cmd *cobra.Command) (*webhooklog.Store, error) {
	dir, _ := cmd.Flags().GetString("dir")
	return webhooklog.NewStore(dir)
}

func showCmd() *cobra.Command {
	var date string
	var correlationID string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the records of one day as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := webhooklog.ParseDay(date)
			if err != nil {
				return err
			}
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			records, err := store.Query(day)
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), records, correlationID)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to show (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "only records of this call")
	return cmd
}

func printRecords(w io.Writer, records []webhooklog.Record, correlationID string) error {
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if correlationID != "" && rec.CorrelationID != correlationID {
			continue
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

func cleanupCmd() *cobra.Command {
	var retentionDays int
	var archive bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete partitions older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()

			var archiver webhooklog.Archiver
			if archive {
				cfg, err := s3backup.LoadArchiveConfig(true)
				if err != nil {
					return err
				}
				client, err := s3backup.NewClient(ctx, cfg)
				if err != nil {
					return err
				}
				archiver = client
			}

			removed, err := store.Cleanup(ctx, time.Now(), retentionDays, archiver)
			for _, p := range removed {
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s (%d bytes)\n", p.Path, p.Size)
			}
			if len(removed) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to remove")
			}
			return err
		},
	}
	cmd.Flags().IntVar(&retentionDays, "retention-days", env.GetInt("WEBHOOK_LOG_RETENTION_DAYS", webhooklog.DefaultRetentionDays), "days of logs to keep")
	cmd.Flags().BoolVar(&archive, "archive", env.GetBool("LOG_ARCHIVE_ENABLED", false), "upload partitions to S3 before deleting them")
	return cmd
}

func partitionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "partitions",
		Short: "List the day partitions on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			parts, err := store.Partitions()
			if err != nil {
				return err
			}
			for _, p := range parts {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", p.Day.Format("2006-01-02"), p.Size, p.Path)
			}
			return nil
		},
	}
}
