package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/agenda/internal/backup"
	"github.com/scrypster/agenda/internal/config"
)

func newBackupCmd(opts *rootOptions) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot, list and restore the SQLite database",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "backup directory (default <data_path>/backups)")

	// sqliteConfig loads the config and resolves the backup directory.
	sqliteConfig := func() (*config.Config, string, error) {
		cfg, err := opts.loadConfig()
		if err != nil {
			return nil, "", err
		}
		if cfg.Storage.Engine != "sqlite" {
			return nil, "", fmt.Errorf("backups are only supported for the sqlite engine, not %q", cfg.Storage.Engine)
		}
		d := dir
		if d == "" {
			d = cfg.BackupDir()
		}
		return cfg, d, nil
	}

	var keep int
	create := &cobra.Command{
		Use:   "create",
		Short: "Write a verified snapshot and prune old ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, d, err := sqliteConfig()
			if err != nil {
				return err
			}
			info, err := backup.Snapshot(cmd.Context(), cfg.DBPath(), d)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes)\n", info.Path, info.Size)

			removed, err := backup.Prune(d, keep)
			for _, p := range removed {
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %s\n", p)
			}
			return err
		},
	}
	create.Flags().IntVar(&keep, "keep", backup.DefaultKeep, "number of snapshots to keep")

	list := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, d, err := sqliteConfig()
			if err != nil {
				return err
			}
			snaps, err := backup.List(d)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIMESTAMP\tSIZE\tPATH")
			for _, s := range snaps {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", s.Timestamp.Format(time.RFC3339), s.Size, s.Path)
			}
			return tw.Flush()
		},
	}

	restore := &cobra.Command{
		Use:   "restore SNAPSHOT",
		Short: "Replace the database with a snapshot (stop the server first)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := sqliteConfig()
			if err != nil {
				return err
			}
			if err := backup.Restore(cmd.Context(), args[0], cfg.DBPath()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", cfg.DBPath())
			return nil
		},
	}

	cmd.AddCommand(create, list, restore)
	return cmd
}
