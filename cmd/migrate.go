package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/astra/internal/config"
	"github.com/nextlevelbuilder/astra/internal/store"
)

// openStore loads config and opens the state store, which applies any
// pending embedded migrations.
func openStore() (*store.Store, *config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	st, err := store.Open(cfg.StorePath())
	if err != nil {
		return nil, nil, err
	}
	return st, cfg, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "State store schema management",
	}
	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateDownCmd())
	cmd.AddCommand(migrateVersionCmd())
	return cmd
}

func migrateDownCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (default: 1 step)",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if steps <= 0 {
				steps = 1
			}
			if err := st.MigrateDown(steps); err != nil {
				return err
			}
			v, dirty, _ := st.MigrationVersion()
			slog.Info("rollback complete", "version", v, "dirty", dirty)
			return nil
		},
	}
	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "number of steps to roll back")
	return cmd
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			v, dirty, err := st.MigrationVersion()
			if err != nil {
				return fmt.Errorf("get version: %w", err)
			}
			slog.Info("migration complete", "version", v, "dirty", dirty)
			return nil
		},
	}
}

func migrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			v, dirty, err := st.MigrationVersion()
			if err != nil {
				return fmt.Errorf("get version: %w", err)
			}
			fmt.Printf("version: %d, dirty: %v\n", v, dirty)
			return nil
		},
	}
}

func maintainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "maintain",
		Short: "Run the retention purge and compaction now",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, cfg, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			policy := store.DefaultRetention()
			if cfg.Store.ConversationRetention > 0 {
				policy.Conversations = time.Duration(cfg.Store.ConversationRetention) * 24 * time.Hour
			}
			if cfg.Store.AppealRetention > 0 {
				policy.ResolvedRecords = time.Duration(cfg.Store.AppealRetention) * 24 * time.Hour
				policy.ImageGenerations = policy.ResolvedRecords
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := st.Maintain(ctx, time.Now(), policy); err != nil {
				return fmt.Errorf("maintain: %w", err)
			}
			slog.Info("maintenance complete")
			return nil
		},
	}
}
