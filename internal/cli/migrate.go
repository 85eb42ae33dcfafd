package cli

import (
	"context"
	"fmt"

	"classroom-qa/internal/config"
	pgmigrations "classroom-qa/internal/infra/postgres/migrations"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewMigrateCmd applies or rolls back the relational schema.
func NewMigrateCmd(configPath *string) *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()
			if down {
				return rollbackMigrations(cmd.Context(), cfg, logger)
			}
			return runMigrationsWithConfig(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back the last migration group")
	return cmd
}

func runMigrationsWithConfig(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.Remote.URL == "" {
		return fmt.Errorf("remote url not configured")
	}
	db := pgmigrations.Open(cfg.Remote.URL, cfg.Remote.Key)
	defer db.Close()

	group, err := pgmigrations.Up(ctx, db)
	if err != nil {
		return err
	}
	if group.IsZero() {
		logger.Info("schema up to date")
		return nil
	}
	logger.Info("migrations applied", zap.String("group", group.String()))
	return nil
}

func rollbackMigrations(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.Remote.URL == "" {
		return fmt.Errorf("remote url not configured")
	}
	db := pgmigrations.Open(cfg.Remote.URL, cfg.Remote.Key)
	defer db.Close()

	group, err := pgmigrations.Down(ctx, db)
	if err != nil {
		return err
	}
	logger.Info("migrations rolled back", zap.String("group", group.String()))
	return nil
}
