package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"brokercrm/internal/app"
	"brokercrm/internal/config"
	"brokercrm/internal/database"
	"brokercrm/internal/logging"
	"brokercrm/internal/seed"
)

var (
	configPath string
	downSteps  int
	seedOpts   seed.Options
)

var rootCmd = &cobra.Command{
	Use:           "brokercrm",
	Short:         "Lead state service of the brokerage CRM",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := load()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return app.Run(ctx, cfg, logger)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadSQL()
		if err != nil {
			return err
		}
		if err := database.MigrateUp(cmd.Context(), cfg.Database); err != nil {
			return err
		}
		logger.Info("migrations applied")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadSQL()
		if err != nil {
			return err
		}
		if err := database.MigrateDown(cmd.Context(), cfg.Database, downSteps); err != nil {
			return err
		}
		logger.Info("migrations rolled back", "steps", downSteps)
		return nil
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadSQL()
		if err != nil {
			return err
		}
		v, dirty, err := database.MigrationVersion(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty=%t)\n", v, dirty)
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the admin user and a desk with the default workflow",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := load()
		if err != nil {
			return err
		}
		if seedOpts.AdminPassword == "" {
			seedOpts.AdminPassword = os.Getenv("BROKERCRM_ADMIN_PASSWORD")
		}
		a, err := app.New(cmd.Context(), cfg, logger, prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := seed.Run(cmd.Context(), a.Store, a.Users, a.Workflow, seedOpts, logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "admin #%d (created=%t), desk #%d (created=%t), states created: %d\n",
			res.AdminID, res.AdminCreated, res.DeskID, res.DeskCreated, res.StatesCreated)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file (default "+config.DefaultPath+")")

	migrateDownCmd.Flags().IntVar(&downSteps, "steps", 1, "number of migrations to roll back")

	seedCmd.Flags().StringVar(&seedOpts.AdminEmail, "admin-email", "admin@example.com", "admin user email")
	seedCmd.Flags().StringVar(&seedOpts.AdminName, "admin-name", "Administrator", "admin user name")
	seedCmd.Flags().StringVar(&seedOpts.AdminPassword, "admin-password", "", "admin password (default $BROKERCRM_ADMIN_PASSWORD)")
	seedCmd.Flags().StringVar(&seedOpts.DeskName, "desk", "D1", "desk to create and configure")

	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd)
}

func load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func loadSQL() (*config.Config, *slog.Logger, error) {
	cfg, logger, err := load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.Driver == "memory" {
		return nil, nil, fmt.Errorf("migrations need a SQL database, driver is %q", cfg.Database.Driver)
	}
	return cfg, logger, nil
}
