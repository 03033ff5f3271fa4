package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/evolutive/statusflow/audit"
	"github.com/evolutive/statusflow/engine"
	"github.com/evolutive/statusflow/internal/config"
	"github.com/evolutive/statusflow/internal/logger"
	"github.com/evolutive/statusflow/orders"
	"github.com/evolutive/statusflow/rules"

	_ "github.com/lib/pq"
)

var rootCmd = &cobra.Command{
	Use:   "statusflow",
	Short: "Statusflow automates order status transitions by declarative rules",
	Long: `Statusflow moves orders between lifecycle states according to rules:
"move orders from state A to state B once H hours have elapsed since they
entered A, provided an optional condition holds." Every decision is
recorded in an auditable log.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles the wired components a command needs
type app struct {
	cfg       *config.Config
	db        *sql.DB
	processor *engine.Processor
	cleaner   *audit.Cleaner
}

// newApp loads configuration, connects to the database, and wires the
// engine together
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger.SetLevelFromString(cfg.LogLevel, logger.LevelInfo)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	auditStore := audit.NewPostgresStore(db, cfg.AuditQueryMaxLimit)
	recorder := audit.NewRecorder(auditStore, cfg.AuditDBLogging)

	predicates, err := engine.NewPredicates()
	if err != nil {
		db.Close()
		return nil, err
	}

	orderStore := orders.NewPostgresStore(db)
	selector := engine.NewSelector(orderStore, predicates)
	applier := engine.NewApplier(orderStore, recorder)
	processor := engine.NewProcessor(rules.NewPostgresStore(db), selector, applier, recorder)
	cleaner := audit.NewCleaner(auditStore, cfg.RetentionDays())

	return &app{
		cfg:       cfg,
		db:        db,
		processor: processor,
		cleaner:   cleaner,
	}, nil
}

// Close releases the app's database connection
func (a *app) Close() {
	a.db.Close()
}
