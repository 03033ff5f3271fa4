package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// cleanLogsCmd purges audit events past the retention window
var cleanLogsCmd = &cobra.Command{
	Use:   "clean-logs",
	Short: "Clean up old audit log entries",
	Long: `Deletes audit log entries older than the retention window. The window
comes from configuration (AUDIT_RETENTION_DAYS, default 30) unless
overridden with --days.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.cfg.AuditDBLogging {
			fmt.Println("Database logging is currently disabled. No logs to clean up.")
			return nil
		}

		var override *int
		if cmd.Flags().Changed("days") {
			days, _ := cmd.Flags().GetInt("days")
			override = &days
			fmt.Printf("Using specified retention period: %d days\n", a.cleaner.EffectiveRetention(override))
		} else {
			fmt.Printf("Using configured retention period: %d days\n", a.cleaner.EffectiveRetention(nil))
		}

		deleted, err := a.cleaner.CleanOldLogs(cmd.Context(), override)
		if err != nil {
			return fmt.Errorf("error during log cleanup: %w", err)
		}

		if deleted > 0 {
			fmt.Printf("Successfully deleted %d old log entries\n", deleted)
		} else {
			fmt.Println("No logs needed to be deleted")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanLogsCmd)

	cleanLogsCmd.Flags().IntP("days", "d", 0, "Number of days to keep logs (overrides configuration)")
}
