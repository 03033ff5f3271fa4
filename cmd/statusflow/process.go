package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evolutive/statusflow/engine"
)

// processCmd runs the rule evaluation and transition engine once
var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process status flow rules and apply transitions",
	Long: `Processes status flow rules and applies status transitions based on
configured rules.

Examples:
  statusflow process                 # Process all active auto-execute rules
  statusflow process --rule-id=5     # Process only rule with ID 5
  statusflow process --dry-run       # Report changes without applying them`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ruleID, _ := cmd.Flags().GetInt64("rule-id")
		objectType, _ := cmd.Flags().GetString("object-type")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		params := engine.Params{
			ObjectType: objectType,
			DryRun:     dryRun,
		}
		if cmd.Flags().Changed("rule-id") {
			params.RuleID = &ruleID
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		count, err := a.processor.ProcessRules(cmd.Context(), params)
		if err != nil {
			return err
		}

		msg := fmt.Sprintf("Successfully processed %d status transitions", count)
		if params.RuleID != nil {
			msg = fmt.Sprintf("Successfully processed rule #%d with %d status transitions", *params.RuleID, count)
		}
		if dryRun {
			msg += " (DRY RUN - no changes were made)"
		}
		fmt.Println(msg)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().Int64("rule-id", 0, "Process only a specific rule")
	processCmd.Flags().String("object-type", "", "Process only a specific object type")
	processCmd.Flags().Bool("dry-run", false, "Run in dry-run mode without applying changes")
}
