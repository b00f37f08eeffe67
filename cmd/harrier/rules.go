package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/insight"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and validate insight rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the configured insight rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := loadEngine(cfg.Rules)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tGROUP BY\tTHRESHOLD\tNAME")
		for _, r := range engine.Rules() {
			groupBy := domain.GroupingKey(r.GroupBy)
			if groupBy == "" {
				groupBy = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%g\t%s\n", r.ID, groupBy, r.Threshold, r.Name)
		}
		return tw.Flush()
	},
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate <rule-pack.yaml>",
	Short: "Compile a rule pack without running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := insight.LoadRulePack(args[0])
		if err != nil {
			return err
		}
		engine, err := insight.NewEngine(rules, 1)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rules valid\n", args[0], engine.RulesCount())
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesListCmd, rulesValidateCmd)
}
