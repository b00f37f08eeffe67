package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/harrier/internal/dataset"
	"github.com/opensource-finance/harrier/internal/repository"
)

var (
	seedCSV     string
	seedReplace bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Generate synthetic records into the repository or a CSV file",
	RunE: func(cmd *cobra.Command, args []string) error {
		records := dataset.Generate(cfg.Dataset.Seed, cfg.Dataset.Records)

		if seedCSV != "" {
			f, err := os.Create(seedCSV)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", seedCSV, err)
			}
			defer f.Close()
			if err := dataset.WriteCSV(f, records, cfg.Export.BOM); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d records to %s\n", len(records), seedCSV)
			return nil
		}

		ctx := context.Background()
		repo, err := repository.New(cfg.Repository)
		if err != nil {
			return fmt.Errorf("failed to initialize repository: %w", err)
		}
		defer repo.Close()

		if seedReplace {
			if err := repo.DeleteRecords(ctx); err != nil {
				return err
			}
		}
		if err := repo.SaveRecords(ctx, records); err != nil {
			return err
		}
		n, err := repo.CountRecords(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d records (%d stored)\n", len(records), n)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedCSV, "csv", "", "write a CSV file instead of the repository")
	seedCmd.Flags().BoolVar(&seedReplace, "replace", false, "delete existing records first")
}
