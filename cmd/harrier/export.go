package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/worker"
)

var (
	exportFlags criteriaFlags
	exportOut   string
	exportID    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write an export bundle for a filtered view",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		groupings, err := exportFlags.groupings()
		if err != nil {
			return err
		}

		svc, closeFn, err := newOfflineService(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeFn()

		ec := cfg.Export
		if exportOut != "" {
			ec.OutDir = exportOut
		}

		// Runs the worker's export path synchronously; no bus needed.
		w := worker.NewWorker(nil, svc, ec)
		res := w.Export(ctx, domain.ExportRequest{
			RequestID: exportID,
			Criteria:  exportFlags.criteria(),
			GroupBy:   groupings,
		})
		if res.Error != "" {
			return errors.New(res.Error)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d files to %s\n", len(res.Files), res.Dir)
		for _, f := range res.Files {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", f)
		}
		return nil
	},
}

func init() {
	exportFlags.register(exportCmd)
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output directory (overrides export.out_dir)")
	exportCmd.Flags().StringVar(&exportID, "id", "", "bundle directory name (default: random)")
}
