package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/harrier/internal/analysis"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/export"
)

var (
	reportFlags  criteriaFlags
	reportFormat string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the insight report of a filtered view",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		svc, closeFn, err := newOfflineService(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeFn()

		rep, err := svc.Insights(ctx, reportFlags.criteria())
		if err != nil {
			return err
		}

		switch reportFormat {
		case "json":
			return export.WriteReportJSON(cmd.OutOrStdout(), rep)
		case "text":
			return writeReportText(cmd.OutOrStdout(), rep)
		default:
			return fmt.Errorf("unsupported format %q (use text or json)", reportFormat)
		}
	},
}

func init() {
	reportFlags.register(reportCmd)
	reportCmd.Flags().StringVar(&reportFormat, "format", "text", "output format: text or json")
}

// newOfflineService builds an uncached, bus-less service for one-shot commands.
func newOfflineService(ctx context.Context, c *domain.Config) (*analysis.Service, func(), error) {
	repo, closeRepo, err := openRepository(c)
	if err != nil {
		return nil, nil, err
	}
	records, err := loadRecords(ctx, c, repo)
	if err != nil {
		closeRepo()
		return nil, nil, err
	}
	engine, err := loadEngine(c.Rules)
	if err != nil {
		closeRepo()
		return nil, nil, err
	}
	return analysis.NewService(records, engine, nil, nil, 0), closeRepo, nil
}

func writeReportText(w io.Writer, rep *domain.InsightReport) error {
	s := rep.Summary
	fmt.Fprintf(w, "Departures: %d of %d records\n", rep.Metadata.ViewSize, rep.Metadata.DatasetSize)
	if s.Total > 0 {
		fmt.Fprintf(w, "Gender:     %.1f%% male, %.1f%% female\n", s.MalePct, s.FemalePct)
		fmt.Fprintf(w, "Means:      age %.1f, tenure %.1f years, salary %.0f\n", s.MeanAge, s.MeanTenure, s.MeanSalary)
		fmt.Fprintf(w, "Years:      %s\n", s.YearsLabel())
	}
	fmt.Fprintf(w, "Findings:   %d high, %d medium, %d low\n",
		rep.SeverityCounts.High, rep.SeverityCounts.Medium, rep.SeverityCounts.Low)

	if len(rep.Findings) > 0 {
		fmt.Fprintln(w)
		for _, f := range rep.Findings {
			fmt.Fprintf(w, "[%-6s] %s\n", strings.ToUpper(string(f.Severity)), f.Statement)
		}
	}
	if len(rep.Recommendations) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Recommendations:")
		for i, r := range rep.Recommendations {
			fmt.Fprintf(w, "%d. %s\n", i+1, r)
		}
	}
	return nil
}
