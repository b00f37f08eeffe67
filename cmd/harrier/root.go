package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/harrier/internal/config"
	"github.com/opensource-finance/harrier/internal/dataset"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/insight"
	"github.com/opensource-finance/harrier/internal/repository"
)

var (
	// Global flags
	cfgFile string
	debug   bool

	// Loaded configuration
	cfg *domain.Config
)

var rootCmd = &cobra.Command{
	Use:   "harrier",
	Short: "Harrier: employee attrition insights",
	Long: `Harrier filters and aggregates employee attrition records, derives
ranked insights with configurable CEL rules, and exports the results as
CSV and text bundles.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if debug {
			c.Logging.Level = "debug"
		}
		cfg = c
		setupLogger(cfg.Logging)
		return nil
	},
}

// Execute is the entry point called by main.main()
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd, reportCmd, exportCmd, rulesCmd, seedCmd)
}

// setupLogger installs the default slog logger.
func setupLogger(lc domain.LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(lc.Format, "text") {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// loadEngine compiles the configured rule pack, or the built-in rules.
func loadEngine(rc domain.RulesConfig) (*insight.Engine, error) {
	var (
		rules []*domain.RuleConfig
		err   error
	)
	if rc.Path != "" {
		rules, err = insight.LoadRulePack(rc.Path)
	} else {
		rules, err = insight.DefaultRules()
	}
	if err != nil {
		return nil, err
	}
	return insight.NewEngine(rules, rc.MaxWorkers)
}

// openRepository opens the repository when the dataset lives in it.
// The returned close func is never nil.
func openRepository(c *domain.Config) (domain.Repository, func(), error) {
	if c.Dataset.Source != dataset.SourceRepository {
		return nil, func() {}, nil
	}
	repo, err := repository.New(c.Repository)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	slog.Info("repository initialized", "driver", c.Repository.Driver)
	return repo, func() { repo.Close() }, nil
}

// loadRecords loads the configured dataset.
func loadRecords(ctx context.Context, c *domain.Config, repo domain.Repository) ([]domain.Record, error) {
	records, err := dataset.Load(ctx, c.Dataset, repo)
	if err != nil {
		return nil, err
	}
	slog.Info("dataset loaded",
		"source", c.Dataset.Source,
		"records", len(records),
	)
	return records, nil
}

// criteriaFlags are the filter flags shared by report and export.
type criteriaFlags struct {
	department  string
	departments []string
	gender      string
	yearFrom    int
	yearTo      int
	groupBy     []string
}

func (f *criteriaFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.department, "department", "", "single department (or \"all\")")
	cmd.Flags().StringSliceVar(&f.departments, "departments", nil, "departments to include")
	cmd.Flags().StringVar(&f.gender, "gender", "", "gender (or \"all\")")
	cmd.Flags().IntVar(&f.yearFrom, "year-from", 0, "first year of the range (0 = open)")
	cmd.Flags().IntVar(&f.yearTo, "year-to", 0, "last year of the range (0 = open)")
	cmd.Flags().StringArrayVar(&f.groupBy, "group-by", nil, "grouping, e.g. department,gender (repeatable)")
}

func (f *criteriaFlags) criteria() domain.FilterCriteria {
	c := domain.FilterCriteria{
		Department:  f.department,
		Departments: f.departments,
		Gender:      f.gender,
	}
	if f.yearFrom != 0 {
		from := f.yearFrom
		c.YearFrom = &from
	}
	if f.yearTo != 0 {
		to := f.yearTo
		c.YearTo = &to
	}
	return c
}

func (f *criteriaFlags) groupings() ([][]domain.Dimension, error) {
	out := make([][]domain.Dimension, 0, len(f.groupBy))
	for _, g := range f.groupBy {
		dims, err := domain.ParseDimensions(g)
		if err != nil {
			return nil, err
		}
		out = append(out, dims)
	}
	return out, nil
}
