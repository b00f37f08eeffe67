package dataset

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/opensource-finance/harrier/internal/domain"
)

// Dataset sources.
const (
	SourceSynthetic  = "synthetic"
	SourceCSV        = "csv"
	SourceRepository = "repository"
)

// Load returns the records of the configured source.
// The repository source is seeded with synthetic records when empty; repo may
// be nil for the other sources.
func Load(ctx context.Context, cfg domain.DatasetConfig, repo domain.Repository) ([]domain.Record, error) {
	switch cfg.Source {
	case "", SourceSynthetic:
		return Generate(cfg.Seed, cfg.Records), nil

	case SourceCSV:
		if cfg.CSVPath == "" {
			return nil, fmt.Errorf("dataset source %q requires csv_path", SourceCSV)
		}
		f, err := os.Open(cfg.CSVPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open dataset: %w", err)
		}
		defer f.Close()
		return ReadCSV(f)

	case SourceRepository:
		if repo == nil {
			return nil, fmt.Errorf("dataset source %q requires a repository", SourceRepository)
		}
		n, err := repo.CountRecords(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to count records: %w", err)
		}
		if n == 0 {
			slog.Info("seeding empty repository with synthetic records",
				"seed", cfg.Seed,
				"records", cfg.Records,
			)
			if err := repo.SaveRecords(ctx, Generate(cfg.Seed, cfg.Records)); err != nil {
				return nil, fmt.Errorf("failed to seed repository: %w", err)
			}
		}
		records, err := repo.ListRecords(ctx)
		if err != nil {
			return nil, err
		}
		if err := Normalize(records); err != nil {
			return nil, err
		}
		return records, nil

	default:
		return nil, fmt.Errorf("unsupported dataset source: %s", cfg.Source)
	}
}

// Fingerprint hashes the records' contents. Two datasets with the same
// records in the same order share a fingerprint.
func Fingerprint(records []domain.Record) string {
	d := xxhash.New()
	var buf [8]byte
	putInt := func(v int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		_, _ = d.Write(buf[:])
	}
	putFloat := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		_, _ = d.Write(buf[:])
	}

	putInt(len(records))
	for _, r := range records {
		for _, s := range []string{r.EmployeeID, r.Gender, r.Department, r.Reason} {
			putInt(len(s))
			_, _ = d.WriteString(s)
		}
		putInt(r.Age)
		putInt(r.Year)
		putFloat(r.TenureYears)
		putFloat(r.MonthlySalary)
	}
	return strconv.FormatUint(d.Sum64(), 16)
}
