// Command discount-ingest imports discount codes from gzipped code lists. A
// code becomes an active discount code when it appears in at least two of the
// lists.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"sort"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/beanhouse/internal/domain/discount"
	"github.com/xenking/beanhouse/internal/repository"
)

const (
	bloomFPR      = 0.001
	progressEvery = 10_000_000
	minLists      = 2
)

// codeRule describes the discount to grant for a well-known code.
type codeRule struct {
	typ     discount.Type
	value   int64
	maxUses int
}

var codeRules = map[string]codeRule{
	"HAPPY": {typ: discount.TypePercent, value: 18, maxUses: 1000},
	"HALF0": {typ: discount.TypePercent, value: 50, maxUses: 100},
	"BEANS": {typ: discount.TypePercent, value: 15, maxUses: 1000},
	"FLAT5": {typ: discount.TypeAmount, value: 50000, maxUses: 500},
}

var defaultRule = codeRule{typ: discount.TypePercent, value: 10, maxUses: 100}

// fileResult holds candidate codes found in a single file during pass 2.
type fileResult struct {
	candidates map[string]uint
}

func main() {
	var (
		dataDir     string
		databaseURL string
		numFiles    int
		capacity    uint
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing codesN.gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&numFiles, "files", 3, "number of code lists to read")
	flag.UintVar(&capacity, "bloom-capacity", 120_000_000, "expected codes per list")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if numFiles < minLists || numFiles > bits.UintSize {
		slog.Error("invalid number of lists", slog.Int("files", numFiles))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, listFiles(dataDir, numFiles), capacity, databaseURL); err != nil {
		slog.Error("discount ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("discount ingest completed successfully")
}

func listFiles(dataDir string, n int) []string {
	files := make([]string, n)
	for i := range n {
		files[i] = filepath.Join(dataDir, fmt.Sprintf("codes%d.gz", i+1))
	}
	return files
}

func run(ctx context.Context, files []string, capacity uint, databaseURL string) error {
	validCodes, err := collect(ctx, files, capacity)
	if err != nil {
		return err
	}

	if len(validCodes) == 0 {
		slog.Info("no valid codes to insert")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := writeCodes(ctx, repository.NewDiscountRepository(pool), validCodes); err != nil {
		return errors.Wrap(err, "write discount codes to database")
	}

	return nil
}

// collect runs both passes and returns the codes found in at least minLists
// files, sorted.
func collect(ctx context.Context, files []string, capacity uint) ([]string, error) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return nil, errors.Wrapf(err, "check file %s", f)
		}
	}

	// Pass 1: Build bloom filters concurrently.
	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))

	filters, err := buildBloomFilters(ctx, files, capacity)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: Find candidate codes appearing in 2+ files.
	slog.Info("pass 2: finding candidate codes")

	validCodes, err := findValidCodes(ctx, files, filters)
	if err != nil {
		return nil, errors.Wrap(err, "find valid codes")
	}

	slog.Info("valid codes found", slog.Int("count", len(validCodes)))
	return validCodes, nil
}

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, files []string, capacity uint) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(capacity, bloomFPR)
			var count uint64

			if err := streamCodes(ctx, f, func(code string) {
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.Int("file", i+1), slog.Uint64("codes", count))
				}
			}); err != nil {
				return errors.Wrapf(err, "build filter for file %d", i+1)
			}

			slog.Info("pass 1 complete", slog.Int("file", i+1), slog.Uint64("total_codes", count))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return filters, nil
}

// findValidCodes re-streams each file and checks codes against the other
// files' bloom filters. Bloom hits are only candidates; a code is kept when
// the exact sets of at least two files contain it.
func findValidCodes(ctx context.Context, files []string, filters []*bloom.BloomFilter) ([]string, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			candidates := make(map[string]uint)
			fileBit := uint(1) << uint(i)

			if err := streamCodes(ctx, f, func(code string) {
				for j, other := range filters {
					if j != i && other.TestString(code) {
						candidates[code] |= fileBit
						return
					}
				}
			}); err != nil {
				return errors.Wrapf(err, "scan file %d for candidates", i+1)
			}

			slog.Info("pass 2 complete", slog.Int("file", i+1), slog.Int("candidates", len(candidates)))
			results[i] = fileResult{candidates: candidates}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge bitmasks from all files.
	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r.candidates {
			merged[code] |= mask
		}
	}

	var valid []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= minLists {
			valid = append(valid, code)
		}
	}
	sort.Strings(valid)

	return valid, nil
}

// streamCodes opens a gzip-compressed list and calls fn for each line that is
// a well-formed discount code, normalized to upper case.
func streamCodes(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		code, err := discount.Normalize(scanner.Text())
		if err != nil {
			continue
		}
		fn(code)
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

func ruleFor(code string) discount.Code {
	rule, ok := codeRules[code]
	if !ok {
		rule = defaultRule
	}

	c := discount.Code{
		Code:     code,
		Type:     rule.typ,
		MaxUses:  rule.maxUses,
		IsActive: true,
	}
	if rule.typ == discount.TypeAmount {
		c.Amount = decimal.NewFromInt(rule.value)
	} else {
		c.Percent = decimal.NewNullDecimal(decimal.NewFromInt(rule.value))
	}
	return c
}

// writeCodes upserts all valid codes. Usage counters of existing codes are
// kept.
func writeCodes(ctx context.Context, repo *repository.DiscountRepository, codes []string) error {
	slog.Info("writing discount codes to database", slog.Int("count", len(codes)))

	for i, code := range codes {
		if err := repo.Upsert(ctx, ruleFor(code)); err != nil {
			return errors.Wrapf(err, "upsert discount code %s", code)
		}

		if (i+1)%100 == 0 || i+1 == len(codes) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(codes)))
		}
	}

	return nil
}
