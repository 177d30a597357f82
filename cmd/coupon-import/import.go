package main

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"math/bits"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/orderflow/internal/domain/coupon"
)

const (
	bloomFPR      = 0.001
	progressEvery = 100_000
	maxFiles      = bits.UintSize
)

// Columns of an import file. The header row may list them in any order;
// code, discount_type, discount_value, valid_from and valid_until are
// required.
const (
	colCode        = "code"
	colName        = "name"
	colDescription = "description"
	colType        = "discount_type"
	colValue       = "discount_value"
	colMinimum     = "minimum_order_amount"
	colMaxDiscount = "maximum_discount"
	colUsageLimit  = "usage_limit"
	colValidFrom   = "valid_from"
	colValidUntil  = "valid_until"
	colActive      = "is_active"
)

// columns maps a column name to its index in the header.
type columns map[string]int

func parseHeader(header []string) (columns, error) {
	cols := make(columns, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range []string{colCode, colType, colValue, colValidFrom, colValidUntil} {
		if _, ok := cols[name]; !ok {
			return nil, errors.Errorf("missing column %q", name)
		}
	}
	return cols, nil
}

func (c columns) get(rec []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// parseCoupon converts one CSV record into a coupon definition.
func parseCoupon(cols columns, rec []string) (coupon.Coupon, error) {
	c := coupon.Coupon{
		Code:        coupon.NormalizeCode(cols.get(rec, colCode)),
		Name:        cols.get(rec, colName),
		Description: cols.get(rec, colDescription),
		IsActive:    true,
	}
	if c.Code == "" {
		return c, errors.New("empty code")
	}

	switch t := coupon.DiscountType(strings.ToLower(cols.get(rec, colType))); t {
	case coupon.DiscountPercentage, coupon.DiscountFixed:
		c.DiscountType = t
	default:
		return c, errors.Errorf("unknown discount type %q", t)
	}

	value, err := decimal.NewFromString(cols.get(rec, colValue))
	if err != nil || value.IsNegative() {
		return c, errors.Errorf("invalid discount value %q", cols.get(rec, colValue))
	}
	if c.DiscountType == coupon.DiscountPercentage && value.GreaterThan(decimal.NewFromInt(100)) {
		return c, errors.Errorf("percentage %s exceeds 100", value)
	}
	c.DiscountValue = value

	if s := cols.get(rec, colMinimum); s != "" {
		if c.MinimumOrderAmount, err = decimal.NewFromString(s); err != nil {
			return c, errors.Errorf("invalid minimum order amount %q", s)
		}
	}
	if s := cols.get(rec, colMaxDiscount); s != "" {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return c, errors.Errorf("invalid maximum discount %q", s)
		}
		c.MaximumDiscount = decimal.NewNullDecimal(v)
	}
	if s := cols.get(rec, colUsageLimit); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return c, errors.Errorf("invalid usage limit %q", s)
		}
		c.UsageLimit = &n
	}

	if c.ValidFrom, err = time.Parse(time.RFC3339, cols.get(rec, colValidFrom)); err != nil {
		return c, errors.Wrap(err, "valid_from")
	}
	if c.ValidUntil, err = time.Parse(time.RFC3339, cols.get(rec, colValidUntil)); err != nil {
		return c, errors.Wrap(err, "valid_until")
	}
	if !c.ValidUntil.After(c.ValidFrom) {
		return c, errors.New("valid_until must be after valid_from")
	}

	if s := cols.get(rec, colActive); s != "" {
		if c.IsActive, err = strconv.ParseBool(s); err != nil {
			return c, errors.Errorf("invalid is_active %q", s)
		}
	}
	return c, nil
}

// streamGzCSV opens a gzip-compressed CSV file and calls fn for each record
// after the header. Records are numbered from 1.
func streamGzCSV(ctx context.Context, path string, fn func(cols columns, n int, rec []string) error) error {
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

	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		return errors.Wrapf(err, "read header of %s", path)
	}
	cols, err := parseHeader(header)
	if err != nil {
		return errors.Wrap(err, path)
	}

	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", path)
		}
		if err := fn(cols, n, rec); err != nil {
			return err
		}
	}
}

// fileIndex is what pass 1 learns about a file.
type fileIndex struct {
	filter *bloom.BloomFilter
	// lastRow holds the last row of every code that may repeat inside the
	// file. Bloom false positives simply map a code to its only row.
	lastRow map[string]int
}

// buildIndexes creates one bloom filter per file, concurrently.
func buildIndexes(ctx context.Context, files []string, capacity uint) ([]fileIndex, error) {
	indexes := make([]fileIndex, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			idx := fileIndex{
				filter:  bloom.NewWithEstimates(capacity, bloomFPR),
				lastRow: make(map[string]int),
			}
			var count int
			err := streamGzCSV(ctx, path, func(cols columns, n int, rec []string) error {
				code := coupon.NormalizeCode(cols.get(rec, colCode))
				if code == "" {
					return nil
				}
				if idx.filter.TestAndAddString(code) {
					idx.lastRow[code] = n
				}
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.Int("file", i+1), slog.Int("codes", count))
				}
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "index file %d", i+1)
			}

			slog.Info("pass 1 complete",
				slog.Int("file", i+1),
				slog.Int("total_codes", count),
				slog.Int("repeat_suspects", len(idx.lastRow)),
			)
			indexes[i] = idx
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return indexes, nil
}

// parsedFile holds the coupons of one file after pass 2.
type parsedFile struct {
	coupons []coupon.Coupon
	// shared maps codes that may also appear in another file to the bitmask
	// of files they were seen in.
	shared  map[string]uint
	invalid int
}

// parseFiles re-reads every file, parses its rows and checks each code
// against the other files' bloom filters.
func parseFiles(ctx context.Context, files []string, indexes []fileIndex) ([]parsedFile, error) {
	results := make([]parsedFile, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			res := parsedFile{shared: make(map[string]uint)}
			fileBit := uint(1) << uint(i)
			own := indexes[i]

			err := streamGzCSV(ctx, path, func(cols columns, n int, rec []string) error {
				c, err := parseCoupon(cols, rec)
				if err != nil {
					res.invalid++
					slog.Warn("skipping row",
						slog.Int("file", i+1),
						slog.Int("row", n),
						slog.String("error", err.Error()),
					)
					return nil
				}
				if last, ok := own.lastRow[c.Code]; ok && last != n {
					// A later row of the same file redefines the code.
					return nil
				}
				for j, other := range indexes {
					if j != i && other.filter.TestString(c.Code) {
						res.shared[c.Code] |= fileBit
						break
					}
				}
				res.coupons = append(res.coupons, c)
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "parse file %d", i+1)
			}

			slog.Info("pass 2 complete",
				slog.Int("file", i+1),
				slog.Int("coupons", len(res.coupons)),
				slog.Int("invalid", res.invalid),
				slog.Int("shared_suspects", len(res.shared)),
			)
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// resolve merges the parsed files. A code defined in several files keeps the
// definition from the last file that lists it.
func resolve(files []parsedFile) []coupon.Coupon {
	merged := make(map[string]uint)
	for _, f := range files {
		for code, mask := range f.shared {
			merged[code] |= mask
		}
	}

	var out []coupon.Coupon
	for i, f := range files {
		for _, c := range f.coupons {
			mask, ok := merged[c.Code]
			if ok && bits.OnesCount(mask) >= 2 && bits.Len(mask)-1 != i {
				slog.Warn("coupon redefined by a later file",
					slog.String("code", c.Code),
					slog.Int("file", i+1),
					slog.Int("winner", bits.Len(mask)),
				)
				continue
			}
			out = append(out, c)
		}
	}
	return out
}

// collect runs both passes over files and returns the coupons to write.
func collect(ctx context.Context, files []string, capacity uint) ([]coupon.Coupon, error) {
	if len(files) > maxFiles {
		return nil, errors.Errorf("at most %d files per import", maxFiles)
	}

	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))
	indexes, err := buildIndexes(ctx, files, capacity)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	slog.Info("pass 2: parsing coupons")
	parsed, err := parseFiles(ctx, files, indexes)
	if err != nil {
		return nil, errors.Wrap(err, "parse coupons")
	}
	return resolve(parsed), nil
}

// Upserter stores coupon definitions.
type Upserter interface {
	Upsert(ctx context.Context, c *coupon.Coupon) error
}

// writeCoupons upserts every coupon.
func writeCoupons(ctx context.Context, repo Upserter, coupons []coupon.Coupon) error {
	slog.Info("writing coupons to database", slog.Int("count", len(coupons)))

	for i := range coupons {
		if err := repo.Upsert(ctx, &coupons[i]); err != nil {
			return err
		}
		if (i+1)%1000 == 0 || i+1 == len(coupons) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(coupons)))
		}
	}
	return nil
}
