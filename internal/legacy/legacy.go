// Package legacy imports referral codes exported by the previous POS
// referral module. Exports are gzipped CSV files with the header
//
//	code,customer_id,customer_name,phone,max_uses,times_used,expires_at
//
// where expires_at is RFC 3339 or YYYY-MM-DD.
package legacy

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/pos-referral/internal/authority"
	"github.com/xenking/pos-referral/internal/domain/referral"
)

var header = []string{"code", "customer_id", "customer_name", "phone", "max_uses", "times_used", "expires_at"}

// Store receives imported codes. *postgres.ReferralStore implements it.
type Store interface {
	ListCodes(ctx context.Context) ([]string, error)
	// CopyCodes bulk-inserts codes that are known to be new.
	CopyCodes(ctx context.Context, codes []*authority.Code) (int64, error)
	// ImportCode inserts a code unless it exists.
	ImportCode(ctx context.Context, c *authority.Code) (bool, error)
}

// Config configures an Importer.
type Config struct {
	ContextID string
	// BatchSize is the COPY batch size. Defaults to 1000.
	BatchSize int
	// Capacity and FPR size the bloom filter of known codes.
	Capacity uint
	FPR      float64
	Now      func() time.Time
	Logger   *zap.Logger
}

// Stats summarizes an import run.
type Stats struct {
	Read       int
	Inserted   int
	Duplicates int
	Invalid    int
}

// Importer loads legacy exports into a Store.
type Importer struct {
	store Store
	cfg   Config
	known *bloom.BloomFilter
	lg    *zap.Logger
}

// NewImporter creates an Importer.
func NewImporter(store Store, cfg Config) *Importer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = 1_000_000
	}
	if cfg.FPR <= 0 {
		cfg.FPR = 0.001
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Importer{
		store: store,
		cfg:   cfg,
		known: bloom.NewWithEstimates(cfg.Capacity, cfg.FPR),
		lg:    cfg.Logger,
	}
}

// ImportFiles reads the gzipped exports concurrently and writes their codes.
// Codes the bloom filter has never seen are bulk-copied; a possible repeat
// goes through a conflict-tolerant insert so the database decides.
func (im *Importer) ImportFiles(ctx context.Context, paths ...string) (Stats, error) {
	existing, err := im.store.ListCodes(ctx)
	if err != nil {
		return Stats{}, errors.Wrap(err, "list existing codes")
	}
	for _, c := range existing {
		im.known.AddString(c)
	}
	im.lg.Info("Loaded existing codes", zap.Int("count", len(existing)))

	records := make(chan *authority.Code, im.cfg.BatchSize)
	invalid := make([]int, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	readers, rctx := errgroup.WithContext(gctx)
	for i, p := range paths {
		readers.Go(func() error {
			n, err := im.readFile(rctx, p, records)
			invalid[i] = n
			return err
		})
	}
	g.Go(func() error {
		defer close(records)
		return readers.Wait()
	})

	var stats Stats
	g.Go(func() error {
		return im.write(gctx, records, &stats)
	})

	if err := g.Wait(); err != nil {
		return stats, err
	}
	for _, n := range invalid {
		stats.Invalid += n
	}
	return stats, nil
}

func (im *Importer) readFile(ctx context.Context, path string, out chan<- *authority.Code) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return 0, errors.Wrapf(err, "gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	invalid := 0
	err = Parse(gz, im.cfg.ContextID, im.cfg.Now(), func(c *authority.Code, perr error) error {
		if perr != nil {
			invalid++
			im.lg.Warn("Skipping invalid row", zap.String("file", path), zap.Error(perr))
			return nil
		}
		select {
		case out <- c:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		return invalid, errors.Wrapf(err, "read %s", path)
	}
	im.lg.Info("File read", zap.String("file", path), zap.Int("invalid", invalid))
	return invalid, nil
}

func (im *Importer) write(ctx context.Context, in <-chan *authority.Code, stats *Stats) error {
	batch := make([]*authority.Code, 0, im.cfg.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := im.store.CopyCodes(ctx, batch)
		if errors.Is(err, authority.ErrCodeTaken) {
			// A code was issued meanwhile. Fall back to row inserts.
			for _, c := range batch {
				if err := im.insert(ctx, c, stats); err != nil {
					return err
				}
			}
			batch = batch[:0]
			return nil
		}
		if err != nil {
			return err
		}
		stats.Inserted += int(n)
		batch = batch[:0]
		return nil
	}

	for c := range in {
		stats.Read++
		if im.known.TestOrAddString(c.Code) {
			// Possibly a repeat of a batched row; write those first.
			if err := flush(); err != nil {
				return err
			}
			if err := im.insert(ctx, c, stats); err != nil {
				return err
			}
			continue
		}
		batch = append(batch, c)
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (im *Importer) insert(ctx context.Context, c *authority.Code, stats *Stats) error {
	ok, err := im.store.ImportCode(ctx, c)
	if err != nil {
		return err
	}
	if ok {
		stats.Inserted++
	} else {
		stats.Duplicates++
	}
	return nil
}

// Parse reads an export and calls fn for every data row. Rows that fail to
// parse are passed with a non-nil error; returning an error from fn stops.
func Parse(r io.Reader, contextID string, now time.Time, fn func(c *authority.Code, err error) error) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(header)
	cr.ReuseRecord = true

	first, err := cr.Read()
	if err != nil {
		return errors.Wrap(err, "read header")
	}
	for i, name := range header {
		if strings.TrimSpace(strings.ToLower(first[i])) != name {
			return errors.Errorf("unexpected column %d %q, want %q", i+1, first[i], name)
		}
	}

	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			if err := fn(nil, err); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}

		c, err := parseRow(row, contextID, now)
		if err := fn(c, err); err != nil {
			return err
		}
	}
}

func parseRow(row []string, contextID string, now time.Time) (*authority.Code, error) {
	code := referral.Normalize(row[0])
	if code == "" {
		return nil, errors.New("empty code")
	}
	maxUses, err := strconv.Atoi(strings.TrimSpace(row[4]))
	if err != nil || maxUses < 1 {
		return nil, errors.Errorf("code %s: invalid max_uses %q", code, row[4])
	}
	used, err := strconv.Atoi(strings.TrimSpace(row[5]))
	if err != nil || used < 0 {
		return nil, errors.Errorf("code %s: invalid times_used %q", code, row[5])
	}
	expires, err := parseTime(strings.TrimSpace(row[6]))
	if err != nil {
		return nil, errors.Wrapf(err, "code %s: expires_at", code)
	}

	return &authority.Code{
		ID:                 uuid.NewString(),
		Code:               code,
		CustomerID:         strings.TrimSpace(row[1]),
		CustomerName:       strings.TrimSpace(row[2]),
		Phone:              strings.TrimSpace(row[3]),
		ContextID:          contextID,
		MaxUses:            maxUses,
		TimesUsed:          min(used, maxUses),
		TotalDiscountGiven: decimal.Zero,
		Active:             used < maxUses && expires.After(now),
		ExpiresAt:          expires,
		CreatedAt:          now,
	}, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, errors.Errorf("invalid time %q", s)
	}
	return t, nil
}
