// Package couponfeed reads bulk coupon feeds: an issued feed of
// "CODE,RATE[,description]" lines and a revoked feed of one code per line,
// both optionally gzip-compressed.
package couponfeed

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

const (
	// DefaultExpectedRevocations sizes the revocation filter.
	DefaultExpectedRevocations = 1_000_000
	// DefaultFalsePositiveRate of the revocation filter.
	DefaultFalsePositiveRate = 0.001
)

// ParseIssuedLine parses "CODE,RATE[,description]". Blank lines and lines
// starting with '#' are skipped with ok=false.
func ParseIssuedLine(line string) (c coupon.Coupon, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return coupon.Coupon{}, false, nil
	}

	parts := strings.SplitN(line, ",", 3)
	if len(parts) < 2 {
		return coupon.Coupon{}, false, errors.Errorf("line %q: want CODE,RATE[,description]", line)
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
	if err != nil {
		return coupon.Coupon{}, false, errors.Wrapf(err, "line %q: rate", line)
	}
	c = coupon.Coupon{Code: coupon.Normalize(parts[0]), Rate: rate}
	if len(parts) == 3 {
		c.Description = strings.TrimSpace(parts[2])
	}
	if err := c.Validate(); err != nil {
		return coupon.Coupon{}, false, errors.Wrapf(err, "line %q", line)
	}
	return c, true, nil
}

// Open opens path, decompressing it when the name ends in .gz.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	gz, err := pgzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	return &gzipFile{Reader: gz, f: f}, nil
}

type gzipFile struct {
	*pgzip.Reader
	f *os.File
}

func (g *gzipFile) Close() error {
	gzErr := g.Reader.Close()
	if err := g.f.Close(); err != nil {
		return err
	}
	return gzErr
}

func scanLines(ctx context.Context, r io.Reader, fn func(line string) error) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(scanner.Text()); err != nil {
			return err
		}
	}
	return errors.Wrap(scanner.Err(), "scan")
}

// ScanIssued calls fn for every coupon in an issued feed.
func ScanIssued(ctx context.Context, r io.Reader, fn func(coupon.Coupon) error) error {
	return scanLines(ctx, r, func(line string) error {
		c, ok, err := ParseIssuedLine(line)
		if err != nil || !ok {
			return err
		}
		return fn(c)
	})
}

// ScanCodes calls fn for every normalized code in a revoked feed.
func ScanCodes(ctx context.Context, r io.Reader, fn func(code string) error) error {
	return scanLines(ctx, r, func(line string) error {
		code := coupon.Normalize(line)
		if code == "" || strings.HasPrefix(code, "#") {
			return nil
		}
		return fn(code)
	})
}

// Filter is a probabilistic set of revoked codes. MayContain has no false
// negatives.
type Filter struct {
	bf *bloom.BloomFilter
	n  uint64
}

// NewFilter sizes a filter for expected codes at the given false positive rate.
func NewFilter(expected uint, fpr float64) *Filter {
	return &Filter{bf: bloom.NewWithEstimates(expected, fpr)}
}

// Add records a revoked code.
func (f *Filter) Add(code string) {
	f.bf.AddString(code)
	f.n++
}

// MayContain reports whether code might be revoked.
func (f *Filter) MayContain(code string) bool {
	return f.bf.TestString(code)
}

// Len returns the number of codes added.
func (f *Filter) Len() uint64 {
	return f.n
}

// Plan is the outcome of reconciling an issued feed against a revoked feed.
type Plan struct {
	// Active are issued coupons that are not revoked, last definition wins.
	Active []coupon.Coupon
	// Revoked counts issued coupons dropped because they were revoked.
	Revoked int
	// Revocations is the number of codes in the revoked feed.
	Revocations uint64
}

// Options tune Reconcile.
type Options struct {
	ExpectedRevocations uint
	FalsePositiveRate   float64
}

// Reconcile reads both feeds and returns the issued coupons that survive
// revocation. The revoked feed is loaded into a Filter while the issued feed
// is parsed; codes the filter flags are confirmed with a second exact pass
// over the revoked feed, so false positives never drop a coupon.
func Reconcile(ctx context.Context, issuedPath, revokedPath string, opts Options) (*Plan, error) {
	if opts.ExpectedRevocations == 0 {
		opts.ExpectedRevocations = DefaultExpectedRevocations
	}
	if opts.FalsePositiveRate <= 0 {
		opts.FalsePositiveRate = DefaultFalsePositiveRate
	}

	var (
		filter = NewFilter(opts.ExpectedRevocations, opts.FalsePositiveRate)
		issued = make(map[string]coupon.Coupon)
		order  []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if revokedPath == "" {
			return nil
		}
		return scanFile(gctx, revokedPath, func(r io.Reader) error {
			return ScanCodes(gctx, r, func(code string) error {
				filter.Add(code)
				return nil
			})
		})
	})
	g.Go(func() error {
		return scanFile(gctx, issuedPath, func(r io.Reader) error {
			return ScanIssued(gctx, r, func(c coupon.Coupon) error {
				if _, ok := issued[c.Code]; !ok {
					order = append(order, c.Code)
				}
				issued[c.Code] = c
				return nil
			})
		})
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	candidates := make(map[string]bool)
	if filter.Len() > 0 {
		for code := range issued {
			if filter.MayContain(code) {
				candidates[code] = false
			}
		}
	}
	if len(candidates) > 0 {
		err := scanFile(ctx, revokedPath, func(r io.Reader) error {
			return ScanCodes(ctx, r, func(code string) error {
				if _, ok := candidates[code]; ok {
					candidates[code] = true
				}
				return nil
			})
		})
		if err != nil {
			return nil, err
		}
	}

	plan := &Plan{Revocations: filter.Len()}
	for _, code := range order {
		if candidates[code] {
			plan.Revoked++
			continue
		}
		plan.Active = append(plan.Active, issued[code])
	}
	return plan, nil
}

func scanFile(ctx context.Context, path string, fn func(r io.Reader) error) error {
	rc, err := Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	if err := fn(rc); err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	return ctx.Err()
}
