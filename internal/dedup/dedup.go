// Package dedup drops leads that were already seen, either in the persistent
// store or earlier in the same run.
package dedup

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/david/childcare-leads/internal/models"
)

const (
	DefaultFuzzyThreshold = 90
	DefaultFuzzyScanLimit = 1000
)

// Reason names the rule that flagged a duplicate.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonLicense      Reason = "license"
	ReasonNameAddress  Reason = "name_address"
	ReasonFuzzyAddress Reason = "fuzzy_address"
)

// SeedProvider lists what the persistent store already holds.
type SeedProvider interface {
	ExistingLicenseNumbers(ctx context.Context) ([]string, error)
	ExistingAddresses(ctx context.Context) ([]string, error)
}

type Options struct {
	// FuzzyThreshold is the minimum token-sort similarity for an address match.
	FuzzyThreshold int
	// FuzzyScanLimit caps the seen-address count for which fuzzy scanning runs;
	// above it only exact address matches are detected.
	FuzzyScanLimit int
}

func DefaultOptions() Options {
	return Options{FuzzyThreshold: DefaultFuzzyThreshold, FuzzyScanLimit: DefaultFuzzyScanLimit}
}

// Result is the surviving records in input order plus the drop counts.
type Result struct {
	Records    []models.Opportunity
	Duplicates models.DuplicateBreakdown
}

// Deduplicator holds the seen sets for one run. It is not safe for concurrent use.
type Deduplicator struct {
	seeds  SeedProvider
	logger *zap.Logger
	opts   Options

	seedOnce sync.Once

	licenses  map[string]struct{}
	nameAddr  map[string]struct{}
	addresses map[string]struct{}
	addrOrder []string
}

// New builds a deduplicator. seeds may be nil for a run with no history.
func New(seeds SeedProvider, logger *zap.Logger, opts Options) *Deduplicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.FuzzyThreshold <= 0 {
		opts.FuzzyThreshold = DefaultFuzzyThreshold
	}
	if opts.FuzzyScanLimit <= 0 {
		opts.FuzzyScanLimit = DefaultFuzzyScanLimit
	}
	return &Deduplicator{
		seeds:     seeds,
		logger:    logger,
		opts:      opts,
		licenses:  make(map[string]struct{}),
		nameAddr:  make(map[string]struct{}),
		addresses: make(map[string]struct{}),
	}
}

// seed loads the store's history at most once. Failures leave the sets empty.
func (d *Deduplicator) seed(ctx context.Context) {
	d.seedOnce.Do(func() {
		if d.seeds == nil {
			return
		}
		licenses, addresses, err := loadSeeds(ctx, d.seeds)
		if err != nil {
			d.logger.Warn("could not load existing records, deduplicating against this run only", zap.Error(err))
			return
		}
		for _, l := range licenses {
			if l = strings.TrimSpace(l); l != "" {
				d.licenses[l] = struct{}{}
			}
		}
		for _, a := range addresses {
			d.addAddress(addressKey(a))
		}
		d.logger.Info("loaded existing records",
			zap.Int("licenses", len(d.licenses)),
			zap.Int("addresses", len(d.addresses)))
	})
}

func loadSeeds(ctx context.Context, seeds SeedProvider) ([]string, []string, error) {
	licenses, err := seeds.ExistingLicenseNumbers(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("existing license numbers: %w", err)
	}
	addresses, err := seeds.ExistingAddresses(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("existing addresses: %w", err)
	}
	return licenses, addresses, nil
}

func addressKey(a string) string {
	return strings.ToLower(strings.TrimSpace(a))
}

func nameAddressKey(o models.Opportunity) string {
	return strings.ToLower(strings.TrimSpace(o.Name)) + "|" + strings.ToLower(strings.TrimSpace(o.Address))
}

func (d *Deduplicator) addAddress(key string) {
	if key == "" {
		return
	}
	if _, ok := d.addresses[key]; ok {
		return
	}
	d.addresses[key] = struct{}{}
	d.addrOrder = append(d.addrOrder, key)
}

// Check classifies a record and records its keys as seen. The rules run in
// priority order and the first match wins.
func (d *Deduplicator) Check(ctx context.Context, o models.Opportunity) Reason {
	d.seed(ctx)

	if license := strings.TrimSpace(o.LicenseNumber); license != "" {
		if _, ok := d.licenses[license]; ok {
			return ReasonLicense
		}
		d.licenses[license] = struct{}{}
	}

	key := nameAddressKey(o)
	if _, ok := d.nameAddr[key]; ok {
		return ReasonNameAddress
	}
	d.nameAddr[key] = struct{}{}

	addr := addressKey(o.Address)
	if addr == "" {
		return ReasonNone
	}
	if d.similarAddressSeen(addr) {
		return ReasonFuzzyAddress
	}
	d.addAddress(addr)
	return ReasonNone
}

// IsDuplicate reports whether the record was seen and why.
func (d *Deduplicator) IsDuplicate(ctx context.Context, o models.Opportunity) (bool, Reason) {
	reason := d.Check(ctx, o)
	return reason != ReasonNone, reason
}

func (d *Deduplicator) similarAddressSeen(addr string) bool {
	if _, ok := d.addresses[addr]; ok {
		return true
	}
	if len(d.addresses) > d.opts.FuzzyScanLimit {
		return false
	}
	for _, seen := range d.addrOrder {
		if TokenSortRatio(addr, seen) >= d.opts.FuzzyThreshold {
			return true
		}
	}
	return false
}

// RemoveDuplicates filters records against the store history and each other.
func (d *Deduplicator) RemoveDuplicates(ctx context.Context, records []models.Opportunity) Result {
	res := Result{Records: make([]models.Opportunity, 0, len(records))}
	for _, o := range records {
		switch d.Check(ctx, o) {
		case ReasonLicense:
			res.Duplicates.License++
		case ReasonNameAddress:
			res.Duplicates.NameAddress++
		case ReasonFuzzyAddress:
			res.Duplicates.FuzzyAddress++
		default:
			res.Records = append(res.Records, o)
		}
	}

	d.logger.Info("deduplication complete",
		zap.Int("input", len(records)),
		zap.Int("unique", len(res.Records)),
		zap.Int("license", res.Duplicates.License),
		zap.Int("name_address", res.Duplicates.NameAddress),
		zap.Int("fuzzy_address", res.Duplicates.FuzzyAddress))
	return res
}

// DedupeWithinBatch keeps the first record for each RecordID.
func DedupeWithinBatch(records []models.Opportunity) []models.Opportunity {
	seen := make(map[string]struct{}, len(records))
	out := make([]models.Opportunity, 0, len(records))
	for _, o := range records {
		id := models.RecordID(o)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, o)
	}
	return out
}
