package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"maps-review-scraper/pkg/types"
)

// ReviewList is the lazily rendered review container of a listing page.
// Implementations must resolve cards by position on every call and never
// hand out references that outlive a single call.
type ReviewList interface {
	// Len returns how many cards are rendered right now.
	Len(ctx context.Context) (int, error)
	// Card re-fetches the card at index and captures its markup.
	Card(ctx context.Context, index int) (CardSnapshot, error)
	// ScrollToBottom asks the page to render more cards.
	ScrollToBottom(ctx context.Context) error
}

// CollectorOptions tunes the collector loop.
type CollectorOptions struct {
	RetryBudget  int
	RetryDelay   time.Duration
	WaitTimeout  time.Duration
	PollInterval time.Duration
}

// CollectStats describes how a collection went.
type CollectStats struct {
	Passes     int
	Retries    int
	Duplicates int
}

// Collector drives scrolling and extraction until a target count is met or
// the retry budget runs out.
type Collector struct {
	parser *Parser
	opts   CollectorOptions
	logger *logrus.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewCollector(parser *Parser, opts CollectorOptions, logger *logrus.Logger) *Collector {
	if opts.RetryBudget < 1 {
		opts.RetryBudget = 3
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 10 * time.Second
	}
	return &Collector{
		parser: parser,
		opts:   opts,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// accumulator is the ordered, duplicate-free result of a collection.
// scanned is the next card position to read; it runs ahead of len(records)
// once a duplicate has been skipped.
type accumulator struct {
	records []types.ReviewRecord
	seen    map[string]struct{}
	dups    int
	scanned int
}

// add appends rec unless a record with the same identity is already held.
func (a *accumulator) add(rec types.ReviewRecord) bool {
	if _, ok := a.seen[rec.ReviewID]; ok {
		a.dups++
		return false
	}
	a.seen[rec.ReviewID] = struct{}{}
	a.records = append(a.records, rec)
	return true
}

// Collect returns exactly target records in discovery order. A target of zero
// yields ErrNoReviews; running out of retries yields ErrRetryBudgetExhausted
// and no records.
func (c *Collector) Collect(ctx context.Context, list ReviewList, target int) ([]types.ReviewRecord, CollectStats, error) {
	var stats CollectStats
	if target < 0 {
		return nil, stats, fmt.Errorf("invalid target count %d", target)
	}
	if target == 0 {
		return nil, stats, ErrNoReviews
	}

	acc := &accumulator{
		records: make([]types.ReviewRecord, 0, target),
		seen:    make(map[string]struct{}, target),
	}
	budget := c.opts.RetryBudget

	for len(acc.records) < target {
		stats.Passes++
		err := c.pass(ctx, list, target, acc)
		stats.Duplicates = acc.dups
		if err == nil {
			continue
		}
		if !IsTransient(err) {
			return nil, stats, err
		}

		budget--
		stats.Retries++
		if budget <= 0 {
			return nil, stats, fmt.Errorf("%w: collected %d of %d reviews after %d retries: %v",
				ErrRetryBudgetExhausted, len(acc.records), target, stats.Retries, err)
		}
		c.logger.Warnf("Collection pass %d interrupted at %d/%d reviews: %v (retries left: %d)",
			stats.Passes, len(acc.records), target, err, budget)

		if err := c.sleep(ctx, c.opts.RetryDelay); err != nil {
			return nil, stats, err
		}
	}

	return acc.records, stats, nil
}

// pass scans the rendered cards from the last scanned position, then
// scrolls and waits for the list to grow. Records are only added once they
// are fully parsed, so an interrupted pass leaves the accumulator consistent.
func (c *Collector) pass(ctx context.Context, list ReviewList, target int, acc *accumulator) error {
	rendered, err := list.Len(ctx)
	if err != nil {
		return err
	}

	for acc.scanned < rendered && len(acc.records) < target {
		snap, err := list.Card(ctx, acc.scanned)
		if err != nil {
			return err
		}
		rec, err := c.parser.Parse(snap)
		if err != nil {
			return err
		}
		acc.scanned++
		if acc.add(rec) {
			c.logger.Debugf("Add review %d: %s", len(acc.records), rec)
		} else {
			c.logger.Debugf("Skip duplicate review at card %d: %s", snap.Index, rec.ReviewID)
		}
	}
	c.logger.Infof("Reviews extracted: %d/%d", len(acc.records), target)

	if len(acc.records) >= target {
		return nil
	}

	if err := list.ScrollToBottom(ctx); err != nil {
		return err
	}
	return c.waitForMore(ctx, list, rendered)
}

// waitForMore polls until more than have cards are rendered.
func (c *Collector) waitForMore(ctx context.Context, list ReviewList, have int) error {
	deadline := time.Now().Add(c.opts.WaitTimeout)
	for {
		n, err := list.Len(ctx)
		if err != nil {
			return err
		}
		if n > have {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: still %d cards rendered after %v", ErrWaitTimeout, n, c.opts.WaitTimeout)
		}
		if err := c.sleep(ctx, c.opts.PollInterval); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
