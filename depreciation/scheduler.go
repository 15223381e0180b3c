/*
scheduler.go - Periodic depreciation posting

PURPOSE:
  Run posts every due depreciation period for every eligible asset, and is
  safe to call any number of times for the same asOf date: a period is
  posted at most once per asset.

DESIGN:
  - Lists due assets through Queries.DueForDepreciation
  - Fans out over Workers goroutines; one asset is handled by one worker
  - A per-asset lock serializes overlapping runs inside this process
  - Each period is its own unit of work: re-read, re-check, calculate,
    append entry, update asset, append history, commit
  - The store's unique (asset, period) index is the last guard across
    processes; a duplicate is counted as skipped, not failed
  - An asset that fell behind posts up to MaxCatchUp periods per run
  - A failure on one asset is recorded in the Summary and never aborts
    the batch

HALTS:
  DISPOSED and RETIRED assets, fully depreciated assets and assets whose
  transfer is IN_TRANSIT are never posted.

USAGE METERING:
  Units of production needs the units consumed in the period. They are
  fetched from the UsageSource before the unit of work opens. A missing
  reading is a CalculationError for that asset; a zero reading posts a
  zero-amount entry and advances the schedule.

SEE ALSO:
  - calculator.go: the pure calculation
  - api/scheduler.go: ticker that calls Run in the server
  - cmd/server: `depreciate` command
*/
package depreciation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/asset-engine/asset"
	"github.com/warp/asset-engine/metrics"
	"github.com/warp/asset-engine/money"
)

// UsageSource is the metering feed for units-of-production assets.
type UsageSource interface {
	// UnitsConsumed returns the units used by the asset during the month
	// starting at period. ok is false when no reading exists.
	UnitsConsumed(ctx context.Context, id asset.AssetID, period time.Time) (units int64, ok bool, err error)
}

const (
	DefaultWorkers    = 4
	DefaultMaxCatchUp = 120
)

type Scheduler struct {
	Store     asset.Store
	Usage     UsageSource
	Publisher asset.Publisher
	Logger    *slog.Logger
	Now       func() time.Time

	Workers    int
	MaxCatchUp int

	locks keyedMutex
}

// Summary reports one Run.
type Summary struct {
	AsOf              time.Time
	Processed         int
	Posted            int
	Skipped           int
	Failed            int
	FullyDepreciated  int
	TotalDepreciation money.Amount
	Failures          []Failure
	StartedAt         time.Time
	FinishedAt        time.Time
}

type Failure struct {
	AssetID asset.AssetID
	Err     error
}

// =============================================================================
// RUN
// =============================================================================

// Run posts every period due at or before asOf. The returned error is only
// set when the due list cannot be read or ctx is cancelled; per-asset
// problems are in Summary.Failures.
func (s *Scheduler) Run(ctx context.Context, asOf time.Time) (Summary, error) {
	sum := Summary{AsOf: asOf, StartedAt: s.now(), TotalDepreciation: money.Zero}

	due, err := s.Store.DueForDepreciation(ctx, asOf)
	if err != nil {
		return sum, fmt.Errorf("list due assets: %w", err)
	}
	s.logger().Debug("depreciation run started", "as_of", asOf, "due", len(due))

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		work = make(chan asset.AssetID)
	)
	for i := 0; i < s.workers(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range work {
				out := s.processAsset(ctx, id, asOf)
				mu.Lock()
				sum.add(id, out)
				mu.Unlock()
			}
		}()
	}

feed:
	for _, a := range due {
		if ctx.Err() != nil {
			break
		}
		select {
		case work <- a.ID:
		case <-ctx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()

	sum.FinishedAt = s.now()
	metrics.BatchDuration.Observe(sum.FinishedAt.Sub(sum.StartedAt).Seconds())

	s.logger().Info("depreciation run finished",
		"as_of", asOf.Format(time.DateOnly),
		"processed", sum.Processed,
		"posted", sum.Posted,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"fully_depreciated", sum.FullyDepreciated,
		"total", sum.TotalDepreciation.String(),
	)
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	return sum, nil
}

type outcome struct {
	posted int
	fully  bool
	total  money.Amount
	err    error
}

func (sum *Summary) add(id asset.AssetID, o outcome) {
	sum.Processed++
	sum.Posted += o.posted
	sum.TotalDepreciation = sum.TotalDepreciation.Add(o.total)
	if o.fully {
		sum.FullyDepreciated++
	}
	switch {
	case o.err != nil:
		sum.Failed++
		sum.Failures = append(sum.Failures, Failure{AssetID: id, Err: o.err})
	case o.posted == 0:
		sum.Skipped++
	}
}

// processAsset posts periods for one asset until nothing is due, a failure
// occurs or MaxCatchUp is reached.
func (s *Scheduler) processAsset(ctx context.Context, id asset.AssetID, asOf time.Time) outcome {
	unlock := s.locks.Lock(id)
	defer unlock()

	out := outcome{total: money.Zero}
	for i := 0; i < s.maxCatchUp(); i++ {
		if ctx.Err() != nil {
			break
		}
		entry, err := s.postNext(ctx, id, asOf)
		if err != nil {
			out.err = err
			metrics.DepreciationFailures.WithLabelValues(metrics.ErrorKind(err)).Inc()
			s.logger().Warn("depreciation failed", "asset_id", id, "err", err)
			break
		}
		if entry == nil {
			break
		}
		out.posted++
		out.total = out.total.Add(entry.Amount)
		metrics.DepreciationPostings.WithLabelValues(string(entry.Method)).Inc()
		metrics.DepreciationAmount.Add(entry.Amount.Float64())
		if entry.FullyDepreciated {
			out.fully = true
			metrics.FullyDepreciated.Inc()
			break
		}
	}
	if out.posted == 0 && out.err == nil {
		metrics.DepreciationSkipped.Inc()
	}
	return out
}

// postNext posts the next due period of one asset. It returns a nil entry
// when nothing is due.
func (s *Scheduler) postNext(ctx context.Context, id asset.AssetID, asOf time.Time) (*asset.DepreciationEntry, error) {
	// Usage is read outside the unit of work so the metering feed never
	// competes with the transaction for the store.
	current, err := s.Store.GetAsset(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load asset: %w", err)
	}
	if !eligible(current, asOf) {
		return nil, nil
	}
	period := asset.PeriodOf(*current.NextDepreciationDate)
	units, err := s.unitsFor(ctx, current, period)
	if err != nil {
		return nil, err
	}

	var (
		posted *asset.DepreciationEntry
		event  asset.HistoryEntry
	)
	err = asset.RunInTx(ctx, s.Store, func(r asset.Repository) error {
		a, err := r.GetAsset(ctx, id)
		if err != nil {
			return err
		}
		if !eligible(a, asOf) || !asset.PeriodOf(*a.NextDepreciationDate).Equal(period) {
			return nil
		}
		if t, err := r.ActiveTransfer(ctx, id); err != nil {
			return err
		} else if t != nil && t.Status == asset.TransferInTransit {
			return nil
		}

		latest, err := r.LatestEntry(ctx, id)
		if err != nil {
			return err
		}
		if latest != nil && !latest.Period.Before(period) {
			return nil
		}
		count, err := r.CountEntries(ctx, id)
		if err != nil {
			return err
		}

		res, err := Calculate(Input{Asset: a, Period: period, PeriodsPosted: count, Units: units})
		if err != nil {
			return err
		}

		now := s.now()
		entry := asset.DepreciationEntry{
			ID:               uuid.NewString(),
			AssetID:          a.ID,
			Period:           period,
			PeriodDate:       *a.NextDepreciationDate,
			Method:           a.Depreciation.Method,
			Amount:           res.Amount,
			BookValueBefore:  a.CurrentBookValue,
			BookValueAfter:   res.BookValueAfter,
			AccumulatedAfter: res.AccumulatedAfter,
			UnitsConsumed:    units,
			FullyDepreciated: res.FullyDepreciated,
			PostedAt:         now,
		}
		if err := r.AppendEntry(ctx, entry); err != nil {
			return err
		}

		a.CurrentBookValue = res.BookValueAfter
		a.AccumulatedDepreciation = res.AccumulatedAfter
		a.MonthlyDepreciation = res.Amount
		a.IsFullyDepreciated = res.FullyDepreciated
		if res.FullyDepreciated {
			a.NextDepreciationDate = nil
		} else {
			// Count from the start date so month-end dates do not drift.
			next := asset.AddMonths(a.DepreciationStartDate, count+2)
			a.NextDepreciationDate = &next
		}
		a.UpdatedAt = now
		if err := a.CheckInvariants(); err != nil {
			return err
		}
		if err := r.UpdateAsset(ctx, a); err != nil {
			return err
		}

		event, err = r.AppendHistory(ctx, asset.HistoryEntry{
			ID:             uuid.NewString(),
			AssetID:        a.ID,
			Kind:           asset.HistoryDepreciationPosted,
			RecordID:       entry.ID,
			PreviousStatus: a.Status,
			NewStatus:      a.Status,
			Actor:          asset.System,
			Details: map[string]string{
				"period":            period.Format(time.DateOnly),
				"amount":            entry.Amount.String(),
				"book_value_after":  entry.BookValueAfter.String(),
				"fully_depreciated": strconv.FormatBool(entry.FullyDepreciated),
			},
			At: now,
		})
		if err != nil {
			return err
		}
		posted = &entry
		return nil
	})
	if errors.Is(err, asset.ErrDuplicatePeriod) {
		// Another process won the race for this period.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if posted != nil {
		s.publisher().Publish(ctx, event)
	}
	return posted, nil
}

func eligible(a asset.Asset, asOf time.Time) bool {
	return !a.Status.HaltsDepreciation() && a.DueAt(asOf)
}

func (s *Scheduler) unitsFor(ctx context.Context, a asset.Asset, period time.Time) (*int64, error) {
	if a.Depreciation.Method != asset.UnitsOfProduction {
		return nil, nil
	}
	if s.Usage == nil {
		return nil, &asset.CalculationError{AssetID: a.ID, Method: asset.UnitsOfProduction, Reason: "no metering feed configured"}
	}
	units, ok, err := s.Usage.UnitsConsumed(ctx, a.ID, period)
	if err != nil {
		return nil, &asset.CalculationError{AssetID: a.ID, Method: asset.UnitsOfProduction, Reason: "metering feed unavailable", Cause: err}
	}
	if !ok {
		return nil, &asset.CalculationError{AssetID: a.ID, Method: asset.UnitsOfProduction, Reason: "no usage reading for " + period.Format("2006-01")}
	}
	return &units, nil
}

// =============================================================================
// DEFAULTS
// =============================================================================

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Scheduler) publisher() asset.Publisher {
	if s.Publisher != nil {
		return s.Publisher
	}
	return asset.Discard
}

func (s *Scheduler) workers() int {
	if s.Workers > 0 {
		return s.Workers
	}
	return DefaultWorkers
}

func (s *Scheduler) maxCatchUp() int {
	if s.MaxCatchUp > 0 {
		return s.MaxCatchUp
	}
	return DefaultMaxCatchUp
}

// =============================================================================
// KEYED MUTEX
// =============================================================================

// keyedMutex hands out one mutex per asset and forgets it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[asset.AssetID]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// Lock blocks until id is free and returns its unlock function.
func (k *keyedMutex) Lock(id asset.AssetID) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[asset.AssetID]*refMutex)
	}
	m, ok := k.locks[id]
	if !ok {
		m = &refMutex{}
		k.locks[id] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
