/*
sqlite_test.go - Tests for the SQLite store

Tests for:
- Round trips of assets, records, ledger entries and history
- Constraint mapping (code per unit, one active record, duplicate period)
- Optimistic versioning and rollback
- Projections used by the scheduler and the approval queues
- The workflow and scheduler scenarios run end to end on SQLite
*/
package sqlite_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/asset-engine/asset"
	"github.com/warp/asset-engine/depreciation"
	"github.com/warp/asset-engine/money"
	"github.com/warp/asset-engine/store/sqlite"
	"github.com/warp/asset-engine/workflow"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func laptop(id asset.AssetID, code string) asset.Asset {
	next := date(2026, 2, 1)
	return asset.Asset{
		ID:                      id,
		Code:                    code,
		Name:                    "Laptop",
		CategoryID:              "it",
		Quantity:                1,
		BusinessUnitID:          "bu-1",
		Location:                "HQ",
		Status:                  asset.StatusAvailable,
		PurchasePrice:           money.MustParse("1200"),
		SalvageValue:            money.MustParse("0"),
		CurrentBookValue:        money.MustParse("1200"),
		AccumulatedDepreciation: money.Zero,
		MonthlyDepreciation:     money.MustParse("100"),
		Depreciation: asset.DepreciationConfig{
			Method:           asset.StraightLine,
			UsefulLifeMonths: 12,
			DepreciationRate: decimal.Zero,
		},
		PurchaseDate:          date(2026, 1, 1),
		DepreciationStartDate: date(2026, 1, 1),
		NextDepreciationDate:  &next,
		CreatedAt:             date(2026, 1, 1),
		UpdatedAt:             date(2026, 1, 1),
	}
}

func insert(t *testing.T, s *sqlite.Store, assets ...asset.Asset) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, asset.RunInTx(ctx, s, func(r asset.Repository) error {
		for _, a := range assets {
			if err := r.InsertAsset(ctx, a); err != nil {
				return err
			}
		}
		return nil
	}))
}

func pendingDeployment(id string, assetID asset.AssetID, number string) asset.DeploymentRecord {
	return asset.DeploymentRecord{
		ID:                id,
		TransmittalNumber: number,
		AssetID:           assetID,
		EmployeeID:        "emp-1",
		Status:            asset.DeploymentPending,
		RequestedBy:       "admin",
		RequestedAt:       date(2026, 3, 1),
		UpdatedAt:         date(2026, 3, 1),
	}
}

func pendingTransfer(id string, assetID asset.AssetID, number string) asset.TransferRecord {
	return asset.TransferRecord{
		ID:                 id,
		TransferNumber:     number,
		AssetID:            assetID,
		FromBusinessUnitID: "bu-1",
		ToBusinessUnitID:   "bu-2",
		Status:             asset.TransferPending,
		TransferCost:       money.Zero,
		InsuranceValue:     money.Zero,
		RequestedBy:        "admin",
		RequestedAt:        date(2026, 3, 1),
		UpdatedAt:          date(2026, 3, 1),
	}
}

// =============================================================================
// ASSETS
// =============================================================================

func TestStore_AssetRoundTrip(t *testing.T) {
	// GIVEN: a declining balance asset with a fractional rate
	ctx := context.Background()
	s := newStore(t)
	a := laptop("a-1", "LT-1")
	a.Depreciation = asset.DepreciationConfig{Method: asset.DecliningBalance, DepreciationRate: decimal.RequireFromString("12.5")}

	// WHEN: it is stored and read back
	insert(t, s, a)
	got, err := s.GetAsset(ctx, "a-1")
	require.NoError(t, err)

	// THEN: every field survives
	assert.Equal(t, "LT-1", got.Code)
	assert.Equal(t, asset.StatusAvailable, got.Status)
	assert.Equal(t, "1200.00", got.PurchasePrice.String())
	assert.Equal(t, "100.00", got.MonthlyDepreciation.String())
	assert.Equal(t, asset.DecliningBalance, got.Depreciation.Method)
	assert.True(t, got.Depreciation.DepreciationRate.Equal(decimal.RequireFromString("12.5")))
	require.NotNil(t, got.NextDepreciationDate)
	assert.Equal(t, date(2026, 2, 1), *got.NextDepreciationDate)
	assert.Equal(t, date(2026, 1, 1), got.PurchaseDate)
	assert.Equal(t, int64(1), got.Version)

	_, err = s.GetAsset(ctx, "missing")
	assert.ErrorIs(t, err, asset.ErrNotFound)
}

func TestStore_StaleWriteIsRejected(t *testing.T) {
	// GIVEN: an asset at version 1
	ctx := context.Background()
	s := newStore(t)
	insert(t, s, laptop("a-1", "LT-1"))
	stale, err := s.GetAsset(ctx, "a-1")
	require.NoError(t, err)

	// WHEN: two writers start from the same version
	fresh := stale
	fresh.Location = "Floor 2"
	require.NoError(t, asset.RunInTx(ctx, s, func(r asset.Repository) error { return r.UpdateAsset(ctx, fresh) }))

	stale.Location = "Floor 9"
	err = asset.RunInTx(ctx, s, func(r asset.Repository) error { return r.UpdateAsset(ctx, stale) })

	// THEN: the second is a retryable conflict and the first write stands
	assert.ErrorIs(t, err, asset.ErrConflict)
	assert.True(t, asset.IsRetryable(err))
	got, err := s.GetAsset(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, "Floor 2", got.Location)
	assert.Equal(t, int64(2), got.Version)
}

func TestStore_CodeUniquePerBusinessUnit(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	insert(t, s, laptop("a-1", "LT-1"))

	dup := laptop("a-2", "lt-1")
	err := asset.RunInTx(ctx, s, func(r asset.Repository) error { return r.InsertAsset(ctx, dup) })
	var ce *asset.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "asset_code", ce.Resource)

	dup.BusinessUnitID = "bu-2"
	require.NoError(t, asset.RunInTx(ctx, s, func(r asset.Repository) error { return r.InsertAsset(ctx, dup) }))

	require.NoError(t, asset.RunInTx(ctx, s, func(r asset.Repository) error {
		taken, err := r.CodeTaken(ctx, "bu-2", "LT-1", "")
		require.NoError(t, err)
		assert.True(t, taken)
		taken, err = r.CodeTaken(ctx, "bu-2", "LT-1", "a-2")
		require.NoError(t, err)
		assert.False(t, taken)
		return nil
	}))
}

func TestStore_RollbackDiscardsWrites(t *testing.T) {
	// GIVEN: a unit of work that writes an asset and history, then fails
	ctx := context.Background()
	s := newStore(t)

	err := asset.RunInTx(ctx, s, func(r asset.Repository) error {
		require.NoError(t, r.InsertAsset(ctx, laptop("a-1", "LT-1")))
		_, err := r.AppendHistory(ctx, asset.HistoryEntry{ID: "h-1", AssetID: "a-1", Kind: asset.HistoryRegistered, Actor: "admin", At: date(2026, 1, 1)})
		require.NoError(t, err)
		return asset.Invalid("x", "forced")
	})

	// THEN: nothing is visible
	assert.ErrorIs(t, err, asset.ErrValidation)
	_, err = s.GetAsset(ctx, "a-1")
	assert.ErrorIs(t, err, asset.ErrNotFound)
	hist, err := s.HistorySince(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

// =============================================================================
// WORKFLOW RECORDS
// =============================================================================

func TestStore_OneActiveDeploymentPerAsset(t *testing.T) {
	// GIVEN: an asset with a pending deployment
	ctx := context.Background()
	s := newStore(t)
	insert(t, s, laptop("a-1", "LT-1"))
	first := pendingDeployment("d-1", "a-1", "DT-2026-000001")
	require.NoError(t, asset.RunInTx(ctx, s, func(r asset.Repository) error { return r.InsertDeployment(ctx, first) }))

	// WHEN: a second active deployment is inserted directly
	err := asset.RunInTx(ctx, s, func(r asset.Repository) error {
		return r.InsertDeployment(ctx, pendingDeployment("d-2", "a-1", "DT-2026-000002"))
	})

	// THEN: the partial unique index rejects it
	var ce *asset.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "d-1", ce.ExistingID)

	// AND: once the first is closed a new one is allowed
	closed := first
	closed.Status = asset.DeploymentCancelled
	require.NoError(t, asset.RunInTx(ctx, s, func(r asset.Repository) error {
		if err := r.UpdateDeployment(ctx, closed); err != nil {
			return err
		}
		return r.InsertDeployment(ctx, pendingDeployment("d-2", "a-1", "DT-2026-000002"))
	}))

	pending, err := s.PendingDeployments(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "d-2", pending[0].ID)
}

func TestStore_OneActiveTransferPerAsset(t *testing.T) {
	// GIVEN: an asset with a pending transfer
	ctx := context.Background()
	s := newStore(t)
	insert(t, s, laptop("a-1", "LT-1"))
	first := pendingTransfer("t-1", "a-1", "TR-2026-000001")
	require.NoError(t, asset.RunInTx(ctx, s, func(r asset.Repository) error { return r.InsertTransfer(ctx, first) }))

	// WHEN: a second active transfer is inserted directly
	err := asset.RunInTx(ctx, s, func(r asset.Repository) error {
		return r.InsertTransfer(ctx, pendingTransfer("t-2", "a-1", "TR-2026-000002"))
	})

	// THEN: the partial unique index rejects it
	var ce *asset.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "transfer", ce.Resource)
	assert.Equal(t, "t-1", ce.ExistingID)

	// AND: a closed transfer no longer counts as active
	closed := first
	closed.Status = asset.TransferRejected
	require.NoError(t, asset.RunInTx(ctx, s, func(r asset.Repository) error {
		if err := r.UpdateTransfer(ctx, closed); err != nil {
			return err
		}
		return r.InsertTransfer(ctx, pendingTransfer("t-2", "a-1", "TR-2026-000002"))
	}))

	pending, err := s.PendingTransfers(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "t-2", pending[0].ID)
}

func TestStore_DeploymentRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	insert(t, s, laptop("a-1", "LT-1"))
	d := pendingDeployment("d-1", "a-1", "DT-2026-000001")
	ret := date(2026, 6, 30)
	d.ExpectedReturnDate = &ret
	d.ConditionNotes = "scratch on lid"

	var got asset.DeploymentRecord
	require.NoError(t, asset.RunInTx(ctx, s, func(r asset.Repository) error {
		if err := r.InsertDeployment(ctx, d); err != nil {
			return err
		}
		var err error
		got, err = r.GetDeployment(ctx, "d-1")
		return err
	}))

	assert.Equal(t, d.TransmittalNumber, got.TransmittalNumber)
	assert.Equal(t, asset.DeploymentPending, got.Status)
	require.NotNil(t, got.ExpectedReturnDate)
	assert.Equal(t, ret, *got.ExpectedReturnDate)
	assert.Nil(t, got.ApprovedAt)
	assert.Equal(t, "scratch on lid", got.ConditionNotes)
}

// =============================================================================
// LEDGER, HISTORY, SEQUENCES
// =============================================================================

func TestStore_DuplicatePeriodIsRejected(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	insert(t, s, laptop("a-1", "LT-1"))
	units := int64(40)
	entry := asset.DepreciationEntry{
		ID: "e-1", AssetID: "a-1", Period: date(2026, 2, 1), PeriodDate: date(2026, 2, 1),
		Method: asset.StraightLine, Amount: money.MustParse("100"),
		BookValueBefore: money.MustParse("1200"), BookValueAfter: money.MustParse("1100"),
		AccumulatedAfter: money.MustParse("100"), UnitsConsumed: &units, PostedAt: date(2026, 2, 1),
	}
	require.NoError(t, asset.RunInTx(ctx, s, func(r asset.Repository) error { return r.AppendEntry(ctx, entry) }))

	again := entry
	again.ID = "e-2"
	err := asset.RunInTx(ctx, s, func(r asset.Repository) error { return r.AppendEntry(ctx, again) })
	assert.ErrorIs(t, err, asset.ErrDuplicatePeriod)

	entries, err := s.Entries(ctx, "a-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, date(2026, 2, 1), entries[0].Period)
	assert.Equal(t, "1100.00", entries[0].BookValueAfter.String())
	require.NotNil(t, entries[0].UnitsConsumed)
	assert.Equal(t, int64(40), *entries[0].UnitsConsumed)

	require.NoError(t, asset.RunInTx(ctx, s, func(r asset.Repository) error {
		latest, err := r.LatestEntry(ctx, "a-1")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, "e-1", latest.ID)
		n, err := r.CountEntries(ctx, "a-1")
		assert.Equal(t, 1, n)
		return err
	}))
}

func TestStore_HistoryCursor(t *testing.T) {
	// GIVEN: three history entries across two assets
	ctx := context.Background()
	s := newStore(t)
	insert(t, s, laptop("a-1", "LT-1"), laptop("a-2", "LT-2"))
	require.NoError(t, asset.RunInTx(ctx, s, func(r asset.Repository) error {
		for i, id := range []asset.AssetID{"a-1", "a-2", "a-1"} {
			h, err := r.AppendHistory(ctx, asset.HistoryEntry{
				ID: string(id) + "-" + string(rune('a'+i)), AssetID: id, Kind: asset.HistoryStatusChanged,
				Actor: "admin", Details: map[string]string{"n": string(rune('0' + i))}, At: date(2026, 3, i+1),
			})
			require.NoError(t, err)
			assert.Equal(t, int64(i+1), h.Seq)
		}
		return nil
	}))

	// WHEN: a consumer reads after seq 1
	page, err := s.HistorySince(ctx, 1, 10)
	require.NoError(t, err)

	// THEN: it sees the later two in order with details intact
	require.Len(t, page, 2)
	assert.Equal(t, int64(2), page[0].Seq)
	assert.Equal(t, "2", page[1].Details["n"])

	perAsset, err := s.History(ctx, "a-1")
	require.NoError(t, err)
	assert.Len(t, perAsset, 2)
}

func TestStore_NextSequence(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	var got []int64
	for range 3 {
		require.NoError(t, asset.RunInTx(ctx, s, func(r asset.Repository) error {
			n, err := r.NextSequence(ctx, "DT-2026")
			got = append(got, n)
			return err
		}))
	}
	require.NoError(t, asset.RunInTx(ctx, s, func(r asset.Repository) error {
		n, err := r.NextSequence(ctx, "TR-2026")
		assert.Equal(t, int64(1), n)
		return err
	}))

	assert.Equal(t, []int64{1, 2, 3}, got)
}

// =============================================================================
// PROJECTIONS AND FEEDS
// =============================================================================

func TestStore_DueForDepreciation(t *testing.T) {
	// GIVEN: due, not yet due, retired, fully depreciated and in-transit assets
	ctx := context.Background()
	s := newStore(t)
	due := laptop("due", "A")
	later := laptop("later", "B")
	next := date(2026, 9, 1)
	later.NextDepreciationDate = &next
	retired := laptop("retired", "C")
	retired.Status = asset.StatusRetired
	done := laptop("done", "D")
	done.IsFullyDepreciated = true
	moving := laptop("moving", "E")
	insert(t, s, due, later, retired, done, moving)
	require.NoError(t, asset.RunInTx(ctx, s, func(r asset.Repository) error {
		return r.InsertTransfer(ctx, asset.TransferRecord{
			ID: "t-1", TransferNumber: "TR-2026-000001", AssetID: "moving",
			FromBusinessUnitID: "bu-1", ToBusinessUnitID: "bu-2", Status: asset.TransferInTransit,
			TransferCost: money.Zero, InsuranceValue: money.Zero,
			RequestedBy: "admin", RequestedAt: date(2026, 1, 5), UpdatedAt: date(2026, 1, 5),
		})
	}))

	// WHEN: the scheduler asks what is due on March 1st
	got, err := s.DueForDepreciation(ctx, date(2026, 3, 1))
	require.NoError(t, err)

	// THEN: only the due asset is returned
	require.Len(t, got, 1)
	assert.Equal(t, asset.AssetID("due"), got[0].ID)

	eligible, err := s.EligibleForTransfer(ctx)
	require.NoError(t, err)
	for _, a := range eligible {
		assert.NotEqual(t, asset.AssetID("moving"), a.ID)
	}
	disposable, err := s.EligibleForDisposal(ctx)
	require.NoError(t, err)
	assert.Len(t, disposable, 4)
}

func TestStore_UsageReadings(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.RecordUsage(ctx, asset.UsageReading{AssetID: "a-1", Period: date(2026, 2, 17), Units: 300}))
	require.NoError(t, s.RecordUsage(ctx, asset.UsageReading{AssetID: "a-1", Period: date(2026, 2, 1), Units: 450}))

	units, ok, err := s.UnitsConsumed(ctx, "a-1", date(2026, 2, 28))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(450), units)

	_, ok, err = s.UnitsConsumed(ctx, "a-1", date(2026, 3, 1))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Directory(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.SaveBusinessUnit(ctx, asset.BusinessUnit{ID: "bu-1", Name: "HQ", Active: true}))
	require.NoError(t, s.SaveEmployee(ctx, asset.Employee{ID: "emp-1", Name: "Alex", BusinessUnitID: "bu-1", Active: true}))
	require.NoError(t, s.SaveEmployee(ctx, asset.Employee{ID: "emp-1", Name: "Alex", BusinessUnitID: "bu-1", Active: false}))

	e, err := s.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	assert.False(t, e.Active)
	_, err = s.GetBusinessUnit(ctx, "bu-9")
	assert.ErrorIs(t, err, asset.ErrNotFound)

	units, err := s.ListBusinessUnits(ctx)
	require.NoError(t, err)
	assert.Len(t, units, 1)
}

// =============================================================================
// END TO END ON SQLITE
// =============================================================================

func newService(t *testing.T, s *sqlite.Store) *workflow.Service {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SaveBusinessUnit(ctx, asset.BusinessUnit{ID: "bu-1", Name: "HQ", Active: true}))
	require.NoError(t, s.SaveBusinessUnit(ctx, asset.BusinessUnit{ID: "bu-2", Name: "Plant", Active: true}))
	require.NoError(t, s.SaveEmployee(ctx, asset.Employee{ID: "emp-1", Name: "Alex", BusinessUnitID: "bu-1", Active: true}))
	return &workflow.Service{
		Store:     s,
		Directory: s,
		Now:       func() time.Time { return date(2026, 3, 10) },
	}
}

func register(t *testing.T, svc *workflow.Service, code string) asset.Asset {
	t.Helper()
	a, err := svc.RegisterAsset(context.Background(), "admin", workflow.Registration{
		Code: code, Name: "Press", Quantity: 1, BusinessUnitID: "bu-1",
		PurchasePrice: money.MustParse("1200"), SalvageValue: money.Zero,
		Method: asset.StraightLine, UsefulLifeMonths: 12, PurchaseDate: date(2026, 1, 1),
	})
	require.NoError(t, err)
	return a
}

func TestSQLite_ConcurrentDeploymentRequestsOneWins(t *testing.T) {
	// GIVEN: one available asset
	ctx := context.Background()
	s := newStore(t)
	svc := newService(t, s)
	a := register(t, svc, "PR-1")

	// WHEN: eight callers race for it
	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.RequestDeployment(ctx, "admin", workflow.DeploymentRequest{AssetID: a.ID, EmployeeID: "emp-1"})
		}()
	}
	wg.Wait()

	// THEN: one wins, everyone else gets a conflict
	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, asset.ErrConflict)
	}
	assert.Equal(t, 1, wins)
}

func TestSQLite_ConcurrentTransferRequestsOneWins(t *testing.T) {
	// GIVEN: one available asset in bu-1
	ctx := context.Background()
	s := newStore(t)
	svc := newService(t, s)
	a := register(t, svc, "PR-1")

	// WHEN: eight callers request a transfer to bu-2 at once
	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.RequestTransfer(ctx, "admin", workflow.TransferRequest{AssetID: a.ID, ToBusinessUnitID: "bu-2"})
		}()
	}
	wg.Wait()

	// THEN: one wins, everyone else gets a conflict
	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, asset.ErrConflict)
	}
	assert.Equal(t, 1, wins)

	pending, err := s.PendingTransfers(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestSQLite_LifecycleScenario(t *testing.T) {
	// GIVEN: a 1,200 press depreciated over 12 months
	ctx := context.Background()
	s := newStore(t)
	svc := newService(t, s)
	sched := &depreciation.Scheduler{Store: s, Usage: s, Now: func() time.Time { return date(2026, 3, 10) }}
	a := register(t, svc, "PR-1")

	// WHEN: three months post, then it is deployed and returned
	sum, err := sched.Run(ctx, date(2026, 4, 1))
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Posted)

	d, err := svc.RequestDeployment(ctx, "admin", workflow.DeploymentRequest{AssetID: a.ID, EmployeeID: "emp-1"})
	require.NoError(t, err)
	assert.Equal(t, "DT-2026-000001", d.TransmittalNumber)
	_, err = svc.ApproveDeployment(ctx, "accounting", d.ID, nil)
	require.NoError(t, err)
	_, err = svc.RequestTransfer(ctx, "admin", workflow.TransferRequest{AssetID: a.ID, ToBusinessUnitID: "bu-2"})
	var pe *asset.PreconditionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "asset_deployed", pe.Rule)
	_, err = svc.ReturnDeployment(ctx, "admin", d.ID, "ok")
	require.NoError(t, err)

	// AND: it is transferred to bu-2
	tr, err := svc.RequestTransfer(ctx, "admin", workflow.TransferRequest{AssetID: a.ID, ToBusinessUnitID: "bu-2", ToLocation: "Line 4"})
	require.NoError(t, err)
	_, err = svc.ApproveTransfer(ctx, "accounting", tr.ID)
	require.NoError(t, err)
	_, err = svc.ShipTransfer(ctx, "admin", tr.ID)
	require.NoError(t, err)
	sum, err = sched.Run(ctx, date(2026, 5, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Posted)
	_, err = svc.ReceiveTransfer(ctx, "admin", tr.ID)
	require.NoError(t, err)

	// AND: it is disposed after one more posting
	_, err = sched.Run(ctx, date(2026, 5, 1))
	require.NoError(t, err)
	rec, err := svc.Dispose(ctx, "admin", workflow.DisposalRequest{
		AssetID: a.ID, Reason: asset.DisposalSold, DisposalValue: money.MustParse("900"),
	})
	require.NoError(t, err)

	// THEN: ledger, ownership and gain are consistent
	got, err := s.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.StatusDisposed, got.Status)
	assert.Equal(t, asset.BusinessUnitID("bu-2"), got.BusinessUnitID)
	assert.Equal(t, "400.00", got.AccumulatedDepreciation.String())
	assert.Equal(t, "800.00", rec.BookValueAtDisposal.String())
	assert.Equal(t, "100.00", rec.GainLoss.String())
	assert.Nil(t, got.NextDepreciationDate)

	sum, err = sched.Run(ctx, date(2027, 6, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Posted)

	hist, err := s.History(ctx, a.ID)
	require.NoError(t, err)
	kinds := make([]asset.HistoryKind, 0, len(hist))
	for _, h := range hist {
		kinds = append(kinds, h.Kind)
	}
	assert.Equal(t, asset.HistoryRegistered, kinds[0])
	assert.Equal(t, asset.HistoryDisposed, kinds[len(kinds)-1])
	assert.Contains(t, kinds, asset.HistoryTransferCompleted)
	assert.Contains(t, kinds, asset.HistoryDepreciationPosted)
}
