package asset_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/asset-engine/asset"
	"github.com/warp/asset-engine/money"
)

// =============================================================================
// LIFECYCLE TABLE
// =============================================================================

func TestLifecycle_OverrideAllowedFromAvailableAndDeployed(t *testing.T) {
	for _, from := range []asset.Status{asset.StatusAvailable, asset.StatusDeployed} {
		for _, to := range []asset.Status{asset.StatusInMaintenance, asset.StatusRetired, asset.StatusLost, asset.StatusDamaged} {
			assert.NoError(t, asset.ValidateTransition("a-1", from, to, asset.CauseOverride), "%s -> %s", from, to)
		}
	}
}

func TestLifecycle_OverrideCannotReturnDeployedAsset(t *testing.T) {
	// GIVEN: a deployed asset
	// WHEN: an admin tries to set it AVAILABLE directly
	err := asset.ValidateTransition("a-1", asset.StatusDeployed, asset.StatusAvailable, asset.CauseOverride)

	// THEN: only the return workflow may do that
	require.Error(t, err)
	assert.ErrorIs(t, err, asset.ErrPrecondition)
}

func TestLifecycle_OverrideFromOtherStatusesRejected(t *testing.T) {
	for _, from := range []asset.Status{asset.StatusInMaintenance, asset.StatusRetired, asset.StatusLost, asset.StatusDamaged} {
		err := asset.ValidateTransition("a-1", from, asset.StatusRetired, asset.CauseOverride)
		assert.ErrorIs(t, err, asset.ErrPrecondition, "from %s", from)
	}
}

func TestLifecycle_NothingLeavesDisposed(t *testing.T) {
	causes := []asset.Cause{
		asset.CauseOverride, asset.CauseDeployment, asset.CauseReturn,
		asset.CauseMaintenanceStart, asset.CauseMaintenanceEnd, asset.CauseDisposal,
	}
	targets := []asset.Status{
		asset.StatusAvailable, asset.StatusDeployed, asset.StatusInMaintenance,
		asset.StatusRetired, asset.StatusLost, asset.StatusDamaged, asset.StatusDisposed,
	}
	for _, c := range causes {
		for _, to := range targets {
			err := asset.ValidateTransition("a-1", asset.StatusDisposed, to, c)
			require.Error(t, err, "%s -> %s", c, to)

			var pe *asset.PreconditionError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, "asset_disposed", pe.Rule)
		}
	}
}

func TestLifecycle_DisposalFromAnyLiveStatus(t *testing.T) {
	for _, from := range []asset.Status{
		asset.StatusAvailable, asset.StatusDeployed, asset.StatusInMaintenance,
		asset.StatusRetired, asset.StatusLost, asset.StatusDamaged,
	} {
		assert.True(t, asset.CanTransition(from, asset.StatusDisposed, asset.CauseDisposal), "from %s", from)
	}
}

func TestLifecycle_UnknownTargetIsValidationError(t *testing.T) {
	err := asset.ValidateTransition("a-1", asset.StatusAvailable, asset.Status("BROKEN"), asset.CauseOverride)
	assert.ErrorIs(t, err, asset.ErrValidation)
}

func TestParseStatus(t *testing.T) {
	s, err := asset.ParseStatus("DAMAGED")
	require.NoError(t, err)
	assert.Equal(t, asset.StatusDamaged, s)

	_, err = asset.ParseStatus("damaged")
	assert.ErrorIs(t, err, asset.ErrValidation)
}

func TestMethodValid(t *testing.T) {
	for _, m := range asset.Methods {
		assert.True(t, m.Valid(), m)
	}
	assert.False(t, asset.Method("DOUBLE_DECLINING").Valid())
	assert.False(t, asset.Method("").Valid())
}

func TestWorkflowStatusTables(t *testing.T) {
	assert.True(t, asset.DeploymentPending.CanTransition(asset.DeploymentApproved))
	assert.True(t, asset.DeploymentApproved.CanTransition(asset.DeploymentDeployed))
	assert.False(t, asset.DeploymentDeployed.CanTransition(asset.DeploymentCancelled))
	assert.False(t, asset.DeploymentReturned.CanTransition(asset.DeploymentDeployed))

	assert.True(t, asset.TransferApproved.CanTransition(asset.TransferInTransit))
	assert.False(t, asset.TransferPending.CanTransition(asset.TransferCompleted))
	assert.False(t, asset.TransferInTransit.CanTransition(asset.TransferCancelled))
	assert.False(t, asset.TransferCompleted.CanTransition(asset.TransferCompleted))

	assert.True(t, asset.TransferInTransit.Active())
	assert.False(t, asset.TransferRejected.Active())
	assert.True(t, asset.DeploymentDeployed.Active())
	assert.False(t, asset.DeploymentReturned.Active())
}

func TestHaltsDepreciation(t *testing.T) {
	assert.True(t, asset.StatusDisposed.HaltsDepreciation())
	assert.True(t, asset.StatusRetired.HaltsDepreciation())
	assert.False(t, asset.StatusDeployed.HaltsDepreciation())
	assert.False(t, asset.StatusInMaintenance.HaltsDepreciation())
}

// =============================================================================
// ASSET INVARIANTS
// =============================================================================

func TestCheckInvariants(t *testing.T) {
	a := asset.Asset{
		ID:                      "a-1",
		PurchasePrice:           money.MustParse("1000"),
		SalvageValue:            money.MustParse("100"),
		CurrentBookValue:        money.MustParse("700"),
		AccumulatedDepreciation: money.MustParse("300"),
	}
	assert.NoError(t, a.CheckInvariants())

	below := a
	below.CurrentBookValue = money.MustParse("99.99")
	below.AccumulatedDepreciation = money.MustParse("900.01")
	assert.ErrorIs(t, below.CheckInvariants(), asset.ErrPrecondition)

	drift := a
	drift.AccumulatedDepreciation = money.MustParse("300.01")
	assert.ErrorIs(t, drift.CheckInvariants(), asset.ErrPrecondition)
}

func TestDueAt(t *testing.T) {
	next := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	a := asset.Asset{NextDepreciationDate: &next}

	assert.False(t, a.DueAt(next.Add(-time.Second)))
	assert.True(t, a.DueAt(next))

	a.IsFullyDepreciated = true
	assert.False(t, a.DueAt(next))

	a.IsFullyDepreciated = false
	a.NextDepreciationDate = nil
	assert.False(t, a.DueAt(next))
}

func TestComputeGainLoss(t *testing.T) {
	// (5000 - 200) - 4000 = 800 gain
	gl := asset.ComputeGainLoss(money.MustParse("4000"), money.MustParse("5000"), money.MustParse("200"))
	assert.Equal(t, "800.00", gl.String())

	// scrapped at a cost: (0 - 150) - 2500 = -2650 loss
	gl = asset.ComputeGainLoss(money.MustParse("2500"), money.Zero, money.MustParse("150"))
	assert.Equal(t, "-2650.00", gl.String())
}

func TestPeriodOf(t *testing.T) {
	p := asset.PeriodOf(time.Date(2026, 3, 17, 15, 4, 5, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), p)
}

// =============================================================================
// ERRORS
// =============================================================================

func TestErrors_UnwrapToSentinels(t *testing.T) {
	var v asset.ValidationError
	assert.NoError(t, v.Err())
	v.Add("purchase_price", "must not be negative")
	v.Add("quantity", "must be at least 1")
	err := v.Err()
	assert.ErrorIs(t, err, asset.ErrValidation)
	assert.Contains(t, err.Error(), "purchase_price")
	assert.Contains(t, err.Error(), "quantity")

	conflict := fmt.Errorf("request deployment: %w", &asset.ConflictError{Resource: "deployment", ExistingID: "d-1"})
	assert.ErrorIs(t, conflict, asset.ErrConflict)
	assert.True(t, asset.IsClientError(conflict))

	dup := &asset.ConflictError{Resource: "depreciation_entry", Cause: asset.ErrDuplicatePeriod}
	assert.ErrorIs(t, dup, asset.ErrConflict)
	assert.ErrorIs(t, dup, asset.ErrDuplicatePeriod)

	stale := &asset.ConflictError{Resource: "asset", Cause: asset.ErrStaleWrite}
	assert.True(t, asset.IsRetryable(stale))

	calc := &asset.CalculationError{AssetID: "a-1", Method: asset.UnitsOfProduction, Reason: "no usage reading"}
	assert.ErrorIs(t, calc, asset.ErrCalculation)
	assert.False(t, asset.IsClientError(calc))

	assert.ErrorIs(t, asset.NotFound("asset", "a-9"), asset.ErrNotFound)
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

type fakeTx struct {
	asset.Repository
	committed, rolledBack bool
	commitErr            error
}

func (f *fakeTx) Commit() error   { f.committed = true; return f.commitErr }
func (f *fakeTx) Rollback() error { f.rolledBack = true; return nil }

type fakeBeginner struct{ tx *fakeTx }

func (b *fakeBeginner) Begin(context.Context) (asset.Tx, error) { return b.tx, nil }

func TestRunInTx_CommitsOnSuccess(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	err := asset.RunInTx(context.Background(), b, func(asset.Repository) error { return nil })
	require.NoError(t, err)
	assert.True(t, b.tx.committed)
	assert.False(t, b.tx.rolledBack)
}

func TestRunInTx_RollsBackOnError(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	boom := errors.New("boom")
	err := asset.RunInTx(context.Background(), b, func(asset.Repository) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, b.tx.committed)
	assert.True(t, b.tx.rolledBack)
}

func TestRunInTx_RollsBackOnPanic(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	assert.Panics(t, func() {
		_ = asset.RunInTx(context.Background(), b, func(asset.Repository) error { panic("bad") })
	})
	assert.True(t, b.tx.rolledBack)
}

func TestRunInTx_SurfacesCommitError(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{commitErr: errors.New("disk full")}}
	err := asset.RunInTx(context.Background(), b, func(asset.Repository) error { return nil })
	assert.ErrorContains(t, err, "disk full")
}

// =============================================================================
// EVENTS
// =============================================================================

func TestChannelPublisher_DropsWhenFull(t *testing.T) {
	p := asset.NewChannelPublisher(2)
	ctx := context.Background()

	p.Publish(ctx, asset.HistoryEntry{Seq: 1}, asset.HistoryEntry{Seq: 2}, asset.HistoryEntry{Seq: 3})

	assert.Equal(t, int64(1), p.Dropped())
	assert.Equal(t, int64(1), (<-p.Events()).Seq)
	assert.Equal(t, int64(2), (<-p.Events()).Seq)
}

func TestPublishers_FanOut(t *testing.T) {
	a := asset.NewChannelPublisher(1)
	b := asset.NewChannelPublisher(1)
	asset.Publishers{a, b, asset.Discard}.Publish(context.Background(), asset.HistoryEntry{Seq: 7})

	assert.Equal(t, int64(7), (<-a.Events()).Seq)
	assert.Equal(t, int64(7), (<-b.Events()).Seq)
}
