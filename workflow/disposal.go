package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/warp/asset-engine/asset"
	"github.com/warp/asset-engine/money"
)

type DisposalRequest struct {
	AssetID       asset.AssetID
	Reason        asset.DisposalReason
	DisposalDate  time.Time // defaults to now
	DisposalValue money.Amount
	DisposalCost  money.Amount
	Notes         string
}

// Dispose is the terminal transition of an asset. It snapshots the book
// value, computes gain or loss and stops depreciation for good. There is no
// reversal.
func (s *Service) Dispose(ctx context.Context, actor asset.Actor, in DisposalRequest) (asset.DisposalRecord, error) {
	var v asset.ValidationError
	if in.AssetID == "" {
		v.Add("asset_id", "is required")
	}
	if !in.Reason.Valid() {
		v.Add("reason", fmt.Sprintf("unknown disposal reason %q", in.Reason))
	}
	if in.DisposalValue.IsNegative() {
		v.Add("disposal_value", "must not be negative")
	}
	if in.DisposalCost.IsNegative() {
		v.Add("disposal_cost", "must not be negative")
	}
	if err := v.Err(); err != nil {
		return asset.DisposalRecord{}, err
	}

	var out asset.DisposalRecord
	err := s.transact(ctx, "dispose", actor, func(c *change) error {
		a, err := c.r.GetAsset(ctx, in.AssetID)
		if err != nil {
			return err
		}
		if a.Status.Terminal() {
			return precondition("asset_disposed", a.ID, string(a.Status), "asset is already disposed")
		}
		if d, err := c.r.ActiveDeployment(ctx, a.ID); err != nil {
			return err
		} else if d != nil {
			return precondition("asset_has_active_deployment", a.ID, string(a.Status), "deployment "+d.TransmittalNumber+" must be closed first")
		}
		if t, err := c.r.ActiveTransfer(ctx, a.ID); err != nil {
			return err
		} else if t != nil {
			return precondition("asset_has_active_transfer", a.ID, string(a.Status), "transfer "+t.TransferNumber+" must be closed first")
		}
		if m, err := c.r.ActiveMaintenance(ctx, a.ID); err != nil {
			return err
		} else if m != nil {
			return precondition("asset_in_maintenance", a.ID, string(a.Status), "maintenance "+m.ID+" must be completed first")
		}

		date := in.DisposalDate
		if date.IsZero() {
			date = c.now
		}
		value, cost := in.DisposalValue.Round(), in.DisposalCost.Round()
		out = asset.DisposalRecord{
			ID:                  uuid.NewString(),
			AssetID:             a.ID,
			Reason:              in.Reason,
			DisposalDate:        date.UTC(),
			BookValueAtDisposal: a.CurrentBookValue,
			DisposalValue:       value,
			DisposalCost:        cost,
			GainLoss:            asset.ComputeGainLoss(a.CurrentBookValue, value, cost),
			Notes:               in.Notes,
			DisposedBy:          c.actor,
			CreatedAt:           c.now,
		}
		if err := c.r.InsertDisposal(ctx, out); err != nil {
			return err
		}

		from := a.Status
		a.NextDepreciationDate = nil
		if err := c.moveAsset(&a, asset.StatusDisposed, asset.CauseDisposal); err != nil {
			return err
		}
		return c.record(asset.HistoryEntry{
			AssetID:        a.ID,
			Kind:           asset.HistoryDisposed,
			RecordID:       out.ID,
			PreviousStatus: from,
			NewStatus:      a.Status,
			Reason:         string(in.Reason),
			Details: map[string]string{
				"book_value": out.BookValueAtDisposal.String(),
				"gain_loss":  out.GainLoss.String(),
			},
		})
	})
	return out, err
}
