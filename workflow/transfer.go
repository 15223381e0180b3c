package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/warp/asset-engine/asset"
	"github.com/warp/asset-engine/money"
)

// =============================================================================
// TRANSFER WORKFLOW
// =============================================================================
//
//   PENDING_APPROVAL ──approve──▶ APPROVED ──ship──▶ IN_TRANSIT ──receive──▶ COMPLETED
//          │                         │
//          ├──reject──▶ REJECTED     └──cancel──▶ CANCELLED
//          └──cancel──▶ CANCELLED
//
// The asset keeps its business unit and location until the transfer is
// received. While IN_TRANSIT the scheduler skips it; on completion it
// resumes with the same accumulated depreciation.

type TransferRequest struct {
	AssetID          asset.AssetID
	ToBusinessUnitID asset.BusinessUnitID
	ToLocation       string
	Reason           string
	TransferCost     money.Amount
	InsuranceValue   money.Amount
}

// RequestTransfer opens a transfer to another business unit.
func (s *Service) RequestTransfer(ctx context.Context, actor asset.Actor, in TransferRequest) (asset.TransferRecord, error) {
	var v asset.ValidationError
	if in.AssetID == "" {
		v.Add("asset_id", "is required")
	}
	if in.ToBusinessUnitID == "" {
		v.Add("to_business_unit_id", "is required")
	}
	if in.TransferCost.IsNegative() {
		v.Add("transfer_cost", "must not be negative")
	}
	if in.InsuranceValue.IsNegative() {
		v.Add("insurance_value", "must not be negative")
	}
	if err := v.Err(); err != nil {
		return asset.TransferRecord{}, err
	}
	if err := s.checkBusinessUnit(ctx, "to_business_unit_id", in.ToBusinessUnitID); err != nil {
		return asset.TransferRecord{}, err
	}

	var out asset.TransferRecord
	err := s.transact(ctx, "request_transfer", actor, func(c *change) error {
		a, err := c.r.GetAsset(ctx, in.AssetID)
		if err != nil {
			return err
		}
		if a.Status.Terminal() {
			return precondition("asset_disposed", a.ID, string(a.Status), "disposed assets cannot be transferred")
		}
		if a.BusinessUnitID == in.ToBusinessUnitID {
			return asset.Invalid("to_business_unit_id", "must differ from the current business unit")
		}
		if err := c.ensureNoActiveTransfer(a); err != nil {
			return err
		}
		if a.Status == asset.StatusDeployed {
			return precondition("asset_deployed", a.ID, string(a.Status), "deployed assets cannot be transferred")
		}
		active, err := c.r.ActiveDeployment(ctx, a.ID)
		if err != nil {
			return err
		}
		if active != nil {
			return &asset.ConflictError{Resource: "deployment", AssetID: a.ID, ExistingID: active.ID, Message: "asset has an active deployment " + active.TransmittalNumber}
		}

		number, err := c.number("TR")
		if err != nil {
			return err
		}
		out = asset.TransferRecord{
			ID:                 uuid.NewString(),
			TransferNumber:     number,
			AssetID:            a.ID,
			FromBusinessUnitID: a.BusinessUnitID,
			ToBusinessUnitID:   in.ToBusinessUnitID,
			FromLocation:       a.Location,
			ToLocation:         in.ToLocation,
			Status:             asset.TransferPending,
			Reason:             in.Reason,
			TransferCost:       in.TransferCost.Round(),
			InsuranceValue:     in.InsuranceValue.Round(),
			RequestedBy:        c.actor,
			RequestedAt:        c.now,
			UpdatedAt:          c.now,
		}
		if err := c.r.InsertTransfer(ctx, out); err != nil {
			return err
		}
		return c.record(asset.HistoryEntry{
			AssetID:        a.ID,
			Kind:           asset.HistoryTransferRequested,
			RecordID:       out.ID,
			PreviousStatus: a.Status,
			NewStatus:      a.Status,
			Reason:         in.Reason,
			Details: map[string]string{
				"transfer_number":       number,
				"from_business_unit_id": string(out.FromBusinessUnitID),
				"to_business_unit_id":   string(out.ToBusinessUnitID),
			},
		})
	})
	return out, err
}

// ApproveTransfer moves a pending transfer to APPROVED.
func (s *Service) ApproveTransfer(ctx context.Context, actor asset.Actor, id string) (asset.TransferRecord, error) {
	return s.stepTransfer(ctx, "approve_transfer", actor, id, asset.TransferApproved, asset.HistoryTransferApproved, "",
		func(c *change, t *asset.TransferRecord, _ *asset.Asset) error {
			now := c.now
			t.ApprovedBy = c.actor
			t.ApprovedAt = &now
			return nil
		})
}

// ShipTransfer records the physical hand-off; depreciation pauses until
// the transfer is received.
func (s *Service) ShipTransfer(ctx context.Context, actor asset.Actor, id string) (asset.TransferRecord, error) {
	return s.stepTransfer(ctx, "ship_transfer", actor, id, asset.TransferInTransit, asset.HistoryTransferShipped, "",
		func(c *change, t *asset.TransferRecord, _ *asset.Asset) error {
			now := c.now
			t.ShippedBy = c.actor
			t.ShippedAt = &now
			return nil
		})
}

// ReceiveTransfer completes an IN_TRANSIT transfer. This is the only place
// an asset changes business unit and location.
func (s *Service) ReceiveTransfer(ctx context.Context, actor asset.Actor, id string) (asset.TransferRecord, error) {
	return s.stepTransfer(ctx, "receive_transfer", actor, id, asset.TransferCompleted, asset.HistoryTransferCompleted, "",
		func(c *change, t *asset.TransferRecord, a *asset.Asset) error {
			taken, err := c.r.CodeTaken(c.ctx, t.ToBusinessUnitID, a.Code, a.ID)
			if err != nil {
				return err
			}
			if taken {
				return &asset.ConflictError{
					Resource: "asset_code",
					AssetID:  a.ID,
					Message:  fmt.Sprintf("code %s is already used in business unit %s", a.Code, t.ToBusinessUnitID),
				}
			}
			a.BusinessUnitID = t.ToBusinessUnitID
			if t.ToLocation != "" {
				a.Location = t.ToLocation
			}
			if err := c.saveAsset(a); err != nil {
				return err
			}
			now := c.now
			t.ReceivedBy = c.actor
			t.ReceivedAt = &now
			return nil
		})
}

// RejectTransfer refuses a pending transfer. A reason is mandatory.
func (s *Service) RejectTransfer(ctx context.Context, actor asset.Actor, id, reason string) (asset.TransferRecord, error) {
	if strings.TrimSpace(reason) == "" {
		return asset.TransferRecord{}, asset.Invalid("reason", "is required to reject a transfer")
	}
	return s.stepTransfer(ctx, "reject_transfer", actor, id, asset.TransferRejected, asset.HistoryTransferRejected, reason,
		func(c *change, t *asset.TransferRecord, _ *asset.Asset) error {
			now := c.now
			t.RejectionReason = reason
			t.ClosedBy = c.actor
			t.ClosedAt = &now
			return nil
		})
}

// CancelTransfer withdraws a transfer that has not shipped.
func (s *Service) CancelTransfer(ctx context.Context, actor asset.Actor, id, reason string) (asset.TransferRecord, error) {
	return s.stepTransfer(ctx, "cancel_transfer", actor, id, asset.TransferCancelled, asset.HistoryTransferCancelled, reason,
		func(c *change, t *asset.TransferRecord, _ *asset.Asset) error {
			now := c.now
			t.ClosedBy = c.actor
			t.ClosedAt = &now
			return nil
		})
}

// stepTransfer is the shared shape of every transfer transition: load,
// check the transfer table, apply, save, record.
func (s *Service) stepTransfer(
	ctx context.Context,
	op string,
	actor asset.Actor,
	id string,
	to asset.TransferStatus,
	kind asset.HistoryKind,
	reason string,
	apply func(c *change, t *asset.TransferRecord, a *asset.Asset) error,
) (asset.TransferRecord, error) {
	var out asset.TransferRecord
	err := s.transact(ctx, op, actor, func(c *change) error {
		t, err := c.r.GetTransfer(ctx, id)
		if err != nil {
			return err
		}
		if !t.Status.CanTransition(to) {
			return precondition("transfer_transition", t.AssetID, string(t.Status), "transfer in "+string(t.Status)+" cannot become "+string(to))
		}
		a, err := c.r.GetAsset(ctx, t.AssetID)
		if err != nil {
			return err
		}
		if err := apply(c, &t, &a); err != nil {
			return err
		}
		t.Status = to
		t.UpdatedAt = c.now
		if err := c.r.UpdateTransfer(ctx, t); err != nil {
			return err
		}
		out = t
		return c.record(asset.HistoryEntry{
			AssetID:        a.ID,
			Kind:           kind,
			RecordID:       t.ID,
			PreviousStatus: a.Status,
			NewStatus:      a.Status,
			Reason:         reason,
			Details: map[string]string{
				"transfer_number":       t.TransferNumber,
				"from_business_unit_id": string(t.FromBusinessUnitID),
				"to_business_unit_id":   string(t.ToBusinessUnitID),
			},
		})
	})
	return out, err
}
