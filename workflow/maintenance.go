package workflow

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/warp/asset-engine/asset"
	"github.com/warp/asset-engine/money"
)

// StartMaintenance takes an AVAILABLE, DEPLOYED or DAMAGED asset into
// IN_MAINTENANCE and remembers where it came from.
func (s *Service) StartMaintenance(ctx context.Context, actor asset.Actor, id asset.AssetID, description string) (asset.MaintenanceRecord, error) {
	if strings.TrimSpace(description) == "" {
		return asset.MaintenanceRecord{}, asset.Invalid("description", "is required")
	}
	return s.startMaintenance(ctx, actor, id, description, asset.CauseMaintenanceStart)
}

func (s *Service) startMaintenance(ctx context.Context, actor asset.Actor, id asset.AssetID, description string, cause asset.Cause) (asset.MaintenanceRecord, error) {
	var out asset.MaintenanceRecord
	err := s.transact(ctx, "start_maintenance", actor, func(c *change) error {
		a, err := c.r.GetAsset(ctx, id)
		if err != nil {
			return err
		}
		if m, err := c.r.ActiveMaintenance(ctx, a.ID); err != nil {
			return err
		} else if m != nil {
			return &asset.ConflictError{Resource: "maintenance", AssetID: a.ID, ExistingID: m.ID, Message: "asset already has maintenance in progress"}
		}
		if t, err := c.r.ActiveTransfer(ctx, a.ID); err != nil {
			return err
		} else if t != nil && t.Status == asset.TransferInTransit {
			return precondition("asset_in_transit", a.ID, string(a.Status), "asset is in transit under "+t.TransferNumber)
		}

		from := a.Status
		if err := c.moveAsset(&a, asset.StatusInMaintenance, cause); err != nil {
			return err
		}
		out = asset.MaintenanceRecord{
			ID:             uuid.NewString(),
			AssetID:        a.ID,
			Status:         asset.MaintenanceInProgress,
			Description:    description,
			Cost:           money.Zero,
			PreviousStatus: from,
			StartedBy:      c.actor,
			StartedAt:      c.now,
		}
		if err := c.r.InsertMaintenance(ctx, out); err != nil {
			return err
		}
		return c.record(asset.HistoryEntry{
			AssetID:        a.ID,
			Kind:           asset.HistoryMaintenanceStarted,
			RecordID:       out.ID,
			PreviousStatus: from,
			NewStatus:      a.Status,
			Reason:         description,
		})
	})
	return out, err
}

type MaintenanceResult struct {
	Resolution string
	Cost       money.Amount
	// StillDamaged leaves the asset DAMAGED instead of restoring it.
	StillDamaged bool
}

// CompleteMaintenance closes an IN_PROGRESS record and restores the asset:
// DEPLOYED when it went in deployed and its deployment is still out,
// DAMAGED when StillDamaged, AVAILABLE otherwise.
func (s *Service) CompleteMaintenance(ctx context.Context, actor asset.Actor, id string, res MaintenanceResult) (asset.MaintenanceRecord, error) {
	if res.Cost.IsNegative() {
		return asset.MaintenanceRecord{}, asset.Invalid("cost", "must not be negative")
	}

	var out asset.MaintenanceRecord
	err := s.transact(ctx, "complete_maintenance", actor, func(c *change) error {
		m, err := c.r.GetMaintenance(ctx, id)
		if err != nil {
			return err
		}
		if !m.Status.Active() {
			return precondition("maintenance_not_in_progress", m.AssetID, string(m.Status), "maintenance is already completed")
		}
		a, err := c.r.GetAsset(ctx, m.AssetID)
		if err != nil {
			return err
		}

		to := asset.StatusAvailable
		switch {
		case res.StillDamaged:
			to = asset.StatusDamaged
		case m.PreviousStatus == asset.StatusDeployed:
			d, err := c.r.ActiveDeployment(ctx, a.ID)
			if err != nil {
				return err
			}
			if d != nil && d.Status == asset.DeploymentDeployed {
				to = asset.StatusDeployed
			}
		}
		from := a.Status
		if err := c.moveAsset(&a, to, asset.CauseMaintenanceEnd); err != nil {
			return err
		}

		now := c.now
		m.Status = asset.MaintenanceCompleted
		m.Resolution = res.Resolution
		m.Cost = res.Cost.Round()
		m.CompletedBy = c.actor
		m.CompletedAt = &now
		if err := c.r.UpdateMaintenance(ctx, m); err != nil {
			return err
		}
		out = m
		return c.record(asset.HistoryEntry{
			AssetID:        a.ID,
			Kind:           asset.HistoryMaintenanceDone,
			RecordID:       m.ID,
			PreviousStatus: from,
			NewStatus:      a.Status,
			Reason:         res.Resolution,
			Details:        map[string]string{"cost": m.Cost.String()},
		})
	})
	return out, err
}
