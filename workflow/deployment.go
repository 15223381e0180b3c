package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/asset-engine/asset"
)

// =============================================================================
// DEPLOYMENT WORKFLOW
// =============================================================================
//
//   PENDING_ACCOUNTING_APPROVAL ──approve──▶ APPROVED ──▶ DEPLOYED ──return──▶ RETURNED
//            │                                  │
//            ├──reject──▶ REJECTED              └──cancel──▶ CANCELLED
//            └──cancel──▶ CANCELLED
//
// Approval moves the record through APPROVED to DEPLOYED in one unit of
// work and flips the asset AVAILABLE -> DEPLOYED.

type DeploymentRequest struct {
	AssetID            asset.AssetID
	EmployeeID         asset.EmployeeID
	ExpectedReturnDate *time.Time
	ConditionNotes     string
}

// RequestDeployment opens a deployment awaiting accounting approval.
func (s *Service) RequestDeployment(ctx context.Context, actor asset.Actor, in DeploymentRequest) (asset.DeploymentRecord, error) {
	var v asset.ValidationError
	if in.AssetID == "" {
		v.Add("asset_id", "is required")
	}
	if in.EmployeeID == "" {
		v.Add("employee_id", "is required")
	}
	if err := v.Err(); err != nil {
		return asset.DeploymentRecord{}, err
	}
	if err := s.checkEmployee(ctx, in.EmployeeID); err != nil {
		return asset.DeploymentRecord{}, err
	}

	var out asset.DeploymentRecord
	err := s.transact(ctx, "request_deployment", actor, func(c *change) error {
		a, err := c.r.GetAsset(ctx, in.AssetID)
		if err != nil {
			return err
		}
		if in.ExpectedReturnDate != nil && in.ExpectedReturnDate.Before(c.now) {
			return asset.Invalid("expected_return_date", "must not be in the past")
		}

		if a.Status.Terminal() {
			return precondition("asset_disposed", a.ID, string(a.Status), "disposed assets cannot be deployed")
		}
		if a.Status != asset.StatusAvailable {
			return precondition("asset_not_available", a.ID, string(a.Status), "only AVAILABLE assets can be deployed")
		}
		// A pending request leaves the asset AVAILABLE; two of them conflict.
		active, err := c.r.ActiveDeployment(ctx, a.ID)
		if err != nil {
			return err
		}
		if active != nil {
			return &asset.ConflictError{Resource: "deployment", AssetID: a.ID, ExistingID: active.ID, Message: "asset already has an active deployment " + active.TransmittalNumber}
		}
		if err := c.ensureNoActiveTransfer(a); err != nil {
			return err
		}

		number, err := c.number("DT")
		if err != nil {
			return err
		}
		out = asset.DeploymentRecord{
			ID:                 uuid.NewString(),
			TransmittalNumber:  number,
			AssetID:            a.ID,
			EmployeeID:         in.EmployeeID,
			Status:             asset.DeploymentPending,
			ExpectedReturnDate: in.ExpectedReturnDate,
			ConditionNotes:     in.ConditionNotes,
			RequestedBy:        c.actor,
			RequestedAt:        c.now,
			UpdatedAt:          c.now,
		}
		if err := c.r.InsertDeployment(ctx, out); err != nil {
			return err
		}
		return c.record(asset.HistoryEntry{
			AssetID:        a.ID,
			Kind:           asset.HistoryDeploymentRequested,
			RecordID:       out.ID,
			PreviousStatus: a.Status,
			NewStatus:      a.Status,
			Details:        map[string]string{"transmittal_number": number, "employee_id": string(in.EmployeeID)},
		})
	})
	return out, err
}

// ApproveDeployment approves a pending deployment and hands the asset over.
// deployedDate defaults to the approval time.
func (s *Service) ApproveDeployment(ctx context.Context, actor asset.Actor, id string, deployedDate *time.Time) (asset.DeploymentRecord, error) {
	var out asset.DeploymentRecord
	err := s.transact(ctx, "approve_deployment", actor, func(c *change) error {
		d, err := c.r.GetDeployment(ctx, id)
		if err != nil {
			return err
		}
		if !d.Status.CanTransition(asset.DeploymentApproved) {
			return precondition("deployment_not_pending", d.AssetID, string(d.Status), "only pending deployments can be approved")
		}
		a, err := c.r.GetAsset(ctx, d.AssetID)
		if err != nil {
			return err
		}
		from := a.Status
		if err := c.moveAsset(&a, asset.StatusDeployed, asset.CauseDeployment); err != nil {
			return err
		}

		// APPROVED is passed through; ApprovedBy/At keep the approval.
		now := c.now
		d.ApprovedBy = c.actor
		d.ApprovedAt = &now
		d.Status = asset.DeploymentDeployed
		switch {
		case deployedDate != nil:
			d.DeployedDate = deployedDate
		case d.DeployedDate == nil:
			d.DeployedDate = &now
		}
		d.UpdatedAt = now
		if err := c.r.UpdateDeployment(ctx, d); err != nil {
			return err
		}
		out = d
		return c.record(asset.HistoryEntry{
			AssetID:        a.ID,
			Kind:           asset.HistoryDeploymentApproved,
			RecordID:       d.ID,
			PreviousStatus: from,
			NewStatus:      a.Status,
			Details:        map[string]string{"transmittal_number": d.TransmittalNumber, "employee_id": string(d.EmployeeID)},
		})
	})
	return out, err
}

// RejectDeployment refuses a pending deployment. A reason is mandatory.
func (s *Service) RejectDeployment(ctx context.Context, actor asset.Actor, id, reason string) (asset.DeploymentRecord, error) {
	if strings.TrimSpace(reason) == "" {
		return asset.DeploymentRecord{}, asset.Invalid("reason", "is required to reject a deployment")
	}
	return s.closeDeployment(ctx, "reject_deployment", actor, id, asset.DeploymentRejected, asset.HistoryDeploymentRejected, reason)
}

// CancelDeployment withdraws a deployment that has not been handed over.
func (s *Service) CancelDeployment(ctx context.Context, actor asset.Actor, id, reason string) (asset.DeploymentRecord, error) {
	return s.closeDeployment(ctx, "cancel_deployment", actor, id, asset.DeploymentCancelled, asset.HistoryDeploymentCancelled, reason)
}

func (s *Service) closeDeployment(ctx context.Context, op string, actor asset.Actor, id string, to asset.DeploymentStatus, kind asset.HistoryKind, reason string) (asset.DeploymentRecord, error) {
	var out asset.DeploymentRecord
	err := s.transact(ctx, op, actor, func(c *change) error {
		d, err := c.r.GetDeployment(ctx, id)
		if err != nil {
			return err
		}
		if !d.Status.CanTransition(to) {
			return precondition("deployment_transition", d.AssetID, string(d.Status), "deployment in "+string(d.Status)+" cannot become "+string(to))
		}
		a, err := c.r.GetAsset(ctx, d.AssetID)
		if err != nil {
			return err
		}

		now := c.now
		d.Status = to
		if to == asset.DeploymentRejected {
			d.RejectionReason = reason
		}
		d.ClosedBy = c.actor
		d.ClosedAt = &now
		d.UpdatedAt = now
		if err := c.r.UpdateDeployment(ctx, d); err != nil {
			return err
		}
		out = d
		return c.record(asset.HistoryEntry{
			AssetID:        a.ID,
			Kind:           kind,
			RecordID:       d.ID,
			PreviousStatus: a.Status,
			NewStatus:      a.Status,
			Reason:         reason,
			Details:        map[string]string{"transmittal_number": d.TransmittalNumber},
		})
	})
	return out, err
}

// ReturnDeployment closes a DEPLOYED record. The asset becomes AVAILABLE
// again if it is still DEPLOYED; an asset overridden to LOST or DAMAGED
// while out keeps that status.
func (s *Service) ReturnDeployment(ctx context.Context, actor asset.Actor, id, returnCondition string) (asset.DeploymentRecord, error) {
	var out asset.DeploymentRecord
	err := s.transact(ctx, "return_deployment", actor, func(c *change) error {
		d, err := c.r.GetDeployment(ctx, id)
		if err != nil {
			return err
		}
		if !d.Status.CanTransition(asset.DeploymentReturned) {
			return precondition("deployment_not_deployed", d.AssetID, string(d.Status), "only DEPLOYED deployments can be returned")
		}
		a, err := c.r.GetAsset(ctx, d.AssetID)
		if err != nil {
			return err
		}
		from := a.Status
		if a.Status == asset.StatusDeployed {
			if err := c.moveAsset(&a, asset.StatusAvailable, asset.CauseReturn); err != nil {
				return err
			}
		}

		now := c.now
		d.Status = asset.DeploymentReturned
		d.ReturnedDate = &now
		d.ReturnCondition = returnCondition
		d.ClosedBy = c.actor
		d.ClosedAt = &now
		d.UpdatedAt = now
		if err := c.r.UpdateDeployment(ctx, d); err != nil {
			return err
		}
		out = d
		return c.record(asset.HistoryEntry{
			AssetID:        a.ID,
			Kind:           asset.HistoryDeploymentReturned,
			RecordID:       d.ID,
			PreviousStatus: from,
			NewStatus:      a.Status,
			Details:        map[string]string{"transmittal_number": d.TransmittalNumber, "return_condition": returnCondition},
		})
	})
	return out, err
}
