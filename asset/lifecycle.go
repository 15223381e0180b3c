package asset

import (
	"fmt"
	"slices"
)

// =============================================================================
// ASSET STATUS
// =============================================================================

type Status string

const (
	StatusAvailable     Status = "AVAILABLE"
	StatusDeployed      Status = "DEPLOYED"
	StatusInMaintenance Status = "IN_MAINTENANCE"
	StatusRetired       Status = "RETIRED"
	StatusLost          Status = "LOST"
	StatusDamaged       Status = "DAMAGED"
	StatusDisposed      Status = "DISPOSED"
)

var statuses = []Status{
	StatusAvailable, StatusDeployed, StatusInMaintenance,
	StatusRetired, StatusLost, StatusDamaged, StatusDisposed,
}

func (s Status) Valid() bool { return slices.Contains(statuses, s) }

// Terminal reports whether nothing can leave this status.
func (s Status) Terminal() bool { return s == StatusDisposed }

// HaltsDepreciation reports whether assets in this status are skipped by the
// scheduler. Transit is a transfer state, not an asset status, and is checked
// separately.
func (s Status) HaltsDepreciation() bool {
	return s == StatusDisposed || s == StatusRetired
}

func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", &ValidationError{Fields: []FieldError{{Field: "status", Message: fmt.Sprintf("unknown status %q", v)}}}
	}
	return s, nil
}

// =============================================================================
// LIFECYCLE TABLE
// =============================================================================
//
// Every asset status change names a Cause. The table below is the single
// place that decides which (from, to) pairs a cause may produce.

type Cause string

const (
	CauseOverride         Cause = "override"
	CauseDeployment       Cause = "deployment"
	CauseReturn           Cause = "return"
	CauseMaintenanceStart Cause = "maintenance_start"
	CauseMaintenanceEnd   Cause = "maintenance_end"
	CauseDisposal         Cause = "disposal"
)

var lifecycle = map[Cause]map[Status][]Status{
	CauseOverride: {
		StatusAvailable: {StatusInMaintenance, StatusRetired, StatusLost, StatusDamaged},
		StatusDeployed:  {StatusInMaintenance, StatusRetired, StatusLost, StatusDamaged},
	},
	CauseDeployment: {
		StatusAvailable: {StatusDeployed},
	},
	CauseReturn: {
		StatusDeployed: {StatusAvailable},
	},
	CauseMaintenanceStart: {
		StatusAvailable: {StatusInMaintenance},
		StatusDeployed:  {StatusInMaintenance},
		StatusDamaged:   {StatusInMaintenance},
	},
	CauseMaintenanceEnd: {
		StatusInMaintenance: {StatusAvailable, StatusDeployed, StatusDamaged},
	},
	CauseDisposal: {
		StatusAvailable:     {StatusDisposed},
		StatusDeployed:      {StatusDisposed},
		StatusInMaintenance: {StatusDisposed},
		StatusRetired:       {StatusDisposed},
		StatusLost:          {StatusDisposed},
		StatusDamaged:       {StatusDisposed},
	},
}

// CanTransition reports whether cause may move an asset from -> to.
func CanTransition(from, to Status, cause Cause) bool {
	return slices.Contains(lifecycle[cause][from], to)
}

// ValidateTransition returns a PreconditionError when the lifecycle table
// does not allow from -> to under cause.
func ValidateTransition(id AssetID, from, to Status, cause Cause) error {
	if !to.Valid() {
		return &ValidationError{Fields: []FieldError{{Field: "status", Message: fmt.Sprintf("unknown status %q", to)}}}
	}
	if CanTransition(from, to, cause) {
		return nil
	}
	rule := "asset_transition_" + string(cause)
	if from.Terminal() {
		rule = "asset_disposed"
	}
	return &PreconditionError{
		Rule:    rule,
		AssetID: id,
		Status:  string(from),
		Message: fmt.Sprintf("%s cannot move asset from %s to %s", cause, from, to),
	}
}

// =============================================================================
// DEPLOYMENT STATUS
// =============================================================================

type DeploymentStatus string

const (
	DeploymentPending   DeploymentStatus = "PENDING_ACCOUNTING_APPROVAL"
	DeploymentApproved  DeploymentStatus = "APPROVED"
	DeploymentDeployed  DeploymentStatus = "DEPLOYED"
	DeploymentReturned  DeploymentStatus = "RETURNED"
	DeploymentRejected  DeploymentStatus = "REJECTED"
	DeploymentCancelled DeploymentStatus = "CANCELLED"
)

var deploymentTransitions = map[DeploymentStatus][]DeploymentStatus{
	DeploymentPending:  {DeploymentApproved, DeploymentRejected, DeploymentCancelled},
	DeploymentApproved: {DeploymentDeployed, DeploymentCancelled},
	DeploymentDeployed: {DeploymentReturned},
}

// Active reports whether the record still holds its asset.
func (s DeploymentStatus) Active() bool {
	return s == DeploymentPending || s == DeploymentApproved || s == DeploymentDeployed
}

func (s DeploymentStatus) CanTransition(to DeploymentStatus) bool {
	return slices.Contains(deploymentTransitions[s], to)
}

// =============================================================================
// TRANSFER STATUS
// =============================================================================

type TransferStatus string

const (
	TransferPending   TransferStatus = "PENDING_APPROVAL"
	TransferApproved  TransferStatus = "APPROVED"
	TransferInTransit TransferStatus = "IN_TRANSIT"
	TransferCompleted TransferStatus = "COMPLETED"
	TransferRejected  TransferStatus = "REJECTED"
	TransferCancelled TransferStatus = "CANCELLED"
)

var transferTransitions = map[TransferStatus][]TransferStatus{
	TransferPending:   {TransferApproved, TransferRejected, TransferCancelled},
	TransferApproved:  {TransferInTransit, TransferCancelled},
	TransferInTransit: {TransferCompleted},
}

func (s TransferStatus) Active() bool {
	return s == TransferPending || s == TransferApproved || s == TransferInTransit
}

func (s TransferStatus) CanTransition(to TransferStatus) bool {
	return slices.Contains(transferTransitions[s], to)
}

// =============================================================================
// MAINTENANCE STATUS
// =============================================================================

type MaintenanceStatus string

const (
	MaintenanceInProgress MaintenanceStatus = "IN_PROGRESS"
	MaintenanceCompleted  MaintenanceStatus = "COMPLETED"
)

func (s MaintenanceStatus) Active() bool { return s == MaintenanceInProgress }

// =============================================================================
// DISPOSAL REASON
// =============================================================================

type DisposalReason string

const (
	DisposalSold                 DisposalReason = "SOLD"
	DisposalDonated              DisposalReason = "DONATED"
	DisposalScrapped             DisposalReason = "SCRAPPED"
	DisposalLost                 DisposalReason = "LOST"
	DisposalStolen               DisposalReason = "STOLEN"
	DisposalTransferred          DisposalReason = "TRANSFERRED"
	DisposalEndOfLife            DisposalReason = "END_OF_LIFE"
	DisposalDamagedBeyondRepair  DisposalReason = "DAMAGED_BEYOND_REPAIR"
	DisposalObsolete             DisposalReason = "OBSOLETE"
	DisposalRegulatoryCompliance DisposalReason = "REGULATORY_COMPLIANCE"
)

var disposalReasons = []DisposalReason{
	DisposalSold, DisposalDonated, DisposalScrapped, DisposalLost, DisposalStolen,
	DisposalTransferred, DisposalEndOfLife, DisposalDamagedBeyondRepair,
	DisposalObsolete, DisposalRegulatoryCompliance,
}

func (r DisposalReason) Valid() bool { return slices.Contains(disposalReasons, r) }
