/*
Package asset defines the data model of the asset lifecycle engine.

PURPOSE:
  This package holds the types every other package agrees on: the Asset
  aggregate, its workflow records (deployment, transfer, maintenance,
  disposal), the append-only depreciation ledger and history, the closed
  status enums with their transition tables, the error taxonomy and the
  persistence contracts.

KEY CONCEPTS IN THIS FILE (types.go):
  - Asset: the tracked item, with financial and depreciation fields
  - DepreciationConfig: method plus method-specific parameters
  - *Record: one workflow instance linked to one asset
  - DepreciationEntry: one immutable ledger line per posted period
  - HistoryEntry: one immutable audit line per transition or posting

DESIGN PRINCIPLES:
  1. Money is money.Amount, never float64
  2. Nothing is deleted: disposal and retirement are status transitions
  3. Ledger and history are append-only
  4. Every mutation names its Actor explicitly

SEE ALSO:
  - lifecycle.go: status enums and transition tables
  - errors.go: validation / conflict / precondition / calculation errors
  - store.go: unit of work and read-only query surfaces
*/
package asset

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/asset-engine/money"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AssetID string
type BusinessUnitID string
type EmployeeID string

// Actor identifies who performed an operation. The session layer resolves it;
// the core only records it.
type Actor string

// System is the actor used by the depreciation scheduler.
const System Actor = "system"

// =============================================================================
// ASSET - The tracked item
// =============================================================================

type Asset struct {
	ID             AssetID
	Code           string // unique per business unit
	Name           string
	CategoryID     string
	Quantity       int
	BusinessUnitID BusinessUnitID
	Location       string
	Status         Status

	// Financial fields. Mutated only by the depreciation scheduler.
	PurchasePrice           money.Amount
	SalvageValue            money.Amount
	CurrentBookValue        money.Amount
	AccumulatedDepreciation money.Amount
	MonthlyDepreciation     money.Amount

	Depreciation          DepreciationConfig
	PurchaseDate          time.Time
	DepreciationStartDate time.Time
	NextDepreciationDate  *time.Time // nil once depreciation is over for good
	IsFullyDepreciated    bool

	// Version is bumped on every update; stores reject stale writes.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DepreciableBase is purchase price minus salvage value.
func (a Asset) DepreciableBase() money.Amount {
	return a.PurchasePrice.Sub(a.SalvageValue)
}

// RemainingDepreciable is how far book value may still fall.
func (a Asset) RemainingDepreciable() money.Amount {
	return a.CurrentBookValue.Sub(a.SalvageValue)
}

// CheckInvariants verifies the two financial invariants of an asset:
// book value never below salvage, and accumulated = price - book value.
func (a Asset) CheckInvariants() error {
	if a.CurrentBookValue.LessThan(a.SalvageValue) {
		return &PreconditionError{
			Rule:    "book_value_above_salvage",
			AssetID: a.ID,
			Message: "current book value " + a.CurrentBookValue.String() + " is below salvage value " + a.SalvageValue.String(),
		}
	}
	if !a.PurchasePrice.Sub(a.CurrentBookValue).Equal(a.AccumulatedDepreciation) {
		return &PreconditionError{
			Rule:    "accumulated_matches_book_value",
			AssetID: a.ID,
			Message: "accumulated depreciation " + a.AccumulatedDepreciation.String() + " does not match purchase price minus book value",
		}
	}
	return nil
}

// DueAt reports whether the asset has a depreciation period due at asOf.
// Status and transfer checks are the scheduler's business.
func (a Asset) DueAt(asOf time.Time) bool {
	return !a.IsFullyDepreciated && a.NextDepreciationDate != nil && !a.NextDepreciationDate.After(asOf)
}

// =============================================================================
// DEPRECIATION CONFIGURATION
// =============================================================================

type Method string

const (
	StraightLine      Method = "STRAIGHT_LINE"
	DecliningBalance  Method = "DECLINING_BALANCE"
	UnitsOfProduction Method = "UNITS_OF_PRODUCTION"
	SumOfYearsDigits  Method = "SUM_OF_YEARS_DIGITS"
)

// Methods lists every supported depreciation method.
var Methods = []Method{StraightLine, DecliningBalance, UnitsOfProduction, SumOfYearsDigits}

func (m Method) Valid() bool { return slices.Contains(Methods, m) }

type DepreciationConfig struct {
	Method           Method
	UsefulLifeMonths int

	// DepreciationRate is the annual percentage for declining balance (20 = 20%).
	DepreciationRate decimal.Decimal

	// TotalExpectedUnits is the lifetime output for units of production.
	TotalExpectedUnits int64
}

// =============================================================================
// WORKFLOW RECORDS
// =============================================================================

// DeploymentRecord assigns one asset to one employee for a bounded period.
type DeploymentRecord struct {
	ID                 string
	TransmittalNumber  string
	AssetID            AssetID
	EmployeeID         EmployeeID
	Status             DeploymentStatus
	DeployedDate       *time.Time
	ExpectedReturnDate *time.Time
	ReturnedDate       *time.Time
	ConditionNotes     string
	ReturnCondition    string
	RejectionReason    string

	RequestedBy Actor
	RequestedAt time.Time
	ApprovedBy  Actor
	ApprovedAt  *time.Time
	ClosedBy    Actor // rejected, cancelled or returned by
	ClosedAt    *time.Time
	UpdatedAt   time.Time
}

// TransferRecord moves one asset between business units.
type TransferRecord struct {
	ID                 string
	TransferNumber     string
	AssetID            AssetID
	FromBusinessUnitID BusinessUnitID
	ToBusinessUnitID   BusinessUnitID
	FromLocation       string
	ToLocation         string
	Status             TransferStatus
	Reason             string
	RejectionReason    string
	TransferCost       money.Amount
	InsuranceValue     money.Amount

	RequestedBy Actor
	RequestedAt time.Time
	ApprovedBy  Actor
	ApprovedAt  *time.Time
	ShippedBy   Actor
	ShippedAt   *time.Time
	ReceivedBy  Actor
	ReceivedAt  *time.Time
	ClosedBy    Actor // rejected or cancelled by
	ClosedAt    *time.Time
	UpdatedAt   time.Time
}

// DisposalRecord is the terminal record of an asset.
type DisposalRecord struct {
	ID                  string
	AssetID             AssetID
	Reason              DisposalReason
	DisposalDate        time.Time
	BookValueAtDisposal money.Amount
	DisposalValue       money.Amount
	DisposalCost        money.Amount
	GainLoss            money.Amount
	Notes               string
	DisposedBy          Actor
	CreatedAt           time.Time
}

// ComputeGainLoss returns (disposalValue - disposalCost) - bookValue.
func ComputeGainLoss(bookValue, disposalValue, disposalCost money.Amount) money.Amount {
	return disposalValue.Sub(disposalCost).Sub(bookValue).Round()
}

// MaintenanceRecord tracks one maintenance job.
type MaintenanceRecord struct {
	ID             string
	AssetID        AssetID
	Status         MaintenanceStatus
	Description    string
	Resolution     string
	Cost           money.Amount
	PreviousStatus Status // restored on completion
	StartedBy      Actor
	StartedAt      time.Time
	CompletedBy    Actor
	CompletedAt    *time.Time
}

// =============================================================================
// LEDGER AND HISTORY (append-only)
// =============================================================================

// DepreciationEntry is one immutable ledger line per posted period per asset.
type DepreciationEntry struct {
	ID               string
	AssetID          AssetID
	Period           time.Time // first day of the posted month, UTC
	PeriodDate       time.Time // the scheduled NextDepreciationDate that was posted
	Method           Method
	Amount           money.Amount
	BookValueBefore  money.Amount
	BookValueAfter   money.Amount
	AccumulatedAfter money.Amount
	UnitsConsumed    *int64
	FullyDepreciated bool
	PostedAt         time.Time
}

// PeriodOf normalizes a date to the first day of its month (UTC).
func PeriodOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

type HistoryKind string

const (
	HistoryRegistered          HistoryKind = "asset_registered"
	HistoryStatusChanged       HistoryKind = "status_changed"
	HistoryDeploymentRequested HistoryKind = "deployment_requested"
	HistoryDeploymentApproved  HistoryKind = "deployment_approved"
	HistoryDeploymentRejected  HistoryKind = "deployment_rejected"
	HistoryDeploymentCancelled HistoryKind = "deployment_cancelled"
	HistoryDeploymentReturned  HistoryKind = "deployment_returned"
	HistoryTransferRequested   HistoryKind = "transfer_requested"
	HistoryTransferApproved    HistoryKind = "transfer_approved"
	HistoryTransferShipped     HistoryKind = "transfer_shipped"
	HistoryTransferCompleted   HistoryKind = "transfer_completed"
	HistoryTransferRejected    HistoryKind = "transfer_rejected"
	HistoryTransferCancelled   HistoryKind = "transfer_cancelled"
	HistoryMaintenanceStarted  HistoryKind = "maintenance_started"
	HistoryMaintenanceDone     HistoryKind = "maintenance_completed"
	HistoryDisposed            HistoryKind = "asset_disposed"
	HistoryDepreciationPosted  HistoryKind = "depreciation_posted"
)

// HistoryEntry is one line of the audit trail. Seq is assigned by the store
// and gives consumers a cursor over the whole stream.
type HistoryEntry struct {
	Seq            int64
	ID             string
	AssetID        AssetID
	Kind           HistoryKind
	RecordID       string
	PreviousStatus Status
	NewStatus      Status
	Actor          Actor
	Reason         string
	Details        map[string]string
	At             time.Time
}

// =============================================================================
// DIRECTORY RECORDS
// =============================================================================

type Employee struct {
	ID             EmployeeID
	Name           string
	Email          string
	BusinessUnitID BusinessUnitID
	Active         bool
	CreatedAt      time.Time
}

type BusinessUnit struct {
	ID        BusinessUnitID
	Name      string
	Active    bool
	CreatedAt time.Time
}

// UsageReading is one metering-feed value: units consumed by an asset during
// the month starting at Period.
type UsageReading struct {
	AssetID    AssetID
	Period     time.Time
	Units      int64
	RecordedAt time.Time
}

// AddMonths adds n calendar months, clamping to the last day of the target
// month (Jan 31 + 1 month = Feb 28/29) instead of overflowing like AddDate.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}
