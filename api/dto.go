/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model in package asset from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DATES:
  Calendar dates (purchase, deployment, disposal) travel as "2006-01-02".
  Timestamps (created_at, posted_at, history "at") are RFC 3339.
  Money is always a quoted fixed-scale string ("1250.00").

VALIDATION:
  Validation is done by package workflow, not in DTOs. DTOs are pure data
  carriers; handlers only parse dates and enums.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/asset-engine/asset"
	"github.com/warp/asset-engine/depreciation"
	"github.com/warp/asset-engine/metrics"
	"github.com/warp/asset-engine/money"
)

const dateLayout = "2006-01-02"

// =============================================================================
// ASSETS
// =============================================================================

type AssetDTO struct {
	ID                      string       `json:"id"`
	Code                    string       `json:"code"`
	Name                    string       `json:"name"`
	CategoryID              string       `json:"category_id,omitempty"`
	Quantity                int          `json:"quantity"`
	BusinessUnitID          string       `json:"business_unit_id"`
	Location                string       `json:"location,omitempty"`
	Status                  string       `json:"status"`
	PurchasePrice           money.Amount `json:"purchase_price"`
	SalvageValue            money.Amount `json:"salvage_value"`
	CurrentBookValue        money.Amount `json:"current_book_value"`
	AccumulatedDepreciation money.Amount `json:"accumulated_depreciation"`
	MonthlyDepreciation     money.Amount `json:"monthly_depreciation"`
	Method                  string       `json:"depreciation_method"`
	UsefulLifeMonths        int          `json:"useful_life_months,omitempty"`
	DepreciationRate        string       `json:"depreciation_rate,omitempty"`
	TotalExpectedUnits      int64        `json:"total_expected_units,omitempty"`
	PurchaseDate            string       `json:"purchase_date"`
	DepreciationStartDate   string       `json:"depreciation_start_date"`
	NextDepreciationDate    *string      `json:"next_depreciation_date"`
	IsFullyDepreciated      bool         `json:"is_fully_depreciated"`
	Version                 int64        `json:"version"`
	CreatedAt               time.Time    `json:"created_at"`
	UpdatedAt               time.Time    `json:"updated_at"`
}

// RegisterAssetRequest is the body of POST /api/assets.
type RegisterAssetRequest struct {
	Code                  string          `json:"code"`
	Name                  string          `json:"name"`
	CategoryID            string          `json:"category_id"`
	Quantity              int             `json:"quantity"`
	BusinessUnitID        string          `json:"business_unit_id"`
	Location              string          `json:"location"`
	PurchasePrice         money.Amount    `json:"purchase_price"`
	SalvageValue          money.Amount    `json:"salvage_value"`
	Method                string          `json:"depreciation_method"`
	UsefulLifeMonths      int             `json:"useful_life_months"`
	DepreciationRate      decimal.Decimal `json:"depreciation_rate"`
	TotalExpectedUnits    int64           `json:"total_expected_units"`
	PurchaseDate          string          `json:"purchase_date"`
	DepreciationStartDate string          `json:"depreciation_start_date,omitempty"`
}

type ChangeStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type DisposeRequest struct {
	Reason        string       `json:"reason"`
	DisposalDate  string       `json:"disposal_date,omitempty"`
	DisposalValue money.Amount `json:"disposal_value"`
	DisposalCost  money.Amount `json:"disposal_cost"`
	Notes         string       `json:"notes,omitempty"`
}

type DisposalDTO struct {
	ID                  string       `json:"id"`
	AssetID             string       `json:"asset_id"`
	Reason              string       `json:"reason"`
	DisposalDate        string       `json:"disposal_date"`
	BookValueAtDisposal money.Amount `json:"book_value_at_disposal"`
	DisposalValue       money.Amount `json:"disposal_value"`
	DisposalCost        money.Amount `json:"disposal_cost"`
	GainLoss            money.Amount `json:"gain_loss"`
	Notes               string       `json:"notes,omitempty"`
	DisposedBy          string       `json:"disposed_by"`
	CreatedAt           time.Time    `json:"created_at"`
}

// UsageRequest records metering units for one month of a
// units-of-production asset. Period may be any date within the month.
type UsageRequest struct {
	Period string `json:"period"`
	Units  int64  `json:"units"`
}

// =============================================================================
// WORKFLOWS
// =============================================================================

type DeploymentRequestDTO struct {
	EmployeeID         string `json:"employee_id"`
	ExpectedReturnDate string `json:"expected_return_date,omitempty"`
	ConditionNotes     string `json:"condition_notes,omitempty"`
}

type DeploymentDTO struct {
	ID                 string     `json:"id"`
	TransmittalNumber  string     `json:"transmittal_number"`
	AssetID            string     `json:"asset_id"`
	EmployeeID         string     `json:"employee_id"`
	Status             string     `json:"status"`
	DeployedDate       *string    `json:"deployed_date,omitempty"`
	ExpectedReturnDate *string    `json:"expected_return_date,omitempty"`
	ReturnedDate       *string    `json:"returned_date,omitempty"`
	ConditionNotes     string     `json:"condition_notes,omitempty"`
	ReturnCondition    string     `json:"return_condition,omitempty"`
	RejectionReason    string     `json:"rejection_reason,omitempty"`
	RequestedBy        string     `json:"requested_by"`
	RequestedAt        time.Time  `json:"requested_at"`
	ApprovedBy         string     `json:"approved_by,omitempty"`
	ApprovedAt         *time.Time `json:"approved_at,omitempty"`
	ClosedBy           string     `json:"closed_by,omitempty"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
}

type ApproveDeploymentRequest struct {
	DeployedDate string `json:"deployed_date,omitempty"`
}

type ReturnDeploymentRequest struct {
	ReturnCondition string `json:"return_condition"`
}

// ReasonRequest is the body of every reject and cancel endpoint.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

type TransferRequestDTO struct {
	ToBusinessUnitID string       `json:"to_business_unit_id"`
	ToLocation       string       `json:"to_location"`
	Reason           string       `json:"reason"`
	TransferCost     money.Amount `json:"transfer_cost"`
	InsuranceValue   money.Amount `json:"insurance_value"`
}

type TransferDTO struct {
	ID                 string       `json:"id"`
	TransferNumber     string       `json:"transfer_number"`
	AssetID            string       `json:"asset_id"`
	FromBusinessUnitID string       `json:"from_business_unit_id"`
	ToBusinessUnitID   string       `json:"to_business_unit_id"`
	FromLocation       string       `json:"from_location,omitempty"`
	ToLocation         string       `json:"to_location,omitempty"`
	Status             string       `json:"status"`
	Reason             string       `json:"reason,omitempty"`
	RejectionReason    string       `json:"rejection_reason,omitempty"`
	TransferCost       money.Amount `json:"transfer_cost"`
	InsuranceValue     money.Amount `json:"insurance_value"`
	RequestedBy        string       `json:"requested_by"`
	RequestedAt        time.Time    `json:"requested_at"`
	ApprovedAt         *time.Time   `json:"approved_at,omitempty"`
	ShippedAt          *time.Time   `json:"shipped_at,omitempty"`
	ReceivedAt         *time.Time   `json:"received_at,omitempty"`
	ClosedAt           *time.Time   `json:"closed_at,omitempty"`
}

type StartMaintenanceRequest struct {
	Description string `json:"description"`
}

type CompleteMaintenanceRequest struct {
	Resolution   string       `json:"resolution"`
	Cost         money.Amount `json:"cost"`
	StillDamaged bool         `json:"still_damaged"`
}

type MaintenanceDTO struct {
	ID             string       `json:"id"`
	AssetID        string       `json:"asset_id"`
	Status         string       `json:"status"`
	Description    string       `json:"description"`
	Resolution     string       `json:"resolution,omitempty"`
	Cost           money.Amount `json:"cost"`
	PreviousStatus string       `json:"previous_status"`
	StartedBy      string       `json:"started_by"`
	StartedAt      time.Time    `json:"started_at"`
	CompletedBy    string       `json:"completed_by,omitempty"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
}

// =============================================================================
// LEDGER, HISTORY AND SCHEDULER
// =============================================================================

type EntryDTO struct {
	ID               string       `json:"id"`
	Period           string       `json:"period"`
	Method           string       `json:"method"`
	Amount           money.Amount `json:"amount"`
	BookValueBefore  money.Amount `json:"book_value_before"`
	BookValueAfter   money.Amount `json:"book_value_after"`
	AccumulatedAfter money.Amount `json:"accumulated_after"`
	UnitsConsumed    *int64       `json:"units_consumed,omitempty"`
	FullyDepreciated bool         `json:"fully_depreciated"`
	PostedAt         time.Time    `json:"posted_at"`
}

type HistoryDTO struct {
	Seq            int64             `json:"seq"`
	ID             string            `json:"id"`
	AssetID        string            `json:"asset_id"`
	Kind           string            `json:"kind"`
	RecordID       string            `json:"record_id,omitempty"`
	PreviousStatus string            `json:"previous_status,omitempty"`
	NewStatus      string            `json:"new_status,omitempty"`
	Actor          string            `json:"actor"`
	Reason         string            `json:"reason,omitempty"`
	Details        map[string]string `json:"details,omitempty"`
	At             time.Time         `json:"at"`
}

type RunDepreciationRequest struct {
	AsOf string `json:"as_of,omitempty"`
}

type FailureDTO struct {
	AssetID string `json:"asset_id"`
	Kind    string `json:"kind"`
	Error   string `json:"error"`
}

type SummaryDTO struct {
	AsOf              string       `json:"as_of"`
	Processed         int          `json:"processed"`
	Posted            int          `json:"posted"`
	Skipped           int          `json:"skipped"`
	Failed            int          `json:"failed"`
	FullyDepreciated  int          `json:"fully_depreciated"`
	TotalDepreciation money.Amount `json:"total_depreciation"`
	Failures          []FailureDTO `json:"failures"`
	StartedAt         time.Time    `json:"started_at"`
	FinishedAt        time.Time    `json:"finished_at"`
}

// =============================================================================
// DIRECTORY
// =============================================================================

type EmployeeDTO struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email,omitempty"`
	BusinessUnitID string    `json:"business_unit_id,omitempty"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

type BusinessUnitDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response. Kind is one of
// validation, conflict, precondition, not_found, calculation or internal.
type ErrorResponse struct {
	Error      string             `json:"error"`
	Kind       string             `json:"kind"`
	Rule       string             `json:"rule,omitempty"`
	ExistingID string             `json:"existing_id,omitempty"`
	Fields     []asset.FieldError `json:"fields,omitempty"`
	Details    string             `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatDate(t time.Time) string { return t.UTC().Format(dateLayout) }

func formatDatePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatDate(*t)
	return &s
}

func toAssetDTO(a asset.Asset) AssetDTO {
	dto := AssetDTO{
		ID:                      string(a.ID),
		Code:                    a.Code,
		Name:                    a.Name,
		CategoryID:              a.CategoryID,
		Quantity:                a.Quantity,
		BusinessUnitID:          string(a.BusinessUnitID),
		Location:                a.Location,
		Status:                  string(a.Status),
		PurchasePrice:           a.PurchasePrice,
		SalvageValue:            a.SalvageValue,
		CurrentBookValue:        a.CurrentBookValue,
		AccumulatedDepreciation: a.AccumulatedDepreciation,
		MonthlyDepreciation:     a.MonthlyDepreciation,
		Method:                  string(a.Depreciation.Method),
		UsefulLifeMonths:        a.Depreciation.UsefulLifeMonths,
		TotalExpectedUnits:      a.Depreciation.TotalExpectedUnits,
		PurchaseDate:            formatDate(a.PurchaseDate),
		DepreciationStartDate:   formatDate(a.DepreciationStartDate),
		NextDepreciationDate:    formatDatePtr(a.NextDepreciationDate),
		IsFullyDepreciated:      a.IsFullyDepreciated,
		Version:                 a.Version,
		CreatedAt:               a.CreatedAt,
		UpdatedAt:               a.UpdatedAt,
	}
	if !a.Depreciation.DepreciationRate.IsZero() {
		dto.DepreciationRate = a.Depreciation.DepreciationRate.String()
	}
	return dto
}

func toAssetDTOs(as []asset.Asset) []AssetDTO {
	out := make([]AssetDTO, len(as))
	for i, a := range as {
		out[i] = toAssetDTO(a)
	}
	return out
}

func toDeploymentDTO(d asset.DeploymentRecord) DeploymentDTO {
	return DeploymentDTO{
		ID:                 d.ID,
		TransmittalNumber:  d.TransmittalNumber,
		AssetID:            string(d.AssetID),
		EmployeeID:         string(d.EmployeeID),
		Status:             string(d.Status),
		DeployedDate:       formatDatePtr(d.DeployedDate),
		ExpectedReturnDate: formatDatePtr(d.ExpectedReturnDate),
		ReturnedDate:       formatDatePtr(d.ReturnedDate),
		ConditionNotes:     d.ConditionNotes,
		ReturnCondition:    d.ReturnCondition,
		RejectionReason:    d.RejectionReason,
		RequestedBy:        string(d.RequestedBy),
		RequestedAt:        d.RequestedAt,
		ApprovedBy:         string(d.ApprovedBy),
		ApprovedAt:         d.ApprovedAt,
		ClosedBy:           string(d.ClosedBy),
		ClosedAt:           d.ClosedAt,
	}
}

func toTransferDTO(t asset.TransferRecord) TransferDTO {
	return TransferDTO{
		ID:                 t.ID,
		TransferNumber:     t.TransferNumber,
		AssetID:            string(t.AssetID),
		FromBusinessUnitID: string(t.FromBusinessUnitID),
		ToBusinessUnitID:   string(t.ToBusinessUnitID),
		FromLocation:       t.FromLocation,
		ToLocation:         t.ToLocation,
		Status:             string(t.Status),
		Reason:             t.Reason,
		RejectionReason:    t.RejectionReason,
		TransferCost:       t.TransferCost,
		InsuranceValue:     t.InsuranceValue,
		RequestedBy:        string(t.RequestedBy),
		RequestedAt:        t.RequestedAt,
		ApprovedAt:         t.ApprovedAt,
		ShippedAt:          t.ShippedAt,
		ReceivedAt:         t.ReceivedAt,
		ClosedAt:           t.ClosedAt,
	}
}

func toMaintenanceDTO(m asset.MaintenanceRecord) MaintenanceDTO {
	return MaintenanceDTO{
		ID:             m.ID,
		AssetID:        string(m.AssetID),
		Status:         string(m.Status),
		Description:    m.Description,
		Resolution:     m.Resolution,
		Cost:           m.Cost,
		PreviousStatus: string(m.PreviousStatus),
		StartedBy:      string(m.StartedBy),
		StartedAt:      m.StartedAt,
		CompletedBy:    string(m.CompletedBy),
		CompletedAt:    m.CompletedAt,
	}
}

func toDisposalDTO(d asset.DisposalRecord) DisposalDTO {
	return DisposalDTO{
		ID:                  d.ID,
		AssetID:             string(d.AssetID),
		Reason:              string(d.Reason),
		DisposalDate:        formatDate(d.DisposalDate),
		BookValueAtDisposal: d.BookValueAtDisposal,
		DisposalValue:       d.DisposalValue,
		DisposalCost:        d.DisposalCost,
		GainLoss:            d.GainLoss,
		Notes:               d.Notes,
		DisposedBy:          string(d.DisposedBy),
		CreatedAt:           d.CreatedAt,
	}
}

func toEntryDTO(e asset.DepreciationEntry) EntryDTO {
	return EntryDTO{
		ID:               e.ID,
		Period:           formatDate(e.Period),
		Method:           string(e.Method),
		Amount:           e.Amount,
		BookValueBefore:  e.BookValueBefore,
		BookValueAfter:   e.BookValueAfter,
		AccumulatedAfter: e.AccumulatedAfter,
		UnitsConsumed:    e.UnitsConsumed,
		FullyDepreciated: e.FullyDepreciated,
		PostedAt:         e.PostedAt,
	}
}

func toHistoryDTO(h asset.HistoryEntry) HistoryDTO {
	return HistoryDTO{
		Seq:            h.Seq,
		ID:             h.ID,
		AssetID:        string(h.AssetID),
		Kind:           string(h.Kind),
		RecordID:       h.RecordID,
		PreviousStatus: string(h.PreviousStatus),
		NewStatus:      string(h.NewStatus),
		Actor:          string(h.Actor),
		Reason:         h.Reason,
		Details:        h.Details,
		At:             h.At,
	}
}

func toHistoryDTOs(hs []asset.HistoryEntry) []HistoryDTO {
	out := make([]HistoryDTO, len(hs))
	for i, h := range hs {
		out[i] = toHistoryDTO(h)
	}
	return out
}

func toSummaryDTO(s depreciation.Summary) SummaryDTO {
	dto := SummaryDTO{
		AsOf:              formatDate(s.AsOf),
		Processed:         s.Processed,
		Posted:            s.Posted,
		Skipped:           s.Skipped,
		Failed:            s.Failed,
		FullyDepreciated:  s.FullyDepreciated,
		TotalDepreciation: s.TotalDepreciation,
		Failures:          make([]FailureDTO, len(s.Failures)),
		StartedAt:         s.StartedAt,
		FinishedAt:        s.FinishedAt,
	}
	for i, f := range s.Failures {
		dto.Failures[i] = FailureDTO{AssetID: string(f.AssetID), Kind: metrics.ErrorKind(f.Err), Error: f.Err.Error()}
	}
	return dto
}

func toEmployeeDTO(e asset.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:             string(e.ID),
		Name:           e.Name,
		Email:          e.Email,
		BusinessUnitID: string(e.BusinessUnitID),
		Active:         e.Active,
		CreatedAt:      e.CreatedAt,
	}
}

func toBusinessUnitDTO(bu asset.BusinessUnit) BusinessUnitDTO {
	return BusinessUnitDTO{ID: string(bu.ID), Name: bu.Name, Active: bu.Active, CreatedAt: bu.CreatedAt}
}
