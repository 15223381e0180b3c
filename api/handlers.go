/*
handlers.go - HTTP API handlers for the asset engine

PURPOSE:
  Exposes the asset lifecycle and depreciation engine via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to package
  workflow and the depreciation scheduler.

ENDPOINTS:
  Assets:
    POST   /api/assets                     Register an asset
    GET    /api/assets                     List (?status=&business_unit_id=&limit=)
    GET    /api/assets/{id}                Asset details
    GET    /api/assets/{id}/history        Audit trail
    GET    /api/assets/{id}/depreciation   Ledger entries
    POST   /api/assets/{id}/status         Admin status override
    POST   /api/assets/{id}/dispose        Terminal disposal
    POST   /api/assets/{id}/usage          Metering reading (units of production)

  Workflows:
    POST   /api/assets/{id}/deployments    Request a deployment
    POST   /api/deployments/{id}/approve|reject|cancel|return
    GET    /api/deployments/pending        Accounting queue
    POST   /api/assets/{id}/transfers      Request a transfer
    POST   /api/transfers/{id}/approve|reject|cancel|ship|receive
    GET    /api/transfers/pending          Accounting queue
    POST   /api/assets/{id}/maintenance    Start maintenance
    POST   /api/maintenance/{id}/complete  Complete maintenance

  Depreciation:
    GET    /api/depreciation/due           Assets due (?as_of=2006-01-02)
    POST   /api/depreciation/run           Run the batch now
    GET    /api/depreciation/runs/last     Summary of the last batch

  Projections and events:
    GET    /api/eligible/transfer|disposal
    GET    /api/events                     History cursor (?after=&limit=)
    GET    /api/events/ws                  Live history push (see events.go)

  Directory and demos:
    GET|POST /api/employees, /api/business-units
    GET    /api/scenarios                  Demo scenarios (see scenarios.go)
    POST   /api/scenarios/load

ACTOR:
  Every state change is attributed to the X-Actor-ID header. Identity is
  resolved upstream; an empty header is a validation error.

ERROR HANDLING:
  writeDomainError maps the asset error taxonomy to HTTP status:
  - 400: ValidationError, malformed body
  - 404: NotFoundError
  - 409: ConflictError (active record, duplicate code, stale write);
         a stale write also gets Retry-After: 1
  - 422: PreconditionError (wrong state for the transition)
  - 500: everything else, including CalculationError surfaced directly

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/asset-engine/asset"
	"github.com/warp/asset-engine/workflow"
)

// ActorHeader carries the identity of the caller.
const ActorHeader = "X-Actor-ID"

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// Directory is the employee and business unit registry behind the API.
type Directory interface {
	workflow.Directory
	SaveEmployee(ctx context.Context, e asset.Employee) error
	ListEmployees(ctx context.Context) ([]asset.Employee, error)
	SaveBusinessUnit(ctx context.Context, bu asset.BusinessUnit) error
	ListBusinessUnits(ctx context.Context) ([]asset.BusinessUnit, error)
}

// UsageRecorder accepts metering readings.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, r asset.UsageReading) error
}

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service      *workflow.Service
	Directory    Directory
	Usage        UsageRecorder
	Depreciation *DepreciationScheduler
	Logger       *slog.Logger
}

// NewHandler wires a handler. The workflow service's store answers the
// read-only queries.
func NewHandler(svc *workflow.Service, dir Directory, usage UsageRecorder, sched *DepreciationScheduler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: svc, Directory: dir, Usage: usage, Depreciation: sched, Logger: logger}
}

func (h *Handler) queries() asset.Queries { return h.Service.Store }

func actorOf(r *http.Request) asset.Actor {
	return asset.Actor(r.Header.Get(ActorHeader))
}

// =============================================================================
// ASSET HANDLERS
// =============================================================================

// RegisterAsset creates a new asset.
func (h *Handler) RegisterAsset(w http.ResponseWriter, r *http.Request) {
	var req RegisterAssetRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var v asset.ValidationError
	purchase, err := parseDate("purchase_date", req.PurchaseDate)
	if err != nil {
		v.Fields = append(v.Fields, fieldsOf(err)...)
	}
	var start time.Time
	if req.DepreciationStartDate != "" {
		start, err = parseDate("depreciation_start_date", req.DepreciationStartDate)
		if err != nil {
			v.Fields = append(v.Fields, fieldsOf(err)...)
		}
	}
	if err := v.Err(); err != nil {
		h.writeDomainError(w, err)
		return
	}

	a, err := h.Service.RegisterAsset(r.Context(), actorOf(r), workflow.Registration{
		Code:                  req.Code,
		Name:                  req.Name,
		CategoryID:            req.CategoryID,
		Quantity:              req.Quantity,
		BusinessUnitID:        asset.BusinessUnitID(req.BusinessUnitID),
		Location:              req.Location,
		PurchasePrice:         req.PurchasePrice,
		SalvageValue:          req.SalvageValue,
		Method:                asset.Method(req.Method),
		UsefulLifeMonths:      req.UsefulLifeMonths,
		DepreciationRate:      req.DepreciationRate,
		TotalExpectedUnits:    req.TotalExpectedUnits,
		PurchaseDate:          purchase,
		DepreciationStartDate: start,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssetDTO(a))
}

// ListAssets returns assets, optionally filtered.
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := asset.AssetFilter{BusinessUnitID: asset.BusinessUnitID(q.Get("business_unit_id"))}
	if s := q.Get("status"); s != "" {
		status, err := asset.ParseStatus(s)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		f.Status = status
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.writeDomainError(w, asset.Invalid("limit", "must be a non-negative integer"))
			return
		}
		f.Limit = n
	}

	assets, err := h.queries().ListAssets(r.Context(), f)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssetDTOs(assets))
}

func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	a, err := h.queries().GetAsset(r.Context(), asset.AssetID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssetDTO(a))
}

// GetHistory returns the audit trail of one asset, oldest first.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := asset.AssetID(chi.URLParam(r, "id"))
	if _, err := h.queries().GetAsset(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	history, err := h.queries().History(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryDTOs(history))
}

// GetDepreciation returns the ledger of one asset, oldest period first.
func (h *Handler) GetDepreciation(w http.ResponseWriter, r *http.Request) {
	id := asset.AssetID(chi.URLParam(r, "id"))
	if _, err := h.queries().GetAsset(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	entries, err := h.queries().Entries(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ChangeStatus is the admin override.
func (h *Handler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req ChangeStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	a, err := h.Service.ChangeStatus(r.Context(), actorOf(r), asset.AssetID(chi.URLParam(r, "id")), asset.Status(req.Status), req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssetDTO(a))
}

func (h *Handler) Dispose(w http.ResponseWriter, r *http.Request) {
	var req DisposeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var date time.Time
	if req.DisposalDate != "" {
		d, err := parseDate("disposal_date", req.DisposalDate)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		date = d
	}

	d, err := h.Service.Dispose(r.Context(), actorOf(r), workflow.DisposalRequest{
		AssetID:       asset.AssetID(chi.URLParam(r, "id")),
		Reason:        asset.DisposalReason(req.Reason),
		DisposalDate:  date,
		DisposalValue: req.DisposalValue,
		DisposalCost:  req.DisposalCost,
		Notes:         req.Notes,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDisposalDTO(d))
}

// RecordUsage stores a metering reading. Readings are data, not lifecycle
// transitions, so they are not part of the audit trail.
func (h *Handler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	var req UsageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := asset.AssetID(chi.URLParam(r, "id"))

	var v asset.ValidationError
	period, err := parseDate("period", req.Period)
	if err != nil {
		v.Fields = append(v.Fields, fieldsOf(err)...)
	}
	if req.Units < 0 {
		v.Add("units", "must not be negative")
	}
	if err := v.Err(); err != nil {
		h.writeDomainError(w, err)
		return
	}

	a, err := h.queries().GetAsset(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if a.Depreciation.Method != asset.UnitsOfProduction {
		h.writeDomainError(w, &asset.PreconditionError{
			Rule:    "usage_requires_units_of_production",
			AssetID: id,
			Status:  string(a.Depreciation.Method),
			Message: "usage readings only apply to units-of-production assets",
		})
		return
	}

	reading := asset.UsageReading{AssetID: id, Period: asset.PeriodOf(period), Units: req.Units, RecordedAt: time.Now().UTC()}
	if err := h.Usage.RecordUsage(r.Context(), reading); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"asset_id": id,
		"period":   formatDate(reading.Period),
		"units":    reading.Units,
	})
}

// =============================================================================
// DEPLOYMENT HANDLERS
// =============================================================================

func (h *Handler) RequestDeployment(w http.ResponseWriter, r *http.Request) {
	var req DeploymentRequestDTO
	if !decodeBody(w, r, &req) {
		return
	}
	expected, err := parseOptionalDate("expected_return_date", req.ExpectedReturnDate)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	d, err := h.Service.RequestDeployment(r.Context(), actorOf(r), workflow.DeploymentRequest{
		AssetID:            asset.AssetID(chi.URLParam(r, "id")),
		EmployeeID:         asset.EmployeeID(req.EmployeeID),
		ExpectedReturnDate: expected,
		ConditionNotes:     req.ConditionNotes,
	})
	h.writeDeployment(w, http.StatusCreated, d, err)
}

func (h *Handler) ApproveDeployment(w http.ResponseWriter, r *http.Request) {
	var req ApproveDeploymentRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	deployed, err := parseOptionalDate("deployed_date", req.DeployedDate)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	d, err := h.Service.ApproveDeployment(r.Context(), actorOf(r), chi.URLParam(r, "id"), deployed)
	h.writeDeployment(w, http.StatusOK, d, err)
}

func (h *Handler) RejectDeployment(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !decodeBody(w, r, &req) {
		return
	}
	d, err := h.Service.RejectDeployment(r.Context(), actorOf(r), chi.URLParam(r, "id"), req.Reason)
	h.writeDeployment(w, http.StatusOK, d, err)
}

func (h *Handler) CancelDeployment(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	d, err := h.Service.CancelDeployment(r.Context(), actorOf(r), chi.URLParam(r, "id"), req.Reason)
	h.writeDeployment(w, http.StatusOK, d, err)
}

func (h *Handler) ReturnDeployment(w http.ResponseWriter, r *http.Request) {
	var req ReturnDeploymentRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	d, err := h.Service.ReturnDeployment(r.Context(), actorOf(r), chi.URLParam(r, "id"), req.ReturnCondition)
	h.writeDeployment(w, http.StatusOK, d, err)
}

// ListPendingDeployments is the accounting approval queue.
func (h *Handler) ListPendingDeployments(w http.ResponseWriter, r *http.Request) {
	records, err := h.queries().PendingDeployments(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]DeploymentDTO, len(records))
	for i, d := range records {
		dtos[i] = toDeploymentDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) writeDeployment(w http.ResponseWriter, status int, d asset.DeploymentRecord, err error) {
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, status, toDeploymentDTO(d))
}

// =============================================================================
// TRANSFER HANDLERS
// =============================================================================

func (h *Handler) RequestTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequestDTO
	if !decodeBody(w, r, &req) {
		return
	}
	t, err := h.Service.RequestTransfer(r.Context(), actorOf(r), workflow.TransferRequest{
		AssetID:          asset.AssetID(chi.URLParam(r, "id")),
		ToBusinessUnitID: asset.BusinessUnitID(req.ToBusinessUnitID),
		ToLocation:       req.ToLocation,
		Reason:           req.Reason,
		TransferCost:     req.TransferCost,
		InsuranceValue:   req.InsuranceValue,
	})
	h.writeTransfer(w, http.StatusCreated, t, err)
}

func (h *Handler) ApproveTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := h.Service.ApproveTransfer(r.Context(), actorOf(r), chi.URLParam(r, "id"))
	h.writeTransfer(w, http.StatusOK, t, err)
}

func (h *Handler) ShipTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := h.Service.ShipTransfer(r.Context(), actorOf(r), chi.URLParam(r, "id"))
	h.writeTransfer(w, http.StatusOK, t, err)
}

func (h *Handler) ReceiveTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := h.Service.ReceiveTransfer(r.Context(), actorOf(r), chi.URLParam(r, "id"))
	h.writeTransfer(w, http.StatusOK, t, err)
}

func (h *Handler) RejectTransfer(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !decodeBody(w, r, &req) {
		return
	}
	t, err := h.Service.RejectTransfer(r.Context(), actorOf(r), chi.URLParam(r, "id"), req.Reason)
	h.writeTransfer(w, http.StatusOK, t, err)
}

func (h *Handler) CancelTransfer(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	t, err := h.Service.CancelTransfer(r.Context(), actorOf(r), chi.URLParam(r, "id"), req.Reason)
	h.writeTransfer(w, http.StatusOK, t, err)
}

func (h *Handler) ListPendingTransfers(w http.ResponseWriter, r *http.Request) {
	records, err := h.queries().PendingTransfers(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]TransferDTO, len(records))
	for i, t := range records {
		dtos[i] = toTransferDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) writeTransfer(w http.ResponseWriter, status int, t asset.TransferRecord, err error) {
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, status, toTransferDTO(t))
}

// =============================================================================
// MAINTENANCE HANDLERS
// =============================================================================

func (h *Handler) StartMaintenance(w http.ResponseWriter, r *http.Request) {
	var req StartMaintenanceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	m, err := h.Service.StartMaintenance(r.Context(), actorOf(r), asset.AssetID(chi.URLParam(r, "id")), req.Description)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMaintenanceDTO(m))
}

func (h *Handler) CompleteMaintenance(w http.ResponseWriter, r *http.Request) {
	var req CompleteMaintenanceRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	m, err := h.Service.CompleteMaintenance(r.Context(), actorOf(r), chi.URLParam(r, "id"), workflow.MaintenanceResult{
		Resolution:   req.Resolution,
		Cost:         req.Cost,
		StillDamaged: req.StillDamaged,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMaintenanceDTO(m))
}

// =============================================================================
// DEPRECIATION HANDLERS
// =============================================================================

// ListDue returns the assets the next batch would post for.
func (h *Handler) ListDue(w http.ResponseWriter, r *http.Request) {
	asOf, err := asOfParam(r.URL.Query().Get("as_of"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	assets, err := h.queries().DueForDepreciation(r.Context(), asOf)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssetDTOs(assets))
}

// RunDepreciation triggers the batch synchronously and returns its summary.
func (h *Handler) RunDepreciation(w http.ResponseWriter, r *http.Request) {
	var req RunDepreciationRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	asOf, err := asOfParam(req.AsOf)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	summary, err := h.Depreciation.RunNow(r.Context(), asOf)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(summary))
}

func (h *Handler) LastRun(w http.ResponseWriter, r *http.Request) {
	summary, ok := h.Depreciation.LastRun()
	if !ok {
		writeError(w, http.StatusNotFound, "No depreciation run yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(summary))
}

// =============================================================================
// PROJECTIONS AND EVENTS
// =============================================================================

func (h *Handler) EligibleForTransfer(w http.ResponseWriter, r *http.Request) {
	assets, err := h.queries().EligibleForTransfer(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssetDTOs(assets))
}

func (h *Handler) EligibleForDisposal(w http.ResponseWriter, r *http.Request) {
	assets, err := h.queries().EligibleForDisposal(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssetDTOs(assets))
}

// ListEvents pages through the global audit trail by sequence number.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var after int64
	if s := q.Get("after"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			h.writeDomainError(w, asset.Invalid("after", "must be a non-negative integer"))
			return
		}
		after = n
	}
	limit := defaultEventLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			h.writeDomainError(w, asset.Invalid("limit", "must be a positive integer"))
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := h.queries().HistorySince(r.Context(), after, limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	next := after
	if len(events) > 0 {
		next = events[len(events)-1].Seq
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": toHistoryDTOs(events),
		"next":   next,
	})
}

// =============================================================================
// DIRECTORY HANDLERS
// =============================================================================

func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Directory.ListEmployees(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveEmployee creates or updates an employee. Setting active=false
// deactivates instead of deleting, so existing records keep resolving.
func (h *Handler) SaveEmployee(w http.ResponseWriter, r *http.Request) {
	var req EmployeeDTO
	if !decodeBody(w, r, &req) {
		return
	}
	var v asset.ValidationError
	if req.ID == "" {
		v.Add("id", "is required")
	}
	if req.Name == "" {
		v.Add("name", "is required")
	}
	if err := v.Err(); err != nil {
		h.writeDomainError(w, err)
		return
	}

	e := asset.Employee{
		ID:             asset.EmployeeID(req.ID),
		Name:           req.Name,
		Email:          req.Email,
		BusinessUnitID: asset.BusinessUnitID(req.BusinessUnitID),
		Active:         req.Active,
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.Directory.SaveEmployee(r.Context(), e); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(e))
}

func (h *Handler) ListBusinessUnits(w http.ResponseWriter, r *http.Request) {
	units, err := h.Directory.ListBusinessUnits(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]BusinessUnitDTO, len(units))
	for i, bu := range units {
		dtos[i] = toBusinessUnitDTO(bu)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) SaveBusinessUnit(w http.ResponseWriter, r *http.Request) {
	var req BusinessUnitDTO
	if !decodeBody(w, r, &req) {
		return
	}
	var v asset.ValidationError
	if req.ID == "" {
		v.Add("id", "is required")
	}
	if req.Name == "" {
		v.Add("name", "is required")
	}
	if err := v.Err(); err != nil {
		h.writeDomainError(w, err)
		return
	}

	bu := asset.BusinessUnit{ID: asset.BusinessUnitID(req.ID), Name: req.Name, Active: req.Active, CreatedAt: time.Now().UTC()}
	if err := h.Directory.SaveBusinessUnit(r.Context(), bu); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBusinessUnitDTO(bu))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Kind: "invalid_request"}
	if status >= http.StatusInternalServerError {
		resp.Kind = "internal"
	} else if status == http.StatusNotFound {
		resp.Kind = "not_found"
	}
	if err != nil {
		resp.Details = err.Error()
	}
	if asset.IsClientError(err) {
		h.Logger.Debug("request rejected", "kind", resp.Kind, "err", err)
	}
	writeJSON(w, status, resp)
}

// writeDomainError is the single place where the error taxonomy becomes an
// HTTP status.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}
	var status int

	var (
		verr *asset.ValidationError
		cerr *asset.ConflictError
		perr *asset.PreconditionError
	)
	switch {
	case errors.As(err, &verr):
		status, resp.Kind, resp.Fields = http.StatusBadRequest, "validation", verr.Fields
	case errors.Is(err, asset.ErrNotFound):
		status, resp.Kind = http.StatusNotFound, "not_found"
	case errors.As(err, &cerr):
		status, resp.Kind, resp.ExistingID = http.StatusConflict, "conflict", cerr.ExistingID
		if asset.IsRetryable(err) {
			w.Header().Set("Retry-After", "1")
		}
	case errors.Is(err, asset.ErrConflict):
		status, resp.Kind = http.StatusConflict, "conflict"
	case errors.As(err, &perr):
		status, resp.Kind, resp.Rule = http.StatusUnprocessableEntity, "precondition", perr.Rule
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, resp.Kind = http.StatusServiceUnavailable, "unavailable"
	default:
		status = http.StatusInternalServerError
		resp.Kind = "internal"
		if errors.Is(err, asset.ErrCalculation) {
			resp.Kind = "calculation"
		}
		h.Logger.Error("request failed", "err", err)
		resp.Error = "Internal error"
		resp.Details = err.Error()
	}
	if asset.IsClientError(err) {
		h.Logger.Debug("request rejected", "kind", resp.Kind, "err", err)
	}
	writeJSON(w, status, resp)
}

// decodeBody reads a required JSON body.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// decodeOptionalBody is decodeBody for endpoints whose body may be empty.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	return decodeBody(w, r, dst)
}

func parseDate(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, asset.Invalid(field, "is required")
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, asset.Invalid(field, "must be a date like 2006-01-02")
	}
	return t, nil
}

func parseOptionalDate(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseDate(field, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// asOfParam parses an as-of date. A bare date means the end of that day so
// a period scheduled on it is included. Empty means now.
func asOfParam(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	t, err := parseDate("as_of", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.Add(24*time.Hour - time.Nanosecond), nil
}

func fieldsOf(err error) []asset.FieldError {
	var v *asset.ValidationError
	if errors.As(err, &v) {
		return v.Fields
	}
	return []asset.FieldError{{Message: err.Error()}}
}
