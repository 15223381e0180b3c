package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/asset-engine/asset"
	"github.com/warp/asset-engine/asset/store"
	"github.com/warp/asset-engine/depreciation"
	"github.com/warp/asset-engine/money"
	"github.com/warp/asset-engine/workflow"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testEnv struct {
	t       *testing.T
	store   *store.Memory
	handler *Handler
	router  http.Handler
	events  *asset.ChannelPublisher
	sched   *DepreciationScheduler
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestHandler(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.SaveBusinessUnit(ctx, asset.BusinessUnit{ID: "bu-1", Name: "Head Office", Active: true}))
	require.NoError(t, m.SaveBusinessUnit(ctx, asset.BusinessUnit{ID: "bu-2", Name: "Warehouse", Active: true}))
	require.NoError(t, m.SaveEmployee(ctx, asset.Employee{ID: "emp-1", Name: "Alex Doe", BusinessUnitID: "bu-1", Active: true}))

	now := func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) }
	events := asset.NewChannelPublisher(256)
	svc := &workflow.Service{Store: m, Directory: m, Publisher: events, Logger: quietLogger(), Now: now}
	runner := &depreciation.Scheduler{Store: m, Usage: m, Publisher: events, Logger: quietLogger(), Now: now}
	sched := NewDepreciationScheduler(runner, time.Hour, quietLogger())
	h := NewHandler(svc, m, m, sched, quietLogger())

	return &testEnv{
		t:       t,
		store:   m,
		handler: h,
		router:  NewRouter(h, nil, []string{"http://localhost:5173"}),
		events:  events,
		sched:   sched,
	}
}

func (e *testEnv) do(method, path string, body any, actor string) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func mustAmount(t *testing.T, s string) money.Amount {
	t.Helper()
	a, err := money.New(s)
	require.NoError(t, err)
	return a
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func laptopBody(code string) map[string]any {
	return map[string]any{
		"code":                code,
		"name":                "Laptop",
		"quantity":            1,
		"business_unit_id":    "bu-1",
		"location":            "Floor 3",
		"purchase_price":      "1000.00",
		"salvage_value":       "0",
		"depreciation_method": "STRAIGHT_LINE",
		"useful_life_months":  10,
		"purchase_date":       "2026-01-01",
	}
}

func (e *testEnv) register(code string) AssetDTO {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/assets", laptopBody(code), "admin-1")
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[AssetDTO](e.t, rec)
}

// =============================================================================
// ASSETS
// =============================================================================

func TestRegisterAsset_ReturnsCreatedAsset(t *testing.T) {
	// GIVEN: a running API
	env := setupTestHandler(t)

	// WHEN: registering a laptop
	a := env.register("LT-001")

	// THEN: book value equals price and the first period is one month out
	assert.Equal(t, "AVAILABLE", a.Status)
	assert.Equal(t, "1000.00", a.CurrentBookValue.String())
	assert.Equal(t, "100.00", a.MonthlyDepreciation.String())
	require.NotNil(t, a.NextDepreciationDate)
	assert.Equal(t, "2026-02-01", *a.NextDepreciationDate)

	rec := env.do(http.MethodGet, "/api/assets/"+a.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "LT-001", decode[AssetDTO](t, rec).Code)
}

func TestRegisterAsset_ValidationErrorsListFields(t *testing.T) {
	// GIVEN: a body with a bad date, no name and an unknown method
	env := setupTestHandler(t)
	body := laptopBody("LT-001")
	body["purchase_date"] = "01/01/2026"
	rec := env.do(http.MethodPost, "/api/assets", body, "admin-1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", decode[ErrorResponse](t, rec).Kind)

	body = laptopBody("LT-001")
	body["name"] = ""
	body["depreciation_method"] = "MAGIC"

	// WHEN: registering
	rec = env.do(http.MethodPost, "/api/assets", body, "admin-1")

	// THEN: 400 with every field named
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	fields := make([]string, 0, len(resp.Fields))
	for _, f := range resp.Fields {
		fields = append(fields, f.Field)
	}
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "depreciation_method")
}

func TestRegisterAsset_MissingActorIsRejected(t *testing.T) {
	env := setupTestHandler(t)

	rec := env.do(http.MethodPost, "/api/assets", laptopBody("LT-001"), "")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "actor", decode[ErrorResponse](t, rec).Fields[0].Field)
}

func TestRegisterAsset_DuplicateCodeIsConflict(t *testing.T) {
	env := setupTestHandler(t)
	env.register("LT-001")

	rec := env.do(http.MethodPost, "/api/assets", laptopBody("LT-001"), "admin-1")

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestInvalidBody(t *testing.T) {
	env := setupTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/assets", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()

	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAsset_NotFound(t *testing.T) {
	env := setupTestHandler(t)

	rec := env.do(http.MethodGet, "/api/assets/missing", nil, "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, rec).Kind)
}

func TestListAssets_Filters(t *testing.T) {
	// GIVEN: two assets, one moved to DAMAGED
	env := setupTestHandler(t)
	env.register("LT-001")
	b := env.register("LT-002")
	rec := env.do(http.MethodPost, "/api/assets/"+b.ID+"/status", ChangeStatusRequest{Status: "DAMAGED", Reason: "dropped"}, "admin-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// WHEN / THEN: filtering by status
	rec = env.do(http.MethodGet, "/api/assets?status=DAMAGED", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]AssetDTO](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)

	rec = env.do(http.MethodGet, "/api/assets?status=BROKEN", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/api/assets?limit=1", nil, "")
	assert.Len(t, decode[[]AssetDTO](t, rec), 1)
}

func TestChangeStatus_DisposedIsUnprocessable(t *testing.T) {
	// GIVEN: a disposed asset
	env := setupTestHandler(t)
	a := env.register("LT-001")
	rec := env.do(http.MethodPost, "/api/assets/"+a.ID+"/dispose", DisposeRequest{Reason: "SCRAPPED"}, "admin-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// WHEN: overriding its status
	rec = env.do(http.MethodPost, "/api/assets/"+a.ID+"/status", ChangeStatusRequest{Status: "AVAILABLE", Reason: "oops"}, "admin-1")

	// THEN: 422 naming the rule
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "asset_disposed", decode[ErrorResponse](t, rec).Rule)
}

// =============================================================================
// WORKFLOWS
// =============================================================================

func TestDeploymentFlow(t *testing.T) {
	// GIVEN: an available asset
	env := setupTestHandler(t)
	a := env.register("LT-001")

	// WHEN: a deployment is requested
	rec := env.do(http.MethodPost, "/api/assets/"+a.ID+"/deployments", DeploymentRequestDTO{EmployeeID: "emp-1", ExpectedReturnDate: "2026-12-31"}, "admin-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	d := decode[DeploymentDTO](t, rec)
	assert.Equal(t, "PENDING_ACCOUNTING_APPROVAL", d.Status)
	assert.Equal(t, "DT-2026-000001", d.TransmittalNumber)

	// THEN: it shows in the queue, and a second request conflicts
	rec = env.do(http.MethodGet, "/api/deployments/pending", nil, "")
	assert.Len(t, decode[[]DeploymentDTO](t, rec), 1)
	rec = env.do(http.MethodPost, "/api/assets/"+a.ID+"/deployments", DeploymentRequestDTO{EmployeeID: "emp-1"}, "admin-1")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, d.ID, decode[ErrorResponse](t, rec).ExistingID)

	// WHEN: accounting approves with no body
	rec = env.do(http.MethodPost, "/api/deployments/"+d.ID+"/approve", nil, "accounting-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "DEPLOYED", decode[DeploymentDTO](t, rec).Status)
	rec = env.do(http.MethodGet, "/api/assets/"+a.ID, nil, "")
	assert.Equal(t, "DEPLOYED", decode[AssetDTO](t, rec).Status)

	// THEN: requesting a deployed asset breaks a status rule, not a conflict
	rec = env.do(http.MethodPost, "/api/assets/"+a.ID+"/deployments", DeploymentRequestDTO{EmployeeID: "emp-1"}, "admin-1")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	assert.Equal(t, "asset_not_available", decode[ErrorResponse](t, rec).Rule)

	// WHEN: it is returned
	rec = env.do(http.MethodPost, "/api/deployments/"+d.ID+"/return", ReturnDeploymentRequest{ReturnCondition: "good"}, "admin-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.do(http.MethodGet, "/api/assets/"+a.ID, nil, "")
	assert.Equal(t, "AVAILABLE", decode[AssetDTO](t, rec).Status)

	// THEN: the audit trail tells the whole story
	rec = env.do(http.MethodGet, "/api/assets/"+a.ID+"/history", nil, "")
	kinds := []string{}
	for _, h := range decode[[]HistoryDTO](t, rec) {
		kinds = append(kinds, h.Kind)
	}
	assert.Equal(t, []string{"asset_registered", "deployment_requested", "deployment_approved", "deployment_returned"}, kinds)
}

func TestTransferFlow(t *testing.T) {
	// GIVEN: an available asset in bu-1
	env := setupTestHandler(t)
	a := env.register("LT-001")

	// WHEN: it is transferred to bu-2 through every step
	rec := env.do(http.MethodPost, "/api/assets/"+a.ID+"/transfers", TransferRequestDTO{ToBusinessUnitID: "bu-2", ToLocation: "Dock", Reason: "relocation"}, "admin-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tr := decode[TransferDTO](t, rec)
	assert.Equal(t, "TR-2026-000001", tr.TransferNumber)

	rec = env.do(http.MethodGet, "/api/transfers/pending", nil, "")
	assert.Len(t, decode[[]TransferDTO](t, rec), 1)

	for _, step := range []string{"approve", "ship", "receive"} {
		rec = env.do(http.MethodPost, "/api/transfers/"+tr.ID+"/"+step, nil, "accounting-1")
		require.Equal(t, http.StatusOK, rec.Code, step+": "+rec.Body.String())
	}

	// THEN: the asset belongs to bu-2 and receiving twice is refused
	rec = env.do(http.MethodGet, "/api/assets/"+a.ID, nil, "")
	got := decode[AssetDTO](t, rec)
	assert.Equal(t, "bu-2", got.BusinessUnitID)
	assert.Equal(t, "Dock", got.Location)

	rec = env.do(http.MethodPost, "/api/transfers/"+tr.ID+"/receive", nil, "accounting-1")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestMaintenanceAndDisposal(t *testing.T) {
	// GIVEN: an asset in maintenance
	env := setupTestHandler(t)
	a := env.register("LT-001")
	rec := env.do(http.MethodPost, "/api/assets/"+a.ID+"/maintenance", StartMaintenanceRequest{Description: "screen"}, "admin-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	m := decode[MaintenanceDTO](t, rec)

	// WHEN: disposing while in maintenance
	rec = env.do(http.MethodPost, "/api/assets/"+a.ID+"/dispose", DisposeRequest{Reason: "SCRAPPED"}, "admin-1")

	// THEN: refused until maintenance completes
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "asset_in_maintenance", decode[ErrorResponse](t, rec).Rule)

	rec = env.do(http.MethodPost, "/api/maintenance/"+m.ID+"/complete", CompleteMaintenanceRequest{Resolution: "replaced", Cost: mustAmount(t, "75")}, "admin-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "75.00", decode[MaintenanceDTO](t, rec).Cost.String())

	rec = env.do(http.MethodGet, "/api/eligible/disposal", nil, "")
	assert.Len(t, decode[[]AssetDTO](t, rec), 1)

	rec = env.do(http.MethodPost, "/api/assets/"+a.ID+"/dispose", DisposeRequest{
		Reason: "SOLD", DisposalDate: "2026-03-10", DisposalValue: mustAmount(t, "1200"), DisposalCost: mustAmount(t, "50"),
	}, "admin-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	d := decode[DisposalDTO](t, rec)
	assert.Equal(t, "1000.00", d.BookValueAtDisposal.String())
	assert.Equal(t, "150.00", d.GainLoss.String())

	rec = env.do(http.MethodGet, "/api/eligible/disposal", nil, "")
	assert.Empty(t, decode[[]AssetDTO](t, rec))
}

// =============================================================================
// DEPRECIATION
// =============================================================================

func TestRunDepreciation_PostsDuePeriods(t *testing.T) {
	// GIVEN: a laptop first due on 2026-02-01
	env := setupTestHandler(t)
	a := env.register("LT-001")

	rec := env.do(http.MethodGet, "/api/depreciation/due?as_of=2026-01-31", nil, "")
	assert.Empty(t, decode[[]AssetDTO](t, rec))
	rec = env.do(http.MethodGet, "/api/depreciation/due?as_of=2026-02-01", nil, "")
	assert.Len(t, decode[[]AssetDTO](t, rec), 1)

	rec = env.do(http.MethodGet, "/api/depreciation/runs/last", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// WHEN: running the batch through March
	rec = env.do(http.MethodPost, "/api/depreciation/run", RunDepreciationRequest{AsOf: "2026-03-31"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sum := decode[SummaryDTO](t, rec)

	// THEN: two periods post and the ledger shows them
	assert.Equal(t, 2, sum.Posted)
	assert.Equal(t, "200.00", sum.TotalDepreciation.String())
	assert.Empty(t, sum.Failures)

	rec = env.do(http.MethodGet, "/api/assets/"+a.ID+"/depreciation", nil, "")
	entries := decode[[]EntryDTO](t, rec)
	require.Len(t, entries, 2)
	assert.Equal(t, "2026-02-01", entries[0].Period)
	assert.Equal(t, "800.00", entries[1].BookValueAfter.String())

	rec = env.do(http.MethodGet, "/api/depreciation/runs/last", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[SummaryDTO](t, rec).Posted)

	// WHEN: running again for the same date
	rec = env.do(http.MethodPost, "/api/depreciation/run", RunDepreciationRequest{AsOf: "2026-03-31"}, "")

	// THEN: nothing new posts
	assert.Equal(t, 0, decode[SummaryDTO](t, rec).Posted)
}

func TestRecordUsage_FeedsUnitsOfProduction(t *testing.T) {
	// GIVEN: a machine depreciated over 1,000 units
	env := setupTestHandler(t)
	body := laptopBody("MC-001")
	body["depreciation_method"] = "UNITS_OF_PRODUCTION"
	body["total_expected_units"] = 1000
	delete(body, "useful_life_months")
	rec := env.do(http.MethodPost, "/api/assets", body, "admin-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	machine := decode[AssetDTO](t, rec)

	// WHEN: the batch runs without a reading
	rec = env.do(http.MethodPost, "/api/depreciation/run", RunDepreciationRequest{AsOf: "2026-02-15"}, "")
	sum := decode[SummaryDTO](t, rec)

	// THEN: the failure is isolated in the summary
	assert.Equal(t, 1, sum.Failed)
	require.Len(t, sum.Failures, 1)
	assert.Equal(t, "calculation", sum.Failures[0].Kind)

	// WHEN: February's usage is recorded and the batch reruns
	rec = env.do(http.MethodPost, "/api/assets/"+machine.ID+"/usage", UsageRequest{Period: "2026-02-20", Units: 250}, "metering")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = env.do(http.MethodPost, "/api/depreciation/run", RunDepreciationRequest{AsOf: "2026-02-15"}, "")
	sum = decode[SummaryDTO](t, rec)

	// THEN: a quarter of the base is posted
	assert.Equal(t, 1, sum.Posted)
	assert.Equal(t, "250.00", sum.TotalDepreciation.String())
}

func TestRecordUsage_RejectsOtherMethods(t *testing.T) {
	env := setupTestHandler(t)
	a := env.register("LT-001")

	rec := env.do(http.MethodPost, "/api/assets/"+a.ID+"/usage", UsageRequest{Period: "2026-02-01", Units: 5}, "metering")

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "usage_requires_units_of_production", decode[ErrorResponse](t, rec).Rule)
}

// =============================================================================
// EVENTS, DIRECTORY, HEALTH
// =============================================================================

func TestListEvents_Cursor(t *testing.T) {
	// GIVEN: two registrations
	env := setupTestHandler(t)
	env.register("LT-001")
	env.register("LT-002")

	// WHEN: paging one at a time
	rec := env.do(http.MethodGet, "/api/events?limit=1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Events []HistoryDTO `json:"events"`
		Next   int64        `json:"next"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Events, 1)

	rec = env.do(http.MethodGet, "/api/events?after="+itoa(page.Next), nil, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))

	// THEN: the second page holds the rest
	require.Len(t, page.Events, 1)
	assert.Equal(t, "asset_registered", page.Events[0].Kind)

	rec = env.do(http.MethodGet, "/api/events?after=-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDirectory(t *testing.T) {
	// GIVEN: a new business unit and employee
	env := setupTestHandler(t)
	rec := env.do(http.MethodPost, "/api/business-units", BusinessUnitDTO{ID: "bu-3", Name: "Lab", Active: true}, "admin-1")
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(http.MethodPost, "/api/employees", EmployeeDTO{ID: "emp-2", Name: "Sam Roe", BusinessUnitID: "bu-3", Active: true}, "admin-1")
	require.Equal(t, http.StatusCreated, rec.Code)

	// THEN: both are listed and usable in workflows
	rec = env.do(http.MethodGet, "/api/business-units", nil, "")
	assert.Len(t, decode[[]BusinessUnitDTO](t, rec), 3)
	rec = env.do(http.MethodGet, "/api/employees", nil, "")
	assert.Len(t, decode[[]EmployeeDTO](t, rec), 2)

	body := laptopBody("LAB-1")
	body["business_unit_id"] = "bu-3"
	rec = env.do(http.MethodPost, "/api/assets", body, "admin-1")
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(http.MethodPost, "/api/employees", EmployeeDTO{Name: "No ID"}, "admin-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWriteDomainError_StaleWriteIsRetryable(t *testing.T) {
	env := setupTestHandler(t)

	tests := map[string]struct {
		err        error
		status     int
		retryAfter string
	}{
		"stale write":       {err: &asset.ConflictError{Resource: "asset", AssetID: "a-1", Cause: asset.ErrStaleWrite}, status: http.StatusConflict, retryAfter: "1"},
		"active deployment": {err: &asset.ConflictError{Resource: "deployment", AssetID: "a-1", ExistingID: "d-1"}, status: http.StatusConflict},
		"precondition":      {err: &asset.PreconditionError{Rule: "asset_disposed", AssetID: "a-1"}, status: http.StatusUnprocessableEntity},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			env.handler.writeDomainError(rec, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.retryAfter, rec.Header().Get("Retry-After"))
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupTestHandler(t)

	rec := env.do(http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	env.register("LT-001")
	rec = env.do(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "asset_engine_workflow_transitions_total")
}

func TestCORSAllowsActorHeader(t *testing.T) {
	env := setupTestHandler(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/assets", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", ActorHeader)
	rec := httptest.NewRecorder()

	env.router.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}
