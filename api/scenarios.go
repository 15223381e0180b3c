/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the engine with realistic
	data for demos. Every scenario goes through the workflow service, so the
	audit trail, sequence numbers and event stream look exactly like real use.

AVAILABLE SCENARIOS:

	office-fleet:   Laptops across two business units, one deployed, one
	                waiting for accounting approval
	in-transit:     A printer shipped between business units (depreciation paused)
	machinery:      A units-of-production press with metering readings
	end-of-life:    Sum-of-years-digits server plus a disposed projector

HOW SCENARIOS WORK:
 1. Upsert business units and employees (idempotent)
 2. Register assets with codes prefixed by the scenario
 3. Drive workflows (deploy, transfer, dispose) as actor "scenario-loader"

USAGE VIA API:

	GET  /api/scenarios
	POST /api/scenarios/load
	{"scenario_id": "office-fleet"}

NOTE:

	Scenarios do not reset anything. Loading the same scenario twice fails
	with 409 on the first duplicate asset code.
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/asset-engine/asset"
	"github.com/warp/asset-engine/money"
	"github.com/warp/asset-engine/workflow"
)

const scenarioActor asset.Actor = "scenario-loader"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "office-fleet",
		Name:        "Office Fleet",
		Description: "Straight-line laptops in two business units; one deployed, one pending approval",
		Category:    "deployment",
	},
	{
		ID:          "in-transit",
		Name:        "Transfer In Transit",
		Description: "Declining-balance printer shipped to the warehouse; depreciation paused until received",
		Category:    "transfer",
	},
	{
		ID:          "machinery",
		Name:        "Metered Machinery",
		Description: "Units-of-production press with three months of usage readings",
		Category:    "depreciation",
	},
	{
		ID:          "end-of-life",
		Name:        "End of Life",
		Description: "Sum-of-years-digits server plus a projector sold at a gain",
		Category:    "disposal",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a demo scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "office-fleet":
		load = h.loadOfficeFleetScenario
	case "in-transit":
		load = h.loadInTransitScenario
	case "machinery":
		load = h.loadMachineryScenario
	case "end-of-life":
		load = h.loadEndOfLifeScenario
	default:
		h.writeDomainError(w, asset.Invalid("scenario_id", fmt.Sprintf("unknown scenario %q", req.ScenarioID)))
		return
	}

	if err := load(r.Context()); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.Logger.Info("scenario loaded", "scenario", req.ScenarioID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": req.ScenarioID})
}

// =============================================================================
// SHARED FIXTURES
// =============================================================================

func (h *Handler) seedDirectory(ctx context.Context) error {
	for _, bu := range []asset.BusinessUnit{
		{ID: "bu-hq", Name: "Head Office", Active: true},
		{ID: "bu-warehouse", Name: "Central Warehouse", Active: true},
	} {
		bu.CreatedAt = time.Now().UTC()
		if err := h.Directory.SaveBusinessUnit(ctx, bu); err != nil {
			return err
		}
	}
	for _, e := range []asset.Employee{
		{ID: "emp-alice", Name: "Alice Martin", Email: "alice@example.com", BusinessUnitID: "bu-hq", Active: true},
		{ID: "emp-bob", Name: "Bob Chen", Email: "bob@example.com", BusinessUnitID: "bu-hq", Active: true},
	} {
		e.CreatedAt = time.Now().UTC()
		if err := h.Directory.SaveEmployee(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// monthsAgo is the first day of the month n months before the service clock.
func (h *Handler) monthsAgo(n int) time.Time {
	now := time.Now
	if h.Service.Now != nil {
		now = h.Service.Now
	}
	return asset.AddMonths(asset.PeriodOf(now()), -n)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadOfficeFleetScenario(ctx context.Context) error {
	if err := h.seedDirectory(ctx); err != nil {
		return err
	}

	var laptops []asset.Asset
	for i, price := range []string{"1800", "1500", "1200"} {
		a, err := h.Service.RegisterAsset(ctx, scenarioActor, workflow.Registration{
			Code:             fmt.Sprintf("FLEET-LT-%03d", i+1),
			Name:             "Laptop",
			CategoryID:       "it-equipment",
			Quantity:         1,
			BusinessUnitID:   "bu-hq",
			Location:         "Floor 2",
			PurchasePrice:    money.MustParse(price),
			SalvageValue:     money.MustParse("200"),
			Method:           asset.StraightLine,
			UsefulLifeMonths: 36,
			PurchaseDate:     h.monthsAgo(4),
		})
		if err != nil {
			return err
		}
		laptops = append(laptops, a)
	}

	d, err := h.Service.RequestDeployment(ctx, scenarioActor, workflow.DeploymentRequest{
		AssetID: laptops[0].ID, EmployeeID: "emp-alice", ConditionNotes: "new, sealed box",
	})
	if err != nil {
		return err
	}
	if _, err := h.Service.ApproveDeployment(ctx, scenarioActor, d.ID, nil); err != nil {
		return err
	}

	_, err = h.Service.RequestDeployment(ctx, scenarioActor, workflow.DeploymentRequest{
		AssetID: laptops[1].ID, EmployeeID: "emp-bob",
	})
	return err
}

func (h *Handler) loadInTransitScenario(ctx context.Context) error {
	if err := h.seedDirectory(ctx); err != nil {
		return err
	}

	printer, err := h.Service.RegisterAsset(ctx, scenarioActor, workflow.Registration{
		Code:             "TRANSIT-PR-001",
		Name:             "Wide-format printer",
		CategoryID:       "office-equipment",
		Quantity:         1,
		BusinessUnitID:   "bu-hq",
		Location:         "Print room",
		PurchasePrice:    money.MustParse("5000"),
		SalvageValue:     money.MustParse("500"),
		Method:           asset.DecliningBalance,
		DepreciationRate: decimal.NewFromInt(30),
		UsefulLifeMonths: 60,
		PurchaseDate:     h.monthsAgo(6),
	})
	if err != nil {
		return err
	}

	t, err := h.Service.RequestTransfer(ctx, scenarioActor, workflow.TransferRequest{
		AssetID:          printer.ID,
		ToBusinessUnitID: "bu-warehouse",
		ToLocation:       "Bay 4",
		Reason:           "print room closing",
		TransferCost:     money.MustParse("120"),
		InsuranceValue:   money.MustParse("4000"),
	})
	if err != nil {
		return err
	}
	if _, err := h.Service.ApproveTransfer(ctx, scenarioActor, t.ID); err != nil {
		return err
	}
	_, err = h.Service.ShipTransfer(ctx, scenarioActor, t.ID)
	return err
}

func (h *Handler) loadMachineryScenario(ctx context.Context) error {
	if err := h.seedDirectory(ctx); err != nil {
		return err
	}

	press, err := h.Service.RegisterAsset(ctx, scenarioActor, workflow.Registration{
		Code:               "MACH-PRESS-001",
		Name:               "Hydraulic press",
		CategoryID:         "machinery",
		Quantity:           1,
		BusinessUnitID:     "bu-warehouse",
		Location:           "Line 1",
		PurchasePrice:      money.MustParse("120000"),
		SalvageValue:       money.MustParse("20000"),
		Method:             asset.UnitsOfProduction,
		TotalExpectedUnits: 500000,
		PurchaseDate:       h.monthsAgo(3),
	})
	if err != nil {
		return err
	}

	// Readings for the periods the next batch will post.
	for i, units := range []int64{8000, 12500, 9800} {
		if err := h.Usage.RecordUsage(ctx, asset.UsageReading{
			AssetID:    press.ID,
			Period:     h.monthsAgo(2 - i),
			Units:      units,
			RecordedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadEndOfLifeScenario(ctx context.Context) error {
	if err := h.seedDirectory(ctx); err != nil {
		return err
	}

	if _, err := h.Service.RegisterAsset(ctx, scenarioActor, workflow.Registration{
		Code:             "EOL-SRV-001",
		Name:             "Rack server",
		CategoryID:       "it-equipment",
		Quantity:         1,
		BusinessUnitID:   "bu-hq",
		Location:         "Server room",
		PurchasePrice:    money.MustParse("24000"),
		SalvageValue:     money.MustParse("3000"),
		Method:           asset.SumOfYearsDigits,
		UsefulLifeMonths: 48,
		PurchaseDate:     h.monthsAgo(30),
	}); err != nil {
		return err
	}

	projector, err := h.Service.RegisterAsset(ctx, scenarioActor, workflow.Registration{
		Code:             "EOL-PJ-001",
		Name:             "Projector",
		CategoryID:       "av-equipment",
		Quantity:         1,
		BusinessUnitID:   "bu-hq",
		Location:         "Boardroom",
		PurchasePrice:    money.MustParse("900"),
		SalvageValue:     money.MustParse("100"),
		Method:           asset.StraightLine,
		UsefulLifeMonths: 24,
		PurchaseDate:     h.monthsAgo(2),
	})
	if err != nil {
		return err
	}
	_, err = h.Service.Dispose(ctx, scenarioActor, workflow.DisposalRequest{
		AssetID:       projector.ID,
		Reason:        asset.DisposalSold,
		DisposalValue: money.MustParse("950"),
		DisposalCost:  money.MustParse("25"),
		Notes:         "sold to staff member",
	})
	return err
}
