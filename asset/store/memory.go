// Package store provides the in-memory asset.Store.
package store

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/warp/asset-engine/asset"
)

var errTxDone = errors.New("memory store: transaction already committed or rolled back")

var _ asset.Store = (*Memory)(nil)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================
//
// Units of work are fully serialized: Begin takes a one-slot semaphore that
// Commit or Rollback releases. Writes go straight to the live maps and
// Rollback restores the snapshot taken at Begin. Queries take the same slot,
// so they never observe an uncommitted write.

type Memory struct {
	sem chan struct{}
	state
}

type state struct {
	assets      map[asset.AssetID]asset.Asset
	deployments map[string]asset.DeploymentRecord
	transfers   map[string]asset.TransferRecord
	maintenance map[string]asset.MaintenanceRecord
	disposals   map[asset.AssetID]asset.DisposalRecord
	entries     map[asset.AssetID][]asset.DepreciationEntry
	history     []asset.HistoryEntry
	sequences   map[string]int64

	employees map[asset.EmployeeID]asset.Employee
	units     map[asset.BusinessUnitID]asset.BusinessUnit
	usage     map[usageKey]asset.UsageReading
}

type usageKey struct {
	AssetID asset.AssetID
	Period  time.Time
}

func NewMemory() *Memory {
	return &Memory{
		sem: make(chan struct{}, 1),
		state: state{
			assets:      make(map[asset.AssetID]asset.Asset),
			deployments: make(map[string]asset.DeploymentRecord),
			transfers:   make(map[string]asset.TransferRecord),
			maintenance: make(map[string]asset.MaintenanceRecord),
			disposals:   make(map[asset.AssetID]asset.DisposalRecord),
			entries:     make(map[asset.AssetID][]asset.DepreciationEntry),
			sequences:   make(map[string]int64),
			employees:   make(map[asset.EmployeeID]asset.Employee),
			units:       make(map[asset.BusinessUnitID]asset.BusinessUnit),
			usage:       make(map[usageKey]asset.UsageReading),
		},
	}
}

func (m *Memory) acquire(ctx context.Context) error {
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) release() { <-m.sem }

func (s *state) snapshot() state {
	entries := make(map[asset.AssetID][]asset.DepreciationEntry, len(s.entries))
	for k, v := range s.entries {
		entries[k] = slices.Clone(v)
	}
	return state{
		assets:      maps.Clone(s.assets),
		deployments: maps.Clone(s.deployments),
		transfers:   maps.Clone(s.transfers),
		maintenance: maps.Clone(s.maintenance),
		disposals:   maps.Clone(s.disposals),
		entries:     entries,
		history:     slices.Clone(s.history),
		sequences:   maps.Clone(s.sequences),
		employees:   maps.Clone(s.employees),
		units:       maps.Clone(s.units),
		usage:       maps.Clone(s.usage),
	}
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

func (m *Memory) Begin(ctx context.Context) (asset.Tx, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	return &memTx{m: m, snap: m.snapshot()}, nil
}

type memTx struct {
	m    *Memory
	snap state
	done bool
}

func (tx *memTx) Commit() error {
	if tx.done {
		return errTxDone
	}
	tx.done = true
	tx.m.release()
	return nil
}

func (tx *memTx) Rollback() error {
	if tx.done {
		return errTxDone
	}
	tx.done = true
	tx.m.state = tx.snap
	tx.m.release()
	return nil
}

func (tx *memTx) live() (*state, error) {
	if tx.done {
		return nil, errTxDone
	}
	return &tx.m.state, nil
}

// --- assets ---

func (tx *memTx) GetAsset(_ context.Context, id asset.AssetID) (asset.Asset, error) {
	s, err := tx.live()
	if err != nil {
		return asset.Asset{}, err
	}
	return s.getAsset(id)
}

func (tx *memTx) InsertAsset(_ context.Context, a asset.Asset) error {
	s, err := tx.live()
	if err != nil {
		return err
	}
	if _, ok := s.assets[a.ID]; ok {
		return &asset.ConflictError{Resource: "asset", AssetID: a.ID, Message: "asset id already exists"}
	}
	if s.codeTaken(a.BusinessUnitID, a.Code, a.ID) {
		return codeConflict(a)
	}
	if a.Version == 0 {
		a.Version = 1
	}
	s.assets[a.ID] = a
	return nil
}

func (tx *memTx) UpdateAsset(_ context.Context, a asset.Asset) error {
	s, err := tx.live()
	if err != nil {
		return err
	}
	cur, ok := s.assets[a.ID]
	if !ok {
		return asset.NotFound("asset", string(a.ID))
	}
	if cur.Version != a.Version {
		return &asset.ConflictError{Resource: "asset", AssetID: a.ID, Cause: asset.ErrStaleWrite}
	}
	if s.codeTaken(a.BusinessUnitID, a.Code, a.ID) {
		return codeConflict(a)
	}
	a.Version++
	s.assets[a.ID] = a
	return nil
}

func (tx *memTx) CodeTaken(_ context.Context, bu asset.BusinessUnitID, code string, except asset.AssetID) (bool, error) {
	s, err := tx.live()
	if err != nil {
		return false, err
	}
	return s.codeTaken(bu, code, except), nil
}

// --- deployments ---

func (tx *memTx) GetDeployment(_ context.Context, id string) (asset.DeploymentRecord, error) {
	s, err := tx.live()
	if err != nil {
		return asset.DeploymentRecord{}, err
	}
	r, ok := s.deployments[id]
	if !ok {
		return asset.DeploymentRecord{}, asset.NotFound("deployment", id)
	}
	return r, nil
}

func (tx *memTx) ActiveDeployment(_ context.Context, id asset.AssetID) (*asset.DeploymentRecord, error) {
	s, err := tx.live()
	if err != nil {
		return nil, err
	}
	return s.activeDeployment(id), nil
}

func (tx *memTx) InsertDeployment(_ context.Context, r asset.DeploymentRecord) error {
	s, err := tx.live()
	if err != nil {
		return err
	}
	if r.Status.Active() {
		if cur := s.activeDeployment(r.AssetID); cur != nil {
			return &asset.ConflictError{Resource: "deployment", AssetID: r.AssetID, ExistingID: cur.ID, Message: "asset already has an active deployment"}
		}
	}
	s.deployments[r.ID] = r
	return nil
}

func (tx *memTx) UpdateDeployment(_ context.Context, r asset.DeploymentRecord) error {
	s, err := tx.live()
	if err != nil {
		return err
	}
	if _, ok := s.deployments[r.ID]; !ok {
		return asset.NotFound("deployment", r.ID)
	}
	s.deployments[r.ID] = r
	return nil
}

// --- transfers ---

func (tx *memTx) GetTransfer(_ context.Context, id string) (asset.TransferRecord, error) {
	s, err := tx.live()
	if err != nil {
		return asset.TransferRecord{}, err
	}
	r, ok := s.transfers[id]
	if !ok {
		return asset.TransferRecord{}, asset.NotFound("transfer", id)
	}
	return r, nil
}

func (tx *memTx) ActiveTransfer(_ context.Context, id asset.AssetID) (*asset.TransferRecord, error) {
	s, err := tx.live()
	if err != nil {
		return nil, err
	}
	return s.activeTransfer(id), nil
}

func (tx *memTx) InsertTransfer(_ context.Context, r asset.TransferRecord) error {
	s, err := tx.live()
	if err != nil {
		return err
	}
	if r.Status.Active() {
		if cur := s.activeTransfer(r.AssetID); cur != nil {
			return &asset.ConflictError{Resource: "transfer", AssetID: r.AssetID, ExistingID: cur.ID, Message: "asset already has an active transfer"}
		}
	}
	s.transfers[r.ID] = r
	return nil
}

func (tx *memTx) UpdateTransfer(_ context.Context, r asset.TransferRecord) error {
	s, err := tx.live()
	if err != nil {
		return err
	}
	if _, ok := s.transfers[r.ID]; !ok {
		return asset.NotFound("transfer", r.ID)
	}
	s.transfers[r.ID] = r
	return nil
}

// --- maintenance ---

func (tx *memTx) GetMaintenance(_ context.Context, id string) (asset.MaintenanceRecord, error) {
	s, err := tx.live()
	if err != nil {
		return asset.MaintenanceRecord{}, err
	}
	r, ok := s.maintenance[id]
	if !ok {
		return asset.MaintenanceRecord{}, asset.NotFound("maintenance", id)
	}
	return r, nil
}

func (tx *memTx) ActiveMaintenance(_ context.Context, id asset.AssetID) (*asset.MaintenanceRecord, error) {
	s, err := tx.live()
	if err != nil {
		return nil, err
	}
	return s.activeMaintenance(id), nil
}

func (tx *memTx) InsertMaintenance(_ context.Context, r asset.MaintenanceRecord) error {
	s, err := tx.live()
	if err != nil {
		return err
	}
	if r.Status.Active() {
		if cur := s.activeMaintenance(r.AssetID); cur != nil {
			return &asset.ConflictError{Resource: "maintenance", AssetID: r.AssetID, ExistingID: cur.ID, Message: "asset already has maintenance in progress"}
		}
	}
	s.maintenance[r.ID] = r
	return nil
}

func (tx *memTx) UpdateMaintenance(_ context.Context, r asset.MaintenanceRecord) error {
	s, err := tx.live()
	if err != nil {
		return err
	}
	if _, ok := s.maintenance[r.ID]; !ok {
		return asset.NotFound("maintenance", r.ID)
	}
	s.maintenance[r.ID] = r
	return nil
}

// --- disposal ---

func (tx *memTx) InsertDisposal(_ context.Context, d asset.DisposalRecord) error {
	s, err := tx.live()
	if err != nil {
		return err
	}
	if cur, ok := s.disposals[d.AssetID]; ok {
		return &asset.ConflictError{Resource: "disposal", AssetID: d.AssetID, ExistingID: cur.ID, Message: "asset already disposed"}
	}
	s.disposals[d.AssetID] = d
	return nil
}

// --- ledger and history ---

func (tx *memTx) LatestEntry(_ context.Context, id asset.AssetID) (*asset.DepreciationEntry, error) {
	s, err := tx.live()
	if err != nil {
		return nil, err
	}
	es := s.entries[id]
	if len(es) == 0 {
		return nil, nil
	}
	e := es[len(es)-1]
	return &e, nil
}

func (tx *memTx) CountEntries(_ context.Context, id asset.AssetID) (int, error) {
	s, err := tx.live()
	if err != nil {
		return 0, err
	}
	return len(s.entries[id]), nil
}

func (tx *memTx) AppendEntry(_ context.Context, e asset.DepreciationEntry) error {
	s, err := tx.live()
	if err != nil {
		return err
	}
	es := s.entries[e.AssetID]
	for _, cur := range es {
		if cur.Period.Equal(e.Period) {
			return &asset.ConflictError{Resource: "depreciation_entry", AssetID: e.AssetID, ExistingID: cur.ID, Cause: asset.ErrDuplicatePeriod}
		}
	}
	// Insert keeping period order.
	i := sort.Search(len(es), func(i int) bool { return es[i].Period.After(e.Period) })
	s.entries[e.AssetID] = slices.Insert(es, i, e)
	return nil
}

func (tx *memTx) AppendHistory(_ context.Context, h asset.HistoryEntry) (asset.HistoryEntry, error) {
	s, err := tx.live()
	if err != nil {
		return asset.HistoryEntry{}, err
	}
	s.sequences["history"]++
	h.Seq = s.sequences["history"]
	s.history = append(s.history, h)
	return h, nil
}

func (tx *memTx) NextSequence(_ context.Context, name string) (int64, error) {
	s, err := tx.live()
	if err != nil {
		return 0, err
	}
	s.sequences["seq:"+name]++
	return s.sequences["seq:"+name], nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (m *Memory) GetAsset(ctx context.Context, id asset.AssetID) (asset.Asset, error) {
	if err := m.acquire(ctx); err != nil {
		return asset.Asset{}, err
	}
	defer m.release()
	return m.getAsset(id)
}

func (m *Memory) ListAssets(ctx context.Context, f asset.AssetFilter) ([]asset.Asset, error) {
	return m.selectAssets(ctx, f.Limit, func(s *state, a asset.Asset) bool {
		if f.Status != "" && a.Status != f.Status {
			return false
		}
		return f.BusinessUnitID == "" || a.BusinessUnitID == f.BusinessUnitID
	})
}

func (m *Memory) DueForDepreciation(ctx context.Context, asOf time.Time) ([]asset.Asset, error) {
	return m.selectAssets(ctx, 0, func(s *state, a asset.Asset) bool {
		if a.Status.HaltsDepreciation() || !a.DueAt(asOf) {
			return false
		}
		t := s.activeTransfer(a.ID)
		return t == nil || t.Status != asset.TransferInTransit
	})
}

func (m *Memory) EligibleForTransfer(ctx context.Context) ([]asset.Asset, error) {
	return m.selectAssets(ctx, 0, func(s *state, a asset.Asset) bool {
		return a.Status != asset.StatusDisposed && a.Status != asset.StatusDeployed &&
			s.activeDeployment(a.ID) == nil && s.activeTransfer(a.ID) == nil
	})
}

func (m *Memory) EligibleForDisposal(ctx context.Context) ([]asset.Asset, error) {
	return m.selectAssets(ctx, 0, func(s *state, a asset.Asset) bool {
		return a.Status != asset.StatusDisposed &&
			s.activeDeployment(a.ID) == nil && s.activeTransfer(a.ID) == nil && s.activeMaintenance(a.ID) == nil
	})
}

func (m *Memory) selectAssets(ctx context.Context, limit int, keep func(*state, asset.Asset) bool) ([]asset.Asset, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()

	var out []asset.Asset
	for _, a := range m.assets {
		if keep(&m.state, a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) PendingDeployments(ctx context.Context) ([]asset.DeploymentRecord, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()

	var out []asset.DeploymentRecord
	for _, r := range m.deployments {
		if r.Status == asset.DeploymentPending {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransmittalNumber < out[j].TransmittalNumber })
	return out, nil
}

func (m *Memory) PendingTransfers(ctx context.Context) ([]asset.TransferRecord, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()

	var out []asset.TransferRecord
	for _, r := range m.transfers {
		if r.Status == asset.TransferPending {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransferNumber < out[j].TransferNumber })
	return out, nil
}

func (m *Memory) Entries(ctx context.Context, id asset.AssetID) ([]asset.DepreciationEntry, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()
	return slices.Clone(m.entries[id]), nil
}

func (m *Memory) History(ctx context.Context, id asset.AssetID) ([]asset.HistoryEntry, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()

	var out []asset.HistoryEntry
	for _, h := range m.history {
		if h.AssetID == id {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *Memory) HistorySince(ctx context.Context, after int64, limit int) ([]asset.HistoryEntry, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()

	// history is in Seq order
	i := sort.Search(len(m.history), func(i int) bool { return m.history[i].Seq > after })
	out := slices.Clone(m.history[i:])
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// =============================================================================
// DIRECTORY AND METERING FEED
// =============================================================================

func (m *Memory) SaveEmployee(ctx context.Context, e asset.Employee) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()
	m.employees[e.ID] = e
	return nil
}

func (m *Memory) GetEmployee(ctx context.Context, id asset.EmployeeID) (asset.Employee, error) {
	if err := m.acquire(ctx); err != nil {
		return asset.Employee{}, err
	}
	defer m.release()
	e, ok := m.employees[id]
	if !ok {
		return asset.Employee{}, asset.NotFound("employee", string(id))
	}
	return e, nil
}

func (m *Memory) ListEmployees(ctx context.Context) ([]asset.Employee, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()
	out := slices.Collect(maps.Values(m.employees))
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveBusinessUnit(ctx context.Context, bu asset.BusinessUnit) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()
	m.units[bu.ID] = bu
	return nil
}

func (m *Memory) GetBusinessUnit(ctx context.Context, id asset.BusinessUnitID) (asset.BusinessUnit, error) {
	if err := m.acquire(ctx); err != nil {
		return asset.BusinessUnit{}, err
	}
	defer m.release()
	bu, ok := m.units[id]
	if !ok {
		return asset.BusinessUnit{}, asset.NotFound("business unit", string(id))
	}
	return bu, nil
}

func (m *Memory) ListBusinessUnits(ctx context.Context) ([]asset.BusinessUnit, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()
	out := slices.Collect(maps.Values(m.units))
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RecordUsage stores or replaces the reading for (asset, month).
func (m *Memory) RecordUsage(ctx context.Context, r asset.UsageReading) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()
	r.Period = asset.PeriodOf(r.Period)
	m.usage[usageKey{AssetID: r.AssetID, Period: r.Period}] = r
	return nil
}

func (m *Memory) UnitsConsumed(ctx context.Context, id asset.AssetID, period time.Time) (int64, bool, error) {
	if err := m.acquire(ctx); err != nil {
		return 0, false, err
	}
	defer m.release()
	r, ok := m.usage[usageKey{AssetID: id, Period: asset.PeriodOf(period)}]
	return r.Units, ok, nil
}

// =============================================================================
// STATE HELPERS (caller holds the slot)
// =============================================================================

func (s *state) getAsset(id asset.AssetID) (asset.Asset, error) {
	a, ok := s.assets[id]
	if !ok {
		return asset.Asset{}, asset.NotFound("asset", string(id))
	}
	return a, nil
}

func (s *state) codeTaken(bu asset.BusinessUnitID, code string, except asset.AssetID) bool {
	for _, a := range s.assets {
		if a.ID != except && a.BusinessUnitID == bu && strings.EqualFold(a.Code, code) {
			return true
		}
	}
	return false
}

func (s *state) activeDeployment(id asset.AssetID) *asset.DeploymentRecord {
	for _, r := range s.deployments {
		if r.AssetID == id && r.Status.Active() {
			return &r
		}
	}
	return nil
}

func (s *state) activeTransfer(id asset.AssetID) *asset.TransferRecord {
	for _, r := range s.transfers {
		if r.AssetID == id && r.Status.Active() {
			return &r
		}
	}
	return nil
}

func (s *state) activeMaintenance(id asset.AssetID) *asset.MaintenanceRecord {
	for _, r := range s.maintenance {
		if r.AssetID == id && r.Status.Active() {
			return &r
		}
	}
	return nil
}

func codeConflict(a asset.Asset) error {
	return &asset.ConflictError{
		Resource: "asset_code",
		AssetID:  a.ID,
		Message:  "code " + a.Code + " is already used in business unit " + string(a.BusinessUnitID),
	}
}
