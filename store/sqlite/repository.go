package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/asset-engine/asset"
)

// =============================================================================
// ASSETS
// =============================================================================

const assetColumns = `id, code, name, category_id, quantity, business_unit_id, location, status,
	purchase_price, salvage_value, current_book_value, accumulated_depreciation, monthly_depreciation,
	method, useful_life_months, depreciation_rate, total_expected_units,
	purchase_date, depreciation_start_date, next_depreciation_date, is_fully_depreciated,
	version, created_at, updated_at`

func scanAsset(r row) (asset.Asset, error) {
	var a asset.Asset
	err := r.Scan(
		&a.ID, &a.Code, &a.Name, &a.CategoryID, &a.Quantity, &a.BusinessUnitID, &a.Location, &a.Status,
		&a.PurchasePrice.Value, &a.SalvageValue.Value, &a.CurrentBookValue.Value,
		&a.AccumulatedDepreciation.Value, &a.MonthlyDepreciation.Value,
		&a.Depreciation.Method, &a.Depreciation.UsefulLifeMonths, &a.Depreciation.DepreciationRate,
		&a.Depreciation.TotalExpectedUnits,
		timeCol{&a.PurchaseDate}, timeCol{&a.DepreciationStartDate}, nullTimeCol{&a.NextDepreciationDate},
		&a.IsFullyDepreciated,
		&a.Version, timeCol{&a.CreatedAt}, timeCol{&a.UpdatedAt},
	)
	return a, err
}

func getAsset(ctx context.Context, q querier, id asset.AssetID) (asset.Asset, error) {
	a, err := scanAsset(q.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return asset.Asset{}, asset.NotFound("asset", string(id))
	}
	if err != nil {
		return asset.Asset{}, fmt.Errorf("failed to load asset %s: %w", id, err)
	}
	return a, nil
}

func (r *txRepo) GetAsset(ctx context.Context, id asset.AssetID) (asset.Asset, error) {
	return getAsset(ctx, r.q, id)
}

func (r *txRepo) InsertAsset(ctx context.Context, a asset.Asset) error {
	if a.Version == 0 {
		a.Version = 1
	}
	_, err := r.q.ExecContext(ctx, `INSERT INTO assets (`+assetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Code, a.Name, a.CategoryID, a.Quantity, a.BusinessUnitID, a.Location, a.Status,
		a.PurchasePrice.Value, a.SalvageValue.Value, a.CurrentBookValue.Value,
		a.AccumulatedDepreciation.Value, a.MonthlyDepreciation.Value,
		a.Depreciation.Method, a.Depreciation.UsefulLifeMonths, a.Depreciation.DepreciationRate,
		a.Depreciation.TotalExpectedUnits,
		formatTime(a.PurchaseDate), formatTime(a.DepreciationStartDate), nullTime(a.NextDepreciationDate),
		a.IsFullyDepreciated,
		a.Version, formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	switch {
	case err == nil:
		return nil
	case isPrimaryKeyError(err):
		return &asset.ConflictError{Resource: "asset", AssetID: a.ID, Message: "asset id already exists"}
	case isUniqueConstraintError(err):
		return codeConflict(a)
	}
	return fmt.Errorf("failed to insert asset: %w", err)
}

func (r *txRepo) UpdateAsset(ctx context.Context, a asset.Asset) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE assets SET
			code = ?, name = ?, category_id = ?, quantity = ?, business_unit_id = ?, location = ?, status = ?,
			purchase_price = ?, salvage_value = ?, current_book_value = ?, accumulated_depreciation = ?,
			monthly_depreciation = ?, method = ?, useful_life_months = ?, depreciation_rate = ?,
			total_expected_units = ?, purchase_date = ?, depreciation_start_date = ?,
			next_depreciation_date = ?, is_fully_depreciated = ?, updated_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?`,
		a.Code, a.Name, a.CategoryID, a.Quantity, a.BusinessUnitID, a.Location, a.Status,
		a.PurchasePrice.Value, a.SalvageValue.Value, a.CurrentBookValue.Value, a.AccumulatedDepreciation.Value,
		a.MonthlyDepreciation.Value, a.Depreciation.Method, a.Depreciation.UsefulLifeMonths, a.Depreciation.DepreciationRate,
		a.Depreciation.TotalExpectedUnits, formatTime(a.PurchaseDate), formatTime(a.DepreciationStartDate),
		nullTime(a.NextDepreciationDate), a.IsFullyDepreciated, formatTime(a.UpdatedAt),
		a.ID, a.Version,
	)
	if isUniqueConstraintError(err) {
		return codeConflict(a)
	}
	if err != nil {
		return fmt.Errorf("failed to update asset: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := getAsset(ctx, r.q, a.ID); err != nil {
		return err
	}
	return &asset.ConflictError{Resource: "asset", AssetID: a.ID, Cause: asset.ErrStaleWrite}
}

func (r *txRepo) CodeTaken(ctx context.Context, bu asset.BusinessUnitID, code string, except asset.AssetID) (bool, error) {
	var taken bool
	err := r.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM assets WHERE business_unit_id = ? AND code = ? COLLATE NOCASE AND id <> ?)`,
		bu, code, except,
	).Scan(&taken)
	return taken, err
}

func codeConflict(a asset.Asset) error {
	return &asset.ConflictError{
		Resource: "asset_code",
		AssetID:  a.ID,
		Message:  "code " + a.Code + " is already used in business unit " + string(a.BusinessUnitID),
	}
}

// =============================================================================
// DEPLOYMENTS
// =============================================================================

const deploymentColumns = `id, transmittal_number, asset_id, employee_id, status,
	deployed_date, expected_return_date, returned_date, condition_notes, return_condition, rejection_reason,
	requested_by, requested_at, approved_by, approved_at, closed_by, closed_at, updated_at`

func scanDeployment(r row) (asset.DeploymentRecord, error) {
	var d asset.DeploymentRecord
	err := r.Scan(
		&d.ID, &d.TransmittalNumber, &d.AssetID, &d.EmployeeID, &d.Status,
		nullTimeCol{&d.DeployedDate}, nullTimeCol{&d.ExpectedReturnDate}, nullTimeCol{&d.ReturnedDate},
		&d.ConditionNotes, &d.ReturnCondition, &d.RejectionReason,
		&d.RequestedBy, timeCol{&d.RequestedAt}, &d.ApprovedBy, nullTimeCol{&d.ApprovedAt},
		&d.ClosedBy, nullTimeCol{&d.ClosedAt}, timeCol{&d.UpdatedAt},
	)
	return d, err
}

func (r *txRepo) GetDeployment(ctx context.Context, id string) (asset.DeploymentRecord, error) {
	d, err := scanDeployment(r.q.QueryRowContext(ctx, `SELECT `+deploymentColumns+` FROM deployments WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return d, asset.NotFound("deployment", id)
	}
	return d, err
}

func (r *txRepo) ActiveDeployment(ctx context.Context, id asset.AssetID) (*asset.DeploymentRecord, error) {
	d, err := scanDeployment(r.q.QueryRowContext(ctx,
		`SELECT `+deploymentColumns+` FROM deployments WHERE asset_id = ? AND `+activeDeployment, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *txRepo) InsertDeployment(ctx context.Context, d asset.DeploymentRecord) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO deployments (`+deploymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.TransmittalNumber, d.AssetID, d.EmployeeID, d.Status,
		nullTime(d.DeployedDate), nullTime(d.ExpectedReturnDate), nullTime(d.ReturnedDate),
		d.ConditionNotes, d.ReturnCondition, d.RejectionReason,
		d.RequestedBy, formatTime(d.RequestedAt), d.ApprovedBy, nullTime(d.ApprovedAt),
		d.ClosedBy, nullTime(d.ClosedAt), formatTime(d.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		conflict := &asset.ConflictError{Resource: "deployment", AssetID: d.AssetID, Message: "asset already has an active deployment"}
		if cur, _ := r.ActiveDeployment(ctx, d.AssetID); cur != nil {
			conflict.ExistingID = cur.ID
		}
		return conflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert deployment: %w", err)
	}
	return nil
}

func (r *txRepo) UpdateDeployment(ctx context.Context, d asset.DeploymentRecord) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE deployments SET
			status = ?, deployed_date = ?, expected_return_date = ?, returned_date = ?,
			condition_notes = ?, return_condition = ?, rejection_reason = ?,
			approved_by = ?, approved_at = ?, closed_by = ?, closed_at = ?, updated_at = ?
		WHERE id = ?`,
		d.Status, nullTime(d.DeployedDate), nullTime(d.ExpectedReturnDate), nullTime(d.ReturnedDate),
		d.ConditionNotes, d.ReturnCondition, d.RejectionReason,
		d.ApprovedBy, nullTime(d.ApprovedAt), d.ClosedBy, nullTime(d.ClosedAt), formatTime(d.UpdatedAt),
		d.ID,
	)
	return affectedOne(res, err, "deployment", d.ID)
}

// =============================================================================
// TRANSFERS
// =============================================================================

const transferColumns = `id, transfer_number, asset_id, from_business_unit_id, to_business_unit_id,
	from_location, to_location, status, reason, rejection_reason, transfer_cost, insurance_value,
	requested_by, requested_at, approved_by, approved_at, shipped_by, shipped_at,
	received_by, received_at, closed_by, closed_at, updated_at`

func scanTransfer(r row) (asset.TransferRecord, error) {
	var t asset.TransferRecord
	err := r.Scan(
		&t.ID, &t.TransferNumber, &t.AssetID, &t.FromBusinessUnitID, &t.ToBusinessUnitID,
		&t.FromLocation, &t.ToLocation, &t.Status, &t.Reason, &t.RejectionReason,
		&t.TransferCost.Value, &t.InsuranceValue.Value,
		&t.RequestedBy, timeCol{&t.RequestedAt}, &t.ApprovedBy, nullTimeCol{&t.ApprovedAt},
		&t.ShippedBy, nullTimeCol{&t.ShippedAt}, &t.ReceivedBy, nullTimeCol{&t.ReceivedAt},
		&t.ClosedBy, nullTimeCol{&t.ClosedAt}, timeCol{&t.UpdatedAt},
	)
	return t, err
}

func (r *txRepo) GetTransfer(ctx context.Context, id string) (asset.TransferRecord, error) {
	t, err := scanTransfer(r.q.QueryRowContext(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return t, asset.NotFound("transfer", id)
	}
	return t, err
}

func (r *txRepo) ActiveTransfer(ctx context.Context, id asset.AssetID) (*asset.TransferRecord, error) {
	t, err := scanTransfer(r.q.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE asset_id = ? AND `+activeTransfer, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *txRepo) InsertTransfer(ctx context.Context, t asset.TransferRecord) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO transfers (`+transferColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TransferNumber, t.AssetID, t.FromBusinessUnitID, t.ToBusinessUnitID,
		t.FromLocation, t.ToLocation, t.Status, t.Reason, t.RejectionReason,
		t.TransferCost.Value, t.InsuranceValue.Value,
		t.RequestedBy, formatTime(t.RequestedAt), t.ApprovedBy, nullTime(t.ApprovedAt),
		t.ShippedBy, nullTime(t.ShippedAt), t.ReceivedBy, nullTime(t.ReceivedAt),
		t.ClosedBy, nullTime(t.ClosedAt), formatTime(t.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		conflict := &asset.ConflictError{Resource: "transfer", AssetID: t.AssetID, Message: "asset already has an active transfer"}
		if cur, _ := r.ActiveTransfer(ctx, t.AssetID); cur != nil {
			conflict.ExistingID = cur.ID
		}
		return conflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert transfer: %w", err)
	}
	return nil
}

func (r *txRepo) UpdateTransfer(ctx context.Context, t asset.TransferRecord) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE transfers SET
			status = ?, to_location = ?, rejection_reason = ?,
			approved_by = ?, approved_at = ?, shipped_by = ?, shipped_at = ?,
			received_by = ?, received_at = ?, closed_by = ?, closed_at = ?, updated_at = ?
		WHERE id = ?`,
		t.Status, t.ToLocation, t.RejectionReason,
		t.ApprovedBy, nullTime(t.ApprovedAt), t.ShippedBy, nullTime(t.ShippedAt),
		t.ReceivedBy, nullTime(t.ReceivedAt), t.ClosedBy, nullTime(t.ClosedAt), formatTime(t.UpdatedAt),
		t.ID,
	)
	return affectedOne(res, err, "transfer", t.ID)
}

// =============================================================================
// MAINTENANCE AND DISPOSAL
// =============================================================================

const maintenanceColumns = `id, asset_id, status, description, resolution, cost, previous_status,
	started_by, started_at, completed_by, completed_at`

func scanMaintenance(r row) (asset.MaintenanceRecord, error) {
	var m asset.MaintenanceRecord
	err := r.Scan(
		&m.ID, &m.AssetID, &m.Status, &m.Description, &m.Resolution, &m.Cost.Value, &m.PreviousStatus,
		&m.StartedBy, timeCol{&m.StartedAt}, &m.CompletedBy, nullTimeCol{&m.CompletedAt},
	)
	return m, err
}

func (r *txRepo) GetMaintenance(ctx context.Context, id string) (asset.MaintenanceRecord, error) {
	m, err := scanMaintenance(r.q.QueryRowContext(ctx, `SELECT `+maintenanceColumns+` FROM maintenance WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return m, asset.NotFound("maintenance", id)
	}
	return m, err
}

func (r *txRepo) ActiveMaintenance(ctx context.Context, id asset.AssetID) (*asset.MaintenanceRecord, error) {
	m, err := scanMaintenance(r.q.QueryRowContext(ctx,
		`SELECT `+maintenanceColumns+` FROM maintenance WHERE asset_id = ? AND `+activeMaintenance, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *txRepo) InsertMaintenance(ctx context.Context, m asset.MaintenanceRecord) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO maintenance (`+maintenanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.AssetID, m.Status, m.Description, m.Resolution, m.Cost.Value, m.PreviousStatus,
		m.StartedBy, formatTime(m.StartedAt), m.CompletedBy, nullTime(m.CompletedAt),
	)
	if isUniqueConstraintError(err) {
		return &asset.ConflictError{Resource: "maintenance", AssetID: m.AssetID, Message: "asset already has maintenance in progress"}
	}
	if err != nil {
		return fmt.Errorf("failed to insert maintenance: %w", err)
	}
	return nil
}

func (r *txRepo) UpdateMaintenance(ctx context.Context, m asset.MaintenanceRecord) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE maintenance SET status = ?, resolution = ?, cost = ?, completed_by = ?, completed_at = ?
		WHERE id = ?`,
		m.Status, m.Resolution, m.Cost.Value, m.CompletedBy, nullTime(m.CompletedAt), m.ID,
	)
	return affectedOne(res, err, "maintenance", m.ID)
}

func (r *txRepo) InsertDisposal(ctx context.Context, d asset.DisposalRecord) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO disposals (id, asset_id, reason, disposal_date, book_value_at_disposal,
			disposal_value, disposal_cost, gain_loss, notes, disposed_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.AssetID, d.Reason, formatTime(d.DisposalDate), d.BookValueAtDisposal.Value,
		d.DisposalValue.Value, d.DisposalCost.Value, d.GainLoss.Value, d.Notes, d.DisposedBy, formatTime(d.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return &asset.ConflictError{Resource: "disposal", AssetID: d.AssetID, Message: "asset is already disposed"}
	}
	if err != nil {
		return fmt.Errorf("failed to insert disposal: %w", err)
	}
	return nil
}

// =============================================================================
// LEDGER, HISTORY AND SEQUENCES
// =============================================================================

const entryColumns = `id, asset_id, period, period_date, method, amount, book_value_before,
	book_value_after, accumulated_after, units_consumed, fully_depreciated, posted_at`

func scanEntry(r row) (asset.DepreciationEntry, error) {
	var (
		e     asset.DepreciationEntry
		units sql.NullInt64
	)
	err := r.Scan(
		&e.ID, &e.AssetID, timeCol{&e.Period}, timeCol{&e.PeriodDate}, &e.Method, &e.Amount.Value,
		&e.BookValueBefore.Value, &e.BookValueAfter.Value, &e.AccumulatedAfter.Value,
		&units, &e.FullyDepreciated, timeCol{&e.PostedAt},
	)
	if units.Valid {
		e.UnitsConsumed = &units.Int64
	}
	return e, err
}

func (r *txRepo) LatestEntry(ctx context.Context, id asset.AssetID) (*asset.DepreciationEntry, error) {
	e, err := scanEntry(r.q.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM depreciation_entries WHERE asset_id = ? ORDER BY period DESC LIMIT 1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *txRepo) CountEntries(ctx context.Context, id asset.AssetID) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM depreciation_entries WHERE asset_id = ?`, id).Scan(&n)
	return n, err
}

func (r *txRepo) AppendEntry(ctx context.Context, e asset.DepreciationEntry) error {
	var units sql.NullInt64
	if e.UnitsConsumed != nil {
		units = sql.NullInt64{Int64: *e.UnitsConsumed, Valid: true}
	}
	_, err := r.q.ExecContext(ctx, `INSERT INTO depreciation_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AssetID, formatDate(e.Period), formatTime(e.PeriodDate), e.Method, e.Amount.Value,
		e.BookValueBefore.Value, e.BookValueAfter.Value, e.AccumulatedAfter.Value,
		units, e.FullyDepreciated, formatTime(e.PostedAt),
	)
	if isUniqueConstraintError(err) {
		return &asset.ConflictError{Resource: "depreciation_entry", AssetID: e.AssetID, Cause: asset.ErrDuplicatePeriod}
	}
	if err != nil {
		return fmt.Errorf("failed to append depreciation entry: %w", err)
	}
	return nil
}

const historyColumns = `seq, id, asset_id, kind, record_id, previous_status, new_status, actor, reason, details_json, at`

func scanHistory(r row) (asset.HistoryEntry, error) {
	var (
		h       asset.HistoryEntry
		details sql.NullString
	)
	if err := r.Scan(
		&h.Seq, &h.ID, &h.AssetID, &h.Kind, &h.RecordID, &h.PreviousStatus, &h.NewStatus,
		&h.Actor, &h.Reason, &details, timeCol{&h.At},
	); err != nil {
		return h, err
	}
	if details.Valid {
		if err := json.Unmarshal([]byte(details.String), &h.Details); err != nil {
			return h, fmt.Errorf("history %d details: %w", h.Seq, err)
		}
	}
	return h, nil
}

func (r *txRepo) AppendHistory(ctx context.Context, h asset.HistoryEntry) (asset.HistoryEntry, error) {
	var details string
	if len(h.Details) > 0 {
		b, err := json.Marshal(h.Details)
		if err != nil {
			return h, err
		}
		details = string(b)
	}
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO asset_history (id, asset_id, kind, record_id, previous_status, new_status, actor, reason, details_json, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.AssetID, h.Kind, h.RecordID, h.PreviousStatus, h.NewStatus, h.Actor, h.Reason,
		nullString(details), formatTime(h.At),
	)
	if err != nil {
		return h, fmt.Errorf("failed to append history: %w", err)
	}
	if h.Seq, err = res.LastInsertId(); err != nil {
		return h, err
	}
	return h, nil
}

func (r *txRepo) NextSequence(ctx context.Context, name string) (int64, error) {
	var n int64
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO sequences (name, value) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1
		RETURNING value`, strings.TrimSpace(name),
	).Scan(&n)
	return n, err
}

func affectedOne(res sql.Result, err error, resource, id string) error {
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", resource, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return asset.NotFound(resource, id)
	}
	return nil
}
