package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/asset-engine/asset"
)

// =============================================================================
// READ-ONLY PROJECTIONS (asset.Queries)
// =============================================================================

func (s *Store) GetAsset(ctx context.Context, id asset.AssetID) (asset.Asset, error) {
	return getAsset(ctx, s.db, id)
}

func (s *Store) ListAssets(ctx context.Context, f asset.AssetFilter) ([]asset.Asset, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.BusinessUnitID != "" {
		where = append(where, "business_unit_id = ?")
		args = append(args, f.BusinessUnitID)
	}
	query := `SELECT ` + assetColumns + ` FROM assets`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}
	return s.queryAssets(ctx, query, args...)
}

func (s *Store) DueForDepreciation(ctx context.Context, asOf time.Time) ([]asset.Asset, error) {
	return s.queryAssets(ctx, `
		SELECT `+assetColumns+` FROM assets a
		WHERE is_fully_depreciated = 0
			AND status NOT IN ('DISPOSED', 'RETIRED')
			AND next_depreciation_date IS NOT NULL
			AND next_depreciation_date <= ?
			AND NOT EXISTS (SELECT 1 FROM transfers t WHERE t.asset_id = a.id AND t.status = 'IN_TRANSIT')
		ORDER BY created_at, id`,
		formatTime(asOf),
	)
}

func (s *Store) EligibleForTransfer(ctx context.Context) ([]asset.Asset, error) {
	return s.queryAssets(ctx, `
		SELECT `+assetColumns+` FROM assets a
		WHERE status NOT IN ('DISPOSED', 'DEPLOYED')
			AND NOT EXISTS (SELECT 1 FROM deployments d WHERE d.asset_id = a.id AND d.`+activeDeployment+`)
			AND NOT EXISTS (SELECT 1 FROM transfers t WHERE t.asset_id = a.id AND t.`+activeTransfer+`)
		ORDER BY created_at, id`)
}

func (s *Store) EligibleForDisposal(ctx context.Context) ([]asset.Asset, error) {
	return s.queryAssets(ctx, `
		SELECT `+assetColumns+` FROM assets a
		WHERE status <> 'DISPOSED'
			AND NOT EXISTS (SELECT 1 FROM deployments d WHERE d.asset_id = a.id AND d.`+activeDeployment+`)
			AND NOT EXISTS (SELECT 1 FROM transfers t WHERE t.asset_id = a.id AND t.`+activeTransfer+`)
			AND NOT EXISTS (SELECT 1 FROM maintenance m WHERE m.asset_id = a.id AND m.`+activeMaintenance+`)
		ORDER BY created_at, id`)
}

func (s *Store) queryAssets(ctx context.Context, query string, args ...any) ([]asset.Asset, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []asset.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) PendingDeployments(ctx context.Context) ([]asset.DeploymentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deploymentColumns+` FROM deployments WHERE status = ? ORDER BY transmittal_number`,
		asset.DeploymentPending,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []asset.DeploymentRecord
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) PendingTransfers(ctx context.Context) ([]asset.TransferRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE status = ? ORDER BY transfer_number`,
		asset.TransferPending,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []asset.TransferRecord
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) Entries(ctx context.Context, id asset.AssetID) ([]asset.DepreciationEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM depreciation_entries WHERE asset_id = ? ORDER BY period`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []asset.DepreciationEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) History(ctx context.Context, id asset.AssetID) ([]asset.HistoryEntry, error) {
	return s.queryHistory(ctx, `SELECT `+historyColumns+` FROM asset_history WHERE asset_id = ? ORDER BY seq`, id)
}

func (s *Store) HistorySince(ctx context.Context, after int64, limit int) ([]asset.HistoryEntry, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}
	return s.queryHistory(ctx,
		`SELECT `+historyColumns+` FROM asset_history WHERE seq > ? ORDER BY seq LIMIT ?`, after, limit)
}

func (s *Store) queryHistory(ctx context.Context, query string, args ...any) ([]asset.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []asset.HistoryEntry
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// =============================================================================
// DIRECTORY (workflow.Directory)
// =============================================================================

// SaveEmployee inserts or updates an employee.
func (s *Store) SaveEmployee(ctx context.Context, e asset.Employee) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, name, email, business_unit_id, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			business_unit_id = excluded.business_unit_id,
			active = excluded.active`,
		e.ID, e.Name, e.Email, e.BusinessUnitID, e.Active, formatTime(e.CreatedAt),
	)
	return err
}

func (s *Store) GetEmployee(ctx context.Context, id asset.EmployeeID) (asset.Employee, error) {
	var e asset.Employee
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, business_unit_id, active, created_at FROM employees WHERE id = ?`, id,
	).Scan(&e.ID, &e.Name, &e.Email, &e.BusinessUnitID, &e.Active, timeCol{&e.CreatedAt})
	if errors.Is(err, sql.ErrNoRows) {
		return e, asset.NotFound("employee", string(id))
	}
	return e, err
}

func (s *Store) ListEmployees(ctx context.Context) ([]asset.Employee, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, email, business_unit_id, active, created_at FROM employees ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []asset.Employee
	for rows.Next() {
		var e asset.Employee
		if err := rows.Scan(&e.ID, &e.Name, &e.Email, &e.BusinessUnitID, &e.Active, timeCol{&e.CreatedAt}); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveBusinessUnit inserts or updates a business unit.
func (s *Store) SaveBusinessUnit(ctx context.Context, bu asset.BusinessUnit) error {
	if bu.CreatedAt.IsZero() {
		bu.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO business_units (id, name, active, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			active = excluded.active`,
		bu.ID, bu.Name, bu.Active, formatTime(bu.CreatedAt),
	)
	return err
}

func (s *Store) GetBusinessUnit(ctx context.Context, id asset.BusinessUnitID) (asset.BusinessUnit, error) {
	var bu asset.BusinessUnit
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, active, created_at FROM business_units WHERE id = ?`, id,
	).Scan(&bu.ID, &bu.Name, &bu.Active, timeCol{&bu.CreatedAt})
	if errors.Is(err, sql.ErrNoRows) {
		return bu, asset.NotFound("business unit", string(id))
	}
	return bu, err
}

func (s *Store) ListBusinessUnits(ctx context.Context) ([]asset.BusinessUnit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, active, created_at FROM business_units ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []asset.BusinessUnit
	for rows.Next() {
		var bu asset.BusinessUnit
		if err := rows.Scan(&bu.ID, &bu.Name, &bu.Active, timeCol{&bu.CreatedAt}); err != nil {
			return nil, err
		}
		out = append(out, bu)
	}
	return out, rows.Err()
}

// =============================================================================
// METERING FEED (depreciation.UsageSource)
// =============================================================================

// RecordUsage stores or replaces the reading for (asset, month).
func (s *Store) RecordUsage(ctx context.Context, r asset.UsageReading) error {
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_readings (asset_id, period, units, recorded_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(asset_id, period) DO UPDATE SET
			units = excluded.units,
			recorded_at = excluded.recorded_at`,
		r.AssetID, formatDate(asset.PeriodOf(r.Period)), r.Units, formatTime(r.RecordedAt),
	)
	return err
}

func (s *Store) UnitsConsumed(ctx context.Context, id asset.AssetID, period time.Time) (int64, bool, error) {
	var units int64
	err := s.db.QueryRowContext(ctx,
		`SELECT units FROM usage_readings WHERE asset_id = ? AND period = ?`,
		id, formatDate(asset.PeriodOf(period)),
	).Scan(&units)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return units, true, nil
}
