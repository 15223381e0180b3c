/*
Package workflow implements the lifecycle operations of an asset:
registration, the admin status override, and the deployment, transfer,
maintenance and disposal workflows.

TRANSACTIONAL PATTERN:
  Every operation that changes state follows the same steps inside one
  unit of work (asset.RunInTx):

    1. re-read the asset and the workflow record it touches
    2. check the active-record constraint (one active deployment, transfer
       or maintenance per asset) in the same transaction
    3. validate the status transition against asset.ValidateTransition
    4. write the record and the asset
    5. append a HistoryEntry naming the actor

  If any step fails, everything rolls back and no history is written.
  Events are published only after the commit.

  Lookups against the Directory run before the unit of work opens; they
  only validate input and never decide a transition.

ERRORS:
  ValidationError   malformed input, unknown employee / business unit
  ConflictError     another active record already holds the asset
  PreconditionError the asset or record is in the wrong state
  NotFoundError     unknown asset or record

SEE ALSO:
  - asset/lifecycle.go: transition tables
  - asset/store.go: unit of work contract
*/
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/asset-engine/asset"
	"github.com/warp/asset-engine/depreciation"
	"github.com/warp/asset-engine/metrics"
	"github.com/warp/asset-engine/money"
)

// Directory resolves employees and business units.
type Directory interface {
	GetEmployee(ctx context.Context, id asset.EmployeeID) (asset.Employee, error)
	GetBusinessUnit(ctx context.Context, id asset.BusinessUnitID) (asset.BusinessUnit, error)
}

type Service struct {
	Store     asset.Store
	Directory Directory
	Publisher asset.Publisher
	Logger    *slog.Logger
	Now       func() time.Time
}

// =============================================================================
// UNIT OF WORK HELPERS
// =============================================================================

// change is the state of one unit of work: the repository plus the
// history entries written so far.
type change struct {
	ctx    context.Context
	r      asset.Repository
	now    time.Time
	actor  asset.Actor
	events []asset.HistoryEntry
}

// transact runs fn in a unit of work, then publishes its history entries.
func (s *Service) transact(ctx context.Context, op string, actor asset.Actor, fn func(c *change) error) error {
	if strings.TrimSpace(string(actor)) == "" {
		return asset.Invalid("actor", "is required")
	}

	var events []asset.HistoryEntry
	err := asset.RunInTx(ctx, s.Store, func(r asset.Repository) error {
		c := &change{ctx: ctx, r: r, now: s.now(), actor: actor}
		if err := fn(c); err != nil {
			return err
		}
		events = c.events
		return nil
	})
	if err != nil {
		metrics.Rejections.WithLabelValues(op, metrics.ErrorKind(err)).Inc()
		s.logger().Debug("workflow operation refused", "op", op, "actor", actor, "err", err)
		return err
	}

	for _, e := range events {
		metrics.Transitions.WithLabelValues(string(e.Kind)).Inc()
		s.logger().Info("asset lifecycle event",
			"kind", e.Kind, "asset_id", e.AssetID, "record_id", e.RecordID,
			"from", e.PreviousStatus, "to", e.NewStatus, "actor", e.Actor)
	}
	s.publisher().Publish(ctx, events...)
	return nil
}

// record appends a history entry for the current unit of work.
func (c *change) record(h asset.HistoryEntry) error {
	h.ID = uuid.NewString()
	h.Actor = c.actor
	h.At = c.now
	saved, err := c.r.AppendHistory(c.ctx, h)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	c.events = append(c.events, saved)
	return nil
}

// saveAsset persists a and keeps the caller's copy at the stored version.
func (c *change) saveAsset(a *asset.Asset) error {
	a.UpdatedAt = c.now
	if err := c.r.UpdateAsset(c.ctx, *a); err != nil {
		return err
	}
	a.Version++
	return nil
}

// moveAsset validates and applies a status change, then saves the asset.
func (c *change) moveAsset(a *asset.Asset, to asset.Status, cause asset.Cause) error {
	if err := asset.ValidateTransition(a.ID, a.Status, to, cause); err != nil {
		return err
	}
	a.Status = to
	return c.saveAsset(a)
}

// number formats the next value of a yearly document counter, e.g.
// DT-2026-000042.
func (c *change) number(prefix string) (string, error) {
	year := c.now.Year()
	n, err := c.r.NextSequence(c.ctx, fmt.Sprintf("%s-%d", prefix, year))
	if err != nil {
		return "", fmt.Errorf("next %s number: %w", prefix, err)
	}
	return fmt.Sprintf("%s-%d-%06d", prefix, year, n), nil
}

func (c *change) ensureNoActiveTransfer(a asset.Asset) error {
	t, err := c.r.ActiveTransfer(c.ctx, a.ID)
	if err != nil {
		return err
	}
	if t != nil {
		return &asset.ConflictError{Resource: "transfer", AssetID: a.ID, ExistingID: t.ID, Message: "asset has an active transfer " + t.TransferNumber}
	}
	return nil
}

func precondition(rule string, id asset.AssetID, status string, msg string) error {
	return &asset.PreconditionError{Rule: rule, AssetID: id, Status: status, Message: msg}
}

// =============================================================================
// REGISTRATION
// =============================================================================

type Registration struct {
	Code                  string
	Name                  string
	CategoryID            string
	Quantity              int
	BusinessUnitID        asset.BusinessUnitID
	Location              string
	PurchasePrice         money.Amount
	SalvageValue          money.Amount
	Method                asset.Method
	UsefulLifeMonths      int
	DepreciationRate      decimal.Decimal
	TotalExpectedUnits    int64
	PurchaseDate          time.Time
	DepreciationStartDate time.Time // defaults to PurchaseDate
}

// RegisterAsset creates an AVAILABLE asset with book value equal to its
// purchase price and the first depreciation period scheduled one month
// after the depreciation start date.
func (s *Service) RegisterAsset(ctx context.Context, actor asset.Actor, in Registration) (asset.Asset, error) {
	var v asset.ValidationError
	if strings.TrimSpace(in.Code) == "" {
		v.Add("code", "is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		v.Add("name", "is required")
	}
	if in.Quantity < 1 {
		v.Add("quantity", "must be at least 1")
	}
	if in.BusinessUnitID == "" {
		v.Add("business_unit_id", "is required")
	}
	if in.PurchasePrice.IsNegative() {
		v.Add("purchase_price", "must not be negative")
	}
	if in.SalvageValue.IsNegative() {
		v.Add("salvage_value", "must not be negative")
	}
	if in.SalvageValue.GreaterThan(in.PurchasePrice) {
		v.Add("salvage_value", "must not exceed purchase price")
	}
	if in.PurchaseDate.IsZero() {
		v.Add("purchase_date", "is required")
	}
	cfg := asset.DepreciationConfig{
		Method:             in.Method,
		UsefulLifeMonths:   in.UsefulLifeMonths,
		DepreciationRate:   in.DepreciationRate,
		TotalExpectedUnits: in.TotalExpectedUnits,
	}
	var cfgErr *asset.ValidationError
	if err := depreciation.Validate(cfg); errors.As(err, &cfgErr) {
		v.Fields = append(v.Fields, cfgErr.Fields...)
	}
	if err := v.Err(); err != nil {
		return asset.Asset{}, err
	}
	if err := s.checkBusinessUnit(ctx, "business_unit_id", in.BusinessUnitID); err != nil {
		return asset.Asset{}, err
	}

	start := in.DepreciationStartDate
	if start.IsZero() {
		start = in.PurchaseDate
	}
	price := in.PurchasePrice.Round()
	a := asset.Asset{
		ID:                      asset.AssetID(uuid.NewString()),
		Code:                    strings.TrimSpace(in.Code),
		Name:                    strings.TrimSpace(in.Name),
		CategoryID:              in.CategoryID,
		Quantity:                in.Quantity,
		BusinessUnitID:          in.BusinessUnitID,
		Location:                in.Location,
		Status:                  asset.StatusAvailable,
		PurchasePrice:           price,
		SalvageValue:            in.SalvageValue.Round(),
		CurrentBookValue:        price,
		AccumulatedDepreciation: money.Zero,
		Depreciation:            cfg,
		PurchaseDate:            in.PurchaseDate.UTC(),
		DepreciationStartDate:   start.UTC(),
		Version:                 1,
	}
	if a.RemainingDepreciable().IsPositive() {
		next := asset.AddMonths(a.DepreciationStartDate, 1)
		a.NextDepreciationDate = &next
		monthly, err := depreciation.Preview(a)
		if err != nil {
			return asset.Asset{}, err
		}
		a.MonthlyDepreciation = monthly
	} else {
		a.IsFullyDepreciated = true
		a.MonthlyDepreciation = money.Zero
	}

	err := s.transact(ctx, "register", actor, func(c *change) error {
		taken, err := c.r.CodeTaken(ctx, a.BusinessUnitID, a.Code, a.ID)
		if err != nil {
			return err
		}
		if taken {
			return &asset.ConflictError{Resource: "asset_code", Message: fmt.Sprintf("code %s is already used in business unit %s", a.Code, a.BusinessUnitID)}
		}
		a.CreatedAt = c.now
		a.UpdatedAt = c.now
		if err := c.r.InsertAsset(ctx, a); err != nil {
			return err
		}
		return c.record(asset.HistoryEntry{
			AssetID:   a.ID,
			Kind:      asset.HistoryRegistered,
			NewStatus: a.Status,
			Details: map[string]string{
				"code":           a.Code,
				"purchase_price": a.PurchasePrice.String(),
				"method":         string(a.Depreciation.Method),
			},
		})
	})
	if err != nil {
		return asset.Asset{}, err
	}
	return a, nil
}

// =============================================================================
// ADMIN STATUS OVERRIDE
// =============================================================================

// ChangeStatus is the administrative status override. IN_MAINTENANCE opens
// a maintenance record so the asset can later be completed out of it.
func (s *Service) ChangeStatus(ctx context.Context, actor asset.Actor, id asset.AssetID, to asset.Status, reason string) (asset.Asset, error) {
	if strings.TrimSpace(reason) == "" {
		return asset.Asset{}, asset.Invalid("reason", "is required for a status override")
	}
	if !to.Valid() {
		return asset.Asset{}, asset.Invalid("status", fmt.Sprintf("unknown status %q", to))
	}
	if to == asset.StatusInMaintenance {
		if _, err := s.startMaintenance(ctx, actor, id, reason, asset.CauseOverride); err != nil {
			return asset.Asset{}, err
		}
		return s.Store.GetAsset(ctx, id)
	}

	var out asset.Asset
	err := s.transact(ctx, "change_status", actor, func(c *change) error {
		a, err := c.r.GetAsset(ctx, id)
		if err != nil {
			return err
		}
		from := a.Status
		if err := c.moveAsset(&a, to, asset.CauseOverride); err != nil {
			return err
		}
		out = a
		return c.record(asset.HistoryEntry{
			AssetID:        a.ID,
			Kind:           asset.HistoryStatusChanged,
			PreviousStatus: from,
			NewStatus:      to,
			Reason:         reason,
		})
	})
	return out, err
}

// =============================================================================
// DEFAULTS AND DIRECTORY CHECKS
// =============================================================================

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Service) publisher() asset.Publisher {
	if s.Publisher != nil {
		return s.Publisher
	}
	return asset.Discard
}

func (s *Service) checkBusinessUnit(ctx context.Context, field string, id asset.BusinessUnitID) error {
	if s.Directory == nil {
		return nil
	}
	bu, err := s.Directory.GetBusinessUnit(ctx, id)
	if errors.Is(err, asset.ErrNotFound) {
		return asset.Invalid(field, fmt.Sprintf("unknown business unit %q", id))
	}
	if err != nil {
		return fmt.Errorf("look up business unit: %w", err)
	}
	if !bu.Active {
		return asset.Invalid(field, fmt.Sprintf("business unit %q is inactive", id))
	}
	return nil
}

func (s *Service) checkEmployee(ctx context.Context, id asset.EmployeeID) error {
	if s.Directory == nil {
		return nil
	}
	e, err := s.Directory.GetEmployee(ctx, id)
	if errors.Is(err, asset.ErrNotFound) {
		return asset.Invalid("employee_id", fmt.Sprintf("unknown employee %q", id))
	}
	if err != nil {
		return fmt.Errorf("look up employee: %w", err)
	}
	if !e.Active {
		return asset.Invalid("employee_id", fmt.Sprintf("employee %q is inactive", id))
	}
	return nil
}
