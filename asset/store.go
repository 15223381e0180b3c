/*
store.go - Persistence contracts for the asset engine

PURPOSE:
  Separates the domain (workflow, depreciation) from the database. Every
  state change goes through an explicit unit of work:

    tx, err := store.Begin(ctx)
    ... read asset, read active record, validate, write, append history ...
    tx.Commit()   // or tx.Rollback()

  RunInTx wraps that dance for the common case.

KEY INTERFACES:
  Repository: reads and writes available inside a unit of work
  Tx:         a Repository that can be committed or rolled back
  TxBeginner: starts units of work
  Queries:    read-only projections for schedulers, queues and the API
  Store:      TxBeginner + Queries, what services are constructed with

ISOLATION CONTRACT:
  Implementations must serialize conflicting units of work. Two concurrent
  transactions that both check "no active deployment" and then insert one
  must not both commit: the loser gets a ConflictError. The memory store
  holds a global lock for the lifetime of a Tx; the SQLite store uses
  BEGIN IMMEDIATE plus partial unique indexes.

APPEND-ONLY CONTRACT:
  AppendEntry and AppendHistory are the only writes to the ledger and the
  audit trail. There is no update or delete for either.

IMPLEMENTATIONS:
  - asset/store/memory.go: in-memory, for tests and dev
  - store/sqlite/sqlite.go: durable

SEE ALSO:
  - workflow/service.go: the main Tx user
  - depreciation/scheduler.go: one Tx per posted period
*/
package asset

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// UNIT OF WORK
// =============================================================================

// Repository is the read/write surface available inside a unit of work.
type Repository interface {
	GetAsset(ctx context.Context, id AssetID) (Asset, error)
	InsertAsset(ctx context.Context, a Asset) error
	// UpdateAsset writes a when a.Version matches the stored version and
	// stores it with Version+1. Otherwise it returns ErrStaleWrite.
	UpdateAsset(ctx context.Context, a Asset) error

	GetDeployment(ctx context.Context, id string) (DeploymentRecord, error)
	ActiveDeployment(ctx context.Context, assetID AssetID) (*DeploymentRecord, error)
	InsertDeployment(ctx context.Context, r DeploymentRecord) error
	UpdateDeployment(ctx context.Context, r DeploymentRecord) error

	GetTransfer(ctx context.Context, id string) (TransferRecord, error)
	ActiveTransfer(ctx context.Context, assetID AssetID) (*TransferRecord, error)
	InsertTransfer(ctx context.Context, r TransferRecord) error
	UpdateTransfer(ctx context.Context, r TransferRecord) error

	GetMaintenance(ctx context.Context, id string) (MaintenanceRecord, error)
	ActiveMaintenance(ctx context.Context, assetID AssetID) (*MaintenanceRecord, error)
	InsertMaintenance(ctx context.Context, r MaintenanceRecord) error
	UpdateMaintenance(ctx context.Context, r MaintenanceRecord) error

	InsertDisposal(ctx context.Context, d DisposalRecord) error

	// CodeTaken reports whether another asset in bu already uses code.
	CodeTaken(ctx context.Context, bu BusinessUnitID, code string, except AssetID) (bool, error)

	// LatestEntry returns the most recent ledger entry of an asset, or nil.
	LatestEntry(ctx context.Context, assetID AssetID) (*DepreciationEntry, error)
	CountEntries(ctx context.Context, assetID AssetID) (int, error)
	// AppendEntry returns an error wrapping ErrDuplicatePeriod when the
	// (asset, period) pair is already posted.
	AppendEntry(ctx context.Context, e DepreciationEntry) error

	// AppendHistory assigns Seq and stores the entry.
	AppendHistory(ctx context.Context, h HistoryEntry) (HistoryEntry, error)

	// NextSequence returns the next value of a named counter, starting at 1.
	NextSequence(ctx context.Context, name string) (int64, error)
}

// Tx is one unit of work.
type Tx interface {
	Repository
	Commit() error
	Rollback() error
}

type TxBeginner interface {
	Begin(ctx context.Context) (Tx, error)
}

// RunInTx runs fn in a unit of work. fn's error rolls back; nil commits.
func RunInTx(ctx context.Context, b TxBeginner, fn func(Repository) error) (err error) {
	tx, err := b.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// =============================================================================
// READ-ONLY PROJECTIONS
// =============================================================================

type AssetFilter struct {
	Status         Status
	BusinessUnitID BusinessUnitID
	Limit          int
}

// Queries are read-only and run outside units of work.
type Queries interface {
	GetAsset(ctx context.Context, id AssetID) (Asset, error)
	ListAssets(ctx context.Context, f AssetFilter) ([]Asset, error)

	// DueForDepreciation returns assets that are not halted, not fully
	// depreciated, not in transit and have NextDepreciationDate <= asOf.
	DueForDepreciation(ctx context.Context, asOf time.Time) ([]Asset, error)

	PendingDeployments(ctx context.Context) ([]DeploymentRecord, error)
	PendingTransfers(ctx context.Context) ([]TransferRecord, error)

	// EligibleForTransfer: not disposed, not deployed, no active deployment
	// or transfer.
	EligibleForTransfer(ctx context.Context) ([]Asset, error)
	// EligibleForDisposal: not disposed, no active deployment, transfer or
	// maintenance.
	EligibleForDisposal(ctx context.Context) ([]Asset, error)

	Entries(ctx context.Context, assetID AssetID) ([]DepreciationEntry, error)
	History(ctx context.Context, assetID AssetID) ([]HistoryEntry, error)
	// HistorySince returns entries with Seq > after, oldest first.
	HistorySince(ctx context.Context, after int64, limit int) ([]HistoryEntry, error)
}

// Store is what services are constructed with.
type Store interface {
	TxBeginner
	Queries
}
