// Package store persists users, holdings and intraday history.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"FundTracker/internal/model"
)

var (
	// ErrNotFound is returned when the addressed user or holding does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a row with the same key already exists.
	ErrConflict = errors.New("already exists")
)

// Store is the persistence boundary. Every multi-row write (cascading deletes,
// history append with retention) is atomic.
type Store interface {
	CreateUser(ctx context.Context, u model.User) error
	ListUsers(ctx context.Context) ([]model.User, error)
	GetUser(ctx context.Context, id string) (model.User, error)
	// DeleteUser removes the user with all holdings and history.
	DeleteUser(ctx context.Context, id string) error

	// UpsertHolding inserts h or overwrites the amounts and settlement date of
	// the existing (user, code) row. The stored row is returned.
	UpsertHolding(ctx context.Context, h model.Holding) (model.Holding, error)
	GetHoldings(ctx context.Context, userID string) ([]model.Holding, error)
	GetHolding(ctx context.Context, userID, code string) (model.Holding, error)
	ListAllHoldings(ctx context.Context) ([]model.Holding, error)
	UpdateHolding(ctx context.Context, userID, code string, p model.HoldingPatch) (model.Holding, error)
	// SettleHolding sets the current amount and stamps date, but only if the
	// holding was not already settled on date. It reports whether a row changed.
	SettleHolding(ctx context.Context, userID, code, date string, amount decimal.Decimal) (bool, error)
	// DeleteHolding removes the holding with its history.
	DeleteHolding(ctx context.Context, userID, code string) error

	// AppendHistory upserts p by (user, code, date, time) and keeps only the
	// newest limit points of that day (limit <= 0 keeps all).
	AppendHistory(ctx context.Context, userID, code, date string, p model.HistoryPoint, limit int) error
	// GetHistory returns the points of date grouped by fund code, oldest first.
	GetHistory(ctx context.Context, userID, date string) (map[string][]model.HistoryPoint, error)
	// ClearHistory deletes a user's points of date, or of every date when date is empty.
	ClearHistory(ctx context.Context, userID, date string) (int64, error)
	// PurgeHistoryBefore deletes every point dated strictly before date.
	PurgeHistoryBefore(ctx context.Context, date string) (int64, error)

	Close() error
}

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Driver      string
	SQLitePath  string
	PostgresDSN string
	// MemoryFile, when set, snapshots the memory backend to JSON after every write.
	MemoryFile string
}

// Open constructs the backend named by opts.Driver (sqlite when empty).
func Open(ctx context.Context, opts Options, log zerolog.Logger) (Store, error) {
	switch opts.Driver {
	case "", DriverSQLite:
		return OpenSQLite(ctx, opts.SQLitePath, log)
	case DriverPostgres:
		return OpenPostgres(ctx, opts.PostgresDSN, log)
	case DriverMemory:
		return NewMemory(opts.MemoryFile, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}
