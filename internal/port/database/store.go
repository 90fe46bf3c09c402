// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/Strob0t/EvalForge/internal/domain/approval"
	"github.com/Strob0t/EvalForge/internal/domain/event"
	"github.com/Strob0t/EvalForge/internal/domain/org"
	"github.com/Strob0t/EvalForge/internal/domain/run"
	"github.com/Strob0t/EvalForge/internal/domain/settings"
	"github.com/Strob0t/EvalForge/internal/domain/user"
)

// Store is the port interface for database operations.
//
// Mutations that must be atomic (event projection, closure rebuild) run
// inside WithTx; every other method is a single statement.
type Store interface {
	// WithTx runs fn against a transactional view of the store. fn returning
	// an error rolls the transaction back.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	// Runs
	CreateRun(ctx context.Context, r *run.Run) error
	GetRun(ctx context.Context, id string) (*run.Run, error)
	// ListRuns returns runs owned by the given user ids, newest first.
	// A nil ownerIDs lists every run.
	ListRuns(ctx context.Context, ownerIDs []string) ([]run.Run, error)
	// UpdateRunAttributes overwrites the descriptive fields refined by a
	// run_started projection.
	UpdateRunAttributes(ctx context.Context, r *run.Run) error
	UpdateRunStatus(ctx context.Context, id string, status run.Status, startedAt, endedAt *time.Time) error
	DeleteRun(ctx context.Context, id string) error

	// Run items and scores
	UpsertRunItem(ctx context.Context, item *run.Item) error
	CompleteRunItem(ctx context.Context, runID, itemID string, output []byte, latencyMS int64, traceID, traceURL string) error
	FailRunItem(ctx context.Context, runID, itemID, errMsg, traceID, traceURL string) error
	UpsertRunItemScore(ctx context.Context, runID, itemID string, score *run.Score) error
	ListRunItems(ctx context.Context, runID string) ([]run.Item, error)

	// Run events
	// InsertRunEvent records the raw event; it reports false when the
	// (run_id, event_id) pair was already stored.
	InsertRunEvent(ctx context.Context, ev *event.Event) (applied bool, err error)
	CountRunEvents(ctx context.Context, runID string) (int64, error)

	// Users
	CreateUser(ctx context.Context, u *user.User) error
	GetUser(ctx context.Context, id string) (*user.User, error)
	GetUserByEmail(ctx context.Context, email string) (*user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)
	UpdateUser(ctx context.Context, u *user.User) error
	CountUsers(ctx context.Context) (int64, error)

	// API keys
	CreateAPIKey(ctx context.Context, k *user.APIKey) error
	GetAPIKeyByPrefix(ctx context.Context, prefix string) (*user.APIKey, error)
	ListAPIKeys(ctx context.Context, userEmail string) ([]user.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error

	// Org units and closure
	CreateOrgUnit(ctx context.Context, u *org.Unit) error
	GetOrgUnit(ctx context.Context, id string) (*org.Unit, error)
	ListOrgUnits(ctx context.Context) ([]org.Unit, error)
	UpdateOrgUnit(ctx context.Context, u *org.Unit) error
	DeleteOrgUnit(ctx context.Context, id string) error
	ReplaceOrgClosure(ctx context.Context, entries []org.ClosureEntry) error
	ListOrgClosure(ctx context.Context) ([]org.ClosureEntry, error)

	// Approvals
	CreateApproval(ctx context.Context, a *approval.Approval) error
	GetPendingApproval(ctx context.Context, runID string) (*approval.Approval, error)
	DecideApproval(ctx context.Context, id string, decision approval.Decision, decidedByID string, comment string) error
	ListApprovals(ctx context.Context, runID string) ([]approval.Approval, error)

	// Platform settings
	GetSetting(ctx context.Context, key string) (string, error)
	UpsertSetting(ctx context.Context, key, value, updatedByID string) error
	ListSettings(ctx context.Context) ([]settings.Setting, error)
}
