package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/EvalForge/internal/domain"
	"github.com/Strob0t/EvalForge/internal/domain/approval"
	"github.com/Strob0t/EvalForge/internal/domain/org"
	"github.com/Strob0t/EvalForge/internal/domain/run"
	"github.com/Strob0t/EvalForge/internal/domain/user"
	"github.com/Strob0t/EvalForge/internal/port/broadcast"
	"github.com/Strob0t/EvalForge/internal/port/database"
)

// WorkflowService drives the submit/approve/reject state machine over runs.
type WorkflowService struct {
	store database.Store
	feed  broadcast.Broadcaster
	log   *slog.Logger
}

// NewWorkflowService creates a new workflow service.
func NewWorkflowService(store database.Store, feed broadcast.Broadcaster, log *slog.Logger) *WorkflowService {
	if feed == nil {
		feed = broadcast.Nop{}
	}
	return &WorkflowService{store: store, feed: feed, log: log}
}

// Submit moves a run into SUBMITTED and opens its pending approval record.
// Only the owner (or an admin) may submit; APPROVED, REJECTED, and
// already-SUBMITTED runs cannot be resubmitted.
func (s *WorkflowService) Submit(ctx context.Context, principal *user.User, runID string) (*approval.Approval, error) {
	r, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if r.OwnerID != principal.ID && principal.Role != user.RoleAdmin {
		return nil, domain.ErrForbidden
	}
	if !r.Status.CanSubmit() {
		return nil, fmt.Errorf("%w: cannot submit run in status %s", domain.ErrInvalidState, r.Status)
	}

	a := &approval.Approval{
		ID:            uuid.NewString(),
		RunID:         runID,
		SubmittedByID: principal.ID,
		SubmittedAt:   time.Now().UTC(),
	}
	err = s.store.WithTx(ctx, func(tx database.Store) error {
		if err := tx.CreateApproval(ctx, a); err != nil {
			return err
		}
		return tx.UpdateRunStatus(ctx, runID, run.StatusSubmitted, nil, nil)
	})
	if err != nil {
		return nil, err
	}

	s.broadcastStatus(ctx, runID, run.StatusSubmitted)
	s.log.Info("run submitted", "run_id", runID, "by", principal.Email)
	return a, nil
}

// Decide approves or rejects a SUBMITTED run. The decider must manage the
// run owner's team, or be an admin.
func (s *WorkflowService) Decide(ctx context.Context, principal *user.User, runID string, decision approval.Decision, comment string) error {
	if decision != approval.DecisionApproved && decision != approval.DecisionRejected {
		return fmt.Errorf("%w: unknown decision %q", domain.ErrValidation, decision)
	}

	r, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if !r.Status.CanDecide() {
		return fmt.Errorf("%w: cannot decide run in status %s", domain.ErrInvalidState, r.Status)
	}

	ok, err := s.canDecide(ctx, principal, r)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrForbidden
	}

	status := run.StatusApproved
	if decision == approval.DecisionRejected {
		status = run.StatusRejected
	}

	err = s.store.WithTx(ctx, func(tx database.Store) error {
		pending, err := tx.GetPendingApproval(ctx, runID)
		if err != nil {
			return err
		}
		if err := tx.DecideApproval(ctx, pending.ID, decision, principal.ID, comment); err != nil {
			return err
		}
		return tx.UpdateRunStatus(ctx, runID, status, nil, nil)
	})
	if err != nil {
		return err
	}

	s.broadcastStatus(ctx, runID, status)
	s.log.Info("run decided", "run_id", runID, "decision", decision, "by", principal.Email)
	return nil
}

// ListApprovals returns the approval history for a run, newest first.
func (s *WorkflowService) ListApprovals(ctx context.Context, runID string) ([]approval.Approval, error) {
	return s.store.ListApprovals(ctx, runID)
}

// canDecide reports whether the principal manages the team the run's owner
// belongs to. Admins may always decide.
func (s *WorkflowService) canDecide(ctx context.Context, principal *user.User, r *run.Run) (bool, error) {
	if principal.Role == user.RoleAdmin {
		return true, nil
	}
	if principal.Role != user.RoleManager {
		return false, nil
	}

	owner, err := s.store.GetUser(ctx, r.OwnerID)
	if err != nil {
		return false, err
	}
	if owner.TeamUnitID == "" {
		return false, nil
	}

	unit, err := s.store.GetOrgUnit(ctx, owner.TeamUnitID)
	if err != nil {
		return false, err
	}
	return unit.Type == org.TypeTeam && unit.ManagerUserID == principal.ID, nil
}

func (s *WorkflowService) broadcastStatus(ctx context.Context, runID string, status run.Status) {
	s.feed.BroadcastRun(ctx, runID, broadcast.EventRunStatus, map[string]any{
		"status": status,
	})
}
