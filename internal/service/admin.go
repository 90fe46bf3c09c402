package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Strob0t/EvalForge/internal/domain"
	"github.com/Strob0t/EvalForge/internal/domain/org"
	"github.com/Strob0t/EvalForge/internal/domain/user"
	"github.com/Strob0t/EvalForge/internal/port/database"
)

// AdminService manages users and the org hierarchy. Every method assumes
// the caller was already gated to the ADMIN role by middleware, except the
// CLI which constructs its own principal.
type AdminService struct {
	store database.Store
	log   *slog.Logger
}

// NewAdminService creates a new admin service.
func NewAdminService(store database.Store, log *slog.Logger) *AdminService {
	return &AdminService{store: store, log: log}
}

// CreateUser registers a user, enforcing the role to org-unit-type matrix:
// EMPLOYEE/MANAGER attach to a TEAM, GM to a DEPARTMENT, VP to a SECTOR,
// ADMIN to nothing.
func (s *AdminService) CreateUser(ctx context.Context, req *user.CreateRequest) (*user.User, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, err)
	}
	if err := s.checkRoleUnit(ctx, req.Role, req.TeamUnitID); err != nil {
		return nil, err
	}

	u := &user.User{
		ID:         uuid.NewString(),
		Email:      req.Email,
		Name:       req.Name,
		Role:       req.Role,
		TeamUnitID: req.TeamUnitID,
		Active:     true,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.log.Info("user created", "email", u.Email, "role", u.Role)
	return u, nil
}

// UpdateUser applies a partial update to a user's name, role, team, or
// active flag. Role and team changes are re-validated against the matrix.
func (s *AdminService) UpdateUser(ctx context.Context, email string, req *user.UpdateRequest) (*user.User, error) {
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if req.Name != "" {
		u.Name = req.Name
	}
	if req.Role != "" {
		if !user.ValidRoles[req.Role] {
			return nil, fmt.Errorf("%w: invalid role %q", domain.ErrValidation, req.Role)
		}
		u.Role = req.Role
	}
	if req.TeamUnitID != "" {
		u.TeamUnitID = req.TeamUnitID
	}
	if req.Active != nil {
		u.Active = *req.Active
	}

	if err := s.checkRoleUnit(ctx, u.Role, u.TeamUnitID); err != nil {
		return nil, err
	}
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return nil, err
	}

	s.log.Info("user updated", "email", u.Email, "role", u.Role)
	return u, nil
}

// ListUsers returns all users.
func (s *AdminService) ListUsers(ctx context.Context) ([]user.User, error) {
	return s.store.ListUsers(ctx)
}

// checkRoleUnit validates a role/unit pairing against the matrix. An ADMIN
// must have no unit; every other role must attach to a unit of its level.
func (s *AdminService) checkRoleUnit(ctx context.Context, role user.Role, unitID string) error {
	wantType, needsUnit := org.RequiredUnitType(role)
	if !needsUnit {
		if unitID != "" {
			return fmt.Errorf("%w: role %s must not have an org unit", domain.ErrValidation, role)
		}
		return nil
	}
	if unitID == "" {
		return fmt.Errorf("%w: role %s requires a %s unit", domain.ErrValidation, role, wantType)
	}

	unit, err := s.store.GetOrgUnit(ctx, unitID)
	if err != nil {
		return err
	}
	if unit.Type != wantType {
		return fmt.Errorf("%w: role %s requires a %s unit, got %s", domain.ErrValidation, role, wantType, unit.Type)
	}
	return nil
}

// CreateOrgUnit inserts a unit after validating its parent-type rule and
// manager assignment, then rebuilds the closure in the same transaction.
func (s *AdminService) CreateOrgUnit(ctx context.Context, u *org.Unit) (*org.Unit, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, err)
	}
	if err := s.checkParent(ctx, u); err != nil {
		return nil, err
	}
	if err := s.checkManager(ctx, u); err != nil {
		return nil, err
	}

	err := s.store.WithTx(ctx, func(tx database.Store) error {
		if err := tx.CreateOrgUnit(ctx, u); err != nil {
			return err
		}
		return rebuildClosure(ctx, tx)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("org unit created", "unit_id", u.ID, "name", u.Name, "type", u.Type)
	return u, nil
}

// UpdateOrgUnit overwrites a unit's name, parent, and manager. Any parent
// change triggers a full closure rebuild.
func (s *AdminService) UpdateOrgUnit(ctx context.Context, u *org.Unit) (*org.Unit, error) {
	existing, err := s.store.GetOrgUnit(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	u.Type = existing.Type // unit type is immutable

	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, err)
	}
	if err := s.checkParent(ctx, u); err != nil {
		return nil, err
	}
	if u.ManagerUserID != existing.ManagerUserID {
		if err := s.checkManager(ctx, u); err != nil {
			return nil, err
		}
	}

	err = s.store.WithTx(ctx, func(tx database.Store) error {
		if err := tx.UpdateOrgUnit(ctx, u); err != nil {
			return err
		}
		if u.ParentID != existing.ParentID {
			return rebuildClosure(ctx, tx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("org unit updated", "unit_id", u.ID, "name", u.Name)
	return u, nil
}

// DeleteOrgUnit removes a unit that has no children and no attached users,
// then rebuilds the closure.
func (s *AdminService) DeleteOrgUnit(ctx context.Context, id string) error {
	units, err := s.store.ListOrgUnits(ctx)
	if err != nil {
		return err
	}
	for _, u := range units {
		if u.ParentID == id {
			return fmt.Errorf("%w: unit has child %s", domain.ErrConflict, u.ID)
		}
	}

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		if u.TeamUnitID == id {
			return fmt.Errorf("%w: unit has member %s", domain.ErrConflict, u.Email)
		}
	}

	err = s.store.WithTx(ctx, func(tx database.Store) error {
		if err := tx.DeleteOrgUnit(ctx, id); err != nil {
			return err
		}
		return rebuildClosure(ctx, tx)
	})
	if err != nil {
		return err
	}

	s.log.Info("org unit deleted", "unit_id", id)
	return nil
}

// GetOrgUnit returns one unit.
func (s *AdminService) GetOrgUnit(ctx context.Context, id string) (*org.Unit, error) {
	return s.store.GetOrgUnit(ctx, id)
}

// ListOrgUnits returns the whole hierarchy.
func (s *AdminService) ListOrgUnits(ctx context.Context) ([]org.Unit, error) {
	return s.store.ListOrgUnits(ctx)
}

// RebuildClosure recomputes the closure table from scratch. Exposed for the
// admin CLI; unit mutations already rebuild inline.
func (s *AdminService) RebuildClosure(ctx context.Context) error {
	return s.store.WithTx(ctx, func(tx database.Store) error {
		return rebuildClosure(ctx, tx)
	})
}

func rebuildClosure(ctx context.Context, tx database.Store) error {
	units, err := tx.ListOrgUnits(ctx)
	if err != nil {
		return err
	}
	entries, err := org.BuildClosure(units)
	if err != nil {
		return fmt.Errorf("%w: %s", domain.ErrValidation, err)
	}
	return tx.ReplaceOrgClosure(ctx, entries)
}

// checkParent verifies the referenced parent exists and is one level above.
func (s *AdminService) checkParent(ctx context.Context, u *org.Unit) error {
	if u.ParentID == "" {
		return nil
	}
	parent, err := s.store.GetOrgUnit(ctx, u.ParentID)
	if err != nil {
		return err
	}
	if want := org.RequiredParentType(u.Type); parent.Type != want {
		return fmt.Errorf("%w: %s parent must be a %s, got %s", domain.ErrValidation, u.Type, want, parent.Type)
	}
	return nil
}

// checkManager verifies the assigned manager is a MANAGER-role user who
// does not already manage another team.
func (s *AdminService) checkManager(ctx context.Context, u *org.Unit) error {
	if u.ManagerUserID == "" {
		return nil
	}

	mgr, err := s.store.GetUser(ctx, u.ManagerUserID)
	if err != nil {
		return err
	}
	if mgr.Role != user.RoleManager {
		return fmt.Errorf("%w: user %s is not a MANAGER", domain.ErrValidation, mgr.Email)
	}

	units, err := s.store.ListOrgUnits(ctx)
	if err != nil {
		return err
	}
	for _, other := range units {
		if other.ID != u.ID && other.ManagerUserID == u.ManagerUserID {
			return fmt.Errorf("%w: user %s already manages team %s", domain.ErrConflict, mgr.Email, other.ID)
		}
	}
	return nil
}
