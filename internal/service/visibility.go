package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Strob0t/EvalForge/internal/domain"
	"github.com/Strob0t/EvalForge/internal/domain/org"
	"github.com/Strob0t/EvalForge/internal/domain/run"
	"github.com/Strob0t/EvalForge/internal/domain/user"
	"github.com/Strob0t/EvalForge/internal/port/cache"
	"github.com/Strob0t/EvalForge/internal/port/database"
)

// VisibilityService evaluates role-scoped run access and serves the
// dashboard read models.
type VisibilityService struct {
	store    database.Store
	settings *SettingsService
	cache    cache.Cache
	cfg      CacheTTLs
	log      *slog.Logger
}

// CacheTTLs holds the read-model cache lifetimes.
type CacheTTLs struct {
	Summary  time.Duration
	Settings time.Duration
}

// NewVisibilityService creates a new visibility service. c may be nil to
// disable read-model caching.
func NewVisibilityService(store database.Store, st *SettingsService, c cache.Cache, ttls CacheTTLs, log *slog.Logger) *VisibilityService {
	return &VisibilityService{store: store, settings: st, cache: c, cfg: ttls, log: log}
}

// ListGrouped returns the runs visible to the principal, grouped by task
// then model, each with a computed summary. The result is cached per
// principal for a short TTL; staleness is bounded by the TTL rather than
// invalidated on every event batch.
func (s *VisibilityService) ListGrouped(ctx context.Context, principal *user.User) ([]run.Group, error) {
	cacheKey := "runs:grouped:" + principal.ID
	if s.cache != nil {
		if data, ok, _ := s.cache.Get(ctx, cacheKey); ok {
			var groups []run.Group
			if err := json.Unmarshal(data, &groups); err == nil {
				return groups, nil
			}
		}
	}

	runs, err := s.visibleRuns(ctx, principal)
	if err != nil {
		return nil, err
	}

	summaries := make([]run.WithSummary, 0, len(runs))
	for i := range runs {
		r := &runs[i]
		items, err := s.store.ListRunItems(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, run.WithSummary{
			Run:     *r,
			Summary: run.ComputeSummary(r, items, expectedTotal(r)),
		})
	}

	groups := groupRuns(summaries)

	if s.cache != nil {
		if data, err := json.Marshal(groups); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, s.cfg.Summary)
		}
	}
	return groups, nil
}

// GetDetail returns one run with its full item and score list. Access
// follows the listing rules; the owner can always see their own run.
func (s *VisibilityService) GetDetail(ctx context.Context, principal *user.User, runID string) (*run.Detail, error) {
	r, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	ok, err := s.canSee(ctx, principal, r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrForbidden
	}

	items, err := s.store.ListRunItems(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &run.Detail{
		Run:     *r,
		Summary: run.ComputeSummary(r, items, expectedTotal(r)),
		Items:   items,
	}, nil
}

// visibleRuns resolves the principal's run scope.
//
// ADMIN sees everything. EMPLOYEE sees owned runs. MANAGER additionally
// sees runs owned by members of teams whose manager_user_id names them.
// GM and VP see runs by workflow status per the gm_vp_approved_only
// setting.
func (s *VisibilityService) visibleRuns(ctx context.Context, principal *user.User) ([]run.Run, error) {
	switch principal.Role {
	case user.RoleAdmin:
		return s.store.ListRuns(ctx, nil)

	case user.RoleEmployee:
		return s.store.ListRuns(ctx, []string{principal.ID})

	case user.RoleManager:
		owners, err := s.managedOwnerIDs(ctx, principal)
		if err != nil {
			return nil, err
		}
		return s.store.ListRuns(ctx, owners)

	case user.RoleGM, user.RoleVP:
		allowed, err := s.allowedStatuses(ctx)
		if err != nil {
			return nil, err
		}
		all, err := s.store.ListRuns(ctx, nil)
		if err != nil {
			return nil, err
		}
		var visible []run.Run
		for _, r := range all {
			if r.OwnerID == principal.ID || allowed[r.Status] {
				visible = append(visible, r)
			}
		}
		return visible, nil
	}
	return nil, fmt.Errorf("%w: unknown role %q", domain.ErrForbidden, principal.Role)
}

func (s *VisibilityService) canSee(ctx context.Context, principal *user.User, r *run.Run) (bool, error) {
	if r.OwnerID == principal.ID || principal.Role == user.RoleAdmin {
		return true, nil
	}
	switch principal.Role {
	case user.RoleManager:
		owners, err := s.managedOwnerIDs(ctx, principal)
		if err != nil {
			return false, err
		}
		for _, id := range owners {
			if id == r.OwnerID {
				return true, nil
			}
		}
		return false, nil
	case user.RoleGM, user.RoleVP:
		allowed, err := s.allowedStatuses(ctx)
		if err != nil {
			return false, err
		}
		return allowed[r.Status], nil
	}
	return false, nil
}

// managedOwnerIDs returns the principal's own id plus the ids of every user
// whose team the principal manages.
func (s *VisibilityService) managedOwnerIDs(ctx context.Context, principal *user.User) ([]string, error) {
	units, err := s.store.ListOrgUnits(ctx)
	if err != nil {
		return nil, err
	}
	managed := make(map[string]bool)
	for _, u := range units {
		if u.Type == org.TypeTeam && u.ManagerUserID == principal.ID {
			managed[u.ID] = true
		}
	}

	owners := []string{principal.ID}
	if len(managed) == 0 {
		return owners, nil
	}

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.ID != principal.ID && managed[u.TeamUnitID] {
			owners = append(owners, u.ID)
		}
	}
	return owners, nil
}

func (s *VisibilityService) allowedStatuses(ctx context.Context) (map[run.Status]bool, error) {
	approvedOnly, err := s.settings.GMVPApprovedOnly(ctx)
	if err != nil {
		return nil, err
	}
	allowed := map[run.Status]bool{run.StatusApproved: true}
	if !approvedOnly {
		allowed[run.StatusSubmitted] = true
	}
	return allowed, nil
}

// groupRuns arranges summarized runs into task > model groups, preserving
// the newest-first run order within each model.
func groupRuns(summaries []run.WithSummary) []run.Group {
	byTask := make(map[string]map[string][]run.WithSummary)
	for _, ws := range summaries {
		task, model := ws.Run.Task, ws.Run.Model
		if byTask[task] == nil {
			byTask[task] = make(map[string][]run.WithSummary)
		}
		byTask[task][model] = append(byTask[task][model], ws)
	}

	groups := make([]run.Group, 0, len(byTask))
	for task, byModel := range byTask {
		g := run.Group{Task: task}
		for model, rs := range byModel {
			g.Models = append(g.Models, run.ModelGroup{Model: model, Runs: rs})
		}
		sort.Slice(g.Models, func(i, j int) bool { return g.Models[i].Model < g.Models[j].Model })
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Task < groups[j].Task })
	return groups
}

// expectedTotal extracts total_items from the run metadata, or 0 when the
// engine never reported it.
func expectedTotal(r *run.Run) int {
	if len(r.RunMetadata) == 0 {
		return 0
	}
	var meta struct {
		TotalItems int `json:"total_items"`
	}
	if err := json.Unmarshal(r.RunMetadata, &meta); err != nil {
		return 0
	}
	return meta.TotalItems
}
