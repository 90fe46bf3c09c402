package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/EvalForge/internal/domain"
	"github.com/Strob0t/EvalForge/internal/domain/approval"
	"github.com/Strob0t/EvalForge/internal/domain/event"
	"github.com/Strob0t/EvalForge/internal/domain/org"
	"github.com/Strob0t/EvalForge/internal/domain/run"
	"github.com/Strob0t/EvalForge/internal/domain/settings"
	"github.com/Strob0t/EvalForge/internal/domain/user"
	"github.com/Strob0t/EvalForge/internal/port/database"
)

// fakeStore is an in-memory database.Store for service tests. WithTx runs
// fn against the same store; rollback is approximated by ignoring partial
// writes only where a test asserts it explicitly.
type fakeStore struct {
	mu sync.Mutex

	runs      map[string]*run.Run
	items     map[string]map[string]*run.Item // runID -> itemID
	scores    map[string]map[string][]run.Score
	events    map[string]bool // runID + "/" + eventID
	users     map[string]*user.User
	apiKeys   map[string]*user.APIKey
	units     map[string]*org.Unit
	closure   []org.ClosureEntry
	approvals map[string]*approval.Approval
	settings  map[string]settings.Setting
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		runs:      make(map[string]*run.Run),
		items:     make(map[string]map[string]*run.Item),
		scores:    make(map[string]map[string][]run.Score),
		events:    make(map[string]bool),
		users:     make(map[string]*user.User),
		apiKeys:   make(map[string]*user.APIKey),
		units:     make(map[string]*org.Unit),
		approvals: make(map[string]*approval.Approval),
		settings:  make(map[string]settings.Setting),
	}
}

func (s *fakeStore) WithTx(_ context.Context, fn func(tx database.Store) error) error {
	return fn(s)
}

// --- Runs ---

func (s *fakeStore) CreateRun(_ context.Context, r *run.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[r.ID]; ok {
		return domain.ErrConflict
	}
	cp := *r
	cp.CreatedAt = time.Now()
	s.runs[r.ID] = &cp
	return nil
}

func (s *fakeStore) GetRun(_ context.Context, id string) (*run.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *fakeStore) ListRuns(_ context.Context, ownerIDs []string) ([]run.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	allowed := map[string]bool{}
	for _, id := range ownerIDs {
		allowed[id] = true
	}
	var out []run.Run
	for _, r := range s.runs {
		if ownerIDs == nil || allowed[r.OwnerID] {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeStore) UpdateRunAttributes(_ context.Context, r *run.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.runs[r.ID]
	if !ok {
		return domain.ErrNotFound
	}
	cur.Task = r.Task
	cur.Dataset = r.Dataset
	cur.Model = r.Model
	cur.Metrics = r.Metrics
	cur.RunMetadata = r.RunMetadata
	cur.RunConfig = r.RunConfig
	cur.UpdatedAt = time.Now()
	return nil
}

func (s *fakeStore) UpdateRunStatus(_ context.Context, id string, status run.Status, startedAt, endedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.Status = status
	if startedAt != nil {
		r.StartedAt = startedAt
	}
	if endedAt != nil {
		r.EndedAt = endedAt
	}
	r.UpdatedAt = time.Now()
	return nil
}

func (s *fakeStore) DeleteRun(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.runs, id)
	delete(s.items, id)
	delete(s.scores, id)
	return nil
}

// --- Run items and scores ---

func (s *fakeStore) UpsertRunItem(_ context.Context, item *run.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items[item.RunID] == nil {
		s.items[item.RunID] = make(map[string]*run.Item)
	}
	cp := *item
	s.items[item.RunID][item.ItemID] = &cp
	return nil
}

func (s *fakeStore) CompleteRunItem(_ context.Context, runID, itemID string, output []byte, latencyMS int64, traceID, traceURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[runID][itemID]
	if !ok {
		return domain.ErrNotFound
	}
	it.Output = json.RawMessage(output)
	it.LatencyMS = &latencyMS
	it.TraceID = traceID
	it.TraceURL = traceURL
	return nil
}

func (s *fakeStore) FailRunItem(_ context.Context, runID, itemID, errMsg, traceID, traceURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[runID][itemID]
	if !ok {
		return domain.ErrNotFound
	}
	it.Error = errMsg
	it.TraceID = traceID
	it.TraceURL = traceURL
	return nil
}

func (s *fakeStore) UpsertRunItemScore(_ context.Context, runID, itemID string, score *run.Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scores[runID] == nil {
		s.scores[runID] = make(map[string][]run.Score)
	}
	existing := s.scores[runID][itemID]
	for i := range existing {
		if existing[i].MetricName == score.MetricName {
			existing[i] = *score
			return nil
		}
	}
	s.scores[runID][itemID] = append(existing, *score)
	return nil
}

func (s *fakeStore) ListRunItems(_ context.Context, runID string) ([]run.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []run.Item
	for _, it := range s.items[runID] {
		cp := *it
		cp.Scores = append([]run.Score(nil), s.scores[runID][it.ItemID]...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// --- Run events ---

func (s *fakeStore) InsertRunEvent(_ context.Context, ev *event.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ev.RunID + "/" + ev.EventID
	if s.events[key] {
		return false, nil
	}
	s.events[key] = true
	return true, nil
}

func (s *fakeStore) CountRunEvents(_ context.Context, runID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key := range s.events {
		if len(key) > len(runID) && key[:len(runID)] == runID {
			n++
		}
	}
	return n, nil
}

// --- Users ---

func (s *fakeStore) CreateUser(_ context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.users {
		if other.Email == u.Email {
			return domain.ErrConflict
		}
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *fakeStore) GetUser(_ context.Context, id string) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *fakeStore) GetUserByEmail(_ context.Context, email string) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *fakeStore) ListUsers(_ context.Context) ([]user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []user.User
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (s *fakeStore) UpdateUser(_ context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *fakeStore) CountUsers(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.users)), nil
}

// --- API keys ---

func (s *fakeStore) CreateAPIKey(_ context.Context, k *user.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *k
	s.apiKeys[k.ID] = &cp
	return nil
}

func (s *fakeStore) GetAPIKeyByPrefix(_ context.Context, prefix string) (*user.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.apiKeys {
		if k.Prefix == prefix {
			cp := *k
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *fakeStore) ListAPIKeys(_ context.Context, userEmail string) ([]user.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var userID string
	if userEmail != "" {
		for _, u := range s.users {
			if u.Email == userEmail {
				userID = u.ID
			}
		}
	}
	var out []user.APIKey
	for _, k := range s.apiKeys {
		if userEmail == "" || k.UserID == userID {
			out = append(out, *k)
		}
	}
	return out, nil
}

func (s *fakeStore) RevokeAPIKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.apiKeys[id]
	if !ok {
		return domain.ErrNotFound
	}
	if k.RevokedAt == nil {
		now := time.Now()
		k.RevokedAt = &now
	}
	return nil
}

// --- Org units and closure ---

func (s *fakeStore) CreateOrgUnit(_ context.Context, u *org.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.units[u.ID]; ok {
		return domain.ErrConflict
	}
	cp := *u
	s.units[u.ID] = &cp
	return nil
}

func (s *fakeStore) GetOrgUnit(_ context.Context, id string) (*org.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[id]
	if !ok {
		return nil, fmt.Errorf("%w: org unit %s", domain.ErrNotFound, id)
	}
	cp := *u
	return &cp, nil
}

func (s *fakeStore) ListOrgUnits(_ context.Context) ([]org.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []org.Unit
	for _, u := range s.units {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) UpdateOrgUnit(_ context.Context, u *org.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.units[u.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *u
	s.units[u.ID] = &cp
	return nil
}

func (s *fakeStore) DeleteOrgUnit(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.units[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.units, id)
	return nil
}

func (s *fakeStore) ReplaceOrgClosure(_ context.Context, entries []org.ClosureEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closure = append([]org.ClosureEntry(nil), entries...)
	return nil
}

func (s *fakeStore) ListOrgClosure(_ context.Context) ([]org.ClosureEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]org.ClosureEntry(nil), s.closure...), nil
}

// --- Approvals ---

func (s *fakeStore) CreateApproval(_ context.Context, a *approval.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.approvals[a.ID] = &cp
	return nil
}

func (s *fakeStore) GetPendingApproval(_ context.Context, runID string) (*approval.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.approvals {
		if a.RunID == runID && a.Pending() {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *fakeStore) DecideApproval(_ context.Context, id string, decision approval.Decision, decidedByID string, comment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	a.Decision = decision
	a.DecidedByID = decidedByID
	a.DecidedAt = &now
	a.Comment = comment
	return nil
}

func (s *fakeStore) ListApprovals(_ context.Context, runID string) ([]approval.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []approval.Approval
	for _, a := range s.approvals {
		if a.RunID == runID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out, nil
}

// --- Settings ---

func (s *fakeStore) GetSetting(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.settings[key]
	if !ok {
		return "", domain.ErrNotFound
	}
	return st.Value, nil
}

func (s *fakeStore) UpsertSetting(_ context.Context, key, value, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = settings.Setting{Key: key, Value: value, UpdatedAt: time.Now()}
	return nil
}

func (s *fakeStore) ListSettings(_ context.Context) ([]settings.Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []settings.Setting
	for _, st := range s.settings {
		out = append(out, st)
	}
	return out, nil
}

var _ database.Store = (*fakeStore)(nil)
