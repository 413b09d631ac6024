// Package memstore keeps the lead state tables in process memory. It backs the
// "memory" database driver and the service tests. Transactions take the write
// lock for their whole duration and restore a snapshot when fn fails.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"brokercrm/internal/models"
	"brokercrm/internal/repositories"
)

// ErrConstraint mimics a foreign key violation of the SQL schema. Unique key
// violations wrap repositories.ErrDuplicate instead.
var ErrConstraint = errors.New("memstore: constraint violation")

type tables struct {
	desks       map[int64]models.Desk
	users       map[int64]models.User
	states      map[int64]models.DeskState
	transitions map[int64]models.Transition
	leads       map[int64]models.Lead
	history     map[int64]models.HistoryEntry
	seq         int64
}

func newTables() tables {
	return tables{
		desks:       map[int64]models.Desk{},
		users:       map[int64]models.User{},
		states:      map[int64]models.DeskState{},
		transitions: map[int64]models.Transition{},
		leads:       map[int64]models.Lead{},
		history:     map[int64]models.HistoryEntry{},
	}
}

func (t tables) clone() tables {
	c := newTables()
	for k, v := range t.desks {
		c.desks[k] = v
	}
	for k, v := range t.users {
		c.users[k] = v
	}
	for k, v := range t.states {
		c.states[k] = v
	}
	for k, v := range t.transitions {
		c.transitions[k] = v
	}
	for k, v := range t.leads {
		c.leads[k] = v
	}
	for k, v := range t.history {
		c.history[k] = v
	}
	c.seq = t.seq
	return c
}

func (t *tables) nextID() int64 {
	t.seq++
	return t.seq
}

type memory struct {
	mu   sync.RWMutex
	data tables
}

// Store implements repositories.Store.
type Store struct {
	m    *memory
	inTx bool // the write lock is already held by WithinTx
}

var _ repositories.Store = (*Store)(nil)

func New() *Store {
	return &Store{m: &memory{data: newTables()}}
}

func (s *Store) Desks() repositories.DeskRepository             { return deskRepo{s} }
func (s *Store) Users() repositories.UserRepository             { return userRepo{s} }
func (s *Store) States() repositories.StateRepository           { return stateRepo{s} }
func (s *Store) Transitions() repositories.TransitionRepository { return transitionRepo{s} }
func (s *Store) Leads() repositories.LeadRepository             { return leadRepo{s} }
func (s *Store) History() repositories.HistoryRepository        { return historyRepo{s} }

func (s *Store) WithinTx(ctx context.Context, fn func(tx repositories.Store) error) (err error) {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	snapshot := s.m.data.clone()
	defer func() {
		if p := recover(); p != nil {
			s.m.data = snapshot
			panic(p)
		}
		if err != nil {
			s.m.data = snapshot
		}
	}()
	return fn(&Store{m: s.m, inTx: true})
}

func (s *Store) read() func() {
	if s.inTx {
		return func() {}
	}
	s.m.mu.RLock()
	return s.m.mu.RUnlock
}

func (s *Store) write() func() {
	if s.inTx {
		return func() {}
	}
	s.m.mu.Lock()
	return s.m.mu.Unlock
}

// desks

type deskRepo struct{ s *Store }

func (r deskRepo) Create(_ context.Context, d *models.Desk) error {
	defer r.s.write()()
	t := &r.s.m.data
	d.ID = t.nextID()
	t.desks[d.ID] = *d
	return nil
}

func (r deskRepo) GetByID(_ context.Context, id int64) (*models.Desk, error) {
	defer r.s.read()()
	d, ok := r.s.m.data.desks[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &d, nil
}

func (r deskRepo) GetByName(_ context.Context, name string) (*models.Desk, error) {
	defer r.s.read()()
	var found *models.Desk
	for _, d := range r.s.m.data.desks {
		if d.Name == name && (found == nil || d.ID < found.ID) {
			d := d
			found = &d
		}
	}
	if found == nil {
		return nil, repositories.ErrNotFound
	}
	return found, nil
}

// users

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, u *models.User) error {
	defer r.s.write()()
	t := &r.s.m.data
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	for _, other := range t.users {
		if other.Email == u.Email {
			return fmt.Errorf("%w: users.email %q", repositories.ErrDuplicate, u.Email)
		}
	}
	u.ID = t.nextID()
	t.users[u.ID] = *u
	return nil
}

func (r userRepo) GetByID(_ context.Context, id int64) (*models.User, error) {
	defer r.s.read()()
	u, ok := r.s.m.data.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &u, nil
}

func (r userRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	defer r.s.read()()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range r.s.m.data.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, repositories.ErrNotFound
}

// states

type stateRepo struct{ s *Store }

func sortStates(list []models.DeskState) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		if a.DisplayName != b.DisplayName {
			return a.DisplayName < b.DisplayName
		}
		return a.ID < b.ID
	})
}

func (r stateRepo) ListByDesk(_ context.Context, deskID int64, activeOnly bool) ([]models.DeskState, error) {
	defer r.s.read()()
	out := []models.DeskState{}
	for _, st := range r.s.m.data.states {
		if st.DeskID != deskID || (activeOnly && !st.IsActive) {
			continue
		}
		out = append(out, st)
	}
	sortStates(out)
	return out, nil
}

func (r stateRepo) GetByID(_ context.Context, id int64) (*models.DeskState, error) {
	defer r.s.read()()
	st, ok := r.s.m.data.states[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &st, nil
}

func (r stateRepo) GetInitial(_ context.Context, deskID int64) (*models.DeskState, error) {
	defer r.s.read()()
	var found *models.DeskState
	for _, st := range r.s.m.data.states {
		if st.DeskID != deskID || !st.IsInitial || !st.IsActive {
			continue
		}
		if found == nil || st.SortOrder < found.SortOrder || (st.SortOrder == found.SortOrder && st.ID < found.ID) {
			st := st
			found = &st
		}
	}
	if found == nil {
		return nil, repositories.ErrNotFound
	}
	return found, nil
}

func (r stateRepo) NameTaken(_ context.Context, deskID int64, name string, excludeID int64) (bool, error) {
	defer r.s.read()()
	return r.nameTaken(deskID, name, excludeID), nil
}

func (r stateRepo) nameTaken(deskID int64, name string, excludeID int64) bool {
	for _, st := range r.s.m.data.states {
		if st.DeskID == deskID && st.Name == name && st.ID != excludeID {
			return true
		}
	}
	return false
}

func (r stateRepo) NextSortOrder(_ context.Context, deskID int64) (int, error) {
	defer r.s.read()()
	top := 0
	for _, st := range r.s.m.data.states {
		if st.DeskID == deskID && st.SortOrder > top {
			top = st.SortOrder
		}
	}
	return top + 1, nil
}

func (r stateRepo) Create(_ context.Context, st *models.DeskState) error {
	defer r.s.write()()
	t := &r.s.m.data
	if _, ok := t.desks[st.DeskID]; !ok {
		return fmt.Errorf("%w: desk %d does not exist", ErrConstraint, st.DeskID)
	}
	if r.nameTaken(st.DeskID, st.Name, 0) {
		return fmt.Errorf("%w: desk_states (desk_id, name)", repositories.ErrDuplicate)
	}
	st.ID = t.nextID()
	t.states[st.ID] = *st
	return nil
}

func (r stateRepo) Update(_ context.Context, st *models.DeskState) error {
	defer r.s.write()()
	t := &r.s.m.data
	cur, ok := t.states[st.ID]
	if !ok {
		return nil
	}
	if r.nameTaken(cur.DeskID, st.Name, st.ID) {
		return fmt.Errorf("%w: desk_states (desk_id, name)", repositories.ErrDuplicate)
	}
	// desk, creator and created_at are not updatable
	st.DeskID, st.CreatedBy, st.CreatedAt = cur.DeskID, cur.CreatedBy, cur.CreatedAt
	t.states[st.ID] = *st
	return nil
}

func (r stateRepo) Delete(_ context.Context, id int64) error {
	defer r.s.write()()
	t := &r.s.m.data
	for _, l := range t.leads {
		if l.DeskStateID != nil && *l.DeskStateID == id {
			return fmt.Errorf("%w: state %d is referenced by lead %d", ErrConstraint, id, l.ID)
		}
	}
	delete(t.states, id)
	return nil
}

func (r stateRepo) SetSortOrder(_ context.Context, deskID, id int64, order int) error {
	defer r.s.write()()
	t := &r.s.m.data
	st, ok := t.states[id]
	if !ok || st.DeskID != deskID {
		return nil
	}
	st.SortOrder = order
	t.states[id] = st
	return nil
}

func (r stateRepo) ClearInitial(_ context.Context, deskID, exceptID int64) error {
	defer r.s.write()()
	t := &r.s.m.data
	for id, st := range t.states {
		if st.DeskID == deskID && st.ID != exceptID && st.IsInitial {
			st.IsInitial = false
			t.states[id] = st
		}
	}
	return nil
}

// transitions

type transitionRepo struct{ s *Store }

// enrich fills the joined columns the SQL store selects from desk_states.
func (r transitionRepo) enrich(tr models.Transition) models.Transition {
	if from, ok := r.s.m.data.states[tr.FromStateID]; ok {
		tr.FromStateName = from.DisplayName
	}
	if to, ok := r.s.m.data.states[tr.ToStateID]; ok {
		tr.ToStateName = to.DisplayName
		tr.ToStateColor = to.Color
	}
	return tr
}

func (r transitionRepo) sortOrder(stateID int64) int {
	return r.s.m.data.states[stateID].SortOrder
}

func (r transitionRepo) ListByDesk(_ context.Context, deskID int64) ([]models.Transition, error) {
	defer r.s.read()()
	out := []models.Transition{}
	for _, tr := range r.s.m.data.transitions {
		if tr.DeskID == deskID {
			out = append(out, r.enrich(tr))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if fa, fb := r.sortOrder(a.FromStateID), r.sortOrder(b.FromStateID); fa != fb {
			return fa < fb
		}
		if ta, tb := r.sortOrder(a.ToStateID), r.sortOrder(b.ToStateID); ta != tb {
			return ta < tb
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (r transitionRepo) ListActiveFrom(_ context.Context, stateID int64) ([]models.Transition, error) {
	defer r.s.read()()
	out := []models.Transition{}
	for _, tr := range r.s.m.data.transitions {
		if tr.FromStateID == stateID && tr.IsActive {
			out = append(out, r.enrich(tr))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ta, tb := r.sortOrder(a.ToStateID), r.sortOrder(b.ToStateID); ta != tb {
			return ta < tb
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (r transitionRepo) GetByID(_ context.Context, id int64) (*models.Transition, error) {
	defer r.s.read()()
	tr, ok := r.s.m.data.transitions[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	tr = r.enrich(tr)
	return &tr, nil
}

func (r transitionRepo) FindActive(_ context.Context, fromStateID, toStateID int64) (*models.Transition, error) {
	defer r.s.read()()
	for _, tr := range r.s.m.data.transitions {
		if tr.FromStateID == fromStateID && tr.ToStateID == toStateID && tr.IsActive {
			tr = r.enrich(tr)
			return &tr, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r transitionRepo) EdgeExists(_ context.Context, deskID, fromStateID, toStateID, excludeID int64) (bool, error) {
	defer r.s.read()()
	return r.edgeExists(deskID, fromStateID, toStateID, excludeID), nil
}

func (r transitionRepo) edgeExists(deskID, fromStateID, toStateID, excludeID int64) bool {
	for _, tr := range r.s.m.data.transitions {
		if tr.DeskID == deskID && tr.FromStateID == fromStateID && tr.ToStateID == toStateID && tr.ID != excludeID {
			return true
		}
	}
	return false
}

func (r transitionRepo) Create(_ context.Context, tr *models.Transition) error {
	defer r.s.write()()
	t := &r.s.m.data
	if _, ok := t.states[tr.FromStateID]; !ok {
		return fmt.Errorf("%w: from state %d does not exist", ErrConstraint, tr.FromStateID)
	}
	if _, ok := t.states[tr.ToStateID]; !ok {
		return fmt.Errorf("%w: to state %d does not exist", ErrConstraint, tr.ToStateID)
	}
	if r.edgeExists(tr.DeskID, tr.FromStateID, tr.ToStateID, 0) {
		return fmt.Errorf("%w: desk_state_transitions (desk_id, from_state_id, to_state_id)", repositories.ErrDuplicate)
	}
	tr.ID = t.nextID()
	stored := *tr
	stored.FromStateName, stored.ToStateName, stored.ToStateColor = "", "", ""
	t.transitions[tr.ID] = stored
	return nil
}

func (r transitionRepo) Update(_ context.Context, tr *models.Transition) error {
	defer r.s.write()()
	t := &r.s.m.data
	cur, ok := t.transitions[tr.ID]
	if !ok {
		return nil
	}
	if r.edgeExists(cur.DeskID, tr.FromStateID, tr.ToStateID, tr.ID) {
		return fmt.Errorf("%w: desk_state_transitions (desk_id, from_state_id, to_state_id)", repositories.ErrDuplicate)
	}
	stored := *tr
	stored.DeskID, stored.CreatedAt = cur.DeskID, cur.CreatedAt
	stored.FromStateName, stored.ToStateName, stored.ToStateColor = "", "", ""
	t.transitions[tr.ID] = stored
	return nil
}

func (r transitionRepo) Delete(_ context.Context, id int64) error {
	defer r.s.write()()
	delete(r.s.m.data.transitions, id)
	return nil
}

func (r transitionRepo) DeleteTouchingState(_ context.Context, stateID int64) (int64, error) {
	defer r.s.write()()
	t := &r.s.m.data
	var n int64
	for id, tr := range t.transitions {
		if tr.FromStateID == stateID || tr.ToStateID == stateID {
			delete(t.transitions, id)
			n++
		}
	}
	return n, nil
}

// leads

type leadRepo struct{ s *Store }

func (r leadRepo) Create(_ context.Context, l *models.Lead) error {
	defer r.s.write()()
	t := &r.s.m.data
	if _, ok := t.desks[l.DeskID]; !ok {
		return fmt.Errorf("%w: desk %d does not exist", ErrConstraint, l.DeskID)
	}
	l.ID = t.nextID()
	t.leads[l.ID] = *l
	return nil
}

func (r leadRepo) GetByID(_ context.Context, id int64) (*models.Lead, error) {
	defer r.s.read()()
	l, ok := r.s.m.data.leads[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &l, nil
}

// GetForUpdate needs no row lock: a transaction already holds the store lock.
func (r leadRepo) GetForUpdate(ctx context.Context, id int64) (*models.Lead, error) {
	return r.GetByID(ctx, id)
}

func (r leadRepo) UpdateState(_ context.Context, id, stateID int64, at time.Time) error {
	defer r.s.write()()
	t := &r.s.m.data
	l, ok := t.leads[id]
	if !ok {
		return repositories.ErrNotFound
	}
	if _, ok := t.states[stateID]; !ok {
		return fmt.Errorf("%w: state %d does not exist", ErrConstraint, stateID)
	}
	sid := stateID
	l.DeskStateID = &sid
	l.UpdatedAt = at
	t.leads[id] = l
	return nil
}

func (r leadRepo) CountByState(_ context.Context, stateID int64) (int, error) {
	defer r.s.read()()
	n := 0
	for _, l := range r.s.m.data.leads {
		if l.DeskStateID != nil && *l.DeskStateID == stateID {
			n++
		}
	}
	return n, nil
}

// history

type historyRepo struct{ s *Store }

func (r historyRepo) Append(_ context.Context, e *models.HistoryEntry) (int64, error) {
	defer r.s.write()()
	t := &r.s.m.data
	if _, ok := t.leads[e.LeadID]; !ok {
		return 0, fmt.Errorf("%w: lead %d does not exist", ErrConstraint, e.LeadID)
	}
	e.ID = t.nextID()
	stored := *e
	stored.FromStateName, stored.ToStateName, stored.UserName = "", "", ""
	t.history[e.ID] = stored
	return e.ID, nil
}

func (r historyRepo) ListForLead(_ context.Context, leadID int64, limit, offset int) ([]models.HistoryEntry, error) {
	defer r.s.read()()
	t := r.s.m.data
	all := []models.HistoryEntry{}
	for _, e := range t.history {
		if e.LeadID != leadID {
			continue
		}
		if e.FromStateID != nil {
			e.FromStateName = t.states[*e.FromStateID].DisplayName
		}
		e.ToStateName = t.states[e.ToStateID].DisplayName
		e.UserName = t.users[e.UserID].Name
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	if offset >= len(all) {
		return []models.HistoryEntry{}, nil
	}
	all = all[offset:]
	if limit >= 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (r historyRepo) CountForLead(_ context.Context, leadID int64) (int, error) {
	defer r.s.read()()
	n := 0
	for _, e := range r.s.m.data.history {
		if e.LeadID == leadID {
			n++
		}
	}
	return n, nil
}
