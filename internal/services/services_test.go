package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokercrm/internal/apperr"
	"brokercrm/internal/logging"
	"brokercrm/internal/models"
	"brokercrm/internal/repositories"
	"brokercrm/internal/repositories/memstore"
)

// steppingClock returns a strictly increasing time on every call.
func steppingClock() clock {
	var mu sync.Mutex
	t := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []TransitionEvent
	err    error
}

func (n *recordingNotifier) Name() string { return "recording" }

func (n *recordingNotifier) NotifyTransition(_ context.Context, ev TransitionEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) Events() []TransitionEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]TransitionEvent(nil), n.events...)
}

type fixture struct {
	ctx         context.Context
	store       *memstore.Store
	states      *StateService
	transitions *TransitionService
	leads       *LeadStateService
	history     *HistoryService
	metrics     *Metrics
	reg         *prometheus.Registry
	notifier    *recordingNotifier
	user        models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	logger := logging.Discard()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	notifier := &recordingNotifier{}
	clk := steppingClock()

	f := &fixture{
		ctx:         ctx,
		store:       store,
		states:      NewStateService(store, logger, metrics),
		transitions: NewTransitionService(store, logger, metrics),
		leads:       NewLeadStateService(store, logger, WithLeadMetrics(metrics), WithNotifier(notifier, false)),
		history:     NewHistoryService(store, nil, logger),
		metrics:     metrics,
		reg:         reg,
		notifier:    notifier,
	}
	f.states.now, f.transitions.now, f.leads.now, f.history.now = clk, clk, clk, clk

	f.user = models.User{Name: "Operator", Email: "op@example.com", RoleID: 10}
	require.NoError(t, store.Users().Create(ctx, &f.user))
	return f
}

func (f *fixture) desk(t *testing.T, name string) int64 {
	t.Helper()
	d := models.Desk{Name: name}
	require.NoError(t, f.store.Desks().Create(f.ctx, &d))
	return d.ID
}

func (f *fixture) state(t *testing.T, deskID int64, name, display string, initial, final bool) *models.DeskState {
	t.Helper()
	st, err := f.states.Create(f.ctx, models.CreateStateRequest{
		DeskID: deskID, Name: name, DisplayName: display, IsInitial: initial, IsFinal: final,
	}, f.user.ID)
	require.NoError(t, err)
	return st
}

func (f *fixture) transition(t *testing.T, deskID, from, to int64, requiresComment bool) *models.Transition {
	t.Helper()
	tr, err := f.transitions.Create(f.ctx, models.CreateTransitionRequest{
		DeskID: deskID, FromStateID: from, ToStateID: to, RequiresComment: requiresComment,
	})
	require.NoError(t, err)
	return tr
}

type d1 struct {
	desk                      int64
	newSt, contacted, convert *models.DeskState
}

// setupD1: New(initial) -> Contacted -> Converted(final, comment required).
func (f *fixture) setupD1(t *testing.T) d1 {
	t.Helper()
	desk := f.desk(t, "D1")
	n := f.state(t, desk, "new", "New", true, false)
	c := f.state(t, desk, "contacted", "Contacted", false, false)
	v := f.state(t, desk, "converted", "Converted", false, true)
	f.transition(t, desk, n.ID, c.ID, false)
	f.transition(t, desk, c.ID, v.ID, true)
	return d1{desk: desk, newSt: n, contacted: c, convert: v}
}

func (f *fixture) leadState(t *testing.T, leadID int64) int64 {
	t.Helper()
	l, err := f.store.Leads().GetByID(f.ctx, leadID)
	require.NoError(t, err)
	require.NotNil(t, l.DeskStateID)
	return *l.DeskStateID
}

func (f *fixture) historyCount(t *testing.T, leadID int64) int {
	t.Helper()
	n, err := f.store.History().CountForLead(f.ctx, leadID)
	require.NoError(t, err)
	return n
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestD1Scenario(t *testing.T) {
	f := newFixture(t)
	d := f.setupD1(t)

	lead, err := f.leads.CreateLead(f.ctx, models.CreateLeadRequest{DeskID: d.desk, Title: "ACME"}, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, d.newSt.ID, f.leadState(t, lead.ID))
	assert.Equal(t, 1, f.historyCount(t, lead.ID))

	avail, err := f.leads.AvailableTransitions(f.ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, d.newSt.ID, avail.CurrentState.ID)
	require.Len(t, avail.Transitions, 1)
	assert.Equal(t, d.contacted.ID, avail.Transitions[0].ToStateID)
	assert.Equal(t, "Contacted", avail.Transitions[0].ToStateName)

	res, err := f.leads.ApplyTransition(f.ctx, models.ApplyTransitionRequest{
		LeadID: lead.ID, UserID: f.user.ID, ToStateID: d.contacted.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, d.contacted.ID, res.NewStateID)
	assert.Equal(t, "Contacted", res.NewStateName)
	assert.Equal(t, d.contacted.ID, f.leadState(t, lead.ID))
	assert.Equal(t, 2, f.historyCount(t, lead.ID))

	_, err = f.leads.ApplyTransition(f.ctx, models.ApplyTransitionRequest{
		LeadID: lead.ID, UserID: f.user.ID, ToStateID: d.convert.ID,
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, d.contacted.ID, f.leadState(t, lead.ID))
	assert.Equal(t, 2, f.historyCount(t, lead.ID))

	res, err = f.leads.ApplyTransition(f.ctx, models.ApplyTransitionRequest{
		LeadID: lead.ID, UserID: f.user.ID, ToStateID: d.convert.ID, Comment: strPtr("closed won"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Converted", res.NewStateName)
	assert.Equal(t, d.convert.ID, f.leadState(t, lead.ID))
	assert.Equal(t, 3, f.historyCount(t, lead.ID))

	page, err := f.history.List(f.ctx, lead.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, page.Entries, 3)
	latest := page.Entries[0]
	require.NotNil(t, latest.Comment)
	assert.Equal(t, "closed won", *latest.Comment)
	assert.Equal(t, "Contacted", latest.FromStateName)
	assert.Equal(t, "Converted", latest.ToStateName)
	assert.Equal(t, "Operator", latest.UserName)
	assert.Nil(t, page.Entries[2].FromStateID)

	// only the move into the final state is announced
	f.leads.Wait()
	events := f.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "Converted", events[0].ToState)
	assert.True(t, events[0].IsFinal)
	assert.Equal(t, "Operator", events[0].UserName)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.rejected.WithLabelValues("validation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.transitions.WithLabelValues(idLabel(d.desk), "Converted")))
}

func TestListStates_ActiveOnlyOrdered(t *testing.T) {
	f := newFixture(t)
	desk := f.desk(t, "D1")
	b := f.state(t, desk, "b", "Beta", false, false)
	a := f.state(t, desk, "a", "Alpha", false, false)
	off := f.state(t, desk, "off", "Off", false, false)
	_, err := f.states.Toggle(f.ctx, off.ID, boolPtr(false))
	require.NoError(t, err)

	// одинаковый sort_order: порядок по display_name
	_, err = f.states.Update(f.ctx, b.ID, models.StatePatch{SortOrder: intPtr(1)})
	require.NoError(t, err)
	_, err = f.states.Update(f.ctx, a.ID, models.StatePatch{SortOrder: intPtr(1)})
	require.NoError(t, err)

	list, err := f.states.List(f.ctx, desk, true)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Alpha", list[0].DisplayName)
	assert.Equal(t, "Beta", list[1].DisplayName)
	for _, st := range list {
		assert.True(t, st.IsActive)
	}

	all, err := f.states.List(f.ctx, desk, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func intPtr(i int) *int { return &i }

func TestCreateState_DefaultsAndValidation(t *testing.T) {
	f := newFixture(t)
	desk := f.desk(t, "D1")

	first := f.state(t, desk, "new", "New", false, false)
	assert.Equal(t, "#6c757d", first.Color)
	assert.Equal(t, "circle", first.Icon)
	assert.True(t, first.IsActive)
	assert.Equal(t, 1, first.SortOrder)
	second := f.state(t, desk, "next", "Next", false, false)
	assert.Equal(t, 2, second.SortOrder)

	cases := map[string]models.CreateStateRequest{
		"missing name":    {DeskID: desk, DisplayName: "X"},
		"missing display": {DeskID: desk, Name: "x"},
		"missing desk":    {Name: "x", DisplayName: "X"},
		"bad name":        {DeskID: desk, Name: "has space", DisplayName: "X"},
		"bad color":       {DeskID: desk, Name: "x", DisplayName: "X", Color: "red"},
		"duplicate name":  {DeskID: desk, Name: "NEW", DisplayName: "Again"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.states.Create(f.ctx, req, f.user.ID)
			assert.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)
		})
	}

	_, err := f.states.Create(f.ctx, models.CreateStateRequest{DeskID: 999, Name: "x", DisplayName: "X"}, f.user.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	other := f.desk(t, "D2")
	_, err = f.states.Create(f.ctx, models.CreateStateRequest{DeskID: other, Name: "new", DisplayName: "New"}, f.user.ID)
	assert.NoError(t, err)
}

func TestUpdateState_PartialAndRename(t *testing.T) {
	f := newFixture(t)
	desk := f.desk(t, "D1")
	a := f.state(t, desk, "a", "Alpha", false, false)
	f.state(t, desk, "b", "Beta", false, false)

	upd, err := f.states.Update(f.ctx, a.ID, models.StatePatch{Color: strPtr("#FF0000")})
	require.NoError(t, err)
	assert.Equal(t, "#ff0000", upd.Color)
	assert.Equal(t, "Alpha", upd.DisplayName)
	assert.Equal(t, "a", upd.Name)

	_, err = f.states.Update(f.ctx, a.ID, models.StatePatch{Name: strPtr("b")})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.states.Update(f.ctx, 999, models.StatePatch{Name: strPtr("z")})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestInitialState_OnePerDesk(t *testing.T) {
	f := newFixture(t)
	desk := f.desk(t, "D1")
	a := f.state(t, desk, "a", "Alpha", true, false)
	b := f.state(t, desk, "b", "Beta", true, false)

	got, err := f.states.Initial(f.ctx, desk)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	reloaded, err := f.states.Get(f.ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.IsInitial)

	_, err = f.states.Update(f.ctx, a.ID, models.StatePatch{IsInitial: boolPtr(true)})
	require.NoError(t, err)
	got, err = f.states.Initial(f.ctx, desk)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	// неактивное начальное состояние не считается
	_, err = f.states.Toggle(f.ctx, a.ID, nil)
	require.NoError(t, err)
	got, err = f.states.Initial(f.ctx, desk)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteState_ConflictThenCascade(t *testing.T) {
	f := newFixture(t)
	d := f.setupD1(t)

	lead, err := f.leads.CreateLead(f.ctx, models.CreateLeadRequest{DeskID: d.desk, Title: "ACME"}, f.user.ID)
	require.NoError(t, err)
	_, err = f.leads.ApplyTransition(f.ctx, models.ApplyTransitionRequest{LeadID: lead.ID, UserID: f.user.ID, ToStateID: d.contacted.ID})
	require.NoError(t, err)

	err = f.states.Delete(f.ctx, d.contacted.ID)
	assert.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)

	_, err = f.leads.ApplyTransition(f.ctx, models.ApplyTransitionRequest{
		LeadID: lead.ID, UserID: f.user.ID, ToStateID: d.convert.ID, Comment: strPtr("won"),
	})
	require.NoError(t, err)

	require.NoError(t, f.states.Delete(f.ctx, d.contacted.ID))
	all, err := f.transitions.List(f.ctx, d.desk)
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = f.states.Get(f.ctx, d.contacted.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.True(t, apperr.Is(f.states.Delete(f.ctx, d.contacted.ID), apperr.KindNotFound))
}

func TestReorderStates(t *testing.T) {
	f := newFixture(t)
	desk := f.desk(t, "D1")
	s1 := f.state(t, desk, "s1", "One", false, false)
	s2 := f.state(t, desk, "s2", "Two", false, false)
	s3 := f.state(t, desk, "s3", "Three", false, false)
	other := f.desk(t, "D2")
	foreign := f.state(t, other, "s1", "One", false, false)

	require.NoError(t, f.states.Reorder(f.ctx, desk, []int64{s3.ID, s1.ID, s2.ID}))
	for id, want := range map[int64]int{s3.ID: 1, s1.ID: 2, s2.ID: 3} {
		st, err := f.states.Get(f.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, st.SortOrder)
	}
	untouched, err := f.states.Get(f.ctx, foreign.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, untouched.SortOrder)

	err = f.states.Reorder(f.ctx, desk, []int64{s1.ID, foreign.ID})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	st, err := f.states.Get(f.ctx, s1.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, st.SortOrder, "failed reorder must not change anything")

	assert.True(t, apperr.Is(f.states.Reorder(f.ctx, desk, nil), apperr.KindValidation))
	assert.True(t, apperr.Is(f.states.Reorder(f.ctx, desk, []int64{s1.ID, s1.ID}), apperr.KindValidation))
}

func TestTransitions_SameDeskAndUniqueness(t *testing.T) {
	f := newFixture(t)
	desk := f.desk(t, "D1")
	a := f.state(t, desk, "a", "Alpha", false, false)
	b := f.state(t, desk, "b", "Beta", false, false)
	other := f.desk(t, "D2")
	x := f.state(t, other, "x", "X", false, false)

	tr := f.transition(t, desk, a.ID, b.ID, false)
	assert.Equal(t, "Beta", tr.Name)
	assert.True(t, tr.IsActive)

	bad := []models.CreateTransitionRequest{
		{DeskID: desk, FromStateID: a.ID, ToStateID: x.ID},
		{DeskID: other, FromStateID: a.ID, ToStateID: x.ID},
		{DeskID: desk, FromStateID: a.ID, ToStateID: a.ID},
		{DeskID: desk, FromStateID: a.ID, ToStateID: b.ID},
		{DeskID: desk, FromStateID: a.ID, ToStateID: 999},
	}
	for _, req := range bad {
		_, err := f.transitions.Create(f.ctx, req)
		assert.True(t, apperr.Is(err, apperr.KindValidation), "req %+v: %v", req, err)
	}

	_, err := f.transitions.Update(f.ctx, tr.ID, models.TransitionPatch{ToStateID: &x.ID})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	upd, err := f.transitions.Update(f.ctx, tr.ID, models.TransitionPatch{
		FromStateID: &b.ID, ToStateID: &a.ID, RequiresComment: boolPtr(true),
	})
	require.NoError(t, err)
	assert.Equal(t, b.ID, upd.FromStateID)
	assert.True(t, upd.RequiresComment)
	assert.Equal(t, "Alpha", upd.ToStateName)
}

func TestListFrom_OnlyActive(t *testing.T) {
	f := newFixture(t)
	d := f.setupD1(t)
	extra := f.transition(t, d.desk, d.newSt.ID, d.convert.ID, false)

	list, err := f.transitions.ListFrom(f.ctx, d.newSt.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	toggled, err := f.transitions.Toggle(f.ctx, extra.ID, nil)
	require.NoError(t, err)
	assert.False(t, toggled.IsActive)

	list, err = f.transitions.ListFrom(f.ctx, d.newSt.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, d.contacted.ID, list[0].ToStateID)

	_, err = f.transitions.ListFrom(f.ctx, 999)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	require.NoError(t, f.transitions.Delete(f.ctx, extra.ID))
	_, err = f.transitions.Get(f.ctx, extra.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestApplyTransition_IllegalLeavesLeadUntouched(t *testing.T) {
	f := newFixture(t)
	d := f.setupD1(t)
	lead, err := f.leads.CreateLead(f.ctx, models.CreateLeadRequest{DeskID: d.desk, Title: "ACME"}, f.user.ID)
	require.NoError(t, err)

	// New -> Converted is not configured
	_, err = f.leads.ApplyTransition(f.ctx, models.ApplyTransitionRequest{
		LeadID: lead.ID, UserID: f.user.ID, ToStateID: d.convert.ID, Comment: strPtr("skip"),
	})
	assert.True(t, apperr.Is(err, apperr.KindIllegalTransition), "got %v", err)
	assert.Equal(t, d.newSt.ID, f.leadState(t, lead.ID))
	assert.Equal(t, 1, f.historyCount(t, lead.ID))

	_, err = f.leads.ApplyTransition(f.ctx, models.ApplyTransitionRequest{LeadID: 999, ToStateID: d.contacted.ID})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestApplyTransition_InactiveTransitionIsIllegal(t *testing.T) {
	f := newFixture(t)
	d := f.setupD1(t)
	lead, err := f.leads.CreateLead(f.ctx, models.CreateLeadRequest{DeskID: d.desk, Title: "ACME"}, f.user.ID)
	require.NoError(t, err)

	avail, err := f.leads.AvailableTransitions(f.ctx, lead.ID)
	require.NoError(t, err)
	_, err = f.transitions.Toggle(f.ctx, avail.Transitions[0].ID, boolPtr(false))
	require.NoError(t, err)

	avail, err = f.leads.AvailableTransitions(f.ctx, lead.ID)
	require.NoError(t, err)
	assert.Empty(t, avail.Transitions)

	_, err = f.leads.ApplyTransition(f.ctx, models.ApplyTransitionRequest{LeadID: lead.ID, UserID: f.user.ID, ToStateID: d.contacted.ID})
	assert.True(t, apperr.Is(err, apperr.KindIllegalTransition))
}

func TestApplyTransition_BlankCommentDoesNotCount(t *testing.T) {
	f := newFixture(t)
	d := f.setupD1(t)
	lead, err := f.leads.CreateLead(f.ctx, models.CreateLeadRequest{DeskID: d.desk, Title: "ACME"}, f.user.ID)
	require.NoError(t, err)
	_, err = f.leads.ApplyTransition(f.ctx, models.ApplyTransitionRequest{LeadID: lead.ID, UserID: f.user.ID, ToStateID: d.contacted.ID})
	require.NoError(t, err)

	_, err = f.leads.ApplyTransition(f.ctx, models.ApplyTransitionRequest{
		LeadID: lead.ID, UserID: f.user.ID, ToStateID: d.convert.ID, Comment: strPtr("   "),
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, 2, f.historyCount(t, lead.ID))
}

func TestFinalState_NoWayOut(t *testing.T) {
	f := newFixture(t)
	d := f.setupD1(t)
	// ребро из финального состояния существует, но не применяется
	f.transition(t, d.desk, d.convert.ID, d.contacted.ID, false)

	lead, err := f.leads.CreateLead(f.ctx, models.CreateLeadRequest{DeskID: d.desk, Title: "ACME"}, f.user.ID)
	require.NoError(t, err)
	_, err = f.leads.ApplyTransition(f.ctx, models.ApplyTransitionRequest{LeadID: lead.ID, UserID: f.user.ID, ToStateID: d.contacted.ID})
	require.NoError(t, err)
	_, err = f.leads.ApplyTransition(f.ctx, models.ApplyTransitionRequest{
		LeadID: lead.ID, UserID: f.user.ID, ToStateID: d.convert.ID, Comment: strPtr("won"),
	})
	require.NoError(t, err)

	avail, err := f.leads.AvailableTransitions(f.ctx, lead.ID)
	require.NoError(t, err)
	assert.True(t, avail.CurrentState.IsFinal)
	assert.Empty(t, avail.Transitions)

	_, err = f.leads.ApplyTransition(f.ctx, models.ApplyTransitionRequest{LeadID: lead.ID, UserID: f.user.ID, ToStateID: d.contacted.ID})
	assert.True(t, apperr.Is(err, apperr.KindIllegalTransition))
}

// failingHistoryStore fails every history insert, after the lead row has
// already been updated in the same transaction.
type failingHistoryStore struct {
	repositories.Store
}

type failingHistory struct {
	repositories.HistoryRepository
}

var errHistoryDown = errors.New("history table unavailable")

func (failingHistory) Append(context.Context, *models.HistoryEntry) (int64, error) {
	return 0, errHistoryDown
}

func (s failingHistoryStore) History() repositories.HistoryRepository {
	return failingHistory{s.Store.History()}
}

func (s failingHistoryStore) WithinTx(ctx context.Context, fn func(tx repositories.Store) error) error {
	return s.Store.WithinTx(ctx, func(tx repositories.Store) error {
		return fn(failingHistoryStore{tx})
	})
}

func TestApplyTransition_RollsBackWhenHistoryFails(t *testing.T) {
	f := newFixture(t)
	d := f.setupD1(t)
	lead, err := f.leads.CreateLead(f.ctx, models.CreateLeadRequest{DeskID: d.desk, Title: "ACME"}, f.user.ID)
	require.NoError(t, err)

	broken := NewLeadStateService(failingHistoryStore{f.store}, logging.Discard())
	_, err = broken.ApplyTransition(f.ctx, models.ApplyTransitionRequest{LeadID: lead.ID, UserID: f.user.ID, ToStateID: d.contacted.ID})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInternal))
	assert.ErrorIs(t, err, errHistoryDown)

	assert.Equal(t, d.newSt.ID, f.leadState(t, lead.ID))
	assert.Equal(t, 1, f.historyCount(t, lead.ID))
}

func TestApplyTransition_ConcurrentCallsSerialize(t *testing.T) {
	f := newFixture(t)
	d := f.setupD1(t)
	lead, err := f.leads.CreateLead(f.ctx, models.CreateLeadRequest{DeskID: d.desk, Title: "ACME"}, f.user.ID)
	require.NoError(t, err)

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.leads.ApplyTransition(f.ctx, models.ApplyTransitionRequest{
				LeadID: lead.ID, UserID: f.user.ID, ToStateID: d.contacted.ID,
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 2, f.historyCount(t, lead.ID))
}

func TestCreateLead_NeedsInitialState(t *testing.T) {
	f := newFixture(t)
	desk := f.desk(t, "empty")

	_, err := f.leads.CreateLead(f.ctx, models.CreateLeadRequest{DeskID: desk, Title: "ACME"}, f.user.ID)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.leads.CreateLead(f.ctx, models.CreateLeadRequest{DeskID: desk, Title: " "}, f.user.ID)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.leads.CreateLead(f.ctx, models.CreateLeadRequest{DeskID: 999, Title: "ACME"}, f.user.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestAssignInitialState(t *testing.T) {
	f := newFixture(t)
	d := f.setupD1(t)

	bare := models.Lead{DeskID: d.desk, Title: "imported"}
	require.NoError(t, f.store.Leads().Create(f.ctx, &bare))

	_, err := f.leads.AvailableTransitions(f.ctx, bare.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	res, err := f.leads.AssignInitialState(f.ctx, bare.ID, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, d.newSt.ID, res.NewStateID)
	assert.Equal(t, 1, f.historyCount(t, bare.ID))

	_, err = f.leads.AssignInitialState(f.ctx, bare.ID, f.user.ID)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestHistoryList_PagingAndLimits(t *testing.T) {
	f := newFixture(t)
	d := f.setupD1(t)
	lead, err := f.leads.CreateLead(f.ctx, models.CreateLeadRequest{DeskID: d.desk, Title: "ACME"}, f.user.ID)
	require.NoError(t, err)
	_, err = f.leads.ApplyTransition(f.ctx, models.ApplyTransitionRequest{LeadID: lead.ID, UserID: f.user.ID, ToStateID: d.contacted.ID})
	require.NoError(t, err)

	page, err := f.history.List(f.ctx, lead.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultHistoryLimit, page.Limit)
	assert.Equal(t, 2, page.Total)
	for i := 1; i < len(page.Entries); i++ {
		assert.True(t, page.Entries[i-1].CreatedAt.After(page.Entries[i].CreatedAt), "entries must be newest first")
	}

	page, err = f.history.List(f.ctx, lead.ID, 10000, 1)
	require.NoError(t, err)
	assert.Equal(t, MaxHistoryLimit, page.Limit)
	require.Len(t, page.Entries, 1)
	assert.Nil(t, page.Entries[0].FromStateID)

	_, err = f.history.List(f.ctx, lead.ID, -1, 0)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = f.history.List(f.ctx, 999, 0, 0)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestHistoryAppendAndExport(t *testing.T) {
	f := newFixture(t)
	d := f.setupD1(t)
	lead, err := f.leads.CreateLead(f.ctx, models.CreateLeadRequest{DeskID: d.desk, Title: "ACME"}, f.user.ID)
	require.NoError(t, err)

	id, err := f.history.Append(f.ctx, lead.ID, &d.newSt.ID, d.contacted.ID, f.user.ID, strPtr(" backfill "))
	require.NoError(t, err)
	assert.NotZero(t, id)

	_, err = f.history.Append(f.ctx, lead.ID, nil, 999, f.user.ID, nil)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	pdf, err := f.history.ExportPDF(f.ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-", string(pdf[:5]))

	xlsx, err := f.history.ExportXLSX(f.ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "PK", string(xlsx[:2]))

	_, err = f.history.ExportPDF(f.ctx, 999)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestNotifyAll(t *testing.T) {
	f := newFixture(t)
	d := f.setupD1(t)
	n := &recordingNotifier{err: errors.New("channel down")}
	svc := NewLeadStateService(f.store, logging.Discard(), WithNotifier(n, true))

	lead, err := svc.CreateLead(f.ctx, models.CreateLeadRequest{DeskID: d.desk, Title: "ACME"}, f.user.ID)
	require.NoError(t, err)
	_, err = svc.ApplyTransition(f.ctx, models.ApplyTransitionRequest{LeadID: lead.ID, UserID: f.user.ID, ToStateID: d.contacted.ID})
	require.NoError(t, err, "a failing notifier must not fail the transition")

	svc.Wait()
	events := n.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "New", events[0].FromState)
	assert.False(t, events[0].IsFinal)
}

func TestBootstrapDefaultWorkflow(t *testing.T) {
	f := newFixture(t)
	desk := f.desk(t, "Sales")
	wf := NewWorkflowService(f.store, f.states, f.transitions, logging.Discard())

	states, err := wf.Bootstrap(f.ctx, desk, f.user.ID, DefaultLeadWorkflow)
	require.NoError(t, err)
	assert.Len(t, states, len(DefaultLeadWorkflow.States))

	initial, err := f.states.Initial(f.ctx, desk)
	require.NoError(t, err)
	assert.Equal(t, "new", initial.Name)

	all, err := f.transitions.List(f.ctx, desk)
	require.NoError(t, err)
	assert.Len(t, all, len(DefaultLeadWorkflow.Transitions))

	_, err = wf.Bootstrap(f.ctx, desk, f.user.ID, DefaultLeadWorkflow)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	broken := Workflow{
		States:      []WorkflowState{{Name: "a", DisplayName: "A", Initial: true}},
		Transitions: []WorkflowTransition{{From: "a", To: "missing"}},
	}
	other := f.desk(t, "Other")
	_, err = wf.Bootstrap(f.ctx, other, f.user.ID, broken)
	require.Error(t, err)
	list, err := f.states.List(f.ctx, other, false)
	require.NoError(t, err)
	assert.Empty(t, list, "a failed bootstrap leaves the desk empty")
}
