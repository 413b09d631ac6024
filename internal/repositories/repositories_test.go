package repositories

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokercrm/internal/models"
)

func newMockStore(t *testing.T, driver string) (*sqlStore, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	db := sqlx.NewDb(raw, driver)
	return &sqlStore{db: db, q: db}, mock
}

var stateCols = []string{
	"id", "desk_id", "name", "display_name", "description", "color", "icon",
	"is_initial", "is_final", "is_active", "sort_order", "created_by", "created_at", "updated_at",
}

func TestStateRepository_ListByDeskActiveOnly(t *testing.T) {
	s, mock := newMockStore(t, "mysql")
	now := time.Now()

	rows := sqlmock.NewRows(stateCols).
		AddRow(int64(1), int64(7), "new", "New", "", "#6c757d", "circle", true, false, true, 1, nil, now, now).
		AddRow(int64(2), int64(7), "contacted", "Contacted", "", "#0d6efd", "phone", false, false, true, 2, nil, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("FROM desk_states WHERE desk_id = ? AND is_active = ? ORDER BY sort_order ASC, display_name ASC, id ASC")).
		WithArgs(int64(7), true).
		WillReturnRows(rows)

	got, err := s.States().ListByDesk(context.Background(), 7, true)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].Name)
	assert.Equal(t, 2, got[1].SortOrder)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStateRepository_GetByIDNotFound(t *testing.T) {
	s, mock := newMockStore(t, "mysql")

	mock.ExpectQuery(regexp.QuoteMeta("FROM desk_states WHERE id = ?")).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := s.States().GetByID(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStateRepository_CreateMySQLUsesLastInsertID(t *testing.T) {
	s, mock := newMockStore(t, "mysql")
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO desk_states")).
		WillReturnResult(sqlmock.NewResult(42, 1))

	st := &models.DeskState{DeskID: 7, Name: "new", DisplayName: "New", Color: "#6c757d", Icon: "circle",
		IsActive: true, SortOrder: 1, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.States().Create(context.Background(), st))
	assert.Equal(t, int64(42), st.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStateRepository_CreatePostgresUsesReturning(t *testing.T) {
	s, mock := newMockStore(t, "postgres")

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO desk_states")+".*"+regexp.QuoteMeta("RETURNING id")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))

	st := &models.DeskState{DeskID: 7, Name: "new", DisplayName: "New"}
	require.NoError(t, s.States().Create(context.Background(), st))
	assert.Equal(t, int64(5), st.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStateRepository_NameTakenExcludesSelf(t *testing.T) {
	s, mock := newMockStore(t, "mysql")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM desk_states WHERE desk_id = ? AND name = ? AND id <> ?")).
		WithArgs(int64(7), "new", int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	taken, err := s.States().NameTaken(context.Background(), 7, "new", 3)
	require.NoError(t, err)
	assert.True(t, taken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStateRepository_SetSortOrderScopedToDesk(t *testing.T) {
	s, mock := newMockStore(t, "mysql")

	mock.ExpectExec(regexp.QuoteMeta("UPDATE desk_states SET sort_order = ? WHERE id = ? AND desk_id = ?")).
		WithArgs(1, int64(3), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.States().SetSortOrder(context.Background(), 7, 3, 1))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionRepository_ListActiveFrom(t *testing.T) {
	s, mock := newMockStore(t, "mysql")
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "desk_id", "from_state_id", "to_state_id", "name", "description",
		"requires_comment", "is_active", "created_at", "updated_at",
		"from_state_name", "to_state_name", "to_state_color",
	}).AddRow(int64(10), int64(7), int64(1), int64(2), "Contact", "", false, true, now, now, "New", "Contacted", "#0d6efd")

	mock.ExpectQuery(regexp.QuoteMeta("WHERE t.from_state_id = ? AND t.is_active = ?")).
		WithArgs(int64(1), true).
		WillReturnRows(rows)

	got, err := s.Transitions().ListActiveFrom(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Contacted", got[0].ToStateName)
	assert.Equal(t, "#0d6efd", got[0].ToStateColor)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionRepository_FindActiveNotFound(t *testing.T) {
	s, mock := newMockStore(t, "mysql")

	mock.ExpectQuery(regexp.QuoteMeta("WHERE t.from_state_id = ? AND t.to_state_id = ? AND t.is_active = ?")).
		WithArgs(int64(1), int64(3), true).
		WillReturnError(sql.ErrNoRows)

	_, err := s.Transitions().FindActive(context.Background(), 1, 3)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionRepository_DeleteTouchingState(t *testing.T) {
	s, mock := newMockStore(t, "mysql")

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM desk_state_transitions WHERE from_state_id = ? OR to_state_id = ?")).
		WithArgs(int64(4), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.Transitions().DeleteTouchingState(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLeadRepository_GetForUpdateLocksRow(t *testing.T) {
	s, mock := newMockStore(t, "mysql")
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM leads WHERE id = ? FOR UPDATE")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "desk_id", "title", "owner_id", "desk_state_id", "created_at", "updated_at"}).
			AddRow(int64(5), int64(7), "ACME", int64(1), int64(2), now, now))

	l, err := s.Leads().GetForUpdate(context.Background(), 5)
	require.NoError(t, err)
	require.NotNil(t, l.DeskStateID)
	assert.Equal(t, int64(2), *l.DeskStateID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryRepository_ListForLeadNewestFirst(t *testing.T) {
	s, mock := newMockStore(t, "mysql")
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "lead_id", "from_state_id", "to_state_id", "user_id", "comment", "created_at",
		"from_state_name", "to_state_name", "user_name",
	}).
		AddRow(int64(2), int64(5), int64(2), int64(3), int64(1), "closed won", now, "Contacted", "Converted", "Admin").
		AddRow(int64(1), int64(5), nil, int64(2), int64(1), nil, now.Add(-time.Minute), "", "Contacted", "Admin")

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY h.created_at DESC, h.id DESC LIMIT ? OFFSET ?")).
		WithArgs(int64(5), 50, 0).
		WillReturnRows(rows)

	got, err := s.History().ListForLead(context.Background(), 5, 50, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "closed won", *got[0].Comment)
	assert.Nil(t, got[1].FromStateID)
	assert.Equal(t, "Admin", got[1].UserName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_GetByEmailNormalizes(t *testing.T) {
	s, mock := newMockStore(t, "mysql")

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email = ?")).
		WithArgs("admin@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "password_hash", "role_id", "created_at"}).
			AddRow(int64(1), "Admin", "admin@example.com", "hash", 10, time.Now()))

	u, err := s.Users().GetByEmail(context.Background(), "  Admin@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_WithinTxRollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t, "mysql")
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE leads SET desk_state_id = ?")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(tx Store) error {
		if err := tx.Leads().UpdateState(context.Background(), 5, 3, time.Now()); err != nil {
			return err
		}
		// вложенный вызов использует ту же транзакцию
		return tx.WithinTx(context.Background(), func(Store) error { return boom })
	})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewSQLStore_PanicsOnNil(t *testing.T) {
	assert.Panics(t, func() { NewSQLStore(nil) })
}
